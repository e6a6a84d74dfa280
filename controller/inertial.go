package controller

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/bdube/stagehand/backend"
	"github.com/bdube/stagehand/registry"
)

// Inertial is a session on one channel of a piezo inertia motor controller.
// These actuators are open loop; position is an estimate derived from the
// step counter and the bound stage's step size.
type Inertial struct {
	session
	dev backend.Inertial
}

var _ Controller = (*Inertial)(nil)

// NewInertial creates a disconnected inertial session on the given channel.
// Channels are 1-indexed; the KIM101 has four.
func NewInertial(b backend.Backend, a *Arena, serial string, channel int, dt registry.DeviceType) *Inertial {
	return &Inertial{session: newSession(b, a, serial, channel, dt)}
}

// Connect acquires the device handle.  Sessions on other channels of the
// same controller share the handle; the arena refcounts it.
func (n *Inertial) Connect() error {
	if n.dev != nil {
		return nil
	}
	n.setState(Connecting)
	op, ok := n.backend.(backend.InertialOpener)
	if !ok {
		n.setState(Error)
		return ConfigurationError{Msg: fmt.Sprintf("backend %s cannot drive %s", n.backend.Name(), n.dt.ID)}
	}
	dev, err := n.arena.acquire(n.key(), func() (io.Closer, error) {
		return op.OpenInertial(n.serial)
	})
	if err != nil {
		n.setState(Error)
		return ConnectionError{Serial: n.serial, Err: err}
	}
	n.dev = dev.(backend.Inertial)
	n.setState(Connected)
	return nil
}

// Disconnect releases this channel's claim on the handle.  The handle
// closes only when the last channel releases it.
func (n *Inertial) Disconnect() {
	if n.dev == nil && n.State() == Disconnected {
		return
	}
	if n.dev != nil {
		if err := n.arena.release(n.key()); err != nil {
			log.Printf("%s: teardown: %v", n.serial, err)
		}
		n.dev = nil
	}
	n.setState(Disconnected)
}

func (n *Inertial) device(op string) (backend.Inertial, error) {
	if n.dev == nil {
		return nil, ConnectionError{Serial: n.serial, Err: fmt.Errorf("%s: %w", op, errNotConnected)}
	}
	return n.dev, nil
}

// Home is not supported; inertial motors have no reference switch.  Use
// MoveToLimit for an intentional limit seek.
func (n *Inertial) Home(wait bool, timeout time.Duration) error {
	return ErrUnsupported{Kind: n.dt.ID, Op: "home"}
}

// stepSize returns the distance covered by one step, from the bound stage
// or the 20nm catalog default
func (n *Inertial) stepSize() float64 {
	if n.hasStage && n.stage.StepSize > 0 {
		return n.stage.StepSize
	}
	return registry.DefaultStepSize
}

// MoveRel moves by dist.  With a stage bound dist is in stage units and is
// converted through the step size; the conversion floors, so the commanded
// distance is quantized to a whole number of steps.
func (n *Inertial) MoveRel(dist float64, wait bool, timeout time.Duration) error {
	steps := int(math.Abs(dist) / n.stepSize())
	if steps == 0 {
		return nil
	}
	direction := 1
	if dist < 0 {
		direction = -1
	}
	return n.Jog(direction, steps, wait, timeout)
}

// MoveAbs moves to the approximate absolute position pos, computed
// relative to the current step count
func (n *Inertial) MoveAbs(pos float64, wait bool, timeout time.Duration) error {
	current, err := n.GetPos()
	if err != nil {
		return err
	}
	return n.MoveRel(pos-current, wait, timeout)
}

// Jog issues steps in the given direction, +1 or -1
func (n *Inertial) Jog(direction int, steps int, wait bool, timeout time.Duration) error {
	dev, err := n.device("jog")
	if err != nil {
		return err
	}
	if err := dev.Jog(n.channel, direction, steps); err != nil {
		n.setState(Error)
		return MovementError{Serial: n.serial, Op: "jog", Err: err}
	}
	n.setState(Moving)
	if !wait {
		return nil
	}
	return n.waitSettled("jog", timeout, func() (bool, error) {
		st, err := dev.Status(n.channel)
		if err != nil {
			return false, err
		}
		return st.Moving, nil
	})
}

// MoveToLimit drives continuously toward the physical travel limit, +1
// forward or -1 reverse.  With wait=true it polls until motion stops or the
// window elapses, stops the drive, and zeroes the step counter; reaching
// the window end is success, not a timeout error.  With wait=false the
// seek is left running and the counter is not zeroed.
func (n *Inertial) MoveToLimit(direction int, wait bool, timeout time.Duration) error {
	dev, err := n.device("move to limit")
	if err != nil {
		return err
	}
	if err := dev.MoveToLimit(n.channel, direction); err != nil {
		n.setState(Error)
		return MovementError{Serial: n.serial, Op: "move to limit", Err: err}
	}
	n.setState(Moving)
	if !wait {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	limiter := rate.NewLimiter(rate.Every(n.poll), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		st, err := dev.Status(n.channel)
		if err != nil {
			n.setState(Error)
			return MovementError{Serial: n.serial, Op: "move to limit", Err: err}
		}
		if !st.Moving {
			break
		}
	}
	if err := dev.Stop(n.channel); err != nil {
		n.setState(Error)
		return CommunicationError{Serial: n.serial, Op: "stop", Err: err}
	}
	if err := dev.ZeroCount(n.channel); err != nil {
		n.setState(Error)
		return CommunicationError{Serial: n.serial, Op: "zero count", Err: err}
	}
	n.setState(Connected)
	return nil
}

// Stop halts motion on this channel
func (n *Inertial) Stop() error {
	if n.dev == nil {
		return nil
	}
	if err := n.dev.Stop(n.channel); err != nil {
		n.setState(Error)
		return CommunicationError{Serial: n.serial, Op: "stop", Err: err}
	}
	n.setState(Connected)
	return nil
}

// GetPos returns the estimated position, step count times step size with a
// stage bound, or the raw step count otherwise
func (n *Inertial) GetPos() (float64, error) {
	count, err := n.StepCount()
	if err != nil {
		return 0, err
	}
	if n.hasStage {
		return float64(count) * n.stepSize(), nil
	}
	return float64(count), nil
}

// StepCount returns the hardware step counter for this channel
func (n *Inertial) StepCount() (int, error) {
	dev, err := n.device("step count")
	if err != nil {
		return 0, err
	}
	count, err := dev.StepCount(n.channel)
	if err != nil {
		return 0, CommunicationError{Serial: n.serial, Op: "step count", Err: err}
	}
	return count, nil
}

// ZeroPosition declares the current position to be zero by resetting the
// step counter
func (n *Inertial) ZeroPosition() error {
	dev, err := n.device("zero position")
	if err != nil {
		return err
	}
	if err := dev.ZeroCount(n.channel); err != nil {
		return CommunicationError{Serial: n.serial, Op: "zero position", Err: err}
	}
	return nil
}

// DriveParams returns the channel's drive parameters
func (n *Inertial) DriveParams() (backend.DriveParams, error) {
	dev, err := n.device("drive params")
	if err != nil {
		return backend.DriveParams{}, err
	}
	dp, err := dev.DriveParams(n.channel)
	if err != nil {
		return backend.DriveParams{}, CommunicationError{Serial: n.serial, Op: "drive params", Err: err}
	}
	return dp, nil
}

// SetDriveParams writes the channel's drive parameters wholesale
func (n *Inertial) SetDriveParams(dp backend.DriveParams) error {
	dev, err := n.device("set drive params")
	if err != nil {
		return err
	}
	if err := dev.SetDriveParams(n.channel, dp); err != nil {
		return CommunicationError{Serial: n.serial, Op: "set drive params", Err: err}
	}
	return nil
}

// SetStepRate sets the step rate in steps per second, leaving the other
// drive parameters alone
func (n *Inertial) SetStepRate(stepsPerSec int) error {
	dp, err := n.DriveParams()
	if err != nil {
		return err
	}
	dp.StepRate = stepsPerSec
	return n.SetDriveParams(dp)
}

// SetStepAccel sets the step acceleration in steps per second squared,
// leaving the other drive parameters alone
func (n *Inertial) SetStepAccel(stepsPerSecSq int) error {
	dp, err := n.DriveParams()
	if err != nil {
		return err
	}
	dp.StepAccel = stepsPerSecSq
	return n.SetDriveParams(dp)
}

// Enable energizes this channel
func (n *Inertial) Enable() error {
	dev, err := n.device("enable")
	if err != nil {
		return err
	}
	if err := dev.Enable(n.channel); err != nil {
		return CommunicationError{Serial: n.serial, Op: "enable", Err: err}
	}
	return nil
}

// Disable de-energizes this channel
func (n *Inertial) Disable() error {
	dev, err := n.device("disable")
	if err != nil {
		return err
	}
	if err := dev.Disable(n.channel); err != nil {
		return CommunicationError{Serial: n.serial, Op: "disable", Err: err}
	}
	return nil
}

// GetEnabled reports whether this channel is energized
func (n *Inertial) GetEnabled() (bool, error) {
	dev, err := n.device("get enabled")
	if err != nil {
		return false, err
	}
	st, err := dev.Status(n.channel)
	if err != nil {
		return false, CommunicationError{Serial: n.serial, Op: "get enabled", Err: err}
	}
	return st.Enabled, nil
}

// Identify flashes the device's front panel indicator
func (n *Inertial) Identify() error {
	dev, err := n.device("identify")
	if err != nil {
		return err
	}
	if err := dev.Identify(n.channel); err != nil {
		return CommunicationError{Serial: n.serial, Op: "identify", Err: err}
	}
	return nil
}

// InertialStatus is the composite status served to clients
type InertialStatus struct {
	Connected bool    `json:"connected"`
	State     State   `json:"state"`
	Channel   int     `json:"channel"`
	StepCount int     `json:"step_count"`
	Position  float64 `json:"position"`
	Moving    bool    `json:"is_moving"`
	Enabled   bool    `json:"is_enabled"`
}

// GetStatus assembles the composite status, degrading rather than erroring
// when the channel poll fails
func (n *Inertial) GetStatus() InertialStatus {
	if n.dev == nil {
		return InertialStatus{Connected: false, State: n.State()}
	}
	st, err := n.dev.Status(n.channel)
	if err != nil {
		return InertialStatus{Connected: true, State: n.State(), Channel: n.channel}
	}
	pos := float64(st.StepCount)
	if n.hasStage {
		pos = float64(st.StepCount) * n.stepSize()
	}
	return InertialStatus{
		Connected: true,
		State:     n.State(),
		Channel:   n.channel,
		StepCount: st.StepCount,
		Position:  pos,
		Moving:    st.Moving,
		Enabled:   st.Enabled,
	}
}
