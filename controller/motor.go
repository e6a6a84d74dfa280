package controller

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/bdube/stagehand/backend"
	"github.com/bdube/stagehand/registry"
)

var errNotConnected = errors.New("not connected")

// Motor is a session on a single axis servo or brushless motor controller
type Motor struct {
	session
	dev backend.Motor
}

var _ Controller = (*Motor)(nil)

// NewMotor creates a disconnected motor session.  Motors are single channel
// devices, so the channel is always 1.
func NewMotor(b backend.Backend, a *Arena, serial string, dt registry.DeviceType) *Motor {
	return &Motor{session: newSession(b, a, serial, 1, dt)}
}

// Connect acquires the device handle, initializing the hardware through the
// backend.  Connecting an already connected session is a no-op.
func (m *Motor) Connect() error {
	if m.dev != nil {
		return nil
	}
	m.setState(Connecting)
	op, ok := m.backend.(backend.MotorOpener)
	if !ok {
		m.setState(Error)
		return ConfigurationError{Msg: fmt.Sprintf("backend %s cannot drive %s", m.backend.Name(), m.dt.ID)}
	}
	dev, err := m.arena.acquire(m.key(), func() (io.Closer, error) {
		return op.OpenMotor(m.serial)
	})
	if err != nil {
		m.setState(Error)
		return ConnectionError{Serial: m.serial, Err: err}
	}
	m.dev = dev.(backend.Motor)
	m.setState(Connected)
	return nil
}

// Disconnect releases the device handle.  Errors during teardown are logged
// and swallowed; calling Disconnect repeatedly or while disconnected is
// harmless.
func (m *Motor) Disconnect() {
	if m.dev == nil && m.State() == Disconnected {
		return
	}
	if m.dev != nil {
		if err := m.arena.release(m.key()); err != nil {
			log.Printf("%s: teardown: %v", m.serial, err)
		}
		m.dev = nil
	}
	m.setState(Disconnected)
}

// device returns the open handle or a ConnectionError naming the operation
func (m *Motor) device(op string) (backend.Motor, error) {
	if m.dev == nil {
		return nil, ConnectionError{Serial: m.serial, Err: fmt.Errorf("%s: %w", op, errNotConnected)}
	}
	return m.dev, nil
}

// Home runs the homing cycle.  Models without homing return ErrUnsupported.
func (m *Motor) Home(wait bool, timeout time.Duration) error {
	if !m.dt.Homes {
		return ErrUnsupported{Kind: m.dt.ID, Op: "home"}
	}
	dev, err := m.device("home")
	if err != nil {
		return err
	}
	if err := dev.Home(); err != nil {
		m.setState(Error)
		return MovementError{Serial: m.serial, Op: "home", Err: err}
	}
	m.setState(Homing)
	if !wait {
		return nil
	}
	return m.waitSettled("home", timeout, func() (bool, error) {
		st, err := dev.Status()
		if err != nil {
			return false, err
		}
		return st.Homing || st.Moving, nil
	})
}

// MoveAbs moves to pos in stage units
func (m *Motor) MoveAbs(pos float64, wait bool, timeout time.Duration) error {
	dev, err := m.device("move absolute")
	if err != nil {
		return err
	}
	if err := dev.MoveAbs(pos); err != nil {
		m.setState(Error)
		return MovementError{Serial: m.serial, Op: "move absolute", Err: err}
	}
	return m.finishMove("move absolute", dev, wait, timeout)
}

// MoveRel moves by dist in stage units
func (m *Motor) MoveRel(dist float64, wait bool, timeout time.Duration) error {
	dev, err := m.device("move relative")
	if err != nil {
		return err
	}
	if err := dev.MoveRel(dist); err != nil {
		m.setState(Error)
		return MovementError{Serial: m.serial, Op: "move relative", Err: err}
	}
	return m.finishMove("move relative", dev, wait, timeout)
}

func (m *Motor) finishMove(op string, dev backend.Motor, wait bool, timeout time.Duration) error {
	m.setState(Moving)
	if !wait {
		return nil
	}
	return m.waitSettled(op, timeout, func() (bool, error) {
		st, err := dev.Status()
		if err != nil {
			return false, err
		}
		return st.Moving, nil
	})
}

// Jog moves one default jog step in the given direction, +1 or -1.  The jog
// distance comes from the bound stage, falling back to one stage unit.
func (m *Motor) Jog(direction int, wait bool, timeout time.Duration) error {
	step := 1.0
	if m.hasStage && m.stage.JogStep > 0 {
		step = m.stage.JogStep
	}
	if direction < 0 {
		step = -step
	}
	return m.MoveRel(step, wait, timeout)
}

// Stop halts motion immediately.  With no handle held there is nothing in
// flight and Stop does nothing.
func (m *Motor) Stop() error {
	if m.dev == nil {
		return nil
	}
	if err := m.dev.Stop(); err != nil {
		m.setState(Error)
		return CommunicationError{Serial: m.serial, Op: "stop", Err: err}
	}
	m.setState(Connected)
	return nil
}

// GetPos returns the position in stage units
func (m *Motor) GetPos() (float64, error) {
	dev, err := m.device("get position")
	if err != nil {
		return 0, err
	}
	pos, err := dev.GetPos()
	if err != nil {
		return 0, CommunicationError{Serial: m.serial, Op: "get position", Err: err}
	}
	return pos, nil
}

// SetVelocity sets the velocity setpoint in stage units per second
func (m *Motor) SetVelocity(v float64) error {
	dev, err := m.device("set velocity")
	if err != nil {
		return err
	}
	if err := dev.SetVelocity(v); err != nil {
		return CommunicationError{Serial: m.serial, Op: "set velocity", Err: err}
	}
	return nil
}

// GetVelocity returns the velocity setpoint in stage units per second
func (m *Motor) GetVelocity() (float64, error) {
	dev, err := m.device("get velocity")
	if err != nil {
		return 0, err
	}
	v, err := dev.GetVelocity()
	if err != nil {
		return 0, CommunicationError{Serial: m.serial, Op: "get velocity", Err: err}
	}
	return v, nil
}

// SetAcceleration sets the acceleration setpoint in stage units per second
// squared
func (m *Motor) SetAcceleration(a float64) error {
	dev, err := m.device("set acceleration")
	if err != nil {
		return err
	}
	if err := dev.SetAcceleration(a); err != nil {
		return CommunicationError{Serial: m.serial, Op: "set acceleration", Err: err}
	}
	return nil
}

// GetAcceleration returns the acceleration setpoint in stage units per
// second squared
func (m *Motor) GetAcceleration() (float64, error) {
	dev, err := m.device("get acceleration")
	if err != nil {
		return 0, err
	}
	a, err := dev.GetAcceleration()
	if err != nil {
		return 0, CommunicationError{Serial: m.serial, Op: "get acceleration", Err: err}
	}
	return a, nil
}

// Enable energizes the axis
func (m *Motor) Enable() error {
	dev, err := m.device("enable")
	if err != nil {
		return err
	}
	if err := dev.Enable(); err != nil {
		return CommunicationError{Serial: m.serial, Op: "enable", Err: err}
	}
	return nil
}

// Disable de-energizes the axis
func (m *Motor) Disable() error {
	dev, err := m.device("disable")
	if err != nil {
		return err
	}
	if err := dev.Disable(); err != nil {
		return CommunicationError{Serial: m.serial, Op: "disable", Err: err}
	}
	return nil
}

// GetEnabled reports whether the axis is energized
func (m *Motor) GetEnabled() (bool, error) {
	dev, err := m.device("get enabled")
	if err != nil {
		return false, err
	}
	st, err := dev.Status()
	if err != nil {
		return false, CommunicationError{Serial: m.serial, Op: "get enabled", Err: err}
	}
	return st.Enabled, nil
}

// Identify flashes the device's front panel indicator
func (m *Motor) Identify() error {
	dev, err := m.device("identify")
	if err != nil {
		return err
	}
	if err := dev.Identify(); err != nil {
		return CommunicationError{Serial: m.serial, Op: "identify", Err: err}
	}
	return nil
}

// IsHomed reports whether the axis has completed a homing cycle since power
// up.  Degraded to false if the status poll fails, matching GetStatus.
func (m *Motor) IsHomed() bool {
	if m.dev == nil {
		return false
	}
	st, err := m.dev.Status()
	if err != nil {
		return false
	}
	return st.Homed
}

// MotorStatus is the composite status served to clients
type MotorStatus struct {
	Connected    bool    `json:"connected"`
	State        State   `json:"state"`
	Position     float64 `json:"position"`
	Velocity     float64 `json:"velocity"`
	Moving       bool    `json:"is_moving"`
	Homing       bool    `json:"is_homing"`
	Homed        bool    `json:"is_homed"`
	Enabled      bool    `json:"is_enabled"`
	ForwardLimit bool    `json:"forward_limit"`
	ReverseLimit bool    `json:"reverse_limit"`
}

// GetStatus assembles the composite status.  A disconnected session yields
// Connected=false and nothing else; a failed status poll degrades to the
// connection flag and state rather than erroring.
func (m *Motor) GetStatus() MotorStatus {
	if m.dev == nil {
		return MotorStatus{Connected: false, State: m.State()}
	}
	st, err := m.dev.Status()
	if err != nil {
		return MotorStatus{Connected: true, State: m.State()}
	}
	return MotorStatus{
		Connected:    true,
		State:        m.State(),
		Position:     st.Position,
		Velocity:     st.Velocity,
		Moving:       st.Moving,
		Homing:       st.Homing,
		Homed:        st.Homed,
		Enabled:      st.Enabled,
		ForwardLimit: st.FwdLimit,
		ReverseLimit: st.RevLimit,
	}
}
