package controller

import (
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"github.com/bdube/stagehand/backend"
	"github.com/bdube/stagehand/registry"
	"github.com/bdube/stagehand/util"
)

// readback tolerances used to decide a waited piezo move has settled.
// Voltage output slews in microseconds; these mostly absorb readback noise.
const (
	voltageTolerance  = 0.05
	positionTolerance = 1.0
)

// Piezo is a session on a voltage output piezo driver.  Position commands
// require strain gauge feedback and the closed loop control mode.
type Piezo struct {
	session
	dev        backend.Piezo
	vmin, vmax float64
}

var _ Controller = (*Piezo)(nil)

// NewPiezo creates a disconnected piezo session.  The voltage range starts
// from the device type's catalog values and is replaced by the device
// reported maximum on connect.
func NewPiezo(b backend.Backend, a *Arena, serial string, dt registry.DeviceType) *Piezo {
	vmin, vmax := 0., 75.
	if dt.VoltageMax > 0 {
		vmin, vmax = dt.VoltageMin, dt.VoltageMax
	}
	return &Piezo{session: newSession(b, a, serial, 1, dt), vmin: vmin, vmax: vmax}
}

// BindStage attaches the stage descriptor and adopts its voltage range
func (p *Piezo) BindStage(st registry.Stage) {
	p.session.BindStage(st)
	if st.VoltageMax > 0 {
		p.vmin, p.vmax = st.VoltageMin, st.VoltageMax
	}
}

// VoltageRange returns the clamp limits applied to voltage commands
func (p *Piezo) VoltageRange() (min, max float64) {
	return p.vmin, p.vmax
}

// Connect acquires the device handle and reads back the hardware's output
// voltage limit, which replaces the catalog range.
func (p *Piezo) Connect() error {
	if p.dev != nil {
		return nil
	}
	p.setState(Connecting)
	op, ok := p.backend.(backend.PiezoOpener)
	if !ok {
		p.setState(Error)
		return ConfigurationError{Msg: fmt.Sprintf("backend %s cannot drive %s", p.backend.Name(), p.dt.ID)}
	}
	dev, err := p.arena.acquire(p.key(), func() (io.Closer, error) {
		return op.OpenPiezo(p.serial)
	})
	if err != nil {
		p.setState(Error)
		return ConnectionError{Serial: p.serial, Err: err}
	}
	p.dev = dev.(backend.Piezo)
	max, err := p.dev.MaxVoltage()
	if err != nil {
		p.arena.release(p.key())
		p.dev = nil
		p.setState(Error)
		return ConnectionError{Serial: p.serial, Err: fmt.Errorf("max voltage query: %w", err)}
	}
	p.vmin, p.vmax = 0, max
	p.setState(Connected)
	return nil
}

// Disconnect releases the device handle
func (p *Piezo) Disconnect() {
	if p.dev == nil && p.State() == Disconnected {
		return
	}
	if p.dev != nil {
		if err := p.arena.release(p.key()); err != nil {
			log.Printf("%s: teardown: %v", p.serial, err)
		}
		p.dev = nil
	}
	p.setState(Disconnected)
}

func (p *Piezo) device(op string) (backend.Piezo, error) {
	if p.dev == nil {
		return nil, ConnectionError{Serial: p.serial, Err: fmt.Errorf("%s: %w", op, errNotConnected)}
	}
	return p.dev, nil
}

// Home is not supported; piezo drivers have no homing cycle
func (p *Piezo) Home(wait bool, timeout time.Duration) error {
	return ErrUnsupported{Kind: p.dt.ID, Op: "home"}
}

// SetVoltage commands the output voltage, clamped to the voltage range
func (p *Piezo) SetVoltage(volts float64) error {
	dev, err := p.device("set voltage")
	if err != nil {
		return err
	}
	volts = util.Clamp(volts, p.vmin, p.vmax)
	if err := dev.SetVoltage(volts); err != nil {
		return CommunicationError{Serial: p.serial, Op: "set voltage", Err: err}
	}
	return nil
}

// GetVoltage returns the present output voltage
func (p *Piezo) GetVoltage() (float64, error) {
	dev, err := p.device("get voltage")
	if err != nil {
		return 0, err
	}
	v, err := dev.GetVoltage()
	if err != nil {
		return 0, CommunicationError{Serial: p.serial, Op: "get voltage", Err: err}
	}
	return v, nil
}

// MaxVoltage returns the hardware output limit, falling back to the cached
// range when the device cannot be asked
func (p *Piezo) MaxVoltage() float64 {
	if p.dev == nil {
		return p.vmax
	}
	max, err := p.dev.MaxVoltage()
	if err != nil {
		return p.vmax
	}
	return max
}

// SetControlMode switches between open loop voltage control and closed
// loop position control
func (p *Piezo) SetControlMode(closedLoop bool) error {
	dev, err := p.device("set control mode")
	if err != nil {
		return err
	}
	if err := dev.SetClosedLoop(closedLoop); err != nil {
		return CommunicationError{Serial: p.serial, Op: "set control mode", Err: err}
	}
	return nil
}

// GetControlMode reports whether the device is in closed loop control
func (p *Piezo) GetControlMode() (bool, error) {
	dev, err := p.device("get control mode")
	if err != nil {
		return false, err
	}
	closed, err := dev.GetClosedLoop()
	if err != nil {
		return false, CommunicationError{Serial: p.serial, Op: "get control mode", Err: err}
	}
	return closed, nil
}

// Zero runs the hardware zeroing routine, slewing the output to zero and
// rezeroing the strain gauge reference
func (p *Piezo) Zero() error {
	dev, err := p.device("zero")
	if err != nil {
		return err
	}
	if err := dev.Zero(); err != nil {
		return CommunicationError{Serial: p.serial, Op: "zero", Err: err}
	}
	return nil
}

// MoveAbs commands pos as a strain gauge position in closed loop or a
// voltage in open loop.  Waited moves poll the readback until it lands
// within tolerance of the command.
func (p *Piezo) MoveAbs(pos float64, wait bool, timeout time.Duration) error {
	dev, err := p.device("move absolute")
	if err != nil {
		return err
	}
	closed, err := p.GetControlMode()
	if err != nil {
		return err
	}
	target := pos
	tol := positionTolerance
	read := dev.GetPosition
	if closed {
		err = dev.SetPosition(pos)
	} else {
		target = util.Clamp(pos, p.vmin, p.vmax)
		tol = voltageTolerance
		read = dev.GetVoltage
		err = dev.SetVoltage(target)
	}
	if err != nil {
		p.setState(Error)
		return MovementError{Serial: p.serial, Op: "move absolute", Err: err}
	}
	p.setState(Moving)
	if !wait {
		return nil
	}
	return p.waitSettled("move absolute", timeout, func() (bool, error) {
		got, err := read()
		if err != nil {
			return false, err
		}
		return math.Abs(got-target) > tol, nil
	})
}

// MoveRel adds dist to the present readback, voltage in open loop or
// position in closed loop
func (p *Piezo) MoveRel(dist float64, wait bool, timeout time.Duration) error {
	current, err := p.GetPos()
	if err != nil {
		return err
	}
	return p.MoveAbs(current+dist, wait, timeout)
}

// Stop is a no-op for piezo outputs beyond settling the state machine;
// there is no motion profile to interrupt
func (p *Piezo) Stop() error {
	if p.dev == nil {
		return nil
	}
	p.setState(Connected)
	return nil
}

// GetPos returns the strain gauge position in closed loop or the output
// voltage in open loop
func (p *Piezo) GetPos() (float64, error) {
	dev, err := p.device("get position")
	if err != nil {
		return 0, err
	}
	closed, err := p.GetControlMode()
	if err != nil {
		return 0, err
	}
	var v float64
	if closed {
		v, err = dev.GetPosition()
	} else {
		v, err = dev.GetVoltage()
	}
	if err != nil {
		return 0, CommunicationError{Serial: p.serial, Op: "get position", Err: err}
	}
	return v, nil
}

// Enable energizes the output
func (p *Piezo) Enable() error {
	dev, err := p.device("enable")
	if err != nil {
		return err
	}
	if err := dev.Enable(); err != nil {
		return CommunicationError{Serial: p.serial, Op: "enable", Err: err}
	}
	return nil
}

// Disable de-energizes the output
func (p *Piezo) Disable() error {
	dev, err := p.device("disable")
	if err != nil {
		return err
	}
	if err := dev.Disable(); err != nil {
		return CommunicationError{Serial: p.serial, Op: "disable", Err: err}
	}
	return nil
}

// GetEnabled reports whether the output is energized
func (p *Piezo) GetEnabled() (bool, error) {
	dev, err := p.device("get enabled")
	if err != nil {
		return false, err
	}
	st, err := dev.Status()
	if err != nil {
		return false, CommunicationError{Serial: p.serial, Op: "get enabled", Err: err}
	}
	return st.Enabled, nil
}

// Identify flashes the device's front panel indicator
func (p *Piezo) Identify() error {
	dev, err := p.device("identify")
	if err != nil {
		return err
	}
	if err := dev.Identify(); err != nil {
		return CommunicationError{Serial: p.serial, Op: "identify", Err: err}
	}
	return nil
}

// PiezoStatus is the composite status served to clients
type PiezoStatus struct {
	Connected  bool    `json:"connected"`
	State      State   `json:"state"`
	Voltage    float64 `json:"voltage"`
	Position   float64 `json:"position"`
	VoltageMin float64 `json:"voltage_min"`
	VoltageMax float64 `json:"voltage_max"`
	ClosedLoop bool    `json:"closed_loop"`
	Enabled    bool    `json:"is_enabled"`
}

// GetStatus assembles the composite status, degrading rather than erroring
// when the device poll fails
func (p *Piezo) GetStatus() PiezoStatus {
	if p.dev == nil {
		return PiezoStatus{Connected: false, State: p.State(), VoltageMin: p.vmin, VoltageMax: p.vmax}
	}
	st, err := p.dev.Status()
	if err != nil {
		return PiezoStatus{Connected: true, State: p.State(), VoltageMin: p.vmin, VoltageMax: p.vmax}
	}
	return PiezoStatus{
		Connected:  true,
		State:      p.State(),
		Voltage:    st.Voltage,
		Position:   st.Position,
		VoltageMin: p.vmin,
		VoltageMax: p.vmax,
		ClosedLoop: st.ClosedLoop,
		Enabled:    st.Enabled,
	}
}
