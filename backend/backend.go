// Package backend defines the boundary between capability-typed controllers
// and the device access layers that implement them.  A backend knows how to
// enumerate attached devices and open handles to them; it knows nothing about
// stages, configuration, or state machines.
//
// Exactly one backend drives a process at a time.  Selector encodes the
// fallback order: the primary driver API is preferred, the legacy command
// API is used only when the primary is absent from the host.
package backend

import (
	"errors"
	"fmt"
)

// MotorStatus is the raw status of a servo or brushless motor as the device
// reports it
type MotorStatus struct {
	Position float64
	Velocity float64
	Moving   bool
	Homing   bool
	Homed    bool
	Enabled  bool
	FwdLimit bool
	RevLimit bool
}

// Motor is an open handle to a servo or brushless motor device.  Calls are
// bounded in time by the underlying transport.
type Motor interface {
	Home() error
	MoveAbs(pos float64) error
	MoveRel(dist float64) error
	Stop() error
	GetPos() (float64, error)
	GetVelocity() (float64, error)
	SetVelocity(v float64) error
	GetAcceleration() (float64, error)
	SetAcceleration(a float64) error
	Enable() error
	Disable() error
	Identify() error
	Status() (MotorStatus, error)
	Close() error
}

// StageIdentifier reports the stage part number a device carries in its
// EEPROM.  Motor handles implement it when the backend can read stage
// definitions; legacy handles do not.
type StageIdentifier interface {
	StageName() (string, error)
}

// InertialStatus is the raw status of one channel of an inertial driver
type InertialStatus struct {
	StepCount int
	Moving    bool
	Enabled   bool
}

// DriveParams are the open loop drive settings of an inertial channel
type DriveParams struct {
	// StepRate is the drive rate in steps/s
	StepRate int `json:"step_rate"`

	// StepAccel is the drive acceleration in steps/s^2
	StepAccel int `json:"step_acceleration"`

	// MaxVoltage is the drive amplitude in volts
	MaxVoltage float64 `json:"max_voltage"`
}

// Inertial is an open handle to a multi-channel inertial (stick-slip) driver.
// All channels share the handle; channel numbers are 1-based.
type Inertial interface {
	Jog(channel, direction, steps int) error
	MoveToLimit(channel, direction int) error
	Stop(channel int) error
	StepCount(channel int) (int, error)
	ZeroCount(channel int) error
	Enable(channel int) error
	Disable(channel int) error
	DriveParams(channel int) (DriveParams, error)
	SetDriveParams(channel int, p DriveParams) error
	Identify(channel int) error
	Status(channel int) (InertialStatus, error)
	Close() error
}

// PiezoStatus is the raw status of a piezo voltage amplifier
type PiezoStatus struct {
	Voltage    float64
	Position   float64
	ClosedLoop bool
	Enabled    bool
}

// Piezo is an open handle to a piezo voltage amplifier.  Position setpoints
// only function when the device is in closed loop with a strain gauge.
type Piezo interface {
	SetVoltage(v float64) error
	GetVoltage() (float64, error)
	MaxVoltage() (float64, error)
	SetPosition(p float64) error
	GetPosition() (float64, error)
	SetClosedLoop(on bool) error
	GetClosedLoop() (bool, error)
	Zero() error
	Enable() error
	Disable() error
	Identify() error
	Status() (PiezoStatus, error)
	Close() error
}

// MotorOpener is implemented by backends that can drive servo and brushless
// motors
type MotorOpener interface {
	OpenMotor(serial string) (Motor, error)
}

// InertialOpener is implemented by backends that can drive inertial motors
type InertialOpener interface {
	OpenInertial(serial string) (Inertial, error)
}

// PiezoOpener is implemented by backends that can drive piezo amplifiers
type PiezoOpener interface {
	OpenPiezo(serial string) (Piezo, error)
}

// TypeSupporter is implemented by backends whose command set covers only
// some of the device families their openers nominally serve.  Supports
// reports whether the backend can drive the device the serial identifies;
// factories consult it so an unsupported family fails at creation rather
// than at connect.
type TypeSupporter interface {
	Supports(serial string) bool
}

// Backend enumerates attached devices.  Opening is expressed by the separate
// opener interfaces, which a backend implements only for the capabilities it
// actually has.
type Backend interface {
	// Name is a short stable identifier, e.g. "kinesis" or "apt"
	Name() string

	// Available reports whether this backend can function on this host.
	// It must be cheap; it is called during startup and discovery.
	Available() bool

	// Enumerate lists the serial numbers of every attached device
	Enumerate() ([]string, error)
}

// ErrNoBackend is returned by Selector.Select when neither backend is
// available on the host
var ErrNoBackend = errors.New("no control backend is available on this host")

// Selector holds the two mutually exclusive backends and picks between them
type Selector struct {
	Primary Backend
	Legacy  Backend
}

// Select returns the first available backend, primary before legacy
func (s Selector) Select() (Backend, error) {
	if s.Primary != nil && s.Primary.Available() {
		return s.Primary, nil
	}
	if s.Legacy != nil && s.Legacy.Available() {
		return s.Legacy, nil
	}
	return nil, ErrNoBackend
}

// Pick returns the backend with the given name without testing availability,
// for callers that were told explicitly which one to use
func (s Selector) Pick(name string) (Backend, error) {
	for _, b := range []Backend{s.Primary, s.Legacy} {
		if b != nil && b.Name() == name {
			return b, nil
		}
	}
	return nil, fmt.Errorf("no backend named %q", name)
}
