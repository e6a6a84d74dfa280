// Package controller implements capability-typed control sessions over the
// backend boundary.  A session pairs one device channel with a small state
// machine; movement and homing are synchronous when waited, with progress
// observed by polling the device at a fixed cadence.
//
// Sessions are not internally locked against concurrent mutation: callers
// must not run two mutating operations on the same session at once.  The
// exceptions are Stop, which may be called from any goroutine to interrupt
// a waited motion, and Disconnect, which is always permitted, idempotent,
// and never fails.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/bdube/stagehand/backend"
	"github.com/bdube/stagehand/registry"

	"golang.org/x/time/rate"
)

// DefaultTimeout bounds waited motion when the caller does not supply a
// timeout of their own
const DefaultTimeout = 60 * time.Second

// defaultPoll is the status polling cadence during waited motion
const defaultPoll = 50 * time.Millisecond

// Controller is the operation surface common to every capability type.
// Capability-specific operations (voltages, jogs, drive parameters) hang off
// the concrete types and are discovered by interface assertion.
type Controller interface {
	// Serial returns the device serial number
	Serial() string

	// Channel returns the 1-based channel this session drives
	Channel() int

	// DeviceType returns the registry descriptor for the device model
	DeviceType() registry.DeviceType

	// Stage returns the bound stage and whether one is bound
	Stage() (registry.Stage, bool)

	// State returns the current lifecycle state
	State() State

	// OnStateChange registers a single observer called synchronously on
	// every transition.  The callback must return promptly and must not
	// mutate the session.
	OnStateChange(fn func(State))

	// Connect acquires the device handle.  Cheap if already connected.
	Connect() error

	// Disconnect releases the handle.  Never fails, safe to repeat.
	Disconnect()

	// Home runs the homing cycle where the hardware supports one
	Home(wait bool, timeout time.Duration) error

	// MoveAbs moves to an absolute position in stage units
	MoveAbs(pos float64, wait bool, timeout time.Duration) error

	// MoveRel moves by a relative distance in stage units
	MoveRel(dist float64, wait bool, timeout time.Duration) error

	// Stop halts motion.  Safe from any state and any goroutine.
	Stop() error

	// GetPos returns the position in stage units
	GetPos() (float64, error)

	// Identify flashes the device's front panel indicator
	Identify() error
}

// session carries the identity, state machine and observer plumbing shared
// by all capability types
type session struct {
	serial   string
	channel  int
	dt       registry.DeviceType
	stage    registry.Stage
	hasStage bool
	backend  backend.Backend
	arena    *Arena
	poll     time.Duration

	mu       sync.Mutex
	state    State
	observer func(State)
}

func newSession(b backend.Backend, a *Arena, serial string, channel int, dt registry.DeviceType) session {
	return session{
		serial:  serial,
		channel: channel,
		dt:      dt,
		backend: b,
		arena:   a,
		poll:    defaultPoll,
	}
}

// Serial returns the device serial number
func (s *session) Serial() string { return s.serial }

// Channel returns the 1-based channel number
func (s *session) Channel() int { return s.channel }

// DeviceType returns the registry descriptor for the device model
func (s *session) DeviceType() registry.DeviceType { return s.dt }

// Stage returns the bound stage, if any
func (s *session) Stage() (registry.Stage, bool) { return s.stage, s.hasStage }

// BindStage attaches a stage descriptor to the session, fixing units,
// conversion factors and soft ranges
func (s *session) BindStage(st registry.Stage) {
	s.stage = st
	s.hasStage = true
}

// SetPoll overrides the status polling cadence used during waited motion
func (s *session) SetPoll(d time.Duration) {
	if d > 0 {
		s.poll = d
	}
}

// State returns the current lifecycle state
func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers the transition observer
func (s *session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

// setState records the new state and fires the observer inline.  The
// observer runs outside the lock so it may read State without deadlocking.
func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	cb := s.observer
	s.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// key identifies this session's physical device in the arena
func (s *session) key() string {
	return s.backend.Name() + ":" + s.serial
}

// waitSettled polls moving() at the session cadence until the device
// reports no motion, mapping a deadline to a timeout MovementError and a
// poll failure to a MovementError with a cause.  On success the session
// lands in Connected.
func (s *session) waitSettled(op string, timeout time.Duration, moving func() (bool, error)) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	lim := rate.NewLimiter(rate.Every(s.poll), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			s.setState(Error)
			return MovementError{Serial: s.serial, Op: op, Timeout: timeout}
		}
		m, err := moving()
		if err != nil {
			s.setState(Error)
			return MovementError{Serial: s.serial, Op: op, Err: err}
		}
		if !m {
			s.setState(Connected)
			return nil
		}
	}
}
