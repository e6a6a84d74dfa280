package controller

// State is the lifecycle state of a controller session.  Transitions are
// driven only by operations on the session, never spontaneously.
type State int

const (
	// Disconnected sessions hold no device handle
	Disconnected State = iota

	// Connecting sessions are acquiring and initializing a handle
	Connecting

	// Connected sessions hold an idle handle
	Connected

	// Homing sessions have a homing cycle in flight
	Homing

	// Moving sessions have a motion in flight
	Moving

	// Error marks a session whose last operation failed; the handle, if
	// any, is still held and Stop or Disconnect recover from it
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Homing:
		return "homing"
	case Moving:
		return "moving"
	case Error:
		return "error"
	default:
		return "invalid"
	}
}

// MarshalText renders the state as its lowercase name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
