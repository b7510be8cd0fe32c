package call

import "errors"

// State is the pairwise call lifecycle. Exactly one State exists per local
// client; only the Manager mutates it.
type State int

const (
	StateIdle State = iota
	StateRingingOut
	StateRingingIn
	StateConnecting
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRingingOut:
		return "ringing-out"
	case StateRingingIn:
		return "ringing-in"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	}
	return "unknown"
}

var (
	// ErrInvalidTarget is returned when initiating a call to yourself or
	// to an empty id.
	ErrInvalidTarget = errors.New("call: invalid target")

	// ErrBusy is returned when initiating a call while not idle.
	ErrBusy = errors.New("call: already in a call")
)
