package link

import (
	"fmt"
	"time"
)

// State is the lifecycle state of the board link.
type State int32

const (
	StateIdle State = iota
	StateRequesting
	StateOpening
	StateOpen
	StateReading
	StateClosing
	StateClosed
	StateError
	StateReconnecting
)

var allStates = []State{
	StateIdle, StateRequesting, StateOpening, StateOpen, StateReading,
	StateClosing, StateClosed, StateError, StateReconnecting,
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRequesting:
		return "Requesting"
	case StateOpening:
		return "Opening"
	case StateOpen:
		return "Open"
	case StateReading:
		return "Reading"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	case StateError:
		return "Error"
	case StateReconnecting:
		return "Reconnecting"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func stateNames() []string {
	names := make([]string, len(allStates))
	for i, s := range allStates {
		names[i] = s.String()
	}
	return names
}

// Status is a point-in-time view of the link published on every transition.
type Status struct {
	State    State     `json:"state"`
	Device   Device    `json:"device"`
	Epoch    uint64    `json:"epoch"`
	Attempts int       `json:"attempts"`
	Err      error     `json:"-"`
	Since    time.Time `json:"since"`
}

// Connected reports whether commands can be written.
func (s Status) Connected() bool {
	return s.State == StateOpen || s.State == StateReading
}

// Reason is the user-facing text for Err, empty when there is none.
func (s Status) Reason() string {
	if s.Err == nil {
		return ""
	}
	return Describe(s.Err)
}
