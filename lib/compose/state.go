package compose

import "fmt"

type State int

const (
	Idle State = iota
	Editing
	Autosaving
	Sending
	Closing
	Discarded
	// no longer in the pool
	Removed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Editing:
		return "editing"
	case Autosaving:
		return "autosaving"
	case Sending:
		return "sending"
	case Closing:
		return "closing"
	case Discarded:
		return "discarded"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether the session is on its way out of the pool.
func (s State) Terminal() bool {
	return s == Closing || s == Discarded || s == Removed
}

var transitions = map[State][]State{
	Idle:       {Editing, Autosaving, Sending, Closing, Discarded},
	Editing:    {Editing, Autosaving, Sending, Closing, Discarded},
	Autosaving: {Editing, Closing, Discarded},
	Sending:    {Editing, Closing, Discarded},
	Closing:    {Removed},
	Discarded:  {Removed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type transitionError struct {
	from, to State
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.from, e.to)
}
