package compose

import (
	"fmt"

	"git.sr.ht/~rjarry/composerd/models"
)

// ValidationError reports invalid content or an unmet precondition. The
// session state is left untouched (or rolled back to Editing).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// CapacityError is returned when the composer limit is reached.
type CapacityError struct {
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("Maximum composer reached (%d)", e.Limit)
}

// TransientPersistenceError wraps a failed save. The next debounce cycle
// retries implicitly.
type TransientPersistenceError struct {
	Handle models.Handle
	Err    error
}

func (e *TransientPersistenceError) Error() string {
	return fmt.Sprintf("composer %d: save failed: %v", e.Handle, e.Err)
}

func (e *TransientPersistenceError) Unwrap() error {
	return e.Err
}

type TransmissionKind int

const (
	KindNetwork TransmissionKind = iota
	KindRecipient
	KindEncryption
)

func (k TransmissionKind) String() string {
	switch k {
	case KindRecipient:
		return "recipient"
	case KindEncryption:
		return "encryption"
	default:
		return "network"
	}
}

// TransmissionError is a send failure after the draft entered Sending.
type TransmissionError struct {
	Kind TransmissionKind
	Err  error
}

func (e *TransmissionError) Error() string {
	return fmt.Sprintf("send failed (%s): %v", e.Kind, e.Err)
}

func (e *TransmissionError) Unwrap() error {
	return e.Err
}

// ReconciliationConflict is raised when an external event targets a
// composer which is already gone. It is never shown to the user.
type ReconciliationConflict struct {
	Event string
	ID    string
}

func (e *ReconciliationConflict) Error() string {
	return fmt.Sprintf("%s: no open composer for %q", e.Event, e.ID)
}
