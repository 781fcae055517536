package compose

import (
	"sync"
	"time"

	"git.sr.ht/~rjarry/composerd/models"
)

// A Session is one open composer. Its fields are only mutated through Pool
// operations; the accessors return copies.
type Session struct {
	handle models.Handle

	// serializes persistence calls of this session, never acquired while
	// holding mu
	saveMu sync.Mutex

	mu               sync.Mutex
	state            State
	draft            *models.Draft
	flags            models.Flags
	pendingUploads   int
	suppressAutosave bool
	deferred         *time.Timer
	// content fingerprint of the last successful save
	saved fingerprint
	// identifier acknowledged by a local transmission
	sentID string
	// set from Sending until the transmission settles, whatever the
	// state became in between
	sending bool
}

func newSession(h models.Handle, draft *models.Draft) *Session {
	return &Session{
		handle: h,
		state:  Idle,
		draft:  draft,
		saved:  fingerprintOf(draft),
	}
}

func (s *Session) Handle() models.Handle {
	return s.handle
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.ID
}

func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.ConversationID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Content returns a snapshot of the draft.
func (s *Session) Content() *models.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.Clone()
}

func (s *Session) Flags() models.Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

func (s *Session) PendingUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingUploads
}

func (s *Session) AutosaveSuppressed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressAutosave
}

// Dirty reports whether the content changed since the last save.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fingerprintOf(s.draft) != s.saved
}

// must be called with mu held
func (s *Session) transition(to State) error {
	if !canTransition(s.state, to) {
		return &transitionError{from: s.state, to: to}
	}
	s.state = to
	return nil
}

// must be called with mu held
func (s *Session) cancelDeferred() {
	if s.deferred != nil {
		s.deferred.Stop()
		s.deferred = nil
	}
}
