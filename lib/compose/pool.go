package compose

import (
	"context"
	"sync"
	"time"

	"git.sr.ht/~rjarry/composerd/lib/bus"
	"git.sr.ht/~rjarry/composerd/lib/log"
	"git.sr.ht/~rjarry/composerd/models"
)

type Options struct {
	MaxOpenSessions int
	// single slot mode for constrained contexts
	Constrained         bool
	AutosaveDelay       time.Duration
	CloseOnSend         bool
	EmptySubjectWarning bool
	MaxExpiration       time.Duration
	// open composers maximized
	Maximized bool
	// persist the prepared draft as soon as it is opened
	SaveOnOpen bool
}

func DefaultOptions() Options {
	return Options{
		MaxOpenSessions:     10,
		AutosaveDelay:       3 * time.Second,
		CloseOnSend:         true,
		EmptySubjectWarning: true,
		MaxExpiration:       4 * 7 * 24 * time.Hour,
	}
}

type CloseOptions struct {
	Discard bool
	Save    bool
}

// Pool owns the ordered collection of open composers, most recent first.
// All mutations of the collection go through its methods.
type Pool struct {
	opts     Options
	svc      Services
	bus      *bus.Bus
	registry *Registry
	logger   log.Logger

	mu         sync.Mutex
	sessions   []*Session
	reserved   int
	loading    map[string]chan struct{}
	lastHandle models.Handle
	offline    bool

	unsubscribe []func()
}

func NewPool(b *bus.Bus, svc Services, opts Options) *Pool {
	if opts.MaxOpenSessions <= 0 {
		opts.MaxOpenSessions = DefaultOptions().MaxOpenSessions
	}
	if svc.Keys == nil {
		svc.Keys = nopKeys{}
	}
	if svc.Inline == nil {
		svc.Inline = nopInline{}
	}
	if svc.Notifier == nil {
		svc.Notifier = nopNotifier{}
	}
	p := &Pool{
		opts:    opts,
		svc:     svc,
		bus:     b,
		logger:  log.NewLogger("pool", 2),
		loading: make(map[string]chan struct{}),
	}
	p.registry = newRegistry(p)
	if p.svc.Sync == nil {
		p.svc.Sync = p.registry
	}
	return p
}

func (p *Pool) Registry() *Registry {
	return p.registry
}

func (p *Pool) limit() int {
	if p.opts.Constrained {
		return 1
	}
	return p.opts.MaxOpenSessions
}

// Len returns the number of open composers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Handles lists the open composers, most recent first.
func (p *Pool) Handles() []models.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	handles := make([]models.Handle, len(p.sessions))
	for i, s := range p.sessions {
		handles[i] = s.handle
	}
	return handles
}

func (p *Pool) Get(h models.Handle) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		if s.handle == h {
			return s, true
		}
	}
	return nil, false
}

func (p *Pool) contains(s *Session) bool {
	found, ok := p.Get(s.handle)
	return ok && found == s
}

// Locate finds the composer editing the message id.
func (p *Pool) Locate(id string) (models.Handle, bool) {
	if id == "" {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		if s.ID() == id {
			return s.handle, true
		}
	}
	return 0, false
}

// MessageIDs maps the id of every open draft to its Message-Id. Drafts
// which were never persisted have no Message-Id and are skipped.
func (p *Pool) MessageIDs() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make(map[string]string, len(p.sessions))
	for _, s := range p.sessions {
		s.mu.Lock()
		if s.draft.MessageID != "" {
			ids[s.draft.ID] = s.draft.MessageID
		}
		s.mu.Unlock()
	}
	return ids
}

// Focused returns the focused composer, if any.
func (p *Pool) Focused() (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		if s.Flags().Focused {
			return s, true
		}
	}
	return nil, false
}

// Focus marks h as the focused composer and unfocuses the others.
func (p *Pool) Focus(h models.Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	found := false
	for _, s := range p.sessions {
		s.mu.Lock()
		s.flags.Focused = s.handle == h
		if s.flags.Focused {
			s.flags.Minimized = false
			found = true
		}
		s.mu.Unlock()
	}
	return found
}

// SetOnline is fed by network status events. No composer may be opened
// while offline.
func (p *Pool) SetOnline(online bool) {
	p.mu.Lock()
	p.offline = !online
	p.mu.Unlock()
}

func (p *Pool) reserve() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions)+p.reserved >= p.limit() {
		return &CapacityError{Limit: p.limit()}
	}
	p.reserved++
	return nil
}

func (p *Pool) release() {
	p.mu.Lock()
	p.reserved--
	p.mu.Unlock()
}

// Open creates a composer from seed. Loading a message which is already
// open focuses the existing composer and returns its handle.
func (p *Pool) Open(ctx context.Context, seed models.Seed) (models.Handle, error) {
	if seed.Type == models.SeedLoad {
		h, ok, done := p.beginLoad(seed.ID)
		if ok {
			p.Focus(h)
			return h, nil
		}
		defer done()
	}

	if err := p.reserve(); err != nil {
		p.svc.Notifier.Error("Maximum composer reached")
		return 0, err
	}
	defer p.release()

	p.mu.Lock()
	offline := p.offline
	p.mu.Unlock()
	if offline {
		err := &ValidationError{Reason: "cannot compose while offline"}
		p.svc.Notifier.Error(err.Error())
		return 0, err
	}

	draft, err := p.svc.Preparer.GetMessage(ctx, seed)
	if err != nil {
		p.svc.Notifier.Error(err.Error())
		return 0, err
	}
	from, addressID := p.svc.From.Resolve(draft)
	if from == nil {
		err := &ValidationError{Field: "From", Reason: "no sender address available"}
		p.svc.Notifier.Error(err.Error())
		return 0, err
	}
	draft.From = from
	draft.AddressID = addressID
	if draft.ID == "" {
		draft.ID = models.NewPlaceholderID()
	}
	if draft.MIMEType == "" {
		draft.MIMEType = models.TextPlain
	}

	p.mu.Lock()
	p.lastHandle++
	s := newSession(p.lastHandle, draft)
	s.flags.Maximized = p.opts.Maximized
	s.flags.AttachmentsOpen = len(draft.Attachments) > draft.NumEmbedded()
	p.sessions = append([]*Session{s}, p.sessions...)
	size := len(p.sessions)
	p.mu.Unlock()

	p.logger.Debugf("composer %d opened (%s %q), %d open", s.handle, seed.Type, draft.ID, size)
	p.Focus(s.handle)
	p.bus.Publish(&bus.SessionLoaded{Handle: s.handle, ID: draft.ID, Size: size})
	p.publishActive(size)

	if p.opts.SaveOnOpen {
		if err := p.save(ctx, s, PersistOptions{}); err != nil {
			// nothing was saved, roll back
			p.logger.Warnf("composer %d: initial save failed: %v", s.handle, err)
			p.closeSession(s, CloseOptions{}, false)
			return 0, err
		}
	}
	return s.handle, nil
}

// beginLoad returns the handle of an already open composer for id. When
// none is open, it registers id as loading and returns a function to call
// once the composer is open or failed to open. A concurrent load of the
// same id waits for the first one.
func (p *Pool) beginLoad(id string) (models.Handle, bool, func()) {
	for {
		if h, ok := p.Locate(id); ok {
			return h, true, nil
		}
		p.mu.Lock()
		wait, busy := p.loading[id]
		if !busy {
			ch := make(chan struct{})
			p.loading[id] = ch
			p.mu.Unlock()
			return 0, false, func() {
				p.mu.Lock()
				delete(p.loading, id)
				p.mu.Unlock()
				close(ch)
			}
		}
		p.mu.Unlock()
		<-wait
	}
}

// Edit applies fn to the content of h. Any content mutation moves the
// composer to Editing and (re)arms the debounced autosave.
func (p *Pool) Edit(h models.Handle, fn func(d *models.Draft)) error {
	s, ok := p.Get(h)
	if !ok {
		return &ValidationError{Reason: "no such composer"}
	}
	s.mu.Lock()
	switch s.state {
	case Idle:
		s.state = Editing
	case Editing, Autosaving:
	default:
		state := s.state
		s.mu.Unlock()
		return &ValidationError{Reason: "composer is " + state.String()}
	}
	fn(s.draft)
	s.mu.Unlock()
	p.Touch(h)
	return nil
}

// SetFlags updates the UI-adjacent flags of h. It never changes the state.
func (p *Pool) SetFlags(h models.Handle, fn func(f *models.Flags)) bool {
	s, ok := p.Get(h)
	if !ok {
		return false
	}
	s.mu.Lock()
	fn(&s.flags)
	s.mu.Unlock()
	return true
}

// UploadStarted and UploadFinished track in-flight attachment uploads.
func (p *Pool) UploadStarted(h models.Handle) bool {
	s, ok := p.Get(h)
	if !ok {
		return false
	}
	s.mu.Lock()
	s.pendingUploads++
	s.mu.Unlock()
	return true
}

func (p *Pool) UploadFinished(h models.Handle, a *models.Attachment) bool {
	s, ok := p.Get(h)
	if !ok {
		return false
	}
	s.mu.Lock()
	if s.pendingUploads > 0 {
		s.pendingUploads--
	}
	if a != nil && !s.state.Terminal() {
		s.draft.Attachments = append(s.draft.Attachments, a)
		if s.state == Idle {
			s.state = Editing
		}
	}
	s.mu.Unlock()
	return true
}

// RemoveAttachment drops the named attachment and saves immediately unless
// the draft is plain text.
func (p *Pool) RemoveAttachment(ctx context.Context, h models.Handle, name string) error {
	var plain bool
	err := p.Edit(h, func(d *models.Draft) {
		kept := d.Attachments[:0]
		for _, a := range d.Attachments {
			if a.Name != name {
				kept = append(kept, a)
			}
		}
		d.Attachments = kept
		plain = d.IsPlainText()
	})
	if err != nil || plain {
		return err
	}
	return p.SaveNow(ctx, h, false)
}

// Close drives h to Closing (or Discarded) and removes it from the pool.
// With Save, the content is persisted exactly once first; a failed save
// keeps the composer open. With Discard, no save happens and a single
// delete intent is published. Closing an absent composer is a no-op.
func (p *Pool) Close(ctx context.Context, h models.Handle, opts CloseOptions) error {
	s, ok := p.Get(h)
	if !ok {
		return nil
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	previous := s.state
	s.cancelDeferred()
	if opts.Discard {
		s.state = Discarded
	} else {
		s.state = Closing
	}
	s.mu.Unlock()

	if opts.Discard {
		// an autosave already persisting may still replace the id
		s.saveMu.Lock()
		id := s.ID()
		s.saveMu.Unlock()
		p.bus.Publish(&bus.DeleteMessages{IDs: []string{id}})
	} else if opts.Save {
		if err := p.persistClosing(ctx, s); err != nil {
			s.mu.Lock()
			if s.state == Closing {
				switch {
				case s.sending:
					s.state = Sending
				case previous == Idle:
					s.state = Idle
				default:
					s.state = Editing
				}
			}
			s.mu.Unlock()
			p.svc.Notifier.Error(err.Error())
			return err
		}
	}

	p.closeSession(s, opts, false)
	return nil
}

func (p *Pool) persistClosing(ctx context.Context, s *Session) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	snapshot := s.draft.Clone()
	s.mu.Unlock()

	saved, err := p.svc.Persister.Persist(ctx, snapshot, PersistOptions{Autosave: true})
	if err != nil {
		return &TransientPersistenceError{Handle: s.handle, Err: err}
	}
	s.mu.Lock()
	s.draft.ID = saved.ID
	s.mu.Unlock()
	return nil
}

// closeSession removes s from the pool and publishes the new size. It is
// shared by user closes and force closes.
func (p *Pool) closeSession(s *Session, opts CloseOptions, force bool) bool {
	s.mu.Lock()
	s.cancelDeferred()
	if !s.state.Terminal() {
		s.state = Closing
	}
	id := s.draft.ID
	s.mu.Unlock()

	p.mu.Lock()
	removed := false
	for i, other := range p.sessions {
		if other == s {
			p.sessions = append(p.sessions[:i:i], p.sessions[i+1:]...)
			removed = true
			break
		}
	}
	size := len(p.sessions)
	p.mu.Unlock()

	if !removed {
		return false
	}

	s.mu.Lock()
	s.state = Removed
	s.suppressAutosave = false
	s.mu.Unlock()

	p.logger.Debugf("composer %d closed (discard=%v save=%v force=%v), %d open",
		s.handle, opts.Discard, opts.Save, force, size)
	p.bus.Publish(&bus.SessionClosed{Handle: s.handle, ID: id, Size: size})
	p.publishActive(size)
	return true
}

// ForceCloseByPredicate closes every composer matching pred without saving
// and without deleting the draft. It returns the number of closed
// composers.
func (p *Pool) ForceCloseByPredicate(pred func(s *Session) bool) int {
	p.mu.Lock()
	var matches []*Session
	for _, s := range p.sessions {
		if pred(s) {
			matches = append(matches, s)
		}
	}
	p.mu.Unlock()

	n := 0
	for _, s := range matches {
		if p.closeSession(s, CloseOptions{}, true) {
			n++
		}
	}
	return n
}

// BeginDiscard suppresses autosaves while the user confirms a discard.
func (p *Pool) BeginDiscard(h models.Handle) bool {
	s, ok := p.Get(h)
	if !ok {
		return false
	}
	s.mu.Lock()
	s.suppressAutosave = true
	s.mu.Unlock()
	return true
}

func (p *Pool) CancelDiscard(h models.Handle) {
	if s, ok := p.Get(h); ok {
		s.mu.Lock()
		s.suppressAutosave = false
		s.mu.Unlock()
	}
}

func (p *Pool) ConfirmDiscard(ctx context.Context, h models.Handle) error {
	if _, ok := p.Get(h); !ok {
		return nil
	}
	if err := p.Close(ctx, h, CloseOptions{Discard: true}); err != nil {
		p.CancelDiscard(h)
		return err
	}
	p.svc.Notifier.Success("Message discarded")
	return nil
}

// Discard is BeginDiscard immediately followed by ConfirmDiscard.
func (p *Pool) Discard(ctx context.Context, h models.Handle) error {
	if !p.BeginDiscard(h) {
		return &ValidationError{Reason: "no such composer"}
	}
	return p.ConfirmDiscard(ctx, h)
}

// Shutdown detaches the pool from the bus and cancels pending autosaves.
// Open composers stay listed in the state store for the next start.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	sessions := append([]*Session(nil), p.sessions...)
	p.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	for _, s := range sessions {
		s.mu.Lock()
		s.cancelDeferred()
		s.mu.Unlock()
	}
}

func (p *Pool) publishActive(size int) {
	p.bus.Publish(&bus.ComposerActive{Active: size > 0, Size: size})
}
