package compose

import (
	"sync"

	"git.sr.ht/~rjarry/composerd/lib/bus"
	"git.sr.ht/~rjarry/composerd/lib/log"
	"git.sr.ht/~rjarry/composerd/models"
)

// Registry reconciles the pool with out of band signals from the mail
// store. It doubles as the pool's SyncControl: while paused, remote events
// are queued and replayed on the last Resume.
type Registry struct {
	pool   *Pool
	logger log.Logger

	mu     sync.Mutex
	paused int
	queue  []bus.Event
}

func newRegistry(p *Pool) *Registry {
	return &Registry{
		pool:   p,
		logger: log.NewLogger("registry", 2),
	}
}

func (r *Registry) Pause() {
	r.mu.Lock()
	r.paused++
	r.mu.Unlock()
}

func (r *Registry) Resume() {
	r.mu.Lock()
	if r.paused == 0 {
		r.mu.Unlock()
		r.logger.Warnf("resume without pause ignored")
		return
	}
	r.paused--
	var queued []bus.Event
	if r.paused == 0 {
		queued = r.queue
		r.queue = nil
	}
	r.mu.Unlock()

	for _, ev := range queued {
		r.apply(ev)
	}
}

func (r *Registry) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused > 0
}

// Handle is the bus handler of the remote.* topics.
func (r *Registry) Handle(ev bus.Event) error {
	r.mu.Lock()
	if r.paused > 0 {
		r.queue = append(r.queue, ev)
		r.mu.Unlock()
		r.logger.Tracef("sync paused, queued %s", ev.Topic())
		return nil
	}
	r.mu.Unlock()
	r.apply(ev)
	return nil
}

func (r *Registry) apply(ev bus.Event) {
	switch ev := ev.(type) {
	case *bus.ActiveMessages:
		r.ActiveMessages(ev.Messages)
	case *bus.ConversationDeleted:
		r.ConversationDeleted(ev.ID)
	case *bus.MessageRefresh:
		r.MessageRefresh(ev.Messages)
	default:
		r.logger.Debugf("unexpected event %s", ev.Topic())
	}
}

func (r *Registry) conflict(event, id string) {
	r.logger.Debugf("%v", &ReconciliationConflict{Event: event, ID: id})
}

// ActiveMessages force-closes the composers of messages which now appear
// in the sent folder. A send still in flight locally, or already
// acknowledged, wins over the remote echo. It returns the number of closed
// composers.
func (r *Registry) ActiveMessages(msgs []models.RemoteMessage) int {
	closed := 0
	for _, m := range msgs {
		if !m.Type.IsSent() {
			continue
		}
		s := r.lookup(m.ID)
		if s == nil {
			r.conflict("active-messages", m.ID)
			continue
		}
		s.mu.Lock()
		local := s.state == Sending || s.sentID == m.ID
		s.mu.Unlock()
		if local {
			r.logger.Debugf("composer %d: ignoring remote echo of %q", s.handle, m.ID)
			continue
		}
		n := r.pool.ForceCloseByPredicate(func(other *Session) bool {
			return other == s
		})
		if n > 0 {
			closed += n
			r.pool.svc.Notifier.Info("Email was already sent")
		}
	}
	return closed
}

// ConversationDeleted force-closes every composer of conversation id.
func (r *Registry) ConversationDeleted(id string) int {
	if id == "" {
		return 0
	}
	n := r.pool.ForceCloseByPredicate(func(s *Session) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.draft.ID == id || s.draft.ConversationID == id
	})
	if n == 0 {
		r.conflict("conversation-deleted", id)
	}
	return n
}

// MessageRefresh merges remote metadata corrections into the open
// composers without touching their state.
func (r *Registry) MessageRefresh(msgs []models.RemoteMessage) int {
	merged := 0
	for _, m := range msgs {
		s := r.lookup(m.ID)
		if s == nil {
			r.conflict("message-refresh", m.ID)
			continue
		}
		s.mu.Lock()
		if !m.Time.IsZero() {
			s.draft.Time = m.Time
		}
		if m.ConversationID != "" {
			s.draft.ConversationID = m.ConversationID
		}
		s.mu.Unlock()
		merged++
	}
	return merged
}

func (r *Registry) lookup(id string) *Session {
	h, ok := r.pool.Locate(id)
	if !ok {
		return nil
	}
	s, ok := r.pool.Get(h)
	if !ok {
		return nil
	}
	return s
}
