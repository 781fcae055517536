package compose

import (
	"context"
	"time"

	"git.sr.ht/~rjarry/composerd/lib/bus"
	"git.sr.ht/~rjarry/composerd/lib/log"
	"git.sr.ht/~rjarry/composerd/models"
)

// Touch (re)arms the debounced autosave of h. At most one timer is pending
// per composer: a newer input cancels the previous timer.
func (p *Pool) Touch(h models.Handle) {
	s, ok := p.Get(h)
	if !ok {
		return
	}
	delay := p.opts.AutosaveDelay
	if delay <= 0 {
		delay = DefaultOptions().AutosaveDelay
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suppressAutosave || s.state == Sending || s.state.Terminal() {
		return
	}
	s.cancelDeferred()
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer log.PanicHandler()
		s.mu.Lock()
		if s.deferred != timer {
			// cancelled or superseded after firing
			s.mu.Unlock()
			return
		}
		s.deferred = nil
		s.mu.Unlock()
		if err := p.save(context.Background(), s, PersistOptions{Autosave: true}); err != nil {
			p.logger.Debugf("composer %d: deferred autosave: %v", s.handle, err)
		}
	})
	s.deferred = timer
}

// SaveNow persists h immediately (hotkey, blur with change, attachment
// removal). A zero handle targets the focused composer.
func (p *Pool) SaveNow(ctx context.Context, h models.Handle, notify bool) error {
	var s *Session
	var ok bool
	if h == 0 {
		s, ok = p.Focused()
	} else {
		s, ok = p.Get(h)
	}
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.cancelDeferred()
	s.mu.Unlock()
	return p.save(ctx, s, PersistOptions{Autosave: true, Notify: notify})
}

// Blur saves h only when its content changed since the last save.
func (p *Pool) Blur(ctx context.Context, h models.Handle) error {
	s, ok := p.Get(h)
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.flags.CcBcc = false
	s.flags.AttachmentsOpen = false
	s.mu.Unlock()
	if !s.Dirty() {
		return nil
	}
	return p.SaveNow(ctx, h, false)
}

// save runs one autosave of s. It is skipped while a discard is being
// confirmed, while sending and once the composer is closing.
func (p *Pool) save(ctx context.Context, s *Session, opts PersistOptions) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.suppressAutosave || s.state == Sending || s.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	if err := s.transition(Autosaving); err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot := s.draft.Clone()
	s.mu.Unlock()

	saved, err := p.svc.Persister.Persist(ctx, snapshot, opts)

	if !p.contains(s) {
		// closed while saving
		return nil
	}

	s.mu.Lock()
	if s.state == Autosaving {
		s.state = Editing
	}
	if err != nil {
		s.mu.Unlock()
		perr := &TransientPersistenceError{Handle: s.handle, Err: err}
		p.logger.Warnf("%v", perr)
		p.svc.Notifier.Error("Draft could not be saved, it will be retried")
		p.bus.Publish(&bus.AutosaveFailed{Handle: s.handle, Err: perr})
		return perr
	}
	oldID := s.draft.ID
	if saved != nil {
		if saved.ID != "" {
			s.draft.ID = saved.ID
		}
		if saved.AddressID != "" {
			s.draft.AddressID = saved.AddressID
		}
		if s.draft.ConversationID == "" {
			s.draft.ConversationID = saved.ConversationID
		}
		if s.draft.MessageID == "" {
			s.draft.MessageID = saved.MessageID
		}
		if !saved.Time.IsZero() {
			s.draft.Time = saved.Time
		}
	}
	s.saved = fingerprintOf(snapshot)
	newID := s.draft.ID
	s.mu.Unlock()

	p.logger.Tracef("composer %d saved as %q", s.handle, newID)
	if newID != oldID {
		p.bus.Publish(&bus.IDChanged{Handle: s.handle, OldID: oldID, NewID: newID})
	}
	if opts.Notify {
		p.svc.Notifier.Success("Message saved")
	}
	return nil
}
