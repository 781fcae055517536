package compose

import (
	"context"
	"errors"

	"git.sr.ht/~rjarry/composerd/lib/bus"
	"git.sr.ht/~rjarry/composerd/models"
)

type SendOptions struct {
	// Close the composer once the message is sent. Nil uses the pool
	// configuration.
	CloseOnSuccess *bool
	// The user confirmed that an empty subject is intentional.
	ConfirmEmptySubject bool
}

// Send runs the send pipeline of h: preconditions, Sending, full
// validation, finalization, transmission. Any failure after the composer
// entered Sending is rolled back to Editing. External synchronization is
// paused during the send and resumed on every exit path.
func (p *Pool) Send(ctx context.Context, h models.Handle, opts SendOptions) error {
	s, ok := p.Get(h)
	if !ok {
		return &ValidationError{Reason: "no such composer"}
	}

	s.mu.Lock()
	inFlight := s.sending
	snapshot := s.draft.Clone()
	s.mu.Unlock()
	if inFlight {
		err := &ValidationError{Reason: "message is already being sent"}
		p.svc.Notifier.Error(err.Error())
		return err
	}
	if err := p.checkPreconditions(snapshot, opts); err != nil {
		p.sendFailed(s.handle, err)
		return err
	}

	// wait for an in-flight autosave to settle
	s.saveMu.Lock()
	present := p.contains(s)
	s.mu.Lock()
	if !present || s.state.Terminal() {
		s.mu.Unlock()
		s.saveMu.Unlock()
		return nil
	}
	if s.sending {
		s.mu.Unlock()
		s.saveMu.Unlock()
		err := &ValidationError{Reason: "message is already being sent"}
		p.svc.Notifier.Error(err.Error())
		return err
	}
	if s.pendingUploads > 0 {
		s.mu.Unlock()
		s.saveMu.Unlock()
		err := &ValidationError{
			Field: "Attachments", Reason: "wait for the attachments to finish uploading",
		}
		p.sendFailed(s.handle, err)
		return err
	}
	if err := s.transition(Sending); err != nil {
		s.mu.Unlock()
		s.saveMu.Unlock()
		p.sendFailed(s.handle, err)
		return err
	}
	s.sending = true
	s.cancelDeferred()
	s.draft.Encrypting = s.draft.Encrypt
	draft := s.draft.Clone()
	closeAfter := p.opts.CloseOnSend
	if opts.CloseOnSuccess != nil {
		closeAfter = *opts.CloseOnSuccess
	}
	s.mu.Unlock()
	s.saveMu.Unlock()

	p.logger.Debugf("composer %d: sending %q", s.handle, draft.ID)
	p.bus.Publish(&bus.BusyChanged{Handle: s.handle, Busy: true})

	p.svc.Sync.Pause()
	defer p.svc.Sync.Resume()

	if err := p.validateSending(s, draft); err != nil {
		return p.rollbackSend(ctx, s, draft, err)
	}

	if err := p.svc.Inline.Extract(draft); err != nil {
		return p.rollbackSend(ctx, s, draft, &ValidationError{Field: "Body", Reason: err.Error()})
	}
	if err := p.svc.Keys.Attach(ctx, draft); err != nil {
		return p.rollbackSend(ctx, s, draft, asTransmissionError(KindEncryption, err))
	}
	if !p.stillSending(s) {
		// closed while the keys were fetched
		p.detach(ctx, draft)
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
		return nil
	}

	if err := p.svc.Transmitter.Transmit(ctx, draft); err != nil {
		return p.rollbackSend(ctx, s, draft, asTransmissionError(KindNetwork, err))
	}

	p.sendSucceeded(s, draft, closeAfter)
	return nil
}

func (p *Pool) validateSending(s *Session, draft *models.Draft) error {
	s.mu.Lock()
	pending := s.pendingUploads
	s.mu.Unlock()
	if pending > 0 {
		return &ValidationError{
			Field: "Attachments", Reason: "wait for the attachments to finish uploading",
		}
	}
	return validateDraft(draft, p.svc.Keys)
}

func (p *Pool) stillSending(s *Session) bool {
	if !p.contains(s) {
		return false
	}
	return s.State() == Sending
}

func (p *Pool) detach(ctx context.Context, draft *models.Draft) {
	if err := p.svc.Keys.Detach(ctx, draft); err != nil {
		p.logger.Warnf("detach keys of %q: %v", draft.ID, err)
	}
}

func (p *Pool) rollbackSend(
	ctx context.Context, s *Session, draft *models.Draft, err error,
) error {
	p.detach(ctx, draft)
	s.mu.Lock()
	s.sending = false
	s.mu.Unlock()
	if p.contains(s) {
		s.mu.Lock()
		if s.state == Sending {
			s.state = Editing
		}
		s.draft.Encrypting = false
		s.draft.Keys = nil
		s.mu.Unlock()
	}
	p.logger.Warnf("composer %d: %v", s.handle, err)
	p.bus.Publish(&bus.BusyChanged{Handle: s.handle, Busy: false})
	p.sendFailed(s.handle, err)
	return err
}

func (p *Pool) sendFailed(h models.Handle, err error) {
	p.svc.Notifier.Error(err.Error())
	p.bus.Publish(&bus.SendFailed{Handle: h, Err: err})
}

// sendSucceeded records the acknowledged transmission. A composer kept open
// continues as a new draft so later saves do not touch the sent message.
func (p *Pool) sendSucceeded(s *Session, draft *models.Draft, closeAfter bool) {
	s.mu.Lock()
	s.sending = false
	s.mu.Unlock()
	present := p.contains(s)
	var oldID, newID string
	if present {
		s.mu.Lock()
		s.sentID = draft.ID
		s.draft.Encrypting = false
		s.draft.Keys = nil
		oldID = s.draft.ID
		if s.state == Sending {
			if closeAfter {
				s.state = Closing
			} else {
				s.state = Editing
				s.draft.ID = models.NewPlaceholderID()
				s.draft.MessageID = ""
				s.saved = fingerprintOf(s.draft)
			}
		}
		newID = s.draft.ID
		s.mu.Unlock()
	}

	p.logger.Infof("composer %d: message %q sent", s.handle, draft.ID)
	p.bus.Publish(&bus.BusyChanged{Handle: s.handle, Busy: false})
	p.bus.Publish(&bus.SendSucceeded{Handle: s.handle, ID: draft.ID, Draft: draft})
	p.svc.Notifier.Success("Message sent")

	if !present {
		return
	}
	if newID != oldID {
		p.bus.Publish(&bus.IDChanged{Handle: s.handle, OldID: oldID, NewID: newID})
	}
	if closeAfter {
		p.closeSession(s, CloseOptions{}, false)
	}
}

func asTransmissionError(kind TransmissionKind, err error) error {
	var terr *TransmissionError
	if errors.As(err, &terr) {
		return err
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return err
	}
	return &TransmissionError{Kind: kind, Err: err}
}
