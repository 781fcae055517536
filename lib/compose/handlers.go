package compose

import (
	"context"

	"git.sr.ht/~rjarry/composerd/lib/bus"
	"git.sr.ht/~rjarry/composerd/models"
)

// Subscribe wires the pool to the inbound topics of its bus. Commands which
// wait on a collaborator run asynchronously, content input and remote
// events are applied in publish order. Shutdown detaches the pool.
func (p *Pool) Subscribe(ctx context.Context) {
	b := p.bus
	subs := []func(){
		b.SubscribeAsync(bus.TopicComposeNew, func(ev bus.Event) error {
			e := ev.(*bus.ComposeNew)
			h, err := p.Open(ctx, e.Seed)
			reply(e.Reply, h, err)
			return err
		}),
		b.SubscribeAsync(bus.TopicComposeMailto, func(ev bus.Event) error {
			e := ev.(*bus.ComposeMailto)
			h, err := p.Open(ctx, models.Seed{Type: models.SeedMailto, Mailto: e.URL})
			reply(e.Reply, h, err)
			return err
		}),
		b.SubscribeAsync(bus.TopicComposeLoad, func(ev bus.Event) error {
			e := ev.(*bus.ComposeLoad)
			h, err := p.Open(ctx, models.Seed{Type: models.SeedLoad, ID: e.ID})
			reply(e.Reply, h, err)
			return err
		}),
		b.Subscribe(bus.TopicContentInput, func(ev bus.Event) error {
			e := ev.(*bus.ContentInput)
			return p.Input(e.Handle, e.Field, e.Value)
		}),
		b.SubscribeAsync(bus.TopicSaveRequested, func(ev bus.Event) error {
			e := ev.(*bus.SaveRequested)
			err := p.SaveNow(ctx, e.Handle, e.Notify)
			reply(e.Reply, e.Handle, err)
			return err
		}),
		b.SubscribeAsync(bus.TopicEditorBlur, func(ev bus.Event) error {
			return p.Blur(ctx, ev.(*bus.EditorBlur).Handle)
		}),
		b.SubscribeAsync(bus.TopicSendRequested, func(ev bus.Event) error {
			e := ev.(*bus.SendRequested)
			err := p.Send(ctx, e.Handle, SendOptions{
				CloseOnSuccess:      e.CloseOnSuccess,
				ConfirmEmptySubject: e.ConfirmEmptySubject,
			})
			reply(e.Reply, e.Handle, err)
			return err
		}),
		b.SubscribeAsync(bus.TopicCloseRequested, func(ev bus.Event) error {
			e := ev.(*bus.CloseRequested)
			err := p.Close(ctx, e.Handle, CloseOptions{Discard: e.Discard, Save: e.Save})
			reply(e.Reply, e.Handle, err)
			return err
		}),
		b.SubscribeAsync(bus.TopicDiscardRequested, func(ev bus.Event) error {
			e := ev.(*bus.DiscardRequested)
			err := p.Discard(ctx, e.Handle)
			reply(e.Reply, e.Handle, err)
			return err
		}),
		b.Subscribe(bus.TopicAttachmentUpload, func(ev bus.Event) error {
			e := ev.(*bus.AttachmentUpload)
			if !e.Done {
				p.UploadStarted(e.Handle)
				return nil
			}
			if e.Err != nil {
				p.UploadFinished(e.Handle, nil)
				p.svc.Notifier.Error(e.Err.Error())
				return e.Err
			}
			if p.UploadFinished(e.Handle, e.Attachment) && e.Attachment != nil {
				p.Touch(e.Handle)
			}
			return nil
		}),
		b.SubscribeAsync(bus.TopicAttachmentRemoved, func(ev bus.Event) error {
			e := ev.(*bus.AttachmentRemoved)
			return p.RemoveAttachment(ctx, e.Handle, e.Name)
		}),
		b.Subscribe(bus.TopicNetworkStatus, func(ev bus.Event) error {
			p.SetOnline(ev.(*bus.NetworkStatus).Online)
			return nil
		}),
		b.Subscribe(bus.TopicConversationDeleted, p.registry.Handle),
		b.Subscribe(bus.TopicActiveMessages, p.registry.Handle),
		b.Subscribe(bus.TopicMessageRefresh, p.registry.Handle),
	}

	p.mu.Lock()
	p.unsubscribe = append(p.unsubscribe, subs...)
	p.mu.Unlock()
}

func reply(fn bus.Reply, h models.Handle, err error) {
	if fn != nil {
		fn(h, err)
	}
}
