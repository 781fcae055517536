package hooks

import (
	"git.sr.ht/~rjarry/composerd/lib/bus"
	"git.sr.ht/~rjarry/composerd/lib/log"
	"git.sr.ht/~rjarry/composerd/models"
)

// Subscribe runs the mail-sent and draft-discarded hooks of account. Hooks
// run asynchronously and their failures are only logged.
func Subscribe(b *bus.Bus, account, draftsFolder string) func() {
	unsubSent := b.SubscribeAsync(bus.TopicSendSucceeded, func(ev bus.Event) error {
		e := ev.(*bus.SendSucceeded)
		if e.Draft == nil {
			return nil
		}
		if err := RunHook(&MailSent{Account: account, Draft: e.Draft}); err != nil {
			log.Errorf("mail-sent hook: %v", err)
		}
		return nil
	})
	unsubDiscard := b.SubscribeAsync(bus.TopicDeleteMessages, func(ev bus.Event) error {
		for _, id := range ev.(*bus.DeleteMessages).IDs {
			if models.IsPlaceholderID(id) {
				continue
			}
			err := RunHook(&DraftDiscarded{
				Account: account, Folder: draftsFolder, ID: id,
			})
			if err != nil {
				log.Errorf("draft-discarded hook: %v", err)
			}
		}
		return nil
	})
	return func() {
		unsubSent()
		unsubDiscard()
	}
}
