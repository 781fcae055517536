package drafts

import (
	"bytes"
	"context"
	"time"

	"github.com/miolini/datacounter"
	"github.com/pkg/errors"

	"git.sr.ht/~rjarry/composerd/lib/bus"
	"git.sr.ht/~rjarry/composerd/lib/compose"
	"git.sr.ht/~rjarry/composerd/lib/log"
	"git.sr.ht/~rjarry/composerd/models"
)

// Drafts keeps composer content in the postpone folder of a Backend. Every
// save stores a new copy and removes the previous one, so the draft
// identifier changes on each save.
type Drafts struct {
	backend Backend
	folder  string
	logger  log.Logger
}

func New(backend Backend, folder string) *Drafts {
	return &Drafts{
		backend: backend,
		folder:  folder,
		logger:  log.NewLogger("drafts", 2),
	}
}

func (d *Drafts) Backend() Backend {
	return d.backend
}

func (d *Drafts) Folder() string {
	return d.folder
}

// Persist implements compose.Persister.
func (d *Drafts) Persist(
	ctx context.Context, draft *models.Draft, opts compose.PersistOptions,
) (*models.Draft, error) {
	stored := draft.Clone()
	stored.Keys = nil
	stored.Encrypting = false
	if stored.MessageID == "" {
		id, err := NewMessageID(stored.From)
		if err != nil {
			return nil, err
		}
		stored.MessageID = id
	}
	if stored.Time.IsZero() {
		stored.Time = time.Now()
	}

	var buf bytes.Buffer
	ctr := datacounter.NewWriterCounter(&buf)
	if err := Write(ctr, stored, true); err != nil {
		return nil, errors.Wrap(err, "Write")
	}
	key, err := d.backend.Append(ctx, d.folder, buf.Bytes(),
		[]Flag{FlagSeen, FlagDraft})
	if err != nil {
		return nil, errors.Wrap(err, "Append")
	}
	d.logger.Debugf("saved %q as %s/%s (%d bytes, autosave=%v)",
		stored.Subject, d.folder, key, ctr.Count(), opts.Autosave)

	if !models.IsPlaceholderID(draft.ID) && draft.ID != key {
		if err := d.backend.Remove(ctx, d.folder, []string{draft.ID}); err != nil {
			d.logger.Warnf("previous copy %s not removed: %v", draft.ID, err)
		}
	}
	stored.ID = key
	return stored, nil
}

// Load reads the draft stored under id.
func (d *Drafts) Load(ctx context.Context, id string) (*models.Draft, error) {
	r, err := d.backend.Open(ctx, d.folder, id)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	draft, err := Read(r)
	if err != nil {
		return nil, errors.Wrapf(err, "Read(%s)", id)
	}
	draft.ID = id
	return draft, nil
}

// Delete removes stored drafts. Placeholder identifiers are skipped.
func (d *Drafts) Delete(ctx context.Context, ids []string) error {
	var keys []string
	for _, id := range ids {
		if !models.IsPlaceholderID(id) {
			keys = append(keys, id)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return d.backend.Remove(ctx, d.folder, keys)
}

// Subscribe deletes drafts on deletion intents and once they were sent.
func (d *Drafts) Subscribe(b *bus.Bus) func() {
	unsubDelete := b.SubscribeAsync(bus.TopicDeleteMessages, func(ev bus.Event) error {
		return d.Delete(context.Background(), ev.(*bus.DeleteMessages).IDs)
	})
	unsubSent := b.SubscribeAsync(bus.TopicSendSucceeded, func(ev bus.Event) error {
		return d.Delete(context.Background(), []string{ev.(*bus.SendSucceeded).ID})
	})
	return func() {
		unsubDelete()
		unsubSent()
	}
}
