package compose

import (
	"context"

	"github.com/emersion/go-message/mail"

	"git.sr.ht/~rjarry/composerd/models"
)

// Preparer builds the initial content of a composer, applying reply or
// forward transforms to the seed message.
type Preparer interface {
	GetMessage(ctx context.Context, seed models.Seed) (*models.Draft, error)
}

// FromResolver picks the sender address of a draft.
type FromResolver interface {
	Resolve(draft *models.Draft) (addr *mail.Address, addressID string)
}

type PersistOptions struct {
	Notify   bool
	Autosave bool
}

// Persister stores drafts. Persist returns the stored draft which carries
// the store identifier. Transient failures must be retryable.
type Persister interface {
	Persist(ctx context.Context, draft *models.Draft, opts PersistOptions) (*models.Draft, error)
}

// Transmitter hands a finalized draft to the outgoing transport.
type Transmitter interface {
	Transmit(ctx context.Context, draft *models.Draft) error
}

// KeyAttacher fetches and embeds the recipient public keys needed for
// encryption. Detach must be safe to call even if Attach never completed.
type KeyAttacher interface {
	Attach(ctx context.Context, draft *models.Draft) error
	Detach(ctx context.Context, draft *models.Draft) error
}

// InlineExtractor embeds resources referenced by the body into the draft.
type InlineExtractor interface {
	Extract(draft *models.Draft) error
}

// SyncControl suspends the application of externally sourced updates.
// Calls are reference counted; Resume without a matching Pause is ignored.
type SyncControl interface {
	Pause()
	Resume()
}

// Notifier reports user visible messages. Nothing depends on the outcome.
type Notifier interface {
	Info(msg string)
	Success(msg string)
	Error(msg string)
}

// Services groups the collaborators of a Pool. Sync defaults to the pool's
// own Registry, Inline and Keys to no-ops.
type Services struct {
	Preparer    Preparer
	From        FromResolver
	Persister   Persister
	Transmitter Transmitter
	Keys        KeyAttacher
	Inline      InlineExtractor
	Sync        SyncControl
	Notifier    Notifier
}

type nopKeys struct{}

func (nopKeys) Attach(context.Context, *models.Draft) error { return nil }
func (nopKeys) Detach(context.Context, *models.Draft) error { return nil }

type nopInline struct{}

func (nopInline) Extract(*models.Draft) error { return nil }

type nopNotifier struct{}

func (nopNotifier) Info(string)    {}
func (nopNotifier) Success(string) {}
func (nopNotifier) Error(string)   {}

// KeyChecker is optionally implemented by a KeyAttacher able to tell in
// advance whether a recipient has a public key.
type KeyChecker interface {
	HasKey(addr string) bool
}
