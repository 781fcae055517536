package drafts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~rjarry/composerd/lib/bus"
	"git.sr.ht/~rjarry/composerd/lib/compose"
	"git.sr.ht/~rjarry/composerd/models"
)

func newDrafts(t *testing.T) (*Drafts, *Maildir) {
	t.Helper()
	md := NewMaildir(t.TempDir())
	return New(md, "Drafts"), md
}

func TestPersistNewDraft(t *testing.T) {
	assert := assert.New(t)
	d, md := newDrafts(t)
	draft := sample()
	draft.ID = models.NewPlaceholderID()
	draft.MessageID = ""
	draft.Time = time.Time{}

	stored, err := d.Persist(context.Background(), draft, compose.PersistOptions{})
	require.NoError(t, err)
	assert.False(models.IsPlaceholderID(stored.ID))
	assert.NotEmpty(stored.MessageID)
	assert.False(stored.Time.IsZero())
	assert.Empty(draft.MessageID, "input must not be modified")

	keys, err := md.Keys("Drafts")
	require.NoError(t, err)
	assert.Equal([]string{stored.ID}, keys)

	loaded, err := d.Load(context.Background(), stored.ID)
	require.NoError(t, err)
	assert.Equal(stored.ID, loaded.ID)
	assert.Equal(stored.MessageID, loaded.MessageID)
	assert.Equal(draft.Subject, loaded.Subject)
}

func TestPersistReplacesPreviousCopy(t *testing.T) {
	assert := assert.New(t)
	d, md := newDrafts(t)
	ctx := context.Background()

	first, err := d.Persist(ctx, sample(), compose.PersistOptions{Autosave: true})
	require.NoError(t, err)
	next := sample()
	next.ID = first.ID
	next.Subject = "updated"
	second, err := d.Persist(ctx, next, compose.PersistOptions{Autosave: true})
	require.NoError(t, err)

	assert.NotEqual(first.ID, second.ID)
	keys, err := md.Keys("Drafts")
	require.NoError(t, err)
	assert.Equal([]string{second.ID}, keys)

	_, err = d.Load(ctx, first.ID)
	assert.Error(err)
}

func TestDeleteSkipsPlaceholders(t *testing.T) {
	d, md := newDrafts(t)
	ctx := context.Background()
	stored, err := d.Persist(ctx, sample(), compose.PersistOptions{})
	require.NoError(t, err)

	require.NoError(t, d.Delete(ctx, []string{models.NewPlaceholderID(), stored.ID}))
	keys, err := md.Keys("Drafts")
	require.NoError(t, err)
	assert.Empty(t, keys)

	// already gone
	assert.NoError(t, d.Delete(ctx, []string{stored.ID}))
}

func TestSubscribeDeletes(t *testing.T) {
	d, md := newDrafts(t)
	ctx := context.Background()
	b := bus.New()
	unsubscribe := d.Subscribe(b)
	defer unsubscribe()

	discarded, err := d.Persist(ctx, sample(), compose.PersistOptions{})
	require.NoError(t, err)
	sent, err := d.Persist(ctx, sample(), compose.PersistOptions{})
	require.NoError(t, err)
	kept, err := d.Persist(ctx, sample(), compose.PersistOptions{})
	require.NoError(t, err)

	b.Publish(&bus.DeleteMessages{IDs: []string{discarded.ID}})
	b.Publish(&bus.SendSucceeded{ID: sent.ID})
	b.Wait()

	keys, err := md.Keys("Drafts")
	require.NoError(t, err)
	assert.Equal(t, []string{kept.ID}, keys)
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend("maildir://"+t.TempDir(), "work", nil)
	require.NoError(t, err)
	assert.IsType(t, &Maildir{}, b)

	_, err = NewBackend("jmap://example.com", "work", nil)
	assert.Error(t, err)
}

func TestMboxBackend(t *testing.T) {
	assert := assert.New(t)
	b, err := NewBackend("mbox://"+t.TempDir(), "work", nil)
	require.NoError(t, err)
	d := New(b, "Drafts")
	ctx := context.Background()

	first, err := d.Persist(ctx, sample(), compose.PersistOptions{})
	require.NoError(t, err)
	assert.Equal(sample().MessageID, first.ID)

	next := sample()
	next.ID = first.ID
	next.Subject = "second version"
	second, err := d.Persist(ctx, next, compose.PersistOptions{})
	require.NoError(t, err)
	assert.Equal(first.ID, second.ID)

	other := sample()
	other.MessageID = "other@example.com"
	_, err = d.Persist(ctx, other, compose.PersistOptions{})
	require.NoError(t, err)

	loaded, err := d.Load(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal("second version", loaded.Subject)

	require.NoError(t, d.Delete(ctx, []string{first.ID}))
	_, err = d.Load(ctx, first.ID)
	assert.Error(err)
	loaded, err = d.Load(ctx, "other@example.com")
	require.NoError(t, err)
	assert.Equal(sample().Subject, loaded.Subject)
}
