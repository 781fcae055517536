package hooks

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~rjarry/composerd/config"
	"git.sr.ht/~rjarry/composerd/lib/bus"
	"git.sr.ht/~rjarry/composerd/models"
)

func setHooks(t *testing.T, h config.HooksConfig) {
	t.Helper()
	saved := config.Hooks
	config.Hooks = h
	t.Cleanup(func() { config.Hooks = saved })
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestRunHookEmpty(t *testing.T) {
	setHooks(t, config.HooksConfig{})
	assert.NoError(t, RunHook(&Startup{Version: "1.0"}))
}

func TestRunHookEnv(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	setHooks(t, config.HooksConfig{
		Startup:  `echo "$COMPOSERD_VERSION" > ` + out,
		Shutdown: "exit 3",
	})

	require.NoError(t, RunHook(&Startup{Version: "0.9.1"}))
	assert.Equal(t, []string{"0.9.1"}, readLines(t, out))
	assert.Error(t, RunHook(&Shutdown{Lifetime: time.Minute}))
}

func TestRunHookStderr(t *testing.T) {
	setHooks(t, config.HooksConfig{Startup: "echo nope >&2; exit 1"})
	assert.ErrorContains(t, RunHook(&Startup{}), "nope")
}

func TestMailSentEnv(t *testing.T) {
	h := &MailSent{Account: "work", Draft: &models.Draft{
		From:      &mail.Address{Name: "Me", Address: "me@example.com"},
		To:        []*mail.Address{{Address: "alice@example.com"}},
		Subject:   "minutes",
		MessageID: "abc@example.com",
	}}
	env := h.Env()
	assert.Contains(t, env, "COMPOSERD_ACCOUNT=work")
	assert.Contains(t, env, "COMPOSERD_FROM_ADDRESS=me@example.com")
	assert.Contains(t, env, "COMPOSERD_SUBJECT=minutes")
	assert.Contains(t, env, "COMPOSERD_TO=<alice@example.com>")
	assert.Contains(t, env, "COMPOSERD_CC=")
	assert.Contains(t, env, "COMPOSERD_MESSAGE_ID=abc@example.com")
}

func TestSubscribe(t *testing.T) {
	dir := t.TempDir()
	sent := filepath.Join(dir, "sent")
	discarded := filepath.Join(dir, "discarded")
	setHooks(t, config.HooksConfig{
		MailSent:       `echo "$COMPOSERD_ACCOUNT $COMPOSERD_SUBJECT" >> ` + sent,
		DraftDiscarded: `echo "$COMPOSERD_FOLDER $COMPOSERD_DRAFT_ID" >> ` + discarded,
	})
	b := bus.New()
	unsubscribe := Subscribe(b, "work", "Drafts")

	b.Publish(&bus.SendSucceeded{Handle: 1, ID: "k1", Draft: &models.Draft{Subject: "hi"}})
	b.Publish(&bus.DeleteMessages{IDs: []string{models.NewPlaceholderID(), "k2"}})
	b.Wait()
	unsubscribe()

	assert.Equal(t, []string{"work hi"}, readLines(t, sent))
	assert.Equal(t, []string{"Drafts k2"}, readLines(t, discarded))

	b.Publish(&bus.DeleteMessages{IDs: []string{"k3"}})
	b.Wait()
	assert.Equal(t, []string{"Drafts k2"}, readLines(t, discarded))
}
