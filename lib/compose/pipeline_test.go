package compose

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~rjarry/composerd/lib/bus"
	"git.sr.ht/~rjarry/composerd/models"
)

func boolPtr(b bool) *bool {
	return &b
}

// ready opens a composer with a sendable content.
func (h *harness) ready(t *testing.T) models.Handle {
	t.Helper()
	handle := h.open(t)
	for field, value := range map[string]string{
		"To":      "alice@example.com",
		"Subject": "minutes",
		"Body":    "see attached",
	} {
		require.NoError(t, h.pool.Input(handle, field, value))
	}
	return handle
}

func slow(o *Options) {
	o.AutosaveDelay = time.Hour
}

func TestSendWithoutRecipients(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, slow)
	handle := h.open(t)
	require.Equal(t, 1, h.pool.Len())

	err := h.pool.Send(context.Background(), handle, SendOptions{ConfirmEmptySubject: true})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal("To", verr.Field)

	failed := h.events.of(bus.TopicSendFailed)
	require.Len(t, failed, 1)
	assert.Equal(handle, failed[0].(*bus.SendFailed).Handle)
	assert.Equal(1, h.pool.Len())
	assert.Equal(Editing, h.session(t, handle).State())
	assert.Equal(0, h.tx.Sent())
	pauses, resumes := h.sync.counts()
	assert.Equal(1, pauses)
	assert.Equal(pauses, resumes)
}

func TestSendPreconditions(t *testing.T) {
	tests := []struct {
		name  string
		field string
		input [2]string
		opts  SendOptions
	}{
		{"empty subject", "Subject", [2]string{"Subject", ""}, SendOptions{}},
		{"past expiration", "Expiration", [2]string{"Expires-In", "-1h"}, SendOptions{}},
		{"expiration too far", "Expiration", [2]string{"Expires-In", "700h"}, SendOptions{}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert := assert.New(t)
			h := newHarness(t, slow)
			handle := h.ready(t)
			require.NoError(t, h.pool.Input(handle, test.input[0], test.input[1]))

			err := h.pool.Send(context.Background(), handle, test.opts)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(test.field, verr.Field)
			assert.Equal(Editing, h.session(t, handle).State())
			assert.Len(h.events.of(bus.TopicSendFailed), 1)
			assert.Empty(h.events.of(bus.TopicBusyChanged))
			pauses, _ := h.sync.counts()
			assert.Equal(0, pauses)
		})
	}
}

func TestSendEmptySubjectWarningDisabled(t *testing.T) {
	h := newHarness(t, slow, func(o *Options) { o.EmptySubjectWarning = false })
	handle := h.ready(t)
	require.NoError(t, h.pool.Input(handle, "Subject", ""))

	require.NoError(t, h.pool.Send(context.Background(), handle, SendOptions{}))
	assert.Equal(t, 1, h.tx.Sent())
}

func TestSendPendingUploads(t *testing.T) {
	h := newHarness(t, slow)
	handle := h.ready(t)
	h.pool.UploadStarted(handle)

	err := h.pool.Send(context.Background(), handle, SendOptions{})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Attachments", verr.Field)
	assert.Equal(t, Editing, h.session(t, handle).State())
	assert.Empty(t, h.events.of(bus.TopicBusyChanged))
	assert.Equal(t, 0, h.tx.Sent())
}

func TestSendKeyAttachmentFailure(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, slow)
	handle := h.ready(t)
	require.NoError(t, h.pool.Input(handle, "Encrypt", "true"))
	h.keys.attachErr = errors.New("key server unreachable")

	err := h.pool.Send(context.Background(), handle, SendOptions{})
	var terr *TransmissionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(KindEncryption, terr.Kind)

	s := h.session(t, handle)
	assert.Equal(Editing, s.State())
	assert.Nil(s.Content().Keys)
	assert.False(s.Content().Encrypting)
	assert.Equal(1, h.keys.detached)
	assert.Equal(0, h.tx.Sent())
	pauses, resumes := h.sync.counts()
	assert.Equal(1, pauses)
	assert.Equal(pauses, resumes)

	busy := h.events.of(bus.TopicBusyChanged)
	require.Len(t, busy, 2)
	assert.True(busy[0].(*bus.BusyChanged).Busy)
	assert.False(busy[1].(*bus.BusyChanged).Busy)
	assert.Len(h.events.of(bus.TopicSendFailed), 1)
}

func TestSendTransmissionFailure(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, slow)
	handle := h.ready(t)
	h.tx.err = errors.New("dial tcp: i/o timeout")

	err := h.pool.Send(context.Background(), handle, SendOptions{})
	var terr *TransmissionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(KindNetwork, terr.Kind)
	assert.Equal(Editing, h.session(t, handle).State())
	assert.Equal(1, h.keys.detached)

	// the failure is not retried, a new request is needed
	h.tx.err = nil
	time.Sleep(20 * time.Millisecond)
	assert.Equal(0, h.tx.Sent())
	require.NoError(t, h.pool.Send(context.Background(), handle, SendOptions{}))
	assert.Equal(1, h.tx.Sent())
}

func TestSendKeepsTypedErrors(t *testing.T) {
	h := newHarness(t, slow)
	handle := h.ready(t)
	h.tx.err = &TransmissionError{Kind: KindRecipient, Err: errors.New("550 no such user")}

	err := h.pool.Send(context.Background(), handle, SendOptions{})
	var terr *TransmissionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, KindRecipient, terr.Kind)
}

func TestSendAndClose(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, slow)
	handle := h.ready(t)

	require.NoError(t, h.pool.Send(context.Background(), handle, SendOptions{}))

	assert.Equal(1, h.tx.Sent())
	sent := h.tx.sent[0]
	assert.Equal("me@example.com", sent.From.Address)
	assert.Equal("minutes", sent.Subject)
	assert.Equal(0, h.pool.Len())
	assert.Equal(0, h.store.Calls())
	assert.Len(h.events.of(bus.TopicSendSucceeded), 1)
	assert.Len(h.events.of(bus.TopicSessionClosed), 1)
	assert.Empty(h.events.of(bus.TopicDeleteMessages))
	assert.Contains(h.notes.Successes(), "Message sent")
	pauses, resumes := h.sync.counts()
	assert.Equal(1, pauses)
	assert.Equal(1, resumes)
}

func TestSendAndKeepOpen(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, slow)
	handle := h.ready(t)
	require.NoError(t, h.pool.SaveNow(context.Background(), handle, false))
	s := h.session(t, handle)
	require.Equal(t, "srv-1", s.ID())

	err := h.pool.Send(context.Background(), handle, SendOptions{CloseOnSuccess: boolPtr(false)})
	require.NoError(t, err)

	assert.Equal(1, h.pool.Len())
	assert.Equal(Editing, s.State())
	assert.True(models.IsPlaceholderID(s.ID()))
	succeeded := h.events.of(bus.TopicSendSucceeded)
	require.Len(t, succeeded, 1)
	assert.Equal("srv-1", succeeded[0].(*bus.SendSucceeded).ID)
}

func TestSendRejectsDuplicate(t *testing.T) {
	h := newHarness(t, slow)
	handle := h.ready(t)
	h.tx.block = make(chan struct{})

	done := make(chan error)
	go func() {
		done <- h.pool.Send(context.Background(), handle, SendOptions{})
	}()
	s := h.session(t, handle)
	require.Eventually(t, func() bool { return s.State() == Sending },
		time.Second, time.Millisecond)

	err := h.pool.Send(context.Background(), handle, SendOptions{})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.ErrorContains(t, h.pool.Input(handle, "Body", "late edit"), "sending")

	close(h.tx.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.tx.Sent())
}

func TestSendOutsideRecipientNeedsPassword(t *testing.T) {
	h := newHarness(t, slow)
	h.keys.known = map[string]bool{"alice@example.com": true}
	handle := h.ready(t)
	require.NoError(t, h.pool.Input(handle, "Cc", "eve@elsewhere.org"))
	require.NoError(t, h.pool.Input(handle, "Encrypt", "true"))

	err := h.pool.Send(context.Background(), handle, SendOptions{})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Password", verr.Field)

	require.NoError(t, h.pool.Input(handle, "Password", "correct horse"))
	require.NoError(t, h.pool.Send(context.Background(), handle, SendOptions{}))
	assert.Equal(t, 1, h.tx.Sent())
}

func TestSendMissingAttachment(t *testing.T) {
	h := newHarness(t, slow)
	handle := h.ready(t)
	h.pool.UploadFinished(handle, &models.Attachment{
		Name: "gone.txt", Path: t.TempDir() + "/gone.txt",
	})

	err := h.pool.Send(context.Background(), handle, SendOptions{})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Attachments", verr.Field)
	assert.Equal(t, Editing, h.session(t, handle).State())
}

func TestSendCloseDuringTransmission(t *testing.T) {
	h := newHarness(t, slow)
	handle := h.ready(t)
	h.tx.block = make(chan struct{})

	done := make(chan error)
	go func() {
		done <- h.pool.Send(context.Background(), handle, SendOptions{})
	}()
	s := h.session(t, handle)
	require.Eventually(t, func() bool { return s.State() == Sending },
		time.Second, time.Millisecond)

	require.NoError(t, h.pool.Close(context.Background(), handle, CloseOptions{}))
	close(h.tx.block)

	require.NoError(t, <-done)
	assert.Equal(t, 1, h.tx.Sent())
	assert.Equal(t, 0, h.pool.Len())
	assert.Len(t, h.events.of(bus.TopicSessionClosed), 1)
	pauses, resumes := h.sync.counts()
	assert.Equal(t, pauses, resumes)
}

func TestSendCloseSaveFailureDuringTransmission(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t, slow)
	handle := h.ready(t)
	h.tx.block = make(chan struct{})

	done := make(chan error)
	go func() {
		done <- h.pool.Send(context.Background(), handle, SendOptions{})
	}()
	s := h.session(t, handle)
	require.Eventually(t, func() bool { return s.State() == Sending },
		time.Second, time.Millisecond)

	h.store.setErr(errors.New("disk full"))
	assert.Error(h.pool.Close(context.Background(), handle, CloseOptions{Save: true}))
	assert.Equal(Sending, s.State())

	var verr *ValidationError
	err := h.pool.Send(context.Background(), handle, SendOptions{})
	assert.ErrorAs(err, &verr)

	close(h.tx.block)
	require.NoError(t, <-done)
	assert.Equal(1, h.tx.Sent())
	assert.Equal(0, h.pool.Len())
}
