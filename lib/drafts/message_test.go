package drafts

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~rjarry/composerd/models"
)

func sample() *models.Draft {
	return &models.Draft{
		ConversationID: "c-42",
		AddressID:      "addr-1",
		MessageID:      "abc.123@example.com",
		From:           &mail.Address{Name: "Me", Address: "me@example.com"},
		To:             []*mail.Address{{Address: "alice@example.com"}},
		Cc:             []*mail.Address{{Name: "Bob", Address: "bob@example.com"}},
		Bcc:            []*mail.Address{{Address: "carol@example.com"}},
		Subject:        "Re: minutes",
		Body:           "see you tomorrow\n",
		MIMEType:       models.TextPlain,
		InReplyTo:      "orig@example.com",
		References:     []string{"orig@example.com"},
		Time:           time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC),
		Encrypt:        true,
		Password:       "hunter2",
		PasswordHint:   "usual",
		ExpiresIn:      48 * time.Hour,
	}
}

func TestRoundTripPlain(t *testing.T) {
	assert := assert.New(t)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sample(), true))
	assert.NotContains(buf.String(), "hunter2")

	d, err := Read(&buf)
	require.NoError(t, err)
	want := sample()
	assert.Equal(want.Subject, d.Subject)
	assert.Equal(want.Body, d.Body)
	assert.Equal(models.TextPlain, d.MIMEType)
	assert.Equal("me@example.com", d.From.Address)
	require.Len(t, d.To, 1)
	require.Len(t, d.Cc, 1)
	require.Len(t, d.Bcc, 1)
	assert.Equal("Bob", d.Cc[0].Name)
	assert.Equal(want.MessageID, d.MessageID)
	assert.Equal(want.InReplyTo, d.InReplyTo)
	assert.Equal(want.References, d.References)
	assert.True(want.Time.Equal(d.Time))
	assert.Equal(want.ConversationID, d.ConversationID)
	assert.Equal(want.AddressID, d.AddressID)
	assert.True(d.Encrypt)
	assert.False(d.Sign)
	assert.Equal(want.ExpiresIn, d.ExpiresIn)
	assert.Equal(want.PasswordHint, d.PasswordHint)
	assert.Empty(d.Password)
}

func TestOutgoingHeaderHidesBcc(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sample(), false))
	out := buf.String()
	assert.NotContains(t, out, "carol@example.com")
	assert.NotContains(t, out, "X-Composerd")
	assert.Contains(t, out, "alice@example.com")
}

func TestRoundTripAttachments(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("from disk"), 0o600))

	d := sample()
	d.MIMEType = models.TextHTML
	d.Body = `<p>hello <img src="cid:logo@local"></p>`
	d.Attachments = []*models.Attachment{
		{Name: "report.pdf", MIMEType: "application/pdf", Data: []byte("%PDF-1.4")},
		{Path: path},
		{
			Name: "logo.png", MIMEType: "image/png", ContentID: "logo@local",
			Inline: true, Data: []byte("\x89PNG"),
		},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, d, true))
	assert.True(strings.Contains(buf.String(), "multipart/mixed"))

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(models.TextHTML, got.MIMEType)
	assert.Equal(d.Body, got.Body)
	require.Len(t, got.Attachments, 3)

	byName := make(map[string]*models.Attachment)
	for _, a := range got.Attachments {
		byName[a.Name] = a
	}
	require.Contains(t, byName, "report.pdf")
	assert.Equal([]byte("%PDF-1.4"), byName["report.pdf"].Data)
	assert.False(byName["report.pdf"].Inline)
	require.Contains(t, byName, "notes.txt")
	assert.Equal("from disk", string(byName["notes.txt"].Data))
	require.Contains(t, byName, "logo.png")
	assert.True(byName["logo.png"].Inline)
	assert.Equal("logo@local", byName["logo.png"].ContentID)
}

func TestWriteMissingAttachment(t *testing.T) {
	d := sample()
	d.Attachments = []*models.Attachment{{Path: filepath.Join(t.TempDir(), "gone")}}
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, d, true))
}

func TestMessageIDOfStored(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sample(), true))
	assert.Equal(t, "abc.123@example.com", messageID(buf.Bytes()))
	assert.Empty(t, messageID([]byte("garbage")))
}

func TestNewMessageID(t *testing.T) {
	id, err := NewMessageID(&mail.Address{Address: "me@example.com"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(id, "@example.com"))

	_, err = NewMessageID(&mail.Address{Address: "nodomain"})
	assert.Error(t, err)

	id, err = NewMessageID(nil)
	require.NoError(t, err)
	assert.Contains(t, id, "@")
}
