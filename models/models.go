package models

import (
	"net/url"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

const (
	TextPlain = "text/plain"
	TextHTML  = "text/html"
)

const placeholderPrefix = "local-"

// NewPlaceholderID returns an identifier for a draft that was never
// persisted. It is replaced by the store identifier on first save.
func NewPlaceholderID() string {
	return placeholderPrefix + uuid.NewString()
}

func IsPlaceholderID(id string) bool {
	return id == "" || strings.HasPrefix(id, placeholderPrefix)
}

// An Attachment is a file part of a draft. Inline attachments carry a
// Content-ID referenced from the HTML body.
type Attachment struct {
	Name      string
	Path      string
	MIMEType  string
	ContentID string
	Inline    bool
	Data      []byte
}

// A Draft is the mutable payload of an open composer.
type Draft struct {
	ID             string
	ConversationID string
	AddressID      string
	// RFC 5322 Message-Id, stable across saves
	MessageID string

	From    *mail.Address
	To      []*mail.Address
	Cc      []*mail.Address
	Bcc     []*mail.Address
	Subject string

	Body        string
	MIMEType    string
	Attachments []*Attachment

	InReplyTo  string
	References []string
	Time       time.Time

	Encrypt      bool
	Sign         bool
	Password     string
	PasswordHint string
	// zero means no self destruction
	ExpiresIn time.Duration

	// Recipient keys fetched by the key attachment service. Nil when
	// detached.
	Keys       openpgp.EntityList
	Encrypting bool
}

func (d *Draft) IsPlainText() bool {
	return d.MIMEType == "" || d.MIMEType == TextPlain
}

// Recipients returns To, Cc and Bcc in that order.
func (d *Draft) Recipients() []*mail.Address {
	rcpts := make([]*mail.Address, 0, len(d.To)+len(d.Cc)+len(d.Bcc))
	rcpts = append(rcpts, d.To...)
	rcpts = append(rcpts, d.Cc...)
	rcpts = append(rcpts, d.Bcc...)
	return rcpts
}

// NumEmbedded counts the inline attachments.
func (d *Draft) NumEmbedded() int {
	n := 0
	for _, a := range d.Attachments {
		if a.Inline {
			n++
		}
	}
	return n
}

// Clone returns a deep enough copy for a snapshot: slices are duplicated,
// addresses and attachment data are shared since nothing mutates them in
// place.
func (d *Draft) Clone() *Draft {
	if d == nil {
		return nil
	}
	c := *d
	c.To = append([]*mail.Address(nil), d.To...)
	c.Cc = append([]*mail.Address(nil), d.Cc...)
	c.Bcc = append([]*mail.Address(nil), d.Bcc...)
	c.References = append([]string(nil), d.References...)
	if d.Keys != nil {
		c.Keys = append(openpgp.EntityList{}, d.Keys...)
	}
	c.Attachments = make([]*Attachment, len(d.Attachments))
	for i, a := range d.Attachments {
		cp := *a
		c.Attachments[i] = &cp
	}
	return &c
}

// UI-adjacent composer flags. They never gate state transitions.
type Flags struct {
	PanelOpen       bool
	PanelName       string
	Maximized       bool
	Minimized       bool
	Focused         bool
	AttachmentsOpen bool
	CcBcc           bool
}

type MessageType int

const (
	TypeInbox MessageType = iota
	TypeDraft
	TypeSent
	TypeInboxAndSent
)

func (t MessageType) IsSent() bool {
	return t == TypeSent || t == TypeInboxAndSent
}

// A RemoteMessage is the metadata of a message as seen by the mail store,
// independently of any open composer.
type RemoteMessage struct {
	ID             string
	ConversationID string
	Type           MessageType
	Time           time.Time
}

type SeedType string

const (
	SeedNew      SeedType = "new"
	SeedReply    SeedType = "reply"
	SeedReplyAll SeedType = "reply-all"
	SeedForward  SeedType = "forward"
	SeedMailto   SeedType = "mailto"
	SeedLoad     SeedType = "load"
)

// A Seed describes where the initial content of a composer comes from.
type Seed struct {
	Type SeedType
	// message replied to, forwarded or loaded
	ID     string
	Mailto *url.URL
	// fields to apply on top of the prepared content
	Defaults *Draft
}

// A Handle identifies an open composer for its whole life, independently of
// the message identifier which changes on first save.
type Handle int64
