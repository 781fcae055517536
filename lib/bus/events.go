package bus

import (
	"net/url"

	"git.sr.ht/~rjarry/composerd/models"
)

type Topic string

// Inbound topics: triggers coming from the user or the mail store.
const (
	TopicComposeNew          Topic = "compose.new"
	TopicComposeMailto       Topic = "compose.mailto"
	TopicComposeLoad         Topic = "compose.load"
	TopicContentInput        Topic = "compose.input"
	TopicSaveRequested       Topic = "compose.save"
	TopicEditorBlur          Topic = "compose.blur"
	TopicSendRequested       Topic = "compose.send"
	TopicCloseRequested      Topic = "compose.close"
	TopicDiscardRequested    Topic = "compose.discard"
	TopicAttachmentUpload    Topic = "attachment.upload"
	TopicAttachmentRemoved   Topic = "attachment.removed"
	TopicConversationDeleted Topic = "remote.conversation-deleted"
	TopicActiveMessages      Topic = "remote.active-messages"
	TopicMessageRefresh      Topic = "remote.message-refresh"
	TopicNetworkStatus       Topic = "network.status"
)

// Outbound topics: published by the composer pool.
const (
	TopicSessionLoaded  Topic = "session.loaded"
	TopicSessionClosed  Topic = "session.closed"
	TopicSendFailed     Topic = "send.failed"
	TopicSendSucceeded  Topic = "send.succeeded"
	TopicBusyChanged    Topic = "session.busy-changed"
	TopicIDChanged      Topic = "session.id-changed"
	TopicAutosaveFailed Topic = "autosave.failed"
	TopicComposerActive Topic = "composer.active"
	TopicDeleteMessages Topic = "message.delete"
)

// Event is implemented by the pointer types of this file only.
type Event interface {
	Topic() Topic
	Seq() int64
	setSeq(seq int64)
}

// Reply is called once a command event was processed, in the manner of a
// worker action callback. It may be nil.
type Reply func(h models.Handle, err error)

// Base is embedded in every event.
type Base struct {
	seq int64
}

func (b *Base) Seq() int64 {
	return b.seq
}

func (b *Base) setSeq(seq int64) {
	b.seq = seq
}

// Inbound

type ComposeNew struct {
	Base
	Seed  models.Seed
	Reply Reply
}

type ComposeMailto struct {
	Base
	URL   *url.URL
	Reply Reply
}

type ComposeLoad struct {
	Base
	ID    string
	Reply Reply
}

// ContentInput is a keystroke level edit of one field.
type ContentInput struct {
	Base
	Handle models.Handle
	Field  string
	Value  string
}

// SaveRequested asks for an immediate save. A zero Handle targets the
// focused composer.
type SaveRequested struct {
	Base
	Handle models.Handle
	Notify bool
	Reply  Reply
}

type EditorBlur struct {
	Base
	Handle models.Handle
}

type SendRequested struct {
	Base
	Handle models.Handle
	// nil means the configured default
	CloseOnSuccess      *bool
	ConfirmEmptySubject bool
	Reply               Reply
}

type CloseRequested struct {
	Base
	Handle  models.Handle
	Discard bool
	Save    bool
	Reply   Reply
}

type DiscardRequested struct {
	Base
	Handle models.Handle
	Reply  Reply
}

type AttachmentUpload struct {
	Base
	Handle     models.Handle
	Attachment *models.Attachment
	// false when the upload starts, true when it finished
	Done bool
	Err  error
}

type AttachmentRemoved struct {
	Base
	Handle models.Handle
	Name   string
}

type ConversationDeleted struct {
	Base
	ID string
}

type ActiveMessages struct {
	Base
	Messages []models.RemoteMessage
}

type MessageRefresh struct {
	Base
	Messages []models.RemoteMessage
}

type NetworkStatus struct {
	Base
	Online bool
}

// Outbound

type SessionLoaded struct {
	Base
	Handle models.Handle
	ID     string
	Size   int
}

type SessionClosed struct {
	Base
	Handle models.Handle
	ID     string
	Size   int
}

type SendFailed struct {
	Base
	Handle models.Handle
	Err    error
}

type SendSucceeded struct {
	Base
	Handle models.Handle
	ID     string
	// the draft as transmitted
	Draft *models.Draft
}

type BusyChanged struct {
	Base
	Handle models.Handle
	Busy   bool
}

type IDChanged struct {
	Base
	Handle models.Handle
	OldID  string
	NewID  string
}

type AutosaveFailed struct {
	Base
	Handle models.Handle
	Err    error
}

// ComposerActive is republished on every pool size change.
type ComposerActive struct {
	Base
	Active bool
	Size   int
}

// DeleteMessages is the intent to delete persisted drafts.
type DeleteMessages struct {
	Base
	IDs []string
}

func (*ComposeNew) Topic() Topic          { return TopicComposeNew }
func (*ComposeMailto) Topic() Topic       { return TopicComposeMailto }
func (*ComposeLoad) Topic() Topic         { return TopicComposeLoad }
func (*ContentInput) Topic() Topic        { return TopicContentInput }
func (*SaveRequested) Topic() Topic       { return TopicSaveRequested }
func (*EditorBlur) Topic() Topic          { return TopicEditorBlur }
func (*SendRequested) Topic() Topic       { return TopicSendRequested }
func (*CloseRequested) Topic() Topic      { return TopicCloseRequested }
func (*DiscardRequested) Topic() Topic    { return TopicDiscardRequested }
func (*AttachmentUpload) Topic() Topic    { return TopicAttachmentUpload }
func (*AttachmentRemoved) Topic() Topic   { return TopicAttachmentRemoved }
func (*ConversationDeleted) Topic() Topic { return TopicConversationDeleted }
func (*ActiveMessages) Topic() Topic      { return TopicActiveMessages }
func (*MessageRefresh) Topic() Topic      { return TopicMessageRefresh }
func (*NetworkStatus) Topic() Topic       { return TopicNetworkStatus }
func (*SessionLoaded) Topic() Topic       { return TopicSessionLoaded }
func (*SessionClosed) Topic() Topic       { return TopicSessionClosed }
func (*SendFailed) Topic() Topic          { return TopicSendFailed }
func (*SendSucceeded) Topic() Topic       { return TopicSendSucceeded }
func (*BusyChanged) Topic() Topic         { return TopicBusyChanged }
func (*IDChanged) Topic() Topic           { return TopicIDChanged }
func (*AutosaveFailed) Topic() Topic      { return TopicAutosaveFailed }
func (*ComposerActive) Topic() Topic      { return TopicComposerActive }
func (*DeleteMessages) Topic() Topic      { return TopicDeleteMessages }
