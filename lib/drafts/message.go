package drafts

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/pkg/errors"

	"git.sr.ht/~rjarry/composerd/models"
)

// Composer specific headers, only written in stored drafts.
const (
	headerConversation = "X-Composerd-Conversation"
	headerAddressID    = "X-Composerd-Address-Id"
	headerEncrypt      = "X-Composerd-Encrypt"
	headerSign         = "X-Composerd-Sign"
	headerExpiresIn    = "X-Composerd-Expires-In"
	headerPasswordHint = "X-Composerd-Password-Hint"
)

// Header builds the RFC 5322 header of d. Bcc and the composer options are
// only included when writing a stored draft.
func Header(d *models.Draft, draft bool) *mail.Header {
	h := &mail.Header{}
	if d.From != nil {
		h.SetAddressList("From", []*mail.Address{d.From})
	}
	if len(d.To) > 0 {
		h.SetAddressList("To", d.To)
	}
	if len(d.Cc) > 0 {
		h.SetAddressList("Cc", d.Cc)
	}
	if draft && len(d.Bcc) > 0 {
		h.SetAddressList("Bcc", d.Bcc)
	}
	h.SetSubject(d.Subject)
	date := d.Time
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	if d.MessageID != "" {
		h.SetMessageID(d.MessageID)
	}
	if d.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{d.InReplyTo})
	}
	if len(d.References) > 0 {
		h.SetMsgIDList("References", d.References)
	}
	if !draft {
		return h
	}
	if d.ConversationID != "" {
		h.SetText(headerConversation, d.ConversationID)
	}
	if d.AddressID != "" {
		h.SetText(headerAddressID, d.AddressID)
	}
	if d.Encrypt {
		h.SetText(headerEncrypt, "true")
	}
	if d.Sign {
		h.SetText(headerSign, "true")
	}
	if d.ExpiresIn != 0 {
		h.SetText(headerExpiresIn, d.ExpiresIn.String())
	}
	if d.PasswordHint != "" {
		h.SetText(headerPasswordHint, d.PasswordHint)
	}
	return h
}

// Write serializes d with its header. The password is never written.
func Write(w io.Writer, d *models.Draft, draft bool) error {
	return WriteBody(w, Header(d, draft), d)
}

// WriteBody writes the body and attachments of d under header h. Drafts
// without attachments are written as a single part.
func WriteBody(w io.Writer, h *mail.Header, d *models.Draft) error {
	mimeType := d.MIMEType
	if mimeType == "" {
		mimeType = models.TextPlain
	}
	if len(d.Attachments) == 0 {
		h.SetContentType(mimeType, map[string]string{"charset": "UTF-8"})
		bw, err := mail.CreateSingleInlineWriter(w, *h)
		if err != nil {
			return errors.Wrap(err, "CreateSingleInlineWriter")
		}
		defer bw.Close()
		if _, err := io.WriteString(bw, d.Body); err != nil {
			return errors.Wrap(err, "io.WriteString")
		}
		return nil
	}

	mw, err := mail.CreateWriter(w, *h)
	if err != nil {
		return errors.Wrap(err, "CreateWriter")
	}
	defer mw.Close()

	if err := writeMultipartBody(mw, mimeType, d.Body); err != nil {
		return errors.Wrap(err, "writeMultipartBody")
	}
	for _, a := range d.Attachments {
		if err := writeAttachment(mw, a); err != nil {
			return errors.Wrapf(err, "writeAttachment(%s)", a.Name)
		}
	}
	return nil
}

func writeMultipartBody(w *mail.Writer, mimeType, body string) error {
	bh := mail.InlineHeader{}
	bh.SetContentType(mimeType, map[string]string{"charset": "UTF-8"})

	bi, err := w.CreateInline()
	if err != nil {
		return errors.Wrap(err, "CreateInline")
	}
	defer bi.Close()

	bw, err := bi.CreatePart(bh)
	if err != nil {
		return errors.Wrap(err, "CreatePart")
	}
	defer bw.Close()
	if _, err := io.WriteString(bw, body); err != nil {
		return errors.Wrap(err, "io.WriteString")
	}
	return nil
}

func openAttachment(a *models.Attachment) (io.Reader, func(), error) {
	if a.Data != nil {
		return bytes.NewReader(a.Data), func() {}, nil
	}
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "os.Open")
	}
	return f, func() { f.Close() }, nil
}

func writeAttachment(w *mail.Writer, a *models.Attachment) error {
	r, done, err := openAttachment(a)
	if err != nil {
		return err
	}
	defer done()
	reader := bufio.NewReader(r)

	name := a.Name
	if name == "" {
		name = filepath.Base(a.Path)
	}
	mimeType := a.MIMEType
	var params map[string]string
	if mimeType == "" {
		// http.DetectContentType only cares about the first 512 bytes
		head, err := reader.Peek(512)
		if err != nil && err != io.EOF {
			return errors.Wrap(err, "Peek")
		}
		mimeType, params, err = mime.ParseMediaType(http.DetectContentType(head))
		if err != nil {
			return errors.Wrap(err, "ParseMediaType")
		}
	}
	if params == nil {
		params = make(map[string]string)
	}
	params["name"] = name

	ah := mail.AttachmentHeader{}
	ah.SetContentType(mimeType, params)
	if a.Inline {
		ah.SetContentDisposition("inline", map[string]string{"filename": name})
		ah.Set("Content-Id", "<"+a.ContentID+">")
	} else {
		ah.SetFilename(name)
	}

	aw, err := w.CreateAttachment(ah)
	if err != nil {
		return errors.Wrap(err, "CreateAttachment")
	}
	defer aw.Close()
	if _, err := reader.WriteTo(aw); err != nil {
		return errors.Wrap(err, "reader.WriteTo")
	}
	return nil
}

// ReadHeader parses only the header of a message.
func ReadHeader(r io.Reader) (*mail.Header, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(r))
	if err != nil {
		return nil, errors.Wrap(err, "ReadHeader")
	}
	return &mail.Header{Header: message.Header{Header: h}}, nil
}

// Read parses a stored draft. The identifier is left to the caller.
func Read(r io.Reader) (*models.Draft, error) {
	d, _, err := ReadWithHeader(r)
	return d, err
}

// ReadWithHeader parses a message and also returns its full header.
func ReadWithHeader(r io.Reader) (*models.Draft, *mail.Header, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, nil, errors.Wrap(err, "CreateReader")
	}
	defer mr.Close()

	d := &models.Draft{}
	if err := readHeader(&mr.Header, d); err != nil {
		return nil, nil, err
	}

	if !strings.HasPrefix(mediaType(mr.Header.Get("Content-Type")), "multipart/") {
		d.MIMEType = mediaType(mr.Header.Get("Content-Type"))
		if d.MIMEType == "" {
			d.MIMEType = models.TextPlain
		}
	}
	bodyFound := false
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil && !message.IsUnknownCharset(err) {
			return nil, nil, errors.Wrap(err, "NextPart")
		}
		data, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, nil, errors.Wrap(err, "io.ReadAll")
		}
		ct := p.Header.Get("Content-Type")
		mt := mediaType(ct)
		cid := strings.Trim(p.Header.Get("Content-Id"), "<>")
		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			if !bodyFound && cid == "" &&
				(mt == "" || mt == models.TextPlain || mt == models.TextHTML) {
				d.Body = string(data)
				if mt != "" {
					d.MIMEType = mt
				}
				bodyFound = true
				continue
			}
			_, params, _ := h.ContentDisposition()
			d.Attachments = append(d.Attachments, &models.Attachment{
				Name:      params["filename"],
				MIMEType:  mt,
				ContentID: cid,
				Inline:    cid != "",
				Data:      data,
			})
		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			disp, _, _ := h.ContentDisposition()
			d.Attachments = append(d.Attachments, &models.Attachment{
				Name:      name,
				MIMEType:  mt,
				ContentID: cid,
				Inline:    disp == "inline" && cid != "",
				Data:      data,
			})
		}
	}
	return d, &mr.Header, nil
}

func mediaType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return mt
}

func readHeader(h *mail.Header, d *models.Draft) error {
	var err error
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		d.From = from[0]
	}
	if d.To, err = h.AddressList("To"); err != nil {
		return errors.Wrap(err, "To")
	}
	if d.Cc, err = h.AddressList("Cc"); err != nil {
		return errors.Wrap(err, "Cc")
	}
	if d.Bcc, err = h.AddressList("Bcc"); err != nil {
		return errors.Wrap(err, "Bcc")
	}
	if d.Subject, err = h.Subject(); err != nil {
		return errors.Wrap(err, "Subject")
	}
	if d.Time, err = h.Date(); err != nil {
		d.Time = time.Time{}
	}
	d.MessageID, _ = h.MessageID()
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		d.InReplyTo = ids[0]
	}
	d.References, _ = h.MsgIDList("References")

	d.ConversationID = h.Get(headerConversation)
	d.AddressID = h.Get(headerAddressID)
	d.PasswordHint = h.Get(headerPasswordHint)
	d.Encrypt, _ = strconv.ParseBool(h.Get(headerEncrypt))
	d.Sign, _ = strconv.ParseBool(h.Get(headerSign))
	if v := h.Get(headerExpiresIn); v != "" {
		if d.ExpiresIn, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", headerExpiresIn, err)
		}
	}
	return nil
}
