package send

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/emersion/go-message/mail"
	"github.com/miolini/datacounter"
	"github.com/pkg/errors"

	"git.sr.ht/~rjarry/composerd/lib/compose"
	"git.sr.ht/~rjarry/composerd/lib/crypto/pgp"
	"git.sr.ht/~rjarry/composerd/lib/drafts"
	"git.sr.ht/~rjarry/composerd/lib/log"
	"git.sr.ht/~rjarry/composerd/models"
)

type senderFunc func(
	ctx context.Context, uri *url.URL, account string, domain string,
	from *mail.Address, rcpts []*mail.Address,
) (io.WriteCloser, error)

// Transmitter delivers finalized drafts to the outgoing server of an
// account. It implements compose.Transmitter.
type Transmitter struct {
	Outgoing *url.URL
	Account  string
	// HELO domain, empty for the library default
	Domain string
	// called when Outgoing has a user but no password
	Credentials func() (string, error)

	Keyring   *pgp.Keyring
	AttachKey bool
	DKIM      *DKIM

	// sent copies go to CopyTo when not empty
	Backend drafts.Backend
	CopyTo  string

	newSender senderFunc
	logger    log.Logger
}

func NewTransmitter(outgoing *url.URL, account string) *Transmitter {
	return &Transmitter{
		Outgoing:  outgoing,
		Account:   account,
		newSender: NewSender,
		logger:    log.NewLogger("send", 2),
	}
}

// an envelope is one submission: the same message body for a group of
// recipients.
type envelope struct {
	rcpts []*mail.Address
	msg   []byte
}

func (t *Transmitter) Transmit(ctx context.Context, d *models.Draft) error {
	if d.From == nil {
		return &compose.ValidationError{Field: "From", Reason: "no sender address"}
	}
	d = d.Clone()
	if d.Time.IsZero() {
		d.Time = time.Now()
	}
	if d.MessageID == "" {
		id, err := drafts.NewMessageID(d.From)
		if err != nil {
			return err
		}
		d.MessageID = id
	}
	if t.AttachKey && t.Keyring != nil {
		t.attachPublicKey(d)
	}

	envelopes, err := t.envelopes(d)
	if err != nil {
		return err
	}
	uri, err := t.outgoing()
	if err != nil {
		return err
	}
	for _, env := range envelopes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.deliver(ctx, uri, d.From, env); err != nil {
			return err
		}
	}
	if t.CopyTo != "" && t.Backend != nil && len(envelopes) > 0 {
		_, err := t.Backend.Append(ctx, t.CopyTo, envelopes[0].msg,
			[]drafts.Flag{drafts.FlagSeen})
		if err != nil {
			t.logger.Warnf("failed to copy %s to %s: %v", d.MessageID, t.CopyTo, err)
		}
	}
	return nil
}

func (t *Transmitter) attachPublicKey(d *models.Draft) {
	key, err := t.Keyring.ExportKey(d.From.Address)
	if err != nil {
		t.logger.Warnf("no public key to attach for %s: %v", d.From.Address, err)
		return
	}
	d.Attachments = append(d.Attachments, &models.Attachment{
		Name:     d.From.Address + ".asc",
		MIMEType: "application/pgp-keys",
		Data:     key,
	})
}

// envelopes splits the recipients of encrypted drafts: those with an
// attached key get a PGP/MIME message, the others a password encrypted
// one.
func (t *Transmitter) envelopes(d *models.Draft) ([]envelope, error) {
	rcpts := d.Recipients()
	if !d.Encrypt {
		msg, err := t.message(d, nil, false)
		if err != nil {
			return nil, err
		}
		return []envelope{{rcpts: rcpts, msg: msg}}, nil
	}
	if t.Keyring == nil {
		return nil, &compose.TransmissionError{
			Kind: compose.KindEncryption, Err: fmt.Errorf("no keyring configured"),
		}
	}

	var keyed, outside []*mail.Address
	var keys openpgp.EntityList
	for _, rcpt := range rcpts {
		key := pgp.KeyFor(d.Keys, rcpt.Address)
		if key == nil {
			outside = append(outside, rcpt)
			continue
		}
		keyed = append(keyed, rcpt)
		if pgp.KeyFor(keys, rcpt.Address) == nil {
			keys = append(keys, key)
		}
	}

	var envelopes []envelope
	if len(keyed) > 0 {
		msg, err := t.message(d, keys, false)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, envelope{rcpts: keyed, msg: msg})
	}
	if len(outside) > 0 {
		if d.Password == "" {
			return nil, &compose.TransmissionError{
				Kind: compose.KindEncryption,
				Err:  fmt.Errorf("no key for %s", outside[0].Address),
			}
		}
		msg, err := t.message(d, nil, true)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, envelope{rcpts: outside, msg: msg})
	}
	return envelopes, nil
}

func (t *Transmitter) message(d *models.Draft, keys openpgp.EntityList, password bool) ([]byte, error) {
	var buf bytes.Buffer
	h := drafts.Header(d, false)
	if d.ExpiresIn > 0 {
		h.Set("Expires", d.Time.Add(d.ExpiresIn).Format(time.RFC1123Z))
	}
	signer := ""
	if d.Sign {
		signer = d.From.Address
	}

	var cleartext io.WriteCloser
	var err error
	switch {
	case keys != nil:
		cleartext, err = t.Keyring.Encrypt(&buf, h, keys, signer)
	case password:
		cleartext, err = pgp.EncryptPassword(&buf, h, d.Password, d.PasswordHint)
	case d.Sign && t.Keyring != nil:
		cleartext, err = t.Keyring.Sign(&buf, h, signer)
	default:
		err = drafts.WriteBody(&buf, h, d)
		if err != nil {
			return nil, err
		}
		return t.sign(buf.Bytes())
	}
	if err != nil {
		return nil, &compose.TransmissionError{Kind: compose.KindEncryption, Err: err}
	}
	if err := drafts.WriteBody(cleartext, &mail.Header{}, d); err != nil {
		cleartext.Close()
		return nil, err
	}
	if err := cleartext.Close(); err != nil {
		return nil, &compose.TransmissionError{Kind: compose.KindEncryption, Err: err}
	}
	return t.sign(buf.Bytes())
}

func (t *Transmitter) sign(msg []byte) ([]byte, error) {
	if t.DKIM == nil {
		return msg, nil
	}
	return t.DKIM.Sign(msg)
}

func (t *Transmitter) outgoing() (*url.URL, error) {
	if t.Outgoing == nil {
		return nil, fmt.Errorf("no outgoing server configured")
	}
	uri := *t.Outgoing
	if uri.User == nil || t.Credentials == nil {
		return &uri, nil
	}
	if _, ok := uri.User.Password(); ok {
		return &uri, nil
	}
	password, err := t.Credentials()
	if err != nil {
		return nil, errors.Wrap(err, "outgoing credentials")
	}
	uri.User = url.UserPassword(uri.User.Username(), password)
	return &uri, nil
}

func (t *Transmitter) deliver(ctx context.Context, uri *url.URL, from *mail.Address, env envelope) error {
	w, err := t.newSender(ctx, uri, t.Account, t.Domain, from, env.rcpts)
	if err != nil {
		return err
	}
	ctr := datacounter.NewWriterCounter(w)
	if _, err := ctr.Write(env.msg); err != nil {
		w.Close()
		return errors.Wrap(err, "write")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "close")
	}
	t.logger.Debugf("sent %d bytes to %d recipients", ctr.Count(), len(env.rcpts))
	return nil
}
