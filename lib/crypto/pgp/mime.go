package pgp

import (
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-pgpmail"
	"github.com/pkg/errors"
)

// Encrypt writes a PGP/MIME encrypted message with header h to w. The
// returned writer takes the inner entity, header included.
func (k *Keyring) Encrypt(
	w io.Writer, h *mail.Header, to openpgp.EntityList, signer string,
) (io.WriteCloser, error) {
	signerEntity, err := k.signer(signer)
	if err != nil {
		return nil, err
	}
	cleartext, err := pgpmail.Encrypt(w, h.Header.Header, k.Entities(to), signerEntity, nil)
	if err != nil {
		return nil, errors.Wrap(err, "pgpmail.Encrypt")
	}
	return cleartext, nil
}

// Sign writes a PGP/MIME signed message with header h to w.
func (k *Keyring) Sign(w io.Writer, h *mail.Header, signer string) (io.WriteCloser, error) {
	signerEntity, err := k.signer(signer)
	if err != nil {
		return nil, err
	}
	if signerEntity == nil {
		return nil, fmt.Errorf("no signer")
	}
	cleartext, err := pgpmail.Sign(w, h.Header.Header, signerEntity, nil)
	if err != nil {
		return nil, errors.Wrap(err, "pgpmail.Sign")
	}
	return cleartext, nil
}

type passwordWriter struct {
	plaintext io.WriteCloser
	armored   io.WriteCloser
	w         io.Writer
}

func (p *passwordWriter) Write(b []byte) (int, error) {
	return p.plaintext.Write(b)
}

func (p *passwordWriter) Close() error {
	if err := p.plaintext.Close(); err != nil {
		return err
	}
	if err := p.armored.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(p.w, "\r\n")
	return err
}

// EncryptPassword writes a text message with header h whose body is the
// inner entity symmetrically encrypted with password. It is meant for
// recipients without a public key.
func EncryptPassword(w io.Writer, h *mail.Header, password, hint string) (io.WriteCloser, error) {
	h.SetContentType("text/plain", map[string]string{"charset": "UTF-8"})
	h.Del("Content-Transfer-Encoding")
	if err := textproto.WriteHeader(w, h.Header.Header); err != nil {
		return nil, errors.Wrap(err, "WriteHeader")
	}
	intro := "This message is encrypted with a password shared by the sender.\r\n"
	if hint != "" {
		intro += "Password hint: " + hint + "\r\n"
	}
	if _, err := io.WriteString(w, intro+"\r\n"); err != nil {
		return nil, err
	}
	armored, err := armor.Encode(w, "PGP MESSAGE", nil)
	if err != nil {
		return nil, errors.Wrap(err, "armor.Encode")
	}
	plaintext, err := openpgp.SymmetricallyEncrypt(armored, []byte(password), nil, nil)
	if err != nil {
		armored.Close()
		return nil, errors.Wrap(err, "SymmetricallyEncrypt")
	}
	return &passwordWriter{plaintext: plaintext, armored: armored, w: w}, nil
}
