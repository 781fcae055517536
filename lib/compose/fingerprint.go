package compose

import (
	"encoding/binary"
	"io"

	"github.com/emersion/go-message/mail"
	"github.com/zeebo/blake3"

	"git.sr.ht/~rjarry/composerd/models"
)

type fingerprint [32]byte

// fingerprintOf hashes the user editable part of a draft. Identifiers and
// timestamps are left out so that a save does not change it.
func fingerprintOf(d *models.Draft) fingerprint {
	var fp fingerprint
	if d == nil {
		return fp
	}
	h := blake3.New()
	field := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])        //nolint:errcheck // hash writes never fail
		io.WriteString(h, s) //nolint:errcheck // hash writes never fail
	}
	addrs := func(list []*mail.Address) {
		field("list")
		for _, a := range list {
			field(a.String())
		}
	}
	if d.From != nil {
		field(d.From.String())
	} else {
		field("")
	}
	addrs(d.To)
	addrs(d.Cc)
	addrs(d.Bcc)
	field(d.Subject)
	field(d.Body)
	field(d.MIMEType)
	for _, a := range d.Attachments {
		field(a.Name)
		field(a.Path)
		field(a.ContentID)
		field(string(a.Data))
	}
	var flags [2]byte
	if d.Encrypt {
		flags[0] = 1
	}
	if d.Sign {
		flags[1] = 1
	}
	h.Write(flags[:]) //nolint:errcheck // hash writes never fail
	field(d.Password)
	field(d.PasswordHint)
	field(d.ExpiresIn.String())
	copy(fp[:], h.Sum(nil))
	return fp
}
