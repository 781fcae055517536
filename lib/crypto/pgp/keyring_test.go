package pgp

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~rjarry/composerd/models"
)

func entity(t *testing.T, name, email string) *openpgp.Entity {
	t.Helper()
	e, err := openpgp.NewEntity(name, "", email, nil)
	require.NoError(t, err)
	return e
}

func newKeyring(t *testing.T, entities ...*openpgp.Entity) *Keyring {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keyring.gpg")
	var buf bytes.Buffer
	for _, e := range entities {
		require.NoError(t, e.SerializePrivate(&buf, nil))
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	k, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(k.Close)
	return k
}

func TestOpenMissingKeyring(t *testing.T) {
	k, err := Open(filepath.Join(t.TempDir(), "sub", "keyring.asc"))
	require.NoError(t, err)
	defer k.Close()
	assert.False(t, k.HasKey("alice@example.com"))
}

func TestAttach(t *testing.T) {
	alice := entity(t, "Alice", "alice@example.com")
	k := newKeyring(t, alice)
	assert.True(t, k.HasKey("Alice@Example.com"))

	d := &models.Draft{
		Encrypt: true,
		To:      []*mail.Address{{Address: "alice@example.com"}},
		Cc:      []*mail.Address{{Address: "eve@elsewhere.org"}},
	}
	err := k.Attach(context.Background(), d)
	assert.ErrorContains(t, err, "eve@elsewhere.org")

	d.Password = "secret"
	require.NoError(t, k.Attach(context.Background(), d))
	require.Len(t, d.Keys, 1)
	assert.Equal(t, alice, KeyFor(d.Keys, "alice@example.com"))
	assert.Nil(t, KeyFor(d.Keys, "eve@elsewhere.org"))

	require.NoError(t, k.Detach(context.Background(), d))
	assert.Nil(t, d.Keys)

	plain := &models.Draft{To: d.To}
	require.NoError(t, k.Attach(context.Background(), plain))
	assert.Nil(t, plain.Keys)
}

func TestImportPersists(t *testing.T) {
	k := newKeyring(t)
	bob := entity(t, "Bob", "bob@example.com")
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, "PGP PUBLIC KEY BLOCK", nil)
	require.NoError(t, err)
	require.NoError(t, bob.Serialize(w))
	require.NoError(t, w.Close())

	require.NoError(t, k.Import(&buf))
	assert.True(t, k.HasKey("bob@example.com"))

	reopened, err := Open(k.path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.True(t, reopened.HasKey("bob@example.com"))

	exported, err := k.ExportKey("bob@example.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(exported), "-----BEGIN PGP PUBLIC KEY BLOCK-----"))
}

func TestEncryptIncludesSelf(t *testing.T) {
	me := entity(t, "Me", "me@example.com")
	alice := entity(t, "Alice", "alice@example.com")
	k := newKeyring(t, me, alice)
	k.Self = "me@example.com"

	h := &mail.Header{}
	h.SetSubject("secret plans")
	var buf bytes.Buffer
	cleartext, err := k.Encrypt(&buf, h, openpgp.EntityList{alice}, "me@example.com")
	require.NoError(t, err)
	_, err = io.WriteString(cleartext, "Content-Type: text/plain\r\n\r\nmeet at noon\r\n")
	require.NoError(t, err)
	require.NoError(t, cleartext.Close())

	out := buf.String()
	assert.Contains(t, out, "multipart/encrypted")
	assert.NotContains(t, out, "meet at noon")
	assert.Len(t, k.Entities(openpgp.EntityList{alice}), 2)
}

func TestEncryptPassword(t *testing.T) {
	h := &mail.Header{}
	h.SetSubject("for your eyes")
	var buf bytes.Buffer
	w, err := EncryptPassword(&buf, h, "correct horse", "the usual")
	require.NoError(t, err)
	_, err = io.WriteString(w, "Content-Type: text/plain\r\n\r\nhidden\r\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	out := buf.String()
	assert.Contains(t, out, "Password hint: the usual")
	assert.NotContains(t, out, "hidden")

	start := strings.Index(out, "-----BEGIN PGP MESSAGE-----")
	require.NotEqual(t, -1, start)
	block, err := armor.Decode(strings.NewReader(out[start:]))
	require.NoError(t, err)
	prompted := false
	md, err := openpgp.ReadMessage(block.Body, nil,
		func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
			if prompted {
				return nil, io.EOF
			}
			prompted = true
			return []byte("correct horse"), nil
		}, nil)
	require.NoError(t, err)
	body, err := io.ReadAll(md.UnverifiedBody)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hidden")
}
