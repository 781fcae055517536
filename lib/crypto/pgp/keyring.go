package pgp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/pkg/errors"

	"git.sr.ht/~rjarry/composerd/lib/log"
	"git.sr.ht/~rjarry/composerd/models"
)

// Keyring holds the public keys of correspondents and the private keys of
// the account. Only the process owning the lock file writes imported keys
// back to disk.
type Keyring struct {
	path     string
	lockpath string
	locked   bool

	mu       sync.RWMutex
	entities openpgp.EntityList
	// address of the account, its key is added to encrypted messages
	Self string

	logger log.Logger
}

// readKeys accepts both armored and binary keyrings.
func readKeys(r io.Reader) (openpgp.EntityList, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(5)
	if string(head) == "-----" {
		return openpgp.ReadArmoredKeyRing(br)
	}
	return openpgp.ReadKeyRing(br)
}

// Open loads the keyring at path. A missing file gives an empty keyring.
func Open(path string) (*Keyring, error) {
	k := &Keyring{
		path:     path,
		lockpath: path + ".lock",
		logger:   log.NewLogger("pgp", 2),
	}
	k.logger.Debugf("Initializing PGP keyring %s", path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create keyring directory: %w", err)
	}
	lockfile, err := os.OpenFile(k.lockpath, os.O_CREATE|os.O_EXCL, 0o600)
	if err == nil {
		k.locked = true
		lockfile.Close()
	}

	keyfile, err := os.Open(path)
	if os.IsNotExist(err) {
		return k, nil
	} else if err != nil {
		return nil, err
	}
	defer keyfile.Close()
	if k.entities, err = readKeys(keyfile); err != nil {
		k.Close()
		return nil, errors.Wrap(err, "ReadKeyRing")
	}
	return k, nil
}

func (k *Keyring) Close() {
	if k.locked {
		os.Remove(k.lockpath)
		k.locked = false
	}
}

// Import adds keys to the keyring and saves them when the lock is held.
func (k *Keyring) Import(r io.Reader) error {
	keys, err := readKeys(r)
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.entities = append(k.entities, keys...)
	k.mu.Unlock()
	if !k.locked {
		return nil
	}
	keyfile, err := os.OpenFile(k.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer keyfile.Close()
	for _, key := range keys {
		if key.PrivateKey != nil {
			err = key.SerializePrivate(keyfile, &packet.Config{})
		} else {
			err = key.Serialize(keyfile)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (k *Keyring) entityByEmail(email string) (*openpgp.Entity, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, entity := range k.entities {
		for _, ident := range entity.Identities {
			if ident.UserId != nil && strings.EqualFold(ident.UserId.Email, email) {
				if _, ok := entity.EncryptionKey(time.Now()); ok {
					return entity, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("entity not found in keyring")
}

func (k *Keyring) signerByEmail(email string) (*openpgp.Entity, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, key := range k.entities.DecryptionKeys() {
		if key.Entity == nil {
			continue
		}
		ident := key.Entity.PrimaryIdentity()
		if ident != nil && strings.EqualFold(ident.UserId.Email, email) {
			return key.Entity, nil
		}
	}
	return nil, fmt.Errorf("no private key for %s", email)
}

// HasKey implements compose.KeyChecker.
func (k *Keyring) HasKey(addr string) bool {
	_, err := k.entityByEmail(addr)
	return err == nil
}

// Attach collects the public keys of the recipients of an encrypted draft.
// Recipients without a key are allowed only with a message password.
func (k *Keyring) Attach(ctx context.Context, d *models.Draft) error {
	if !d.Encrypt {
		return nil
	}
	var keys openpgp.EntityList
	for _, rcpt := range d.Recipients() {
		entity, err := k.entityByEmail(rcpt.Address)
		if err != nil {
			if d.Password == "" {
				return errors.Wrap(err, "no key for "+rcpt.Address)
			}
			continue
		}
		keys = append(keys, entity)
	}
	d.Keys = keys
	k.logger.Debugf("%d recipient keys attached to %q", len(keys), d.ID)
	return nil
}

func (k *Keyring) Detach(ctx context.Context, d *models.Draft) error {
	d.Keys = nil
	return nil
}

// KeyFor returns the attached key of addr.
func KeyFor(keys openpgp.EntityList, addr string) *openpgp.Entity {
	for _, entity := range keys {
		for _, ident := range entity.Identities {
			if ident.UserId != nil && strings.EqualFold(ident.UserId.Email, addr) {
				return entity
			}
		}
	}
	return nil
}

func (k *Keyring) signer(signer string) (*openpgp.Entity, error) {
	if signer == "" {
		return nil, nil
	}
	entity, err := k.signerByEmail(signer)
	if err != nil {
		return nil, err
	}
	key, ok := entity.SigningKey(time.Now())
	if !ok {
		return nil, fmt.Errorf("no signing key found for %s", signer)
	}
	if key.PrivateKey.Encrypted {
		return nil, fmt.Errorf("signing key of %s is passphrase protected", signer)
	}
	return entity, nil
}

// ExportKey returns the armored public key of email.
func (k *Keyring) ExportKey(email string) ([]byte, error) {
	entity, err := k.entityByEmail(email)
	if err != nil {
		return nil, err
	}
	pks := bytes.NewBuffer(nil)
	if err := entity.Serialize(pks); err != nil {
		return nil, fmt.Errorf("pgp: error exporting key: %w", err)
	}
	pka := bytes.NewBuffer(nil)
	w, err := armor.Encode(pka, "PGP PUBLIC KEY BLOCK", map[string]string{})
	if err != nil {
		return nil, fmt.Errorf("pgp: error exporting key: %w", err)
	}
	if _, err := w.Write(pks.Bytes()); err != nil {
		return nil, fmt.Errorf("pgp: error exporting key: %w", err)
	}
	w.Close()
	return pka.Bytes(), nil
}

// Entities returns the keys of addrs that are known. The account key is
// appended so that sent copies stay readable.
func (k *Keyring) Entities(to openpgp.EntityList) openpgp.EntityList {
	res := append(openpgp.EntityList{}, to...)
	if k.Self == "" || KeyFor(res, k.Self) != nil {
		return res
	}
	if self, err := k.entityByEmail(k.Self); err == nil {
		res = append(res, self)
	}
	return res
}
