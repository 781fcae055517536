package drafts

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/emersion/go-maildir"
	"github.com/pkg/errors"
)

// Maildir stores each folder as a maildir below a root directory.
type Maildir struct {
	root string
}

func NewMaildir(root string) *Maildir {
	return &Maildir{root: root}
}

// Dir returns the maildir of folder, creating it if needed.
func (m *Maildir) Dir(folder string) (maildir.Dir, error) {
	dir := maildir.Dir(filepath.Join(m.root, folder))
	if _, err := os.Stat(string(dir)); os.IsNotExist(err) {
		if err := dir.Init(); err != nil {
			return dir, errors.Wrap(err, "Init")
		}
	}
	return dir, nil
}

func translateFlags(flags []Flag) []maildir.Flag {
	var res []maildir.Flag
	for _, f := range flags {
		switch f {
		case FlagSeen:
			res = append(res, maildir.FlagSeen)
		case FlagDraft:
			res = append(res, maildir.FlagDraft)
		}
	}
	return res
}

func (m *Maildir) Append(
	ctx context.Context, folder string, msg []byte, flags []Flag,
) (string, error) {
	dir, err := m.Dir(folder)
	if err != nil {
		return "", err
	}
	key, w, err := dir.Create(translateFlags(flags))
	if err != nil {
		return "", errors.Wrap(err, "Create")
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return "", errors.Wrap(err, "Write")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, "Close")
	}
	return key, nil
}

func (m *Maildir) Open(ctx context.Context, folder, key string) (io.ReadCloser, error) {
	dir, err := m.Dir(folder)
	if err != nil {
		return nil, err
	}
	r, err := dir.Open(key)
	if err != nil {
		return nil, errors.Wrapf(err, "Open(%s)", key)
	}
	return r, nil
}

// Remove ignores keys that are already gone.
func (m *Maildir) Remove(ctx context.Context, folder string, keys []string) error {
	dir, err := m.Dir(folder)
	if err != nil {
		return err
	}
	for _, key := range keys {
		err := dir.Remove(key)
		var kerr *maildir.KeyError
		if errors.As(err, &kerr) {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "Remove(%s)", key)
		}
	}
	return nil
}

// Keys lists the messages of folder.
func (m *Maildir) Keys(folder string) ([]string, error) {
	dir, err := m.Dir(folder)
	if err != nil {
		return nil, err
	}
	return dir.Keys()
}

// Find returns the key of a message of folder by its Message-Id.
func (m *Maildir) Find(folder, messageID string) (string, bool) {
	keys, err := m.Keys(folder)
	if err != nil {
		return "", false
	}
	for _, key := range keys {
		r, err := m.Open(context.Background(), folder, key)
		if err != nil {
			continue
		}
		h, err := ReadHeader(r)
		r.Close()
		if err != nil {
			continue
		}
		if id, _ := h.MessageID(); id == messageID {
			return key, true
		}
	}
	return "", false
}

// Path returns the directory of folder, for watchers.
func (m *Maildir) Path(folder string) string {
	return filepath.Join(m.root, folder)
}

func (m *Maildir) Close() error {
	return nil
}
