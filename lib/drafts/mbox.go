package drafts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/pkg/errors"
)

// Mbox stores each folder as <root>/<folder>.mbox. Keys are Message-Ids,
// flags are not kept.
type Mbox struct {
	root string
	mu   sync.Mutex
}

func NewMbox(root string) *Mbox {
	return &Mbox{root: root}
}

func (m *Mbox) path(folder string) string {
	return filepath.Join(m.root, folder+".mbox")
}

func (m *Mbox) Append(
	ctx context.Context, folder string, msg []byte, flags []Flag,
) (string, error) {
	key := messageID(msg)
	if key == "" {
		return "", fmt.Errorf("message has no Message-Id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// a saved draft replaces its previous copy
	if err := m.remove(folder, []string{key}); err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.root, 0o700); err != nil {
		return "", errors.Wrap(err, "MkdirAll")
	}
	f, err := os.OpenFile(m.path(folder), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return "", errors.Wrap(err, "OpenFile")
	}
	defer f.Close()
	if err := writeMbox(f, [][]byte{msg}); err != nil {
		return "", err
	}
	return key, nil
}

func writeMbox(w io.Writer, msgs [][]byte) error {
	wc := mbox.NewWriter(w)
	for _, msg := range msgs {
		mw, err := wc.CreateMessage("composerd", time.Now())
		if err != nil {
			return errors.Wrap(err, "CreateMessage")
		}
		if _, err := mw.Write(msg); err != nil {
			return errors.Wrap(err, "Write")
		}
	}
	return wc.Close()
}

func (m *Mbox) readAll(folder string) ([][]byte, error) {
	f, err := os.Open(m.path(folder))
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "Open")
	}
	defer f.Close()
	var msgs [][]byte
	mbr := mbox.NewReader(f)
	for {
		msg, err := mbr.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, errors.Wrap(err, "NextMessage")
		}
		content, err := io.ReadAll(msg)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, content)
	}
	return msgs, nil
}

func (m *Mbox) Open(ctx context.Context, folder, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs, err := m.readAll(folder)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		if messageID(msg) == key {
			return io.NopCloser(bytes.NewReader(msg)), nil
		}
	}
	return nil, fmt.Errorf("message %s not found in %s", key, folder)
}

// Remove rewrites the folder without the messages of keys.
func (m *Mbox) Remove(ctx context.Context, folder string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remove(folder, keys)
}

func (m *Mbox) remove(folder string, keys []string) error {
	msgs, err := m.readAll(folder)
	if err != nil || msgs == nil {
		return err
	}
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	kept := msgs[:0]
	for _, msg := range msgs {
		if !drop[messageID(msg)] {
			kept = append(kept, msg)
		}
	}
	if len(kept) == len(msgs) {
		return nil
	}

	tmp, err := os.CreateTemp(m.root, folder+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "CreateTemp")
	}
	defer os.Remove(tmp.Name())
	if err := writeMbox(tmp, kept); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "Close")
	}
	return errors.Wrap(os.Rename(tmp.Name(), m.path(folder)), "Rename")
}

func (m *Mbox) Close() error {
	return nil
}
