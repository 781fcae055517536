package drafts

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/pkg/errors"

	"git.sr.ht/~rjarry/composerd/lib/xdg"
)

type Flag int

const (
	FlagSeen Flag = iota
	FlagDraft
)

// Backend is a folder based message store holding drafts and sent copies.
// Keys are opaque and only valid within their folder.
type Backend interface {
	Append(ctx context.Context, folder string, msg []byte, flags []Flag) (key string, err error)
	Open(ctx context.Context, folder, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, folder string, keys []string) error
	Close() error
}

// NewBackend returns the backend of the account source uri.
func NewBackend(source, account string, credCmd func() (string, error)) (Backend, error) {
	uri, err := url.Parse(source)
	if err != nil {
		return nil, errors.Wrapf(err, "url.Parse(%s)", source)
	}
	switch {
	case uri.Scheme == "maildir":
		return NewMaildir(xdg.ExpandHome(uri.Host + uri.Path)), nil
	case uri.Scheme == "mbox":
		return NewMbox(xdg.ExpandHome(uri.Host + uri.Path)), nil
	case strings.HasPrefix(uri.Scheme, "imap"):
		if credCmd != nil && uri.User != nil {
			if _, ok := uri.User.Password(); !ok {
				password, err := credCmd()
				if err != nil {
					return nil, err
				}
				uri.User = url.UserPassword(uri.User.Username(), password)
			}
		}
		return NewIMAP(uri, account)
	}
	return nil, errors.Errorf("unsupported draft source %q", source)
}

// messageID extracts the Message-Id of a stored message.
func messageID(msg []byte) string {
	e, _ := message.Read(bytes.NewReader(msg))
	if e == nil {
		return ""
	}
	h := mail.Header{Header: e.Header}
	id, _ := h.MessageID()
	return id
}
