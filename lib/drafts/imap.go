package drafts

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/pkg/errors"

	"git.sr.ht/~rjarry/composerd/lib/auth"
	"git.sr.ht/~rjarry/composerd/lib/log"
)

const imapTimeout = 30 * time.Second

// IMAP stores drafts in mailboxes of a remote server. Keys are UIDs. A
// single connection is kept and reopened after any failure.
type IMAP struct {
	// TCP keepalive, zero values keep the system defaults
	KeepalivePeriod   time.Duration
	KeepaliveProbes   int
	KeepaliveInterval time.Duration

	uri     *url.URL
	account string
	scheme  string
	mech    string
	logger  log.Logger

	mu sync.Mutex
	c  *client.Client
}

func NewIMAP(uri *url.URL, account string) (*IMAP, error) {
	scheme, mech, err := auth.ParseScheme(uri)
	if err != nil {
		return nil, err
	}
	return &IMAP{
		uri:     uri,
		account: account,
		scheme:  scheme,
		mech:    mech,
		logger:  log.NewLogger("imap", 2),
	}, nil
}

func (m *IMAP) connect() (*client.Client, error) {
	addr := m.uri.Host
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		port = "993"
		if m.scheme != "imaps" {
			port = "143"
		}
		addr = net.JoinHostPort(host, port)
	}
	tlsConfig := &tls.Config{ServerName: host}
	dialer := &net.Dialer{
		Timeout:   imapTimeout,
		KeepAlive: m.KeepalivePeriod,
		Control:   m.setKeepaliveParameters,
	}

	var c *client.Client
	switch m.scheme {
	case "imap", "imap+insecure":
		c, err = client.DialWithDialer(dialer, addr)
		if err != nil {
			return nil, errors.Wrap(err, "imap.Dial")
		}
		if m.scheme == "imap" {
			if err := c.StartTLS(tlsConfig); err != nil {
				c.Logout()
				return nil, errors.Wrap(err, "StartTLS")
			}
		}
	case "imaps":
		c, err = client.DialWithDialerTLS(dialer, addr, tlsConfig)
		if err != nil {
			return nil, errors.Wrap(err, "imap.DialTLS")
		}
	default:
		return nil, fmt.Errorf("Unknown IMAP scheme %s", m.scheme)
	}
	c.ErrorLog = log.ErrorLogger()
	c.Timeout = imapTimeout

	if err := auth.Login(c, m.mech, m.uri, m.account); err != nil {
		c.Logout()
		return nil, errors.Wrap(err, "Login")
	}
	return c, nil
}

// setKeepaliveParameters sets the keepalive options that net.Dialer does
// not expose.
func (m *IMAP) setKeepaliveParameters(network, address string, c syscall.RawConn) error {
	if m.KeepaliveProbes == 0 && m.KeepaliveInterval == 0 {
		return nil
	}
	return c.Control(func(fdPtr uintptr) {
		fd := int(fdPtr)
		if m.KeepaliveProbes > 0 {
			// Max number of probes before failure
			if err := setTcpKeepaliveProbes(fd, m.KeepaliveProbes); err != nil {
				m.logger.Errorf("cannot set tcp keepalive probes: %v", err)
			}
		}
		if m.KeepaliveInterval > 0 {
			// Wait time after an unsuccessful probe
			err := setTcpKeepaliveInterval(fd, int(m.KeepaliveInterval.Seconds()))
			if err != nil {
				m.logger.Errorf("cannot set tcp keepalive interval: %v", err)
			}
		}
	})
}

// do runs fn on the shared connection. The connection is dropped when fn
// fails so the next call starts afresh.
func (m *IMAP) do(fn func(c *client.Client) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c == nil {
		c, err := m.connect()
		if err != nil {
			return err
		}
		m.c = c
	}
	err := fn(m.c)
	if err != nil {
		m.logger.Debugf("dropping connection: %v", err)
		m.c.Logout()
		m.c = nil
	}
	return err
}

func (m *IMAP) selectOrCreate(c *client.Client, folder string) error {
	if _, err := c.Select(folder, false); err == nil {
		return nil
	}
	if err := c.Create(folder); err != nil {
		return errors.Wrapf(err, "Create(%s)", folder)
	}
	_, err := c.Select(folder, false)
	return errors.Wrapf(err, "Select(%s)", folder)
}

func imapFlags(flags []Flag) []string {
	var res []string
	for _, f := range flags {
		switch f {
		case FlagSeen:
			res = append(res, imap.SeenFlag)
		case FlagDraft:
			res = append(res, imap.DraftFlag)
		}
	}
	return res
}

// Append uploads msg and finds its UID back by Message-Id.
func (m *IMAP) Append(
	ctx context.Context, folder string, msg []byte, flags []Flag,
) (string, error) {
	id := messageID(msg)
	var key string
	err := m.do(func(c *client.Client) error {
		if err := m.selectOrCreate(c, folder); err != nil {
			return err
		}
		err := c.Append(folder, imapFlags(flags), time.Now(), bytes.NewBuffer(msg))
		if err != nil {
			return errors.Wrap(err, "Append")
		}
		if id == "" {
			return nil
		}
		// refresh the mailbox view
		if _, err := c.Select(folder, false); err != nil {
			return errors.Wrap(err, "Select")
		}
		criteria := imap.NewSearchCriteria()
		criteria.Header.Add("Message-Id", id)
		uids, err := c.UidSearch(criteria)
		if err != nil {
			return errors.Wrap(err, "UidSearch")
		}
		var max uint32
		for _, uid := range uids {
			if uid > max {
				max = uid
			}
		}
		if max > 0 {
			key = strconv.FormatUint(uint64(max), 10)
		}
		return nil
	})
	if err == nil && key == "" {
		err = fmt.Errorf("appended message %q not found in %s", id, folder)
	}
	return key, err
}

func parseUIDs(keys []string) (*imap.SeqSet, error) {
	set := new(imap.SeqSet)
	for _, k := range keys {
		uid, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid uid %q", k)
		}
		set.AddNum(uint32(uid))
	}
	return set, nil
}

func (m *IMAP) Open(ctx context.Context, folder, key string) (io.ReadCloser, error) {
	set, err := parseUIDs([]string{key})
	if err != nil {
		return nil, err
	}
	var buf []byte
	err = m.do(func(c *client.Client) error {
		if _, err := c.Select(folder, true); err != nil {
			return errors.Wrapf(err, "Select(%s)", folder)
		}
		section := &imap.BodySectionName{Peek: true}
		messages := make(chan *imap.Message, 1)
		done := make(chan error, 1)
		go func() {
			defer log.PanicHandler()
			done <- c.UidFetch(set, []imap.FetchItem{section.FetchItem()}, messages)
		}()
		var readErr error
		for msg := range messages {
			if r := msg.GetBody(section); r != nil && readErr == nil {
				buf, readErr = io.ReadAll(r)
			}
		}
		if err := <-done; err != nil {
			return errors.Wrap(err, "UidFetch")
		}
		return readErr
	})
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, fmt.Errorf("message %s not found in %s", key, folder)
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (m *IMAP) Remove(ctx context.Context, folder string, keys []string) error {
	set, err := parseUIDs(keys)
	if err != nil {
		return err
	}
	return m.do(func(c *client.Client) error {
		if _, err := c.Select(folder, false); err != nil {
			return errors.Wrapf(err, "Select(%s)", folder)
		}
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		flags := []interface{}{imap.DeletedFlag}
		if err := c.UidStore(set, item, flags, nil); err != nil {
			return errors.Wrap(err, "UidStore")
		}
		return errors.Wrap(c.Expunge(nil), "Expunge")
	})
}

func (m *IMAP) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c == nil {
		return nil
	}
	err := m.c.Logout()
	m.c = nil
	return err
}
