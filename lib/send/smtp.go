package send

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-smtp"
	"github.com/pkg/errors"

	"git.sr.ht/~rjarry/composerd/lib/auth"
	"git.sr.ht/~rjarry/composerd/lib/compose"
)

const smtpTimeout = 30 * time.Second

// unreachable reports a connection level failure, the message may be
// retried as is.
func unreachable(err error, what string) error {
	return &compose.TransmissionError{Kind: compose.KindNetwork, Err: errors.Wrap(err, what)}
}

// rejected reports a permanent failure of a single recipient.
func rejected(addr string, err error) error {
	var serr *smtp.SMTPError
	if errors.As(err, &serr) && serr.Code >= 500 {
		return &compose.TransmissionError{
			Kind: compose.KindRecipient,
			Err:  fmt.Errorf("%s: %w", addr, err),
		}
	}
	return errors.Wrap(err, "conn.Rcpt")
}

// dialSmtp connects to host, port 587 for smtp and smtp+insecure or 465
// for smtps when none is given. Plain smtp is upgraded with STARTTLS.
func dialSmtp(ctx context.Context, protocol, host, domain string) (*smtp.Client, error) {
	serverName, port, err := net.SplitHostPort(host)
	if err != nil {
		serverName, port = host, "587"
		if protocol == "smtps" {
			port = "465"
		}
	}
	addr := net.JoinHostPort(serverName, port)
	tlsConfig := &tls.Config{ServerName: serverName}
	dialer := &net.Dialer{Timeout: smtpTimeout}

	var conn net.Conn
	if protocol == "smtps" {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, unreachable(err, "smtp.Dial")
	}
	c, err := smtp.NewClient(conn, serverName)
	if err != nil {
		conn.Close()
		return nil, unreachable(err, "smtp.NewClient")
	}
	if domain != "" {
		if err := c.Hello(domain); err != nil {
			c.Close()
			return nil, errors.Wrap(err, "Hello")
		}
	}
	if protocol == "smtp" {
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Close()
			return nil, errors.Wrap(err, "StartTLS")
		}
	}
	return c, nil
}

type smtpSender struct {
	conn *smtp.Client
	w    io.WriteCloser
}

func (s *smtpSender) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *smtpSender) Close() error {
	if err := s.w.Close(); err != nil {
		s.conn.Close()
		return errors.Wrap(err, "DATA")
	}
	return s.conn.Quit()
}

func newSmtpSender(
	ctx context.Context, protocol string, mech string, uri *url.URL,
	account string, domain string, from *mail.Address, rcpts []*mail.Address,
) (io.WriteCloser, error) {
	conn, err := dialSmtp(ctx, protocol, uri.Host, domain)
	if err != nil {
		return nil, err
	}

	if uri.User != nil {
		saslclient, err := auth.NewSaslClient(mech, uri, account)
		if err != nil {
			conn.Close()
			return nil, err
		}
		if saslclient != nil {
			if err := conn.Auth(saslclient); err != nil {
				conn.Close()
				return nil, errors.Wrap(err, "conn.Auth")
			}
		}
	}
	if err := conn.Mail(from.Address, nil); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "conn.Mail")
	}
	for _, rcpt := range rcpts {
		if err := conn.Rcpt(rcpt.Address); err != nil {
			conn.Close()
			return nil, rejected(rcpt.Address, err)
		}
	}
	w, err := conn.Data()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "conn.Data")
	}
	return &smtpSender{conn: conn, w: w}, nil
}
