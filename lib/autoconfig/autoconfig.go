package autoconfig

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"git.sr.ht/~rjarry/composerd/lib/log"
)

type encryption uint8

const (
	EncryptionSTARTTLS encryption = iota
	EncryptionTLS
)

// Server is a discovered submission server.
type Server struct {
	Encryption encryption
	Address    string
	Port       int
}

// URL returns the outgoing url of s for user.
func (s *Server) URL(user string) *url.URL {
	scheme := "smtp"
	if s.Encryption == EncryptionTLS {
		scheme = "smtps"
	}
	return &url.URL{
		Scheme: scheme,
		User:   url.User(user),
		Host:   fmt.Sprintf("%s:%d", s.Address, s.Port),
	}
}

type resolver struct {
	lookupSRV func(service, proto, name string) (string, []*net.SRV, error)
	dial      func(network, address string) (net.Conn, error)
}

var system = &resolver{lookupSRV: net.LookupSRV, dial: net.Dial}

// Outgoing looks up the submission server of the domain of email. SRV
// records are preferred over guessed host names. It returns nil when
// nothing was found before ctx is done.
func Outgoing(ctx context.Context, email string) *url.URL {
	return system.outgoing(ctx, email)
}

func (r *resolver) outgoing(ctx context.Context, email string) *url.URL {
	log.Debugf("looking up outgoing server for %q", email)
	_, domain, found := strings.Cut(email, "@")
	if !found || domain == "" {
		return nil
	}

	results := []chan *Server{
		make(chan *Server, 1),
		make(chan *Server, 1),
	}
	go r.fromSRV(ctx, domain, results[0])
	go r.guess(ctx, domain, results[1])

	for _, res := range results {
		select {
		case s := <-res:
			if s != nil {
				log.Debugf("found outgoing server %s:%d", s.Address, s.Port)
				return s.URL(email)
			}
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}
