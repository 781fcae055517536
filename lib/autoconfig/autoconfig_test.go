package autoconfig

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSRV(service, proto, name string) (string, []*net.SRV, error) {
	switch name + "/" + service {
	case "example.com/submissions":
		return "", []*net.SRV{{Target: "."}}, nil
	case "example.com/submission":
		return "", []*net.SRV{
			{Target: "backup.example.com.", Port: 587, Priority: 10, Weight: 5},
			{Target: "smtp.example.com.", Port: 587, Priority: 5, Weight: 1},
			{Target: "smtp2.example.com.", Port: 587, Priority: 5, Weight: 3},
		}, nil
	case "tls.example.org/submissions":
		return "", []*net.SRV{{Target: "mail.tls.example.org.", Port: 465}}, nil
	}
	return "", nil, fmt.Errorf("lookup _%s._tcp.%s: no such host", service, name)
}

func fakeDial(_ string, address string) (net.Conn, error) {
	switch address {
	case "mail.guessed.net:587":
		client, server := net.Pipe()
		server.Close()
		return client, nil
	}
	return nil, fmt.Errorf("unprepared address %q", address)
}

func TestOutgoing(t *testing.T) {
	r := &resolver{lookupSRV: fakeSRV, dial: fakeDial}
	tests := []struct {
		email string
		url   string
	}{
		{"john@example.com", "smtp://john%40example.com@smtp2.example.com:587"},
		{"john@tls.example.org", "smtps://john%40tls.example.org@mail.tls.example.org:465"},
		{"john@guessed.net", "smtp://john%40guessed.net@mail.guessed.net:587"},
		{"john@nowhere.invalid", ""},
		{"john", ""},
	}
	for _, test := range tests {
		test := test
		t.Run(test.email, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			u := r.outgoing(ctx, test.email)
			if test.url == "" {
				assert.Nil(t, u)
				return
			}
			require.NotNil(t, u)
			assert.Equal(t, test.url, u.String())
			assert.Equal(t, test.email, u.User.Username())
		})
	}
}

func TestOutgoingTimeout(t *testing.T) {
	r := &resolver{
		lookupSRV: func(service, proto, name string) (string, []*net.SRV, error) {
			time.Sleep(time.Second)
			return "", nil, fmt.Errorf("timeout")
		},
		dial: fakeDial,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Nil(t, r.outgoing(ctx, "john@guessed.net"))
}
