package auth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/emersion/go-imap/client"
)

// Login authenticates an IMAP connection with the credentials of uri.
// Plain authentication uses LOGIN, other mechanisms go through
// AUTHENTICATE when the server advertises them.
func Login(c *client.Client, mech string, uri *url.URL, account string) error {
	if uri.User == nil {
		return nil
	}
	if mech == "plain" {
		password, _ := uri.User.Password()
		return c.Login(uri.User.Username(), password)
	}
	saslClient, err := NewSaslClient(mech, uri, account)
	if err != nil || saslClient == nil {
		return err
	}
	name, _, err := saslClient.Start()
	if err != nil {
		return err
	}
	if ok, err := c.SupportAuth(name); err != nil || !ok {
		return fmt.Errorf("%s not supported by server: %v", strings.ToUpper(mech), err)
	}
	return c.Authenticate(saslClient)
}
