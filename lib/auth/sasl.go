package auth

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"
)

// ParseScheme splits schemes such as smtps+plain or imap+insecure+xoauth2
// into the protocol and the authentication mechanism (plain by default).
func ParseScheme(uri *url.URL) (protocol string, mech string, err error) {
	mech = "plain"
	if uri.Scheme == "" {
		return "", mech, nil
	}
	parts := strings.Split(uri.Scheme, "+")
	if parts[0] == "" {
		return "", "", fmt.Errorf("Unknown scheme %s", uri.Scheme)
	}
	protocol = parts[0]
	parts = parts[1:]
	if i := slices.Index(parts, "insecure"); i != -1 {
		protocol += "+insecure"
		parts = slices.Delete(parts, i, i+1)
	}
	if len(parts) > 0 {
		mech = strings.Join(parts, "+")
	}
	return protocol, mech, nil
}

// oauthConfig reads the oauth2 client settings from the uri query.
func oauthConfig(uri *url.URL) *oauth2.Config {
	q := uri.Query()
	return &oauth2.Config{
		ClientID:     q.Get("client_id"),
		ClientSecret: q.Get("client_secret"),
		Scopes:       strings.Fields(q.Get("scope")),
		Endpoint: oauth2.Endpoint{
			TokenURL: q.Get("token_endpoint"),
		},
	}
}

// NewSaslClient returns the client for mech, nil when no authentication is
// required. Refresh tokens of the oauth mechanisms are cached per account.
func NewSaslClient(mech string, uri *url.URL, account string) (sasl.Client, error) {
	user := uri.User.Username()
	password, _ := uri.User.Password()

	switch mech {
	case "", "none":
		return nil, nil
	case "login":
		return sasl.NewLoginClient(user, password), nil
	case "plain":
		return sasl.NewPlainClient("", user, password), nil
	case "oauthbearer", "xoauth2":
		token, err := GetAccessToken(oauthConfig(uri), account, mech, password)
		if err != nil {
			return nil, err
		}
		if mech == "xoauth2" {
			return NewXoauth2Client(user, token), nil
		}
		return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: user,
			Token:    token,
		}), nil
	}
	return nil, fmt.Errorf("Unsupported auth mechanism %q", mech)
}
