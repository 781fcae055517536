package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"

	"git.sr.ht/~rjarry/composerd/lib/xdg"
)

// tokenCache keeps the last refresh token issued for one account and
// mechanism on disk.
type tokenCache string

func newTokenCache(account, mech string) tokenCache {
	return tokenCache(xdg.CachePath(account + "-" + mech + ".token"))
}

func (c tokenCache) load() string {
	buf, err := os.ReadFile(string(c))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(buf))
}

func (c tokenCache) store(refresh string) error {
	if err := os.MkdirAll(filepath.Dir(string(c)), 0o700); err != nil {
		return err
	}
	return os.WriteFile(string(c), []byte(refresh), 0o600)
}

// GetAccessToken exchanges a refresh token for an access token. The cached
// refresh token is preferred over password. Without a token endpoint the
// password is returned unchanged.
func GetAccessToken(
	o *oauth2.Config, account, mech, password string,
) (string, error) {
	if o.Endpoint.TokenURL == "" {
		return password, nil
	}
	cache := newTokenCache(account, mech)
	refresh := cache.load()
	cached := refresh != ""
	if !cached {
		refresh = password
	}

	src := o.TokenSource(context.Background(), &oauth2.Token{
		RefreshToken: refresh,
		TokenType:    "Bearer",
	})
	token, err := src.Token()
	switch {
	case err != nil && cached:
		return "", fmt.Errorf("%w: try deleting %s", err, string(cache))
	case err != nil:
		return "", err
	}
	if token.RefreshToken != "" {
		if err := cache.store(token.RefreshToken); err != nil {
			return "", err
		}
	}
	return token.AccessToken, nil
}
