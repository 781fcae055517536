package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/go-ini/ini"

	"git.sr.ht/~rjarry/composerd/lib/log"
	"git.sr.ht/~rjarry/composerd/lib/xdg"
)

// Credentials runs a password command. The output is kept in memory when
// Cache is set so that the command only prompts once.
type Credentials struct {
	Cmd   string
	Cache bool

	mu    sync.Mutex
	value string
}

func (c *Credentials) Password() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value != "" {
		return c.value, nil
	}
	cmd := exec.Command("sh", "-c", c.Cmd)
	cmd.Stdin = os.Stdin
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	pw := strings.TrimSpace(string(output))
	if c.Cache {
		c.value = pw
	}
	return pw, nil
}

type AccountConfig struct {
	Name    string          `ini:"name" default:"default"`
	From    *mail.Address   `ini:"from"`
	Aliases []*mail.Address `ini:"aliases"`

	Source               string   `ini:"source"`
	SourceCredCmd        string   `ini:"source-cred-cmd"`
	Outgoing             *url.URL `ini:"outgoing"`
	OutgoingCredCmd      string   `ini:"outgoing-cred-cmd"`
	OutgoingCredCmdCache bool     `ini:"outgoing-cred-cmd-cache" default:"true"`
	SmtpDomain           string   `ini:"smtp-domain"`

	KeepalivePeriod   time.Duration `ini:"keepalive-period"`
	KeepaliveProbes   int           `ini:"keepalive-probes" default:"3"`
	KeepaliveInterval time.Duration `ini:"keepalive-interval" default:"3s"`

	Inbox    string `ini:"inbox" default:"INBOX"`
	Postpone string `ini:"postpone" default:"Drafts"`
	CopyTo   string `ini:"copy-to"`

	// PGP Config
	PgpKeyring     string `ini:"pgp-keyring"`
	PgpAutoSign    bool   `ini:"pgp-auto-sign"`
	PgpAutoEncrypt bool   `ini:"pgp-auto-encrypt"`
	PgpAttachKey   bool   `ini:"pgp-attach-key"`

	// DKIM
	DkimDomain   string `ini:"dkim-domain"`
	DkimSelector string `ini:"dkim-selector" default:"default"`
	DkimKey      string `ini:"dkim-key"`

	SourceCredentials   *Credentials `ini:"-"`
	OutgoingCredentials *Credentials `ini:"-"`
}

var Account = new(AccountConfig)

func parseAccount(file *ini.File) error {
	sec := file.Section("account")
	if err := MapToStruct(sec, Account, true); err != nil {
		return err
	}
	if Account.Source == "" {
		return errors.New("[account]: source is required")
	}
	if Account.From == nil {
		return errors.New("[account]: from is required")
	}
	if Account.SourceCredCmd != "" {
		Account.SourceCredentials = &Credentials{
			Cmd: Account.SourceCredCmd, Cache: true,
		}
	}
	if Account.OutgoingCredCmd != "" {
		Account.OutgoingCredentials = &Credentials{
			Cmd:   Account.OutgoingCredCmd,
			Cache: Account.OutgoingCredCmdCache,
		}
	}
	if Account.PgpKeyring == "" {
		Account.PgpKeyring = xdg.DataPath("composerd", "keyring.asc")
	} else {
		Account.PgpKeyring = xdg.ExpandHome(Account.PgpKeyring)
	}
	if Account.DkimKey != "" {
		Account.DkimKey = xdg.ExpandHome(Account.DkimKey)
		if Account.DkimDomain == "" {
			_, domain, _ := strings.Cut(Account.From.Address, "@")
			Account.DkimDomain = domain
		}
	}
	log.Debugf("composerd.conf: [account] %s from = %s", Account.Name, Account.From)
	return nil
}

// hasSecrets tells whether a password is written in clear in the account
// section.
func hasSecrets(sec *ini.Section) bool {
	for _, name := range []string{"source", "outgoing"} {
		u, err := url.Parse(sec.Key(name).String())
		if err != nil || u.User == nil {
			continue
		}
		if _, ok := u.User.Password(); ok {
			return true
		}
	}
	return false
}

// checkConfigPerms checks for too open permissions
// printing the fix on stderr and returning an error
func checkConfigPerms(filename string) error {
	info, err := os.Stat(filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil // disregard absent files
	}
	if err != nil {
		return err
	}

	perms := info.Mode().Perm()
	// group or others have read access
	if perms&0o44 != 0 {
		fmt.Fprintf(os.Stderr, "The file %v has too open permissions.\n", filename)
		fmt.Fprintln(os.Stderr, "This is a security issue (it contains passwords).")
		fmt.Fprintf(os.Stderr, "To fix it, run `chmod 600 %v`\n", filename)
		return errors.New("composerd.conf permissions too lax")
	}
	return nil
}
