package xdg

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"git.sr.ht/~rjarry/composerd/lib/log"
)

var currentUser = user.Current

// HomeDir returns $HOME, falling back on the passwd database.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err == nil {
		return home
	}
	u, e := currentUser()
	if e != nil {
		log.Errorf("HomeDir: %s (while handling %s)", e, err)
		return ""
	}
	return u.HomeDir
}

// ExpandHome joins fragments and replaces a leading ~ with the home dir.
func ExpandHome(fragments ...string) string {
	res := filepath.Join(fragments...)
	if res == "~" || strings.HasPrefix(res, "~/") {
		res = HomeDir() + strings.TrimPrefix(res, "~")
	}
	return res
}
