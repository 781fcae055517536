package hooks

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"

	"git.sr.ht/~rjarry/composerd/lib/log"
)

// Hooks that run longer than this are killed.
const hookTimeout = time.Minute

type HookType interface {
	Cmd() string
	Env() []string
}

// RunHook runs the configured command of h with sh -c. The hook variables
// are appended to the daemon environment. Nothing is done when no command
// is configured.
func RunHook(h HookType) error {
	script := h.Cmd()
	if script == "" {
		return nil
	}
	env := h.Env()
	log.Debugf("hooks: %q %v", script, env)

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return errors.Wrap(err, msg)
		}
		return err
	}
	return nil
}
