package hooks

import (
	"fmt"
	"time"

	"git.sr.ht/~rjarry/composerd/config"
)

type Shutdown struct {
	Lifetime time.Duration
}

func (a *Shutdown) Cmd() string {
	return config.Hooks.Shutdown
}

func (a *Shutdown) Env() []string {
	return []string{
		fmt.Sprintf("COMPOSERD_LIFETIME=%s", a.Lifetime.String()),
	}
}
