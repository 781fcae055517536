package hooks

import (
	"fmt"
	"os"

	"git.sr.ht/~rjarry/composerd/config"
)

type Startup struct {
	Version string
}

func (m *Startup) Cmd() string {
	return config.Hooks.Startup
}

func (m *Startup) Env() []string {
	return []string{
		fmt.Sprintf("COMPOSERD_VERSION=%s", m.Version),
		fmt.Sprintf("COMPOSERD_BINARY=%s", os.Args[0]),
	}
}
