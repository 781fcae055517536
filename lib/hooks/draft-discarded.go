package hooks

import (
	"fmt"

	"git.sr.ht/~rjarry/composerd/config"
)

type DraftDiscarded struct {
	Account string
	Folder  string
	ID      string
}

func (m *DraftDiscarded) Cmd() string {
	return config.Hooks.DraftDiscarded
}

func (m *DraftDiscarded) Env() []string {
	return []string{
		fmt.Sprintf("COMPOSERD_ACCOUNT=%s", m.Account),
		fmt.Sprintf("COMPOSERD_FOLDER=%s", m.Folder),
		fmt.Sprintf("COMPOSERD_DRAFT_ID=%s", m.ID),
	}
}
