package hooks

import (
	"fmt"

	"git.sr.ht/~rjarry/composerd/config"
	"git.sr.ht/~rjarry/composerd/lib/drafts"
	"git.sr.ht/~rjarry/composerd/models"
)

type MailSent struct {
	Account string
	Draft   *models.Draft
}

func (m *MailSent) Cmd() string {
	return config.Hooks.MailSent
}

func (m *MailSent) Env() []string {
	h := drafts.Header(m.Draft, false)
	var fromName, fromAddr string
	if m.Draft.From != nil {
		fromName, fromAddr = m.Draft.From.Name, m.Draft.From.Address
	}
	return []string{
		fmt.Sprintf("COMPOSERD_ACCOUNT=%s", m.Account),
		fmt.Sprintf("COMPOSERD_FROM_NAME=%s", fromName),
		fmt.Sprintf("COMPOSERD_FROM_ADDRESS=%s", fromAddr),
		fmt.Sprintf("COMPOSERD_SUBJECT=%s", m.Draft.Subject),
		fmt.Sprintf("COMPOSERD_TO=%s", h.Get("To")),
		fmt.Sprintf("COMPOSERD_CC=%s", h.Get("Cc")),
		fmt.Sprintf("COMPOSERD_MESSAGE_ID=%s", m.Draft.MessageID),
	}
}
