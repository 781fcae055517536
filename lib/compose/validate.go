package compose

import (
	"fmt"
	"os"
	"strings"

	"git.sr.ht/~rjarry/composerd/models"
)

// checkPreconditions runs before the composer enters Sending.
func (p *Pool) checkPreconditions(d *models.Draft, opts SendOptions) error {
	if strings.TrimSpace(d.Subject) == "" &&
		p.opts.EmptySubjectWarning && !opts.ConfirmEmptySubject {
		return &ValidationError{
			Field:  "Subject",
			Reason: "subject is empty, confirm to send anyway",
		}
	}
	if d.ExpiresIn < 0 {
		return &ValidationError{
			Field:  "Expiration",
			Reason: "expiration time must be in the future",
		}
	}
	if p.opts.MaxExpiration > 0 && d.ExpiresIn > p.opts.MaxExpiration {
		return &ValidationError{
			Field:  "Expiration",
			Reason: fmt.Sprintf("expiration time cannot exceed %s", p.opts.MaxExpiration),
		}
	}
	return nil
}

// validateDraft is the full validation of a draft about to be sent.
func validateDraft(d *models.Draft, keys KeyAttacher) error {
	rcpts := d.Recipients()
	if len(rcpts) == 0 {
		return &ValidationError{Field: "To", Reason: "at least one recipient is required"}
	}
	for _, a := range rcpts {
		if a == nil || !validAddress(a.Address) {
			name := ""
			if a != nil {
				name = a.String()
			}
			return &ValidationError{Field: "To", Reason: fmt.Sprintf("invalid address %q", name)}
		}
	}

	if d.Encrypt && d.Password == "" {
		if kc, ok := keys.(KeyChecker); ok {
			for _, a := range rcpts {
				if !kc.HasKey(a.Address) {
					return &ValidationError{
						Field:  "Password",
						Reason: fmt.Sprintf("%s has no public key, a password is required", a.Address),
					}
				}
			}
		}
	}
	if d.Password != "" && d.PasswordHint == d.Password {
		return &ValidationError{Field: "PasswordHint", Reason: "hint cannot be the password"}
	}

	for _, a := range d.Attachments {
		if len(a.Data) > 0 {
			continue
		}
		if a.Path == "" {
			return &ValidationError{Field: "Attachments", Reason: a.Name + " has no content"}
		}
		if _, err := os.Stat(a.Path); err != nil {
			return &ValidationError{Field: "Attachments", Reason: err.Error()}
		}
	}
	return nil
}

func validAddress(addr string) bool {
	at := strings.LastIndexByte(addr, '@')
	return at > 0 && at < len(addr)-1 && !strings.ContainsAny(addr, " \t<>")
}
