package prepare

import (
	"strings"

	"github.com/danwakefield/fnmatch"
	"github.com/emersion/go-message/mail"

	"git.sr.ht/~rjarry/composerd/models"
)

// Identities resolves the sender of a draft among the account address and
// its aliases. Aliases may be shell patterns such as *@example.com.
type Identities struct {
	From    *mail.Address
	Aliases []*mail.Address
}

func addressID(a *mail.Address) string {
	return strings.ToLower(a.Address)
}

// Match returns the identity matching addr and the concrete address to use.
func (ids *Identities) Match(addr *mail.Address) (*mail.Address, string, bool) {
	if addr == nil {
		return nil, "", false
	}
	if ids.From != nil && strings.EqualFold(ids.From.Address, addr.Address) {
		return ids.From, addressID(ids.From), true
	}
	for _, a := range ids.Aliases {
		if fnmatch.Match(strings.ToLower(a.Address), strings.ToLower(addr.Address), 0) {
			name := a.Name
			if name == "" {
				name = addr.Name
			}
			return &mail.Address{Name: name, Address: addr.Address}, addressID(a), true
		}
	}
	return nil, "", false
}

// IsSelf tells whether addr belongs to the account.
func (ids *Identities) IsSelf(addr *mail.Address) bool {
	_, _, ok := ids.Match(addr)
	return ok
}

// Choose picks the identity a reply to a message received by rcpts should be
// sent from. The account address has priority over the aliases.
func (ids *Identities) Choose(rcpts []*mail.Address) *mail.Address {
	for _, r := range rcpts {
		if ids.From != nil && strings.EqualFold(ids.From.Address, r.Address) {
			return ids.From
		}
	}
	for _, r := range rcpts {
		if a, _, ok := ids.Match(r); ok {
			return a
		}
	}
	return ids.From
}

// Resolve implements compose.FromResolver. A sender already set on the
// draft is kept when it is one of the account identities.
func (ids *Identities) Resolve(d *models.Draft) (*mail.Address, string) {
	if a, id, ok := ids.Match(d.From); ok {
		return a, id
	}
	if ids.From == nil {
		return nil, ""
	}
	return ids.From, addressID(ids.From)
}
