package drafts

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/pkg/errors"
)

// MessageIDHostname returns the right part of generated Message-Ids: the
// local hostname or the domain of the sender.
func MessageIDHostname(sendWithHostname bool, from *mail.Address) (string, error) {
	if sendWithHostname {
		return os.Hostname()
	}
	if from == nil {
		// no from address present, generate a random hostname
		return strings.ToUpper(strconv.FormatInt(rand.Int63(), 36)), nil
	}
	_, domain, found := strings.Cut(from.Address, "@")
	if !found {
		return "", fmt.Errorf("Invalid address %q", from)
	}
	return domain, nil
}

// NewMessageID generates a Message-Id for a message sent by from.
func NewMessageID(from *mail.Address) (string, error) {
	hostname, err := MessageIDHostname(false, from)
	if err != nil {
		return "", err
	}
	h := mail.Header{}
	if err := h.GenerateMessageIDWithHostname(hostname); err != nil {
		return "", errors.Wrap(err, "GenerateMessageID")
	}
	return h.MessageID()
}
