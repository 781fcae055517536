package send

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/emersion/go-message/mail"

	"git.sr.ht/~rjarry/composerd/lib/auth"
)

// NewSender opens a submission of one message to rcpts. The message is
// written to the returned io.WriteCloser and handed over on Close. An uri
// without scheme is a sendmail command line.
func NewSender(
	ctx context.Context, uri *url.URL, account string, domain string,
	from *mail.Address, rcpts []*mail.Address,
) (io.WriteCloser, error) {
	protocol, mech, err := auth.ParseScheme(uri)
	if err != nil {
		return nil, err
	}

	switch protocol {
	case "smtp", "smtp+insecure", "smtps":
		return newSmtpSender(ctx, protocol, mech, uri, account, domain, from, rcpts)
	case "":
		return newSendmailSender(ctx, uri, rcpts)
	default:
		return nil, fmt.Errorf("unsupported protocol %s", protocol)
	}
}
