package compose

import (
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"git.sr.ht/~rjarry/composerd/models"
)

// parseField converts a textual field input into a draft mutation.
func parseField(field, value string) (func(d *models.Draft), error) {
	invalid := func(err error) error {
		return &ValidationError{Field: field, Reason: err.Error()}
	}
	addrs := func() ([]*mail.Address, error) {
		if strings.TrimSpace(value) == "" {
			return nil, nil
		}
		return mail.ParseAddressList(value)
	}

	switch strings.ToLower(field) {
	case "to":
		list, err := addrs()
		if err != nil {
			return nil, invalid(err)
		}
		return func(d *models.Draft) { d.To = list }, nil
	case "cc":
		list, err := addrs()
		if err != nil {
			return nil, invalid(err)
		}
		return func(d *models.Draft) { d.Cc = list }, nil
	case "bcc":
		list, err := addrs()
		if err != nil {
			return nil, invalid(err)
		}
		return func(d *models.Draft) { d.Bcc = list }, nil
	case "subject":
		return func(d *models.Draft) { d.Subject = value }, nil
	case "body":
		return func(d *models.Draft) { d.Body = value }, nil
	case "mime-type", "content-type":
		if value != models.TextPlain && value != models.TextHTML {
			return nil, &ValidationError{Field: field, Reason: "unsupported type " + value}
		}
		return func(d *models.Draft) { d.MIMEType = value }, nil
	case "encrypt", "sign":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, invalid(err)
		}
		if strings.EqualFold(field, "encrypt") {
			return func(d *models.Draft) { d.Encrypt = b }, nil
		}
		return func(d *models.Draft) { d.Sign = b }, nil
	case "password":
		return func(d *models.Draft) { d.Password = value }, nil
	case "password-hint":
		return func(d *models.Draft) { d.PasswordHint = value }, nil
	case "expires-in":
		var dur time.Duration
		if value != "" {
			var err error
			dur, err = time.ParseDuration(value)
			if err != nil {
				return nil, invalid(err)
			}
		}
		return func(d *models.Draft) { d.ExpiresIn = dur }, nil
	}
	return nil, &ValidationError{Field: field, Reason: "unknown field"}
}

// Input sets one content field of h from its textual form.
func (p *Pool) Input(h models.Handle, field, value string) error {
	fn, err := parseField(field, value)
	if err != nil {
		return err
	}
	return p.Edit(h, fn)
}
