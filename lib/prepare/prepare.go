package prepare

import (
	"bufio"
	"context"
	"fmt"
	"html"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/pkg/errors"

	"git.sr.ht/~rjarry/composerd/lib/drafts"
	"git.sr.ht/~rjarry/composerd/lib/log"
	"git.sr.ht/~rjarry/composerd/models"
)

// Preparer builds the initial content of composers. Replies and forwards
// read the original from the backend, loads go through the draft store.
type Preparer struct {
	Drafts     *drafts.Drafts
	Identities *Identities
	// folder of messages replied to when the seed id has no folder/ prefix
	Inbox       string
	ReplyToSelf bool
	// applied to every composer but loaded drafts
	AutoSign    bool
	AutoEncrypt bool

	logger log.Logger
}

func New(d *drafts.Drafts, ids *Identities, inbox string) *Preparer {
	return &Preparer{
		Drafts:     d,
		Identities: ids,
		Inbox:      inbox,
		logger:     log.NewLogger("prepare", 2),
	}
}

// GetMessage implements compose.Preparer.
func (p *Preparer) GetMessage(ctx context.Context, seed models.Seed) (*models.Draft, error) {
	var (
		d   *models.Draft
		err error
	)
	switch seed.Type {
	case models.SeedNew, "":
		d = &models.Draft{MIMEType: models.TextPlain}
	case models.SeedMailto:
		d, err = Mailto(seed.Mailto)
	case models.SeedLoad:
		d, err = p.Drafts.Load(ctx, seed.ID)
	case models.SeedReply, models.SeedReplyAll, models.SeedForward:
		var orig *models.Draft
		var h *mail.Header
		orig, h, err = p.original(ctx, seed.ID)
		if err != nil {
			break
		}
		if seed.Type == models.SeedForward {
			d = Forward(orig)
		} else {
			d = p.Reply(orig, h, seed.Type == models.SeedReplyAll)
		}
	default:
		err = fmt.Errorf("unknown seed type %q", seed.Type)
	}
	if err != nil {
		return nil, err
	}
	applyDefaults(d, seed.Defaults)
	if seed.Type != models.SeedLoad {
		d.Sign = d.Sign || p.AutoSign
		d.Encrypt = d.Encrypt || p.AutoEncrypt
	}
	p.logger.Tracef("prepared %s draft %q", seed.Type, d.Subject)
	return d, nil
}

func (p *Preparer) original(ctx context.Context, id string) (*models.Draft, *mail.Header, error) {
	folder, key := p.Inbox, id
	if i := strings.LastIndexByte(id, '/'); i > 0 {
		folder, key = id[:i], id[i+1:]
	}
	r, err := p.Drafts.Backend().Open(ctx, folder, key)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s", id)
	}
	defer r.Close()
	return drafts.ReadWithHeader(r)
}

func applyDefaults(d, defaults *models.Draft) {
	if defaults == nil {
		return
	}
	if defaults.From != nil {
		d.From = defaults.From
	}
	d.To = append(d.To, defaults.To...)
	d.Cc = append(d.Cc, defaults.Cc...)
	d.Bcc = append(d.Bcc, defaults.Bcc...)
	if defaults.Subject != "" {
		d.Subject = defaults.Subject
	}
	if defaults.Body != "" {
		d.Body = defaults.Body
	}
	if defaults.MIMEType != "" {
		d.MIMEType = defaults.MIMEType
	}
	d.Attachments = append(d.Attachments, defaults.Attachments...)
	d.Encrypt = d.Encrypt || defaults.Encrypt
	d.Sign = d.Sign || defaults.Sign
}

// Mailto parses a mailto: url. Unknown query fields are ignored so that no
// control header can be injected.
func Mailto(addr *url.URL) (*models.Draft, error) {
	if addr == nil {
		return nil, fmt.Errorf("no mailto url")
	}
	d := &models.Draft{MIMEType: models.TextPlain}
	to := addr.Opaque
	if to == "" {
		to = addr.Path
	}
	if unescaped, err := url.PathUnescape(to); err == nil {
		to = unescaped
	}
	if to != "" {
		list, err := mail.ParseAddressList(to)
		if err != nil {
			return nil, fmt.Errorf("Could not parse to: %w", err)
		}
		d.To = list
	}
	for key, vals := range addr.Query() {
		switch strings.ToLower(key) {
		case "to":
			if list, err := mail.ParseAddressList(strings.Join(vals, ",")); err == nil {
				d.To = append(d.To, list...)
			}
		case "cc":
			if list, err := mail.ParseAddressList(strings.Join(vals, ",")); err == nil {
				d.Cc = list
			}
		case "bcc":
			if list, err := mail.ParseAddressList(strings.Join(vals, ",")); err == nil {
				d.Bcc = list
			}
		case "body":
			d.Body = strings.Join(vals, "\n")
		case "subject":
			d.Subject = strings.Join(vals, ",")
		case "in-reply-to":
			if len(vals) > 0 {
				d.InReplyTo = strings.Trim(vals[0], "<>")
			}
		case "attach":
			for _, path := range vals {
				path = strings.TrimPrefix(path, "file://")
				d.Attachments = append(d.Attachments, &models.Attachment{
					Name: filepath.Base(path),
					Path: path,
				})
			}
		}
	}
	return d, nil
}

var localizedRe = regexp.MustCompile(`(?i)^((AW|RE|SV|VS|ODP|R|Antw|Rif): ?)+`)

// trimLocalizedRe removes known localizations of Re: commonly used by Outlook.
func trimLocalizedRe(subject string) string {
	return strings.TrimSpace(localizedRe.ReplaceAllString(subject, ""))
}

type addrSet map[string]struct{}

func (s addrSet) Add(a *mail.Address) {
	s[strings.ToLower(a.Address)] = struct{}{}
}

func (s addrSet) AddList(al []*mail.Address) {
	for _, a := range al {
		s.Add(a)
	}
}

func (s addrSet) Contains(a *mail.Address) bool {
	_, ok := s[strings.ToLower(a.Address)]
	return ok
}

// Reply builds the answer to orig. Reply-To has precedence over From and
// the account addresses are never recipients unless replying to oneself.
func (p *Preparer) Reply(orig *models.Draft, h *mail.Header, all bool) *models.Draft {
	from := p.Identities.Choose(append(append([]*mail.Address{}, orig.To...), orig.Cc...))

	var to, cc []*mail.Address
	if h != nil {
		to, _ = h.AddressList("Reply-To")
	}
	if len(to) == 0 && orig.From != nil {
		to = []*mail.Address{orig.From}
	}
	if !p.ReplyToSelf {
		var others []*mail.Address
		for _, a := range to {
			if !p.Identities.IsSelf(a) {
				others = append(others, a)
			}
		}
		to = others
		if len(to) == 0 {
			to = orig.To
		}
	}

	recSet := make(addrSet)
	recSet.AddList(to)
	if all {
		// order matters, due to the deduping
		if from != nil {
			recSet.Add(from)
		}
		for _, a := range orig.To {
			if recSet.Contains(a) || p.Identities.IsSelf(a) {
				continue
			}
			recSet.Add(a)
			to = append(to, a)
		}
		for _, a := range orig.Cc {
			if recSet.Contains(a) || p.Identities.IsSelf(a) {
				continue
			}
			recSet.Add(a)
			cc = append(cc, a)
		}
	}

	refs := append([]string{}, orig.References...)
	if len(refs) == 0 && orig.InReplyTo != "" {
		refs = []string{orig.InReplyTo}
	}
	if orig.MessageID != "" {
		refs = append(refs, orig.MessageID)
	}

	return &models.Draft{
		ConversationID: conversationOf(orig),
		From:           from,
		To:             to,
		Cc:             cc,
		Subject:        "Re: " + trimLocalizedRe(orig.Subject),
		Body:           quote(orig),
		MIMEType:       models.TextPlain,
		InReplyTo:      orig.MessageID,
		References:     refs,
	}
}

// conversationOf identifies the thread of orig by its root message.
func conversationOf(orig *models.Draft) string {
	if orig.ConversationID != "" {
		return orig.ConversationID
	}
	if len(orig.References) > 0 {
		return orig.References[0]
	}
	if orig.InReplyTo != "" {
		return orig.InReplyTo
	}
	return orig.MessageID
}

func formatAddresses(l []*mail.Address) string {
	parts := make([]string, len(l))
	for i, a := range l {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

func quote(orig *models.Draft) string {
	var b strings.Builder
	who := "someone"
	if orig.From != nil {
		who = orig.From.String()
	}
	if orig.Time.IsZero() {
		fmt.Fprintf(&b, "%s wrote:\n", who)
	} else {
		fmt.Fprintf(&b, "On %s, %s wrote:\n",
			orig.Time.Format("Mon Jan 2, 2006 at 3:04 PM MST"), who)
	}
	scanner := bufio.NewScanner(strings.NewReader(orig.Body))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, ">") {
			fmt.Fprintf(&b, ">%s\n", line)
		} else {
			fmt.Fprintf(&b, "> %s\n", line)
		}
	}
	return b.String()
}

// Forward builds a new message carrying orig inline with its attachments.
func Forward(orig *models.Draft) *models.Draft {
	var b strings.Builder
	b.WriteString("---------- Forwarded message ----------\n")
	if orig.From != nil {
		fmt.Fprintf(&b, "From: %s\n", orig.From.String())
	}
	if !orig.Time.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", orig.Time.Format(time.RFC1123Z))
	}
	fmt.Fprintf(&b, "Subject: %s\n", orig.Subject)
	if len(orig.To) > 0 {
		fmt.Fprintf(&b, "To: %s\n", formatAddresses(orig.To))
	}
	if len(orig.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", formatAddresses(orig.Cc))
	}
	b.WriteString("\n")

	mimeType := orig.MIMEType
	if mimeType == "" {
		mimeType = models.TextPlain
	}
	header := b.String()
	if mimeType == models.TextHTML {
		header = strings.ReplaceAll(html.EscapeString(header), "\n", "<br>\n")
	}
	var atts []*models.Attachment
	for _, a := range orig.Attachments {
		cp := *a
		atts = append(atts, &cp)
	}
	return &models.Draft{
		ConversationID: conversationOf(orig),
		Subject:        "Fwd: " + orig.Subject,
		Body:           header + orig.Body,
		MIMEType:       mimeType,
		Attachments:    atts,
	}
}
