package inline

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/net/html"

	"git.sr.ht/~rjarry/composerd/lib/log"
	"git.sr.ht/~rjarry/composerd/models"
)

// Extractor moves images embedded as data: URLs in HTML bodies to inline
// attachments referenced by cid: URLs. It implements
// compose.InlineExtractor.
type Extractor struct {
	// Hostname is the right part of generated Content-Ids.
	Hostname string
	logger   log.Logger
}

func New(hostname string) *Extractor {
	if hostname == "" {
		hostname = "composerd"
	}
	return &Extractor{Hostname: hostname, logger: log.NewLogger("inline", 2)}
}

func (e *Extractor) Extract(d *models.Draft) error {
	if d.IsPlainText() || !strings.Contains(d.Body, "data:") {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(d.Body))
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %w", err)
	}

	known := make(map[string]bool)
	for _, a := range d.Attachments {
		if a.ContentID != "" {
			known[a.ContentID] = true
		}
	}
	modified := false
	var walk func(*html.Node) error
	walk = func(n *html.Node) error {
		if n.Type == html.ElementNode && n.Data == "img" {
			for i, attr := range n.Attr {
				if attr.Key != "src" || !strings.HasPrefix(attr.Val, "data:") {
					continue
				}
				a, err := e.attachment(attr.Val)
				if err != nil {
					return err
				}
				n.Attr[i].Val = "cid:" + a.ContentID
				modified = true
				if !known[a.ContentID] {
					known[a.ContentID] = true
					d.Attachments = append(d.Attachments, a)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(doc); err != nil {
		return err
	}
	if !modified {
		return nil
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return fmt.Errorf("failed to render HTML: %w", err)
	}
	d.Body = buf.String()
	e.logger.Debugf("%d inline attachments in %q", d.NumEmbedded(), d.ID)
	return nil
}

// attachment decodes a data: URL. Identical images share the same
// Content-Id.
func (e *Extractor) attachment(src string) (*models.Attachment, error) {
	meta, payload, found := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	if !found {
		return nil, fmt.Errorf("invalid data URL")
	}
	mimeType := "text/plain"
	encoded := false
	if meta != "" {
		parts := strings.Split(meta, ";")
		if parts[0] != "" {
			mimeType = strings.ToLower(parts[0])
		}
		encoded = parts[len(parts)-1] == "base64"
	}

	var data []byte
	var err error
	if encoded {
		data, err = base64.StdEncoding.DecodeString(payload)
	} else {
		var s string
		s, err = url.PathUnescape(payload)
		data = []byte(s)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid data URL: %w", err)
	}

	sum := blake3.Sum256(data)
	id := hex.EncodeToString(sum[:8])
	name := id
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		name += exts[0]
	}
	return &models.Attachment{
		Name:      name,
		MIMEType:  mimeType,
		ContentID: id + "@" + e.Hostname,
		Inline:    true,
		Data:      data,
	}, nil
}
