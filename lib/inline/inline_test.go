package inline

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~rjarry/composerd/models"
)

func TestExtractDataURLs(t *testing.T) {
	assert := assert.New(t)
	png := []byte("\x89PNG fake image")
	src := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	d := &models.Draft{
		MIMEType: models.TextHTML,
		Body: `<p>logo <img src="` + src + `"> and again <img src="` + src + `">` +
			`<img src="https://example.com/remote.png"></p>`,
	}

	require.NoError(t, New("example.com").Extract(d))
	require.Len(t, d.Attachments, 1)
	a := d.Attachments[0]
	assert.True(a.Inline)
	assert.Equal("image/png", a.MIMEType)
	assert.Equal(png, a.Data)
	assert.True(strings.HasSuffix(a.ContentID, "@example.com"))
	assert.True(strings.HasSuffix(a.Name, ".png"))

	assert.NotContains(d.Body, "data:")
	assert.Equal(2, strings.Count(d.Body, `src="cid:`+a.ContentID+`"`))
	assert.Contains(d.Body, "https://example.com/remote.png")
	assert.Equal(1, d.NumEmbedded())
}

func TestExtractIsIdempotent(t *testing.T) {
	d := &models.Draft{
		MIMEType: models.TextHTML,
		Body:     `<img src="data:,hello%20world">`,
	}
	e := New("")
	require.NoError(t, e.Extract(d))
	body := d.Body
	require.NoError(t, e.Extract(d))
	assert.Equal(t, body, d.Body)
	require.Len(t, d.Attachments, 1)
	assert.Equal(t, []byte("hello world"), d.Attachments[0].Data)
	assert.Equal(t, "text/plain", d.Attachments[0].MIMEType)
}

func TestExtractSkipsPlainText(t *testing.T) {
	d := &models.Draft{Body: `<img src="data:image/png;base64,AAAA">`}
	require.NoError(t, New("").Extract(d))
	assert.Empty(t, d.Attachments)
	assert.Equal(t, `<img src="data:image/png;base64,AAAA">`, d.Body)
}

func TestExtractInvalidDataURL(t *testing.T) {
	d := &models.Draft{
		MIMEType: models.TextHTML,
		Body:     `<img src="data:image/png;base64,!!!">`,
	}
	assert.Error(t, New("").Extract(d))
}
