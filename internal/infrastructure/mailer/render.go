package mailer

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"mime"
	"strings"
	texttemplate "text/template"

	"DigestCurator/internal/domain"
)

const digestHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Helvetica, Arial, sans-serif; max-width: 640px; margin: 0 auto;">
<h1>Your AI news digest</h1>
<p>Hi {{.Name}},</p>
<p>Here are {{len .Items}} stories picked for you on {{.Date}}.</p>
{{range .Items}}<div style="margin-bottom: 24px;">
<h2 style="font-size: 18px;">{{.Rank}}. {{if .Digest.URL}}<a href="{{.Digest.URL}}">{{.Digest.Title}}</a>{{else}}{{.Digest.Title}}{{end}}</h2>
<p>{{.Digest.Summary}}</p>
{{if .Reasoning}}<p style="color: #666;"><em>Why it matters to you: {{.Reasoning}}</em></p>{{end}}
</div>
{{end}}<p style="color: #999; font-size: 12px;">You receive this because you subscribed to the daily AI news digest.</p>
</body>
</html>
`

const digestText = `Hi {{.Name}},

Here are {{len .Items}} stories picked for you on {{.Date}}.
{{range .Items}}
{{.Rank}}. {{.Digest.Title}}
{{.Digest.Summary}}
{{if .Reasoning}}Why it matters to you: {{.Reasoning}}
{{end}}{{if .Digest.URL}}Read more: {{.Digest.URL}}
{{end}}{{end}}`

const welcomeHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Helvetica, Arial, sans-serif; max-width: 640px; margin: 0 auto;">
<h1>Welcome, administrator</h1>
<p>Hi {{.Name}},</p>
<p>Your account {{.Email}} now has administrator access to the AI news digest.
You can trigger pipeline runs and follow their progress from the status endpoint.</p>
</body>
</html>
`

const welcomeText = `Hi {{.Name}},

Your account {{.Email}} now has administrator access to the AI news digest.
You can trigger pipeline runs and follow their progress from the status endpoint.
`

var (
	digestHTMLTmpl  = htmltemplate.Must(htmltemplate.New("digest").Parse(digestHTML))
	digestTextTmpl  = texttemplate.Must(texttemplate.New("digest").Parse(digestText))
	welcomeHTMLTmpl = htmltemplate.Must(htmltemplate.New("welcome").Parse(welcomeHTML))
	welcomeTextTmpl = texttemplate.Must(texttemplate.New("welcome").Parse(welcomeText))
)

type digestView struct {
	Name  string
	Date  string
	Items []domain.RankedItem
}

type welcomeView struct {
	Name  string
	Email string
}

func render(html *htmltemplate.Template, text *texttemplate.Template, data any) (string, string, error) {
	var h, t bytes.Buffer
	if err := html.Execute(&h, data); err != nil {
		return "", "", fmt.Errorf("render html: %w", err)
	}
	if err := text.Execute(&t, data); err != nil {
		return "", "", fmt.Errorf("render text: %w", err)
	}
	return h.String(), t.String(), nil
}

type message struct {
	FromName string
	From     string
	To       string
	Subject  string
	Text     string
	HTML     string
	Boundary string
}

// build assembles a multipart/alternative message with CRLF line endings.
func (m message) build() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", m.FromName), m.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", m.Boundary)

	writePart := func(contentType, body string) {
		fmt.Fprintf(&b, "--%s\r\n", m.Boundary)
		fmt.Fprintf(&b, "Content-Type: %s; charset=UTF-8\r\n", contentType)
		b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
		b.WriteString(crlf(body))
		b.WriteString("\r\n")
	}
	writePart("text/plain", m.Text)
	writePart("text/html", m.HTML)
	fmt.Fprintf(&b, "--%s--\r\n", m.Boundary)
	return []byte(b.String())
}

func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
