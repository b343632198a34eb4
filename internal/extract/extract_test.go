package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlainText(t *testing.T) {
	raw := []byte("From: Alice <alice@example.com>\r\n" +
		"To: box1@example.com\r\n" +
		"Subject: Hello there\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Hi, this is the body.\r\n")

	content := Parse(raw)
	assert.Equal(t, "Hello there", content.Subject)
	assert.Equal(t, "Alice <alice@example.com>", content.Sender)
	assert.Equal(t, "Hi, this is the body.", content.Body)
}

func TestParsePrefersPlainOverHTML(t *testing.T) {
	raw := []byte("From: bob@example.com\r\n" +
		"Subject: Multipart\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=xyz\r\n" +
		"\r\n" +
		"--xyz\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"plain version\r\n" +
		"--xyz\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>html version</p>\r\n" +
		"--xyz--\r\n")

	content := Parse(raw)
	assert.Equal(t, "plain version", content.Body)
	assert.Equal(t, "bob@example.com", content.Sender)
}

func TestParseFallsBackToHTML(t *testing.T) {
	raw := []byte("From: bob@example.com\r\n" +
		"Subject: HTML only\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><body><p>First line</p><p>Second &amp; last</p></body></html>\r\n")

	content := Parse(raw)
	assert.Equal(t, "First line\n\nSecond & last", content.Body)
}

func TestParseMissingSubject(t *testing.T) {
	raw := []byte("From: bob@example.com\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body\r\n")

	content := Parse(raw)
	assert.Equal(t, "(no subject)", content.Subject)
}

func TestParseLongSubjectCapped(t *testing.T) {
	subject := strings.Repeat("s", 600)
	raw := []byte("From: bob@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body\r\n")

	content := Parse(raw)
	assert.Len(t, content.Subject, 500)
}

func TestParseUnparsableFallsBackToRaw(t *testing.T) {
	raw := []byte("not an email at all")
	content := Parse(raw)
	assert.Equal(t, "(no subject)", content.Subject)
	assert.Equal(t, "not an email at all", content.Body)
}

func TestHTMLToText(t *testing.T) {
	in := `<html><head><style>p { color: red }</style></head>` +
		`<body><script>alert(1)</script>` +
		`<h1>Title</h1><p>One<br>Two</p><div>Three &lt;ok&gt;</div></body></html>`

	out := HTMLToText(in)
	assert.NotContains(t, out, "alert")
	assert.NotContains(t, out, "color")
	assert.Equal(t, "Title\n\nOne\nTwo\n\nThree <ok>", out)
}

func TestCapBody(t *testing.T) {
	short := "short body"
	assert.Equal(t, short, CapBody(short, 15000))

	long := strings.Repeat("a", 15001)
	capped := CapBody(long, 15000)
	require.True(t, strings.HasSuffix(capped, "...\n[Email truncated]"))
	assert.Equal(t, strings.Repeat("a", 15000), strings.TrimSuffix(capped, "...\n[Email truncated]"))
}
