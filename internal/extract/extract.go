package extract

import (
	"bytes"
	"html"
	"io"
	"net/mail"
	"regexp"
	"strings"

	gomail "github.com/emersion/go-message/mail"
)

const (
	maxSubjectChars = 500
	maxSenderChars  = 200

	// noSubjectPlaceholder 在邮件缺少 Subject 头时使用。
	noSubjectPlaceholder = "(no subject)"

	// truncationNotice 追加在被截断正文的末尾，提示接收方内容不完整。
	truncationNotice = "...\n[Email truncated]"
)

// Content 表示从原始邮件中提取出的展示用内容。
// Body 已经是纯文本：text/plain 部分原样保留，
// text/html 部分会先剥离标签再使用。
type Content struct {
	Subject string
	Sender  string
	Body    string
}

var (
	scriptRe   = regexp.MustCompile(`(?is)<(script|style)\b[^>]*>.*?</(script|style)>`)
	breakRe    = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockRe    = regexp.MustCompile(`(?i)</?(p|div|li|ul|ol|tr|table|h[1-6]|blockquote)\b[^>]*>`)
	tagRe      = regexp.MustCompile(`<[^>]+>`)
	newlinesRe = regexp.MustCompile(`\n{3,}`)
)

// Parse 从原始 RFC 5322 报文中提取主题、发件人与纯文本正文。
// 优先使用第一个非附件的 text/plain 部分；没有时退回第一个
// text/html 部分并剥离标签。解析失败时把整个报文当作纯文本，
// 保证调用方始终能拿到可投递的内容。
func Parse(raw []byte) *Content {
	content := &Content{Subject: noSubjectPlaceholder}

	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		content.fillHeaderFallback(raw)
		content.Body = strings.TrimSpace(string(bodyAfterHeaders(raw)))
		return content
	}
	defer mr.Close()

	if subject, err := mr.Header.Subject(); err == nil && strings.TrimSpace(subject) != "" {
		content.Subject = capRunes(strings.TrimSpace(subject), maxSubjectChars)
	}
	content.Sender = capRunes(senderFromHeader(mr.Header.Get("From")), maxSenderChars)

	var textBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		header, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue // 附件不参与正文提取
		}

		contentType, _, _ := header.ContentType()
		switch {
		case strings.HasPrefix(contentType, "text/plain") && textBody == "":
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			htmlBody = string(body)
		}
	}

	switch {
	case strings.TrimSpace(textBody) != "":
		content.Body = strings.TrimSpace(textBody)
	case strings.TrimSpace(htmlBody) != "":
		content.Body = HTMLToText(htmlBody)
	}

	return content
}

// fillHeaderFallback 在结构化解析失败时用 net/mail 尽力补齐头部字段。
func (c *Content) fillHeaderFallback(raw []byte) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return
	}
	if subject := strings.TrimSpace(msg.Header.Get("Subject")); subject != "" {
		c.Subject = capRunes(subject, maxSubjectChars)
	}
	c.Sender = capRunes(senderFromHeader(msg.Header.Get("From")), maxSenderChars)
}

// bodyAfterHeaders 返回头部之后的原始正文字节。
func bodyAfterHeaders(raw []byte) []byte {
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[idx+2:]
	}
	return raw
}

// senderFromHeader 把 From 头规整为展示用字符串，
// 优先 "Name <addr>" 的显示名，否则使用地址本身。
func senderFromHeader(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return from
	}
	if addr.Name != "" {
		return addr.Name + " <" + addr.Address + ">"
	}
	return addr.Address
}

// HTMLToText 把 HTML 片段剥离为纯文本：
// 丢弃 script/style 块，块级标签与 <br> 替换为换行，
// 其余标签删除后再解码 HTML 实体并压缩多余空行。
func HTMLToText(s string) string {
	s = scriptRe.ReplaceAllString(s, "")
	s = breakRe.ReplaceAllString(s, "\n")
	s = blockRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = newlinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// CapBody 将正文截断到 max 个字符，并在截断时附加提示尾注。
func CapBody(body string, max int) string {
	if max <= 0 {
		return body
	}
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	return string(runes[:max]) + truncationNotice
}

// capRunes 按字符数截断，避免把多字节字符切断。
func capRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
