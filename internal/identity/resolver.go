package identity

import (
	"net/mail"
	"strings"
	"time"
)

// aliasHeaders 按可信度降序排列的候选收件头。
// 转发和 catch-all 路由会改写收件人，所以先查投递链路写入的头，
// 最后才回落到发件人填写的 To。
var aliasHeaders = []string{"X-Original-To", "Delivered-To", "To", "Envelope-To"}

// minLocalPartLength 过滤解析碎屑产生的超短 local-part。
const minLocalPartLength = 3

// maxMessageIDLength 推导出的消息标识长度上限。
const maxMessageIDLength = 100

// ExtractAlias 从邮件头中解析别名归属。
// 返回别名标识（local-part 小写）和完整收件地址；无法解析时均为空串。
func ExtractAlias(header mail.Header) (aliasID, address string) {
	for _, name := range aliasHeaders {
		value := header.Get(name)
		if value == "" {
			continue
		}

		for _, addr := range parseAddresses(value) {
			addr = strings.ToLower(addr)
			at := strings.Index(addr, "@")
			if at < 0 {
				continue
			}
			localPart := addr[:at]
			if len(localPart) >= minLocalPartLength {
				return localPart, addr
			}
		}
	}
	return "", ""
}

// parseAddresses 解析一个地址头的所有地址。
// 标准解析失败时退化为逗号切分，尽量从畸形头里捞出可用地址。
func parseAddresses(value string) []string {
	if list, err := mail.ParseAddressList(value); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, a.Address)
		}
		return out
	}

	var out []string
	for _, piece := range strings.Split(value, ",") {
		piece = strings.TrimSpace(piece)
		if i := strings.IndexByte(piece, '<'); i >= 0 {
			if j := strings.IndexByte(piece[i:], '>'); j > 0 {
				piece = piece[i+1 : i+j]
			}
		}
		if strings.Contains(piece, "@") {
			out = append(out, piece)
		}
	}
	return out
}

// SanitizeMessageID 清洗 Message-ID 头的值：去掉首尾空白和尖括号，
// 只保留字母、数字、连字符和下划线，截断到长度上限。
// 清洗后为空时返回空串。
func SanitizeMessageID(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "<>")

	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}

	out := b.String()
	if out == "" {
		return ""
	}
	if len(out) > maxMessageIDLength {
		out = out[:maxMessageIDLength]
	}
	return out
}

// DeriveMessageID 为一封邮件推导稳定的去重标识。
//
// 优先使用发件方分配的 Message-ID 头，保证同一封物理邮件在崩溃重投后
// 仍推导出同一个标识。头缺失或清洗后为空时，回落到传输层 UID 加时间戳
// 的合成标识——碰撞抗性较弱，但 UID 在单个信箱会话内已经唯一。
func DeriveMessageID(header mail.Header, transportUID string, now time.Time) string {
	if id := SanitizeMessageID(header.Get("Message-ID")); id != "" {
		return id
	}
	return "mail-" + transportUID + "-" + now.UTC().Format("20060102150405")
}

// ParseReceivedAt 解析邮件的接收时间（UTC）。Date 头缺失或非法时取当前时间。
func ParseReceivedAt(header mail.Header, now time.Time) time.Time {
	if value := header.Get("Date"); value != "" {
		if t, err := mail.ParseDate(value); err == nil {
			return t.UTC()
		}
	}
	return now.UTC()
}
