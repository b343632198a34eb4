package blob

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const keySuffixLength = 8

// BuildKey 构造原始邮件的存储键：
//
//	<aliasID>/<YYYY>/<MM>/<DD>/<messageID>-<8位十六进制后缀>.eml
//
// 按别名和日期分区便于保留策略和人工排查；随机后缀避免同一标识在
// 重试竞争下互相覆盖，且无需加锁。两次调用必然产生不同的键。
func BuildKey(aliasID string, receivedAt time.Time, messageID string) string {
	var b strings.Builder
	for _, r := range messageID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:keySuffixLength]
	datePrefix := receivedAt.UTC().Format("2006/01/02")

	return aliasID + "/" + datePrefix + "/" + b.String() + "-" + suffix + ".eml"
}

// MessageIDFromKey 是 BuildKey 的逆运算：从存储键还原消息标识，
// 包括剥掉随机后缀。键形状不符时返回空串。
func MessageIDFromKey(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) < 4 {
		return ""
	}

	filename, ok := strings.CutSuffix(parts[len(parts)-1], ".eml")
	if !ok {
		return ""
	}

	// 剥掉 "-<8位十六进制>" 后缀
	if i := strings.LastIndexByte(filename, '-'); i >= 0 {
		suffix := filename[i+1:]
		if len(suffix) == keySuffixLength && isHex(suffix) {
			return filename[:i]
		}
	}
	return filename
}

// LegacyMessageIDFromKey 旧键形状的启发式还原：取文件名第一个连字符
// 之前的部分。只在主推导查不到记录时作为兜底。
func LegacyMessageIDFromKey(key string) string {
	parts := strings.Split(key, "/")
	filename, ok := strings.CutSuffix(parts[len(parts)-1], ".eml")
	if !ok {
		return ""
	}
	if i := strings.IndexByte(filename, '-'); i >= 0 {
		return filename[:i]
	}
	return filename
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
