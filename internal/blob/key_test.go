package blob

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildKeyStructure(t *testing.T) {
	receivedAt := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	key := BuildKey("alias123", receivedAt, "msg-ABC_123")

	assert.True(t, strings.HasSuffix(key, ".eml"))

	parts := strings.Split(key, "/")
	require.Len(t, parts, 5)
	assert.Equal(t, "alias123", parts[0])
	assert.Equal(t, "2025", parts[1])
	assert.Equal(t, "01", parts[2])
	assert.Equal(t, "02", parts[3])

	last := parts[4]
	assert.True(t, strings.HasPrefix(last, "msg-ABC_123-"))

	suffix := strings.TrimSuffix(strings.TrimPrefix(last, "msg-ABC_123-"), ".eml")
	assert.Len(t, suffix, 8)
	assert.True(t, isHex(suffix), "suffix should be lowercase hex: %q", suffix)
}

func TestBuildKeyUniqueSuffixDiffersForEachCall(t *testing.T) {
	receivedAt := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	key1 := BuildKey("alias123", receivedAt, "msg-ABC_123")
	key2 := BuildKey("alias123", receivedAt, "msg-ABC_123")

	assert.NotEqual(t, key1, key2)
}

func TestBuildKeyStripsUnsafeCharacters(t *testing.T) {
	receivedAt := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	key := BuildKey("alias123", receivedAt, "msg.with@odd/chars")

	parts := strings.Split(key, "/")
	require.Len(t, parts, 5)
	assert.True(t, strings.HasPrefix(parts[4], "msgwithoddchars-"))
}

func TestMessageIDFromKeyRoundTrip(t *testing.T) {
	receivedAt := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	key := BuildKey("alias123", receivedAt, "msg-ABC_123")
	assert.Equal(t, "msg-ABC_123", MessageIDFromKey(key))
}

func TestMessageIDFromKeyRejectsBadShapes(t *testing.T) {
	assert.Empty(t, MessageIDFromKey("not-a-key"))
	assert.Empty(t, MessageIDFromKey("alias/2025/01/02/file.txt"))
	assert.Empty(t, MessageIDFromKey("alias/file.eml"))
}

func TestMessageIDFromKeyKeepsNonSuffixDashes(t *testing.T) {
	// 非 8 位十六进制的尾段不是随机后缀，不应被剥掉
	id := MessageIDFromKey("alias/2025/01/02/msg-part-two.eml")
	assert.Equal(t, "msg-part-two", id)
}

func TestLegacyMessageIDFromKey(t *testing.T) {
	assert.Equal(t, "msg", LegacyMessageIDFromKey("alias/2025/01/02/msg-deadbeef.eml"))
	assert.Equal(t, "plain", LegacyMessageIDFromKey("alias/2025/01/02/plain.eml"))
	assert.Empty(t, LegacyMessageIDFromKey("alias/2025/01/02/file.txt"))
}
