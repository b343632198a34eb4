package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailecho/backend/internal/blob"
)

func TestPutAndGet(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	key := "alias123/2025/01/02/msg-deadbeef.eml"
	raw := []byte("From: a@b\r\n\r\nhello")

	err = store.Put(context.Background(), key, raw, blob.Metadata{
		"alias_id":   "alias123",
		"message_id": "msg",
	})
	require.NoError(t, err)

	got, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	// sidecar 元数据存在
	_, err = os.Stat(filepath.Join(store.BasePath(), "alias123/2025/01/02/msg-deadbeef.eml.meta.json"))
	assert.NoError(t, err)
}

func TestGetMissingBlob(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "alias/2025/01/02/nothing-deadbeef.eml")
	assert.Error(t, err)
}

func TestRejectsEscapingKeys(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	err = store.Put(context.Background(), "../outside.eml", []byte("x"), nil)
	assert.Error(t, err)

	_, err = store.Get(context.Background(), "../../etc/passwd")
	assert.Error(t, err)
}
