package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailecho/backend/internal/domain"
	"mailecho/backend/internal/storage/memory"
)

func TestReapExpired(t *testing.T) {
	store := memory.NewStore()
	svc := NewRetentionService(store, testMetrics, zap.NewNop())

	now := time.Now().UTC()
	require.NoError(t, store.SaveRecord(&domain.MessageRecord{
		MessageID: "old1", AliasID: "a", OwnerRef: "1",
		BlobKey: "a/2026/08/01/old1-deadbeef.eml", ReceivedAt: now.Add(-15 * 24 * time.Hour),
		State: domain.RecordStateProcessed, ExpiresAt: now.Add(-24 * time.Hour),
		CreatedAt: now.Add(-15 * 24 * time.Hour),
	}))
	require.NoError(t, store.SaveRecord(&domain.MessageRecord{
		MessageID: "new1", AliasID: "a", OwnerRef: "1",
		BlobKey: "a/2026/08/24/new1-deadbeef.eml", ReceivedAt: now,
		State: domain.RecordStatePending, ExpiresAt: now.Add(domain.RecordRetention),
		CreatedAt: now,
	}))

	removed, err := svc.ReapExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.GetRecord("old1")
	assert.Error(t, err)
	_, err = store.GetRecord("new1")
	assert.NoError(t, err)
}
