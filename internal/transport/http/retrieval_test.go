package httptransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailecho/backend/internal/blob"
	"mailecho/backend/internal/domain"
	"mailecho/backend/internal/storage/memory"
)

func seedRetrievalRecord(t *testing.T, store *memory.Store, blobs *memBlobStore) *domain.MessageRecord {
	t.Helper()
	now := time.Now().UTC()
	record := &domain.MessageRecord{
		MessageID:        "msg-1examplecom",
		AliasID:          "abc12345",
		OwnerRef:         "10001",
		RecipientAddress: "abc12345@example.com",
		BlobKey:          "abc12345/2026/08/24/msg-1examplecom-deadbeef.eml",
		ReceivedAt:       now,
		State:            domain.RecordStatePending,
		ExpiresAt:        now.Add(domain.RecordRetention),
		CreatedAt:        now,
	}
	require.NoError(t, store.SaveRecord(record))

	raw := []byte("From: a@b.com\r\nSubject: hello\r\n\r\nbody\r\n")
	require.NoError(t, blobs.Put(context.Background(), record.BlobKey, raw, blob.Metadata{}))
	return record
}

func TestRetrievalRedirectIssuesSignedLink(t *testing.T) {
	store := memory.NewStore()
	blobs := newMemBlobStore()
	record := seedRetrievalRecord(t, store, blobs)
	router := newTestRouter(t, store, blobs, "")

	req := httptest.NewRequest(http.MethodGet, "/email/abc12345/"+record.MessageID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "https://mail.example.com/blob/"))

	// 用签出来的令牌直接走下载端点
	token := strings.TrimPrefix(location, "https://mail.example.com/blob/")
	req = httptest.NewRequest(http.MethodGet, "/blob/"+token, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "message/rfc822", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "msg-1examplecom.eml")
	assert.Contains(t, w.Body.String(), "Subject: hello")
}

func TestRetrievalRedirectAliasMismatch(t *testing.T) {
	store := memory.NewStore()
	blobs := newMemBlobStore()
	record := seedRetrievalRecord(t, store, blobs)
	router := newTestRouter(t, store, blobs, "")

	req := httptest.NewRequest(http.MethodGet, "/email/other999/"+record.MessageID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetrievalRedirectUnknownMessage(t *testing.T) {
	router := newTestRouter(t, memory.NewStore(), newMemBlobStore(), "")

	req := httptest.NewRequest(http.MethodGet, "/email/abc12345/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetrievalDownloadExpiredToken(t *testing.T) {
	store := memory.NewStore()
	blobs := newMemBlobStore()
	record := seedRetrievalRecord(t, store, blobs)
	router := newTestRouter(t, store, blobs, "")

	expired := blob.NewSigner(newRouterTestConfig().Retrieval.SignSecret, -2*time.Minute)
	token, err := expired.Sign(record.BlobKey)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/blob/"+token, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "expired")
}

func TestRetrievalDownloadInvalidToken(t *testing.T) {
	router := newTestRouter(t, memory.NewStore(), newMemBlobStore(), "")

	req := httptest.NewRequest(http.MethodGet, "/blob/not-a-token", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "invalid")
}
