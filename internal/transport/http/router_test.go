package httptransport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"mailecho/backend/internal/blob"
	"mailecho/backend/internal/config"
	"mailecho/backend/internal/domain"
	"mailecho/backend/internal/monitoring"
	"mailecho/backend/internal/service"
	"mailecho/backend/internal/storage/memory"
	"mailecho/backend/internal/telegram"
)

// 指标注册表是全局的，整个包的测试共享一个实例。
var routerTestMetrics = monitoring.NewMetrics()

func newRouterTestConfig() *config.Config {
	return &config.Config{
		Mail: config.MailConfig{
			Domain: "example.com", AliasLength: 8, MaxBodyChars: 15000,
			ExcerptChars: 1000, DeliveryTries: 3,
		},
		Retrieval: config.RetrievalConfig{
			PublicBaseURL: "https://mail.example.com",
			SignSecret:    "0123456789abcdef0123456789abcdef",
			SignTTL:       15 * time.Minute,
		},
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

type memBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (m *memBlobStore) Put(_ context.Context, key string, data []byte, _ blob.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	return nil
}

func (m *memBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", key)
	}
	return data, nil
}

func newTestRouter(t *testing.T, store *memory.Store, blobs *memBlobStore, apiKeyHash string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := newRouterTestConfig()
	cfg.Provision.APIKeyHash = apiKeyHash
	log := zap.NewNop()

	signer := blob.NewSigner(cfg.Retrieval.SignSecret, cfg.Retrieval.SignTTL)

	return NewRouter(RouterDependencies{
		Config:           cfg,
		OwnerService:     service.NewOwnerService(store, log),
		AliasService:     service.NewAliasService(store, fakeRoutes{}, cfg, routerTestMetrics, log),
		MigrationService: service.NewMigrationService(store, routerTestMetrics, log),
		Store:            store,
		BlobStore:        blobs,
		Signer:           signer,
		Bot:              telegram.NewClient("t", "http://127.0.0.1:0", log),
		BotUser:          &telegram.User{ID: 77, Username: "mailecho_bot"},
		Metrics:          routerTestMetrics,
		Logger:           log,
	})
}

func TestProvisionAPIRequiresKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-key"), bcrypt.MinCost)
	require.NoError(t, err)

	store := memory.NewStore()
	require.NoError(t, store.SaveOwner(&domain.Owner{
		OwnerRef: "10001", Status: domain.OwnerStatusActive, CreatedAt: time.Now().UTC(),
	}))
	router := newTestRouter(t, store, newMemBlobStore(), string(hash))

	body := `{"owner_ref":"10001"}`

	// 没有 key
	req := httptest.NewRequest(http.MethodPost, "/v1/aliases", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 错误的 key
	req = httptest.NewRequest(http.MethodPost, "/v1/aliases", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 正确的 key
	req = httptest.NewRequest(http.MethodPost, "/v1/aliases", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "secret-key")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	aliases, err := store.ListAliasesByOwner("10001")
	require.NoError(t, err)
	assert.Len(t, aliases, 1)
}

func TestProvisionAPIDisabledWithoutHash(t *testing.T) {
	router := newTestRouter(t, memory.NewStore(), newMemBlobStore(), "")

	req := httptest.NewRequest(http.MethodPost, "/v1/aliases", strings.NewReader(`{"owner_ref":"10001"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "anything")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, memory.NewStore(), newMemBlobStore(), "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mailecho_")
}
