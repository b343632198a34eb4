package httptransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailecho/backend/internal/domain"
	"mailecho/backend/internal/service"
	"mailecho/backend/internal/storage/memory"
	"mailecho/backend/internal/telegram"
)

type fakeBot struct {
	sent     []telegram.SendMessageRequest
	answered []string
}

func (f *fakeBot) SendMessage(_ context.Context, req telegram.SendMessageRequest) error {
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeBot) AnswerCallbackQuery(_ context.Context, callbackID, _ string) error {
	f.answered = append(f.answered, callbackID)
	return nil
}

type fakeRoutes struct{}

func (fakeRoutes) Name() string                                         { return "fake" }
func (fakeRoutes) CreateRoute(_ context.Context, addr string) (string, error) { return addr, nil }
func (fakeRoutes) DisableRoute(_ context.Context, _ string) error       { return nil }

type webhookFixture struct {
	router *gin.Engine
	bot    *fakeBot
	store  *memory.Store
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	log := zap.NewNop()
	cfg := newRouterTestConfig()

	owners := service.NewOwnerService(store, log)
	aliases := service.NewAliasService(store, fakeRoutes{}, cfg, routerTestMetrics, log)
	migration := service.NewMigrationService(store, routerTestMetrics, log)
	migration.SetBotIdentity("77", "mailecho_bot")

	bot := &fakeBot{}
	botUser := &telegram.User{ID: 77, Username: "mailecho_bot", IsBot: true}
	handler := NewWebhookHandler(owners, aliases, migration, bot, botUser, cfg, log)

	router := gin.New()
	router.POST("/telegram/webhook", handler.Handle)
	return &webhookFixture{router: router, bot: bot, store: store}
}

func (f *webhookFixture) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func textUpdate(text string) string {
	return `{"update_id":1,"message":{"message_id":5,"chat":{"id":10001,"type":"private"},` +
		`"from":{"id":10001,"username":"alice","first_name":"Alice"},"text":"` + text + `"}}`
}

func TestWebhookStartCreatesOwner(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.post(t, textUpdate("/start"))
	assert.Equal(t, http.StatusOK, w.Code)

	owner, err := f.store.GetOwner("10001")
	require.NoError(t, err)
	assert.Equal(t, "alice", owner.Username)
	assert.Equal(t, "77", owner.BotID)

	require.Len(t, f.bot.sent, 1)
	assert.Contains(t, f.bot.sent[0].Text, "Hi Alice!")
}

func TestWebhookRegisterProvisionsAlias(t *testing.T) {
	f := newWebhookFixture(t)
	f.post(t, textUpdate("/start"))

	w := f.post(t, textUpdate("/register@mailecho_bot"))
	assert.Equal(t, http.StatusOK, w.Code)

	aliases, err := f.store.ListAliasesByOwner("10001")
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	assert.Contains(t, f.bot.sent[len(f.bot.sent)-1].Text, aliases[0].Address)
}

func TestWebhookListAndDisable(t *testing.T) {
	f := newWebhookFixture(t)
	f.post(t, textUpdate("/start"))
	f.post(t, textUpdate("/register"))

	aliases, err := f.store.ListAliasesByOwner("10001")
	require.NoError(t, err)
	address := aliases[0].Address

	f.post(t, textUpdate("/list"))
	assert.Contains(t, f.bot.sent[len(f.bot.sent)-1].Text, address)

	// 完整地址形式的 /disable
	f.post(t, textUpdate("/disable "+address))
	disabled, err := f.store.GetAlias(aliases[0].AliasID)
	require.NoError(t, err)
	assert.Equal(t, domain.AliasStatusDisabled, disabled.Status)
	assert.Contains(t, f.bot.sent[len(f.bot.sent)-1].Text, "disabled")
}

func TestWebhookDisableUnknownAlias(t *testing.T) {
	f := newWebhookFixture(t)
	f.post(t, textUpdate("/start"))

	f.post(t, textUpdate("/disable nosuch99"))
	assert.Contains(t, f.bot.sent[len(f.bot.sent)-1].Text, "No such address")
}

func TestWebhookCallbackDisable(t *testing.T) {
	f := newWebhookFixture(t)
	f.post(t, textUpdate("/start"))
	f.post(t, textUpdate("/register"))

	aliases, err := f.store.ListAliasesByOwner("10001")
	require.NoError(t, err)

	body := `{"update_id":2,"callback_query":{"id":"cb1","data":"disable:` + aliases[0].AliasID + `",` +
		`"from":{"id":10001},"message":{"message_id":6,"chat":{"id":10001}}}}`
	w := f.post(t, body)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []string{"cb1"}, f.bot.answered)
	disabled, err := f.store.GetAlias(aliases[0].AliasID)
	require.NoError(t, err)
	assert.Equal(t, domain.AliasStatusDisabled, disabled.Status)
}

func TestWebhookMalformedUpdateStill200(t *testing.T) {
	f := newWebhookFixture(t)
	w := f.post(t, `{not json`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.bot.sent)
}

func TestWebhookStartRebindsAliases(t *testing.T) {
	f := newWebhookFixture(t)

	now := time.Now().UTC()
	require.NoError(t, f.store.SaveAlias(&domain.Alias{
		AliasID: "stale111", OwnerRef: "10001", Address: "stale111@example.com",
		Status: domain.AliasStatusActive, BotID: "oldbot", CreatedAt: now,
	}))

	f.post(t, textUpdate("/start"))

	alias, err := f.store.GetAlias("stale111")
	require.NoError(t, err)
	assert.Equal(t, "77", alias.BotID)
	assert.Contains(t, f.bot.sent[0].Text, "Moved 1 of your addresses")
}
