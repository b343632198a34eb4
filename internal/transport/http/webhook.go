package httptransport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailecho/backend/internal/config"
	"mailecho/backend/internal/domain"
	"mailecho/backend/internal/service"
	"mailecho/backend/internal/storage"
	"mailecho/backend/internal/telegram"
)

// botAPI Webhook 处理所需的 Bot API 能力。
type botAPI interface {
	SendMessage(ctx context.Context, req telegram.SendMessageRequest) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// WebhookHandler 处理 Telegram 推送的更新。
//
// 无论处理结果如何都回 200：非 2xx 会让 Telegram
// 反复重放同一条更新，重放比漏一条更糟。
type WebhookHandler struct {
	owners    *service.OwnerService
	aliases   *service.AliasService
	migration *service.MigrationService
	bot       botAPI
	botUser   *telegram.User
	cfg       *config.Config
	log       *zap.Logger
}

// NewWebhookHandler 创建 Webhook 处理器。
func NewWebhookHandler(
	owners *service.OwnerService,
	aliases *service.AliasService,
	migration *service.MigrationService,
	bot botAPI,
	botUser *telegram.User,
	cfg *config.Config,
	log *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		owners:    owners,
		aliases:   aliases,
		migration: migration,
		bot:       bot,
		botUser:   botUser,
		cfg:       cfg,
		log:       log,
	}
}

// Handle POST /telegram/webhook
func (h *WebhookHandler) Handle(c *gin.Context) {
	var update telegram.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.log.Warn("malformed webhook update", zap.Error(err))
		c.Status(http.StatusOK)
		return
	}

	ctx := c.Request.Context()
	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.Text != "":
		h.handleCommand(ctx, update.Message)
	}

	c.Status(http.StatusOK)
}

// handleCommand 处理聊天命令。
func (h *WebhookHandler) handleCommand(ctx context.Context, msg *telegram.Message) {
	ownerRef := strconv.FormatInt(msg.Chat.ID, 10)
	command, arg := splitCommand(msg.Text)

	owner, err := h.owners.EnsureOwner(ownerRef, msg.From, h.botUser)
	if err != nil {
		h.log.Error("owner upsert failed", zap.String("owner_ref", ownerRef), zap.Error(err))
		h.reply(ctx, msg.Chat.ID, "Something went wrong, please try again later.")
		return
	}

	switch command {
	case "/start":
		migrated, err := h.migration.RebindOwner(ownerRef)
		if err != nil {
			h.log.Error("owner rebind failed", zap.String("owner_ref", ownerRef), zap.Error(err))
		}
		text := fmt.Sprintf("Hi %s! I forward emails sent to your disposable addresses.\n\n"+
			"Commands:\n"+
			"/register - create a new address\n"+
			"/list - show your addresses\n"+
			"/disable <address> - stop receiving mail on an address", displayName(owner))
		if migrated > 0 {
			text += fmt.Sprintf("\n\nMoved %d of your addresses over to this bot. "+
				"Queued emails will be delivered shortly.", migrated)
		}
		h.reply(ctx, msg.Chat.ID, text)

	case "/register", "/newemail", "/create":
		alias, err := h.aliases.Provision(ctx, ownerRef, owner.BotID, owner.BotUsername)
		if err != nil {
			h.log.Error("alias provisioning failed", zap.String("owner_ref", ownerRef), zap.Error(err))
			h.reply(ctx, msg.Chat.ID, "Could not create an address right now, please try again.")
			return
		}
		h.reply(ctx, msg.Chat.ID, fmt.Sprintf("Your new address is ready:\n\n`%s`\n\n"+
			"Emails sent there will show up in this chat.", alias.Address))

	case "/list", "/aliases":
		aliases, err := h.aliases.List(ownerRef)
		if err != nil {
			h.log.Error("alias listing failed", zap.String("owner_ref", ownerRef), zap.Error(err))
			h.reply(ctx, msg.Chat.ID, "Could not load your addresses, please try again.")
			return
		}
		if len(aliases) == 0 {
			h.reply(ctx, msg.Chat.ID, "You have no addresses yet. Send /register to create one.")
			return
		}
		var b strings.Builder
		b.WriteString("Your addresses:\n")
		for _, alias := range aliases {
			if alias.Status == domain.AliasStatusDisabled {
				fmt.Fprintf(&b, "\n`%s` (disabled)", alias.Address)
			} else {
				fmt.Fprintf(&b, "\n`%s`", alias.Address)
			}
		}
		h.reply(ctx, msg.Chat.ID, b.String())

	case "/disable", "/deactivate":
		if arg == "" {
			h.reply(ctx, msg.Chat.ID, "Usage: /disable <address>")
			return
		}
		h.disableAlias(ctx, msg.Chat.ID, ownerRef, arg)

	default:
		h.reply(ctx, msg.Chat.ID, "Unknown command. Try /register, /list or /disable <address>.")
	}
}

// handleCallback 处理内联按钮点击。
func (h *WebhookHandler) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	// 不回应会让按钮一直转圈
	answer := func(text string) {
		if err := h.bot.AnswerCallbackQuery(ctx, cb.ID, text); err != nil {
			h.log.Warn("answer callback failed", zap.String("callback_id", cb.ID), zap.Error(err))
		}
	}

	if cb.Message == nil || !strings.HasPrefix(cb.Data, "disable:") {
		answer("")
		return
	}

	aliasID := strings.TrimPrefix(cb.Data, "disable:")
	ownerRef := strconv.FormatInt(cb.Message.Chat.ID, 10)

	alias, err := h.aliases.Disable(ctx, aliasID, ownerRef)
	switch {
	case err == nil:
		answer("Address disabled")
		h.reply(ctx, cb.Message.Chat.ID, fmt.Sprintf("`%s` is now disabled. "+
			"New emails to it will be dropped.", alias.Address))
	case storageNotFound(err):
		answer("Address not found")
	case errors.Is(err, service.ErrNotOwner):
		answer("This address belongs to someone else")
	default:
		h.log.Error("callback disable failed", zap.String("alias_id", aliasID), zap.Error(err))
		answer("Something went wrong")
	}
}

// disableAlias 处理 /disable 命令，接受裸标识或完整地址。
func (h *WebhookHandler) disableAlias(ctx context.Context, chatID int64, ownerRef, arg string) {
	aliasID := strings.ToLower(strings.TrimSpace(arg))
	if i := strings.IndexByte(aliasID, '@'); i >= 0 {
		aliasID = aliasID[:i]
	}

	alias, err := h.aliases.Disable(ctx, aliasID, ownerRef)
	switch {
	case err == nil:
		h.reply(ctx, chatID, fmt.Sprintf("`%s` is now disabled.", alias.Address))
	case storageNotFound(err):
		h.reply(ctx, chatID, "No such address. Send /list to see your addresses.")
	case errors.Is(err, service.ErrNotOwner):
		h.reply(ctx, chatID, "That address belongs to someone else.")
	default:
		h.log.Error("disable failed", zap.String("alias_id", aliasID), zap.Error(err))
		h.reply(ctx, chatID, "Could not disable the address, please try again.")
	}
}

func (h *WebhookHandler) reply(ctx context.Context, chatID int64, text string) {
	err := h.bot.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
	})
	if err != nil {
		h.log.Warn("webhook reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// splitCommand 拆出命令和参数，剥掉 /cmd@botname 的提及后缀。
func splitCommand(text string) (command, arg string) {
	text = strings.TrimSpace(text)
	command, arg, _ = strings.Cut(text, " ")
	if i := strings.IndexByte(command, '@'); i >= 0 {
		command = command[:i]
	}
	return strings.ToLower(command), strings.TrimSpace(arg)
}

func displayName(owner *domain.Owner) string {
	if owner.FirstName != "" {
		return owner.FirstName
	}
	if owner.Username != "" {
		return owner.Username
	}
	return "there"
}

func storageNotFound(err error) bool {
	return errors.Is(err, storage.ErrAliasNotFound) || errors.Is(err, storage.ErrOwnerNotFound)
}
