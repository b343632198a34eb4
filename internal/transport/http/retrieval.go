package httptransport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailecho/backend/internal/blob"
	"mailecho/backend/internal/config"
	"mailecho/backend/internal/storage"
)

// RetrievalHandler 提供原始邮件的取回链路。
//
// 通知里的链接指向稳定的 /email/:aliasID/:messageID，
// 点开时才签发短时效令牌并 302 到 /blob/:token。
// 令牌过期后回到稳定链接重签即可，通知不用重发。
type RetrievalHandler struct {
	store     storage.Store
	blobStore blob.Store
	signer    *blob.Signer // nil 表示取回功能未启用
	cfg       *config.Config
	log       *zap.Logger
}

// NewRetrievalHandler 创建取回处理器。
func NewRetrievalHandler(
	store storage.Store,
	blobStore blob.Store,
	signer *blob.Signer,
	cfg *config.Config,
	log *zap.Logger,
) *RetrievalHandler {
	return &RetrievalHandler{
		store:     store,
		blobStore: blobStore,
		signer:    signer,
		cfg:       cfg,
		log:       log,
	}
}

// Redirect GET /email/:aliasID/:messageID
func (h *RetrievalHandler) Redirect(c *gin.Context) {
	if h.signer == nil {
		NotFound(c, "retrieval not enabled")
		return
	}

	aliasID := c.Param("aliasID")
	messageID := c.Param("messageID")

	record, err := h.store.GetRecord(messageID)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			NotFound(c, "message not found or expired")
			return
		}
		h.log.Error("record lookup failed", zap.String("message_id", messageID), zap.Error(err))
		InternalError(c, "lookup failed")
		return
	}

	// 链接里的别名必须和记录一致，防止枚举别人的消息标识
	if record.AliasID != aliasID {
		NotFound(c, "message not found or expired")
		return
	}

	token, err := h.signer.Sign(record.BlobKey)
	if err != nil {
		h.log.Error("token signing failed", zap.String("message_id", messageID), zap.Error(err))
		InternalError(c, "signing failed")
		return
	}

	target := fmt.Sprintf("%s/blob/%s", strings.TrimRight(h.cfg.Retrieval.PublicBaseURL, "/"), token)
	c.Redirect(http.StatusFound, target)
}

// Download GET /blob/:token
func (h *RetrievalHandler) Download(c *gin.Context) {
	if h.signer == nil {
		NotFound(c, "retrieval not enabled")
		return
	}

	key, err := h.signer.Verify(c.Param("token"))
	if err != nil {
		switch {
		case errors.Is(err, blob.ErrExpiredToken):
			Error(c, http.StatusForbidden, CodeForbidden, "download link expired, open the email link again")
		default:
			Error(c, http.StatusForbidden, CodeForbidden, "invalid download token")
		}
		return
	}

	data, err := h.blobStore.Get(c.Request.Context(), key)
	if err != nil {
		h.log.Warn("blob fetch failed", zap.String("key", key), zap.Error(err))
		NotFound(c, "email no longer available")
		return
	}

	filename := blob.MessageIDFromKey(key)
	if filename == "" {
		filename = "email"
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename+".eml"))
	c.Header("Cache-Control", "private, max-age="+fmt.Sprint(int((5*time.Minute).Seconds())))
	c.Data(http.StatusOK, "message/rfc822", data)
}
