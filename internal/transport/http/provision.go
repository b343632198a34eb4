package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailecho/backend/internal/service"
	"mailecho/backend/internal/storage"
)

// ProvisionHandler 面向外部编排系统的管理接口。
// Telegram 之外的渠道（运营脚本、后台）用它批量
// 管理别名，认证靠 API Key 中间件。
type ProvisionHandler struct {
	owners  *service.OwnerService
	aliases *service.AliasService
	log     *zap.Logger
}

// NewProvisionHandler 创建管理接口处理器。
func NewProvisionHandler(owners *service.OwnerService, aliases *service.AliasService, log *zap.Logger) *ProvisionHandler {
	return &ProvisionHandler{owners: owners, aliases: aliases, log: log}
}

type createAliasRequest struct {
	OwnerRef string `json:"owner_ref" binding:"required"`
}

// CreateAlias POST /v1/aliases
func (h *ProvisionHandler) CreateAlias(c *gin.Context) {
	var req createAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "owner_ref is required")
		return
	}

	owner, err := h.owners.GetOwner(req.OwnerRef)
	if err != nil {
		if errors.Is(err, storage.ErrOwnerNotFound) {
			NotFound(c, "owner not found")
			return
		}
		h.log.Error("owner lookup failed", zap.String("owner_ref", req.OwnerRef), zap.Error(err))
		InternalError(c, "lookup failed")
		return
	}

	alias, err := h.aliases.Provision(c.Request.Context(), owner.OwnerRef, owner.BotID, owner.BotUsername)
	if err != nil {
		h.log.Error("alias provisioning failed", zap.String("owner_ref", req.OwnerRef), zap.Error(err))
		InternalError(c, "provisioning failed")
		return
	}

	Created(c, alias)
}

// ListAliases GET /v1/owners/:ownerRef/aliases
func (h *ProvisionHandler) ListAliases(c *gin.Context) {
	ownerRef := c.Param("ownerRef")

	aliases, err := h.aliases.List(ownerRef)
	if err != nil {
		h.log.Error("alias listing failed", zap.String("owner_ref", ownerRef), zap.Error(err))
		InternalError(c, "listing failed")
		return
	}

	Success(c, aliases)
}

// DisableAlias DELETE /v1/aliases/:aliasID?owner_ref=...
func (h *ProvisionHandler) DisableAlias(c *gin.Context) {
	aliasID := c.Param("aliasID")
	ownerRef := c.Query("owner_ref")
	if ownerRef == "" {
		BadRequest(c, "owner_ref query parameter is required")
		return
	}

	alias, err := h.aliases.Disable(c.Request.Context(), aliasID, ownerRef)
	switch {
	case err == nil:
		Success(c, alias)
	case errors.Is(err, storage.ErrAliasNotFound):
		NotFound(c, "alias not found")
	case errors.Is(err, service.ErrNotOwner):
		Error(c, 403, CodeForbidden, "alias not owned by owner_ref")
	default:
		h.log.Error("alias disable failed", zap.String("alias_id", aliasID), zap.Error(err))
		InternalError(c, "disable failed")
	}
}
