// internal/handlers/asset.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/asset-rental-backend/internal/i18n"
	"github.com/javajoker/asset-rental-backend/internal/services"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

type AssetHandler struct {
	registry *services.RegistryService
}

func NewAssetHandler(registry *services.RegistryService) *AssetHandler {
	return &AssetHandler{registry: registry}
}

// POST /assets
func (h *AssetHandler) RegisterAsset(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.RegisterAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	record, err := h.registry.RegisterAsset(c.Request.Context(), caller, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyAssetRegistered),
		"asset":   record,
	})
}

// GET /assets/:asset_id
func (h *AssetHandler) GetAsset(c *gin.Context) {
	record, err := h.registry.GetAsset(c.Request.Context(), c.Param("asset_id"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, record)
}

// GET /assets/:asset_id/access?user_id=
func (h *AssetHandler) CheckAccess(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	user := caller.ID
	if raw := c.Query("user_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyValidationInvalid, "user_id"), err.Error())
			return
		}
		user = parsed
	}

	grant, allowed, err := h.registry.HasAccess(c.Request.Context(), c.Param("asset_id"), user)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	resp := gin.H{
		"asset_id":   c.Param("asset_id"),
		"user_id":    user,
		"has_access": allowed,
	}
	if allowed {
		resp["until"] = grant.Until
	}
	utils.SuccessResponse(c, resp)
}
