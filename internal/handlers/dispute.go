// internal/handlers/dispute.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/asset-rental-backend/internal/i18n"
	"github.com/javajoker/asset-rental-backend/internal/services"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

type DisputeHandler struct {
	disputeService *services.DisputeService
}

func NewDisputeHandler(disputeService *services.DisputeService) *DisputeHandler {
	return &DisputeHandler{disputeService: disputeService}
}

// POST /disputes
func (h *DisputeHandler) OpenDispute(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.OpenDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	dispute, err := h.disputeService.Open(c.Request.Context(), caller, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyDisputeOpened),
		"dispute": dispute,
	})
}

// GET /disputes/:id
func (h *DisputeHandler) GetDispute(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	dispute, err := h.disputeService.Get(c.Request.Context(), caller, id)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, dispute)
}

// POST /disputes/:id/resolve
func (h *DisputeHandler) ResolveDispute(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req services.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	result, err := h.disputeService.Resolve(c.Request.Context(), caller, id, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":    i18n.T(lang, i18n.KeyDisputeResolved),
		"dispute":    result.Dispute,
		"rental":     result.Rental,
		"settlement": result.Settlement,
	})
}
