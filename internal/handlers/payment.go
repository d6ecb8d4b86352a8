// internal/handlers/payment.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/asset-rental-backend/internal/i18n"
	"github.com/javajoker/asset-rental-backend/internal/services"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
	ledgerService  *services.LedgerService
}

func NewPaymentHandler(paymentService *services.PaymentService, ledgerService *services.LedgerService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		ledgerService:  ledgerService,
	}
}

// POST /payments/deposits/intent
func (h *PaymentHandler) CreateDepositIntent(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.CreateDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	intent, err := h.paymentService.CreateDepositIntent(c.Request.Context(), caller, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":        i18n.T(lang, i18n.KeyPaymentIntentCreated),
		"payment_intent": intent,
	})
}

// POST /payments/deposits/confirm
func (h *PaymentHandler) ConfirmDeposit(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.ConfirmDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	result, err := h.paymentService.ConfirmDeposit(c.Request.Context(), caller, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyPaymentConfirmed),
		"deposit": result,
	})
}

// POST /payments/payouts
func (h *PaymentHandler) RequestPayout(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.PayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	balance, err := h.ledgerService.Payout(c.Request.Context(), caller, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyPaymentPayout),
		"balance": balance,
	})
}

// GET /payments/balance
func (h *PaymentHandler) GetBalance(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	balance, err := h.ledgerService.Balance(c.Request.Context(), caller, caller.ID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, balance)
}

// GET /payments/entries
func (h *PaymentHandler) GetEntries(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	page := utils.GetPaginationParams(c)

	entries, total, err := h.ledgerService.Entries(c.Request.Context(), caller, caller.ID, page)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(entries, total, page))
}
