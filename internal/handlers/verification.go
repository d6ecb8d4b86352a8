// internal/handlers/verification.go
package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/asset-rental-backend/internal/services"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

// ReceiptFetcher reads archived settlement receipts.
type ReceiptFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

type VerificationHandler struct {
	engine   *services.StreamEngine
	receipts ReceiptFetcher
}

func NewVerificationHandler(engine *services.StreamEngine, receipts ReceiptFetcher) *VerificationHandler {
	return &VerificationHandler{
		engine:   engine,
		receipts: receipts,
	}
}

// GET /verify/settlements/:id
// Checks the archived receipt of stream :id against the recorded hash.
func (h *VerificationHandler) VerifySettlement(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	streamID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	settlement, err := h.engine.Settlement(c.Request.Context(), caller, streamID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	data, err := h.receipts.Fetch(c.Request.Context(), services.ReceiptKey(streamID))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"verified":     utils.ValidateHash(data, settlement.ReceiptHash),
		"settlement":   settlement,
		"receipt_hash": settlement.ReceiptHash,
		"receipt_url":  settlement.ReceiptURL,
	})
}
