// internal/handlers/stream.go
package handlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/asset-rental-backend/internal/clock"
	"github.com/javajoker/asset-rental-backend/internal/i18n"
	"github.com/javajoker/asset-rental-backend/internal/services"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

type StreamHandler struct {
	engine *services.StreamEngine
	clock  clock.Clock
}

func NewStreamHandler(engine *services.StreamEngine, clk clock.Clock) *StreamHandler {
	return &StreamHandler{engine: engine, clock: clk}
}

// POST /streams
func (h *StreamHandler) OpenStream(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.OpenStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	params, err := h.engine.ParamsFromRequest(caller.ID, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	stream, err := h.engine.Open(c.Request.Context(), caller, params)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyStreamOpened),
		"stream":  stream,
	})
}

// GET /streams
func (h *StreamHandler) GetStreams(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	page := utils.GetPaginationParams(c)

	streams, total, err := h.engine.List(c.Request.Context(), caller, page)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(streams, total, page))
}

// GET /streams/:id
func (h *StreamHandler) GetStream(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	stream, err := h.engine.Get(c.Request.Context(), caller, id)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, stream)
}

// GET /streams/:id/balance?at=
// at accepts unix seconds or RFC 3339 and defaults to now.
func (h *StreamHandler) GetBalance(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	at := h.clock.Now()
	if raw := c.Query("at"); raw != "" {
		parsed, err := parseInstant(raw)
		if err != nil {
			utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyValidationInvalid, "at"), err.Error())
			return
		}
		at = parsed
	}

	if _, err := h.engine.Get(c.Request.Context(), caller, id); err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	balance, err := h.engine.AccruedBalance(c.Request.Context(), id, at)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, balance)
}

func parseInstant(raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}

// POST /streams/:id/withdraw
func (h *StreamHandler) Withdraw(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req services.WithdrawRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.engine.Withdraw(c.Request.Context(), caller, id, req.Amount)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyStreamWithdrawn),
		"paid":    result.Paid,
		"stream":  result.Stream,
	})
}

// POST /streams/:id/milestones/approve
func (h *StreamHandler) ApproveMilestone(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	stream, err := h.engine.ApproveMilestone(c.Request.Context(), caller, id)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyStreamMilestoneApproved),
		"stream":  stream,
	})
}

// POST /streams/:id/release
func (h *StreamHandler) Release(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	paid, err := h.engine.AutoRelease(c.Request.Context(), id)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyStreamReleased),
		"paid":    paid,
	})
}

// POST /streams/:id/cancel
func (h *StreamHandler) Cancel(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	settlement, err := h.engine.Cancel(c.Request.Context(), caller, id)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":    i18n.T(utils.GetLangFromContext(c), i18n.KeyStreamCancelled),
		"settlement": settlement,
	})
}

// POST /streams/:id/finalize
func (h *StreamHandler) Finalize(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	settlement, err := h.engine.Finalize(c.Request.Context(), caller, id)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":    i18n.T(utils.GetLangFromContext(c), i18n.KeyStreamFinalized),
		"settlement": settlement,
	})
}

// GET /streams/:id/settlement
func (h *StreamHandler) GetSettlement(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	settlement, err := h.engine.Settlement(c.Request.Context(), caller, id)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, settlement)
}
