// internal/handlers/rental.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/asset-rental-backend/internal/i18n"
	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/services"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

type RentalHandler struct {
	rentalService *services.RentalService
}

func NewRentalHandler(rentalService *services.RentalService) *RentalHandler {
	return &RentalHandler{rentalService: rentalService}
}

// POST /listings/:id/rent
func (h *RentalHandler) Rent(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	listingID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req services.RentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	result, err := h.rentalService.Rent(c.Request.Context(), caller, listingID, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyRentalCreated),
		"rental":  result.Rental,
		"stream":  result.Stream,
	})
}

// GET /rentals
func (h *RentalHandler) GetRentals(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	page := utils.GetPaginationParams(c)

	rentals, total, err := h.rentalService.ListRentals(c.Request.Context(), caller, models.RentalStatus(c.Query("status")), page)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(rentals, total, page))
}

// GET /rentals/:id
func (h *RentalHandler) GetRental(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	rental, err := h.rentalService.GetRental(c.Request.Context(), caller, id)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, rental)
}

// GET /rentals/:id/events
func (h *RentalHandler) GetEvents(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	page := utils.GetPaginationParams(c)

	events, total, err := h.rentalService.Events(c.Request.Context(), caller, id, page)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(events, total, page))
}

// POST /rentals/:id/complete
func (h *RentalHandler) Complete(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	result, err := h.rentalService.Complete(c.Request.Context(), caller, id)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":    i18n.T(utils.GetLangFromContext(c), i18n.KeyRentalCompleted),
		"rental":     result.Rental,
		"settlement": result.Settlement,
	})
}

// POST /rentals/:id/cancel
func (h *RentalHandler) Cancel(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req services.CancelRentalRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.rentalService.Cancel(c.Request.Context(), caller, id, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":    i18n.T(utils.GetLangFromContext(c), i18n.KeyRentalCancelled),
		"rental":     result.Rental,
		"settlement": result.Settlement,
	})
}
