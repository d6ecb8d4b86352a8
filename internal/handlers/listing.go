// internal/handlers/listing.go
package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/asset-rental-backend/internal/i18n"
	"github.com/javajoker/asset-rental-backend/internal/services"
	"github.com/javajoker/asset-rental-backend/internal/store"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

type ListingHandler struct {
	rentalService *services.RentalService
}

func NewListingHandler(rentalService *services.RentalService) *ListingHandler {
	return &ListingHandler{rentalService: rentalService}
}

// POST /listings
func (h *ListingHandler) CreateListing(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req services.ListAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	listing, err := h.rentalService.ListAsset(c.Request.Context(), caller, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyListingCreated),
		"listing": listing,
	})
}

// GET /listings
func (h *ListingHandler) GetListings(c *gin.Context) {
	page := utils.GetPaginationParams(c)

	filter := store.ListingFilter{
		AssetID:    c.Query("asset_id"),
		ActiveOnly: c.DefaultQuery("active", "true") == "true",
	}
	if holder := c.Query("holder_id"); holder != "" {
		if holderID, err := uuid.Parse(holder); err == nil {
			filter.HolderID = &holderID
		}
	}

	listings, total, err := h.rentalService.ListListings(c.Request.Context(), filter, page)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(listings, total, page))
}

// GET /listings/:id
func (h *ListingHandler) GetListing(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	listing, err := h.rentalService.GetListing(c.Request.Context(), id)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, listing)
}

// GET /listings/:id/quote?duration=
func (h *ListingHandler) Quote(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	duration, err := strconv.ParseInt(c.Query("duration"), 10, 64)
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyValidationInvalid, "duration"), err.Error())
		return
	}

	quote, err := h.rentalService.Quote(c.Request.Context(), caller, id, duration)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, quote)
}

// POST /listings/:id/activate
func (h *ListingHandler) Activate(c *gin.Context) {
	h.setActive(c, true, i18n.KeyListingActivated)
}

// POST /listings/:id/deactivate
func (h *ListingHandler) Deactivate(c *gin.Context) {
	h.setActive(c, false, i18n.KeyListingDeactivated)
}

func (h *ListingHandler) setActive(c *gin.Context, active bool, key string) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	listing, err := h.rentalService.SetListingActive(c.Request.Context(), caller, id, active)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(utils.GetLangFromContext(c), key),
		"listing": listing,
	})
}
