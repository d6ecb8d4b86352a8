// internal/handlers/admin.go
package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/asset-rental-backend/internal/i18n"
	"github.com/javajoker/asset-rental-backend/internal/services"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

// JobRunner triggers a scheduled job outside its schedule.
type JobRunner interface {
	RunOnce(ctx context.Context, name string) (int, error)
}

type AdminHandler struct {
	adminService  *services.AdminService
	userService   *services.UserService
	ledgerService *services.LedgerService
	jobs          JobRunner
}

func NewAdminHandler(adminService *services.AdminService, userService *services.UserService, ledgerService *services.LedgerService, jobs JobRunner) *AdminHandler {
	return &AdminHandler{
		adminService:  adminService,
		userService:   userService,
		ledgerService: ledgerService,
		jobs:          jobs,
	}
}

// GET /admin/dashboard/stats
func (h *AdminHandler) GetDashboardStats(c *gin.Context) {
	stats, err := h.adminService.GetDashboardStats(c.Request.Context())
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, stats)
}

// GET /admin/users/:id
func (h *AdminHandler) GetUser(c *gin.Context) {
	userID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	profile, err := h.userService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, profile)
}

// PUT /admin/users/:id/role
func (h *AdminHandler) UpdateUserRole(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	admin, ok := requireCaller(c)
	if !ok {
		return
	}
	userID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req services.UpdateUserRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	user, err := h.adminService.UpdateUserRole(c.Request.Context(), admin, userID, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeySuccess),
		"user":    user,
	})
}

// PUT /admin/users/:id/status
func (h *AdminHandler) UpdateUserStatus(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	admin, ok := requireCaller(c)
	if !ok {
		return
	}
	userID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req services.UpdateUserStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	user, err := h.adminService.UpdateUserStatus(c.Request.Context(), admin, userID, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeySuccess),
		"user":    user,
	})
}

// PUT /admin/users/:id/reputation
func (h *AdminHandler) UpdateReputation(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	admin, ok := requireCaller(c)
	if !ok {
		return
	}
	userID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req services.ReputationFlagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	profile, err := h.adminService.UpdateReputation(c.Request.Context(), admin, userID, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":    i18n.T(lang, i18n.KeySuccess),
		"reputation": profile,
	})
}

// GET /admin/notifications
func (h *AdminHandler) GetNotifications(c *gin.Context) {
	page := utils.GetPaginationParams(c)

	notifications, total, err := h.adminService.GetNotifications(c.Request.Context(), page)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(notifications, total, page))
}

// GET /admin/ledger/:account
func (h *AdminHandler) GetAccountBalance(c *gin.Context) {
	balance, err := h.ledgerService.AccountBalance(c.Request.Context(), c.Param("account"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, balance)
}

// POST /admin/jobs/:name/run
func (h *AdminHandler) RunJob(c *gin.Context) {
	processed, err := h.jobs.RunOnce(c.Request.Context(), c.Param("name"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"job":       c.Param("name"),
		"processed": processed,
	})
}
