// internal/services/admin_service.go
package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/store"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

type AdminService struct {
	store               store.Store
	reputation          *ReputationService
	notificationService *NotificationService
}

type AdminDashboardStats struct {
	TreasuryBalance int64 `json:"treasury_balance"`
	DepositsTotal   int64 `json:"deposits_total"`
	PayoutsTotal    int64 `json:"payouts_total"`
	ActiveRentals   int64 `json:"active_rentals"`
	DisputedRentals int64 `json:"disputed_rentals"`
	ActiveListings  int64 `json:"active_listings"`
}

type UpdateUserRoleRequest struct {
	Role models.Role `json:"role" validate:"required,oneof=user operator arbiter admin"`
}

type UpdateUserStatusRequest struct {
	Status models.UserStatus `json:"status" validate:"required,oneof=active suspended banned"`
	Reason string            `json:"reason" validate:"max=1000"`
}

func NewAdminService(st store.Store, reputation *ReputationService, notificationService *NotificationService) *AdminService {
	return &AdminService{
		store:               st,
		reputation:          reputation,
		notificationService: notificationService,
	}
}

// Dashboard Statistics
func (s *AdminService) GetDashboardStats(ctx context.Context) (*AdminDashboardStats, error) {
	stats := &AdminDashboardStats{}

	var err error
	if stats.TreasuryBalance, err = s.store.Ledger().Balance(ctx, models.TreasuryAccount); err != nil {
		return nil, err
	}
	// external accounts run negative as money enters and positive as it leaves
	deposits, err := s.store.Ledger().Balance(ctx, models.DepositsAccount)
	if err != nil {
		return nil, err
	}
	stats.DepositsTotal = -deposits
	if stats.PayoutsTotal, err = s.store.Ledger().Balance(ctx, models.PayoutsAccount); err != nil {
		return nil, err
	}

	one := store.Page{Page: 1, Limit: 1}
	if _, stats.ActiveRentals, err = s.store.Rentals().List(ctx, store.RentalFilter{Status: models.RentalStatusActive}, one); err != nil {
		return nil, err
	}
	if _, stats.DisputedRentals, err = s.store.Rentals().List(ctx, store.RentalFilter{Status: models.RentalStatusDisputed}, one); err != nil {
		return nil, err
	}
	if _, stats.ActiveListings, err = s.store.Listings().List(ctx, store.ListingFilter{ActiveOnly: true}, one); err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *AdminService) UpdateUserRole(ctx context.Context, admin models.Caller, userID uuid.UUID, req *UpdateUserRoleRequest) (*models.User, error) {
	if err := utils.ValidateRequest(req); err != nil {
		return nil, err
	}
	if admin.ID == userID {
		return nil, apperrors.Validation("admins cannot change their own role")
	}

	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	oldRole := user.Role
	user.Role = req.Role
	if err := s.store.Users().Update(ctx, user); err != nil {
		return nil, err
	}

	s.createAuditLog(ctx, admin.ID, "UPDATE_USER_ROLE", "user", &userID,
		map[string]interface{}{"from": oldRole, "to": req.Role})
	return user, nil
}

func (s *AdminService) UpdateUserStatus(ctx context.Context, admin models.Caller, userID uuid.UUID, req *UpdateUserStatusRequest) (*models.User, error) {
	if err := utils.ValidateRequest(req); err != nil {
		return nil, err
	}

	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Prevent admins from modifying other admins
	if user.Role == models.RoleAdmin && user.ID != admin.ID {
		return nil, apperrors.Unauthorized("cannot modify admin user status")
	}

	oldStatus := user.Status
	user.Status = req.Status
	if err := s.store.Users().Update(ctx, user); err != nil {
		return nil, err
	}

	s.createAuditLog(ctx, admin.ID, "UPDATE_USER_STATUS", "user", &userID,
		map[string]interface{}{"from": oldStatus, "to": req.Status, "reason": req.Reason})
	return user, nil
}

func (s *AdminService) UpdateReputation(ctx context.Context, admin models.Caller, userID uuid.UUID, req *ReputationFlagsRequest) (*models.ReputationProfile, error) {
	if err := utils.ValidateRequest(req); err != nil {
		return nil, err
	}

	profile, err := s.reputation.SetFlags(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	s.createAuditLog(ctx, admin.ID, "UPDATE_REPUTATION", "reputation", &userID,
		map[string]interface{}{
			"score":       profile.Score,
			"whitelisted": profile.Whitelisted,
			"blacklisted": profile.Blacklisted,
		})
	return profile, nil
}

func (s *AdminService) GetNotifications(ctx context.Context, page store.Page) ([]models.AdminNotification, int64, error) {
	return s.notificationService.List(ctx, page)
}

// Helper methods
func (s *AdminService) createAuditLog(ctx context.Context, userID uuid.UUID, action, resourceType string, resourceID *uuid.UUID, newValues map[string]interface{}) {
	auditLog := &models.AuditLog{
		UserID:       &userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		NewValues:    models.JSONB(newValues),
	}

	if err := s.store.Admin().CreateAuditLog(ctx, auditLog); err != nil {
		logrus.WithError(err).WithField("action", action).Warn("Failed to write audit log")
	}
}
