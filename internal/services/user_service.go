// internal/services/user_service.go
package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/store"
)

type UserService struct {
	store      store.Store
	reputation ReputationOracle
}

type UserProfile struct {
	User       *models.User              `json:"user"`
	Balance    int64                     `json:"balance"`
	Reputation *models.ReputationProfile `json:"reputation,omitempty"`
}

func NewUserService(st store.Store, reputation ReputationOracle) *UserService {
	return &UserService{
		store:      st,
		reputation: reputation,
	}
}

func (s *UserService) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.store.Users().Get(ctx, userID)
}

// GetProfile bundles the account, its ledger balance and reputation. An
// unavailable reputation oracle leaves Reputation empty.
func (s *UserService) GetProfile(ctx context.Context, userID uuid.UUID) (*UserProfile, error) {
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	balance, err := s.store.Ledger().Balance(ctx, models.UserAccount(userID))
	if err != nil {
		return nil, err
	}

	profile := &UserProfile{User: user, Balance: balance}
	if rep, err := s.reputation.Profile(ctx, userID); err == nil {
		profile.Reputation = rep
	}
	return profile, nil
}
