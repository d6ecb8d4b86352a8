// internal/services/reputation_service.go
package services

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/config"
	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/store"
)

const (
	minReputationScore int64 = 0
	maxReputationScore int64 = 1000
)

var outcomeDeltas = map[ReputationOutcome]int64{
	OutcomeRentalCompleted: 10,
	OutcomeCancelledEarly:  -20,
	OutcomeDisputeWon:      15,
	OutcomeDisputeLost:     -50,
}

// ReputationService is the bundled reputation oracle. It serves both the
// read side used for collateral and arbitration and the outcome feed.
type ReputationService struct {
	store        store.Store
	tiers        []config.ReputationTier
	defaultScore int64

	// serialises read-modify-write of profiles
	mu sync.Mutex
}

type ReputationFlagsRequest struct {
	Whitelisted *bool  `json:"whitelisted,omitempty"`
	Blacklisted *bool  `json:"blacklisted,omitempty"`
	Score       *int64 `json:"score,omitempty" validate:"omitempty,gte=0,lte=1000"`
}

func NewReputationService(st store.Store, cfg config.MarketplaceConfig) *ReputationService {
	return &ReputationService{
		store:        st,
		tiers:        cfg.ReputationTiers,
		defaultScore: cfg.DefaultReputationScore,
	}
}

// MultiplierFor maps a profile onto the configured collateral tiers.
func (s *ReputationService) MultiplierFor(p *models.ReputationProfile) int64 {
	if p.Blacklisted {
		return models.BasisPointScale
	}
	if p.Whitelisted {
		return 0
	}

	multiplier := models.BasisPointScale
	for _, tier := range s.tiers {
		if p.Score >= tier.MinScore {
			multiplier = tier.MultiplierBP
		}
	}
	return multiplier
}

func (s *ReputationService) Profile(ctx context.Context, user uuid.UUID) (*models.ReputationProfile, error) {
	profile, err := store.From(ctx, s.store).Reputation().GetProfile(ctx, user)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		profile = &models.ReputationProfile{UserID: user, Score: s.defaultScore}
	}
	profile.MultiplierBP = s.MultiplierFor(profile)
	return profile, nil
}

func (s *ReputationService) Score(ctx context.Context, user uuid.UUID) (int64, error) {
	profile, err := s.Profile(ctx, user)
	if err != nil {
		return 0, err
	}
	return profile.Score, nil
}

func (s *ReputationService) CollateralMultiplier(ctx context.Context, user uuid.UUID) (int64, error) {
	profile, err := s.Profile(ctx, user)
	if err != nil {
		return 0, err
	}
	return profile.MultiplierBP, nil
}

// RecordOutcome moves the user's score by the outcome's delta, clamped to [0, 1000].
func (s *ReputationService) RecordOutcome(ctx context.Context, user uuid.UUID, outcome ReputationOutcome) error {
	delta, ok := outcomeDeltas[outcome]
	if !ok {
		return apperrors.Validation("unknown reputation outcome %q", outcome)
	}

	return s.update(ctx, user, func(p *models.ReputationProfile) {
		p.Score = clampScore(p.Score + delta)
	})
}

// SetFlags lets an administrator whitelist, blacklist or rescore a user.
func (s *ReputationService) SetFlags(ctx context.Context, user uuid.UUID, req *ReputationFlagsRequest) (*models.ReputationProfile, error) {
	if req.Score != nil && (*req.Score < minReputationScore || *req.Score > maxReputationScore) {
		return nil, apperrors.Validation("score must be within [0, 1000]")
	}

	var out *models.ReputationProfile
	err := s.update(ctx, user, func(p *models.ReputationProfile) {
		if req.Whitelisted != nil {
			p.Whitelisted = *req.Whitelisted
		}
		if req.Blacklisted != nil {
			p.Blacklisted = *req.Blacklisted
		}
		if req.Score != nil {
			p.Score = *req.Score
		}
		out = p
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ReputationService) update(ctx context.Context, user uuid.UUID, mutate func(p *models.ReputationProfile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, err := s.Profile(ctx, user)
	if err != nil {
		return err
	}

	before := profile.Score
	mutate(profile)
	profile.MultiplierBP = s.MultiplierFor(profile)

	if err := store.From(ctx, s.store).Reputation().SaveProfile(ctx, profile); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"user_id":    user,
		"score_from": before,
		"score_to":   profile.Score,
		"multiplier": profile.MultiplierBP,
	}).Debug("Reputation updated")
	return nil
}

func clampScore(score int64) int64 {
	if score < minReputationScore {
		return minReputationScore
	}
	if score > maxReputationScore {
		return maxReputationScore
	}
	return score
}
