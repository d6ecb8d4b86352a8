// internal/services/auth_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/clock"
	"github.com/javajoker/asset-rental-backend/internal/config"
	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/store"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

type AuthService struct {
	store store.Store
	clock clock.Clock
	cfg   config.JWTConfig
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,strong_password"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type AuthResponse struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"` // in seconds
}

var errInvalidCredentials = apperrors.Unauthorized("invalid email or password")

func NewAuthService(st store.Store, clk clock.Clock, cfg config.JWTConfig) *AuthService {
	return &AuthService{
		store: st,
		clock: clk,
		cfg:   cfg,
	}
}

// Register creates a plain user account. Elevated roles are granted by an admin.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	if err := utils.ValidateRequest(req); err != nil {
		return nil, err
	}

	exists, err := s.store.Users().Exists(ctx, req.Email, req.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to check user: %w", err)
	}
	if exists {
		return nil, apperrors.State("user with this email or username already exists")
	}

	user := &models.User{
		Username: req.Username,
		Email:    strings.ToLower(req.Email),
		Role:     models.RoleUser,
		Status:   models.UserStatusActive,
	}
	if err := user.SetPassword(req.Password); err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"user_id": user.ID, "username": user.Username}).Info("User registered")

	return s.issueTokens(user)
}

func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	if err := utils.ValidateRequest(req); err != nil {
		return nil, err
	}

	user, err := s.store.Users().GetByEmail(ctx, strings.ToLower(req.Email))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	if err := checkUserStatus(user); err != nil {
		return nil, err
	}

	if err := user.CheckPassword(req.Password); err != nil {
		return nil, errInvalidCredentials
	}

	now := s.clock.Now()
	user.LastLoginAt = &now
	if err := s.store.Users().Update(ctx, user); err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Warn("Failed to record login time")
	}

	return s.issueTokens(user)
}

func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	userIDStr, err := utils.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid refresh token")
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid user ID in token")
	}

	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := checkUserStatus(user); err != nil {
		return nil, err
	}

	return s.issueTokens(user)
}

func (s *AuthService) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.store.Users().Get(ctx, userID)
}

func checkUserStatus(user *models.User) error {
	switch user.Status {
	case models.UserStatusSuspended:
		return apperrors.Unauthorized("account is suspended")
	case models.UserStatusBanned:
		return apperrors.Unauthorized("account is banned")
	}
	return nil
}

func (s *AuthService) issueTokens(user *models.User) (*AuthResponse, error) {
	accessToken, err := utils.GenerateJWT(user.ID, user.Username, user.Role, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := utils.GenerateRefreshToken(user.ID, s.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &AuthResponse{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int((time.Duration(s.cfg.AccessTokenTTL) * time.Hour).Seconds()),
	}, nil
}
