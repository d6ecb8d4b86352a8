// internal/utils/jwt.go
package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/javajoker/asset-rental-backend/internal/models"
)

const tokenIssuer = "asset-rental"

// Token uses. A refresh token is never accepted where an access token is
// expected, and the other way round.
const (
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidRole  = errors.New("token carries an unknown role")
)

// JWTClaims is the access token body. Subject and UserID both hold the
// account id.
type JWTClaims struct {
	UserID   string      `json:"user_id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	Use      string      `json:"use"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	Use string `json:"use"`
	jwt.RegisteredClaims
}

var jwtSecret = []byte("your-secret-key-change-in-production")

func SetJWTSecret(secret string) {
	jwtSecret = []byte(secret)
}

func registered(subject uuid.UUID, ttlHours int) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlHours) * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    tokenIssuer,
		Subject:   subject.String(),
	}
}

func sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
}

func keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	return jwtSecret, nil
}

func GenerateJWT(userID uuid.UUID, username string, role models.Role, ttlHours int) (string, error) {
	if !role.Assignable() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return sign(JWTClaims{
		UserID:           userID.String(),
		Username:         username,
		Role:             role,
		Use:              tokenUseAccess,
		RegisteredClaims: registered(userID, ttlHours),
	})
}

// ValidateJWT verifies an access token. Besides the signature and lifetime
// it checks the issuer, that the subject is an account id and that the role
// is one an account can hold.
func ValidateJWT(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Use != tokenUseAccess || !claims.VerifyIssuer(tokenIssuer, true) {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.UserID); err != nil || claims.UserID != claims.Subject {
		return nil, ErrInvalidToken
	}
	if !claims.Role.Assignable() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, claims.Role)
	}
	return claims, nil
}

func GenerateRefreshToken(userID uuid.UUID, ttlHours int) (string, error) {
	return sign(refreshClaims{Use: tokenUseRefresh, RegisteredClaims: registered(userID, ttlHours)})
}

// ValidateRefreshToken returns the account id a refresh token was issued to.
func ValidateRefreshToken(tokenString string) (string, error) {
	claims := &refreshClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc)
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Use != tokenUseRefresh || !claims.VerifyIssuer(tokenIssuer, true) {
		return "", ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
