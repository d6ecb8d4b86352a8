// internal/handlers/auth_test.go
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/asset-rental-backend/internal/clock"
	"github.com/javajoker/asset-rental-backend/internal/config"
	"github.com/javajoker/asset-rental-backend/internal/i18n"
	"github.com/javajoker/asset-rental-backend/internal/middleware"
	"github.com/javajoker/asset-rental-backend/internal/services"
	"github.com/javajoker/asset-rental-backend/internal/store"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

type AuthTestSuite struct {
	suite.Suite
	router      *gin.Engine
	authHandler *AuthHandler
}

func (suite *AuthTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
	suite.Require().NoError(i18n.Initialize())
	utils.SetJWTSecret("auth-test-secret")
}

func (suite *AuthTestSuite) SetupTest() {
	authService := services.NewAuthService(
		store.NewMemory(),
		clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		config.JWTConfig{AccessTokenTTL: 1, RefreshTokenTTL: 24},
	)
	suite.authHandler = NewAuthHandler(authService)

	suite.router = gin.New()
	auth := suite.router.Group("/auth")
	{
		auth.POST("/register", suite.authHandler.Register)
		auth.POST("/login", suite.authHandler.Login)
		auth.POST("/refresh", suite.authHandler.RefreshToken)
		auth.GET("/me", middleware.AuthRequired(), suite.authHandler.Me)
	}
}

func (suite *AuthTestSuite) request(method, path, token string, body interface{}) (int, map[string]interface{}) {
	var buf bytes.Buffer
	if body != nil {
		suite.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)

	var response map[string]interface{}
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &response))
	return w.Code, response
}

func (suite *AuthTestSuite) register(username, email string) map[string]interface{} {
	code, response := suite.request(http.MethodPost, "/auth/register", "", map[string]interface{}{
		"username": username,
		"email":    email,
		"password": "TestPass123!",
	})
	suite.Require().Equal(http.StatusCreated, code, response)
	return response["data"].(map[string]interface{})
}

func (suite *AuthTestSuite) TestUserRegistration() {
	data := suite.register("testuser", "Test@Example.com")

	assert.NotEmpty(suite.T(), data["token"])
	assert.NotEmpty(suite.T(), data["refresh_token"])
	assert.Equal(suite.T(), "Bearer", data["token_type"])
	assert.EqualValues(suite.T(), 3600, data["expires_in"])

	user := data["user"].(map[string]interface{})
	assert.Equal(suite.T(), "test@example.com", user["email"])
	assert.Equal(suite.T(), "user", user["role"])
	assert.NotContains(suite.T(), user, "password_hash")

	code, response := suite.request(http.MethodPost, "/auth/register", "", map[string]interface{}{
		"username": "testuser",
		"email":    "other@example.com",
		"password": "TestPass123!",
	})
	assert.Equal(suite.T(), http.StatusConflict, code)
	assert.False(suite.T(), response["success"].(bool))
}

func (suite *AuthTestSuite) TestRegistrationValidation() {
	code, response := suite.request(http.MethodPost, "/auth/register", "", map[string]interface{}{
		"username": "weak",
		"email":    "weak@example.com",
		"password": "password",
	})
	assert.Equal(suite.T(), http.StatusBadRequest, code)
	assert.False(suite.T(), response["success"].(bool))

	code, _ = suite.request(http.MethodPost, "/auth/register", "", map[string]interface{}{
		"username": "no spaces",
		"email":    "spaces@example.com",
		"password": "TestPass123!",
	})
	assert.Equal(suite.T(), http.StatusBadRequest, code)
}

func (suite *AuthTestSuite) TestUserLogin() {
	suite.register("testuser", "test@example.com")

	code, response := suite.request(http.MethodPost, "/auth/login", "", map[string]interface{}{
		"email":    "test@example.com",
		"password": "TestPass123!",
	})
	assert.Equal(suite.T(), http.StatusOK, code)
	assert.True(suite.T(), response["success"].(bool))

	token := response["data"].(map[string]interface{})["token"].(string)
	code, response = suite.request(http.MethodGet, "/auth/me", token, nil)
	assert.Equal(suite.T(), http.StatusOK, code)
	assert.Equal(suite.T(), "testuser", response["data"].(map[string]interface{})["username"])

	code, response = suite.request(http.MethodPost, "/auth/login", "", map[string]interface{}{
		"email":    "test@example.com",
		"password": "WrongPass123!",
	})
	assert.Equal(suite.T(), http.StatusForbidden, code)
	assert.False(suite.T(), response["success"].(bool))

	code, _ = suite.request(http.MethodPost, "/auth/login", "", map[string]interface{}{
		"email":    "nobody@example.com",
		"password": "TestPass123!",
	})
	assert.Equal(suite.T(), http.StatusForbidden, code)
}

func (suite *AuthTestSuite) TestRefreshToken() {
	data := suite.register("refresher", "refresh@example.com")

	code, response := suite.request(http.MethodPost, "/auth/refresh", "", map[string]interface{}{
		"refresh_token": data["refresh_token"],
	})
	assert.Equal(suite.T(), http.StatusOK, code)
	assert.NotEmpty(suite.T(), response["data"].(map[string]interface{})["token"])

	code, _ = suite.request(http.MethodPost, "/auth/refresh", "", map[string]interface{}{
		"refresh_token": "not-a-token",
	})
	assert.Equal(suite.T(), http.StatusForbidden, code)

	// access tokens cannot be exchanged
	code, _ = suite.request(http.MethodPost, "/auth/refresh", "", map[string]interface{}{
		"refresh_token": data["token"],
	})
	assert.Equal(suite.T(), http.StatusForbidden, code)
}

func TestAuthSuite(t *testing.T) {
	suite.Run(t, new(AuthTestSuite))
}
