// internal/router/router_test.go
package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/asset-rental-backend/internal/clock"
	"github.com/javajoker/asset-rental-backend/internal/config"
	"github.com/javajoker/asset-rental-backend/internal/i18n"
	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/services"
	"github.com/javajoker/asset-rental-backend/internal/store"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if err := i18n.Initialize(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type apiServer struct {
	t      *testing.T
	engine *gin.Engine
	clock  *clock.Fake
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	tiers, err := config.ParseReputationTiers("0:10000,300:5000,600:2500,850:1000")
	require.NoError(t, err)
	return &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{RateLimitRPS: 1000, RateLimitBurst: 1000},
		JWT:         config.JWTConfig{SecretKey: "router-test-secret", AccessTokenTTL: 1, RefreshTokenTTL: 24},
		AWS:         config.AWSConfig{LocalReceiptDir: t.TempDir()},
		Payment:     config.PaymentConfig{Currency: "usd", MinimumPayout: 1},
		I18n:        config.I18nConfig{DefaultLocale: "en"},
		Marketplace: config.MarketplaceConfig{
			PlatformFeeBP:          250,
			RoyaltyBP:              50,
			StreamMinDuration:      60,
			StreamMaxDuration:      365 * 24 * 3600,
			MinRatePerSecond:       1,
			MinPricePerSecond:      1,
			MaxPricePerSecond:      1_000_000_000,
			AutoReleaseInterval:    time.Hour,
			DisputeWindow:          7 * 24 * time.Hour,
			ResolverMinScore:       700,
			CollaboratorTimeout:    time.Second,
			ReputationTiers:        tiers,
			DefaultReputationScore: 500,
			DefaultPricePerSecond:  1000,
		},
	}
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()
	cfg := testConfig(t)
	st := store.NewMemory()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	storage, err := services.NewStorageService(cfg.AWS)
	require.NoError(t, err)

	svc, err := NewServices(cfg, Dependencies{
		Store:   st,
		Clock:   clk,
		Storage: storage,
		Gateway: services.NewSandboxGateway(),
	})
	require.NoError(t, err)

	return &apiServer{t: t, engine: Initialize(cfg, st, svc, nil), clock: clk}
}

func (s *apiServer) token(role models.Role) (string, uuid.UUID) {
	s.t.Helper()
	id := uuid.New()
	token, err := utils.GenerateJWT(id, "user-"+id.String()[:8], role, 1)
	require.NoError(s.t, err)
	return token, id
}

// do sends a JSON request and returns the status and the decoded envelope.
func (s *apiServer) do(method, path, token string, body interface{}) (int, map[string]interface{}) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var resp map[string]interface{}
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func data(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	d, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %v", resp)
	return d
}

func object(t *testing.T, m map[string]interface{}, key string) map[string]interface{} {
	t.Helper()
	o, ok := m[key].(map[string]interface{})
	require.True(t, ok, "missing %q in %v", key, m)
	return o
}

func errorCode(resp map[string]interface{}) string {
	e, _ := resp["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

func TestHealth(t *testing.T) {
	s := newAPIServer(t)
	code, resp := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp["status"])
}

func TestRentalLifecycleOverHTTP(t *testing.T) {
	s := newAPIServer(t)
	holder, holderID := s.token(models.RoleUser)
	renter, renterID := s.token(models.RoleUser)

	code, resp := s.do(http.MethodPost, "/v1/assets", holder, gin.H{"asset_id": "film-42"})
	require.Equal(t, http.StatusCreated, code, resp)

	code, resp = s.do(http.MethodPost, "/v1/listings", holder, gin.H{
		"asset_id":         "film-42",
		"price_per_second": 10,
		"min_duration":     60,
		"max_duration":     86400,
		"collateral_bp":    0,
	})
	require.Equal(t, http.StatusCreated, code, resp)
	listing := object(t, data(t, resp), "listing")
	listingID := listing["id"].(string)
	assert.Equal(t, holderID.String(), listing["holder_id"])

	// Public listing reads need no token.
	code, _ = s.do(http.MethodGet, "/v1/listings/"+listingID, "", nil)
	assert.Equal(t, http.StatusOK, code)

	code, resp = s.do(http.MethodPost, "/v1/payments/deposits/intent", renter, gin.H{"amount": 100000})
	require.Equal(t, http.StatusCreated, code, resp)
	intentID := object(t, data(t, resp), "payment_intent")["id"].(string)

	code, resp = s.do(http.MethodPost, "/v1/payments/deposits/confirm", renter, gin.H{"payment_intent_id": intentID})
	require.Equal(t, http.StatusOK, code, resp)
	deposit := object(t, data(t, resp), "deposit")
	assert.Equal(t, true, deposit["credited"])
	assert.EqualValues(t, 100000, deposit["balance"])

	// cost 36000 plus 5000 bp collateral at the default score
	code, resp = s.do(http.MethodPost, "/v1/listings/"+listingID+"/rent", renter, gin.H{"duration": 3600, "payment": 54000})
	require.Equal(t, http.StatusCreated, code, resp)
	rental := object(t, data(t, resp), "rental")
	stream := object(t, data(t, resp), "stream")
	rentalID := rental["id"].(string)
	streamID := stream["id"].(string)
	assert.Equal(t, string(models.RentalStatusActive), rental["status"])
	assert.Equal(t, renterID.String(), rental["renter_id"])
	assert.EqualValues(t, 9, stream["rate_per_second"])

	s.clock.Advance(1800 * time.Second)

	code, resp = s.do(http.MethodGet, "/v1/streams/"+streamID+"/balance", renter, nil)
	require.Equal(t, http.StatusOK, code, resp)
	assert.EqualValues(t, 1800*9, data(t, resp)["accrued"])

	code, resp = s.do(http.MethodPost, "/v1/rentals/"+rentalID+"/cancel", renter, nil)
	require.Equal(t, http.StatusOK, code, resp)
	assert.Equal(t, string(models.RentalStatusCancelled), object(t, data(t, resp), "rental")["status"])
	assert.EqualValues(t, 1800*9, object(t, data(t, resp), "settlement")["to_recipient"])

	code, resp = s.do(http.MethodGet, "/v1/payments/balance", holder, nil)
	require.Equal(t, http.StatusOK, code, resp)
	assert.EqualValues(t, 1800*9, data(t, resp)["balance"])

	code, resp = s.do(http.MethodGet, "/v1/verify/settlements/"+streamID, holder, nil)
	require.Equal(t, http.StatusOK, code, resp)
	assert.Equal(t, true, data(t, resp)["verified"])

	// Outsiders cannot read the settlement.
	outsider, _ := s.token(models.RoleUser)
	code, resp = s.do(http.MethodGet, "/v1/streams/"+streamID+"/settlement", outsider, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "authorization", errorCode(resp))
}

func TestRoutesEnforceRoles(t *testing.T) {
	s := newAPIServer(t)
	user, _ := s.token(models.RoleUser)
	admin, _ := s.token(models.RoleAdmin)

	code, resp := s.do(http.MethodGet, "/v1/streams", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(resp))

	code, _ = s.do(http.MethodGet, "/v1/admin/dashboard/stats", user, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodGet, "/v1/admin/dashboard/stats", admin, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(http.MethodPost, "/v1/disputes/"+uuid.NewString()+"/resolve", user, gin.H{"in_favor_of_renter": true})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestErrorsMapToStatus(t *testing.T) {
	s := newAPIServer(t)
	user, _ := s.token(models.RoleUser)

	code, resp := s.do(http.MethodGet, "/v1/rentals/"+uuid.NewString(), user, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", errorCode(resp))

	code, _ = s.do(http.MethodGet, "/v1/streams/not-a-uuid", user, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	// Opening a stream without funds
	code, resp = s.do(http.MethodPost, "/v1/streams", user, gin.H{
		"recipient_id":  uuid.NewString(),
		"gross_deposit": 100000,
		"duration":      3600,
	})
	assert.Equal(t, http.StatusPaymentRequired, code, resp)
	assert.Equal(t, "insufficient_funds", errorCode(resp))
}
