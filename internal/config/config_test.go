// internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReputationTiers(t *testing.T) {
	tiers, err := ParseReputationTiers(" 600:2500, 0:10000 ,300:5000,")
	require.NoError(t, err)
	assert.Equal(t, []ReputationTier{
		{MinScore: 0, MultiplierBP: 10000},
		{MinScore: 300, MultiplierBP: 5000},
		{MinScore: 600, MultiplierBP: 2500},
	}, tiers)
	assert.NoError(t, ValidateReputationTiers(tiers))

	_, err = ParseReputationTiers("0-10000")
	assert.Error(t, err)
	_, err = ParseReputationTiers("zero:100")
	assert.Error(t, err)
}

func TestValidateReputationTiers(t *testing.T) {
	tests := []struct {
		name  string
		tiers []ReputationTier
	}{
		{"empty", nil},
		{"no zero tier", []ReputationTier{{MinScore: 100, MultiplierBP: 5000}}},
		{"multiplier out of range", []ReputationTier{{MinScore: 0, MultiplierBP: 10001}}},
		{"duplicate score", []ReputationTier{{0, 10000}, {0, 5000}}},
		{"rising multiplier", []ReputationTier{{0, 5000}, {500, 8000}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateReputationTiers(tt.tiers))
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(250), cfg.Marketplace.PlatformFeeBP)
	assert.Equal(t, time.Hour, cfg.Marketplace.AutoReleaseInterval)
	assert.Len(t, cfg.Marketplace.ReputationTiers, 4)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "@every 1m", cfg.Scheduler.AutoReleaseSpec)
}

func TestValidateRejectsBadMarketplace(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("DB_DRIVER", "memory")

	t.Setenv("PLATFORM_FEE_BP", "9990")
	t.Setenv("ROYALTY_BP", "10")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("PLATFORM_FEE_BP", "250")
	t.Setenv("STREAM_MIN_DURATION", "600")
	t.Setenv("STREAM_MAX_DURATION", "60")
	_, err = Load()
	assert.Error(t, err)
}

func TestValidateRequiresSecretsInProduction(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("JWT_SECRET", "s3cret")
	_, err = Load()
	assert.Error(t, err)
}
