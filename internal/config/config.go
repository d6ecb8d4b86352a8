// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Redis       RedisConfig
	AWS         AWSConfig
	Payment     PaymentConfig
	I18n        I18nConfig
	Marketplace MarketplaceConfig
	Scheduler   SchedulerConfig
	Metrics     MetricsConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
	// AllowedOrigins empty means any origin.
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

type DatabaseConfig struct {
	Driver       string // "postgres" or "memory"
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
	// Seeded as the first admin account when no admin exists.
	AdminEmail    string
	AdminPassword string
}

type JWTConfig struct {
	SecretKey       string
	AccessTokenTTL  int // in hours
	RefreshTokenTTL int // in hours
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	ReceiptPrefix   string
	LocalReceiptDir string
}

type PaymentConfig struct {
	StripeSecretKey      string
	StripePublishableKey string
	Currency             string
	MinimumPayout        int64
}

type I18nConfig struct {
	DefaultLocale string
}

// ReputationTier maps a minimum reputation score to a collateral multiplier.
type ReputationTier struct {
	MinScore     int64
	MultiplierBP int64
}

type MarketplaceConfig struct {
	PlatformFeeBP          int64
	RoyaltyBP              int64
	StreamMinDuration      int64 // seconds
	StreamMaxDuration      int64 // seconds
	MinRatePerSecond       int64
	MinPricePerSecond      int64
	MaxPricePerSecond      int64
	AutoReleaseInterval    time.Duration
	DisputeWindow          time.Duration
	ResolverMinScore       int64
	CollaboratorTimeout    time.Duration
	ReputationTiers        []ReputationTier
	DefaultReputationScore int64
	DefaultPricePerSecond  int64 // used by the static price oracle
	PriceCacheTTL          time.Duration
}

type SchedulerConfig struct {
	Enabled          bool
	AutoReleaseSpec  string
	DisputeSweepSpec string
	BatchSize        int
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

const defaultReputationTiers = "0:10000,300:5000,600:2500,850:1000"

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	tiers, err := ParseReputationTiers(getEnv("REPUTATION_TIERS", defaultReputationTiers))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Host:           getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:    getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout:   getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:    getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
			RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 10),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Database: DatabaseConfig{
			Driver:        getEnv("DB_DRIVER", "postgres"),
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnv("DB_PORT", "5432"),
			User:          getEnv("DB_USER", "postgres"),
			Password:      getEnv("DB_PASSWORD", ""),
			Database:      getEnv("DB_NAME", "asset_rental"),
			SSLMode:       getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:  getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:   getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:      getEnv("DB_LOG_LEVEL", "silent"),
			AdminEmail:    getEnv("ADMIN_EMAIL", "admin@example.com"),
			AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		},
		JWT: JWTConfig{
			SecretKey:       getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			AccessTokenTTL:  getEnvAsInt("JWT_ACCESS_TTL", 24),   // 24 hours
			RefreshTokenTTL: getEnvAsInt("JWT_REFRESH_TTL", 168), // 7 days
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:        getEnv("AWS_S3_BUCKET", "asset-rental-receipts"),
			ReceiptPrefix:   getEnv("AWS_RECEIPT_PREFIX", "settlements"),
			LocalReceiptDir: getEnv("LOCAL_RECEIPT_DIR", "./data/receipts"),
		},
		Payment: PaymentConfig{
			StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			StripePublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
			Currency:             getEnv("PAYMENT_CURRENCY", "usd"),
			MinimumPayout:        getEnvAsInt64("PAYMENT_MINIMUM_PAYOUT", 1),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
		},
		Marketplace: MarketplaceConfig{
			PlatformFeeBP:          getEnvAsInt64("PLATFORM_FEE_BP", 250),
			RoyaltyBP:              getEnvAsInt64("ROYALTY_BP", 50),
			StreamMinDuration:      getEnvAsInt64("STREAM_MIN_DURATION", 60),
			StreamMaxDuration:      getEnvAsInt64("STREAM_MAX_DURATION", 365*24*3600),
			MinRatePerSecond:       getEnvAsInt64("MIN_RATE_PER_SECOND", 1),
			MinPricePerSecond:      getEnvAsInt64("MIN_PRICE_PER_SECOND", 1),
			MaxPricePerSecond:      getEnvAsInt64("MAX_PRICE_PER_SECOND", 1_000_000_000_000),
			AutoReleaseInterval:    getEnvAsDuration("AUTO_RELEASE_INTERVAL", time.Hour),
			DisputeWindow:          getEnvAsDuration("DISPUTE_WINDOW", 7*24*time.Hour),
			ResolverMinScore:       getEnvAsInt64("RESOLVER_MIN_SCORE", 700),
			CollaboratorTimeout:    getEnvAsDuration("COLLABORATOR_TIMEOUT", 5*time.Second),
			ReputationTiers:        tiers,
			DefaultReputationScore: getEnvAsInt64("DEFAULT_REPUTATION_SCORE", 500),
			DefaultPricePerSecond:  getEnvAsInt64("DEFAULT_PRICE_PER_SECOND", 1000),
			PriceCacheTTL:          getEnvAsDuration("PRICE_CACHE_TTL", 5*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Enabled:          getEnvAsBool("SCHEDULER_ENABLED", true),
			AutoReleaseSpec:  getEnv("SCHEDULER_AUTO_RELEASE_SPEC", "@every 1m"),
			DisputeSweepSpec: getEnv("SCHEDULER_DISPUTE_SWEEP_SPEC", "@every 5m"),
			BatchSize:        getEnvAsInt("SCHEDULER_BATCH_SIZE", 100),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "your-secret-key-change-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Driver == "postgres" && c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if err := c.Marketplace.Validate(); err != nil {
		return fmt.Errorf("invalid marketplace configuration: %w", err)
	}

	return nil
}

func (m *MarketplaceConfig) Validate() error {
	if m.PlatformFeeBP < 0 || m.RoyaltyBP < 0 {
		return fmt.Errorf("fee basis points must not be negative")
	}
	if m.PlatformFeeBP+m.RoyaltyBP >= 10000 {
		return fmt.Errorf("platform fee and royalty must total less than 10000 bp")
	}
	if m.StreamMinDuration <= 0 || m.StreamMaxDuration < m.StreamMinDuration {
		return fmt.Errorf("stream duration bounds are invalid")
	}
	if m.MinRatePerSecond <= 0 {
		return fmt.Errorf("minimum rate per second must be positive")
	}
	if m.MinPricePerSecond <= 0 || m.MaxPricePerSecond < m.MinPricePerSecond {
		return fmt.Errorf("price bounds are invalid")
	}
	if m.DisputeWindow <= 0 {
		return fmt.Errorf("dispute window must be positive")
	}
	if m.CollaboratorTimeout <= 0 {
		return fmt.Errorf("collaborator timeout must be positive")
	}
	if m.DefaultReputationScore < 0 || m.DefaultReputationScore > 1000 {
		return fmt.Errorf("default reputation score must be within [0, 1000]")
	}
	return ValidateReputationTiers(m.ReputationTiers)
}

// ParseReputationTiers reads "score:bp" pairs separated by commas.
func ParseReputationTiers(value string) ([]ReputationTier, error) {
	var tiers []ReputationTier
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid reputation tier %q", pair)
		}
		score, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid reputation tier score %q: %w", parts[0], err)
		}
		bp, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid reputation tier multiplier %q: %w", parts[1], err)
		}
		tiers = append(tiers, ReputationTier{MinScore: score, MultiplierBP: bp})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinScore < tiers[j].MinScore })
	return tiers, nil
}

// ValidateReputationTiers requires a tier starting at score 0 and multipliers
// that never increase as the score rises.
func ValidateReputationTiers(tiers []ReputationTier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("at least one reputation tier is required")
	}
	if tiers[0].MinScore != 0 {
		return fmt.Errorf("the first reputation tier must start at score 0")
	}
	for i, tier := range tiers {
		if tier.MultiplierBP < 0 || tier.MultiplierBP > 10000 {
			return fmt.Errorf("reputation tier %d multiplier must be within [0, 10000]", i)
		}
		if i == 0 {
			continue
		}
		if tier.MinScore <= tiers[i-1].MinScore {
			return fmt.Errorf("reputation tier scores must be strictly increasing")
		}
		if tier.MultiplierBP > tiers[i-1].MultiplierBP {
			return fmt.Errorf("reputation tier multipliers must not increase with score")
		}
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
