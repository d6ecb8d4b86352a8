// internal/database/connection.go
package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/asset-rental-backend/internal/config"
	"github.com/javajoker/asset-rental-backend/internal/models"
)

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var gormConfig *gorm.Config

	// Configure GORM logger
	if cfg.LogLevel == "silent" {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		}
	} else {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Info),
		}
	}

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.Info("Database connection established successfully")
	return db, nil
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
	} else {
		logrus.Info("Database connection closed successfully")
	}
}

// Models lists every table owned by the marketplace.
func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Listing{},
		&models.Rental{},
		&models.RentalEvent{},
		&models.Stream{},
		&models.Settlement{},
		&models.Dispute{},
		&models.LedgerAccount{},
		&models.LedgerEntry{},
		&models.AssetRecord{},
		&models.AccessGrant{},
		&models.ReputationProfile{},
		&models.AuditLog{},
		&models.AdminNotification{},
	}
}

func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")

	// gen_random_uuid() lives in pgcrypto before PostgreSQL 13
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS \"pgcrypto\"").Error; err != nil {
		return fmt.Errorf("failed to create pgcrypto extension: %w", err)
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := CreateIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logrus.Info("Database migrations completed successfully")
	return nil
}

// IndexStatements are the composite and partial indexes AutoMigrate cannot express.
var IndexStatements = []string{
	// Listing indexes
	"CREATE INDEX IF NOT EXISTS idx_listings_holder_active ON listings(holder_id, active)",
	"CREATE INDEX IF NOT EXISTS idx_listings_created_at ON listings(created_at DESC)",

	// Rental indexes
	"CREATE INDEX IF NOT EXISTS idx_rentals_renter_status ON rentals(renter_id, status)",
	"CREATE INDEX IF NOT EXISTS idx_rentals_holder_status ON rentals(holder_id, status)",
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_rentals_open_per_listing ON rentals(listing_id) WHERE status IN ('rented', 'active', 'disputed')",
	"CREATE INDEX IF NOT EXISTS idx_rental_events_rental ON rental_events(rental_id, created_at)",

	// Stream indexes
	"CREATE INDEX IF NOT EXISTS idx_streams_releasable ON streams(id) WHERE active AND NOT finalized AND NOT disputed",
	"CREATE INDEX IF NOT EXISTS idx_streams_parties ON streams(sender_id, recipient_id)",

	// Dispute indexes
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_disputes_open_per_stream ON disputes(stream_id) WHERE NOT resolved",
	"CREATE INDEX IF NOT EXISTS idx_disputes_overdue ON disputes(deadline) WHERE NOT resolved AND escalated_at IS NULL",

	// Ledger indexes
	"CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_created ON ledger_entries(account, created_at DESC)",

	// Registry indexes
	"CREATE INDEX IF NOT EXISTS idx_access_grants_active ON access_grants(asset_id) WHERE NOT revoked",

	// Admin indexes
	"CREATE INDEX IF NOT EXISTS idx_audit_logs_user_action ON audit_logs(user_id, action)",
	"CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id)",
	"CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at DESC)",
	"CREATE INDEX IF NOT EXISTS idx_admin_notifications_status ON admin_notifications(status, priority)",
	"CREATE INDEX IF NOT EXISTS idx_admin_notifications_type ON admin_notifications(type, created_at DESC)",
}

func CreateIndexes(db *gorm.DB) error {
	failed := 0
	for _, index := range IndexStatements {
		if err := db.Exec(index).Error; err != nil {
			logrus.WithError(err).WithField("statement", index).Warn("Failed to create index")
			failed++
			// Continue with other indexes instead of failing completely
		}
	}

	if failed == len(IndexStatements) {
		return fmt.Errorf("none of the %d indexes could be created", failed)
	}
	return nil
}

// SeedInitialData creates the default admin account on an empty database.
func SeedInitialData(db *gorm.DB, adminEmail, adminPassword string) error {
	logrus.Info("Seeding initial data...")

	var adminCount int64
	if err := db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&adminCount).Error; err != nil {
		return fmt.Errorf("failed to count admin users: %w", err)
	}

	if adminCount == 0 {
		admin := &models.User{
			Username: "admin",
			Email:    adminEmail,
			Role:     models.RoleAdmin,
			Status:   models.UserStatusActive,
		}

		if err := admin.SetPassword(adminPassword); err != nil {
			return fmt.Errorf("failed to set admin password: %w", err)
		}

		if err := db.Create(admin).Error; err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}

		logrus.Info("Default admin user created successfully")
	}

	logrus.Info("Initial data seeding completed")
	return nil
}
