// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/asset-rental-backend/internal/apperrors"
	"github.com/javajoker/asset-rental-backend/internal/clock"
	"github.com/javajoker/asset-rental-backend/internal/config"
	"github.com/javajoker/asset-rental-backend/internal/database"
	"github.com/javajoker/asset-rental-backend/internal/i18n"
	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/router"
	"github.com/javajoker/asset-rental-backend/internal/scheduler"
	"github.com/javajoker/asset-rental-backend/internal/services"
	"github.com/javajoker/asset-rental-backend/internal/store"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if err := i18n.Initialize(); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize i18n")
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize store")
	}
	defer closeStore()

	storage, err := services.NewStorageService(cfg.AWS)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize receipt storage")
	}

	var prices services.PriceOracle = services.NewMarketPriceOracle(st, cfg.Marketplace.DefaultPricePerSecond)
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		if err := client.Ping(context.Background()).Err(); err != nil {
			logrus.WithError(err).Warn("Redis unreachable, price estimates will not be cached")
		}
		prices = services.NewCachedPriceOracle(prices, client, cfg.Marketplace.PriceCacheTTL)
	}

	svc, err := router.NewServices(cfg, router.Dependencies{
		Store:   st,
		Clock:   clock.System(),
		Prices:  prices,
		Storage: storage,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize services")
	}

	sched, err := scheduler.New(cfg.Scheduler, svc.Engine, svc.Disputes)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize scheduler")
	}
	if cfg.Scheduler.Enabled {
		sched.Start()
	}

	r := router.Initialize(cfg, st, svc, sched)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}
	sched.Stop(ctx)

	logrus.Info("Server exited")
}

func openStore(cfg *config.Config) (store.Store, func(), error) {
	if cfg.Database.Driver == "memory" {
		logrus.Warn("Using in-memory store, data is lost on restart")
		st := store.NewMemory()
		if err := seedAdmin(context.Background(), st, cfg.Database); err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	}

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := database.RunMigrations(db); err != nil {
		database.Close(db)
		return nil, nil, err
	}
	if cfg.Database.AdminPassword != "" {
		if err := database.SeedInitialData(db, cfg.Database.AdminEmail, cfg.Database.AdminPassword); err != nil {
			database.Close(db)
			return nil, nil, err
		}
	}
	return store.NewGormStore(db), func() { database.Close(db) }, nil
}

func seedAdmin(ctx context.Context, st store.Store, cfg config.DatabaseConfig) error {
	if cfg.AdminPassword == "" {
		return nil
	}
	_, err := st.Users().GetByEmail(ctx, cfg.AdminEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	admin := &models.User{
		Username: "admin",
		Email:    cfg.AdminEmail,
		Role:     models.RoleAdmin,
		Status:   models.UserStatusActive,
	}
	if err := admin.SetPassword(cfg.AdminPassword); err != nil {
		return err
	}
	return st.Users().Create(ctx, admin)
}
