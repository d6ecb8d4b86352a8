// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/javajoker/asset-rental-backend/internal/clock"
	"github.com/javajoker/asset-rental-backend/internal/config"
	"github.com/javajoker/asset-rental-backend/internal/handlers"
	"github.com/javajoker/asset-rental-backend/internal/lock"
	"github.com/javajoker/asset-rental-backend/internal/metrics"
	"github.com/javajoker/asset-rental-backend/internal/middleware"
	"github.com/javajoker/asset-rental-backend/internal/models"
	"github.com/javajoker/asset-rental-backend/internal/services"
	"github.com/javajoker/asset-rental-backend/internal/store"
	"github.com/javajoker/asset-rental-backend/internal/utils"
)

// Dependencies are the pieces built by the caller because they talk to the
// outside world.
type Dependencies struct {
	Store   store.Store
	Clock   clock.Clock
	Prices  services.PriceOracle
	Storage *services.StorageService
	Gateway services.PaymentGateway
}

type Services struct {
	Auth          *services.AuthService
	User          *services.UserService
	Registry      *services.RegistryService
	Reputation    *services.ReputationService
	Engine        *services.StreamEngine
	Rentals       *services.RentalService
	Disputes      *services.DisputeService
	Ledger        *services.LedgerService
	Payments      *services.PaymentService
	Notifications *services.NotificationService
	Admin         *services.AdminService
	Storage       *services.StorageService
	Clock         clock.Clock
}

// NewServices wires the service graph. Every service shares one locker so
// lock ordering holds across them.
func NewServices(cfg *config.Config, deps Dependencies) (*Services, error) {
	m := cfg.Marketplace
	clk := deps.Clock
	if clk == nil {
		clk = clock.System()
	}
	prices := deps.Prices
	if prices == nil {
		prices = services.NewStaticPriceOracle(m.DefaultPricePerSecond)
	}

	fees, err := services.NewFeeSplitter(m.PlatformFeeBP, m.RoyaltyBP, m.StreamMinDuration*m.MinRatePerSecond)
	if err != nil {
		return nil, err
	}

	locker := lock.New()
	st := deps.Store

	var archiver services.ReceiptArchiver
	if deps.Storage != nil {
		archiver = deps.Storage
	}

	registry := services.NewRegistryService(st, clk)
	reputation := services.NewReputationService(st, m)
	notifications := services.NewNotificationService(st)
	engine := services.NewStreamEngine(st, locker, clk, fees, archiver, m)
	collateral := services.NewCollateralPolicy(reputation, m.CollaboratorTimeout)
	rentals := services.NewRentalService(st, locker, clk, engine, collateral, registry, prices, reputation, m)
	disputes := services.NewDisputeService(st, locker, clk, engine, rentals, reputation, notifications, m)
	ledger := services.NewLedgerService(st, locker, cfg.Payment.MinimumPayout)

	gateway := deps.Gateway
	if gateway == nil {
		gateway = services.NewPaymentGateway(cfg.Payment)
	}

	return &Services{
		Auth:          services.NewAuthService(st, clk, cfg.JWT),
		User:          services.NewUserService(st, reputation),
		Registry:      registry,
		Reputation:    reputation,
		Engine:        engine,
		Rentals:       rentals,
		Disputes:      disputes,
		Ledger:        ledger,
		Payments:      services.NewPaymentService(gateway, ledger, cfg),
		Notifications: notifications,
		Admin:         services.NewAdminService(st, reputation, notifications),
		Storage:       deps.Storage,
		Clock:         clk,
	}, nil
}

func Initialize(cfg *config.Config, st store.Store, svc *Services, jobs handlers.JobRunner) *gin.Engine {
	// Initialize handlers
	authHandler := handlers.NewAuthHandler(svc.Auth)
	userHandler := handlers.NewUserHandler(svc.User)
	assetHandler := handlers.NewAssetHandler(svc.Registry)
	listingHandler := handlers.NewListingHandler(svc.Rentals)
	rentalHandler := handlers.NewRentalHandler(svc.Rentals)
	streamHandler := handlers.NewStreamHandler(svc.Engine, svc.Clock)
	disputeHandler := handlers.NewDisputeHandler(svc.Disputes)
	paymentHandler := handlers.NewPaymentHandler(svc.Payments, svc.Ledger)
	adminHandler := handlers.NewAdminHandler(svc.Admin, svc.User, svc.Ledger, jobs)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	if cfg.Metrics.Enabled {
		r.Use(metrics.Middleware(cfg.Metrics.Path))
	}
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(middleware.I18nMiddleware(cfg.I18n.DefaultLocale))
	r.Use(middleware.NewRateLimiter(rate.Limit(cfg.Server.RateLimitRPS), cfg.Server.RateLimitBurst).Middleware())
	r.Use(middleware.AuditLogMiddleware(st))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, metrics.GinHandler())
	}

	// API v1 routes
	v1 := r.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.Use(middleware.AuthRateLimit())
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.GET("/me", middleware.AuthRequired(), authHandler.Me)
		}

		users := v1.Group("/users")
		users.Use(middleware.AuthRequired())
		{
			users.GET("/profile", userHandler.GetProfile)
			users.GET("/:id", userHandler.GetUser)
		}

		assets := v1.Group("/assets")
		assets.Use(middleware.AuthRequired())
		{
			assets.POST("", assetHandler.RegisterAsset)
			assets.GET("/:asset_id", assetHandler.GetAsset)
			assets.GET("/:asset_id/access", assetHandler.CheckAccess)
		}

		listings := v1.Group("/listings")
		{
			listings.GET("", listingHandler.GetListings)
			listings.GET("/:id", listingHandler.GetListing)

			authed := listings.Group("")
			authed.Use(middleware.AuthRequired())
			{
				authed.POST("", listingHandler.CreateListing)
				authed.GET("/:id/quote", listingHandler.Quote)
				authed.POST("/:id/activate", listingHandler.Activate)
				authed.POST("/:id/deactivate", listingHandler.Deactivate)
				authed.POST("/:id/rent", rentalHandler.Rent)
			}
		}

		rentals := v1.Group("/rentals")
		rentals.Use(middleware.AuthRequired())
		{
			rentals.GET("", rentalHandler.GetRentals)
			rentals.GET("/:id", rentalHandler.GetRental)
			rentals.GET("/:id/events", rentalHandler.GetEvents)
			rentals.POST("/:id/complete", rentalHandler.Complete)
			rentals.POST("/:id/cancel", rentalHandler.Cancel)
		}

		streams := v1.Group("/streams")
		streams.Use(middleware.AuthRequired())
		{
			streams.POST("", streamHandler.OpenStream)
			streams.GET("", streamHandler.GetStreams)
			streams.GET("/:id", streamHandler.GetStream)
			streams.GET("/:id/balance", streamHandler.GetBalance)
			streams.GET("/:id/settlement", streamHandler.GetSettlement)
			streams.POST("/:id/withdraw", streamHandler.Withdraw)
			streams.POST("/:id/milestones/approve", streamHandler.ApproveMilestone)
			streams.POST("/:id/release", streamHandler.Release)
			streams.POST("/:id/cancel", streamHandler.Cancel)
			streams.POST("/:id/finalize", streamHandler.Finalize)
		}

		disputes := v1.Group("/disputes")
		disputes.Use(middleware.AuthRequired())
		{
			disputes.POST("", disputeHandler.OpenDispute)
			disputes.GET("/:id", disputeHandler.GetDispute)
			disputes.POST("/:id/resolve", middleware.RoleRequired(models.RoleArbiter, models.RoleAdmin), disputeHandler.ResolveDispute)
		}

		payments := v1.Group("/payments")
		payments.Use(middleware.AuthRequired())
		{
			payments.GET("/balance", paymentHandler.GetBalance)
			payments.GET("/entries", paymentHandler.GetEntries)
			payments.POST("/deposits/intent", paymentHandler.CreateDepositIntent)
			payments.POST("/deposits/confirm", paymentHandler.ConfirmDeposit)
			payments.POST("/payouts", paymentHandler.RequestPayout)
		}

		if svc.Storage != nil {
			verificationHandler := handlers.NewVerificationHandler(svc.Engine, svc.Storage)
			verify := v1.Group("/verify")
			verify.Use(middleware.AuthRequired())
			{
				verify.GET("/settlements/:id", verificationHandler.VerifySettlement)
			}
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			admin.GET("/dashboard/stats", adminHandler.GetDashboardStats)
			admin.GET("/users/:id", adminHandler.GetUser)
			admin.PUT("/users/:id/role", adminHandler.UpdateUserRole)
			admin.PUT("/users/:id/status", adminHandler.UpdateUserStatus)
			admin.PUT("/users/:id/reputation", adminHandler.UpdateReputation)
			admin.GET("/notifications", adminHandler.GetNotifications)
			admin.GET("/ledger/:account", adminHandler.GetAccountBalance)
			admin.POST("/jobs/:name/run", adminHandler.RunJob)
		}
	}

	return r
}
