package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chachabrian/campusride-backend/internal/config"
	"github.com/chachabrian/campusride-backend/internal/database"
	"github.com/chachabrian/campusride-backend/internal/handlers"
	"github.com/chachabrian/campusride-backend/internal/ledger"
	"github.com/chachabrian/campusride-backend/internal/middleware"
	"github.com/chachabrian/campusride-backend/internal/models"
	"github.com/chachabrian/campusride-backend/internal/services"
	"github.com/chachabrian/campusride-backend/pkg/logger"
	"github.com/chachabrian/campusride-backend/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		stdlog.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database instance: %v", err)
	}
	defer sqlDB.Close()

	hub := services.NewHub(cfg.CORSOrigins, log)
	var realtime services.Realtime = services.HubRealtime{Hub: hub}

	// Redis is optional: without it the sweep lock, login lockout and cross-instance
	// websocket relay are off and the chat limit falls back to the database.
	var (
		redisClient *redis.Client
		sweepLock   ledger.Locker
		loginGuard  *services.LoginGuard
		chatLimiter *services.RateLimiter
	)
	if cfg.RedisURL != "" {
		redisClient, err = services.InitRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to initialize Redis: %v", err)
		}
		defer redisClient.Close()

		sweepLock = services.NewSweepLock(redisClient, uuid.NewString())
		loginGuard = services.NewLoginGuard(redisClient, cfg.MaxLoginAttempts, cfg.LoginLockout)
		chatLimiter = services.NewRateLimiter(redisClient, "chat", cfg.ChatbotRateLimit, time.Minute)
		realtime = services.RedisRealtime{Client: redisClient, Channel: services.EventsChannel}
		go hub.Relay(ctx, redisClient, services.EventsChannel)
		log.Info("Redis connected")
	} else {
		log.Warn("REDIS_URL not set, running without distributed locks")
	}

	push, err := services.InitFirebase(ctx, cfg.FirebaseServiceAccountPath, log)
	if err != nil {
		log.WithError(err).Warn("Firebase initialization failed, push notifications disabled")
		push = &services.Push{}
	}

	storage, err := services.InitStorage(services.StorageConfig{
		Region:    cfg.AWSRegion,
		AccessKey: cfg.AWSAccessKey,
		SecretKey: cfg.AWSSecretKey,
		Bucket:    cfg.S3Bucket,
		UploadDir: cfg.UploadDir,
		BaseURL:   cfg.AppURL,
	})
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	mailer := utils.NewMailer(utils.MailerConfig{
		Host:      cfg.SMTP.Host,
		Port:      cfg.SMTP.Port,
		Username:  cfg.SMTP.Username,
		Password:  cfg.SMTP.Password,
		FromEmail: cfg.SMTP.FromEmail,
		FromName:  cfg.SMTP.FromName,
		AppURL:    cfg.AppURL,
	})
	if !mailer.Enabled() {
		log.Warn("SMTP not configured, new accounts are verified without email")
	}

	var sink services.EventSink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := services.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaSink.Close()
		sink = kafkaSink
	}

	var (
		geocoder handlers.Geocoder
		router   handlers.DistanceRouter
	)
	if cfg.GoogleMapsAPIKey != "" {
		g, err := services.NewGeocoder(cfg.GoogleMapsAPIKey, "ke")
		if err != nil {
			log.WithError(err).Warn("Google Maps unavailable")
		} else {
			geocoder, router = g, g
		}
	}

	assistant := services.NewAssistant(services.AssistantConfig{
		APIKey:    cfg.OpenAIAPIKey,
		Model:     cfg.OpenAIModel,
		MaxTokens: cfg.OpenAIMaxTokens,
	})

	dispatcher := services.NewDispatcher(services.DispatcherConfig{
		Recipients: services.DBRecipients{DB: db},
		Realtime:   realtime,
		Push:       push,
		Mail:       mailer,
		Sink:       sink,
		Workers:    cfg.NotifyWorkers,
		QueueSize:  cfg.NotifyQueue,
		Logger:     log,
	})
	dispatcher.Start()

	svc := ledger.NewService(database.NewRideStore(db), ledger.Options{
		Notifier: dispatcher,
		Clock:    ledger.SystemClock,
		Logger:   log,
		Location: cfg.Location,
	})
	sweeper := ledger.NewSweeper(database.NewRideStore(db), ledger.SweepConfig{
		Interval:  cfg.SweepInterval,
		Grace:     cfg.SweepGrace,
		Retention: cfg.SweepRetention,
	}, ledger.SystemClock, sweepLock, log)
	go ledger.NewScheduler(sweeper, cfg.SweepTick).Run(ctx)

	features := handlers.Features{
		Redis:        redisClient != nil,
		Push:         push.Enabled(),
		Email:        mailer.Enabled(),
		S3:           storage.IsUsingS3(),
		Maps:         geocoder != nil,
		Assistant:    assistant.Enabled(),
		EventStream:  sink != nil,
		DomainLocked: len(cfg.UniversityDomains) > 0,
	}

	authDeps := handlers.AuthDeps{
		DB:           db,
		Tokens:       utils.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL),
		Mailer:       mailer,
		Guard:        loginGuard,
		EmailAllowed: cfg.EmailAllowed,
	}
	chatDeps := handlers.ChatDeps{
		DB:        db,
		Assistant: assistant,
		Limiter:   chatLimiter,
		Limit:     cfg.ChatbotRateLimit,
		Clock:     ledger.SystemClock,
	}
	lookup := func(ctx context.Context, id uint) (*models.User, error) {
		var user models.User
		err := db.WithContext(ctx).Select("id", "is_admin", "is_driver", "is_banned").First(&user, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &user, nil
	}
	authenticate := middleware.AuthMiddleware(authDeps.Tokens, lookup)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logging(log),
		middleware.Metrics(),
		middleware.CORS(cfg.CORSOrigins),
		middleware.Sweep(sweeper),
	)

	if !storage.IsUsingS3() {
		r.Static("/uploads", cfg.UploadDir)
	}
	r.GET("/health", handlers.Health(db))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/features", handlers.GetFeatures(features))

		auth := api.Group("/auth")
		{
			auth.POST("/register", handlers.Register(authDeps))
			auth.POST("/verify-email", handlers.VerifyEmail(authDeps))
			auth.POST("/resend-verification", handlers.ResendVerification(authDeps))
			auth.POST("/login", handlers.Login(authDeps))
			auth.POST("/forgot-password", handlers.ForgotPassword(authDeps))
			auth.POST("/reset-password", handlers.ResetPassword(authDeps))
		}

		api.GET("/ws", authenticate, handlers.WebSocketHandler(hub))

		protected := api.Group("/")
		protected.Use(authenticate)
		{
			users := protected.Group("/users")
			{
				users.GET("/profile", handlers.GetProfile(db))
				users.PUT("/profile", handlers.UpdateProfile(db))
				users.POST("/profile/photo", handlers.UploadProfilePhoto(db, storage))
				users.GET("/blocked", handlers.ListBlocked(db))
				users.GET("/:id", handlers.GetPublicProfile(db))
				users.GET("/:id/reviews", handlers.UserReviews(db))
				users.POST("/:id/block", handlers.BlockUser(db))
				users.DELETE("/:id/block", handlers.UnblockUser(db))
				users.POST("/:id/report", handlers.ReportUser(db))
			}

			rides := protected.Group("/rides")
			{
				rides.GET("", handlers.SearchRides(db, ledger.SystemClock))
				rides.POST("", handlers.CreateRide(svc, geocoder))
				rides.GET("/mine", handlers.MyRides(db))
				rides.GET("/pending-count", handlers.PendingRequestCount(db))
				rides.GET("/suggest-price", handlers.SuggestPrice(router, cfg.PricePerKm))
				rides.GET("/:id", handlers.GetRide(db, svc))
				rides.PUT("/:id", handlers.UpdateRide(svc))
				rides.DELETE("/:id", handlers.DeleteRide(svc))
				rides.POST("/:id/cancel", handlers.CancelRide(svc))
				rides.POST("/:id/complete", handlers.CompleteRide(svc))
				rides.POST("/:id/book", handlers.RequestBooking(svc))
				rides.POST("/:id/location", handlers.UpdateDriverLocation(db, realtime))
				rides.GET("/:id/location", handlers.GetDriverLocation(db))
			}

			bookings := protected.Group("/bookings")
			{
				bookings.GET("/mine", handlers.MyBookings(db))
				bookings.GET("/:id", handlers.GetBooking(svc))
				bookings.POST("/:id/approve", handlers.ApproveBooking(svc))
				bookings.POST("/:id/reject", handlers.RejectBooking(svc))
				bookings.POST("/:id/cancel", handlers.CancelBooking(svc))
			}

			protected.POST("/reviews", handlers.CreateReview(db))

			messages := protected.Group("/messages")
			{
				messages.POST("", handlers.SendMessage(db, realtime))
				messages.GET("/conversations", handlers.Conversations(db))
				messages.GET("/unread-count", handlers.UnreadCount(db))
				messages.GET("/with/:userId", handlers.Conversation(db))
			}

			chat := protected.Group("/chat")
			{
				chat.POST("", handlers.Chat(chatDeps))
				chat.GET("/suggestions", handlers.ChatSuggestions(chatDeps))
				chat.GET("/history", handlers.ChatHistory(chatDeps))
				chat.GET("/greeting", handlers.ChatGreeting(chatDeps))
			}

			notifications := protected.Group("/notifications")
			{
				notifications.POST("/register-token", handlers.RegisterFCMToken(db))
				notifications.DELETE("/remove-token", handlers.RemoveFCMToken(db))
				notifications.POST("/test", handlers.TestNotification(db, push))
				notifications.GET("/preferences", handlers.GetNotificationPreferences(db))
				notifications.PUT("/preferences", handlers.UpdateNotificationPreferences(db))
			}

			admin := protected.Group("/admin", middleware.AdminOnly())
			{
				admin.GET("/users", handlers.ListUsers(db))
				admin.POST("/users/:id/ban", handlers.BanUser(db))
				admin.POST("/users/:id/unban", handlers.UnbanUser(db))
				admin.POST("/users/:id/verify", handlers.VerifyUser(db))
				admin.DELETE("/users/:id", handlers.DeleteUser(db))
				admin.GET("/rides", handlers.ListAllRides(db))
				admin.POST("/rides/:id/cancel", handlers.CancelRide(svc))
				admin.GET("/reports", handlers.ListReports(db))
				admin.PUT("/reports/:id", handlers.UpdateReport(db))
				admin.GET("/stats", handlers.Stats(db))
				admin.POST("/sweep", handlers.ForceSweep(sweeper))
			}
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
	dispatcher.Stop()
}
