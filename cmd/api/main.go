package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meshly/internal/config"
	"meshly/internal/events"
	"meshly/internal/proxy"
	meshlyredis "meshly/internal/redis"
	"meshly/internal/repository"
	"meshly/internal/server"
	"meshly/internal/services"
	"meshly/internal/storage"
	"meshly/pkg/database"
	"meshly/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	mode := logger.DevelopmentMode
	if cfg.Server.Environment == "production" {
		mode = logger.ProductionMode
	}
	log := logger.New(mode)
	logger.SetGlobalLogger(log)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Errorf("failed to connect to database: %v", err)
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		log.Errorf("failed to migrate database: %v", err)
		os.Exit(1)
	}

	redisClient := meshlyredis.NewClient(cfg.Redis)
	bus := events.NewRedisEventBus(redisClient, events.NewHybridChannelResolver())
	if err := bus.Start(); err != nil {
		log.Errorf("failed to start event bus: %v", err)
		os.Exit(1)
	}
	defer bus.Stop()

	userRepo := repository.NewUserRepository(db)
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	access := proxy.NewAccessControl(convRepo)

	authService := services.NewAuthService(cfg)
	userService := services.NewUserService(userRepo)
	conversationService := services.NewConversationService(db, convRepo, outboxRepo, access, bus)
	messageService := services.NewMessageService(db, msgRepo, convRepo, outboxRepo, access)
	notificationService := services.NewNotificationService(notificationRepo)

	var uploadService *services.UploadService
	if cfg.S3.Bucket != "" {
		s3Client, err := storage.NewClient(context.Background(), storage.S3Config{
			Region:     cfg.S3.Region,
			Bucket:     cfg.S3.Bucket,
			AccessKey:  cfg.S3.AccessKey,
			SecretKey:  cfg.S3.SecretKey,
			Endpoint:   cfg.S3.Endpoint,
			PublicBase: cfg.S3.PublicBase,
			PresignTTL: 15 * time.Minute,
		})
		if err != nil {
			log.Errorf("failed to init s3 client: %v", err)
			os.Exit(1)
		}
		uploadService = services.NewUploadService(s3Client)
	}

	limiter := meshlyredis.NewRateLimiter(redisClient, meshlyredis.RateLimitConfig{
		MessageLimit:  cfg.Limits.MessagesPerMinute,
		MessageWindow: cfg.Limits.RateLimitWindow,
	})

	worker := services.NewOutboxWorker(outboxRepo, notificationRepo, convRepo, bus)
	worker.Start()
	defer worker.Stop()

	router := server.NewRouter(server.Deps{
		Auth:          authService,
		Users:         userService,
		Conversations: conversationService,
		Messages:      messageService,
		Notifications: notificationService,
		Uploads:       uploadService,
		RateLimiter:   limiter,
		Logger:        log,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Infof("starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infof("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("forced shutdown: %v", err)
	}
}
