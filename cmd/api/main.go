package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/engelbrain-go-api/internal/config"
	"github.com/noah-isme/engelbrain-go-api/internal/database"
	"github.com/noah-isme/engelbrain-go-api/internal/handler"
	"github.com/noah-isme/engelbrain-go-api/internal/middleware"
	"github.com/noah-isme/engelbrain-go-api/internal/repository"
	"github.com/noah-isme/engelbrain-go-api/internal/router"
	"github.com/noah-isme/engelbrain-go-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()
	if cfg.AppEnv != "production" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("%v", err)
	}

	redisClient, err := database.ConnectRedis(context.Background(), cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		logger.Info().Msg("redis not configured, lerncode validation results are not cached")
	}

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Drain()
	} else {
		logger.Info().Msg("nats not configured, submission events are not published")
	}

	if cfg.SchoolAPIKey == "" {
		logger.Warn().Msg("no school api key configured, activities need their own teacher key")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	gradingCfg := service.GradingConfig{
		SchoolAPIKey:     cfg.SchoolAPIKey,
		BaseURL:          cfg.APIEndpoint,
		ValidateLerncode: cfg.ValidateLerncode,
		ConnectTimeout:   cfg.ConnectTimeout,
		RequestTimeout:   cfg.RequestTimeout,
		CorrelationID:    middleware.CorrelationIDFromContext,
	}
	lerncodes := service.NewLerncodeValidator(redisClient, cfg.LerncodeCacheTTL, logger)
	gateway := service.NewGradingGateway(gradingCfg, service.NewClientFactory(gradingCfg, logger), lerncodes)
	events := service.NewNATSEventPublisher(natsConn, cfg.EventSubjectBase, logger)

	activityRepo := repository.NewActivityRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)

	activityService := service.NewActivityService(activityRepo, gateway, validate, logger)
	submissionService := service.NewSubmissionService(submissionRepo, activityRepo, gateway, events, validate, logger)

	activityHandler := handler.NewActivityHandler(activityService, validate, logger)
	submissionHandler := handler.NewSubmissionHandler(submissionService, validate, logger)

	// Remote grading calls may take up to the request timeout.
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		BodyLimit:    1024 * 1024,
	})

	middleware.Register(app, middleware.Config{
		Logger:       &logger,
		AllowOrigins: cfg.CORSAllowOrigins,
		AccessLog:    cfg.AppEnv != "production",
	})
	router.Register(app, cfg, router.Dependencies{
		ActivityHandler:   activityHandler,
		SubmissionHandler: submissionHandler,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
		ExposeMetrics:     true,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	logger.Info().Str("address", cfg.HTTPAddress()).Str("grading_endpoint", cfg.APIEndpoint).Msg("server started")

	waitForShutdown(app, cfg.RequestTimeout)
}

func waitForShutdown(app *fiber.App, grace time.Duration) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
