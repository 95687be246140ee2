package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

const accessLogFormat = "${time} | ${status} | ${latency} | ${method} ${path} | ${locals:correlation_id}\n"

// Config customises the middleware registration pipeline.
type Config struct {
	Logger *zerolog.Logger
	// AllowOrigins is a comma separated CORS origin list. Empty allows any origin.
	AllowOrigins string
	// AccessLog adds a plain text access line per request next to the structured log.
	AccessLog bool
}

// Register attaches the middlewares shared by every route.
func Register(app *fiber.App, cfg Config) {
	requestLogger := zerolog.Nop()
	if cfg.Logger != nil {
		requestLogger = *cfg.Logger
	}

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, recovered interface{}) {
			requestLogger.Error().
				Str("correlation_id", GetCorrelationID(c)).
				Str("path", c.Path()).
				Interface("panic", recovered).
				Msg("recovered from panic")
		},
	}))
	app.Use(CorrelationID())
	app.Use(Observability(requestLogger))
	if cfg.AccessLog {
		app.Use(logger.New(logger.Config{Format: accessLogFormat}))
	}

	origins := strings.TrimSpace(cfg.AllowOrigins)
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, " + HeaderCorrelationID + ", " + fiber.HeaderXRequestID,
		AllowMethods:  "GET,POST,PUT,DELETE,OPTIONS",
		ExposeHeaders: HeaderCorrelationID + ", " + fiber.HeaderRetryAfter,
	}))
}
