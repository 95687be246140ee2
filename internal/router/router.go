package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/engelbrain-go-api/internal/config"
	"github.com/noah-isme/engelbrain-go-api/internal/handler"
	"github.com/noah-isme/engelbrain-go-api/internal/middleware"
	"github.com/noah-isme/engelbrain-go-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ActivityHandler   *handler.ActivityHandler
	SubmissionHandler *handler.SubmissionHandler
	JWTMiddleware     fiber.Handler
	// ExposeMetrics mounts the Prometheus scrape endpoint at /metrics.
	ExposeMetrics bool
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	if deps.ExposeMetrics {
		app.Get("/metrics", observability.MetricsHandler())
	}

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	activities := api.Group("/activities", jwtMiddleware)
	if deps.ActivityHandler != nil {
		deps.ActivityHandler.Register(activities)
	}

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.RegisterActivityRoutes(activities)

		// Every feedback fetch may block on the grading service for minutes.
		limit := middleware.RateLimit("feedback", cfg.FeedbackRateLimit, time.Minute)
		submissions := api.Group("/submissions", jwtMiddleware)
		deps.SubmissionHandler.Register(submissions, limit)
	}
}
