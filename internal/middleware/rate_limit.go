package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/engelbrain-go-api/internal/utils"
)

// RateLimit creates a per-user rate limiter middleware instance.
// Anonymous requests are keyed by client IP.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			key := c.IP()
			if userID := c.Locals("user_id"); userID != nil {
				if value := fmt.Sprintf("%v", userID); value != "" && value != "0" {
					key = "user:" + value
				}
			}
			return fmt.Sprintf("%s:%s", identifier, key)
		},
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%.0f", window.Seconds()))
			return utils.Fail(c, fiber.StatusTooManyRequests, "too many requests, please wait before trying again", fiber.Map{
				"limit":  max,
				"window": window.String(),
			})
		},
	})
}
