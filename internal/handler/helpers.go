package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/engelbrain-go-api/internal/middleware"
	"github.com/noah-isme/engelbrain-go-api/internal/service"
	"github.com/noah-isme/engelbrain-go-api/internal/utils"
	"github.com/noah-isme/engelbrain-go-api/pkg/klausurenweb"
)

// ErrorDetails is attached to failed responses caused by the grading service or its configuration.
type ErrorDetails struct {
	Kind         string `json:"kind"`
	Category     string `json:"category"`
	Hint         string `json:"hint"`
	StatusCode   int    `json:"status_code,omitempty"`
	Saved        bool   `json:"saved"`
	SubmissionID uint   `json:"submission_id,omitempty"`
}

func userIDFromContext(c *fiber.Ctx) uint {
	if v := c.Locals("user_id"); v != nil {
		if id, ok := v.(uint); ok {
			return id
		}
		if id, ok := v.(int); ok {
			if id < 0 {
				return 0
			}
			return uint(id)
		}
	}
	return 0
}

func userRoleFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_role"); v != nil {
		if role, ok := v.(string); ok {
			return role
		}
	}
	return ""
}

func userNameFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_name"); v != nil {
		if name, ok := v.(string); ok {
			return strings.TrimSpace(name)
		}
	}
	return ""
}

func actorFromContext(c *fiber.Ctx) service.Actor {
	return service.Actor{
		ID:   userIDFromContext(c),
		Name: userNameFromContext(c),
		Role: userRoleFromContext(c),
	}
}

func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	value := c.Params(name)
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil || parsed == 0 {
		return 0, errors.New("invalid identifier")
	}
	return uint(parsed), nil
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

// gradingStatus maps grading client failures to an HTTP status.
func gradingStatus(err *klausurenweb.Error) int {
	switch err.Kind {
	case klausurenweb.KindConfiguration:
		return fiber.StatusUnprocessableEntity
	case klausurenweb.KindConnection:
		if err.Timeout {
			return fiber.StatusGatewayTimeout
		}
		return fiber.StatusBadGateway
	default:
		return fiber.StatusBadGateway
	}
}

// sendGradingError reports a grading failure together with guidance and whether content was kept.
func sendGradingError(c *fiber.Ctx, logger zerolog.Logger, err error) (bool, error) {
	clientErr, ok := klausurenweb.AsError(err)
	if !ok {
		return false, nil
	}

	details := ErrorDetails{
		Kind:       string(clientErr.Kind),
		Category:   string(clientErr.Category()),
		Hint:       clientErr.Hint(),
		StatusCode: clientErr.StatusCode,
	}

	var lifecycleErr *service.LifecycleError
	if errors.As(err, &lifecycleErr) {
		details.Saved = lifecycleErr.Saved
		details.SubmissionID = lifecycleErr.SubmissionID
	}

	status := gradingStatus(clientErr)
	event := requestLogger(logger, c).Warn()
	if clientErr.Category() == klausurenweb.CategoryPermanent {
		event = requestLogger(logger, c).Error()
	}
	event.Err(err).Str("kind", details.Kind).Bool("saved", details.Saved).Msg("grading service failure")

	return true, utils.Fail(c, status, err.Error(), details)
}
