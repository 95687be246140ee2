package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/engelbrain-go-api/internal/dto"
	"github.com/noah-isme/engelbrain-go-api/internal/middleware"
	"github.com/noah-isme/engelbrain-go-api/internal/service"
	"github.com/noah-isme/engelbrain-go-api/internal/utils"
)

// ActivityHandler exposes activity configuration endpoints.
type ActivityHandler struct {
	service   service.ActivityService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewActivityHandler constructs an ActivityHandler.
func NewActivityHandler(service service.ActivityService, validator *validator.Validate, logger zerolog.Logger) *ActivityHandler {
	return &ActivityHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "activity_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *ActivityHandler) Register(router fiber.Router) {
	teacherOnly := middleware.RequireRole(middleware.AuthRoleTeacher)

	router.Get("", h.list)
	router.Post("", teacherOnly, h.create)
	router.Get("/:id", h.get)
	router.Put("/:id", teacherOnly, h.update)
	router.Delete("/:id", teacherOnly, h.delete)
}

func (h *ActivityHandler) list(c *fiber.Ctx) error {
	activities, err := h.service.List(c.UserContext())
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, activities, "activities retrieved", fiber.Map{"count": len(activities)})
}

func (h *ActivityHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	activity, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "activity retrieved", activity)
}

func (h *ActivityHandler) create(c *fiber.Ctx) error {
	var payload dto.ActivityRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	activity, err := h.service.Create(c.UserContext(), payload, actorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "activity created", activity)
}

func (h *ActivityHandler) update(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ActivityRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	activity, err := h.service.Update(c.UserContext(), id, payload, actorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "activity updated", activity)
}

func (h *ActivityHandler) delete(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.Delete(c.UserContext(), id, actorFromContext(c)); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "activity deleted", nil)
}

func (h *ActivityHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrActivityNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "activity not found")
	case errors.Is(err, service.ErrForbidden):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	}

	if handled, sendErr := sendGradingError(c, h.logger, err); handled {
		return sendErr
	}

	requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
