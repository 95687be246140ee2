package handler

import (
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/engelbrain-go-api/internal/dto"
	"github.com/noah-isme/engelbrain-go-api/internal/middleware"
	"github.com/noah-isme/engelbrain-go-api/internal/observability"
	"github.com/noah-isme/engelbrain-go-api/internal/service"
	"github.com/noah-isme/engelbrain-go-api/internal/utils"
)

const maxUploadBytes = 512 * 1024

var allowedUploadTypes = []string{"text/plain", "text/html", "application/json", "text/csv"}

var errUnsupportedUpload = errors.New("only plain text files can be submitted")

// SubmissionHandler manages submission endpoints.
type SubmissionHandler struct {
	service   service.SubmissionService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, validator *validator.Validate, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the submission routes. feedbackGuards run before the feedback fetch.
func (h *SubmissionHandler) Register(router fiber.Router, feedbackGuards ...fiber.Handler) {
	router.Get("/:id", h.get)

	feedback := append(append([]fiber.Handler{}, feedbackGuards...), h.fetchFeedback)
	router.Post("/:id/feedback", feedback...)

	router.Put("/:id/grade", middleware.WithAuth(h.grade, middleware.AuthOptions{Role: middleware.AuthRoleTeacher}))
}

// RegisterActivityRoutes attaches the routes nested below /activities.
func (h *SubmissionHandler) RegisterActivityRoutes(router fiber.Router) {
	router.Post("/:id/submissions", h.submit)
	router.Get("/:id/submissions/me", h.mine)
	router.Get("/:id/submissions", middleware.WithAuth(h.list, middleware.AuthOptions{Role: middleware.AuthRoleTeacher}))
}

func (h *SubmissionHandler) submit(c *fiber.Ctx) error {
	activityID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	payload, err := h.parseSubmitRequest(c)
	if err != nil {
		if errors.Is(err, errUnsupportedUpload) {
			return utils.SendError(c, fiber.StatusUnsupportedMediaType, err.Error())
		}
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Submit(c.UserContext(), activityID, actorFromContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission forwarded for grading", submission)
}

// parseSubmitRequest accepts JSON or form content, or a text file in the "file" form field.
func (h *SubmissionHandler) parseSubmitRequest(c *fiber.Ctx) (dto.SubmitRequest, error) {
	var payload dto.SubmitRequest

	if strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm) {
		if header, err := c.FormFile("file"); err == nil {
			if header.Size > maxUploadBytes {
				return payload, errors.New("file is too large")
			}
			file, err := header.Open()
			if err != nil {
				return payload, errors.New("file could not be read")
			}
			defer file.Close()

			data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
			if err != nil {
				return payload, errors.New("file could not be read")
			}
			if len(data) > maxUploadBytes {
				return payload, errors.New("file is too large")
			}

			detected := mimetype.Detect(data)
			if !mimetype.EqualsAny(detected.String(), allowedUploadTypes...) {
				h.logger.Debug().Str("mime", detected.String()).Msg("rejected submission upload")
				return payload, errUnsupportedUpload
			}
			if !utf8.Valid(data) {
				return payload, errUnsupportedUpload
			}

			payload.Content = string(data)
			return payload, nil
		}
		payload.Content = c.FormValue("content")
		return payload, nil
	}

	if err := c.BodyParser(&payload); err != nil {
		return payload, errors.New("invalid request body")
	}
	return payload, nil
}

func (h *SubmissionHandler) mine(c *fiber.Ctx) error {
	activityID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.GetForUser(c.UserContext(), activityID, userIDFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) list(c *fiber.Ctx) error {
	activityID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	filter := dto.SubmissionFilter{ActivityID: activityID}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		filter.Status = &status
	}

	submissions, err := h.service.List(c.UserContext(), filter)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.OK(c, submissions, "submissions retrieved", fiber.Map{"count": len(submissions)})
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Get(c.UserContext(), id, actorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) fetchFeedback(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.FetchFeedback(c.UserContext(), id, actorFromContext(c))
	if err != nil {
		observability.FeedbackOutcomes().WithLabelValues("error").Inc()
		return h.handleError(c, err)
	}

	observability.FeedbackOutcomes().WithLabelValues(result.Outcome).Inc()

	status := fiber.StatusOK
	if result.Outcome == dto.FeedbackOutcomePending || result.Outcome == dto.FeedbackOutcomeSubmitted {
		status = fiber.StatusAccepted
	}

	return utils.SendSuccessWithStatus(c, status, result.Message, result)
}

func (h *SubmissionHandler) grade(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.GradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.service.Grade(c.UserContext(), id, payload, actorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission graded", submission)
}

func (h *SubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrActivityNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "activity not found")
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrSubmissionsClosed):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrAlreadyForwarded), errors.Is(err, service.ErrSubmissionGraded):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrEmptyContent):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	}

	if handled, sendErr := sendGradingError(c, h.logger, err); handled {
		return sendErr
	}

	var lifecycleErr *service.LifecycleError
	if errors.As(err, &lifecycleErr) && lifecycleErr.Saved {
		requestLogger(h.logger, c).Error().Err(err).Uint("submission_id", lifecycleErr.SubmissionID).Msg("submission saved but not linked")
		return utils.Fail(c, fiber.StatusInternalServerError, "submission was saved but its grading status could not be stored", ErrorDetails{
			Kind:         "storage",
			Category:     "permanent",
			Hint:         "Please ask an administrator to check the grading service link of this submission.",
			Saved:        true,
			SubmissionID: lifecycleErr.SubmissionID,
		})
	}

	requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
