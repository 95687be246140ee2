package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/engelbrain-go-api/internal/dto"
	"github.com/noah-isme/engelbrain-go-api/internal/models"
	"github.com/noah-isme/engelbrain-go-api/internal/repository"
)

var (
	// ErrSubmissionNotFound indicates a submission could not be found.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrSubmissionsClosed indicates the due date of the activity has passed.
	ErrSubmissionsClosed = errors.New("submissions are closed for this activity")
	// ErrAlreadyForwarded indicates the content was already sent to the grading service.
	ErrAlreadyForwarded = errors.New("submission was already forwarded to the grading service, fetch feedback instead")
	// ErrSubmissionGraded indicates the submission is final.
	ErrSubmissionGraded = errors.New("submission is already graded")
	// ErrEmptyContent indicates nothing is left after sanitizing the content.
	ErrEmptyContent = errors.New("submission content is empty")
	// ErrForbidden indicates the actor may not access the submission.
	ErrForbidden = errors.New("not allowed to access this submission")
)

// LifecycleError wraps a failure of a remote step and records whether the local record was saved.
type LifecycleError struct {
	Op           string
	Saved        bool
	SubmissionID uint
	Err          error
}

func (e *LifecycleError) Error() string {
	if e.Saved {
		return fmt.Sprintf("%s failed after the submission was saved locally: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// SubmissionService drives the lifecycle of submissions against the grading service.
type SubmissionService interface {
	Submit(ctx context.Context, activityID uint, actor Actor, payload dto.SubmitRequest) (dto.SubmissionResponse, error)
	FetchFeedback(ctx context.Context, submissionID uint, actor Actor) (dto.FeedbackResponse, error)
	Grade(ctx context.Context, submissionID uint, payload dto.GradeRequest, actor Actor) (dto.SubmissionResponse, error)
	Get(ctx context.Context, submissionID uint, actor Actor) (dto.SubmissionResponse, error)
	GetForUser(ctx context.Context, activityID, userID uint) (dto.SubmissionResponse, error)
	List(ctx context.Context, filter dto.SubmissionFilter) ([]dto.SubmissionResponse, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	activities  repository.ActivityRepository
	gateway     *GradingGateway
	events      EventPublisher
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	tracer      trace.Tracer
	logger      zerolog.Logger
	now         func() time.Time
}

// NewSubmissionService constructs a SubmissionService instance.
func NewSubmissionService(subRepo repository.SubmissionRepository, activityRepo repository.ActivityRepository, gateway *GradingGateway, events EventPublisher, validate *validator.Validate, logger zerolog.Logger) SubmissionService {
	if events == nil {
		events = noopEventPublisher{}
	}
	return &submissionService{
		submissions: subRepo,
		activities:  activityRepo,
		gateway:     gateway,
		events:      events,
		validator:   validate,
		sanitizer:   bluemonday.UGCPolicy(),
		tracer:      otel.Tracer("github.com/noah-isme/engelbrain-go-api/internal/service/submission"),
		logger:      logger.With().Str("component", "submission_service").Logger(),
		now:         time.Now,
	}
}

func (s *submissionService) Submit(ctx context.Context, activityID uint, actor Actor, payload dto.SubmitRequest) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submission.submit", trace.WithAttributes(
		attribute.Int64("submission.activity_id", int64(activityID)),
		attribute.Int64("submission.user_id", int64(actor.ID)),
	))
	defer span.End()

	response, err := s.submit(ctx, activityID, actor, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit_failed")
	}
	return response, err
}

func (s *submissionService) submit(ctx context.Context, activityID uint, actor Actor, payload dto.SubmitRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	activity, err := s.activities.GetByID(ctx, activityID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrActivityNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	if activity.IsPastDue(s.now()) && !actor.IsTeacher() {
		return dto.SubmissionResponse{}, ErrSubmissionsClosed
	}

	client, apiKey, err := s.gateway.Client(activity.TeacherAPIKey, activity.Lerncode)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	content := strings.TrimSpace(payload.Content)
	if content == "" {
		return dto.SubmissionResponse{}, ErrEmptyContent
	}

	submission, err := s.submissions.GetByActivityAndUser(ctx, activityID, actor.ID)
	switch {
	case err == nil:
		if submission.IsGraded() {
			return dto.SubmissionResponse{}, ErrSubmissionGraded
		}
		if submission.HasRemoteSubmission() {
			return dto.SubmissionResponse{}, ErrAlreadyForwarded
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		submission = models.Submission{ActivityID: activityID, UserID: actor.ID}
	default:
		return dto.SubmissionResponse{}, err
	}

	submission.Content = content
	submission.StudentName = actor.DisplayName()
	submission.Status = models.SubmissionStatusSubmitted

	if submission.ID == 0 {
		err = s.submissions.Create(ctx, &submission)
	} else {
		err = s.submissions.Update(ctx, &submission)
	}
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.logger.Info().Uint("submission_id", submission.ID).Uint("activity_id", activityID).Msg("submission saved")
	s.events.Publish(ctx, newSubmissionEvent(EventSubmissionSubmitted, submission))

	if err := s.gateway.EnsureLerncode(ctx, client, apiKey, activity.Lerncode); err != nil {
		return dto.SubmissionResponse{}, s.remoteFailure("submit", submission, true, err)
	}

	if err := s.forward(ctx, client, activity, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	return s.reload(ctx, submission)
}

// forward sends the stored content and attaches the remote id. It is the only place that calls SubmitWork.
func (s *submissionService) forward(ctx context.Context, client GradingClient, activity models.Activity, submission *models.Submission) error {
	if submission.HasRemoteSubmission() {
		return ErrAlreadyForwarded
	}

	metadata := map[string]interface{}{
		"course_name":         activity.CourseName,
		"activity_name":       activity.Name,
		"local_submission_id": submission.ID,
	}

	result, err := client.SubmitWork(ctx, activity.Lerncode, submission.Content, submission.StudentName, metadata)
	if err != nil {
		return s.remoteFailure("submit", *submission, true, err)
	}

	remoteID := result.ID
	stored := make(datatypes.JSONMap, len(metadata)+1)
	for key, value := range metadata {
		stored[key] = value
	}
	if len(result.Raw) > 0 {
		stored["remote_response"] = result.Raw
	}
	submission.RemoteSubmissionID = &remoteID
	submission.RemoteMetadata = stored
	if err := s.submissions.Update(ctx, submission); err != nil {
		// The remote side already holds the work; the id is needed to reconcile by hand.
		s.logger.Warn().Err(err).
			Uint("submission_id", submission.ID).
			Str("remote_submission_id", remoteID).
			Msg("forwarded submission could not be linked to its remote id")
		submission.RemoteSubmissionID = nil
		return &LifecycleError{
			Op:           "submit",
			Saved:        true,
			SubmissionID: submission.ID,
			Err:          fmt.Errorf("store remote submission id %q: %w", remoteID, err),
		}
	}

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Str("remote_submission_id", remoteID).
		Msg("submission forwarded to grading service")
	s.events.Publish(ctx, newSubmissionEvent(EventSubmissionForwarded, *submission))

	return nil
}

func (s *submissionService) FetchFeedback(ctx context.Context, submissionID uint, actor Actor) (dto.FeedbackResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submission.fetch_feedback", trace.WithAttributes(
		attribute.Int64("submission.id", int64(submissionID)),
	))
	defer span.End()

	response, err := s.fetchFeedback(ctx, submissionID, actor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch_feedback_failed")
		return response, err
	}
	span.SetAttributes(attribute.String("submission.feedback_outcome", response.Outcome))
	return response, nil
}

func (s *submissionService) fetchFeedback(ctx context.Context, submissionID uint, actor Actor) (dto.FeedbackResponse, error) {
	submission, err := s.load(ctx, submissionID)
	if err != nil {
		return dto.FeedbackResponse{}, err
	}
	if !actor.IsTeacher() && submission.UserID != actor.ID {
		return dto.FeedbackResponse{}, ErrForbidden
	}

	// Graded is terminal for the remote path; only a manual grade changes it.
	if submission.IsGraded() {
		return dto.FeedbackResponse{
			Outcome:    dto.FeedbackOutcomeGraded,
			Message:    "submission is already graded",
			Submission: s.present(submission),
		}, nil
	}

	activity := submission.Activity
	if activity.ID == 0 {
		activity, err = s.activities.GetByID(ctx, submission.ActivityID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return dto.FeedbackResponse{}, ErrActivityNotFound
			}
			return dto.FeedbackResponse{}, err
		}
	}

	client, apiKey, err := s.gateway.Client(activity.TeacherAPIKey, activity.Lerncode)
	if err != nil {
		return dto.FeedbackResponse{}, err
	}

	if err := s.gateway.EnsureLerncode(ctx, client, apiKey, activity.Lerncode); err != nil {
		return dto.FeedbackResponse{}, s.remoteFailure("fetch_feedback", submission, false, err)
	}

	if !submission.HasRemoteSubmission() {
		if err := s.forward(ctx, client, activity, &submission); err != nil {
			return dto.FeedbackResponse{}, err
		}
		response, err := s.reload(ctx, submission)
		if err != nil {
			return dto.FeedbackResponse{}, err
		}
		return dto.FeedbackResponse{
			Outcome:    dto.FeedbackOutcomeSubmitted,
			Message:    "submission forwarded to the grading service, feedback is not available yet",
			Submission: response,
		}, nil
	}

	result, err := client.GetFeedback(ctx, *submission.RemoteSubmissionID)
	if err != nil {
		return dto.FeedbackResponse{}, s.remoteFailure("fetch_feedback", submission, false, err)
	}

	if !result.Ready() {
		s.logger.Debug().Uint("submission_id", submission.ID).Str("remote_status", result.Status).Msg("feedback not ready")
		return dto.FeedbackResponse{
			Outcome:    dto.FeedbackOutcomePending,
			Message:    "feedback is not ready yet, please try again later",
			Submission: s.present(submission),
		}, nil
	}

	gradedAt := s.now()
	submission.Status = models.SubmissionStatusGraded
	submission.Feedback = result.Feedback
	submission.Grade = result.Grade()
	submission.GradedAt = &gradedAt
	submission.GradedBy = nil

	if err := s.submissions.Update(ctx, &submission); err != nil {
		return dto.FeedbackResponse{}, err
	}

	s.recordHistory(ctx, submission, models.GradeSourceRemote, nil, gradedAt)
	s.logger.Info().Uint("submission_id", submission.ID).Msg("remote feedback applied")

	event := newSubmissionEvent(EventSubmissionGraded, submission)
	event.Source = models.GradeSourceRemote
	s.events.Publish(ctx, event)

	response, err := s.reload(ctx, submission)
	if err != nil {
		return dto.FeedbackResponse{}, err
	}
	return dto.FeedbackResponse{
		Outcome:    dto.FeedbackOutcomeGraded,
		Message:    "feedback received",
		Submission: response,
	}, nil
}

func (s *submissionService) Grade(ctx context.Context, submissionID uint, payload dto.GradeRequest, actor Actor) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submission.grade", trace.WithAttributes(
		attribute.Int64("submission.id", int64(submissionID)),
		attribute.Int64("grading.actor_id", int64(actor.ID)),
	))
	defer span.End()

	if !actor.IsTeacher() {
		span.SetStatus(codes.Error, "forbidden")
		return dto.SubmissionResponse{}, ErrForbidden
	}

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.SubmissionResponse{}, err
	}

	submission, err := s.load(ctx, submissionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_lookup_failed")
		return dto.SubmissionResponse{}, err
	}

	grade := *payload.Grade
	feedback := strings.TrimSpace(payload.Feedback)

	unchanged := submission.IsGraded() &&
		submission.Grade != nil && *submission.Grade == grade &&
		strings.TrimSpace(submission.Feedback) == feedback
	if unchanged {
		span.SetAttributes(attribute.Bool("grading.idempotent", true))
		if err := s.submissions.Update(ctx, &submission); err != nil {
			span.RecordError(err)
			return dto.SubmissionResponse{}, err
		}
		return s.reload(ctx, submission)
	}

	gradedAt := s.now()
	gradedBy := actor.ID
	submission.Grade = &grade
	submission.Feedback = feedback
	submission.Status = models.SubmissionStatusGraded
	submission.GradedAt = &gradedAt
	submission.GradedBy = &gradedBy

	if err := s.submissions.Update(ctx, &submission); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_update_failed")
		return dto.SubmissionResponse{}, err
	}

	s.recordHistory(ctx, submission, models.GradeSourceManual, &gradedBy, gradedAt)
	s.logger.Info().Uint("submission_id", submission.ID).Uint("graded_by", gradedBy).Msg("submission graded manually")

	event := newSubmissionEvent(EventSubmissionGraded, submission)
	event.Source = models.GradeSourceManual
	s.events.Publish(ctx, event)

	span.SetAttributes(attribute.Int("grading.grade", grade))

	return s.reload(ctx, submission)
}

func (s *submissionService) Get(ctx context.Context, submissionID uint, actor Actor) (dto.SubmissionResponse, error) {
	submission, err := s.load(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !actor.IsTeacher() && submission.UserID != actor.ID {
		return dto.SubmissionResponse{}, ErrForbidden
	}
	return s.present(submission), nil
}

func (s *submissionService) GetForUser(ctx context.Context, activityID, userID uint) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.GetByActivityAndUser(ctx, activityID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}
	return s.present(submission), nil
}

func (s *submissionService) List(ctx context.Context, filter dto.SubmissionFilter) ([]dto.SubmissionResponse, error) {
	if err := s.validator.Struct(filter); err != nil {
		return nil, err
	}

	if _, err := s.activities.GetByID(ctx, filter.ActivityID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrActivityNotFound
		}
		return nil, err
	}

	submissions, err := s.submissions.List(ctx, repository.SubmissionFilter{
		ActivityID: &filter.ActivityID,
		Status:     filter.Status,
	})
	if err != nil {
		return nil, err
	}

	responses := make([]dto.SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		responses = append(responses, s.present(submission))
	}
	return responses, nil
}

func (s *submissionService) load(ctx context.Context, id uint) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}
	return submission, nil
}

func (s *submissionService) reload(ctx context.Context, submission models.Submission) (dto.SubmissionResponse, error) {
	updated, err := s.load(ctx, submission.ID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	return s.present(updated), nil
}

// present keeps content and feedback verbatim and adds a copy of the feedback that is safe to render as HTML.
func (s *submissionService) present(submission models.Submission) dto.SubmissionResponse {
	response := dto.NewSubmissionResponse(submission)
	if response.Feedback != "" {
		response.FeedbackHTML = s.sanitizer.Sanitize(response.Feedback)
	}
	return response
}

func (s *submissionService) recordHistory(ctx context.Context, submission models.Submission, source string, gradedBy *uint, gradedAt time.Time) {
	history := models.SubmissionGradeHistory{
		SubmissionID: submission.ID,
		Grade:        submission.Grade,
		Feedback:     submission.Feedback,
		Source:       source,
		GradedBy:     gradedBy,
		GradedAt:     gradedAt,
	}
	if err := s.submissions.CreateHistory(ctx, &history); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("failed to persist grading history")
	}
}

func (s *submissionService) remoteFailure(op string, submission models.Submission, saved bool, err error) error {
	s.logger.Warn().Err(err).
		Str("operation", op).
		Uint("submission_id", submission.ID).
		Bool("saved", saved).
		Msg("grading service call failed")
	return &LifecycleError{Op: op, Saved: saved, SubmissionID: submission.ID, Err: err}
}
