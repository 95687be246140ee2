package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/engelbrain-go-api/internal/dto"
	"github.com/noah-isme/engelbrain-go-api/internal/models"
	"github.com/noah-isme/engelbrain-go-api/internal/repository"
	"github.com/noah-isme/engelbrain-go-api/pkg/klausurenweb"
)

// ErrActivityNotFound indicates the activity does not exist.
var ErrActivityNotFound = errors.New("activity not found")

// ActivityService manages activities linked to a lerncode.
type ActivityService interface {
	Create(ctx context.Context, payload dto.ActivityRequest, actor Actor) (dto.ActivityResponse, error)
	Update(ctx context.Context, id uint, payload dto.ActivityRequest, actor Actor) (dto.ActivityResponse, error)
	Get(ctx context.Context, id uint) (dto.ActivityResponse, error)
	List(ctx context.Context) ([]dto.ActivityResponse, error)
	Delete(ctx context.Context, id uint, actor Actor) error
}

type activityService struct {
	repo      repository.ActivityRepository
	gateway   *GradingGateway
	validator *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time
}

// NewActivityService constructs the activity service.
func NewActivityService(repo repository.ActivityRepository, gateway *GradingGateway, validate *validator.Validate, logger zerolog.Logger) ActivityService {
	return &activityService{
		repo:      repo,
		gateway:   gateway,
		validator: validate,
		logger:    logger.With().Str("component", "activity_service").Logger(),
		now:       time.Now,
	}
}

func (s *activityService) Create(ctx context.Context, payload dto.ActivityRequest, actor Actor) (dto.ActivityResponse, error) {
	if !actor.IsTeacher() {
		return dto.ActivityResponse{}, ErrForbidden
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.ActivityResponse{}, err
	}

	activity := models.Activity{}
	applyActivityRequest(&activity, payload)

	if err := s.checkLerncode(ctx, activity); err != nil {
		return dto.ActivityResponse{}, err
	}

	if err := s.repo.Create(ctx, &activity); err != nil {
		return dto.ActivityResponse{}, err
	}

	s.logger.Info().Uint("activity_id", activity.ID).Uint("actor_id", actor.ID).Msg("activity created")

	return dto.NewActivityResponse(activity, s.now()), nil
}

func (s *activityService) Update(ctx context.Context, id uint, payload dto.ActivityRequest, actor Actor) (dto.ActivityResponse, error) {
	if !actor.IsTeacher() {
		return dto.ActivityResponse{}, ErrForbidden
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.ActivityResponse{}, err
	}

	activity, err := s.load(ctx, id)
	if err != nil {
		return dto.ActivityResponse{}, err
	}

	previousCode, previousKey := activity.Lerncode, activity.TeacherAPIKey
	applyActivityRequest(&activity, payload)

	if activity.Lerncode != previousCode || activity.TeacherAPIKey != previousKey {
		if err := s.checkLerncode(ctx, activity); err != nil {
			return dto.ActivityResponse{}, err
		}
	}

	if err := s.repo.Update(ctx, &activity); err != nil {
		return dto.ActivityResponse{}, err
	}

	s.logger.Info().Uint("activity_id", activity.ID).Uint("actor_id", actor.ID).Msg("activity updated")

	return dto.NewActivityResponse(activity, s.now()), nil
}

func (s *activityService) Get(ctx context.Context, id uint) (dto.ActivityResponse, error) {
	activity, err := s.load(ctx, id)
	if err != nil {
		return dto.ActivityResponse{}, err
	}
	return dto.NewActivityResponse(activity, s.now()), nil
}

func (s *activityService) List(ctx context.Context) ([]dto.ActivityResponse, error) {
	activities, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	responses := make([]dto.ActivityResponse, 0, len(activities))
	for _, activity := range activities {
		responses = append(responses, dto.NewActivityResponse(activity, now))
	}
	return responses, nil
}

func (s *activityService) Delete(ctx context.Context, id uint, actor Actor) error {
	if !actor.IsTeacher() {
		return ErrForbidden
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrActivityNotFound
		}
		return err
	}

	s.logger.Info().Uint("activity_id", id).Uint("actor_id", actor.ID).Msg("activity deleted")
	return nil
}

func (s *activityService) load(ctx context.Context, id uint) (models.Activity, error) {
	activity, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Activity{}, ErrActivityNotFound
		}
		return models.Activity{}, err
	}
	return activity, nil
}

// checkLerncode validates the code remotely when an API key can be resolved.
// Without any key the activity is still saved; submissions will report the missing key.
func (s *activityService) checkLerncode(ctx context.Context, activity models.Activity) error {
	if s.gateway == nil {
		return nil
	}

	client, apiKey, err := s.gateway.Client(activity.TeacherAPIKey, activity.Lerncode)
	if err != nil {
		if klausurenweb.IsKind(err, klausurenweb.KindConfiguration) {
			s.logger.Debug().Str("lerncode", activity.Lerncode).Msg("skipping lerncode check, no api key resolvable")
			return nil
		}
		return err
	}

	return s.gateway.CheckLerncode(ctx, client, apiKey, activity.Lerncode)
}

func applyActivityRequest(activity *models.Activity, payload dto.ActivityRequest) {
	activity.CourseName = strings.TrimSpace(payload.CourseName)
	activity.Name = strings.TrimSpace(payload.Name)
	activity.Intro = strings.TrimSpace(payload.Intro)
	activity.Lerncode = strings.TrimSpace(payload.Lerncode)
	activity.DueDate = payload.DueDate
	if payload.TeacherAPIKey != nil {
		activity.TeacherAPIKey = strings.TrimSpace(*payload.TeacherAPIKey)
	}
}
