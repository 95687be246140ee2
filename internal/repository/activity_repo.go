package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/engelbrain-go-api/internal/models"
)

// ActivityRepository defines data operations for course activities.
type ActivityRepository interface {
	List(ctx context.Context) ([]models.Activity, error)
	GetByID(ctx context.Context, id uint) (models.Activity, error)
	Create(ctx context.Context, activity *models.Activity) error
	Update(ctx context.Context, activity *models.Activity) error
	Delete(ctx context.Context, id uint) error
}

type activityRepository struct {
	db *gorm.DB
}

// NewActivityRepository instantiates the repository.
func NewActivityRepository(db *gorm.DB) ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) List(ctx context.Context) ([]models.Activity, error) {
	var activities []models.Activity
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&activities).Error; err != nil {
		return nil, err
	}

	return activities, nil
}

func (r *activityRepository) GetByID(ctx context.Context, id uint) (models.Activity, error) {
	var activity models.Activity
	if err := r.db.WithContext(ctx).First(&activity, id).Error; err != nil {
		return models.Activity{}, err
	}

	return activity, nil
}

func (r *activityRepository) Create(ctx context.Context, activity *models.Activity) error {
	return r.db.WithContext(ctx).Create(activity).Error
}

func (r *activityRepository) Update(ctx context.Context, activity *models.Activity) error {
	return r.db.WithContext(ctx).Save(activity).Error
}

// Delete removes the activity together with its submissions and their history.
func (r *activityRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var activity models.Activity
		if err := tx.First(&activity, id).Error; err != nil {
			return err
		}

		submissionIDs := tx.Model(&models.Submission{}).Select("id").Where("activity_id = ?", id)
		if err := tx.Where("submission_id IN (?)", submissionIDs).Delete(&models.SubmissionGradeHistory{}).Error; err != nil {
			return err
		}
		if err := tx.Where("activity_id = ?", id).Delete(&models.Submission{}).Error; err != nil {
			return err
		}

		return tx.Delete(&activity).Error
	})
}
