package dto

import (
	"time"

	"github.com/noah-isme/engelbrain-go-api/internal/models"
)

// ActivityRequest is used to create or update an activity.
type ActivityRequest struct {
	CourseName    string     `json:"course_name" validate:"required,max=255"`
	Name          string     `json:"name" validate:"required,max=255"`
	Intro         string     `json:"intro" validate:"max=20000"`
	Lerncode      string     `json:"lerncode" validate:"required,max=128"`
	TeacherAPIKey *string    `json:"teacher_api_key" validate:"omitempty,max=255"`
	DueDate       *time.Time `json:"due_date"`
}

// ActivityResponse is returned to API clients. The teacher key is never exposed.
type ActivityResponse struct {
	ID               uint       `json:"id"`
	CourseName       string     `json:"course_name"`
	Name             string     `json:"name"`
	Intro            string     `json:"intro"`
	Lerncode         string     `json:"lerncode"`
	HasTeacherAPIKey bool       `json:"has_teacher_api_key"`
	DueDate          *time.Time `json:"due_date"`
	SubmissionsOpen  bool       `json:"submissions_open"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewActivityResponse converts an Activity model into a DTO.
func NewActivityResponse(model models.Activity, now time.Time) ActivityResponse {
	return ActivityResponse{
		ID:               model.ID,
		CourseName:       model.CourseName,
		Name:             model.Name,
		Intro:            model.Intro,
		Lerncode:         model.Lerncode,
		HasTeacherAPIKey: model.TeacherAPIKey != "",
		DueDate:          model.DueDate,
		SubmissionsOpen:  !model.IsPastDue(now),
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
	}
}
