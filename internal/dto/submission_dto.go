package dto

import (
	"time"

	"github.com/noah-isme/engelbrain-go-api/internal/models"
)

// SubmitRequest carries the text a student hands in.
type SubmitRequest struct {
	Content string `json:"content" form:"content" validate:"required,max=200000"`
}

// GradeRequest is used by teachers to grade a submission manually.
type GradeRequest struct {
	Grade    *int   `json:"grade" validate:"required,gte=0,lte=100"`
	Feedback string `json:"feedback" validate:"max=20000"`
}

// SubmissionFilter describes query string filters for listing submissions.
type SubmissionFilter struct {
	ActivityID uint    `validate:"required,gt=0"`
	Status     *string `query:"status" validate:"omitempty,oneof=submitted graded"`
}

// Feedback outcomes reported by FetchFeedback.
const (
	FeedbackOutcomeSubmitted = "submitted"
	FeedbackOutcomePending   = "pending"
	FeedbackOutcomeGraded    = "graded"
)

// FeedbackResponse describes the result of a feedback fetch.
type FeedbackResponse struct {
	Outcome    string             `json:"outcome"`
	Message    string             `json:"message"`
	Submission SubmissionResponse `json:"submission"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID                 uint                             `json:"id"`
	ActivityID         uint                             `json:"activity_id"`
	UserID             uint                             `json:"user_id"`
	StudentName        string                           `json:"student_name"`
	Content            string                           `json:"content"`
	RemoteSubmissionID *string                          `json:"remote_submission_id"`
	Status             string                           `json:"status"`
	Grade              *int                             `json:"grade"`
	Feedback           string                           `json:"feedback"`
	FeedbackHTML       string                           `json:"feedback_html,omitempty"`
	GradedBy           *uint                            `json:"graded_by"`
	GradedAt           *time.Time                       `json:"graded_at"`
	History            []SubmissionGradeHistoryResponse `json:"history"`
	CreatedAt          time.Time                        `json:"created_at"`
	UpdatedAt          time.Time                        `json:"updated_at"`
	Activity           *ActivityLite                    `json:"activity,omitempty"`
}

// ActivityLite summarizes an activity in submission responses.
type ActivityLite struct {
	ID         uint       `json:"id"`
	CourseName string     `json:"course_name"`
	Name       string     `json:"name"`
	DueDate    *time.Time `json:"due_date"`
}

// SubmissionGradeHistoryResponse serializes grading history entries.
type SubmissionGradeHistoryResponse struct {
	Grade    *int      `json:"grade"`
	Feedback string    `json:"feedback"`
	Source   string    `json:"source"`
	GradedBy *uint     `json:"graded_by"`
	GradedAt time.Time `json:"graded_at"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	response := SubmissionResponse{
		ID:                 model.ID,
		ActivityID:         model.ActivityID,
		UserID:             model.UserID,
		StudentName:        model.StudentName,
		Content:            model.Content,
		RemoteSubmissionID: model.RemoteSubmissionID,
		Status:             model.Status,
		CreatedAt:          model.CreatedAt,
		UpdatedAt:          model.UpdatedAt,
		History:            []SubmissionGradeHistoryResponse{},
	}

	// Grade and feedback only carry meaning once graded.
	if model.IsGraded() {
		response.Grade = model.Grade
		response.Feedback = model.Feedback
		response.GradedBy = model.GradedBy
		response.GradedAt = model.GradedAt
	}

	if model.Activity.ID != 0 {
		response.Activity = &ActivityLite{
			ID:         model.Activity.ID,
			CourseName: model.Activity.CourseName,
			Name:       model.Activity.Name,
			DueDate:    model.Activity.DueDate,
		}
	}

	for _, entry := range model.History {
		response.History = append(response.History, SubmissionGradeHistoryResponse{
			Grade:    entry.Grade,
			Feedback: entry.Feedback,
			Source:   entry.Source,
			GradedBy: entry.GradedBy,
			GradedAt: entry.GradedAt,
		})
	}

	return response
}
