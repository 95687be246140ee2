package models

import (
	"time"

	"gorm.io/datatypes"
)

// Submission is the single piece of work a student hands in for an activity.
type Submission struct {
	ID                 uint                     `gorm:"primaryKey" json:"id"`
	ActivityID         uint                     `gorm:"not null;uniqueIndex:idx_submission_activity_user" json:"activity_id"`
	UserID             uint                     `gorm:"not null;uniqueIndex:idx_submission_activity_user" json:"user_id"`
	StudentName        string                   `gorm:"size:255" json:"student_name"`
	Content            string                   `gorm:"type:text" json:"content"`
	RemoteSubmissionID *string                  `gorm:"size:512;index" json:"remote_submission_id"`
	RemoteMetadata     datatypes.JSONMap        `json:"remote_metadata"`
	Status             string                   `gorm:"size:32;not null" json:"status"`
	Grade              *int                     `json:"grade"`
	Feedback           string                   `gorm:"type:text" json:"feedback"`
	GradedBy           *uint                    `json:"graded_by"`
	GradedAt           *time.Time               `json:"graded_at"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
	Activity           Activity                 `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"activity"`
	History            []SubmissionGradeHistory `gorm:"constraint:OnDelete:CASCADE" json:"history"`
}

const (
	// SubmissionStatusSubmitted indicates the submission is stored but not graded.
	SubmissionStatusSubmitted = "submitted"
	// SubmissionStatusGraded indicates the submission carries a final grade.
	SubmissionStatusGraded = "graded"
)

// IsGraded reports whether the submission has a final grade.
func (s Submission) IsGraded() bool {
	return s.Status == SubmissionStatusGraded
}

// HasRemoteSubmission reports whether the content was forwarded to the grading service.
func (s Submission) HasRemoteSubmission() bool {
	return s.RemoteSubmissionID != nil && *s.RemoteSubmissionID != ""
}

// Grade sources recorded in the history.
const (
	GradeSourceManual = "manual"
	GradeSourceRemote = "remote"
)

// SubmissionGradeHistory keeps every grade that was applied to a submission.
type SubmissionGradeHistory struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubmissionID uint      `gorm:"not null;index" json:"submission_id"`
	Grade        *int      `json:"grade"`
	Feedback     string    `gorm:"type:text" json:"feedback"`
	Source       string    `gorm:"size:16;not null" json:"source"`
	GradedBy     *uint     `json:"graded_by"`
	GradedAt     time.Time `json:"graded_at"`
}
