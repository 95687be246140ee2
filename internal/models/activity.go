package models

import "time"

// Activity is a course activity linked to a lerncode on the grading service.
type Activity struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	CourseName    string     `gorm:"size:255;not null" json:"course_name"`
	Name          string     `gorm:"size:255;not null" json:"name"`
	Intro         string     `gorm:"type:text" json:"intro"`
	Lerncode      string     `gorm:"size:128;not null" json:"lerncode"`
	TeacherAPIKey string     `gorm:"size:255" json:"-"`
	DueDate       *time.Time `json:"due_date"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Submissions   []Submission
}

// IsPastDue returns true when a due date is set and has already passed.
func (a Activity) IsPastDue(reference time.Time) bool {
	return a.DueDate != nil && reference.After(*a.DueDate)
}
