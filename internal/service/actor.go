package service

import (
	"fmt"
	"strings"
)

// Roles allowed to manage activities and grade submissions.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// Actor is the authenticated user performing an operation.
type Actor struct {
	ID   uint
	Name string
	Role string
}

// IsTeacher reports whether the actor may manage activities and grade.
func (a Actor) IsTeacher() bool {
	role := strings.ToLower(strings.TrimSpace(a.Role))
	return role == RoleTeacher || role == RoleAdmin
}

// DisplayName is the name forwarded to the grading service.
func (a Actor) DisplayName() string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	return fmt.Sprintf("user %d", a.ID)
}
