package models

import (
	"time"
)

type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentSubmitted AssignmentStatus = "submitted"
	AssignmentMissing   AssignmentStatus = "missing"
)

func (s AssignmentStatus) Valid() bool {
	switch s {
	case AssignmentPending, AssignmentSubmitted, AssignmentMissing:
		return true
	}
	return false
}

// Assignment is a course assignment as last reported by the upstream sync.
type Assignment struct {
	ID                string           `json:"id" db:"id"`
	UserID            string           `json:"user_id" db:"user_id"`
	ExternalRef       string           `json:"external_ref" db:"external_ref"`
	CourseID          string           `json:"course_id" db:"course_id"`
	CourseName        string           `json:"course_name" db:"course_name"`
	Title             string           `json:"title" db:"title"`
	DueAt             *time.Time       `json:"due_at" db:"due_at"`
	SubmittedAt       *time.Time       `json:"submitted_at" db:"submitted_at"`
	Status            AssignmentStatus `json:"status" db:"status"`
	ManuallyCompleted bool             `json:"manually_completed" db:"manually_completed"`
	IsUrgent          bool             `json:"is_urgent" db:"is_urgent"`
	UrgentOrder       float64          `json:"urgent_order" db:"urgent_order"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// IsSubmitted reports whether the assignment counts as done.
func (a *Assignment) IsSubmitted() bool {
	return a.SubmittedAt != nil && (a.Status == AssignmentSubmitted || a.ManuallyCompleted)
}

// HoursEarly is how long before the deadline the assignment was submitted.
// ok is false when there is no deadline or no submission.
func (a *Assignment) HoursEarly() (hours float64, ok bool) {
	if a.DueAt == nil || a.SubmittedAt == nil {
		return 0, false
	}
	return a.DueAt.Sub(*a.SubmittedAt).Hours(), true
}

// AssignmentSyncRequest is what the upstream sync pushes for one assignment.
type AssignmentSyncRequest struct {
	ExternalRef string           `json:"external_ref"`
	CourseID    string           `json:"course_id"`
	CourseName  string           `json:"course_name"`
	Title       string           `json:"title"`
	DueAt       *time.Time       `json:"due_at"`
	Status      AssignmentStatus `json:"status"`
}

type SubmissionRequest struct {
	SubmittedAt *time.Time `json:"submitted_at"`
}

type UrgentRequest struct {
	Urgent bool    `json:"urgent"`
	Order  float64 `json:"order"`
}
