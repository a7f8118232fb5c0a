package models

import (
	"time"
)

type TaskCategory string

const (
	CategoryAcademic TaskCategory = "academic"
	CategoryClub     TaskCategory = "club"
	CategoryWork     TaskCategory = "work"
	CategoryPersonal TaskCategory = "personal"
)

func (c TaskCategory) Valid() bool {
	switch c {
	case CategoryAcademic, CategoryClub, CategoryWork, CategoryPersonal:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
)

// Bounds for CustomTask.PointsValue.
const (
	MinTaskPoints = 1
	MaxTaskPoints = 100
)

// CustomTask is a user-authored to-do with a fixed point value.
type CustomTask struct {
	ID          string       `json:"id" db:"id"`
	UserID      string       `json:"user_id" db:"user_id"`
	Title       string       `json:"title" db:"title"`
	Category    TaskCategory `json:"category" db:"category"`
	PointsValue int          `json:"points_value" db:"points_value"`
	Status      TaskStatus   `json:"status" db:"status"`
	DueAt       *time.Time   `json:"due_at" db:"due_at"`
	CompletedAt *time.Time   `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

type TaskRequest struct {
	Title       string       `json:"title"`
	Category    TaskCategory `json:"category"`
	PointsValue int          `json:"points_value"`
	DueAt       *time.Time   `json:"due_at"`
}
