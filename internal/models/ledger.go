package models

import (
	"time"
)

// Reason tags a ledger entry with why the points moved.
type Reason string

const (
	ReasonOnTimeSubmission Reason = "on_time_submission"
	ReasonEarlySubmission  Reason = "early_submission"
	ReasonLateSubmission   Reason = "late_submission"
	ReasonStreakBonus      Reason = "streak_bonus"
	ReasonCustomTask       Reason = "custom_task"
	ReasonAchievement      Reason = "achievement"
	ReasonChallengeBonus   Reason = "challenge_bonus"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonOnTimeSubmission, ReasonEarlySubmission, ReasonLateSubmission,
		ReasonStreakBonus, ReasonCustomTask, ReasonAchievement, ReasonChallengeBonus:
		return true
	}
	return false
}

// SourceRef links a ledger entry to the object whose completion produced it.
// At most one of the fields is set.
type SourceRef struct {
	AssignmentID *string
	TaskID       *string
}

func AssignmentSource(id string) SourceRef { return SourceRef{AssignmentID: &id} }

func TaskSource(id string) SourceRef { return SourceRef{TaskID: &id} }

func (s SourceRef) IsZero() bool {
	return s.AssignmentID == nil && s.TaskID == nil
}

// LedgerEntry is immutable once written.
type LedgerEntry struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	Delta        int       `json:"delta" db:"delta"`
	Reason       Reason    `json:"reason" db:"reason"`
	AssignmentID *string   `json:"assignment_id,omitempty" db:"assignment_id"`
	TaskID       *string   `json:"task_id,omitempty" db:"task_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
