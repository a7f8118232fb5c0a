package models

import (
	"time"
)

// EventKind tags entries of the activity log. Unlike the ledger, the
// activity log never carries points.
type EventKind string

const (
	EventShieldUsed         EventKind = "shield_used"
	EventShieldEarned       EventKind = "shield_earned"
	EventStreakMilestone    EventKind = "streak_milestone"
	EventBadgeEarned        EventKind = "badge_earned"
	EventChallengeCompleted EventKind = "challenge_completed"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventShieldUsed, EventShieldEarned, EventStreakMilestone, EventBadgeEarned, EventChallengeCompleted:
		return true
	}
	return false
}

type ActivityEvent struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Kind      EventKind `json:"kind" db:"kind"`
	Milestone int       `json:"milestone,omitempty" db:"milestone"`
	Detail    string    `json:"detail" db:"detail"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
