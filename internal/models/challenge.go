package models

import (
	"time"
)

type ChallengeType string

const (
	ChallengeSubmitAssignments ChallengeType = "submit_assignments"
	ChallengeEarlySubmissions  ChallengeType = "early_submissions"
	ChallengeMaintainStreak    ChallengeType = "maintain_streak"
	ChallengeEarnPoints        ChallengeType = "earn_points"
	ChallengeCompleteTasks     ChallengeType = "complete_tasks"

	// Catalogued without a progress rule.
	ChallengeClearWeek   ChallengeType = "clear_week"
	ChallengeCourseSweep ChallengeType = "course_sweep"
	ChallengeDailyRun    ChallengeType = "daily_run"
)

func (t ChallengeType) Valid() bool {
	switch t {
	case ChallengeSubmitAssignments, ChallengeEarlySubmissions, ChallengeMaintainStreak,
		ChallengeEarnPoints, ChallengeCompleteTasks,
		ChallengeClearWeek, ChallengeCourseSweep, ChallengeDailyRun:
		return true
	}
	return false
}

// Tracked reports whether progress for this type can be computed.
func (t ChallengeType) Tracked() bool {
	switch t {
	case ChallengeSubmitAssignments, ChallengeEarlySubmissions, ChallengeMaintainStreak,
		ChallengeEarnPoints, ChallengeCompleteTasks:
		return true
	}
	return false
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// DailyChallengeCount is how many challenges a user gets per day.
const DailyChallengeCount = 3

type ChallengePoolItem struct {
	ID          string        `json:"id" db:"id"`
	Type        ChallengeType `json:"type" db:"type"`
	Title       string        `json:"title" db:"title"`
	TargetValue int           `json:"target_value" db:"target_value"`
	BonusPoints int           `json:"bonus_points" db:"bonus_points"`
	Difficulty  Difficulty    `json:"difficulty" db:"difficulty"`
}

type UserDailyChallenge struct {
	ID           string     `json:"id" db:"id"`
	UserID       string     `json:"user_id" db:"user_id"`
	Date         string     `json:"date" db:"challenge_date"` // YYYY-MM-DD
	ChallengeID  string     `json:"challenge_id" db:"challenge_id"`
	Progress     int        `json:"progress" db:"progress"`
	Completed    bool       `json:"completed" db:"completed"`
	BonusAwarded bool       `json:"bonus_awarded" db:"bonus_awarded"`
	CompletedAt  *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// DailyChallengeView joins a user's challenge row with its catalog item.
type DailyChallengeView struct {
	UserDailyChallenge
	Type        ChallengeType `json:"type" db:"type"`
	Title       string        `json:"title" db:"title"`
	TargetValue int           `json:"target_value" db:"target_value"`
	BonusPoints int           `json:"bonus_points" db:"bonus_points"`
	Difficulty  Difficulty    `json:"difficulty" db:"difficulty"`
}
