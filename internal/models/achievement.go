package models

import (
	"time"
)

type AchievementKey string

const (
	AchievementFirstSubmission   AchievementKey = "first_submission"
	AchievementNightOwl          AchievementKey = "night_owl"
	AchievementEarlyBird         AchievementKey = "early_bird"
	AchievementPerfectWeek       AchievementKey = "perfect_week"
	AchievementStreak7           AchievementKey = "streak_7"
	AchievementStreak14          AchievementKey = "streak_14"
	AchievementAheadOfSchedule   AchievementKey = "ahead_of_schedule"
	AchievementTaskMaster        AchievementKey = "task_master"
	AchievementChallengeChampion AchievementKey = "challenge_champion"
	AchievementShieldBearer      AchievementKey = "shield_bearer"
	AchievementPoints100         AchievementKey = "points_100"
	AchievementPoints500         AchievementKey = "points_500"
	AchievementPoints1000        AchievementKey = "points_1000"
)

type Achievement struct {
	ID          AchievementKey `json:"id" db:"id"`
	Icon        string         `json:"icon" db:"icon"`
	Title       string         `json:"title" db:"title"`
	Description string         `json:"description" db:"description"`
	Category    string         `json:"category" db:"category"`
	BonusPoints int            `json:"bonus_points" db:"bonus_points"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

type UserAchievement struct {
	UserID        string         `json:"user_id" db:"user_id"`
	AchievementID AchievementKey `json:"achievement_id" db:"achievement_id"`
	UnlockedAt    time.Time      `json:"unlocked_at" db:"unlocked_at"`
	Seen          bool           `json:"seen" db:"seen"`
}

type UserAchievementView struct {
	Achievement
	Unlocked   bool       `json:"unlocked" db:"unlocked"`
	UnlockedAt *time.Time `json:"unlocked_at" db:"unlocked_at"`
	Seen       bool       `json:"seen" db:"seen"`
}

// AchievementStats is the aggregate the unlock predicates run against.
// It is rebuilt from raw rows on every evaluation.
type AchievementStats struct {
	TotalPoints         int
	CurrentStreak       int
	LongestStreak       int
	Submissions         int
	NightSubmissions    int
	SubmissionsEarly48h int
	SubmissionsEarly24h int
	DueLastWeek         int
	MissingLastWeek     int
	CompletedTasks      int
	CompletedChallenges int
	ShieldsUsed         int
}
