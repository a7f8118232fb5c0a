package models

import (
	"time"
)

type Leaderboard struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	InviteCode string    `json:"invite_code" db:"invite_code"`
	CreatorID  string    `json:"creator_id" db:"creator_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type LeaderboardMember struct {
	LeaderboardID string    `json:"leaderboard_id" db:"leaderboard_id"`
	UserID        string    `json:"user_id" db:"user_id"`
	JoinedAt      time.Time `json:"joined_at" db:"joined_at"`
}

// RankedMember is one row of a leaderboard ranking.
type RankedMember struct {
	Rank        int       `json:"rank"`
	UserID      string    `json:"user_id" db:"user_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	TotalPoints int       `json:"total_points" db:"total_points"`
	StreakCount int       `json:"streak_count" db:"streak_count"`
	JoinedAt    time.Time `json:"joined_at" db:"joined_at"`
}

type CreateLeaderboardRequest struct {
	Name string `json:"name"`
}

type JoinLeaderboardRequest struct {
	InviteCode string `json:"invite_code"`
}

type JoinResult struct {
	Leaderboard   Leaderboard `json:"leaderboard"`
	AlreadyMember bool        `json:"already_member"`
}
