package models

import (
	"time"
)

// DateLayout is the storage format of calendar days.
const DateLayout = "2006-01-02"

// User is the engine's view of a student. Identity lives elsewhere; we only
// keep the stable external id handed to us by the identity provider.
type User struct {
	ID               string    `json:"id" db:"id"`
	ExternalID       string    `json:"external_id" db:"external_id"`
	DisplayName      string    `json:"display_name" db:"display_name"`
	TotalPoints      int       `json:"total_points" db:"total_points"` // denormalized sum of the ledger
	StreakCount      int       `json:"streak_count" db:"streak_count"`
	LongestStreak    int       `json:"longest_streak" db:"longest_streak"`
	LastActivityDate *string   `json:"last_activity_date" db:"last_activity_date"` // YYYY-MM-DD
	StreakShields    int       `json:"streak_shields" db:"streak_shields"`
	XPMultiplierDay  *int      `json:"xp_multiplier_day" db:"xp_multiplier_day"` // time.Weekday
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// MaxStreakShields caps how many shields a user can hold.
const MaxStreakShields = 3

// IsMultiplierDay reports whether points earned on day are doubled.
func (u *User) IsMultiplierDay(day time.Time) bool {
	return u.XPMultiplierDay != nil && time.Weekday(*u.XPMultiplierDay) == day.Weekday()
}

// Profile is what /me returns.
type Profile struct {
	User
	UnseenAchievements int `json:"unseen_achievements"`
}

// SettingsUpdateRequest updates user preferences. A nil multiplier day with
// ClearMultiplierDay set removes it.
type SettingsUpdateRequest struct {
	DisplayName        *string `json:"display_name"`
	XPMultiplierDay    *int    `json:"xp_multiplier_day"`
	ClearMultiplierDay bool    `json:"clear_multiplier_day"`
}
