package services

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tahcohcat/studyquest/internal/models"
)

// StreakMilestones grant a shield the first time the streak reaches them.
var StreakMilestones = []int{7, 14, 30}

// StreakUpdate describes what a single Update call did.
type StreakUpdate struct {
	Changed      bool `json:"changed"`
	Streak       int  `json:"streak"`
	Shields      int  `json:"shields"`
	ShieldUsed   bool `json:"shield_used"`
	Reset        bool `json:"reset"`
	MilestoneHit int  `json:"milestone_hit,omitempty"` // milestone that granted a shield
}

type StreakService struct {
	users  *UserService
	events *EventService
}

func NewStreakService(users *UserService, events *EventService) *StreakService {
	return &StreakService{users: users, events: events}
}

// Update advances the user's streak for activity on m's calendar day. It
// mutates user in place and persists it through q. Calling it twice on the
// same day is a no-op the second time.
func (s *StreakService) Update(ctx context.Context, q sqlx.ExtContext, user *models.User, m moment) (StreakUpdate, error) {
	today := m.day()
	upd := StreakUpdate{Streak: user.StreakCount, Shields: user.StreakShields}

	incremented := false
	switch {
	case user.LastActivityDate == nil || *user.LastActivityDate == "":
		user.StreakCount = 1
	case *user.LastActivityDate == today:
		return upd, nil
	default:
		gap, err := daysBetween(*user.LastActivityDate, today)
		if err != nil {
			return upd, fmt.Errorf("failed to read last activity date: %w", err)
		}
		switch {
		case gap < 0:
			// activity recorded for a later day already; leave state alone
			return upd, nil
		case gap == 1:
			user.StreakCount++
			incremented = true
		case user.StreakShields > 0:
			user.StreakShields--
			upd.ShieldUsed = true
			detail := fmt.Sprintf("protected a %d day streak across %d missed days", user.StreakCount, gap-1)
			if _, err := s.events.Record(ctx, q, user.ID, models.EventShieldUsed, 0, detail, m.at); err != nil {
				return upd, err
			}
		default:
			user.StreakCount = 1
			upd.Reset = true
		}
	}

	if user.StreakCount > user.LongestStreak {
		user.LongestStreak = user.StreakCount
	}

	if incremented {
		if err := s.grantMilestone(ctx, q, user, m, &upd); err != nil {
			return upd, err
		}
	}

	user.LastActivityDate = &today
	if err := s.users.SaveStreak(ctx, q, user); err != nil {
		return upd, err
	}

	upd.Changed = true
	upd.Streak = user.StreakCount
	upd.Shields = user.StreakShields
	return upd, nil
}

func (s *StreakService) grantMilestone(ctx context.Context, q sqlx.ExtContext, user *models.User, m moment, upd *StreakUpdate) error {
	for _, milestone := range StreakMilestones {
		if user.StreakCount != milestone || user.StreakShields >= models.MaxStreakShields {
			continue
		}
		seen, err := s.events.HasMilestone(ctx, q, user.ID, milestone)
		if err != nil {
			return err
		}
		if seen {
			continue
		}

		user.StreakShields++
		upd.MilestoneHit = milestone
		if _, err := s.events.Record(ctx, q, user.ID, models.EventStreakMilestone, milestone,
			fmt.Sprintf("reached a %d day streak", milestone), m.at); err != nil {
			return err
		}
		if _, err := s.events.Record(ctx, q, user.ID, models.EventShieldEarned, milestone,
			fmt.Sprintf("earned a shield for a %d day streak", milestone), m.at); err != nil {
			return err
		}
	}
	return nil
}
