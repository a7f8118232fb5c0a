package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tahcohcat/studyquest/internal/logger"
	"github.com/tahcohcat/studyquest/internal/models"
)

type achievementRule struct {
	key models.AchievementKey
	met func(st models.AchievementStats) bool
}

// Point thresholds come last so bonuses awarded earlier in the same pass
// can push the total over them.
var achievementRules = []achievementRule{
	{models.AchievementFirstSubmission, func(st models.AchievementStats) bool { return st.Submissions >= 1 }},
	{models.AchievementNightOwl, func(st models.AchievementStats) bool { return st.NightSubmissions >= 1 }},
	{models.AchievementEarlyBird, func(st models.AchievementStats) bool { return st.SubmissionsEarly48h >= 1 }},
	{models.AchievementPerfectWeek, func(st models.AchievementStats) bool { return st.DueLastWeek > 0 && st.MissingLastWeek == 0 }},
	{models.AchievementStreak7, func(st models.AchievementStats) bool { return bestStreak(st) >= 7 }},
	{models.AchievementStreak14, func(st models.AchievementStats) bool { return bestStreak(st) >= 14 }},
	{models.AchievementAheadOfSchedule, func(st models.AchievementStats) bool { return st.SubmissionsEarly24h >= 5 }},
	{models.AchievementTaskMaster, func(st models.AchievementStats) bool { return st.CompletedTasks >= 10 }},
	{models.AchievementChallengeChampion, func(st models.AchievementStats) bool { return st.CompletedChallenges >= 5 }},
	{models.AchievementShieldBearer, func(st models.AchievementStats) bool { return st.ShieldsUsed >= 1 }},
	{models.AchievementPoints100, func(st models.AchievementStats) bool { return st.TotalPoints >= 100 }},
	{models.AchievementPoints500, func(st models.AchievementStats) bool { return st.TotalPoints >= 500 }},
	{models.AchievementPoints1000, func(st models.AchievementStats) bool { return st.TotalPoints >= 1000 }},
}

func bestStreak(st models.AchievementStats) int {
	if st.CurrentStreak > st.LongestStreak {
		return st.CurrentStreak
	}
	return st.LongestStreak
}

// DefaultAchievements is the seeded catalog.
var DefaultAchievements = []models.Achievement{
	{ID: models.AchievementFirstSubmission, Icon: "🎯", Title: "First Steps", Description: "Submit your first assignment", Category: "progress", BonusPoints: 10},
	{ID: models.AchievementNightOwl, Icon: "🌙", Title: "Night Owl", Description: "Submit an assignment between midnight and 4am", Category: "time", BonusPoints: 15},
	{ID: models.AchievementEarlyBird, Icon: "🐦", Title: "Early Bird", Description: "Submit an assignment at least 48 hours before it is due", Category: "time", BonusPoints: 15},
	{ID: models.AchievementPerfectWeek, Icon: "✅", Title: "Perfect Week", Description: "Have at least one assignment due in the last 7 days and miss none of them", Category: "consistency", BonusPoints: 25},
	{ID: models.AchievementStreak7, Icon: "🔥", Title: "On Fire", Description: "Reach a 7 day streak", Category: "streak", BonusPoints: 25},
	{ID: models.AchievementStreak14, Icon: "☄️", Title: "Unstoppable", Description: "Reach a 14 day streak", Category: "streak", BonusPoints: 50},
	{ID: models.AchievementAheadOfSchedule, Icon: "⏰", Title: "Ahead of Schedule", Description: "Submit 5 assignments at least a day early", Category: "time", BonusPoints: 30},
	{ID: models.AchievementTaskMaster, Icon: "📋", Title: "Task Master", Description: "Complete 10 custom tasks", Category: "tasks", BonusPoints: 20},
	{ID: models.AchievementChallengeChampion, Icon: "🏅", Title: "Challenge Champion", Description: "Complete 5 daily challenges", Category: "challenges", BonusPoints: 30},
	{ID: models.AchievementShieldBearer, Icon: "🛡️", Title: "Shield Bearer", Description: "Let a shield save your streak", Category: "streak", BonusPoints: 10},
	{ID: models.AchievementPoints100, Icon: "💯", Title: "Century", Description: "Earn 100 points", Category: "points", BonusPoints: 10},
	{ID: models.AchievementPoints500, Icon: "⭐", Title: "High Achiever", Description: "Earn 500 points", Category: "points", BonusPoints: 25},
	{ID: models.AchievementPoints1000, Icon: "👑", Title: "Legend", Description: "Earn 1000 points", Category: "points", BonusPoints: 50},
}

type AchievementService struct {
	users  *UserService
	ledger *LedgerService
	events *EventService
	log    *logger.Log
}

func NewAchievementService(users *UserService, ledger *LedgerService, events *EventService) *AchievementService {
	return &AchievementService{users: users, ledger: ledger, events: events, log: logger.New().With("component", "achievements")}
}

// Seed inserts the default catalog, leaving existing rows untouched.
func (s *AchievementService) Seed(ctx context.Context, q sqlx.ExtContext, now time.Time) error {
	query := `
		INSERT INTO achievements (id, icon, title, description, category, bonus_points, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`
	for _, a := range DefaultAchievements {
		if _, err := q.ExecContext(ctx, q.Rebind(query), a.ID, a.Icon, a.Title, a.Description, a.Category, a.BonusPoints, now.UTC()); err != nil {
			return fmt.Errorf("failed to seed achievement %s: %w", a.ID, err)
		}
	}
	return nil
}

// Stats rebuilds the achievement statistics of a user from raw rows.
func (s *AchievementService) Stats(ctx context.Context, q sqlx.ExtContext, user *models.User, m moment) (models.AchievementStats, error) {
	st := models.AchievementStats{
		TotalPoints:   user.TotalPoints,
		CurrentStreak: user.StreakCount,
		LongestStreak: user.LongestStreak,
	}

	var assignments []models.Assignment
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE user_id = ?`
	if err := sqlx.SelectContext(ctx, q, &assignments, q.Rebind(query), user.ID); err != nil {
		return st, fmt.Errorf("failed to load assignments: %w", err)
	}

	weekAgo := m.at.AddDate(0, 0, -7)
	for i := range assignments {
		a := &assignments[i]
		if a.IsSubmitted() {
			st.Submissions++
			if a.SubmittedAt.In(m.loc).Hour() < 4 {
				st.NightSubmissions++
			}
			if hours, ok := a.HoursEarly(); ok {
				if hours >= 48 {
					st.SubmissionsEarly48h++
				}
				if hours >= 24 {
					st.SubmissionsEarly24h++
				}
			}
		}
		if a.DueAt != nil && a.DueAt.After(weekAgo) && !a.DueAt.After(m.at) {
			st.DueLastWeek++
			if a.Status == models.AssignmentMissing {
				st.MissingLastWeek++
			}
		}
	}

	query = `SELECT COUNT(*) FROM custom_tasks WHERE user_id = ? AND status = ?`
	if err := sqlx.GetContext(ctx, q, &st.CompletedTasks, q.Rebind(query), user.ID, models.TaskCompleted); err != nil {
		return st, fmt.Errorf("failed to count completed tasks: %w", err)
	}

	query = `SELECT COUNT(*) FROM user_daily_challenges WHERE user_id = ? AND completed = ?`
	if err := sqlx.GetContext(ctx, q, &st.CompletedChallenges, q.Rebind(query), user.ID, true); err != nil {
		return st, fmt.Errorf("failed to count completed challenges: %w", err)
	}

	used, err := s.events.Count(ctx, q, user.ID, models.EventShieldUsed)
	if err != nil {
		return st, err
	}
	st.ShieldsUsed = used

	return st, nil
}

// Evaluate unlocks every achievement whose predicate holds and that the user
// does not have yet. Each unlock pays its bonus through the ledger and the
// running total is bumped before the next rule is checked.
func (s *AchievementService) Evaluate(ctx context.Context, q sqlx.ExtContext, userID string, m moment) ([]models.Achievement, error) {
	user, err := s.users.Get(ctx, q, userID)
	if err != nil {
		return nil, err
	}

	stats, err := s.Stats(ctx, q, user, m)
	if err != nil {
		return nil, err
	}

	var owned []models.AchievementKey
	if err := sqlx.SelectContext(ctx, q, &owned, q.Rebind(`SELECT achievement_id FROM user_achievements WHERE user_id = ?`), userID); err != nil {
		return nil, fmt.Errorf("failed to load unlocked achievements: %w", err)
	}
	unlocked := make(map[models.AchievementKey]bool, len(owned))
	for _, k := range owned {
		unlocked[k] = true
	}

	catalog, err := s.catalog(ctx, q)
	if err != nil {
		return nil, err
	}

	var newly []models.Achievement
	for _, rule := range achievementRules {
		if unlocked[rule.key] || !rule.met(stats) {
			continue
		}

		a, ok := catalog[rule.key]
		if !ok {
			s.log.With("achievement", rule.key).Warn("achievement missing from catalog, skipping")
			continue
		}

		query := `
			INSERT INTO user_achievements (user_id, achievement_id, unlocked_at, seen)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id, achievement_id) DO NOTHING
		`
		res, err := q.ExecContext(ctx, q.Rebind(query), userID, a.ID, m.at, false)
		if err != nil {
			return nil, fmt.Errorf("failed to unlock achievement %s: %w", a.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			continue
		}

		if a.BonusPoints != 0 {
			if _, err := s.ledger.Add(ctx, q, userID, a.BonusPoints, models.ReasonAchievement, models.SourceRef{}, m.at); err != nil {
				return nil, err
			}
			stats.TotalPoints += a.BonusPoints
		}
		if _, err := s.events.Record(ctx, q, userID, models.EventBadgeEarned, 0, fmt.Sprintf("Earned %q badge", a.Title), m.at); err != nil {
			return nil, err
		}

		unlocked[a.ID] = true
		newly = append(newly, a)
	}

	return newly, nil
}

func (s *AchievementService) catalog(ctx context.Context, q sqlx.ExtContext) (map[models.AchievementKey]models.Achievement, error) {
	var rows []models.Achievement
	query := `SELECT id, icon, title, description, category, bonus_points, created_at FROM achievements`
	if err := sqlx.SelectContext(ctx, q, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to load achievement catalog: %w", err)
	}
	catalog := make(map[models.AchievementKey]models.Achievement, len(rows))
	for _, a := range rows {
		catalog[a.ID] = a
	}
	return catalog, nil
}

// List returns all achievements with the user's unlock state
func (s *AchievementService) List(ctx context.Context, q sqlx.ExtContext, userID string) ([]models.UserAchievementView, error) {
	query := `
		SELECT
			a.id, a.icon, a.title, a.description, a.category, a.bonus_points, a.created_at,
			CASE WHEN ua.user_id IS NULL THEN FALSE ELSE TRUE END AS unlocked,
			ua.unlocked_at,
			COALESCE(ua.seen, FALSE) AS seen
		FROM achievements a
		LEFT JOIN user_achievements ua ON a.id = ua.achievement_id AND ua.user_id = ?
		ORDER BY a.category, a.id
	`

	var achievements []models.UserAchievementView
	if err := sqlx.SelectContext(ctx, q, &achievements, q.Rebind(query), userID); err != nil {
		return nil, fmt.Errorf("failed to get user achievements: %w", err)
	}
	return achievements, nil
}

// MarkSeen flags every unlocked achievement of the user as seen.
func (s *AchievementService) MarkSeen(ctx context.Context, q sqlx.ExtContext, userID string) (int, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE user_achievements SET seen = ? WHERE user_id = ? AND seen = ?`), true, userID, false)
	if err != nil {
		return 0, fmt.Errorf("failed to mark achievements seen: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
