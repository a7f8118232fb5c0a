package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tahcohcat/studyquest/internal/logger"
	"github.com/tahcohcat/studyquest/internal/models"
)

// Sampling weights for daily challenge generation.
const (
	recentChallengeWeight = 0.2
	freshChallengeWeight  = 1.0
	recentChallengeDays   = 7
)

// EarlySubmissionHours is how far ahead of the deadline a submission has to
// land to count as early.
const EarlySubmissionHours = 24

// DefaultChallengePool is the seeded challenge catalog.
var DefaultChallengePool = []models.ChallengePoolItem{
	{ID: "submit-1", Type: models.ChallengeSubmitAssignments, Title: "Submit an assignment", TargetValue: 1, BonusPoints: 10, Difficulty: models.DifficultyEasy},
	{ID: "submit-3", Type: models.ChallengeSubmitAssignments, Title: "Submit three assignments", TargetValue: 3, BonusPoints: 25, Difficulty: models.DifficultyHard},
	{ID: "early-1", Type: models.ChallengeEarlySubmissions, Title: "Submit something a day early", TargetValue: 1, BonusPoints: 15, Difficulty: models.DifficultyMedium},
	{ID: "early-2", Type: models.ChallengeEarlySubmissions, Title: "Submit two assignments a day early", TargetValue: 2, BonusPoints: 30, Difficulty: models.DifficultyHard},
	{ID: "streak-3", Type: models.ChallengeMaintainStreak, Title: "Keep a 3 day streak alive", TargetValue: 3, BonusPoints: 10, Difficulty: models.DifficultyEasy},
	{ID: "streak-7", Type: models.ChallengeMaintainStreak, Title: "Keep a 7 day streak alive", TargetValue: 7, BonusPoints: 25, Difficulty: models.DifficultyHard},
	{ID: "points-25", Type: models.ChallengeEarnPoints, Title: "Earn 25 points today", TargetValue: 25, BonusPoints: 10, Difficulty: models.DifficultyEasy},
	{ID: "points-60", Type: models.ChallengeEarnPoints, Title: "Earn 60 points today", TargetValue: 60, BonusPoints: 20, Difficulty: models.DifficultyMedium},
	{ID: "tasks-1", Type: models.ChallengeCompleteTasks, Title: "Complete a custom task", TargetValue: 1, BonusPoints: 5, Difficulty: models.DifficultyEasy},
	{ID: "tasks-3", Type: models.ChallengeCompleteTasks, Title: "Complete three custom tasks", TargetValue: 3, BonusPoints: 15, Difficulty: models.DifficultyMedium},
	{ID: "clear-week", Type: models.ChallengeClearWeek, Title: "Clear everything due this week", TargetValue: 1, BonusPoints: 40, Difficulty: models.DifficultyHard},
	{ID: "course-sweep", Type: models.ChallengeCourseSweep, Title: "Finish every task in one course", TargetValue: 1, BonusPoints: 30, Difficulty: models.DifficultyHard},
	{ID: "daily-run", Type: models.ChallengeDailyRun, Title: "Complete something every day for 5 days", TargetValue: 5, BonusPoints: 35, Difficulty: models.DifficultyHard},
}

const dailyChallengeColumns = `id, user_id, challenge_date, challenge_id, progress, completed, bonus_awarded, completed_at, created_at`

type ChallengeService struct {
	users  *UserService
	ledger *LedgerService
	events *EventService
	log    *logger.Log

	mu  sync.Mutex
	rng *rand.Rand
}

func NewChallengeService(users *UserService, ledger *LedgerService, events *EventService, rng *rand.Rand) *ChallengeService {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	return &ChallengeService{
		users:  users,
		ledger: ledger,
		events: events,
		rng:    rng,
		log:    logger.New().With("component", "challenges"),
	}
}

func (s *ChallengeService) float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// SeedPool inserts the default catalog, leaving existing rows untouched.
func (s *ChallengeService) SeedPool(ctx context.Context, q sqlx.ExtContext) error {
	query := `
		INSERT INTO challenge_pool (id, type, title, target_value, bonus_points, difficulty)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`
	for _, c := range DefaultChallengePool {
		if _, err := q.ExecContext(ctx, q.Rebind(query), c.ID, c.Type, c.Title, c.TargetValue, c.BonusPoints, c.Difficulty); err != nil {
			return fmt.Errorf("failed to seed challenge %s: %w", c.ID, err)
		}
	}
	return nil
}

func (s *ChallengeService) pool(ctx context.Context, q sqlx.ExtContext) ([]models.ChallengePoolItem, error) {
	var items []models.ChallengePoolItem
	query := `SELECT id, type, title, target_value, bonus_points, difficulty FROM challenge_pool ORDER BY id`
	if err := sqlx.SelectContext(ctx, q, &items, query); err != nil {
		return nil, fmt.Errorf("failed to load challenge pool: %w", err)
	}
	return items, nil
}

func (s *ChallengeService) rows(ctx context.Context, q sqlx.ExtContext, userID, day string) ([]models.UserDailyChallenge, error) {
	var rows []models.UserDailyChallenge
	query := `SELECT ` + dailyChallengeColumns + ` FROM user_daily_challenges WHERE user_id = ? AND challenge_date = ? ORDER BY created_at, id`
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), userID, day); err != nil {
		return nil, fmt.Errorf("failed to load daily challenges: %w", err)
	}
	return rows, nil
}

// Generate assigns the day's challenges to a user. If the day already has a
// full set it does nothing; leftovers of an interrupted run are replaced.
// It reports whether new rows were written.
func (s *ChallengeService) Generate(ctx context.Context, q sqlx.ExtContext, userID string, m moment) (bool, error) {
	day := m.day()

	existing, err := s.rows(ctx, q, userID, day)
	if err != nil {
		return false, err
	}

	pool, err := s.pool(ctx, q)
	if err != nil {
		return false, err
	}
	want := min(models.DailyChallengeCount, len(pool))
	if want == 0 {
		s.log.Warn("challenge pool is empty, nothing to generate")
		return false, nil
	}
	if len(existing) >= want {
		return false, nil
	}

	if len(existing) > 0 {
		if _, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM user_daily_challenges WHERE user_id = ? AND challenge_date = ?`), userID, day); err != nil {
			return false, fmt.Errorf("failed to clear partial challenges: %w", err)
		}
	}

	var recent []string
	query := `
		SELECT DISTINCT challenge_id FROM user_daily_challenges
		WHERE user_id = ? AND challenge_date >= ? AND challenge_date < ?
	`
	if err := sqlx.SelectContext(ctx, q, &recent, q.Rebind(query), userID, shiftDay(day, -recentChallengeDays), day); err != nil {
		return false, fmt.Errorf("failed to load recent challenges: %w", err)
	}
	shown := make(map[string]bool, len(recent))
	for _, id := range recent {
		shown[id] = true
	}

	weights := make([]float64, len(pool))
	for i, item := range pool {
		weights[i] = freshChallengeWeight
		if shown[item.ID] {
			weights[i] = recentChallengeWeight
		}
	}

	insert := `
		INSERT INTO user_daily_challenges (id, user_id, challenge_date, challenge_id, progress, completed, bonus_awarded, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)
	`
	for _, idx := range sampleWeighted(weights, want, s.float64) {
		if _, err := q.ExecContext(ctx, q.Rebind(insert), uuid.NewString(), userID, day, pool[idx].ID, false, false, m.at); err != nil {
			return false, fmt.Errorf("failed to assign challenge %s: %w", pool[idx].ID, err)
		}
	}
	return true, nil
}

// sampleWeighted draws n distinct indexes by roulette-wheel selection: a
// uniform value over the remaining weight picks the first item whose
// cumulative weight exceeds it, and that item leaves the wheel.
func sampleWeighted(weights []float64, n int, uniform func() float64) []int {
	remaining := make([]int, len(weights))
	for i := range remaining {
		remaining[i] = i
	}
	n = min(n, len(weights))

	picked := make([]int, 0, n)
	for len(picked) < n {
		total := 0.0
		for _, i := range remaining {
			total += weights[i]
		}

		target := uniform() * total
		chosen := len(remaining) - 1
		acc := 0.0
		for pos, i := range remaining {
			acc += weights[i]
			if acc > target {
				chosen = pos
				break
			}
		}

		picked = append(picked, remaining[chosen])
		remaining = append(remaining[:chosen], remaining[chosen+1:]...)
	}
	return picked
}

// dayActivity is the same-day raw activity progress is measured against.
type dayActivity struct {
	submitted   int
	early       int
	streak      int
	earned      int
	tasksClosed int
}

func (s *ChallengeService) activity(ctx context.Context, q sqlx.ExtContext, user *models.User, m moment) (dayActivity, error) {
	from, to := m.dayBounds()
	act := dayActivity{streak: user.StreakCount}

	var assignments []models.Assignment
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE user_id = ? AND submitted_at IS NOT NULL`
	if err := sqlx.SelectContext(ctx, q, &assignments, q.Rebind(query), user.ID); err != nil {
		return act, fmt.Errorf("failed to load assignments: %w", err)
	}
	for i := range assignments {
		a := &assignments[i]
		if !a.IsSubmitted() || !within(a.SubmittedAt, from, to) {
			continue
		}
		act.submitted++
		if hours, ok := a.HoursEarly(); ok && hours >= EarlySubmissionHours {
			act.early++
		}
	}

	var tasks []models.CustomTask
	query = `SELECT ` + taskColumns + ` FROM custom_tasks WHERE user_id = ? AND status = ?`
	if err := sqlx.SelectContext(ctx, q, &tasks, q.Rebind(query), user.ID, models.TaskCompleted); err != nil {
		return act, fmt.Errorf("failed to load tasks: %w", err)
	}
	for i := range tasks {
		if within(tasks[i].CompletedAt, from, to) {
			act.tasksClosed++
		}
	}

	earned, err := s.ledger.EarnedBetween(ctx, q, user.ID, from, to)
	if err != nil {
		return act, err
	}
	act.earned = earned

	return act, nil
}

// Recompute refreshes progress of the day's challenges that have not paid
// out yet and pays the bonus on the first transition to completed. It
// returns the challenges completed by this call.
func (s *ChallengeService) Recompute(ctx context.Context, q sqlx.ExtContext, userID string, m moment) ([]models.DailyChallengeView, error) {
	user, err := s.users.Get(ctx, q, userID)
	if err != nil {
		return nil, err
	}

	rows, err := s.rows(ctx, q, userID, m.day())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	pool, err := s.pool(ctx, q)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.ChallengePoolItem, len(pool))
	for _, item := range pool {
		byID[item.ID] = item
	}

	act, err := s.activity(ctx, q, user, m)
	if err != nil {
		return nil, err
	}

	var done []models.DailyChallengeView
	for _, row := range rows {
		if row.BonusAwarded {
			continue
		}
		item, ok := byID[row.ChallengeID]
		if !ok {
			s.log.With("challenge", row.ChallengeID).With("user", userID).Warn("daily challenge refers to a missing pool item, skipping")
			continue
		}

		progress, tracked := progressFor(item.Type, act)
		if !tracked {
			continue
		}

		row.Progress = progress
		row.Completed = row.Completed || progress >= item.TargetValue

		if row.Completed {
			if _, err := s.ledger.Add(ctx, q, userID, item.BonusPoints, models.ReasonChallengeBonus, models.SourceRef{}, m.at); err != nil {
				return nil, err
			}
			row.BonusAwarded = true
			at := m.at
			row.CompletedAt = &at
			if _, err := s.events.Record(ctx, q, userID, models.EventChallengeCompleted, 0, item.Title, m.at); err != nil {
				return nil, err
			}
		}

		query := `UPDATE user_daily_challenges SET progress = ?, completed = ?, bonus_awarded = ?, completed_at = ? WHERE id = ?`
		if _, err := q.ExecContext(ctx, q.Rebind(query), row.Progress, row.Completed, row.BonusAwarded, row.CompletedAt, row.ID); err != nil {
			return nil, fmt.Errorf("failed to update challenge progress: %w", err)
		}

		if row.BonusAwarded {
			done = append(done, viewOf(row, item))
		}
	}
	return done, nil
}

// progressFor maps a challenge type to its measured value. Types without a
// progress rule report tracked=false and are left alone.
func progressFor(t models.ChallengeType, act dayActivity) (progress int, tracked bool) {
	switch t {
	case models.ChallengeSubmitAssignments:
		return act.submitted, true
	case models.ChallengeEarlySubmissions:
		return act.early, true
	case models.ChallengeMaintainStreak:
		return act.streak, true
	case models.ChallengeEarnPoints:
		return act.earned, true
	case models.ChallengeCompleteTasks:
		return act.tasksClosed, true
	case models.ChallengeClearWeek, models.ChallengeCourseSweep, models.ChallengeDailyRun:
		return 0, false
	}
	return 0, false
}

func viewOf(row models.UserDailyChallenge, item models.ChallengePoolItem) models.DailyChallengeView {
	return models.DailyChallengeView{
		UserDailyChallenge: row,
		Type:               item.Type,
		Title:              item.Title,
		TargetValue:        item.TargetValue,
		BonusPoints:        item.BonusPoints,
		Difficulty:         item.Difficulty,
	}
}

// Today lists the day's challenges joined with their catalog items. Rows
// whose pool item is gone are left out.
func (s *ChallengeService) Today(ctx context.Context, q sqlx.ExtContext, userID string, m moment) ([]models.DailyChallengeView, error) {
	rows, err := s.rows(ctx, q, userID, m.day())
	if err != nil {
		return nil, err
	}
	pool, err := s.pool(ctx, q)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.ChallengePoolItem, len(pool))
	for _, item := range pool {
		byID[item.ID] = item
	}

	views := make([]models.DailyChallengeView, 0, len(rows))
	for _, row := range rows {
		if item, ok := byID[row.ChallengeID]; ok {
			views = append(views, viewOf(row, item))
		}
	}
	return views, nil
}
