package services

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tahcohcat/studyquest/internal/database"
	"github.com/tahcohcat/studyquest/internal/logger"
	"github.com/tahcohcat/studyquest/internal/models"
	"github.com/tahcohcat/studyquest/internal/notify"
	"github.com/tahcohcat/studyquest/internal/worker"
)

// maxRecomputePasses bounds the challenge/achievement loop of one
// recompute job. Bonuses from one side can complete the other.
const maxRecomputePasses = 3

// Dispatcher runs recompute jobs. Jobs submitted with the same key must run
// in submission order.
type Dispatcher interface {
	Submit(key string, job worker.Job) error
}

type Options struct {
	Clock      Clock
	Location   *time.Location
	Dispatcher Dispatcher
	Publisher  notify.Publisher
	Rand       *rand.Rand
}

// Engine is the entry point of the gamification rules. Every mutating call
// is serialized per user, runs in one transaction and reads the clock once.
// Achievement and challenge recomputation happens after the commit on the
// dispatcher.
type Engine struct {
	db         *database.DB
	clock      Clock
	loc        *time.Location
	locks      *KeyedMutex
	dispatcher Dispatcher
	publisher  notify.Publisher
	log        *logger.Log

	users        *UserService
	ledger       *LedgerService
	events       *EventService
	streaks      *StreakService
	achievements *AchievementService
	challenges   *ChallengeService
	tasks        *TaskService
	assignments  *AssignmentService
	leaderboards *LeaderboardService
}

func NewEngine(db *database.DB, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = worker.Inline{}
	}
	if opts.Publisher == nil {
		opts.Publisher = notify.Nop{}
	}

	users := NewUserService()
	ledger := NewLedgerService()
	events := NewEventService()
	streaks := NewStreakService(users, events)

	return &Engine{
		db:           db,
		clock:        opts.Clock,
		loc:          opts.Location,
		locks:        NewKeyedMutex(),
		dispatcher:   opts.Dispatcher,
		publisher:    opts.Publisher,
		log:          logger.New().With("component", "engine"),
		users:        users,
		ledger:       ledger,
		events:       events,
		streaks:      streaks,
		achievements: NewAchievementService(users, ledger, events),
		challenges:   NewChallengeService(users, ledger, events, opts.Rand),
		tasks:        NewTaskService(ledger, streaks),
		assignments:  NewAssignmentService(ledger, streaks),
		leaderboards: NewLeaderboardService(),
	}
}

func (e *Engine) now() moment {
	return newMoment(e.clock.Now(), e.loc)
}

// Seed writes the achievement catalog and the challenge pool.
func (e *Engine) Seed(ctx context.Context) error {
	m := e.now()
	return e.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := e.achievements.Seed(ctx, tx, m.at); err != nil {
			return err
		}
		return e.challenges.SeedPool(ctx, tx)
	})
}

// outbox collects what an operation wants announced once it has committed.
type outbox struct {
	events    []notify.Event
	recompute bool
}

func (o *outbox) add(typ, userID string, at time.Time, payload any) {
	o.events = append(o.events, notify.Event{Type: typ, UserID: userID, Payload: payload, At: at})
}

func (o *outbox) streak(userID string, upd StreakUpdate, at time.Time) {
	if !upd.Changed {
		return
	}
	o.add(notify.EventStreakUpdated, userID, at, upd)
	if upd.ShieldUsed {
		o.add(notify.EventShieldUsed, userID, at, map[string]int{"shields": upd.Shields, "streak": upd.Streak})
	}
	if upd.MilestoneHit > 0 {
		o.add(notify.EventShieldEarned, userID, at, map[string]int{"milestone": upd.MilestoneHit, "shields": upd.Shields})
	}
}

// mutate runs fn under the user's lock inside one transaction. After the
// lock is released the collected events are published and, if requested, a
// recompute job is queued for the user.
func (e *Engine) mutate(ctx context.Context, userID string, fn func(tx *sqlx.Tx, m moment, out *outbox) error) error {
	m := e.now()
	out := &outbox{}

	unlock := e.locks.Lock(userID)
	err := e.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(tx, m, out)
	})
	unlock()
	if err != nil {
		return err
	}

	e.publish(ctx, out.events)
	if out.recompute {
		e.scheduleRecompute(userID, m)
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, events []notify.Event) {
	for _, ev := range events {
		if err := e.publisher.Publish(ctx, ev); err != nil {
			e.log.WithError(err).With("type", ev.Type).With("user", ev.UserID).Warn("failed to publish event")
		}
	}
}

func (e *Engine) scheduleRecompute(userID string, m moment) {
	err := e.dispatcher.Submit(userID, func(ctx context.Context) {
		if err := e.recompute(ctx, userID, m); err != nil {
			e.log.WithError(err).With("user", userID).Error("recompute failed")
		}
	})
	if err != nil {
		e.log.WithError(err).With("user", userID).Warn("failed to schedule recompute")
	}
}

// recompute refreshes today's challenge progress and then re-evaluates
// achievements, repeating while either side produced something new.
func (e *Engine) recompute(ctx context.Context, userID string, m moment) error {
	out := &outbox{}

	unlock := e.locks.Lock(userID)
	err := e.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return e.recomputeTx(ctx, tx, userID, m, out)
	})
	unlock()
	if err != nil {
		return err
	}

	e.publish(ctx, out.events)
	return nil
}

func (e *Engine) recomputeTx(ctx context.Context, tx *sqlx.Tx, userID string, m moment, out *outbox) error {
	for pass := 0; pass < maxRecomputePasses; pass++ {
		done, err := e.challenges.Recompute(ctx, tx, userID, m)
		if err != nil {
			return err
		}
		for _, c := range done {
			out.add(notify.EventChallengeCompleted, userID, m.at, c)
		}

		unlocked, err := e.achievements.Evaluate(ctx, tx, userID, m)
		if err != nil {
			return err
		}
		for _, a := range unlocked {
			out.add(notify.EventAchievementUnlocked, userID, m.at, a)
		}

		if len(done) == 0 && len(unlocked) == 0 {
			break
		}
	}
	return nil
}

// EnsureUser resolves an external identity to a user, creating it on first
// sight.
func (e *Engine) EnsureUser(ctx context.Context, externalID string) (*models.User, error) {
	m := e.now()
	var user *models.User
	err := e.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		user, err = e.users.Ensure(ctx, tx, externalID, m.at)
		return err
	})
	return user, err
}

func (e *Engine) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	return e.users.Profile(ctx, e.db, userID)
}

func (e *Engine) UpdateSettings(ctx context.Context, userID string, req *models.SettingsUpdateRequest) (*models.User, error) {
	var user *models.User
	err := e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		var err error
		user, err = e.users.UpdateSettings(ctx, tx, userID, req)
		return err
	})
	return user, err
}

func (e *Engine) LedgerHistory(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	return e.ledger.History(ctx, e.db, userID, limit)
}

func (e *Engine) RecentEvents(ctx context.Context, userID string, limit int) ([]models.ActivityEvent, error) {
	return e.events.Recent(ctx, e.db, userID, limit)
}

func (e *Engine) CreateTask(ctx context.Context, userID string, req *models.TaskRequest) (*models.CustomTask, error) {
	var task *models.CustomTask
	err := e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		var err error
		task, err = e.tasks.Create(ctx, tx, userID, req, m.at)
		return err
	})
	return task, err
}

func (e *Engine) UpdateTask(ctx context.Context, userID, taskID string, req *models.TaskRequest) (*models.CustomTask, error) {
	var task *models.CustomTask
	err := e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		var err error
		task, err = e.tasks.Update(ctx, tx, userID, taskID, req, m.at)
		return err
	})
	return task, err
}

func (e *Engine) DeleteTask(ctx context.Context, userID, taskID string) error {
	return e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		return e.tasks.Delete(ctx, tx, userID, taskID)
	})
}

func (e *Engine) ListTasks(ctx context.Context, userID string, status models.TaskStatus) ([]models.CustomTask, error) {
	if status != "" && status != models.TaskPending && status != models.TaskCompleted {
		return nil, ErrInvalidInput
	}
	return e.tasks.List(ctx, e.db, userID, status)
}

func (e *Engine) CompleteTask(ctx context.Context, userID, taskID string) (*TaskCompletion, error) {
	var res *TaskCompletion
	err := e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		user, err := e.users.Get(ctx, tx, userID)
		if err != nil {
			return err
		}
		res, err = e.tasks.Complete(ctx, tx, user, taskID, m)
		if err != nil {
			return err
		}
		out.add(notify.EventPointsAwarded, userID, m.at, map[string]any{
			"points": res.Points, "reason": models.ReasonCustomTask, "total": user.TotalPoints, "task_id": taskID,
		})
		out.streak(userID, res.Streak, m.at)
		out.recompute = true
		return nil
	})
	return res, err
}

// UncompleteResult reports what an uncompletion took back.
type UncompleteResult struct {
	Removed int `json:"removed"`
	Total   int `json:"total"`
}

func (e *Engine) UncompleteTask(ctx context.Context, userID, taskID string) (*models.CustomTask, *UncompleteResult, error) {
	var task *models.CustomTask
	var res *UncompleteResult
	err := e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		user, err := e.users.Get(ctx, tx, userID)
		if err != nil {
			return err
		}
		var removed int
		task, removed, err = e.tasks.Uncomplete(ctx, tx, user, taskID, m)
		if err != nil {
			return err
		}
		res, err = e.afterRemoval(ctx, tx, userID, removed)
		if err != nil {
			return err
		}
		out.add(notify.EventPointsRemoved, userID, m.at, res)
		out.recompute = true
		return nil
	})
	return task, res, err
}

func (e *Engine) afterRemoval(ctx context.Context, q sqlx.ExtContext, userID string, removed int) (*UncompleteResult, error) {
	user, err := e.users.Get(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	return &UncompleteResult{Removed: removed, Total: user.TotalPoints}, nil
}

// SyncAssignment stores assignment data pushed by the upstream sync.
func (e *Engine) SyncAssignment(ctx context.Context, userID string, req *models.AssignmentSyncRequest) (*models.Assignment, error) {
	var a *models.Assignment
	err := e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		var err error
		a, err = e.assignments.Upsert(ctx, tx, userID, req, m.at)
		if err != nil {
			return err
		}
		// a status change to missing affects the perfect week rule
		out.recompute = a.Status == models.AssignmentMissing
		return nil
	})
	return a, err
}

func (e *Engine) submissionEvents(out *outbox, userID string, res *SubmissionResult, total int, at time.Time) {
	for _, entry := range res.Entries {
		out.add(notify.EventPointsAwarded, userID, at, map[string]any{
			"points": entry.Delta, "reason": entry.Reason, "total": total, "assignment_id": res.Assignment.ID,
		})
	}
	out.streak(userID, res.Streak, at)
	out.recompute = true
}

// CompleteAssignment is the manual mark-done.
func (e *Engine) CompleteAssignment(ctx context.Context, userID, assignmentID string) (*SubmissionResult, error) {
	var res *SubmissionResult
	err := e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		user, err := e.users.Get(ctx, tx, userID)
		if err != nil {
			return err
		}
		res, err = e.assignments.Complete(ctx, tx, user, assignmentID, m)
		if err != nil {
			return err
		}
		e.submissionEvents(out, userID, res, user.TotalPoints, m.at)
		return nil
	})
	return res, err
}

// RecordSubmission handles a submission seen upstream. A repeated signal
// returns a nil result and no error.
func (e *Engine) RecordSubmission(ctx context.Context, userID, assignmentID string, submittedAt *time.Time) (*SubmissionResult, error) {
	var res *SubmissionResult
	err := e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		user, err := e.users.Get(ctx, tx, userID)
		if err != nil {
			return err
		}
		res, err = e.assignments.RecordSubmission(ctx, tx, user, assignmentID, submittedAt, m)
		if err != nil || res == nil {
			return err
		}
		e.submissionEvents(out, userID, res, user.TotalPoints, m.at)
		return nil
	})
	return res, err
}

func (e *Engine) UncompleteAssignment(ctx context.Context, userID, assignmentID string) (*models.Assignment, *UncompleteResult, error) {
	var a *models.Assignment
	var res *UncompleteResult
	err := e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		user, err := e.users.Get(ctx, tx, userID)
		if err != nil {
			return err
		}
		var removed int
		a, removed, err = e.assignments.Uncomplete(ctx, tx, user, assignmentID, m)
		if err != nil {
			return err
		}
		res, err = e.afterRemoval(ctx, tx, userID, removed)
		if err != nil {
			return err
		}
		out.add(notify.EventPointsRemoved, userID, m.at, res)
		out.recompute = true
		return nil
	})
	return a, res, err
}

func (e *Engine) SetUrgent(ctx context.Context, userID, assignmentID string, req *models.UrgentRequest) (*models.Assignment, error) {
	var a *models.Assignment
	err := e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		var err error
		a, err = e.assignments.SetUrgent(ctx, tx, userID, assignmentID, req, m.at)
		return err
	})
	return a, err
}

func (e *Engine) ListUrgent(ctx context.Context, userID string) ([]models.Assignment, error) {
	return e.assignments.ListUrgent(ctx, e.db, userID)
}

// EvaluateAchievements runs a recompute for the user right away and returns
// the achievements it unlocked.
func (e *Engine) EvaluateAchievements(ctx context.Context, userID string) ([]models.Achievement, error) {
	var unlocked []models.Achievement
	err := e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		var err error
		unlocked, err = e.achievements.Evaluate(ctx, tx, userID, m)
		if err != nil {
			return err
		}
		for _, a := range unlocked {
			out.add(notify.EventAchievementUnlocked, userID, m.at, a)
		}
		return nil
	})
	return unlocked, err
}

func (e *Engine) ListAchievements(ctx context.Context, userID string) ([]models.UserAchievementView, error) {
	return e.achievements.List(ctx, e.db, userID)
}

func (e *Engine) MarkAchievementsSeen(ctx context.Context, userID string) (int, error) {
	var n int
	err := e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		var err error
		n, err = e.achievements.MarkSeen(ctx, tx, userID)
		return err
	})
	return n, err
}

// GenerateDailyChallenges assigns today's challenges if the user has none.
func (e *Engine) GenerateDailyChallenges(ctx context.Context, userID string) (bool, error) {
	var generated bool
	err := e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		var err error
		generated, err = e.generate(ctx, tx, userID, m, out)
		return err
	})
	return generated, err
}

func (e *Engine) generate(ctx context.Context, tx *sqlx.Tx, userID string, m moment, out *outbox) (bool, error) {
	if _, err := e.users.Get(ctx, tx, userID); err != nil {
		return false, err
	}
	generated, err := e.challenges.Generate(ctx, tx, userID, m)
	if err != nil {
		return false, err
	}
	if generated {
		out.add(notify.EventChallengesGenerated, userID, m.at, map[string]string{"date": m.day()})
	}
	return generated, nil
}

// RecomputeChallenges refreshes today's challenge progress synchronously and
// returns the challenges it completed.
func (e *Engine) RecomputeChallenges(ctx context.Context, userID string) ([]models.DailyChallengeView, error) {
	var done []models.DailyChallengeView
	err := e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		var err error
		done, err = e.challenges.Recompute(ctx, tx, userID, m)
		if err != nil {
			return err
		}
		for _, c := range done {
			out.add(notify.EventChallengeCompleted, userID, m.at, c)
		}
		out.recompute = len(done) > 0
		return nil
	})
	return done, err
}

// TodayChallenges makes sure today's challenges exist, refreshes their
// progress and lists them.
func (e *Engine) TodayChallenges(ctx context.Context, userID string) ([]models.DailyChallengeView, error) {
	var views []models.DailyChallengeView
	err := e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		if _, err := e.generate(ctx, tx, userID, m, out); err != nil {
			return err
		}
		done, err := e.challenges.Recompute(ctx, tx, userID, m)
		if err != nil {
			return err
		}
		for _, c := range done {
			out.add(notify.EventChallengeCompleted, userID, m.at, c)
		}
		out.recompute = len(done) > 0

		views, err = e.challenges.Today(ctx, tx, userID, m)
		return err
	})
	return views, err
}

func (e *Engine) CreateLeaderboard(ctx context.Context, userID string, req *models.CreateLeaderboardRequest) (*models.Leaderboard, error) {
	var lb *models.Leaderboard
	err := e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		var err error
		lb, err = e.leaderboards.Create(ctx, tx, userID, req.Name, m.at)
		return err
	})
	return lb, err
}

func (e *Engine) JoinLeaderboard(ctx context.Context, userID string, req *models.JoinLeaderboardRequest) (*models.JoinResult, error) {
	var res *models.JoinResult
	err := e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		var err error
		res, err = e.leaderboards.Join(ctx, tx, userID, req.InviteCode, m.at)
		return err
	})
	return res, err
}

func (e *Engine) LeaveLeaderboard(ctx context.Context, userID, leaderboardID string) error {
	return e.mutate(ctx, userID, func(tx *sqlx.Tx, m moment, out *outbox) error {
		return e.leaderboards.Leave(ctx, tx, userID, leaderboardID)
	})
}

func (e *Engine) Rankings(ctx context.Context, userID, leaderboardID string) ([]models.RankedMember, error) {
	return e.leaderboards.Rankings(ctx, e.db, leaderboardID, userID)
}

func (e *Engine) ListLeaderboards(ctx context.Context, userID string) ([]models.Leaderboard, error) {
	return e.leaderboards.ListForUser(ctx, e.db, userID)
}

// RunDaily generates today's challenges for every user. Failures are logged
// per user and do not stop the run. It returns how many users got new
// challenges.
func (e *Engine) RunDaily(ctx context.Context) (int, error) {
	ids, err := e.users.ListIDs(ctx, e.db, "")
	if err != nil {
		return 0, err
	}

	generated := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return generated, ctx.Err()
		}
		ok, err := e.GenerateDailyChallenges(ctx, id)
		if err != nil {
			e.log.WithError(err).With("user", id).Warn("failed to generate daily challenges")
			continue
		}
		if ok {
			generated++
		}
	}
	e.log.With("users", len(ids)).With("generated", generated).Info("daily challenge generation finished")
	return generated, nil
}

// RecomputeActive queues a recompute for every user active today.
func (e *Engine) RecomputeActive(ctx context.Context) (int, error) {
	m := e.now()
	ids, err := e.users.ListIDs(ctx, e.db, m.day())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		e.scheduleRecompute(id, m)
	}
	return len(ids), nil
}
