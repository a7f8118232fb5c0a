package services

import (
	"context"
	"io"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/tahcohcat/studyquest/internal/database"
	"github.com/tahcohcat/studyquest/internal/logger"
	"github.com/tahcohcat/studyquest/internal/models"
	"github.com/tahcohcat/studyquest/internal/notify"
	"github.com/tahcohcat/studyquest/internal/worker"
)

// Monday, 10 March 2025, noon UTC.
var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *testClock) AddDays(n int) {
	c.mu.Lock()
	c.t = c.t.AddDate(0, 0, n)
	c.mu.Unlock()
}

// heldDispatcher queues jobs until the test runs them.
type heldDispatcher struct {
	mu   sync.Mutex
	keys []string
	jobs []worker.Job
}

func (d *heldDispatcher) Submit(key string, job worker.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys = append(d.keys, key)
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *heldDispatcher) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

func (d *heldDispatcher) runAll() {
	d.mu.Lock()
	jobs := d.jobs
	d.jobs, d.keys = nil, nil
	d.mu.Unlock()
	for _, job := range jobs {
		job(context.Background())
	}
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger.SetOutput(io.Discard)

	db, err := database.NewDB(database.DriverSQLite, filepath.Join(t.TempDir(), "studyquest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type fixture struct {
	t          *testing.T
	ctx        context.Context
	db         *database.DB
	clock      *testClock
	dispatcher *heldDispatcher
	events     *notify.Recorder
	engine     *Engine
}

// newFixture builds a seeded engine whose recompute jobs wait for
// dispatcher.runAll.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:          t,
		ctx:        context.Background(),
		db:         newTestDB(t),
		clock:      &testClock{t: baseTime},
		dispatcher: &heldDispatcher{},
		events:     &notify.Recorder{},
	}
	f.engine = NewEngine(f.db, Options{
		Clock:      f.clock,
		Location:   time.UTC,
		Dispatcher: f.dispatcher,
		Publisher:  f.events,
		Rand:       rand.New(rand.NewPCG(1, 2)),
	})
	require.NoError(t, f.engine.Seed(f.ctx))
	return f
}

func (f *fixture) moment() moment {
	return newMoment(f.clock.Now(), time.UTC)
}

func (f *fixture) user(externalID string) *models.User {
	f.t.Helper()
	u, err := f.engine.EnsureUser(f.ctx, externalID)
	require.NoError(f.t, err)
	return u
}

func (f *fixture) reload(userID string) *models.User {
	f.t.Helper()
	u, err := f.engine.users.Get(f.ctx, f.db, userID)
	require.NoError(f.t, err)
	return u
}

// setStreak overwrites the streak state of a user.
func (f *fixture) setStreak(userID string, streak, shields int, lastActivity string) {
	f.t.Helper()
	var last *string
	if lastActivity != "" {
		last = &lastActivity
	}
	_, err := f.db.Exec(f.db.Rebind(`UPDATE users SET streak_count = ?, longest_streak = ?, streak_shields = ?, last_activity_date = ? WHERE id = ?`),
		streak, streak, shields, last, userID)
	require.NoError(f.t, err)
}

func (f *fixture) setTotal(userID string, total int) {
	f.t.Helper()
	_, err := f.db.Exec(f.db.Rebind(`UPDATE users SET total_points = ? WHERE id = ?`), total, userID)
	require.NoError(f.t, err)
}

func (f *fixture) task(userID string, points int) *models.CustomTask {
	f.t.Helper()
	task, err := f.engine.CreateTask(f.ctx, userID, &models.TaskRequest{
		Title:       "Read chapter 4",
		Category:    models.CategoryAcademic,
		PointsValue: points,
	})
	require.NoError(f.t, err)
	return task
}

func (f *fixture) assignment(userID, ref string, due *time.Time) *models.Assignment {
	f.t.Helper()
	a, err := f.engine.SyncAssignment(f.ctx, userID, &models.AssignmentSyncRequest{
		ExternalRef: ref,
		CourseID:    "c-101",
		CourseName:  "Linear Algebra",
		Title:       "Problem set " + ref,
		DueAt:       due,
	})
	require.NoError(f.t, err)
	return a
}

func (f *fixture) tx(fn func(tx *sqlx.Tx) error) {
	f.t.Helper()
	require.NoError(f.t, f.db.WithTx(f.ctx, fn))
}

// requireLedgerInvariant checks that the denormalized total matches the
// ledger sum.
func (f *fixture) requireLedgerInvariant(userID string) {
	f.t.Helper()
	sum, err := f.engine.ledger.Sum(f.ctx, f.db, userID)
	require.NoError(f.t, err)
	require.Equal(f.t, sum, f.reload(userID).TotalPoints, "total_points must equal the ledger sum")
}

// ledgerCount reports how many ledger entries reference src.
func (f *fixture) ledgerCount(src models.SourceRef) int {
	f.t.Helper()
	column, id, err := sourceColumn(src)
	require.NoError(f.t, err)
	var n int
	require.NoError(f.t, f.db.Get(&n, f.db.Rebind(`SELECT COUNT(*) FROM points_ledger WHERE `+column+` = ?`), id))
	return n
}

func ptr[T any](v T) *T { return &v }
