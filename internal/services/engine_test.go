package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tahcohcat/studyquest/internal/models"
	"github.com/tahcohcat/studyquest/internal/notify"
	"github.com/tahcohcat/studyquest/internal/worker"
)

func TestCompletionQueuesRecompute(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")
	a := f.assignment(u.ID, "ps-1", nil)

	_, err := f.engine.CompleteAssignment(f.ctx, u.ID, a.ID)
	require.NoError(t, err)

	require.Equal(t, 1, f.dispatcher.pending())
	assert.Equal(t, 10, f.reload(u.ID).TotalPoints, "achievements wait for the recompute job")

	f.dispatcher.runAll()
	assert.Equal(t, 20, f.reload(u.ID).TotalPoints)
	assert.Contains(t, f.events.Types(), notify.EventAchievementUnlocked)
	f.requireLedgerInvariant(u.ID)
}

func TestCompleteTaskPublishesAfterCommit(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")
	f.setStreak(u.ID, 6, 0, "2025-03-09")
	task := f.task(u.ID, 10)

	_, err := f.engine.CompleteTask(f.ctx, u.ID, task.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{
		notify.EventPointsAwarded,
		notify.EventStreakUpdated,
		notify.EventShieldEarned,
	}, f.events.Types())

	ev := f.events.Events()[0]
	assert.Equal(t, u.ID, ev.UserID)
	assert.True(t, ev.At.Equal(baseTime))
	payload, ok := ev.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 10, payload["points"])
	assert.Equal(t, 10, payload["total"])
}

func TestFailedOperationPublishesNothing(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")

	_, err := f.engine.CompleteTask(f.ctx, u.ID, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.Empty(t, f.events.Events())
	assert.Zero(t, f.dispatcher.pending())
}

func TestRecomputeLoopCascades(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")
	f.assignChallenges(u.ID, "submit-1")
	a := f.assignment(u.ID, "ps-1", nil)

	_, err := f.engine.CompleteAssignment(f.ctx, u.ID, a.ID)
	require.NoError(t, err)
	f.dispatcher.runAll()

	// 10 on time + 10 challenge bonus + 10 first submission badge
	assert.Equal(t, 30, f.reload(u.ID).TotalPoints)
	types := f.events.Types()
	assert.Contains(t, types, notify.EventChallengeCompleted)
	assert.Contains(t, types, notify.EventAchievementUnlocked)
	f.requireLedgerInvariant(u.ID)

	// running it again changes nothing
	f.engine.scheduleRecompute(u.ID, f.moment())
	f.dispatcher.runAll()
	assert.Equal(t, 30, f.reload(u.ID).TotalPoints)
}

func TestRecomputeUsesTheTriggeringDay(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")
	f.assignChallenges(u.ID, "tasks-1")

	task := f.task(u.ID, 10)
	_, err := f.engine.CompleteTask(f.ctx, u.ID, task.ID)
	require.NoError(t, err)

	// the job only runs after midnight
	f.clock.AddDays(1)
	f.dispatcher.runAll()

	f.clock.Set(baseTime)
	rows := f.todayRows(u.ID)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Completed)
}

func TestRunDaily(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"s1", "s2", "s3"} {
		f.user(id)
	}

	n, err := f.engine.RunDaily(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.engine.RunDaily(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	f.clock.AddDays(1)
	_, err = f.engine.RunDaily(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRecomputeActive(t *testing.T) {
	f := newFixture(t)
	active := f.user("s1")
	f.user("s2")

	task := f.task(active.ID, 5)
	_, err := f.engine.CompleteTask(f.ctx, active.ID, task.ID)
	require.NoError(t, err)
	f.dispatcher.runAll()

	n, err := f.engine.RecomputeActive(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.dispatcher.pending())
}

func TestEnsureUser(t *testing.T) {
	f := newFixture(t)

	first := f.user("student-42")
	again := f.user(" student-42 ")
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "student-42", first.DisplayName)

	_, err := f.engine.EnsureUser(f.ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.engine.Profile(f.ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")

	got, err := f.engine.UpdateSettings(f.ctx, u.ID, &models.SettingsUpdateRequest{
		DisplayName: ptr("Ada"), XPMultiplierDay: ptr(int(time.Friday)),
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.DisplayName)
	require.NotNil(t, got.XPMultiplierDay)
	assert.Equal(t, int(time.Friday), *got.XPMultiplierDay)

	got, err = f.engine.UpdateSettings(f.ctx, u.ID, &models.SettingsUpdateRequest{ClearMultiplierDay: true})
	require.NoError(t, err)
	assert.Nil(t, got.XPMultiplierDay)
	assert.Equal(t, "Ada", f.reload(u.ID).DisplayName)

	_, err = f.engine.UpdateSettings(f.ctx, u.ID, &models.SettingsUpdateRequest{XPMultiplierDay: ptr(7)})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestHistoryAndEvents(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")
	f.setStreak(u.ID, 6, 0, "2025-03-09")

	for _, points := range []int{5, 10, 15} {
		task := f.task(u.ID, points)
		_, err := f.engine.CompleteTask(f.ctx, u.ID, task.ID)
		require.NoError(t, err)
	}

	history, err := f.engine.LedgerHistory(f.ctx, u.ID, 2)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	events, err := f.engine.RecentEvents(f.ctx, u.ID, 10)
	require.NoError(t, err)
	kinds := []models.EventKind{}
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.ElementsMatch(t, []models.EventKind{models.EventStreakMilestone, models.EventShieldEarned}, kinds)
}

func TestConcurrentCompletionsKeepLedgerConsistent(t *testing.T) {
	db := newTestDB(t)
	pool := worker.NewPool(4, 64)
	engine := NewEngine(db, Options{
		Clock:      FixedClock{T: baseTime},
		Dispatcher: pool,
		Publisher:  &notify.Recorder{},
	})
	ctx := context.Background()
	require.NoError(t, engine.Seed(ctx))

	u, err := engine.EnsureUser(ctx, "s1")
	require.NoError(t, err)

	const n = 12
	ids := make([]string, n)
	for i := range ids {
		task, err := engine.CreateTask(ctx, u.ID, &models.TaskRequest{Title: "Flashcards", Category: models.CategoryPersonal, PointsValue: 10})
		require.NoError(t, err)
		ids[i] = task.ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.CompleteTask(ctx, u.ID, id)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, pool.Close(closeCtx))

	got, err := engine.users.Get(ctx, db, u.ID)
	require.NoError(t, err)
	sum, err := engine.ledger.Sum(ctx, db, u.ID)
	require.NoError(t, err)
	assert.Equal(t, sum, got.TotalPoints)
	assert.GreaterOrEqual(t, got.TotalPoints, n*10)
	assert.Equal(t, 1, got.StreakCount)
}
