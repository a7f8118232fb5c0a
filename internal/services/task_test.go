package services

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tahcohcat/studyquest/internal/models"
)

func TestTaskValidation(t *testing.T) {
	cases := []struct {
		name string
		req  models.TaskRequest
	}{
		{"empty title", models.TaskRequest{Title: "   ", Category: models.CategoryClub, PointsValue: 5}},
		{"long title", models.TaskRequest{Title: strings.Repeat("x", 201), Category: models.CategoryClub, PointsValue: 5}},
		{"unknown category", models.TaskRequest{Title: "Gym", Category: "fitness", PointsValue: 5}},
		{"zero points", models.TaskRequest{Title: "Gym", Category: models.CategoryPersonal, PointsValue: 0}},
		{"too many points", models.TaskRequest{Title: "Gym", Category: models.CategoryPersonal, PointsValue: 101}},
	}

	f := newFixture(t)
	u := f.user("s1")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			_, err := f.engine.CreateTask(f.ctx, u.ID, &req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	tasks, err := f.engine.ListTasks(f.ctx, u.ID, "")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCompleteUncompleteTaskRoundTrip(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")
	f.setTotal(u.ID, 0)
	task := f.task(u.ID, 15)

	res, err := f.engine.CompleteTask(f.ctx, u.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, res.Points)
	assert.Equal(t, models.TaskCompleted, res.Task.Status)
	assert.Equal(t, 15, f.reload(u.ID).TotalPoints)

	_, err = f.engine.CompleteTask(f.ctx, u.ID, task.ID)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)

	reopened, undo, err := f.engine.UncompleteTask(f.ctx, u.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, reopened.Status)
	assert.Nil(t, reopened.CompletedAt)
	assert.Equal(t, 15, undo.Removed)
	assert.Equal(t, 0, undo.Total)

	got := f.reload(u.ID)
	assert.Equal(t, 0, got.TotalPoints)
	assert.Equal(t, 1, got.StreakCount, "uncompleting keeps the streak")
	f.requireLedgerInvariant(u.ID)

	assert.Zero(t, f.ledgerCount(models.TaskSource(task.ID)))

	_, _, err = f.engine.UncompleteTask(f.ctx, u.ID, task.ID)
	assert.ErrorIs(t, err, ErrNotCompleted)

	// the task can be completed again after reopening
	_, err = f.engine.CompleteTask(f.ctx, u.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, f.reload(u.ID).TotalPoints)
}

func TestTaskDoubledOnMultiplierDay(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")
	_, err := f.engine.UpdateSettings(f.ctx, u.ID, &models.SettingsUpdateRequest{XPMultiplierDay: ptr(int(time.Monday))})
	require.NoError(t, err)

	task := f.task(u.ID, 30)
	res, err := f.engine.CompleteTask(f.ctx, u.ID, task.ID)
	require.NoError(t, err)
	assert.True(t, res.Doubled)
	assert.Equal(t, 60, res.Points)

	// Tuesday is a normal day
	f.clock.AddDays(1)
	task = f.task(u.ID, 30)
	res, err = f.engine.CompleteTask(f.ctx, u.ID, task.ID)
	require.NoError(t, err)
	assert.False(t, res.Doubled)
	assert.Equal(t, 90, f.reload(u.ID).TotalPoints)

	// uncompleting the doubled task takes back what it paid
	_, undo, err := f.engine.UncompleteTask(f.ctx, u.ID, res.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, undo.Removed)
	f.requireLedgerInvariant(u.ID)
}

func TestUpdateAndDeleteOnlyWhilePending(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")
	task := f.task(u.ID, 10)

	updated, err := f.engine.UpdateTask(f.ctx, u.ID, task.ID, &models.TaskRequest{
		Title: "  Club meeting ", Category: models.CategoryClub, PointsValue: 25,
	})
	require.NoError(t, err)
	assert.Equal(t, "Club meeting", updated.Title)
	assert.Equal(t, 25, updated.PointsValue)

	_, err = f.engine.CompleteTask(f.ctx, u.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, f.reload(u.ID).TotalPoints)

	_, err = f.engine.UpdateTask(f.ctx, u.ID, task.ID, &models.TaskRequest{Title: "x", Category: models.CategoryClub, PointsValue: 100})
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
	assert.ErrorIs(t, f.engine.DeleteTask(f.ctx, u.ID, task.ID), ErrAlreadyCompleted)

	other := f.task(u.ID, 5)
	require.NoError(t, f.engine.DeleteTask(f.ctx, u.ID, other.ID))
	assert.ErrorIs(t, f.engine.DeleteTask(f.ctx, u.ID, other.ID), ErrTaskNotFound)

	pending, err := f.engine.ListTasks(f.ctx, u.ID, models.TaskPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
	done, err := f.engine.ListTasks(f.ctx, u.ID, models.TaskCompleted)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, task.ID, done[0].ID)

	_, err = f.engine.ListTasks(f.ctx, u.ID, "archived")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTasksAreScopedToOwner(t *testing.T) {
	f := newFixture(t)
	owner := f.user("s1")
	intruder := f.user("s2")
	task := f.task(owner.ID, 10)

	_, err := f.engine.CompleteTask(f.ctx, intruder.ID, task.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, f.engine.DeleteTask(f.ctx, intruder.ID, task.ID), ErrTaskNotFound)
	assert.Equal(t, 0, f.reload(intruder.ID).TotalPoints)
}
