package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tahcohcat/studyquest/internal/models"
)

func keysOf(achievements []models.Achievement) []models.AchievementKey {
	keys := make([]models.AchievementKey, 0, len(achievements))
	for _, a := range achievements {
		keys = append(keys, a.ID)
	}
	return keys
}

func (f *fixture) addPoints(userID string, delta int) {
	f.t.Helper()
	_, err := f.engine.ledger.Add(f.ctx, f.db, userID, delta, models.ReasonCustomTask, models.SourceRef{}, f.clock.Now())
	require.NoError(f.t, err)
}

func TestFirstSubmissionUnlocksOnce(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")
	a := f.assignment(u.ID, "ps-1", nil)

	_, err := f.engine.CompleteAssignment(f.ctx, u.ID, a.ID)
	require.NoError(t, err)

	unlocked, err := f.engine.EvaluateAchievements(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.AchievementKey{models.AchievementFirstSubmission}, keysOf(unlocked))
	assert.Equal(t, 20, f.reload(u.ID).TotalPoints)

	unlocked, err = f.engine.EvaluateAchievements(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, unlocked)
	assert.Equal(t, 20, f.reload(u.ID).TotalPoints)
	assert.Equal(t, 1, f.eventCount(u.ID, models.EventBadgeEarned))
	f.requireLedgerInvariant(u.ID)
}

func TestAchievementsSurviveUncompletion(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")
	a := f.assignment(u.ID, "ps-1", nil)

	_, err := f.engine.CompleteAssignment(f.ctx, u.ID, a.ID)
	require.NoError(t, err)
	_, err = f.engine.EvaluateAchievements(f.ctx, u.ID)
	require.NoError(t, err)

	_, _, err = f.engine.UncompleteAssignment(f.ctx, u.ID, a.ID)
	require.NoError(t, err)
	_, err = f.engine.EvaluateAchievements(f.ctx, u.ID)
	require.NoError(t, err)

	views, err := f.engine.ListAchievements(f.ctx, u.ID)
	require.NoError(t, err)
	for _, v := range views {
		if v.ID == models.AchievementFirstSubmission {
			assert.True(t, v.Unlocked)
			require.NotNil(t, v.UnlockedAt)
		}
	}
	// the badge bonus stays, only the submission points went
	assert.Equal(t, 10, f.reload(u.ID).TotalPoints)
	f.requireLedgerInvariant(u.ID)
}

func TestAchievementBonusCascadesIntoPointThreshold(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")
	f.addPoints(u.ID, 85)
	a := f.assignment(u.ID, "ps-1", nil)

	_, err := f.engine.CompleteAssignment(f.ctx, u.ID, a.ID)
	require.NoError(t, err)
	require.Equal(t, 95, f.reload(u.ID).TotalPoints)

	unlocked, err := f.engine.EvaluateAchievements(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.AchievementKey{models.AchievementFirstSubmission, models.AchievementPoints100}, keysOf(unlocked))
	assert.Equal(t, 115, f.reload(u.ID).TotalPoints)
	f.requireLedgerInvariant(u.ID)
}

func TestTimeBasedAchievements(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")

	// 02:30 local, 60 hours before the deadline
	f.clock.Set(time.Date(2025, 3, 10, 2, 30, 0, 0, time.UTC))
	a := f.assignment(u.ID, "ps-1", ptr(time.Date(2025, 3, 12, 14, 30, 0, 0, time.UTC)))
	_, err := f.engine.CompleteAssignment(f.ctx, u.ID, a.ID)
	require.NoError(t, err)

	unlocked, err := f.engine.EvaluateAchievements(f.ctx, u.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.AchievementKey{
		models.AchievementFirstSubmission,
		models.AchievementNightOwl,
		models.AchievementEarlyBird,
	}, keysOf(unlocked))
}

func TestPerfectWeek(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")

	// nothing due yet, nothing to be perfect about
	unlocked, err := f.engine.EvaluateAchievements(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, unlocked)

	yesterday := baseTime.Add(-24 * time.Hour)
	a := f.assignment(u.ID, "ps-1", &yesterday)
	_, err = f.engine.SyncAssignment(f.ctx, u.ID, &models.AssignmentSyncRequest{ExternalRef: "ps-2", DueAt: &yesterday, Status: models.AssignmentMissing})
	require.NoError(t, err)
	_, err = f.engine.CompleteAssignment(f.ctx, u.ID, a.ID)
	require.NoError(t, err)

	unlocked, err = f.engine.EvaluateAchievements(f.ctx, u.ID)
	require.NoError(t, err)
	assert.NotContains(t, keysOf(unlocked), models.AchievementPerfectWeek)

	// upstream later reports the second one as handed in
	_, err = f.engine.RecordSubmission(f.ctx, u.ID, f.assignmentByRef(u.ID, "ps-2").ID, nil)
	require.NoError(t, err)
	unlocked, err = f.engine.EvaluateAchievements(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Contains(t, keysOf(unlocked), models.AchievementPerfectWeek)
}

func TestPerfectWeekDescriptionNamesDueRequirement(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")

	views, err := f.engine.ListAchievements(f.ctx, u.ID)
	require.NoError(t, err)
	for _, v := range views {
		if v.ID == models.AchievementPerfectWeek {
			assert.Contains(t, v.Description, "at least one assignment due")
			return
		}
	}
	t.Fatal("perfect_week missing from the catalog")
}

func (f *fixture) assignmentByRef(userID, ref string) *models.Assignment {
	f.t.Helper()
	var a models.Assignment
	err := f.db.Get(&a, f.db.Rebind(`SELECT `+assignmentColumns+` FROM assignments WHERE user_id = ? AND external_ref = ?`), userID, ref)
	require.NoError(f.t, err)
	return &a
}

func TestShieldBearer(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")
	f.setStreak(u.ID, 4, 1, "2025-03-08")

	task := f.task(u.ID, 5)
	_, err := f.engine.CompleteTask(f.ctx, u.ID, task.ID)
	require.NoError(t, err)

	unlocked, err := f.engine.EvaluateAchievements(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Contains(t, keysOf(unlocked), models.AchievementShieldBearer)
}

func TestMissingCatalogEntryIsSkipped(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")
	_, err := f.db.Exec(f.db.Rebind(`DELETE FROM achievements WHERE id = ?`), models.AchievementFirstSubmission)
	require.NoError(t, err)

	a := f.assignment(u.ID, "ps-1", nil)
	_, err = f.engine.CompleteAssignment(f.ctx, u.ID, a.ID)
	require.NoError(t, err)

	unlocked, err := f.engine.EvaluateAchievements(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, unlocked)
	assert.Equal(t, 10, f.reload(u.ID).TotalPoints)
}

func TestListAndMarkSeen(t *testing.T) {
	f := newFixture(t)
	u := f.user("s1")

	views, err := f.engine.ListAchievements(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, views, len(DefaultAchievements))
	for _, v := range views {
		assert.False(t, v.Unlocked)
		assert.Nil(t, v.UnlockedAt)
	}

	a := f.assignment(u.ID, "ps-1", nil)
	_, err = f.engine.CompleteAssignment(f.ctx, u.ID, a.ID)
	require.NoError(t, err)
	_, err = f.engine.EvaluateAchievements(f.ctx, u.ID)
	require.NoError(t, err)

	profile, err := f.engine.Profile(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, profile.UnseenAchievements)

	n, err := f.engine.MarkAchievementsSeen(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = f.engine.MarkAchievementsSeen(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	profile, err = f.engine.Profile(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, profile.UnseenAchievements)
}
