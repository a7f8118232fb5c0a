package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tahcohcat/studyquest/internal/models"
)

const assignmentColumns = `id, user_id, external_ref, course_id, course_name, title, due_at, submitted_at,
	status, manually_completed, is_urgent, urgent_order, created_at, updated_at`

// Submission points.
const (
	PointsOnTime      = 10
	PointsEarly       = 20
	PointsLate        = 5
	PointsStreakBonus = 5

	// StreakBonusThreshold is the streak length from which submissions earn
	// the streak bonus.
	StreakBonusThreshold = 3
)

// SubmissionResult is the outcome of an assignment completion.
type SubmissionResult struct {
	Assignment *models.Assignment    `json:"assignment"`
	Entries    []*models.LedgerEntry `json:"entries"`
	Points     int                   `json:"points"`
	Doubled    bool                  `json:"doubled"`
	Streak     StreakUpdate          `json:"streak"`
}

type AssignmentService struct {
	ledger  *LedgerService
	streaks *StreakService
}

func NewAssignmentService(ledger *LedgerService, streaks *StreakService) *AssignmentService {
	return &AssignmentService{ledger: ledger, streaks: streaks}
}

// submissionPoints rates a submission by how it landed against the deadline.
func submissionPoints(dueAt *time.Time, submittedAt time.Time) (int, models.Reason) {
	if dueAt == nil {
		return PointsOnTime, models.ReasonOnTimeSubmission
	}
	early := dueAt.Sub(submittedAt)
	switch {
	case early < 0:
		return PointsLate, models.ReasonLateSubmission
	case early >= EarlySubmissionHours*time.Hour:
		return PointsEarly, models.ReasonEarlySubmission
	default:
		return PointsOnTime, models.ReasonOnTimeSubmission
	}
}

// Upsert creates or refreshes an assignment from the upstream sync, keyed by
// its external reference. It never awards points; submissions arrive through
// RecordSubmission.
func (s *AssignmentService) Upsert(ctx context.Context, q sqlx.ExtContext, userID string, req *models.AssignmentSyncRequest, now time.Time) (*models.Assignment, error) {
	req.ExternalRef = strings.TrimSpace(req.ExternalRef)
	if req.ExternalRef == "" {
		return nil, fmt.Errorf("%w: external_ref is required", ErrInvalidInput)
	}
	if req.Status == "" {
		req.Status = models.AssignmentPending
	}
	if req.Status != models.AssignmentPending && req.Status != models.AssignmentMissing {
		return nil, fmt.Errorf("%w: sync status must be pending or missing, submissions are signalled separately", ErrInvalidInput)
	}

	// a submitted assignment keeps its status whatever the sync says
	query := `
		INSERT INTO assignments (id, user_id, external_ref, course_id, course_name, title, due_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, external_ref) DO UPDATE SET
			course_id = excluded.course_id,
			course_name = excluded.course_name,
			title = excluded.title,
			due_at = excluded.due_at,
			status = CASE WHEN assignments.status = 'submitted' THEN assignments.status ELSE excluded.status END,
			updated_at = excluded.updated_at
	`
	_, err := q.ExecContext(ctx, q.Rebind(query),
		uuid.NewString(), userID, req.ExternalRef, req.CourseID, req.CourseName, req.Title,
		utcPtr(req.DueAt), req.Status, now.UTC(), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to upsert assignment: %w", err)
	}

	var a models.Assignment
	err = sqlx.GetContext(ctx, q, &a, q.Rebind(`SELECT `+assignmentColumns+` FROM assignments WHERE user_id = ? AND external_ref = ?`), userID, req.ExternalRef)
	if err != nil {
		return nil, fmt.Errorf("failed to reload assignment: %w", err)
	}
	return &a, nil
}

// Get loads an assignment owned by userID.
func (s *AssignmentService) Get(ctx context.Context, q sqlx.ExtContext, userID, assignmentID string) (*models.Assignment, error) {
	var a models.Assignment
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = ? AND user_id = ?`
	err := sqlx.GetContext(ctx, q, &a, q.Rebind(query), assignmentID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssignmentNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return &a, nil
}

// Complete marks an assignment done by hand, now.
func (s *AssignmentService) Complete(ctx context.Context, q sqlx.ExtContext, user *models.User, assignmentID string, m moment) (*SubmissionResult, error) {
	a, err := s.Get(ctx, q, user.ID, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.IsSubmitted() {
		return nil, ErrAlreadyCompleted
	}

	at := m.at
	a.SubmittedAt = &at
	a.Status = models.AssignmentSubmitted
	a.ManuallyCompleted = true
	return s.award(ctx, q, user, a, m)
}

// RecordSubmission handles a submission detected upstream. Repeated signals
// for the same assignment are ignored and return a nil result.
func (s *AssignmentService) RecordSubmission(ctx context.Context, q sqlx.ExtContext, user *models.User, assignmentID string, submittedAt *time.Time, m moment) (*SubmissionResult, error) {
	a, err := s.Get(ctx, q, user.ID, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.IsSubmitted() {
		return nil, nil
	}

	at := m.at
	if submittedAt != nil {
		at = submittedAt.UTC()
	}
	a.SubmittedAt = &at
	a.Status = models.AssignmentSubmitted
	return s.award(ctx, q, user, a, m)
}

func (s *AssignmentService) award(ctx context.Context, q sqlx.ExtContext, user *models.User, a *models.Assignment, m moment) (*SubmissionResult, error) {
	a.UpdatedAt = m.at
	query := `UPDATE assignments SET submitted_at = ?, status = ?, manually_completed = ?, updated_at = ? WHERE id = ?`
	if _, err := q.ExecContext(ctx, q.Rebind(query), a.SubmittedAt, a.Status, a.ManuallyCompleted, a.UpdatedAt, a.ID); err != nil {
		return nil, fmt.Errorf("failed to mark assignment submitted: %w", err)
	}

	res := &SubmissionResult{Assignment: a}
	multiplier := 1
	if user.IsMultiplierDay(m.local()) {
		multiplier = 2
		res.Doubled = true
	}

	base, reason := submissionPoints(a.DueAt, *a.SubmittedAt)
	entry, err := s.ledger.Add(ctx, q, user.ID, base*multiplier, reason, models.AssignmentSource(a.ID), m.at)
	if err != nil {
		return nil, err
	}
	res.Entries = append(res.Entries, entry)
	res.Points += entry.Delta

	res.Streak, err = s.streaks.Update(ctx, q, user, m)
	if err != nil {
		return nil, err
	}

	if user.StreakCount >= StreakBonusThreshold {
		entry, err := s.ledger.Add(ctx, q, user.ID, PointsStreakBonus*multiplier, models.ReasonStreakBonus, models.AssignmentSource(a.ID), m.at)
		if err != nil {
			return nil, err
		}
		res.Entries = append(res.Entries, entry)
		res.Points += entry.Delta
	}

	user.TotalPoints += res.Points
	return res, nil
}

// Uncomplete reverts a manual mark-done: the assignment's ledger entries are
// deleted and it goes back to pending (or missing when past due). Streak
// changes stay.
func (s *AssignmentService) Uncomplete(ctx context.Context, q sqlx.ExtContext, user *models.User, assignmentID string, m moment) (*models.Assignment, int, error) {
	a, err := s.Get(ctx, q, user.ID, assignmentID)
	if err != nil {
		return nil, 0, err
	}
	if !a.IsSubmitted() {
		return nil, 0, ErrNotCompleted
	}
	if !a.ManuallyCompleted {
		return nil, 0, ErrNotManuallyCompleted
	}

	removed, err := s.ledger.Remove(ctx, q, user.ID, models.AssignmentSource(a.ID))
	if err != nil {
		return nil, 0, err
	}

	a.ManuallyCompleted = false
	a.SubmittedAt = nil
	a.Status = models.AssignmentPending
	if a.DueAt != nil && a.DueAt.Before(m.at) {
		a.Status = models.AssignmentMissing
	}
	a.UpdatedAt = m.at

	query := `UPDATE assignments SET submitted_at = NULL, status = ?, manually_completed = ?, updated_at = ? WHERE id = ?`
	if _, err := q.ExecContext(ctx, q.Rebind(query), a.Status, false, a.UpdatedAt, a.ID); err != nil {
		return nil, 0, fmt.Errorf("failed to reopen assignment: %w", err)
	}
	return a, removed, nil
}

// SetUrgent pins or unpins an assignment on the urgent list.
func (s *AssignmentService) SetUrgent(ctx context.Context, q sqlx.ExtContext, userID, assignmentID string, req *models.UrgentRequest, now time.Time) (*models.Assignment, error) {
	a, err := s.Get(ctx, q, userID, assignmentID)
	if err != nil {
		return nil, err
	}
	a.IsUrgent = req.Urgent
	a.UrgentOrder = req.Order
	a.UpdatedAt = now.UTC()

	query := `UPDATE assignments SET is_urgent = ?, urgent_order = ?, updated_at = ? WHERE id = ?`
	if _, err := q.ExecContext(ctx, q.Rebind(query), a.IsUrgent, a.UrgentOrder, a.UpdatedAt, a.ID); err != nil {
		return nil, fmt.Errorf("failed to update urgency: %w", err)
	}
	return a, nil
}

// ListUrgent returns the user's urgent assignments in manual order.
func (s *AssignmentService) ListUrgent(ctx context.Context, q sqlx.ExtContext, userID string) ([]models.Assignment, error) {
	assignments := []models.Assignment{}
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE user_id = ? AND is_urgent = ? ORDER BY urgent_order, created_at, id`
	if err := sqlx.SelectContext(ctx, q, &assignments, q.Rebind(query), userID, true); err != nil {
		return nil, fmt.Errorf("failed to list urgent assignments: %w", err)
	}
	return assignments, nil
}
