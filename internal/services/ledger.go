package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tahcohcat/studyquest/internal/models"
)

// LedgerService owns the points ledger and the denormalized user total.
// Every write method expects to run inside the caller's transaction so the
// entry and the total change together.
type LedgerService struct{}

func NewLedgerService() *LedgerService {
	return &LedgerService{}
}

// Add appends an entry and moves the user's total by delta.
func (s *LedgerService) Add(ctx context.Context, q sqlx.ExtContext, userID string, delta int, reason models.Reason, src models.SourceRef, at time.Time) (*models.LedgerEntry, error) {
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: unknown ledger reason %q", ErrInvalidInput, reason)
	}

	entry := &models.LedgerEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		Delta:        delta,
		Reason:       reason,
		AssignmentID: src.AssignmentID,
		TaskID:       src.TaskID,
		CreatedAt:    at.UTC(),
	}

	query := `
		INSERT INTO points_ledger (id, user_id, delta, reason, assignment_id, task_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := q.ExecContext(ctx, q.Rebind(query),
		entry.ID, entry.UserID, entry.Delta, entry.Reason, entry.AssignmentID, entry.TaskID, entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE users SET total_points = total_points + ? WHERE id = ?`), delta, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update user total: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrUserNotFound
	}

	return entry, nil
}

// Remove deletes every entry tied to src and takes their sum off the total,
// never letting the total drop below zero. It returns the removed sum.
func (s *LedgerService) Remove(ctx context.Context, q sqlx.ExtContext, userID string, src models.SourceRef) (int, error) {
	column, id, err := sourceColumn(src)
	if err != nil {
		return 0, err
	}

	var sum int
	query := `SELECT COALESCE(SUM(delta), 0) FROM points_ledger WHERE user_id = ? AND ` + column + ` = ?`
	if err := sqlx.GetContext(ctx, q, &sum, q.Rebind(query), userID, id); err != nil {
		return 0, fmt.Errorf("failed to sum ledger entries: %w", err)
	}

	query = `DELETE FROM points_ledger WHERE user_id = ? AND ` + column + ` = ?`
	if _, err := q.ExecContext(ctx, q.Rebind(query), userID, id); err != nil {
		return 0, fmt.Errorf("failed to delete ledger entries: %w", err)
	}

	query = `
		UPDATE users
		SET total_points = CASE WHEN total_points - ? < 0 THEN 0 ELSE total_points - ? END
		WHERE id = ?
	`
	if _, err := q.ExecContext(ctx, q.Rebind(query), sum, sum, userID); err != nil {
		return 0, fmt.Errorf("failed to update user total: %w", err)
	}

	return sum, nil
}

func sourceColumn(src models.SourceRef) (string, string, error) {
	switch {
	case src.AssignmentID != nil:
		return "assignment_id", *src.AssignmentID, nil
	case src.TaskID != nil:
		return "task_id", *src.TaskID, nil
	}
	return "", "", fmt.Errorf("%w: empty source reference", ErrInvalidInput)
}

// Sum is the ledger-side total of a user.
func (s *LedgerService) Sum(ctx context.Context, q sqlx.ExtContext, userID string) (int, error) {
	var sum int
	err := sqlx.GetContext(ctx, q, &sum, q.Rebind(`SELECT COALESCE(SUM(delta), 0) FROM points_ledger WHERE user_id = ?`), userID)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return sum, nil
}

// Entries returns every entry of a user, oldest first.
func (s *LedgerService) Entries(ctx context.Context, q sqlx.ExtContext, userID string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	query := `
		SELECT id, user_id, delta, reason, assignment_id, task_id, created_at
		FROM points_ledger WHERE user_id = ?
		ORDER BY created_at, id
	`
	if err := sqlx.SelectContext(ctx, q, &entries, q.Rebind(query), userID); err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}
	return entries, nil
}

// History returns the latest entries of a user, newest first.
func (s *LedgerService) History(ctx context.Context, q sqlx.ExtContext, userID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []models.LedgerEntry
	query := `
		SELECT id, user_id, delta, reason, assignment_id, task_id, created_at
		FROM points_ledger WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	if err := sqlx.SelectContext(ctx, q, &entries, q.Rebind(query), userID, limit); err != nil {
		return nil, fmt.Errorf("failed to get ledger history: %w", err)
	}
	return entries, nil
}

// EarnedBetween sums the positive deltas created in [from, to).
func (s *LedgerService) EarnedBetween(ctx context.Context, q sqlx.ExtContext, userID string, from, to time.Time) (int, error) {
	entries, err := s.Entries(ctx, q, userID)
	if err != nil {
		return 0, err
	}
	earned := 0
	for i := range entries {
		if entries[i].Delta > 0 && within(&entries[i].CreatedAt, from, to) {
			earned += entries[i].Delta
		}
	}
	return earned, nil
}
