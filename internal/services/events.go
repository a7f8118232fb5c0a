package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tahcohcat/studyquest/internal/models"
)

// EventService is the append-only activity log. It records things that
// happened (a shield was used, a milestone was reached) without touching
// the points ledger.
type EventService struct{}

func NewEventService() *EventService {
	return &EventService{}
}

// Record adds a new activity entry for the user
func (s *EventService) Record(ctx context.Context, q sqlx.ExtContext, userID string, kind models.EventKind, milestone int, detail string, at time.Time) (*models.ActivityEvent, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown event kind %q", ErrInvalidInput, kind)
	}

	ev := &models.ActivityEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Milestone: milestone,
		Detail:    detail,
		CreatedAt: at.UTC(),
	}

	query := `
		INSERT INTO activity_events (id, user_id, kind, milestone, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := q.ExecContext(ctx, q.Rebind(query), ev.ID, ev.UserID, ev.Kind, ev.Milestone, ev.Detail, ev.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to record %s event: %w", kind, err)
	}
	return ev, nil
}

// Count returns how many events of kind the user has.
func (s *EventService) Count(ctx context.Context, q sqlx.ExtContext, userID string, kind models.EventKind) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM activity_events WHERE user_id = ? AND kind = ?`
	if err := sqlx.GetContext(ctx, q, &n, q.Rebind(query), userID, kind); err != nil {
		return 0, fmt.Errorf("failed to count %s events: %w", kind, err)
	}
	return n, nil
}

// HasMilestone reports whether the streak milestone marker was recorded.
func (s *EventService) HasMilestone(ctx context.Context, q sqlx.ExtContext, userID string, milestone int) (bool, error) {
	var n int
	query := `SELECT COUNT(*) FROM activity_events WHERE user_id = ? AND kind = ? AND milestone = ?`
	if err := sqlx.GetContext(ctx, q, &n, q.Rebind(query), userID, models.EventStreakMilestone, milestone); err != nil {
		return false, fmt.Errorf("failed to look up milestone marker: %w", err)
	}
	return n > 0, nil
}

// Recent returns recent user activities
func (s *EventService) Recent(ctx context.Context, q sqlx.ExtContext, userID string, limit int) ([]models.ActivityEvent, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, user_id, kind, milestone, detail, created_at
		FROM activity_events
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	var events []models.ActivityEvent
	if err := sqlx.SelectContext(ctx, q, &events, q.Rebind(query), userID, limit); err != nil {
		return nil, fmt.Errorf("failed to get activity events: %w", err)
	}
	return events, nil
}
