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

const maxDisplayNameLen = 50

const userColumns = `id, external_id, display_name, total_points, streak_count, longest_streak,
	last_activity_date, streak_shields, xp_multiplier_day, created_at`

type UserService struct{}

func NewUserService() *UserService {
	return &UserService{}
}

// Ensure returns the user mapped to externalID, creating it on first use.
func (s *UserService) Ensure(ctx context.Context, q sqlx.ExtContext, externalID string, now time.Time) (*models.User, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, fmt.Errorf("%w: external id is required", ErrInvalidInput)
	}

	user, err := s.GetByExternalID(ctx, q, externalID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	query := `
		INSERT INTO users (id, external_id, display_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (external_id) DO NOTHING
	`
	if _, err := q.ExecContext(ctx, q.Rebind(query), uuid.NewString(), externalID, externalID, now.UTC()); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return s.GetByExternalID(ctx, q, externalID)
}

// Get retrieves a user by internal id
func (s *UserService) Get(ctx context.Context, q sqlx.ExtContext, id string) (*models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, q, &user, q.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetByExternalID retrieves a user by the identity provider's id
func (s *UserService) GetByExternalID(ctx context.Context, q sqlx.ExtContext, externalID string) (*models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, q, &user, q.Rebind(`SELECT `+userColumns+` FROM users WHERE external_id = ?`), externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// SaveStreak persists the streak fields of user.
func (s *UserService) SaveStreak(ctx context.Context, q sqlx.ExtContext, user *models.User) error {
	query := `
		UPDATE users
		SET streak_count = ?, longest_streak = ?, last_activity_date = ?, streak_shields = ?
		WHERE id = ?
	`
	_, err := q.ExecContext(ctx, q.Rebind(query),
		user.StreakCount, user.LongestStreak, user.LastActivityDate, user.StreakShields, user.ID)
	if err != nil {
		return fmt.Errorf("failed to save streak: %w", err)
	}
	return nil
}

// UpdateSettings applies a settings change and returns the updated user.
func (s *UserService) UpdateSettings(ctx context.Context, q sqlx.ExtContext, userID string, req *models.SettingsUpdateRequest) (*models.User, error) {
	user, err := s.Get(ctx, q, userID)
	if err != nil {
		return nil, err
	}

	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" || len(name) > maxDisplayNameLen {
			return nil, fmt.Errorf("%w: display name must be 1-%d characters", ErrInvalidInput, maxDisplayNameLen)
		}
		user.DisplayName = name
	}

	switch {
	case req.ClearMultiplierDay:
		user.XPMultiplierDay = nil
	case req.XPMultiplierDay != nil:
		day := *req.XPMultiplierDay
		if day < int(time.Sunday) || day > int(time.Saturday) {
			return nil, fmt.Errorf("%w: multiplier day must be 0-6", ErrInvalidInput)
		}
		user.XPMultiplierDay = &day
	}

	query := `UPDATE users SET display_name = ?, xp_multiplier_day = ? WHERE id = ?`
	if _, err := q.ExecContext(ctx, q.Rebind(query), user.DisplayName, user.XPMultiplierDay, user.ID); err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}
	return user, nil
}

// Profile returns the user together with the unseen achievement count.
func (s *UserService) Profile(ctx context.Context, q sqlx.ExtContext, userID string) (*models.Profile, error) {
	user, err := s.Get(ctx, q, userID)
	if err != nil {
		return nil, err
	}

	var unseen int
	query := `SELECT COUNT(*) FROM user_achievements WHERE user_id = ? AND seen = ?`
	if err := sqlx.GetContext(ctx, q, &unseen, q.Rebind(query), userID, false); err != nil {
		return nil, fmt.Errorf("failed to count unseen achievements: %w", err)
	}

	return &models.Profile{User: *user, UnseenAchievements: unseen}, nil
}

// ListIDs returns every user id. With activeOn set, only users whose last
// activity was that day.
func (s *UserService) ListIDs(ctx context.Context, q sqlx.ExtContext, activeOn string) ([]string, error) {
	var ids []string
	var err error
	if activeOn == "" {
		err = sqlx.SelectContext(ctx, q, &ids, `SELECT id FROM users ORDER BY id`)
	} else {
		err = sqlx.SelectContext(ctx, q, &ids, q.Rebind(`SELECT id FROM users WHERE last_activity_date = ? ORDER BY id`), activeOn)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return ids, nil
}
