package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tahcohcat/studyquest/internal/models"
)

const (
	// InviteCodeAlphabet leaves out characters that are easy to misread (I, O, 0, 1).
	InviteCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	InviteCodeLength   = 8

	inviteCodeAttempts    = 10
	maxLeaderboardNameLen = 60
)

const leaderboardColumns = `id, name, invite_code, creator_id, created_at`

type LeaderboardService struct {
	newCode func() (string, error)
}

func NewLeaderboardService() *LeaderboardService {
	return &LeaderboardService{newCode: generateInviteCode}
}

func generateInviteCode() (string, error) {
	max := big.NewInt(int64(len(InviteCodeAlphabet)))
	var b strings.Builder
	b.Grow(InviteCodeLength)
	for range InviteCodeLength {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate invite code: %w", err)
		}
		b.WriteByte(InviteCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func normalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Create opens a new leaderboard with a fresh invite code and makes the
// creator its first member.
func (s *LeaderboardService) Create(ctx context.Context, q sqlx.ExtContext, creatorID, name string, now time.Time) (*models.Leaderboard, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxLeaderboardNameLen {
		return nil, fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidInput, maxLeaderboardNameLen)
	}

	code, err := s.uniqueCode(ctx, q)
	if err != nil {
		return nil, err
	}

	lb := &models.Leaderboard{
		ID:         uuid.NewString(),
		Name:       name,
		InviteCode: code,
		CreatorID:  creatorID,
		CreatedAt:  now.UTC(),
	}
	query := `INSERT INTO leaderboards (id, name, invite_code, creator_id, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := q.ExecContext(ctx, q.Rebind(query), lb.ID, lb.Name, lb.InviteCode, lb.CreatorID, lb.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create leaderboard: %w", err)
	}

	if _, err := s.addMember(ctx, q, lb.ID, creatorID, now); err != nil {
		return nil, err
	}
	return lb, nil
}

func (s *LeaderboardService) uniqueCode(ctx context.Context, q sqlx.ExtContext) (string, error) {
	for range inviteCodeAttempts {
		code, err := s.newCode()
		if err != nil {
			return "", err
		}
		var n int
		if err := sqlx.GetContext(ctx, q, &n, q.Rebind(`SELECT COUNT(*) FROM leaderboards WHERE invite_code = ?`), code); err != nil {
			return "", fmt.Errorf("failed to check invite code: %w", err)
		}
		if n == 0 {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to find a free invite code after %d attempts", inviteCodeAttempts)
}

func (s *LeaderboardService) addMember(ctx context.Context, q sqlx.ExtContext, leaderboardID, userID string, now time.Time) (bool, error) {
	query := `
		INSERT INTO leaderboard_members (leaderboard_id, user_id, joined_at)
		VALUES (?, ?, ?)
		ON CONFLICT (leaderboard_id, user_id) DO NOTHING
	`
	res, err := q.ExecContext(ctx, q.Rebind(query), leaderboardID, userID, now.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to add leaderboard member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to add leaderboard member: %w", err)
	}
	return n > 0, nil
}

// Get loads a leaderboard by id.
func (s *LeaderboardService) Get(ctx context.Context, q sqlx.ExtContext, leaderboardID string) (*models.Leaderboard, error) {
	var lb models.Leaderboard
	err := sqlx.GetContext(ctx, q, &lb, q.Rebind(`SELECT `+leaderboardColumns+` FROM leaderboards WHERE id = ?`), leaderboardID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLeaderboardNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	return &lb, nil
}

// Join adds the user to the leaderboard behind code. Joining twice is
// harmless and reported through AlreadyMember.
func (s *LeaderboardService) Join(ctx context.Context, q sqlx.ExtContext, userID, code string, now time.Time) (*models.JoinResult, error) {
	code = normalizeInviteCode(code)
	if code == "" {
		return nil, fmt.Errorf("%w: invite code is required", ErrInvalidInput)
	}

	var lb models.Leaderboard
	err := sqlx.GetContext(ctx, q, &lb, q.Rebind(`SELECT `+leaderboardColumns+` FROM leaderboards WHERE invite_code = ?`), code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLeaderboardNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up invite code: %w", err)
	}

	added, err := s.addMember(ctx, q, lb.ID, userID, now)
	if err != nil {
		return nil, err
	}
	return &models.JoinResult{Leaderboard: lb, AlreadyMember: !added}, nil
}

// Leave removes the user from the leaderboard.
func (s *LeaderboardService) Leave(ctx context.Context, q sqlx.ExtContext, userID, leaderboardID string) error {
	if _, err := s.Get(ctx, q, leaderboardID); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM leaderboard_members WHERE leaderboard_id = ? AND user_id = ?`), leaderboardID, userID)
	if err != nil {
		return fmt.Errorf("failed to leave leaderboard: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotMember
	}
	return nil
}

func (s *LeaderboardService) isMember(ctx context.Context, q sqlx.ExtContext, leaderboardID, userID string) (bool, error) {
	var n int
	query := `SELECT COUNT(*) FROM leaderboard_members WHERE leaderboard_id = ? AND user_id = ?`
	if err := sqlx.GetContext(ctx, q, &n, q.Rebind(query), leaderboardID, userID); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return n > 0, nil
}

// Rankings orders the members by total points. Equal totals keep join order
// and still get distinct, sequential ranks.
func (s *LeaderboardService) Rankings(ctx context.Context, q sqlx.ExtContext, leaderboardID, requesterID string) ([]models.RankedMember, error) {
	if _, err := s.Get(ctx, q, leaderboardID); err != nil {
		return nil, err
	}
	member, err := s.isMember(ctx, q, leaderboardID, requesterID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotMember
	}

	members := []models.RankedMember{}
	query := `
		SELECT u.id AS user_id, u.display_name, u.total_points, u.streak_count, m.joined_at
		FROM leaderboard_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.leaderboard_id = ?
		ORDER BY u.total_points DESC, m.joined_at ASC, u.id ASC
	`
	if err := sqlx.SelectContext(ctx, q, &members, q.Rebind(query), leaderboardID); err != nil {
		return nil, fmt.Errorf("failed to load rankings: %w", err)
	}

	sort.SliceStable(members, func(i, j int) bool {
		return members[i].TotalPoints > members[j].TotalPoints
	})
	for i := range members {
		members[i].Rank = i + 1
	}
	return members, nil
}

// ListForUser returns the leaderboards the user belongs to.
func (s *LeaderboardService) ListForUser(ctx context.Context, q sqlx.ExtContext, userID string) ([]models.Leaderboard, error) {
	boards := []models.Leaderboard{}
	query := `
		SELECT l.id, l.name, l.invite_code, l.creator_id, l.created_at
		FROM leaderboards l
		JOIN leaderboard_members m ON m.leaderboard_id = l.id
		WHERE m.user_id = ?
		ORDER BY m.joined_at, l.id
	`
	if err := sqlx.SelectContext(ctx, q, &boards, q.Rebind(query), userID); err != nil {
		return nil, fmt.Errorf("failed to list leaderboards: %w", err)
	}
	return boards, nil
}
