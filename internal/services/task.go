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

const maxTaskTitleLen = 200

const taskColumns = `id, user_id, title, category, points_value, status, due_at, completed_at, created_at, updated_at`

// TaskCompletion is the outcome of completing a custom task.
type TaskCompletion struct {
	Task    *models.CustomTask `json:"task"`
	Points  int                `json:"points"`
	Doubled bool               `json:"doubled"`
	Streak  StreakUpdate       `json:"streak"`
}

type TaskService struct {
	ledger  *LedgerService
	streaks *StreakService
}

func NewTaskService(ledger *LedgerService, streaks *StreakService) *TaskService {
	return &TaskService{ledger: ledger, streaks: streaks}
}

func validateTask(req *models.TaskRequest) error {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" || len(req.Title) > maxTaskTitleLen {
		return fmt.Errorf("%w: title must be 1-%d characters", ErrInvalidInput, maxTaskTitleLen)
	}
	if !req.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, req.Category)
	}
	if req.PointsValue < models.MinTaskPoints || req.PointsValue > models.MaxTaskPoints {
		return fmt.Errorf("%w: points must be between %d and %d", ErrInvalidInput, models.MinTaskPoints, models.MaxTaskPoints)
	}
	return nil
}

// Create adds a pending task for the user.
func (s *TaskService) Create(ctx context.Context, q sqlx.ExtContext, userID string, req *models.TaskRequest, now time.Time) (*models.CustomTask, error) {
	if err := validateTask(req); err != nil {
		return nil, err
	}

	task := &models.CustomTask{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       req.Title,
		Category:    req.Category,
		PointsValue: req.PointsValue,
		Status:      models.TaskPending,
		DueAt:       utcPtr(req.DueAt),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}

	query := `
		INSERT INTO custom_tasks (id, user_id, title, category, points_value, status, due_at, created_at, updated_at)
		VALUES (:id, :user_id, :title, :category, :points_value, :status, :due_at, :created_at, :updated_at)
	`
	if _, err := sqlx.NamedExecContext(ctx, q, query, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return task, nil
}

// Get loads a task owned by userID.
func (s *TaskService) Get(ctx context.Context, q sqlx.ExtContext, userID, taskID string) (*models.CustomTask, error) {
	var task models.CustomTask
	query := `SELECT ` + taskColumns + ` FROM custom_tasks WHERE id = ? AND user_id = ?`
	err := sqlx.GetContext(ctx, q, &task, q.Rebind(query), taskID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// List returns the user's tasks, optionally filtered by status.
func (s *TaskService) List(ctx context.Context, q sqlx.ExtContext, userID string, status models.TaskStatus) ([]models.CustomTask, error) {
	tasks := []models.CustomTask{}
	var err error
	if status == "" {
		query := `SELECT ` + taskColumns + ` FROM custom_tasks WHERE user_id = ? ORDER BY created_at, id`
		err = sqlx.SelectContext(ctx, q, &tasks, q.Rebind(query), userID)
	} else {
		query := `SELECT ` + taskColumns + ` FROM custom_tasks WHERE user_id = ? AND status = ? ORDER BY created_at, id`
		err = sqlx.SelectContext(ctx, q, &tasks, q.Rebind(query), userID, status)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// Update edits a pending task. Completed tasks keep the value they paid out.
func (s *TaskService) Update(ctx context.Context, q sqlx.ExtContext, userID, taskID string, req *models.TaskRequest, now time.Time) (*models.CustomTask, error) {
	if err := validateTask(req); err != nil {
		return nil, err
	}
	task, err := s.Get(ctx, q, userID, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskCompleted {
		return nil, ErrAlreadyCompleted
	}

	task.Title = req.Title
	task.Category = req.Category
	task.PointsValue = req.PointsValue
	task.DueAt = utcPtr(req.DueAt)
	task.UpdatedAt = now.UTC()

	query := `UPDATE custom_tasks SET title = ?, category = ?, points_value = ?, due_at = ?, updated_at = ? WHERE id = ?`
	if _, err := q.ExecContext(ctx, q.Rebind(query), task.Title, task.Category, task.PointsValue, task.DueAt, task.UpdatedAt, task.ID); err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return task, nil
}

// Delete removes a pending task.
func (s *TaskService) Delete(ctx context.Context, q sqlx.ExtContext, userID, taskID string) error {
	task, err := s.Get(ctx, q, userID, taskID)
	if err != nil {
		return err
	}
	if task.Status == models.TaskCompleted {
		return ErrAlreadyCompleted
	}
	if _, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM custom_tasks WHERE id = ?`), task.ID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// Complete pays the task's fixed value, doubled on the user's multiplier
// day, and advances the streak.
func (s *TaskService) Complete(ctx context.Context, q sqlx.ExtContext, user *models.User, taskID string, m moment) (*TaskCompletion, error) {
	task, err := s.Get(ctx, q, user.ID, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskCompleted {
		return nil, ErrAlreadyCompleted
	}

	res := &TaskCompletion{Task: task, Points: task.PointsValue}
	if user.IsMultiplierDay(m.local()) {
		res.Points *= 2
		res.Doubled = true
	}

	if _, err := s.ledger.Add(ctx, q, user.ID, res.Points, models.ReasonCustomTask, models.TaskSource(task.ID), m.at); err != nil {
		return nil, err
	}
	user.TotalPoints += res.Points

	at := m.at
	task.Status = models.TaskCompleted
	task.CompletedAt = &at
	task.UpdatedAt = at
	query := `UPDATE custom_tasks SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`
	if _, err := q.ExecContext(ctx, q.Rebind(query), task.Status, task.CompletedAt, task.UpdatedAt, task.ID); err != nil {
		return nil, fmt.Errorf("failed to complete task: %w", err)
	}

	res.Streak, err = s.streaks.Update(ctx, q, user, m)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Uncomplete takes the task's points back and reopens it. Streak changes
// made by the completion stay as they are.
func (s *TaskService) Uncomplete(ctx context.Context, q sqlx.ExtContext, user *models.User, taskID string, m moment) (*models.CustomTask, int, error) {
	task, err := s.Get(ctx, q, user.ID, taskID)
	if err != nil {
		return nil, 0, err
	}
	if task.Status != models.TaskCompleted {
		return nil, 0, ErrNotCompleted
	}

	removed, err := s.ledger.Remove(ctx, q, user.ID, models.TaskSource(task.ID))
	if err != nil {
		return nil, 0, err
	}

	task.Status = models.TaskPending
	task.CompletedAt = nil
	task.UpdatedAt = m.at
	query := `UPDATE custom_tasks SET status = ?, completed_at = NULL, updated_at = ? WHERE id = ?`
	if _, err := q.ExecContext(ctx, q.Rebind(query), task.Status, task.UpdatedAt, task.ID); err != nil {
		return nil, 0, fmt.Errorf("failed to reopen task: %w", err)
	}
	return task, removed, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
