package services

import "errors"

// Domain errors returned to callers. Match them with errors.Is.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrUserNotFound         = errors.New("user not found")
	ErrTaskNotFound         = errors.New("task not found")
	ErrAssignmentNotFound   = errors.New("assignment not found")
	ErrAlreadyCompleted     = errors.New("already completed")
	ErrNotCompleted         = errors.New("not completed")
	ErrNotManuallyCompleted = errors.New("assignment was not marked done manually")
	ErrLeaderboardNotFound  = errors.New("leaderboard not found")
	ErrNotMember            = errors.New("not a member of this leaderboard")
)
