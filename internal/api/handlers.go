package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tahcohcat/studyquest/internal/auth"
	"github.com/tahcohcat/studyquest/internal/logger"
	"github.com/tahcohcat/studyquest/internal/models"
	"github.com/tahcohcat/studyquest/internal/services"
)

type Handler struct {
	engine *services.Engine
	log    *logger.Log
}

func NewHandler(engine *services.Engine) *Handler {
	return &Handler{engine: engine, log: logger.New().With("component", "api")}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotMember):
		return http.StatusForbidden
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrTaskNotFound),
		errors.Is(err, services.ErrAssignmentNotFound),
		errors.Is(err, services.ErrLeaderboardNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrAlreadyCompleted),
		errors.Is(err, services.ErrNotCompleted),
		errors.Is(err, services.ErrNotManuallyCompleted):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).With("path", r.URL.Path).Error("request failed")
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", services.ErrInvalidInput, err)
	}
	return nil
}

// decodeOptional is decode for endpoints where the body may be left out.
// Chunked and NoBody requests report an unknown length, so the empty case
// is only visible as io.EOF.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: malformed request body: %v", services.ErrInvalidInput, err)
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 0
	}
	return min(n, 200)
}

// GET /api/v1/me - Profile of the caller
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.engine.Profile(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// PUT /api/v1/me/settings - Display name and multiplier day
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req models.SettingsUpdateRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.engine.UpdateSettings(r.Context(), auth.UserID(r.Context()), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GET /api/v1/me/ledger - Latest points ledger entries
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.LedgerHistory(r.Context(), auth.UserID(r.Context()), limitParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GET /api/v1/me/events - Latest activity events
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.engine.RecentEvents(r.Context(), auth.UserID(r.Context()), limitParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	achievements, err := h.engine.ListAchievements(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"achievements": achievements})
}

func (h *Handler) MarkAchievementsSeen(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.MarkAchievementsSeen(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

// GET /api/v1/challenges/today - Today's challenges, generated on first call
func (h *Handler) TodayChallenges(w http.ResponseWriter, r *http.Request) {
	challenges, err := h.engine.TodayChallenges(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"challenges": challenges})
}

// POST /api/v1/challenges/refresh - Recompute challenge progress now
func (h *Handler) RefreshChallenges(w http.ResponseWriter, r *http.Request) {
	done, err := h.engine.RecomputeChallenges(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"completed": done})
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	status := models.TaskStatus(r.URL.Query().Get("status"))
	tasks, err := h.engine.ListTasks(r.Context(), auth.UserID(r.Context()), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req models.TaskRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	task, err := h.engine.CreateTask(r.Context(), auth.UserID(r.Context()), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var req models.TaskRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	task, err := h.engine.UpdateTask(r.Context(), auth.UserID(r.Context()), mux.Vars(r)["id"], &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteTask(r.Context(), auth.UserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/tasks/{id}/complete - Complete a custom task
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.CompleteTask(r.Context(), auth.UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DELETE /api/v1/tasks/{id}/complete - Undo a completion
func (h *Handler) UncompleteTask(w http.ResponseWriter, r *http.Request) {
	task, res, err := h.engine.UncompleteTask(r.Context(), auth.UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task, "removed": res.Removed, "total": res.Total})
}

// PUT /api/v1/assignments/sync - Upstream assignment data
func (h *Handler) SyncAssignment(w http.ResponseWriter, r *http.Request) {
	var req models.AssignmentSyncRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.engine.SyncAssignment(r.Context(), auth.UserID(r.Context()), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) ListUrgent(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.engine.ListUrgent(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

// POST /api/v1/assignments/{id}/complete - Manual mark-done
func (h *Handler) CompleteAssignment(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.CompleteAssignment(r.Context(), auth.UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) UncompleteAssignment(w http.ResponseWriter, r *http.Request) {
	a, res, err := h.engine.UncompleteAssignment(r.Context(), auth.UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignment": a, "removed": res.Removed, "total": res.Total})
}

// POST /api/v1/assignments/{id}/submission - Submission seen upstream
func (h *Handler) RecordSubmission(w http.ResponseWriter, r *http.Request) {
	var req models.SubmissionRequest
	if err := decodeOptional(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.engine.RecordSubmission(r.Context(), auth.UserID(r.Context()), mux.Vars(r)["id"], req.SubmittedAt)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"already_submitted": true})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) SetUrgent(w http.ResponseWriter, r *http.Request) {
	var req models.UrgentRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.engine.SetUrgent(r.Context(), auth.UserID(r.Context()), mux.Vars(r)["id"], &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) ListLeaderboards(w http.ResponseWriter, r *http.Request) {
	boards, err := h.engine.ListLeaderboards(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboards": boards})
}

func (h *Handler) CreateLeaderboard(w http.ResponseWriter, r *http.Request) {
	var req models.CreateLeaderboardRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	lb, err := h.engine.CreateLeaderboard(r.Context(), auth.UserID(r.Context()), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lb)
}

// POST /api/v1/leaderboards/join - Join by invite code
func (h *Handler) JoinLeaderboard(w http.ResponseWriter, r *http.Request) {
	var req models.JoinLeaderboardRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.engine.JoinLeaderboard(r.Context(), auth.UserID(r.Context()), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) LeaveLeaderboard(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.LeaveLeaderboard(r.Context(), auth.UserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/leaderboards/{id}/rankings - Members ordered by points
func (h *Handler) Rankings(w http.ResponseWriter, r *http.Request) {
	rankings, err := h.engine.Rankings(r.Context(), auth.UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rankings": rankings})
}

// RegisterRoutes mounts the engine API on r, which must sit behind the auth
// middleware.
func RegisterRoutes(r *mux.Router, engine *services.Engine) *Handler {
	h := NewHandler(engine)

	r.HandleFunc("/me", h.GetProfile).Methods("GET")
	r.HandleFunc("/me/settings", h.UpdateSettings).Methods("PUT")
	r.HandleFunc("/me/ledger", h.GetLedger).Methods("GET")
	r.HandleFunc("/me/events", h.GetEvents).Methods("GET")

	r.HandleFunc("/achievements", h.ListAchievements).Methods("GET")
	r.HandleFunc("/achievements/seen", h.MarkAchievementsSeen).Methods("POST")

	r.HandleFunc("/challenges/today", h.TodayChallenges).Methods("GET")
	r.HandleFunc("/challenges/refresh", h.RefreshChallenges).Methods("POST")

	r.HandleFunc("/tasks", h.ListTasks).Methods("GET")
	r.HandleFunc("/tasks", h.CreateTask).Methods("POST")
	r.HandleFunc("/tasks/{id}", h.UpdateTask).Methods("PUT")
	r.HandleFunc("/tasks/{id}", h.DeleteTask).Methods("DELETE")
	r.HandleFunc("/tasks/{id}/complete", h.CompleteTask).Methods("POST")
	r.HandleFunc("/tasks/{id}/complete", h.UncompleteTask).Methods("DELETE")

	r.HandleFunc("/assignments/sync", h.SyncAssignment).Methods("PUT")
	r.HandleFunc("/assignments/urgent", h.ListUrgent).Methods("GET")
	r.HandleFunc("/assignments/{id}/complete", h.CompleteAssignment).Methods("POST")
	r.HandleFunc("/assignments/{id}/complete", h.UncompleteAssignment).Methods("DELETE")
	r.HandleFunc("/assignments/{id}/submission", h.RecordSubmission).Methods("POST")
	r.HandleFunc("/assignments/{id}/urgent", h.SetUrgent).Methods("PUT")

	r.HandleFunc("/leaderboards", h.ListLeaderboards).Methods("GET")
	r.HandleFunc("/leaderboards", h.CreateLeaderboard).Methods("POST")
	r.HandleFunc("/leaderboards/join", h.JoinLeaderboard).Methods("POST")
	r.HandleFunc("/leaderboards/{id}/membership", h.LeaveLeaderboard).Methods("DELETE")
	r.HandleFunc("/leaderboards/{id}/rankings", h.Rankings).Methods("GET")

	return h
}
