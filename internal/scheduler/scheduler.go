// Package scheduler runs the engine's periodic jobs on a cron.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tahcohcat/studyquest/internal/logger"
)

// Scheduler wraps cron-based jobs.
type Scheduler struct {
	cron *cron.Cron
	log  *logger.Log
}

func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron: cron.New(cron.WithLocation(loc), cron.WithSeconds()),
		log:  logger.New().With("component", "scheduler"),
	}
}

// ScheduleDaily registers a daily job at the given HH:MM time string.
func (s *Scheduler) ScheduleDaily(name, timeStr string, job func()) (cron.EntryID, error) {
	spec, err := dailySpec(timeStr)
	if err != nil {
		return 0, err
	}
	id, err := s.cron.AddFunc(spec, s.wrap(name, job))
	if err != nil {
		return 0, fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.log.With("job", name).With("at", timeStr).Info("scheduled daily job")
	return id, nil
}

// ScheduleInterval registers a job that runs every interval.
func (s *Scheduler) ScheduleInterval(name string, interval time.Duration, job func()) (cron.EntryID, error) {
	if interval < time.Second {
		return 0, fmt.Errorf("interval for %s must be at least one second, got %s", name, interval)
	}
	id, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", int(interval.Seconds())), s.wrap(name, job))
	if err != nil {
		return 0, fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.log.With("job", name).With("every", interval).Info("scheduled interval job")
	return id, nil
}

func (s *Scheduler) wrap(name string, job func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.With("job", name).WithError(fmt.Errorf("%v", r)).Error("scheduled job panicked")
			}
		}()
		start := time.Now()
		job()
		s.log.With("job", name).With("took", time.Since(start).Round(time.Millisecond)).Debug("scheduled job finished")
	}
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron and waits for running jobs, at most until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("scheduled jobs still running at shutdown")
	}
}

func dailySpec(timeStr string) (string, error) {
	parts := strings.Split(strings.TrimSpace(timeStr), ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time %q, expected HH:MM", timeStr)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", timeStr)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", timeStr)
	}
	// second minute hour dom month dow
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}
