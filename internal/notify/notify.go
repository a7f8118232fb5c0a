// Package notify carries engine events to whoever presents them: the
// websocket hub for connected browsers and Redis pub/sub for other services.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Event types published by the engine.
const (
	EventPointsAwarded       = "points.awarded"
	EventPointsRemoved       = "points.removed"
	EventStreakUpdated       = "streak.updated"
	EventShieldUsed          = "streak.shield_used"
	EventShieldEarned        = "streak.shield_earned"
	EventAchievementUnlocked = "achievement.unlocked"
	EventChallengeCompleted  = "challenge.completed"
	EventChallengesGenerated = "challenges.generated"
)

// Event is a single notification for one user.
type Event struct {
	Type    string    `json:"type"`
	UserID  string    `json:"user_id"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers. Every publisher is tried
// and the failures are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory. Tests use it to assert on
// what the engine announced.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of what has been published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the published event types in order.
func (r *Recorder) Types() []string {
	events := r.Events()
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}
