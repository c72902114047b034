package notifier

import (
	"context"
	"errors"
	"time"
)

var ErrNotConfigured = errors.New("notifier not configured")

// Notifier delivers one report. Implementations must return delivery
// errors instead of swallowing them.
type Notifier interface {
	Notify(ctx context.Context, r Report) error
}

// Entry is one ranked result.
type Entry struct {
	Rank       int
	Symbol     string
	Name       string
	Score      float64
	Confidence float64
	Signal     string
}

// Report is the payload of one run.
type Report struct {
	RunID      string
	Source     string
	At         time.Time
	Candidates int
	Succeeded  int
	Failed     int
	Took       time.Duration
	Entries    []Entry
}

// NotificationEvent is published on the event bus after each delivery attempt.
type NotificationEvent struct {
	Channel string    `json:"channel"`
	RunID   string    `json:"run_id"`
	Entries int       `json:"entries"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
