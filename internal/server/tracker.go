package server

import (
	"context"
	"sync"

	"scanbot/internal/eventbus"
	"scanbot/internal/workflow"
)

// Tracker keeps the last run summary seen on the event bus.
type Tracker struct {
	mu   sync.RWMutex
	last *workflow.Summary
}

func NewTracker() *Tracker { return &Tracker{} }

// Consume reads events until ctx is done or the channel closes.
func (t *Tracker) Consume(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			t.observe(ev)
		}
	}
}

func (t *Tracker) observe(ev eventbus.Event) {
	if ev.Type != eventbus.TypeRunFinished && ev.Type != eventbus.TypeRunFailed {
		return
	}
	sum, ok := ev.Data.(workflow.Summary)
	if !ok {
		return
	}
	t.mu.Lock()
	t.last = &sum
	t.mu.Unlock()
}

func (t *Tracker) Last() (workflow.Summary, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return workflow.Summary{}, false
	}
	return *t.last, true
}
