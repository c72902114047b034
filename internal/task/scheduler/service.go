package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"scanbot/internal/eventbus"
	logx "scanbot/pkg/logx"
)

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:  log,
		bus:  bus,
		now:  time.Now,
		jobs:   map[string]*entry{},
		guards: map[string]*atomic.Bool{},
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps timezone and job timeout. A running loop picks them up on its
// next tick.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := s.loc.String()
	s.applyLocked(cfg)
	if s.loc.String() != oldTZ {
		s.log.Info("timezone changed", logx.String("from", oldTZ), logx.String("to", s.loc.String()))
	}
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	s.cfg = cfg
	s.loc = time.Local
	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		return
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using Local", logx.String("tz", tz), logx.Err(err))
		return
	}
	s.loc = loc
}

// AddJob parses expr and registers job under it, replacing any job with the
// same name. A replaced job keeps its running guard, so an execution that
// is still in flight still blocks the next one.
func (s *Service) AddJob(expr string, job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" {
		return errors.New("scheduler: job name required")
	}
	if job.Handler == nil {
		return fmt.Errorf("scheduler: job %q has no handler", job.Name)
	}
	spec, err := ParseSpec(expr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	e, ok := s.jobs[job.Name]
	if !ok {
		e = &entry{running: s.guardLocked(job.Name)}
		s.jobs[job.Name] = e
	}
	norm := strings.Join(strings.Fields(expr), " ")
	e.expr = norm
	e.spec = spec
	e.job = job
	next := spec.Next(s.now().In(s.loc))
	s.mu.Unlock()

	s.log.Info("schedule registered",
		logx.String("name", job.Name),
		logx.String("spec", norm),
		logx.Bool("replaced", ok),
		logx.Time("next", next),
	)
	return nil
}

// guardLocked returns the running guard of name, creating it if needed.
// Callers hold s.mu.
func (s *Service) guardLocked(name string) *atomic.Bool {
	g, ok := s.guards[name]
	if !ok {
		g = new(atomic.Bool)
		s.guards[name] = g
	}
	return g
}

// RemoveJob unregisters name. An execution already in flight is not stopped
// and keeps blocking a job re-added under the same name until it returns.
func (s *Service) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return false
	}
	delete(s.jobs, name)
	if !e.running.Load() {
		delete(s.guards, name)
	}
	s.log.Info("schedule removed", logx.String("name", name))
	return true
}

// Start runs the tick loop until ctx is done or Stop is called. A second
// call while the loop runs only logs a warning.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Warn("start ignored: scheduler already running")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.gen++
	gen := s.gen
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
	go s.loop(loopCtx, gen)
}

// Stop cancels the tick loop. Jobs already dispatched keep running until
// they return or hit their timeout.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.cancel = nil
	s.running = false
	s.log.Info("scheduler stopped")
}

// Running reports whether the tick loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) loop(ctx context.Context, gen uint64) {
	defer func() {
		s.mu.Lock()
		if s.gen == gen && s.running {
			s.running = false
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	for {
		now := s.now()
		wait := now.Truncate(time.Minute).Add(time.Minute).Sub(now)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(s.now())
		}
	}
}

// tick fires every job whose spec matches now's minute. A minute already
// handled is ignored, so an early timer wake never fires a job twice.
func (s *Service) tick(now time.Time) int {
	s.mu.Lock()
	t := now.In(s.loc).Truncate(time.Minute)
	if !t.After(s.lastTick) {
		s.mu.Unlock()
		return 0
	}
	s.lastTick = t

	names := make([]string, 0, len(s.jobs))
	for name, e := range s.jobs {
		if e.spec.Matches(t) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	due := make([]*entry, len(names))
	for i, name := range names {
		due[i] = s.jobs[name]
	}
	s.mu.Unlock()

	fired := 0
	for _, e := range due {
		if s.fire(e, "schedule") == nil {
			fired++
		}
	}
	return fired
}

// Trigger fires name immediately through the same running guard as the
// schedule.
func (s *Service) Trigger(name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.fire(e, "manual")
}

func (s *Service) fire(e *entry, reason string) error {
	s.mu.Lock()
	job := e.job
	timeout := s.cfg.JobTimeout
	acquired := e.running.CompareAndSwap(false, true)
	if !acquired {
		e.skips++
	}
	s.mu.Unlock()

	if !acquired {
		s.log.Warn("job skipped: previous run still in flight", logx.String("name", job.Name), logx.String("reason", reason))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobSkipped, Data: JobSkipped{Name: job.Name, Reason: reason}})
		}
		return fmt.Errorf("%w: %s", ErrJobRunning, job.Name)
	}

	go s.run(e, job, timeout, reason)
	return nil
}

func (s *Service) run(e *entry, job Job, timeout time.Duration, reason string) {
	defer s.release(e, job.Name)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	s.mu.Lock()
	e.runs++
	e.lastStart = start
	s.mu.Unlock()

	s.log.Info("job started", logx.String("name", job.Name), logx.String("reason", reason))
	err := safeCall(ctx, job.Handler)
	dur := time.Since(start)

	s.mu.Lock()
	e.lastDuration = dur
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("job failed", logx.String("name", job.Name), logx.Duration("took", dur), logx.Err(err))
		return
	}
	s.log.Info("job finished", logx.String("name", job.Name), logx.Duration("took", dur))
}

// release clears the running guard and forgets it if the job was removed
// meanwhile.
func (s *Service) release(e *entry, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.running.Store(false)
	if _, ok := s.jobs[name]; !ok && s.guards[name] == e.running {
		delete(s.guards, name)
	}
}

func safeCall(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
