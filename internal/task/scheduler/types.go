package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"scanbot/internal/eventbus"
	logx "scanbot/pkg/logx"
)

var (
	ErrJobRunning = errors.New("job already running")
	ErrUnknownJob = errors.New("unknown job")
)

// DefaultJobTimeout bounds one job execution.
const DefaultJobTimeout = 30 * time.Minute

// Config controls the scheduler service.
type Config struct {
	Timezone   string // IANA TZ, e.g. "Asia/Jakarta"; empty means Local
	JobTimeout time.Duration
}

// Job is a named unit of work fired by a schedule.
type Job struct {
	Name    string
	Handler func(ctx context.Context) error
}

// JobSkipped is the event payload published when a tick (or a manual
// trigger) finds the job still running.
type JobSkipped struct {
	Name   string
	Reason string
}

type entry struct {
	expr string
	spec Spec
	job  Job

	// running is shared with Service.guards so a removed and re-added job
	// still sees an execution that is in flight.
	running *atomic.Bool

	// guarded by Service.mu
	runs         uint64
	skips        uint64
	lastStart    time.Time
	lastDuration time.Duration
	lastErr      string
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	cfg Config
	loc *time.Location
	now func() time.Time

	jobs   map[string]*entry
	guards map[string]*atomic.Bool

	running  bool
	gen      uint64
	cancel   context.CancelFunc
	lastTick time.Time
}

// JobInfo describes one registered job.
type JobInfo struct {
	Name         string
	Spec         string
	Next         time.Time
	Running      bool
	Runs         uint64
	Skips        uint64
	LastStart    time.Time
	LastDuration time.Duration
	LastError    string
}

type Snapshot struct {
	Running    bool
	Timezone   string
	JobTimeout time.Duration
	Jobs       []JobInfo
}
