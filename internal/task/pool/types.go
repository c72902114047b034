package pool

import (
	"context"
	"time"

	"scanbot/internal/analysis"
)

// Analyzer performs one remote analysis call.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, req analysis.Request) (*analysis.Result, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error) {
	return f(ctx, req)
}

// Config controls a Pool.
type Config struct {
	Workers int

	// CallTimeout bounds one remote call. Default 60s.
	CallTimeout time.Duration
	// CallDelay is slept by a worker before each call (rate-limit guard).
	CallDelay time.Duration
	// SendTimeout bounds how long a worker waits on a full response queue
	// before dropping the response. Default 5s.
	SendTimeout time.Duration
	// CollectTimeout bounds one Submit's collection. 0 derives a bound from
	// the batch size, worker count and per-call limits.
	CollectTimeout time.Duration
}

const (
	defaultCallTimeout = 60 * time.Second
	defaultSendTimeout = 5 * time.Second
	collectSlack       = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTimeout
	}
	if c.CallDelay < 0 {
		c.CallDelay = 0
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.CollectTimeout < 0 {
		c.CollectTimeout = 0
	}
	return c
}

// State is the pool lifecycle: Open → Draining → Closed.
type State int32

const (
	StateOpen State = iota
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time view for diagnostics.
type Stats struct {
	Workers    int
	State      State
	Closed     bool
	Submitting bool

	RequestQueueLen  int
	RequestQueueCap  int
	ResponseQueueLen int
	ResponseQueueCap int

	InFlight  int
	Processed uint64
	Dropped   uint64
}

// job and envelope tag work with the submission it belongs to, so a
// collector never counts a straggler from an abandoned submission.
type job struct {
	batch uint64
	req   analysis.Request
}

type envelope struct {
	batch uint64
	resp  analysis.Response
}
