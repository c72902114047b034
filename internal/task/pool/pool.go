package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"scanbot/internal/analysis"
	logx "scanbot/pkg/logx"
)

type Pool struct {
	cfg      Config
	analyzer Analyzer
	log      logx.Logger

	// mu guards the lifecycle state and the two channel-closed flags.
	mu         sync.RWMutex
	state      State
	reqClosed  bool
	respClosed bool

	requests  chan job
	responses chan envelope
	quit      chan struct{} // closed when teardown starts; stops feeders
	done      chan struct{} // closed when teardown finished

	workers sync.WaitGroup
	feeders sync.WaitGroup

	batchSeq   atomic.Uint64
	submitting atomic.Bool
	inFlight   atomic.Int32
	processed  atomic.Uint64
	dropped    atomic.Uint64
}

// New starts cfg.Workers workers. The pool must be closed by the caller.
func New(cfg Config, analyzer Analyzer, log logx.Logger) (*Pool, error) {
	if cfg.Workers < 1 {
		return nil, ErrInvalidWorkers
	}
	if analyzer == nil {
		return nil, ErrNilAnalyzer
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()

	p := &Pool{
		cfg:       cfg,
		analyzer:  analyzer,
		log:       log,
		requests:  make(chan job, 2*cfg.Workers),
		responses: make(chan envelope, 2*cfg.Workers),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	p.workers.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker(i)
	}
	p.log.Debug("pool.started", logx.Int("workers", cfg.Workers), logx.Duration("call_timeout", cfg.CallTimeout), logx.Duration("call_delay", cfg.CallDelay))
	return p, nil
}

// Submit queues reqs and returns a channel carrying one response per
// request. The channel is closed once every response arrived, ctx is done,
// the collection timeout elapsed, or the pool was closed underneath it.
//
// Only one submission may be collecting at a time.
func (p *Pool) Submit(ctx context.Context, reqs []analysis.Request) (<-chan analysis.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.RLock()
	if p.state != StateOpen {
		p.mu.RUnlock()
		return nil, ErrClosed
	}
	if !p.submitting.CompareAndSwap(false, true) {
		p.mu.RUnlock()
		return nil, ErrBusy
	}
	// Registered under the read lock so Close cannot start waiting on
	// feeders between the state check and this Add.
	p.feeders.Add(1)
	p.mu.RUnlock()

	n := len(reqs)
	out := make(chan analysis.Response, n)
	if n == 0 {
		p.feeders.Done()
		p.submitting.Store(false)
		close(out)
		return out, nil
	}

	batch := p.batchSeq.Add(1)
	queue := append([]analysis.Request(nil), reqs...)
	go p.feed(ctx, batch, queue)
	go p.collect(ctx, batch, n, out)
	return out, nil
}

func (p *Pool) feed(ctx context.Context, batch uint64, reqs []analysis.Request) {
	defer p.feeders.Done()
	for i, r := range reqs {
		select {
		case p.requests <- job{batch: batch, req: r}:
		case <-ctx.Done():
			p.log.Warn("pool.feed cancelled", logx.Int("queued", i), logx.Int("total", len(reqs)), logx.Err(ctx.Err()))
			return
		case <-p.quit:
			p.log.Warn("pool.feed stopped: pool closing", logx.Int("queued", i), logx.Int("total", len(reqs)))
			return
		}
	}
}

func (p *Pool) collect(ctx context.Context, batch uint64, n int, out chan<- analysis.Response) {
	defer close(out)
	defer p.submitting.Store(false)

	timeout := p.collectTimeout(n)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	got := 0
	stale := 0
	for got < n {
		select {
		case env, ok := <-p.responses:
			if !ok {
				p.log.Warn("pool.collect stopped: pool closed", logx.Int("collected", got), logx.Int("expected", n))
				return
			}
			if env.batch != batch {
				stale++
				continue
			}
			// out holds n items, so this never blocks.
			out <- env.resp
			got++
		case <-ctx.Done():
			p.log.Warn("pool.collect cancelled", logx.Int("collected", got), logx.Int("expected", n), logx.Err(ctx.Err()))
			return
		case <-timer.C:
			p.log.Warn("pool.collect timed out", logx.Int("collected", got), logx.Int("expected", n), logx.Duration("timeout", timeout))
			return
		}
	}
	if stale > 0 {
		p.log.Debug("pool.collect discarded stale responses", logx.Int("stale", stale))
	}
}

// collectTimeout returns the overall bound for collecting n responses.
// Each worker handles its share sequentially, so the derived default is the
// number of rounds times the per-call worst case plus slack.
func (p *Pool) collectTimeout(n int) time.Duration {
	if p.cfg.CollectTimeout > 0 {
		return p.cfg.CollectTimeout
	}
	rounds := (n + p.cfg.Workers - 1) / p.cfg.Workers
	return time.Duration(rounds)*(p.cfg.CallTimeout+p.cfg.CallDelay) + p.cfg.SendTimeout + collectSlack
}

// Close stops accepting work, lets workers drain the request queue, waits
// for them and closes the response queue. It is idempotent: concurrent and
// repeated callers wait for the first teardown and return nil.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.state != StateOpen {
		done := p.done
		p.mu.Unlock()
		<-done
		return nil
	}
	p.state = StateDraining
	close(p.quit)
	p.mu.Unlock()

	start := time.Now()
	p.feeders.Wait()

	p.mu.Lock()
	if !p.reqClosed {
		close(p.requests)
		p.reqClosed = true
	}
	p.mu.Unlock()

	p.workers.Wait()

	p.mu.Lock()
	if !p.respClosed {
		close(p.responses)
		p.respClosed = true
	}
	p.state = StateClosed
	p.mu.Unlock()
	close(p.done)

	p.log.Debug("pool.closed", logx.Uint64("processed", p.processed.Load()), logx.Uint64("dropped", p.dropped.Load()), logx.Duration("took", time.Since(start)))
	return nil
}

// Stats returns a snapshot without blocking on in-flight work.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		Workers:          p.cfg.Workers,
		State:            p.state,
		Closed:           p.state == StateClosed,
		Submitting:       p.submitting.Load(),
		RequestQueueLen:  len(p.requests),
		RequestQueueCap:  cap(p.requests),
		ResponseQueueLen: len(p.responses),
		ResponseQueueCap: cap(p.responses),
		InFlight:         int(p.inFlight.Load()),
		Processed:        p.processed.Load(),
		Dropped:          p.dropped.Load(),
	}
}
