package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"scanbot/internal/analysis"
	"scanbot/internal/eventbus"
	"scanbot/internal/notifier"
	"scanbot/internal/source"
	"scanbot/internal/task/pool"
	logx "scanbot/pkg/logx"
)

var (
	ErrNoCandidates = errors.New("no candidates after filtering")
	ErrNoSuccesses  = errors.New("no successful analyses")
)

// Config holds the per-run settings. Apply swaps it between runs.
type Config struct {
	Source source.Config
	Filter source.Filter
	Pool   pool.Config
	TopN   int
}

// SourceOpener resolves and opens the candidate source for one run.
type SourceOpener func(ctx context.Context, cfg source.Config, log logx.Logger) (source.Source, error)

type Option func(*Orchestrator)

func WithLogger(log logx.Logger) Option { return func(o *Orchestrator) { o.log = log } }
func WithBus(bus eventbus.Bus) Option   { return func(o *Orchestrator) { o.bus = bus } }

// WithSourceOpener replaces source.Open.
func WithSourceOpener(fn SourceOpener) Option { return func(o *Orchestrator) { o.open = fn } }

// Summary describes one finished (or failed) run.
type Summary struct {
	RunID      string           `json:"run_id"`
	Source     string           `json:"source,omitempty"`
	Started    time.Time        `json:"started"`
	Took       time.Duration    `json:"took"`
	Candidates int              `json:"candidates"`
	Requests   int              `json:"requests"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Missing    int              `json:"missing"`
	MeanScore  float64          `json:"mean_score"`
	StdDev     float64          `json:"stddev_score"`
	Top        []notifier.Entry `json:"top,omitempty"`
	Error      string           `json:"error,omitempty"`
}

type Orchestrator struct {
	// mu guards cfg, analyzer and notifier.
	mu       sync.RWMutex
	cfg      Config
	analyzer pool.Analyzer
	notifier notifier.Notifier

	open     SourceOpener
	log      logx.Logger
	bus      eventbus.Bus
}

func New(cfg Config, analyzer pool.Analyzer, n notifier.Notifier, opts ...Option) (*Orchestrator, error) {
	if analyzer == nil {
		return nil, errors.New("workflow: analyzer is required")
	}
	if n == nil {
		return nil, errors.New("workflow: notifier is required")
	}
	o := &Orchestrator{cfg: cfg, analyzer: analyzer, notifier: n, open: source.Open}
	for _, opt := range opts {
		opt(o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	return o, nil
}

// Apply takes effect on the next run.
func (o *Orchestrator) Apply(cfg Config) {
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
}

// Rebind swaps the analyzer and notifier for subsequent runs. Nil arguments
// keep the current value.
func (o *Orchestrator) Rebind(analyzer pool.Analyzer, n notifier.Notifier) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if analyzer != nil {
		o.analyzer = analyzer
	}
	if n != nil {
		o.notifier = n
	}
}

type runDeps struct {
	cfg      Config
	analyzer pool.Analyzer
	notifier notifier.Notifier
}

func (o *Orchestrator) deps() runDeps {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return runDeps{cfg: o.cfg, analyzer: o.analyzer, notifier: o.notifier}
}

// Run executes one scan. Per-item analysis failures are counted, not
// returned; the run fails on no source, no candidates, zero successes, a
// notifier error or ctx cancellation.
func (o *Orchestrator) Run(ctx context.Context) (sum Summary, err error) {
	d := o.deps()
	cfg := d.cfg
	sum = Summary{RunID: uuid.NewString(), Started: time.Now()}
	log := o.log.With(logx.String("run_id", sum.RunID))

	o.publish(eventbus.TypeRunStarted, sum)
	defer func() {
		sum.Took = time.Since(sum.Started)
		if err != nil {
			sum.Error = err.Error()
			log.Error("run failed", logx.Duration("took", sum.Took), logx.Err(err))
			o.publish(eventbus.TypeRunFailed, sum)
		} else {
			log.Info("run finished", logx.Duration("took", sum.Took))
			o.publish(eventbus.TypeRunFinished, sum)
		}
	}()

	// 1. candidates
	cands, kind, err := o.loadCandidates(ctx, cfg, log)
	sum.Source = kind
	if err != nil {
		return sum, err
	}
	sum.Candidates = len(cands)
	log.Info("candidates loaded", logx.Int("count", len(cands)), logx.String("source", kind), logx.String("filter", cfg.Filter.String()))

	// 2. requests
	reqs := analysis.BuildRequests(cands)
	sum.Requests = len(reqs)
	log.Info("requests built", logx.Int("count", len(reqs)))

	// 3. fan out
	resps, err := analyze(ctx, d.analyzer, cfg.Pool, reqs, log)
	if err != nil {
		return sum, err
	}

	// 4. partition
	succ, fail := Partition(resps)
	sum.Succeeded, sum.Failed = len(succ), len(fail)
	sum.Missing = len(reqs) - len(resps)
	sum.MeanScore, sum.StdDev = scoreStats(succ)
	log.Info("analysis complete",
		logx.Int("succeeded", len(succ)),
		logx.Int("failed", len(fail)),
		logx.Int("missing", sum.Missing),
		logx.Float64("mean_score", sum.MeanScore),
		logx.Float64("stddev_score", sum.StdDev),
	)
	logFailures(log, fail)
	if len(succ) == 0 {
		return sum, ErrNoSuccesses
	}

	// 5. rank
	ranked := Rank(succ)
	topN := cfg.TopN
	if topN <= 0 || topN > len(ranked) {
		topN = len(ranked)
	}
	sum.Top = toEntries(ranked[:topN])
	for _, e := range sum.Top[:min(3, len(sum.Top))] {
		log.Info("top result", logx.Int("rank", e.Rank), logx.String("symbol", e.Symbol), logx.Float64("score", e.Score), logx.Float64("confidence", e.Confidence))
	}

	// 6. notify
	rep := notifier.Report{
		RunID:      sum.RunID,
		Source:     sum.Source,
		At:         sum.Started,
		Candidates: sum.Candidates,
		Succeeded:  sum.Succeeded,
		Failed:     sum.Failed + sum.Missing,
		Took:       time.Since(sum.Started),
		Entries:    sum.Top,
	}
	if err := d.notifier.Notify(ctx, rep); err != nil {
		return sum, fmt.Errorf("notify: %w", err)
	}
	return sum, nil
}

func (o *Orchestrator) loadCandidates(ctx context.Context, cfg Config, log logx.Logger) ([]source.Candidate, string, error) {
	src, err := o.open(ctx, cfg.Source, log.With(logx.String("comp", "source")))
	if err != nil {
		return nil, source.KindNone.String(), err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			log.Warn("source close failed", logx.Err(cerr))
		}
	}()
	kind := src.Kind().String()

	cands, err := src.LoadFiltered(ctx, cfg.Filter)
	if err != nil {
		return nil, kind, fmt.Errorf("load %s source: %w", kind, err)
	}
	if err := source.Validate(cands); err != nil {
		return nil, kind, err
	}
	if len(cands) == 0 {
		return nil, kind, ErrNoCandidates
	}
	return cands, kind, nil
}

// analyze runs reqs through a pool that lives only for this call.
func analyze(ctx context.Context, an pool.Analyzer, pcfg pool.Config, reqs []analysis.Request, log logx.Logger) ([]analysis.Response, error) {
	p, err := pool.New(pcfg, an, log.With(logx.String("comp", "pool")))
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			log.Warn("pool close failed", logx.Err(cerr))
		}
	}()

	ch, err := p.Submit(ctx, reqs)
	if err != nil {
		return nil, err
	}
	resps, err := drain(ctx, ch, len(reqs))
	if err != nil {
		return resps, err
	}
	if len(resps) < len(reqs) {
		st := p.Stats()
		log.Warn("partial collection", logx.Int("collected", len(resps)), logx.Int("expected", len(reqs)), logx.Uint64("dropped", st.Dropped))
	}
	return resps, nil
}

// drain reads ch until it closes. A cancelled ctx fails the run only when it
// cut the collection short.
func drain(ctx context.Context, ch <-chan analysis.Response, want int) ([]analysis.Response, error) {
	resps := make([]analysis.Response, 0, want)
	for r := range ch {
		resps = append(resps, r)
	}
	if len(resps) < want {
		if err := ctx.Err(); err != nil {
			return resps, fmt.Errorf("run cancelled after %d/%d responses: %w", len(resps), want, err)
		}
	}
	return resps, nil
}

func toEntries(ranked []analysis.Response) []notifier.Entry {
	out := make([]notifier.Entry, len(ranked))
	for i, r := range ranked {
		out[i] = notifier.Entry{
			Rank:       i + 1,
			Symbol:     r.Request.ID,
			Name:       r.Request.DisplayName,
			Score:      r.Result.Score,
			Confidence: r.Result.Confidence,
			Signal:     r.Result.Signal,
		}
	}
	return out
}

// logFailures logs up to five failures individually and the rest as a count.
func logFailures(log logx.Logger, fail []analysis.Response) {
	const maxLogged = 5
	for i, r := range fail {
		if i == maxLogged {
			log.Warn("more analysis failures", logx.Int("count", len(fail)-maxLogged))
			return
		}
		log.Warn("analysis failed", logx.String("symbol", r.Request.ID), logx.Err(r.Err))
	}
}

func (o *Orchestrator) publish(typ string, sum Summary) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{Type: typ, Data: sum})
}
