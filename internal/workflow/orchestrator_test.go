package workflow

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"scanbot/internal/analysis"
	"scanbot/internal/eventbus"
	"scanbot/internal/notifier"
	"scanbot/internal/source"
	"scanbot/internal/task/pool"
	logx "scanbot/pkg/logx"
)

type fakeSource struct {
	cands  []source.Candidate
	err    error
	closed bool
}

func (f *fakeSource) Kind() source.Kind { return source.KindFallback }
func (f *fakeSource) Close() error      { f.closed = true; return nil }
func (f *fakeSource) LoadFiltered(ctx context.Context, flt source.Filter) ([]source.Candidate, error) {
	return f.cands, f.err
}

type fakeNotifier struct {
	mu      sync.Mutex
	reports []notifier.Report
	err     error
}

func (f *fakeNotifier) Notify(ctx context.Context, r notifier.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return f.err
}

func opener(src *fakeSource) SourceOpener {
	return func(ctx context.Context, cfg source.Config, log logx.Logger) (source.Source, error) {
		return src, nil
	}
}

// scoreTable answers with fixed scores; symbols missing from the table fail.
func scoreTable(scores map[string]float64, jitter bool) pool.Analyzer {
	return pool.AnalyzerFunc(func(ctx context.Context, req analysis.Request) (*analysis.Result, error) {
		if jitter {
			time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
		}
		s, ok := scores[req.ID]
		if !ok {
			return nil, &analysis.StatusError{Code: 500, Body: "boom"}
		}
		return &analysis.Result{Symbol: req.ID, Score: s, Confidence: s / 100}, nil
	})
}

func cands(syms ...string) []source.Candidate {
	out := make([]source.Candidate, len(syms))
	for i, s := range syms {
		out[i] = source.Candidate{Symbol: s, DisplayName: "Name " + s}
	}
	return out
}

func testConfig() Config {
	return Config{Pool: pool.Config{Workers: 3, CallTimeout: time.Second}, TopN: 3}
}

func TestRunHappyPath(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	src := &fakeSource{cands: cands("AAA", "BBB", "CCC", "DDD", "EEE")}
	n := &fakeNotifier{}
	o, err := New(testConfig(), scoreTable(map[string]float64{"AAA": 40, "BBB": 90, "CCC": 70, "DDD": 85}, false), n,
		WithSourceOpener(opener(src)), WithBus(bus))
	if err != nil {
		t.Fatal(err)
	}

	sum, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !src.closed {
		t.Fatal("source not closed")
	}
	if sum.Candidates != 5 || sum.Requests != 5 || sum.Succeeded != 4 || sum.Failed != 1 || sum.Missing != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.RunID == "" || sum.Source != "fallback" || sum.MeanScore != 71.25 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(n.reports) != 1 {
		t.Fatalf("reports = %d", len(n.reports))
	}
	got := n.reports[0].Entries
	want := []string{"BBB", "DDD", "CCC"}
	if len(got) != len(want) {
		t.Fatalf("entries = %+v", got)
	}
	for i, e := range got {
		if e.Symbol != want[i] || e.Rank != i+1 || e.Name != "Name "+want[i] {
			t.Fatalf("entry %d = %+v, want %s", i, e, want[i])
		}
	}

	if ev := <-events; ev.Type != eventbus.TypeRunStarted {
		t.Fatalf("first event = %s", ev.Type)
	}
	if ev := <-events; ev.Type != eventbus.TypeRunFinished {
		t.Fatalf("second event = %s", ev.Type)
	}
}

func TestRunFatalConditions(t *testing.T) {
	t.Parallel()
	noNotify := errors.New("telegram down")
	tests := []struct {
		name      string
		open      SourceOpener
		scores    map[string]float64
		notifyErr error
		want      error
		notified  bool
	}{
		{
			name: "no source",
			open: func(context.Context, source.Config, logx.Logger) (source.Source, error) {
				return nil, source.ErrNoSource
			},
			want: source.ErrNoSource,
		},
		{
			name: "no candidates",
			open: opener(&fakeSource{}),
			want: ErrNoCandidates,
		},
		{
			name: "invalid candidate",
			open: opener(&fakeSource{cands: []source.Candidate{{Symbol: "X"}}}),
			want: source.ErrValidation,
		},
		{
			name: "load error",
			open: opener(&fakeSource{err: source.ErrValidation}),
			want: source.ErrValidation,
		},
		{
			name:   "every call fails",
			open:   opener(&fakeSource{cands: cands("A", "B", "C")}),
			scores: map[string]float64{},
			want:   ErrNoSuccesses,
		},
		{
			name:      "notifier fails",
			open:      opener(&fakeSource{cands: cands("A")}),
			scores:    map[string]float64{"A": 1},
			notifyErr: noNotify,
			want:      noNotify,
			notified:  true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n := &fakeNotifier{err: tt.notifyErr}
			o, err := New(testConfig(), scoreTable(tt.scores, false), n, WithSourceOpener(tt.open))
			if err != nil {
				t.Fatal(err)
			}
			sum, err := o.Run(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if sum.Error == "" {
				t.Fatal("summary error not recorded")
			}
			if got := len(n.reports) > 0; got != tt.notified {
				t.Fatalf("notified = %v, want %v", got, tt.notified)
			}
		})
	}
}

func TestRankTieBreakIsDeterministic(t *testing.T) {
	t.Parallel()
	// Equal scores everywhere; arrival order varies with jitter.
	syms := []string{"KKK", "BBB", "ZZZ", "AAA", "MMM", "CCC"}
	scores := map[string]float64{}
	for _, s := range syms {
		scores[s] = 50
	}
	scores["ZZZ"] = 60

	var first []string
	for run := 0; run < 5; run++ {
		n := &fakeNotifier{}
		cfg := testConfig()
		cfg.TopN = 10
		o, err := New(cfg, scoreTable(scores, true), n, WithSourceOpener(opener(&fakeSource{cands: cands(syms...)})))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := o.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		var order []string
		for _, e := range n.reports[0].Entries {
			order = append(order, e.Symbol)
		}
		if run == 0 {
			first = order
			if got := strings.Join(order, ","); got != "ZZZ,AAA,BBB,CCC,KKK,MMM" {
				t.Fatalf("order = %s", got)
			}
			continue
		}
		if strings.Join(order, ",") != strings.Join(first, ",") {
			t.Fatalf("run %d order %v differs from %v", run, order, first)
		}
	}
}

func TestRankSameSymbolFallsBackToInputOrder(t *testing.T) {
	t.Parallel()
	mk := func(seq int, id string, score float64) analysis.Response {
		return analysis.Response{Request: analysis.Request{Seq: seq, ID: id}, Result: &analysis.Result{Score: score}}
	}
	got := Rank([]analysis.Response{mk(2, "A", 1), mk(0, "A", 1), mk(1, "B", 2)})
	if got[0].Request.ID != "B" || got[1].Request.Seq != 0 || got[2].Request.Seq != 2 {
		t.Fatalf("rank = %+v", got)
	}
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	an := pool.AnalyzerFunc(func(c context.Context, req analysis.Request) (*analysis.Result, error) {
		if req.ID == "A" {
			cancel()
		} else {
			time.Sleep(50 * time.Millisecond)
		}
		return &analysis.Result{Score: 1}, nil
	})
	n := &fakeNotifier{}
	cfg := testConfig()
	cfg.Pool.Workers = 1
	o, err := New(cfg, an, n, WithSourceOpener(opener(&fakeSource{cands: cands("A", "B", "C", "D")})))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(n.reports) != 0 {
		t.Fatal("cancelled run must not notify")
	}
}

func TestDrainIgnoresCancelAfterFullCollection(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	full := func() chan analysis.Response {
		ch := make(chan analysis.Response, 2)
		ch <- analysis.Response{Request: analysis.Request{ID: "A"}}
		ch <- analysis.Response{Request: analysis.Request{ID: "B", Seq: 1}}
		close(ch)
		return ch
	}

	resps, err := drain(ctx, full(), 2)
	if err != nil || len(resps) != 2 {
		t.Fatalf("complete collection: %d responses, err = %v", len(resps), err)
	}
	resps, err = drain(ctx, full(), 3)
	if !errors.Is(err, context.Canceled) || len(resps) != 2 {
		t.Fatalf("short collection: %d responses, err = %v", len(resps), err)
	}
	if _, err := drain(context.Background(), full(), 3); err != nil {
		t.Fatalf("short collection without cancel: %v", err)
	}
}

func TestRunWithFallbackFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "watchlist.yaml")
	body := "stocks:\n  - {symbol: A, name: Alpha, price: 10}\n  - {symbol: B, name: Beta, price: 200}\n  - {symbol: C, name: Gamma}\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.Source = source.Config{DBPath: filepath.Join(dir, "missing.db"), FallbackPath: path, UseFallback: true}
	cfg.Filter = source.Filter{Enabled: true, Min: 100, Max: 1000}

	n := &fakeNotifier{}
	o, err := New(cfg, scoreTable(map[string]float64{"A": 1, "B": 2, "C": 3}, false), n, WithLogger(logx.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	sum, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Source != "fallback" || sum.Candidates != 1 || n.reports[0].Entries[0].Symbol != "B" {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestApplyAndRebindAffectNextRun(t *testing.T) {
	t.Parallel()
	first, second := &fakeNotifier{}, &fakeNotifier{}
	src := &fakeSource{cands: cands("A", "B", "C")}
	o, err := New(testConfig(), scoreTable(map[string]float64{"A": 1, "B": 2, "C": 3}, false), first, WithSourceOpener(opener(src)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.TopN = 1
	o.Apply(cfg)
	o.Rebind(scoreTable(map[string]float64{"A": 9, "B": 2, "C": 3}, false), second)
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(first.reports) != 1 || len(second.reports) != 1 {
		t.Fatalf("reports first=%d second=%d", len(first.reports), len(second.reports))
	}
	if got := second.reports[0].Entries; len(got) != 1 || got[0].Symbol != "A" {
		t.Fatalf("entries = %+v", got)
	}
}
