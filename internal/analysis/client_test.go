package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "scanbot/pkg/logx"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(ClientConfig{BaseURL: srv.URL + "/", APIKey: "k"}, logx.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestAnalyzeSuccess(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != analyzePath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("Authorization = %q", got)
		}
		var body analyzeBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"score": 72.5, "confidence": 0.8, "signal": "buy", "symbol": body.Symbol})
	})

	res, err := c.Analyze(context.Background(), Request{ID: "2330", DisplayName: "TSMC"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Symbol != "2330" || res.Score != 72.5 || res.Confidence != 0.8 || res.Signal != "buy" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(error) bool
	}{
		{
			name: "bad status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
			},
			check: func(err error) bool {
				var se *StatusError
				return errors.As(err, &se) && se.Code == http.StatusServiceUnavailable
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("{not json"))
			},
			check: func(err error) bool { return errors.Is(err, ErrMalformed) },
		},
		{
			name: "missing score",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"confidence":0.5}`))
			},
			check: func(err error) bool { return errors.Is(err, ErrNoScore) },
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, tt.handler)
			_, err := c.Analyze(context.Background(), Request{ID: "AAPL", DisplayName: "Apple"})
			if err == nil || !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestAnalyzeTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Analyze(ctx, Request{ID: "SLOW"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := NewClient(ClientConfig{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty base url")
	}
}

type item struct{ id, name string }

func (i item) Identifier() string { return i.id }
func (i item) Name() string       { return i.name }

func TestBuildRequestsPreservesOrder(t *testing.T) {
	t.Parallel()
	reqs := BuildRequests([]item{{"B", "Bee"}, {" A ", "Ay"}, {"C", "Sea"}})
	want := []Request{{0, "B", "Bee"}, {1, "A", "Ay"}, {2, "C", "Sea"}}
	if len(reqs) != len(want) {
		t.Fatalf("len = %d", len(reqs))
	}
	for i := range want {
		if reqs[i] != want[i] {
			t.Fatalf("reqs[%d] = %+v, want %+v", i, reqs[i], want[i])
		}
	}
	if got := BuildRequests([]item(nil)); len(got) != 0 {
		t.Fatalf("nil input gave %d requests", len(got))
	}
}
