package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "scanbot/pkg/logx"
)

const (
	analyzePath     = "/api/v1/analyze"
	maxErrorBody    = 512
	maxResponseBody = 1 << 20
)

// ClientConfig configures the remote analysis client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	// RatePerSec caps outgoing requests across all callers. 0 disables the limiter.
	RatePerSec float64
	// HTTPTimeout bounds a single HTTP exchange; callers normally pass a
	// context deadline that is shorter.
	HTTPTimeout time.Duration
}

// Client calls the remote analysis service. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

type analyzeBody struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

type analyzeReply struct {
	Symbol     string   `json:"symbol"`
	Score      *float64 `json:"score"`
	Confidence float64  `json:"confidence"`
	Signal     string   `json:"signal"`
	Summary    string   `json:"summary"`
}

func NewClient(cfg ClientConfig, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("analysis: base url is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	c := &Client{
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return c, nil
}

// Analyze requests an analysis for one candidate.
func (c *Client) Analyze(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.ID) == "" {
		return nil, errors.New("analysis: request id is required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("analysis: rate limit wait: %w", err)
		}
	}

	payload, err := json.Marshal(analyzeBody{Symbol: req.ID, Name: req.DisplayName})
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+analyzePath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		hreq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("analysis: %s: %w", req.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var reply analyzeReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if reply.Score == nil {
		return nil, ErrNoScore
	}

	res := &Result{
		Symbol:     reply.Symbol,
		Score:      *reply.Score,
		Confidence: reply.Confidence,
		Signal:     reply.Signal,
		Summary:    reply.Summary,
	}
	if res.Symbol == "" {
		res.Symbol = req.ID
	}
	c.log.Debug("analysis done", logx.String("symbol", req.ID), logx.Float64("score", res.Score), logx.Duration("took", time.Since(start)))
	return res, nil
}
