package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"scanbot/internal/task/scheduler"
	logx "scanbot/pkg/logx"
)

// Validate checks cfg and returns every problem joined and wrapped with
// ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Mode {
	case ModeOnce, ModeCron:
	default:
		add("mode: must be %q or %q, got %q", ModeOnce, ModeCron, c.Mode)
	}
	if _, err := scheduler.ParseSpec(c.Scheduler.Schedule); err != nil {
		add("scheduler.schedule: %v", err)
	}
	if c.Pool.Workers < 1 {
		add("pool.workers: must be >= 1, got %d", c.Pool.Workers)
	}
	if c.TopN < 1 {
		add("top_n: must be >= 1, got %d", c.TopN)
	}
	if c.Filter.Enabled {
		if c.Filter.Min < 0 || c.Filter.Max < 0 {
			add("price_filter: bounds must be >= 0")
		}
		if c.Filter.Min > c.Filter.Max {
			add("price_filter: min %.2f > max %.2f", c.Filter.Min, c.Filter.Max)
		}
	}
	if strings.TrimSpace(c.Source.DBPath) == "" && strings.TrimSpace(c.Source.FallbackFile) == "" {
		add("source: db_path or fallback_file is required")
	}

	base := strings.TrimSpace(c.Analysis.BaseURL)
	if base == "" {
		add("analysis.base_url: required")
	} else if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		add("analysis.base_url: not an absolute URL: %q", base)
	}
	if c.Analysis.RatePerSec < 0 {
		add("analysis.rate_per_sec: must be >= 0")
	}

	switch c.Notifier {
	case NotifierTelegram:
		if strings.TrimSpace(c.Telegram.Token) == "" {
			add("telegram.token: required when notifier is %q", NotifierTelegram)
		}
		if c.Telegram.ChatID == 0 {
			add("telegram.chat_id: required when notifier is %q", NotifierTelegram)
		}
	case NotifierLog:
	default:
		add("notifier: must be %q or %q, got %q", NotifierTelegram, NotifierLog, c.Notifier)
	}

	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add("logging.level: unknown level %q", lvl)
	}

	if _, err := c.Durations(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
