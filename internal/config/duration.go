package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Durations holds every duration field of Config, parsed. Zero means "use the
// consumer's default" except for AnalysisDelay, where zero disables the delay.
type Durations struct {
	JobTimeout      time.Duration
	SendTimeout     time.Duration
	CollectTimeout  time.Duration
	BusyTimeout     time.Duration
	AnalysisTimeout time.Duration
	AnalysisDelay   time.Duration
}

const defaultAnalysisTimeout = 60 * time.Second

// Durations parses all duration strings and reports every bad field at once.
func (c *Config) Durations() (Durations, error) {
	var (
		d    Durations
		errs []error
	)
	parse := func(dst *time.Duration, path, raw string) {
		v, err := ParseDurationField(path, raw)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	parse(&d.JobTimeout, "scheduler.job_timeout", c.Scheduler.JobTimeout)
	parse(&d.SendTimeout, "pool.send_timeout", c.Pool.SendTimeout)
	parse(&d.CollectTimeout, "pool.collect_timeout", c.Pool.CollectTimeout)
	parse(&d.BusyTimeout, "source.busy_timeout", c.Source.BusyTimeout)
	parse(&d.AnalysisDelay, "analysis.delay", c.Analysis.Delay)

	t, err := ParseDurationOrDefault("analysis.timeout", c.Analysis.Timeout, defaultAnalysisTimeout)
	if err != nil {
		errs = append(errs, err)
	}
	d.AnalysisTimeout = t
	return d, errors.Join(errs...)
}
