package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none)
// into the process environment. Variables already set win. Missing files are
// not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. Malformed numbers and
// booleans are reported together.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	e := envReader{lookup: lookup}

	e.str("EXECUTION_MODE", &cfg.Mode)
	e.str("CRON_SCHEDULE", &cfg.Scheduler.Schedule)
	e.str("TIMEZONE", &cfg.Scheduler.Timezone)
	e.str("JOB_TIMEOUT", &cfg.Scheduler.JobTimeout)
	e.integer("MAX_WORKERS", &cfg.Pool.Workers)
	e.integer("TOP_N", &cfg.TopN)

	e.str("DB_PATH", &cfg.Source.DBPath)
	e.str("FALLBACK_FILE", &cfg.Source.FallbackFile)
	e.boolean("USE_FALLBACK", &cfg.Source.UseFallback)

	e.boolean("PRICE_FILTER_ENABLED", &cfg.Filter.Enabled)
	e.number("MIN_PRICE", &cfg.Filter.Min)
	e.number("MAX_PRICE", &cfg.Filter.Max)

	e.str("ANALYSIS_API_URL", &cfg.Analysis.BaseURL)
	e.str("ANALYSIS_API_KEY", &cfg.Analysis.APIKey)
	e.str("ANALYSIS_TIMEOUT", &cfg.Analysis.Timeout)
	e.str("ANALYSIS_DELAY", &cfg.Analysis.Delay)
	e.number("ANALYSIS_RATE_PER_SEC", &cfg.Analysis.RatePerSec)

	e.str("NOTIFIER", &cfg.Notifier)
	e.str("TELEGRAM_BOT_TOKEN", &cfg.Telegram.Token)
	e.integer64("TELEGRAM_CHAT_ID", &cfg.Telegram.ChatID)
	e.integer("TELEGRAM_THREAD_ID", &cfg.Telegram.ThreadID)

	e.str("LOG_LEVEL", &cfg.Logging.Level)
	e.str("LOG_FILE", &cfg.Logging.File)
	e.str("HTTP_ADDR", &cfg.HTTP.Addr)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: not an integer: %q", key, v))
		return
	}
	*dst = n
}

func (e *envReader) integer64(key string, dst *int64) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: not an integer: %q", key, v))
		return
	}
	*dst = n
}

func (e *envReader) number(key string, dst *float64) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: not a number: %q", key, v))
		return
	}
	*dst = f
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: not a boolean: %q", key, v))
		return
	}
	*dst = b
}
