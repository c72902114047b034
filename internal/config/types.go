package config

import "errors"

// ErrInvalid marks configuration errors. They are fatal at startup and cause a
// hot reload to be rejected.
var ErrInvalid = errors.New("invalid config")

const (
	ModeOnce = "once"
	ModeCron = "cron"

	NotifierTelegram = "telegram"
	NotifierLog      = "log"
)

// Config is the full process configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m"). Empty
// duration fields fall back to their defaults when resolved.
type Config struct {
	Mode      string          `json:"mode"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Pool      PoolConfig      `json:"pool"`
	TopN      int             `json:"top_n"`
	Source    SourceConfig    `json:"source"`
	Filter    FilterConfig    `json:"price_filter"`
	Analysis  AnalysisConfig  `json:"analysis"`
	Notifier  string          `json:"notifier"`
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
}

type SchedulerConfig struct {
	// Schedule is a 5-field expression: minute hour day month weekday.
	Schedule string `json:"schedule"`
	// Timezone is an IANA name; empty or "Local" uses the host zone.
	Timezone   string `json:"timezone"`
	JobTimeout string `json:"job_timeout,omitempty"`
}

// PoolConfig controls the per-run worker pool.
//
// Defaults (when fields are omitted/zero):
//   - workers: 5
//   - send_timeout: "5s"
//   - collect_timeout: derived from batch size and call limits
type PoolConfig struct {
	Workers        int    `json:"workers"`
	SendTimeout    string `json:"send_timeout,omitempty"`
	CollectTimeout string `json:"collect_timeout,omitempty"`
}

type SourceConfig struct {
	DBPath       string `json:"db_path"`
	FallbackFile string `json:"fallback_file"`
	UseFallback  bool   `json:"use_fallback"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
}

type FilterConfig struct {
	Enabled bool    `json:"enabled"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

type AnalysisConfig struct {
	BaseURL    string  `json:"base_url"`
	APIKey     string  `json:"api_key,omitempty"`
	Timeout    string  `json:"timeout"`
	Delay      string  `json:"delay"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type TelegramConfig struct {
	Token          string `json:"token,omitempty"`
	ChatID         int64  `json:"chat_id"`
	ThreadID       int    `json:"thread_id,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
	APIURL         string `json:"api_url,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	File    string `json:"file,omitempty"`
}

// HTTPConfig enables the status server when Addr is set.
type HTTPConfig struct {
	Addr string `json:"addr,omitempty"`
}

// Default returns the configuration used before any file or env overlay.
func Default() *Config {
	return &Config{
		Mode: ModeOnce,
		Scheduler: SchedulerConfig{
			Schedule: "0 9 * * 1-5",
			Timezone: "Local",
		},
		Pool: PoolConfig{Workers: 5},
		TopN: 10,
		Source: SourceConfig{
			DBPath:       "./data/stocks.db",
			FallbackFile: "./data/watchlist.yaml",
			UseFallback:  true,
		},
		Analysis: AnalysisConfig{
			BaseURL: "http://localhost:8000",
			Timeout: "60s",
			Delay:   "100ms",
		},
		Notifier: NotifierTelegram,
		Logging:  LoggingConfig{Level: "info", Console: true},
	}
}
