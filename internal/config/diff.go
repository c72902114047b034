package config

import (
	"sort"
	"strings"

	logx "scanbot/pkg/logx"
)

// SummarizeChange returns (1) the sorted list of changed sections, (2) safe
// attrs for logging (never the bot token or API key, only whether they are
// set), and (3) the changed sections that only take effect after a restart.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)
	restart := make([]string, 0, 2)

	if oldCfg.Mode != newCfg.Mode {
		changed = append(changed, "mode")
		restart = append(restart, "mode")
		attrs = append(attrs, logx.String("mode", newCfg.Mode))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.schedule", strings.TrimSpace(newCfg.Scheduler.Schedule)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.job_timeout", strings.TrimSpace(newCfg.Scheduler.JobTimeout)),
		)
	}

	if oldCfg.Pool != newCfg.Pool || oldCfg.TopN != newCfg.TopN {
		changed = append(changed, "pool")
		attrs = append(attrs,
			logx.Int("pool.workers", newCfg.Pool.Workers),
			logx.Int("top_n", newCfg.TopN),
		)
	}

	if oldCfg.Source != newCfg.Source {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.db_path", newCfg.Source.DBPath),
			logx.String("source.fallback_file", newCfg.Source.FallbackFile),
			logx.Bool("source.use_fallback", newCfg.Source.UseFallback),
		)
	}

	if oldCfg.Filter != newCfg.Filter {
		changed = append(changed, "price_filter")
		attrs = append(attrs,
			logx.Bool("price_filter.enabled", newCfg.Filter.Enabled),
			logx.Float64("price_filter.min", newCfg.Filter.Min),
			logx.Float64("price_filter.max", newCfg.Filter.Max),
		)
	}

	if oldCfg.Analysis != newCfg.Analysis {
		changed = append(changed, "analysis")
		attrs = append(attrs,
			logx.String("analysis.base_url", newCfg.Analysis.BaseURL),
			logx.Bool("analysis.api_key_set", strings.TrimSpace(newCfg.Analysis.APIKey) != ""),
			logx.String("analysis.timeout", newCfg.Analysis.Timeout),
			logx.String("analysis.delay", newCfg.Analysis.Delay),
			logx.Float64("analysis.rate_per_sec", newCfg.Analysis.RatePerSec),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier || oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.String("notifier", newCfg.Notifier),
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int64("telegram.chat_id", newCfg.Telegram.ChatID),
			logx.Int("telegram.thread_id", newCfg.Telegram.ThreadID),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", strings.TrimSpace(newCfg.Logging.File) != ""),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		restart = append(restart, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr))
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}

// LogConfig maps the logging section onto logx.
func (c *Config) LogConfig() logx.Config {
	path := strings.TrimSpace(c.Logging.File)
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: path != "", Path: path},
	}
}
