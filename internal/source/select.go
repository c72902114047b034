package source

import (
	"context"
	"os"
	"strings"
	"time"

	logx "scanbot/pkg/logx"
)

const probeTimeout = 5 * time.Second

// DetermineSource prefers the primary store: its path must be set, exist,
// and answer a trial query. Otherwise the fallback file is chosen when
// enabled and present. KindNone means neither is usable.
func DetermineSource(ctx context.Context, cfg Config, log logx.Logger) Kind {
	if log.IsZero() {
		log = logx.Nop()
	}
	ok, reason := primaryUsable(ctx, cfg)
	if ok {
		return KindPrimary
	}
	log.Debug("primary store unavailable", logx.String("path", cfg.DBPath), logx.String("reason", reason))

	if !cfg.UseFallback {
		return KindNone
	}
	if fileExists(cfg.FallbackPath) {
		return KindFallback
	}
	log.Debug("fallback file unavailable", logx.String("path", cfg.FallbackPath))
	return KindNone
}

func primaryUsable(ctx context.Context, cfg Config) (bool, string) {
	path := strings.TrimSpace(cfg.DBPath)
	if path == "" {
		return false, "path not set"
	}
	if !fileExists(path) {
		return false, "file not found"
	}
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := probePrimary(pctx, path, cfg.BusyTimeout); err != nil {
		return false, err.Error()
	}
	return true, ""
}

func fileExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

// Open resolves the provider and opens it. The caller owns the returned
// Source and must close it.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Source, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	kind := DetermineSource(ctx, cfg, log)
	switch kind {
	case KindPrimary:
		st, err := OpenPrimary(ctx, cfg.DBPath, cfg.BusyTimeout, log.With(logx.String("source", "primary")))
		if err != nil {
			return nil, err
		}
		log.Info("source selected", logx.String("kind", kind.String()), logx.String("path", cfg.DBPath))
		return st, nil
	case KindFallback:
		log.Info("source selected", logx.String("kind", kind.String()), logx.String("path", cfg.FallbackPath))
		return openFile(cfg.FallbackPath, log.With(logx.String("source", "fallback"))), nil
	default:
		return nil, ErrNoSource
	}
}
