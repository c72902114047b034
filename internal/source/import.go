package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "scanbot/pkg/logx"
)

// Import seeds the primary store from the fallback file. Entries without a
// symbol are skipped; existing symbols are updated. It returns the number
// of rows written.
func Import(ctx context.Context, cfg Config, log logx.Logger) (int, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	entries, err := ReadWatchlist(cfg.FallbackPath)
	if err != nil {
		return 0, fmt.Errorf("read fallback: %w", err)
	}
	st, err := InitPrimary(ctx, cfg.DBPath, log)
	if err != nil {
		return 0, err
	}
	defer st.Close()

	now := time.Now()
	n := 0
	for _, e := range entries {
		if strings.TrimSpace(e.Symbol) == "" {
			log.Warn("import: entry without symbol skipped", logx.String("name", e.Name))
			continue
		}
		err := st.Insert(ctx, StockRow{Symbol: e.Symbol, Name: e.Name, Price: e.Price, Sector: e.Sector, UpdatedAt: now})
		if err != nil {
			return n, fmt.Errorf("import %s: %w", e.Symbol, err)
		}
		n++
	}
	log.Info("import done", logx.Int("rows", n), logx.String("from", cfg.FallbackPath), logx.String("to", cfg.DBPath))
	return n, nil
}
