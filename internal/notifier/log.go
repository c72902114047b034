package notifier

import (
	"context"

	logx "scanbot/pkg/logx"
)

// Log writes reports to the structured log. It never fails unless ctx is
// already done.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log}
}

func (l *Log) Notify(ctx context.Context, r Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.log.Info("report",
		logx.String("run_id", r.RunID),
		logx.String("source", r.Source),
		logx.Int("candidates", r.Candidates),
		logx.Int("succeeded", r.Succeeded),
		logx.Int("failed", r.Failed),
		logx.Int("entries", len(r.Entries)),
	)
	for _, e := range r.Entries {
		l.log.Info("report.entry",
			logx.Int("rank", e.Rank),
			logx.String("symbol", e.Symbol),
			logx.String("name", e.Name),
			logx.Float64("score", e.Score),
			logx.Float64("confidence", e.Confidence),
			logx.String("signal", e.Signal),
		)
	}
	return nil
}
