package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"scanbot/internal/analysis"
	"scanbot/internal/config"
	"scanbot/internal/eventbus"
	"scanbot/internal/notifier"
	"scanbot/internal/runtime/supervisor"
	"scanbot/internal/server"
	"scanbot/internal/source"
	"scanbot/internal/task/pool"
	"scanbot/internal/task/scheduler"
	"scanbot/internal/transport/telegram"
	"scanbot/internal/workflow"
	logx "scanbot/pkg/logx"
)

// ScanJob is the scheduler job name of the scan workflow.
const ScanJob = "scan"

// Options configure New. Only ConfigPath and Mode are set by the binary; the
// rest exist so tests can replace collaborators.
type Options struct {
	ConfigPath string
	// Mode overrides EXECUTION_MODE and the config file when non-empty.
	Mode   string
	Lookup config.LookupFunc

	Logger   logx.Logger
	Analyzer pool.Analyzer
	Notifier notifier.Notifier
	// SdNotify reports service state; nil uses daemon.SdNotify.
	SdNotify func(state string) error
}

type App struct {
	opts Options

	cfgm *config.Manager
	mu   sync.Mutex
	cfg  *config.Config

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	orch  *workflow.Orchestrator
	sched *scheduler.Service

	// prepMu guards prep, the collaborators built while validating the
	// config that the next applyConfig call is expected to receive.
	prepMu sync.Mutex
	prep   prepared
}

// prepared holds what a reloaded config needs before it can go live. A nil
// analyzer or notifier means the current one stays.
type prepared struct {
	cfg      *config.Config
	d        config.Durations
	analyzer pool.Analyzer
	notifier notifier.Notifier
}

func New(opts Options) (*App, error) {
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if mode := strings.TrimSpace(opts.Mode); mode != "" {
		base := lookup
		lookup = func(k string) (string, bool) {
			if k == "EXECUTION_MODE" {
				return mode, true
			}
			return base(k)
		}
	}

	cfgm := config.NewManager(opts.ConfigPath, config.WithLookup(lookup))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{opts: opts, cfgm: cfgm, cfg: cfg, bus: eventbus.New()}
	if opts.Logger.IsZero() {
		a.logs, a.log = logx.New(cfg.LogConfig())
	} else {
		a.log = opts.Logger
	}
	cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	d, err := cfg.Durations()
	if err != nil {
		return nil, err
	}
	an, err := a.buildAnalyzer(cfg, d)
	if err != nil {
		return nil, err
	}
	n, err := a.buildNotifier(cfg)
	if err != nil {
		return nil, err
	}

	a.orch, err = workflow.New(workflowConfig(cfg, d), an, n,
		workflow.WithLogger(a.log.With(logx.String("comp", "workflow"))),
		workflow.WithBus(a.bus),
	)
	if err != nil {
		return nil, err
	}
	a.sched = scheduler.New(schedulerConfig(cfg, d), a.log.With(logx.String("comp", "scheduler")), a.bus)
	return a, nil
}

func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *App) Logger() logx.Logger { return a.log }

// Close releases the log file sink, if any.
func (a *App) Close() error {
	if a.logs == nil {
		return nil
	}
	return a.logs.Close()
}

func workflowConfig(cfg *config.Config, d config.Durations) workflow.Config {
	return workflow.Config{
		Source: sourceConfig(cfg, d),
		Filter: source.Filter{Enabled: cfg.Filter.Enabled, Min: cfg.Filter.Min, Max: cfg.Filter.Max},
		Pool: pool.Config{
			Workers:        cfg.Pool.Workers,
			CallTimeout:    d.AnalysisTimeout,
			CallDelay:      d.AnalysisDelay,
			SendTimeout:    d.SendTimeout,
			CollectTimeout: d.CollectTimeout,
		},
		TopN: cfg.TopN,
	}
}

func sourceConfig(cfg *config.Config, d config.Durations) source.Config {
	return source.Config{
		DBPath:       cfg.Source.DBPath,
		FallbackPath: cfg.Source.FallbackFile,
		UseFallback:  cfg.Source.UseFallback,
		BusyTimeout:  d.BusyTimeout,
	}
}

func schedulerConfig(cfg *config.Config, d config.Durations) scheduler.Config {
	return scheduler.Config{Timezone: cfg.Scheduler.Timezone, JobTimeout: d.JobTimeout}
}

func (a *App) buildAnalyzer(cfg *config.Config, d config.Durations) (pool.Analyzer, error) {
	if a.opts.Analyzer != nil {
		return a.opts.Analyzer, nil
	}
	return analysis.NewClient(analysis.ClientConfig{
		BaseURL:     cfg.Analysis.BaseURL,
		APIKey:      cfg.Analysis.APIKey,
		RatePerSec:  cfg.Analysis.RatePerSec,
		HTTPTimeout: d.AnalysisTimeout,
	}, a.log.With(logx.String("comp", "analysis")))
}

func (a *App) buildNotifier(cfg *config.Config) (notifier.Notifier, error) {
	if a.opts.Notifier != nil {
		return a.opts.Notifier, nil
	}
	log := a.log.With(logx.String("comp", "notifier"))
	switch cfg.Notifier {
	case config.NotifierLog:
		return notifier.NewLog(log), nil
	case config.NotifierTelegram:
		sender, err := telegram.New(telegram.Config{
			Token:  cfg.Telegram.Token,
			APIURL: cfg.Telegram.APIURL,
		}, a.log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", notifier.ErrNotConfigured, err)
		}
		return notifier.NewTelegram(sender, notifier.TelegramConfig{
			ChatID:         cfg.Telegram.ChatID,
			ThreadID:       cfg.Telegram.ThreadID,
			DisablePreview: cfg.Telegram.DisablePreview,
			Location:       reportLocation(cfg.Scheduler.Timezone),
		}, log, a.bus)
	default:
		return nil, fmt.Errorf("%w: unknown notifier %q", notifier.ErrNotConfigured, cfg.Notifier)
	}
}

func reportLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// Run executes the configured mode.
func (a *App) Run(ctx context.Context) error {
	switch mode := a.Config().Mode; mode {
	case config.ModeOnce:
		_, err := a.RunOnce(ctx)
		return err
	case config.ModeCron:
		return a.RunCron(ctx)
	default:
		return fmt.Errorf("%w: mode %q", config.ErrInvalid, mode)
	}
}

// RunOnce performs a single scan.
func (a *App) RunOnce(ctx context.Context) (workflow.Summary, error) {
	a.log.Info("scan starting", logx.String("mode", config.ModeOnce))
	return a.orch.Run(ctx)
}

func (a *App) registerScan(expr string) error {
	return a.sched.AddJob(expr, scheduler.Job{
		Name: ScanJob,
		Handler: func(ctx context.Context) error {
			_, err := a.orch.Run(ctx)
			return err
		},
	})
}

// RunCron schedules the scan and blocks until ctx is done or a supervised
// goroutine fails. Run errors are logged by the scheduler and never stop it.
func (a *App) RunCron(ctx context.Context) error {
	cfg := a.Config()
	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	if err := a.registerScan(cfg.Scheduler.Schedule); err != nil {
		sup.Cancel()
		return err
	}

	tracker := server.NewTracker()
	runEvents, unsubRuns := a.bus.Subscribe(64)
	sup.Go0("runs.track", func(c context.Context) {
		defer unsubRuns()
		tracker.Consume(c, runEvents)
	})
	a.logEvents(sup)

	var srv *server.Server
	if addr := strings.TrimSpace(cfg.HTTP.Addr); addr != "" {
		srv = server.New(tracker,
			server.WithLogger(a.log.With(logx.String("comp", "http"))),
			server.WithScheduler(a.sched, ScanJob),
		)
		if err := srv.Start(addr); err != nil {
			_ = sup.Stop(context.Background())
			return fmt.Errorf("http listen %s: %w", addr, err)
		}
	}

	a.cfgm.SetValidator(a.validateReload)
	sup.Go("config.watch", a.cfgm.Watch)
	sub := a.cfgm.Subscribe(4)
	sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sched.Start(sup.Context())
	a.notifySystemd(daemon.SdNotifyReady)
	a.log.Info("scanbot started",
		logx.String("mode", config.ModeCron),
		logx.String("schedule", cfg.Scheduler.Schedule),
		logx.String("timezone", cfg.Scheduler.Timezone),
		logx.String("config_file", a.cfgm.Path()),
	)
	if snap := a.sched.Snapshot(); len(snap.Jobs) > 0 && !snap.Jobs[0].Next.IsZero() {
		a.log.Info("next scan", logx.Time("at", snap.Jobs[0].Next))
	}

	<-sup.Context().Done()
	reason := StopSignal
	if sup.Err() != nil {
		reason = StopFatalError
	}
	a.log.Info("scanbot stopping", logx.String("reason", reason.String()))
	a.notifySystemd(daemon.SdNotifyStopping)

	a.sched.Stop()
	if srv != nil {
		srv.Stop(context.Background())
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Stop(stopCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	a.log.Info("scanbot stopped")
	return nil
}

func (a *App) notifySystemd(state string) {
	fn := a.opts.SdNotify
	if fn == nil {
		fn = func(s string) error {
			_, err := daemon.SdNotify(false, s)
			return err
		}
	}
	if err := fn(state); err != nil {
		a.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}

// logEvents mirrors bus traffic into the debug log.
func (a *App) logEvents(sup *supervisor.Supervisor) {
	events, unsub := a.bus.Subscribe(128)
	sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// keep only the newest of a burst
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			if newCfg != nil {
				a.applyConfig(newCfg)
			}
		}
	}
}

// validateReload builds what newCfg needs so that a config whose
// collaborators cannot be built is rejected before the manager commits it.
func (a *App) validateReload(_ context.Context, newCfg *config.Config) error {
	p, err := a.prepare(a.Config(), newCfg)
	if err != nil {
		return err
	}
	a.prepMu.Lock()
	a.prep = p
	a.prepMu.Unlock()
	return nil
}

// prepare checks newCfg against the live config and builds the analyzer and
// notifier for the sections that changed.
func (a *App) prepare(oldCfg, newCfg *config.Config) (prepared, error) {
	p := prepared{cfg: newCfg}
	d, err := newCfg.Durations()
	if err != nil {
		return p, err
	}
	p.d = d
	if _, err := scheduler.ParseSpec(newCfg.Scheduler.Schedule); err != nil {
		return p, fmt.Errorf("%w: scheduler.schedule: %w", config.ErrInvalid, err)
	}
	if tz := strings.TrimSpace(newCfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return p, fmt.Errorf("%w: scheduler.timezone: %w", config.ErrInvalid, err)
		}
	}

	sections, _, _ := config.SummarizeChange(oldCfg, newCfg)
	if slices.Contains(sections, "analysis") && a.opts.Analyzer == nil {
		if p.analyzer, err = a.buildAnalyzer(newCfg, d); err != nil {
			return p, fmt.Errorf("analysis client: %w", err)
		}
	}
	if slices.Contains(sections, "notifier") && a.opts.Notifier == nil {
		if p.notifier, err = a.buildNotifier(newCfg); err != nil {
			return p, fmt.Errorf("notifier: %w", err)
		}
	}
	return p, nil
}

// takePrepared returns the collaborators built by validateReload for newCfg,
// or builds them now.
func (a *App) takePrepared(oldCfg, newCfg *config.Config) (prepared, error) {
	a.prepMu.Lock()
	p := a.prep
	a.prep = prepared{}
	a.prepMu.Unlock()
	if p.cfg == newCfg {
		return p, nil
	}
	return a.prepare(oldCfg, newCfg)
}

// applyConfig hot-applies a config. Nothing changes when its collaborators
// cannot be built. Mode and HTTP address changes are logged and need a
// restart.
func (a *App) applyConfig(newCfg *config.Config) {
	oldCfg := a.Config()
	sections, attrs, restart := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	p, err := a.takePrepared(oldCfg, newCfg)
	if err != nil {
		a.log.Warn("config rejected; keeping previous", logx.Err(err))
		return
	}

	a.mu.Lock()
	a.cfg = newCfg
	a.mu.Unlock()

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
	if len(restart) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.Strings("sections", restart))
	}

	if a.logs != nil && slices.Contains(sections, "logging") {
		a.logs.Apply(newCfg.LogConfig())
	}
	a.sched.Apply(schedulerConfig(newCfg, p.d))
	a.orch.Apply(workflowConfig(newCfg, p.d))
	a.orch.Rebind(p.analyzer, p.notifier)

	if oldCfg == nil || oldCfg.Scheduler.Schedule != newCfg.Scheduler.Schedule {
		if err := a.registerScan(newCfg.Scheduler.Schedule); err != nil {
			a.log.Warn("schedule change rejected; keeping previous", logx.Err(err))
		}
	}
}

// InitDB creates the primary store schema.
func (a *App) InitDB(ctx context.Context) error {
	cfg := a.Config()
	st, err := source.InitPrimary(ctx, cfg.Source.DBPath, a.log.With(logx.String("comp", "source")))
	if err != nil {
		return err
	}
	return st.Close()
}

// Import seeds the primary store from the fallback file.
func (a *App) Import(ctx context.Context) (int, error) {
	cfg := a.Config()
	d, err := cfg.Durations()
	if err != nil {
		return 0, err
	}
	return source.Import(ctx, sourceConfig(cfg, d), a.log.With(logx.String("comp", "source")))
}
