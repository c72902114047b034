package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"scanbot/internal/app"
	"scanbot/internal/config"
	logx "scanbot/pkg/logx"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfgPath string
		envFile string
		mode    string
		initDB  bool
		doImp   bool
	)
	flag.StringVar(&cfgPath, "config", os.Getenv("CONFIG_FILE"), "path to config yaml/json (optional)")
	flag.StringVar(&envFile, "env", ".env", "dotenv file loaded before reading the environment")
	flag.StringVar(&mode, "mode", "", "execution mode override: once or cron")
	flag.BoolVar(&initDB, "init-db", false, "create the primary store schema and exit")
	flag.BoolVar(&doImp, "import", false, "seed the primary store from the fallback file and exit")
	flag.Parse()

	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	// CONFIG_FILE may come from the dotenv file.
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_FILE")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(app.Options{ConfigPath: cfgPath, Mode: mode})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal config:", err)
		return 1
	}
	defer a.Close()
	log := a.Logger().With(logx.String("comp", "main"))

	switch {
	case initDB:
		if err := a.InitDB(ctx); err != nil {
			log.Error("init-db failed", logx.Err(err))
			return 1
		}
		log.Info("primary store ready", logx.String("path", a.Config().Source.DBPath))
		return 0
	case doImp:
		n, err := a.Import(ctx)
		if err != nil {
			log.Error("import failed", logx.Int("rows", n), logx.Err(err))
			return 1
		}
		return 0
	}

	if err := a.Run(ctx); err != nil {
		log.Error("scanbot exited with error", logx.String("mode", a.Config().Mode), logx.Err(err))
		return 1
	}
	return 0
}
