package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"grimm.is/humangym/internal/config"
	"grimm.is/humangym/internal/logging"
	"grimm.is/humangym/internal/registry"
	"grimm.is/humangym/internal/state"
	"grimm.is/humangym/internal/supervisor"
	"grimm.is/humangym/internal/upload"
)

// RunServe starts the session server and blocks until SIGINT or SIGTERM.
func RunServe(args []string) error {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	listen := flags.String("listen", config.DefaultListenAddr, "Address to listen on")
	flags.StringVar(listen, "l", config.DefaultListenAddr, "Address to listen on (short)")
	configFile := flags.String("config", "", "Trial configuration file")
	flags.StringVar(configFile, "c", "", "Trial configuration file (short)")
	dev := flags.Bool("dev", false, "Plain HTTP and no uploads")
	reset := flags.Bool("reset-counters", false, "Reset the trial rotation counters at startup")
	isolation := flags.String("isolation", "", "Worker isolation: process or goroutine")
	origins := flags.String("allow-origin", "", "Extra websocket origin to accept")
	maxConns := flags.Int("max-conns", 0, "Cap on concurrent connections (0 = no cap)")
	flags.Parse(args)

	srvCfg := config.NewServerConfig(*listen, *configFile, *dev, *reset)
	if *isolation != "" {
		srvCfg.Isolation = *isolation
	}
	if *maxConns > 0 {
		srvCfg.MaxConns = *maxConns
	}

	logger := logging.New(logging.ConfigFromEnv())
	logging.SetDefault(logger)
	log := logger.WithComponent("serve")

	trialCfg, err := loadTrialConfig(srvCfg.ConfigPath)
	if err != nil {
		return err
	}

	store, err := openCounterStore(srvCfg.CounterPath)
	if err != nil {
		return err
	}
	defer store.Close()

	reg, err := registry.New(store, trialCfg.TrialTypes, registry.Options{Reset: srvCfg.ResetCounters, Logger: logger})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher, err := newDispatcher(ctx, srvCfg, trialCfg, logger)
	if err != nil {
		return err
	}

	var spawner supervisor.Spawner
	switch srvCfg.Isolation {
	case config.IsolationProcess:
		configPath, err := filepath.Abs(srvCfg.ConfigPath)
		if err != nil {
			return err
		}
		spawner = &supervisor.ProcessSpawner{ConfigPath: configPath, Logger: logger}
	case config.IsolationGoroutine:
		spawner = &supervisor.GoroutineSpawner{Config: trialCfg, Logger: logger}
	default:
		return fmt.Errorf("unknown isolation mode %q", srvCfg.Isolation)
	}

	var allowed []string
	if *origins != "" {
		allowed = append(allowed, *origins)
	}
	sup, err := supervisor.New(supervisor.Options{
		Registry:       reg,
		Spawner:        spawner,
		Dispatcher:     dispatcher,
		PollInterval:   time.Duration(srvCfg.PollIntervalMs) * time.Millisecond,
		Logger:         logger,
		AllowedOrigins: allowed,
	})
	if err != nil {
		return err
	}

	opts := supervisor.ServeOptions{Addr: srvCfg.ListenAddr, MaxConns: srvCfg.MaxConns}
	if !srvCfg.Dev {
		opts.CertFile, opts.KeyFile = srvCfg.CertFile, srvCfg.KeyFile
	}
	log.Info("starting",
		"config", srvCfg.ConfigPath,
		"trial_types", trialCfg.TrialTypes,
		"isolation", spawner.Isolation(),
		"dev", srvCfg.Dev)
	return sup.Serve(ctx, opts)
}

func openCounterStore(path string) (*state.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	store, err := state.NewSQLiteStore(state.DefaultOptions(path))
	if err != nil {
		return nil, fmt.Errorf("open counter store %s: %w", path, err)
	}
	return store, nil
}

// newDispatcher uploads to S3 unless in dev mode or uploads are disabled.
func newDispatcher(ctx context.Context, srv *config.ServerConfig, trialCfg *config.TrialConfig, logger *logging.Logger) (upload.Dispatcher, error) {
	if srv.Dev || !trialCfg.S3Upload {
		return upload.NewNoop(logger), nil
	}
	up, err := upload.NewS3UploaderFromEnv(ctx, logger)
	if err != nil {
		return nil, err
	}
	return upload.NewAsync(up, logger), nil
}
