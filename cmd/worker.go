package cmd

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"grimm.is/humangym/internal/brand"
	"grimm.is/humangym/internal/channel"
	"grimm.is/humangym/internal/logging"
	"grimm.is/humangym/internal/registry"
	"grimm.is/humangym/internal/trial"
)

// WorkerOptions are the flags the supervisor passes to a worker process.
type WorkerOptions struct {
	ConfigPath string
	TrialType  string
	Index      int
	SessionID  string
}

// ParseWorkerArgs parses the worker flag set.
func ParseWorkerArgs(args []string) (WorkerOptions, error) {
	var o WorkerOptions
	flags := flag.NewFlagSet("worker", flag.ContinueOnError)
	flags.StringVar(&o.ConfigPath, "config", "", "Trial configuration file")
	flags.StringVar(&o.TrialType, "type", "", "Trial type")
	flags.IntVar(&o.Index, "index", 0, "Per-type counter value")
	flags.StringVar(&o.SessionID, "session", "", "Session id")
	if err := flags.Parse(args); err != nil {
		return o, err
	}
	switch {
	case o.ConfigPath == "":
		return o, errors.New("worker: -config is required")
	case o.TrialType == "":
		return o, errors.New("worker: -type is required")
	case o.Index < 0:
		return o, fmt.Errorf("worker: invalid -index %d", o.Index)
	}
	return o, nil
}

// RunWorker runs one session in this process, speaking the channel codec
// on stdin and stdout. Not meant to be started by hand.
func RunWorker(args []string) error {
	opts, err := ParseWorkerArgs(args)
	if err != nil {
		return err
	}
	if err := ExitWithParent(); err != nil {
		return fmt.Errorf("set parent death signal: %w", err)
	}
	_ = SetProcessName(brand.LowerName + "-worker")

	// stdout carries the channel; logs go to stderr only.
	logCfg := logging.ConfigFromEnv()
	logCfg.Output = os.Stderr
	logCfg.Process = brand.LowerName + "-worker"
	logger := logging.New(logCfg)
	logging.SetDefault(logger)

	cfg, err := loadTrialConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	variant, err := registry.NewVariant(opts.TrialType)
	if err != nil {
		return err
	}

	stream := channel.NewStream(os.Stdin, os.Stdout, channel.DefaultCapacity)
	defer stream.Close()

	w, err := trial.New(trial.Options{
		SessionID: opts.SessionID,
		Index:     opts.Index,
		Config:    cfg,
		Variant:   variant,
		Conn:      stream,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	return w.Run()
}
