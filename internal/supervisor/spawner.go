package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"grimm.is/humangym/internal/channel"
	"grimm.is/humangym/internal/clock"
	"grimm.is/humangym/internal/config"
	"grimm.is/humangym/internal/env"
	"grimm.is/humangym/internal/logging"
	"grimm.is/humangym/internal/registry"
	"grimm.is/humangym/internal/trial"
)

// WorkerSpec identifies the trial a new worker runs.
type WorkerSpec struct {
	SessionID string
	TrialType string
	Index     int
}

// Handle is the supervisor's end of a running worker.
type Handle interface {
	// Conn is the supervisor end of the duplex channel.
	Conn() channel.Conn
	// Wait blocks until the worker has exited.
	Wait() error
}

// Spawner starts isolated workers.
type Spawner interface {
	Spawn(spec WorkerSpec) (Handle, error)
	// Isolation names the mode for logs and metrics.
	Isolation() string
}

// GoroutineSpawner runs each worker on its own goroutine, connected by an
// in-memory channel pair. Workers share no mutable state with the
// supervisor beyond the channel.
type GoroutineSpawner struct {
	Config   *config.TrialConfig
	Capacity int
	Clock    clock.Clock
	Logger   *logging.Logger
	// NewAdapter overrides the environment a variant would build.
	NewAdapter func(spec WorkerSpec) env.Adapter
}

// Isolation implements Spawner.
func (g *GoroutineSpawner) Isolation() string { return config.IsolationGoroutine }

// Spawn implements Spawner.
func (g *GoroutineSpawner) Spawn(spec WorkerSpec) (Handle, error) {
	variant, err := registry.NewVariant(spec.TrialType)
	if err != nil {
		return nil, err
	}
	capacity := g.Capacity
	if capacity <= 0 {
		capacity = channel.DefaultCapacity
	}
	local, remote := channel.Pair(capacity)

	opts := trial.Options{
		SessionID: spec.SessionID,
		Index:     spec.Index,
		Config:    g.Config.Clone(),
		Variant:   variant,
		Conn:      remote,
		Clock:     g.Clock,
		Logger:    g.Logger,
	}
	if g.NewAdapter != nil {
		opts.Adapter = g.NewAdapter(spec)
	}
	w, err := trial.New(opts)
	if err != nil {
		local.Close()
		return nil, err
	}

	h := &goroutineHandle{conn: local, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.err = w.Run()
	}()
	return h, nil
}

type goroutineHandle struct {
	conn *channel.Endpoint
	done chan struct{}
	err  error
}

func (h *goroutineHandle) Conn() channel.Conn { return h.conn }

func (h *goroutineHandle) Wait() error {
	<-h.done
	return h.err
}

// DefaultWorkerGrace is how long a closed worker process may take to exit
// before it is killed.
const DefaultWorkerGrace = 5 * time.Second

// ProcessSpawner runs each worker as a child process speaking the channel
// codec over stdin and stdout. The child inherits stderr for logging.
type ProcessSpawner struct {
	// Executable defaults to the running binary.
	Executable string
	ConfigPath string
	Capacity   int
	// Grace defaults to DefaultWorkerGrace.
	Grace  time.Duration
	Logger *logging.Logger
}

// Isolation implements Spawner.
func (p *ProcessSpawner) Isolation() string { return config.IsolationProcess }

// WorkerArgs returns the argv tail that starts a worker for spec.
func WorkerArgs(configPath string, spec WorkerSpec) []string {
	return []string{
		"worker",
		"-config", configPath,
		"-type", spec.TrialType,
		"-index", strconv.Itoa(spec.Index),
		"-session", spec.SessionID,
	}
}

// Spawn implements Spawner.
func (p *ProcessSpawner) Spawn(spec WorkerSpec) (Handle, error) {
	exe := p.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
	}

	cmd := exec.Command(exe, WorkerArgs(p.ConfigPath, spec)...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	capacity := p.Capacity
	if capacity <= 0 {
		capacity = channel.DefaultCapacity
	}
	grace := p.Grace
	if grace <= 0 {
		grace = DefaultWorkerGrace
	}
	h := &processHandle{
		cmd:     cmd,
		stream:  channel.NewStream(stdout, stdin, capacity),
		grace:   grace,
		session: spec.SessionID,
		log:     p.Logger,
	}
	if p.Logger != nil {
		p.Logger.Debug("worker process started", "session", spec.SessionID, "pid", cmd.Process.Pid)
	}
	return h, nil
}

type processHandle struct {
	cmd     *exec.Cmd
	stream  *channel.Stream
	grace   time.Duration
	session string
	log     *logging.Logger

	once sync.Once
	err  error
}

func (h *processHandle) Conn() channel.Conn { return h.stream }

// Wait gives the child the grace period to close its output and exit, then
// kills it. The stream keeps draining stdout meanwhile.
func (h *processHandle) Wait() error {
	h.once.Do(func() {
		timer := time.NewTimer(h.grace)
		defer timer.Stop()

		killed := false
		select {
		case <-h.stream.Done():
		case <-timer.C:
			h.kill("output still open")
			killed = true
		}

		exited := make(chan error, 1)
		go func() { exited <- h.cmd.Wait() }()
		if killed {
			h.err = <-exited
			return
		}
		select {
		case h.err = <-exited:
		case <-timer.C:
			h.kill("process still running")
			h.err = <-exited
		}
	})
	return h.err
}

func (h *processHandle) kill(reason string) {
	if h.log != nil {
		h.log.Warn("killing worker process", "session", h.session, "pid", h.cmd.Process.Pid, "reason", reason)
	}
	_ = h.cmd.Process.Kill()
}
