// Package supervisor accepts client websocket connections, assigns each a
// trial type, spawns an isolated worker for it, and relays messages both
// ways until the trial completes or either side goes away.
package supervisor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"grimm.is/humangym/internal/channel"
	"grimm.is/humangym/internal/clock"
	"grimm.is/humangym/internal/logging"
	"grimm.is/humangym/internal/metrics"
	"grimm.is/humangym/internal/protocol"
	"grimm.is/humangym/internal/registry"
	"grimm.is/humangym/internal/upload"
)

// DefaultPollInterval is how often the outbound relay drains the channel.
const DefaultPollInterval = 10 * time.Millisecond

// Session end reasons used in logs and metrics.
const (
	EndDone         = "done"
	EndClientClosed = "client_closed"
	EndWorkerExited = "worker_exited"
	EndSpawnFailed  = "spawn_failed"
)

var (
	errTrialDone    = errors.New("trial done")
	errClientClosed = errors.New("client closed")
	errWorkerGone   = errors.New("worker channel closed")
)

// Options configures a Supervisor.
type Options struct {
	Registry     *registry.Registry
	Spawner      Spawner
	Dispatcher   upload.Dispatcher
	PollInterval time.Duration
	Clock        clock.Clock
	Logger       *logging.Logger
	// AllowedOrigins are accepted in addition to same-origin and localhost.
	AllowedOrigins []string
}

// Supervisor owns every live session of one server.
type Supervisor struct {
	registry     *registry.Registry
	spawner      Spawner
	dispatcher   upload.Dispatcher
	pollInterval time.Duration
	clock        clock.Clock
	log          *logging.Logger
	upgrader     websocket.Upgrader

	sessions sync.WaitGroup
	mu       sync.Mutex
	active   map[string]string // session id -> trial type
}

// New returns a supervisor. Registry and Spawner are required.
func New(opts Options) (*Supervisor, error) {
	if opts.Registry == nil || opts.Spawner == nil {
		return nil, errors.New("supervisor: registry and spawner are required")
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = upload.NewNoop(opts.Logger)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = &clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}

	s := &Supervisor{
		registry:     opts.Registry,
		spawner:      opts.Spawner,
		dispatcher:   opts.Dispatcher,
		pollInterval: opts.PollInterval,
		clock:        opts.Clock,
		log:          opts.Logger.WithComponent("supervisor"),
		active:       make(map[string]string),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024 * 64,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return s, nil
}

// originChecker enforces same-origin for browser upgrades. Requests with
// no Origin header and local development origins are allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || origin == a {
				return true
			}
		}
		if strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
			return true
		}
		host := r.Host
		if rest, ok := strings.CutPrefix(origin, "http://"); ok {
			return rest == host
		}
		if rest, ok := strings.CutPrefix(origin, "https://"); ok {
			return rest == host
		}
		return false
	}
}

// ServeWS upgrades the request and runs a session on it.
func (s *Supervisor) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	s.Accept(r.Context(), conn)
}

// Accept runs one session on an established connection and closes it.
func (s *Supervisor) Accept(ctx context.Context, conn *websocket.Conn) {
	s.sessions.Add(1)
	defer s.sessions.Done()
	defer conn.Close()

	id := uuid.NewString()
	log := s.log.WithFields(map[string]any{"session": id})

	a, err := s.registry.Assign()
	if err != nil {
		log.Error("trial assignment failed", "error", err)
		closeWith(conn, websocket.CloseInternalServerErr, "assignment failed")
		return
	}
	log = log.WithFields(map[string]any{"trial_type": a.Type})

	handle, err := s.spawner.Spawn(WorkerSpec{SessionID: id, TrialType: a.Type, Index: a.Index})
	if err != nil {
		metrics.Get().SpawnErrors.WithLabelValues(s.spawner.Isolation()).Inc()
		log.Error("worker spawn failed", "error", err)
		closeWith(conn, websocket.CloseInternalServerErr, "worker unavailable")
		return
	}

	started := s.clock.Now()
	s.track(id, a.Type)
	metrics.Get().SessionStarted(a.Type)
	log.Lifecycle("session_start", id, map[string]any{"trial_type": a.Type, "index": a.Index, "isolation": s.spawner.Isolation()})

	reason := s.relay(ctx, conn, handle.Conn(), a.Type, log)

	handle.Conn().Close()
	if err := handle.Wait(); err != nil {
		log.Warn("worker exited with error", "error", err)
	}
	s.untrack(id)
	elapsed := s.clock.Since(started)
	metrics.Get().SessionEnded(a.Type, reason, elapsed)
	log.Lifecycle("session_end", id, map[string]any{"reason": reason, "elapsed": elapsed.Round(time.Millisecond).String()})
}

// relay pumps messages both ways until either direction finishes, then
// cancels the other.
func (s *Supervisor) relay(ctx context.Context, conn *websocket.Conn, ch channel.Conn, trialType string, log *logging.Logger) string {
	g, gctx := errgroup.WithContext(ctx)

	// Unblocks the inbound reader once any relay has finished.
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})
	g.Go(func() error { return s.inbound(conn, ch, trialType) })
	g.Go(func() error { return s.outbound(gctx, conn, ch, trialType, log) })

	err := g.Wait()
	switch {
	case errors.Is(err, errTrialDone):
		return EndDone
	case errors.Is(err, errWorkerGone):
		return EndWorkerExited
	case err != nil && !errors.Is(err, errClientClosed):
		log.Debug("relay stopped", "error", err)
	}
	return EndClientClosed
}

func (s *Supervisor) inbound(conn *websocket.Conn, ch channel.Conn, trialType string) error {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return errClientClosed
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		metrics.Get().InboundMessages.WithLabelValues(trialType).Inc()
		if err := ch.Send(protocol.Client(data)); err != nil {
			if errors.Is(err, channel.ErrClosed) {
				return errWorkerGone
			}
			return err
		}
	}
}

func (s *Supervisor) outbound(ctx context.Context, conn *websocket.Conn, ch channel.Conn, trialType string, log *logging.Logger) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		for {
			env, ok, err := ch.Poll()
			if err != nil {
				if errors.Is(err, channel.ErrClosed) {
					return errWorkerGone
				}
				return err
			}
			if !ok {
				break
			}
			if err := s.deliver(conn, env, trialType, log); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// deliver forwards one worker message. Upload requests are handed to the
// dispatcher instead of the client.
func (s *Supervisor) deliver(conn *websocket.Conn, env protocol.Envelope, trialType string, log *logging.Logger) error {
	m := metrics.Get()
	m.OutboundMessages.WithLabelValues(trialType, string(env.Kind)).Inc()

	switch env.Kind {
	case protocol.KindUpload:
		if env.Upload != nil {
			log.Info("upload requested", "file", env.Upload.File, "bucket", env.Upload.Bucket)
			s.dispatcher.Dispatch(*env.Upload)
		}
		return nil
	case protocol.KindError:
		m.ParseErrors.Inc()
	}

	if !env.Forwarded() {
		return nil
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(env.Text)); err != nil {
		return errClientClosed
	}
	if env.Kind == protocol.KindDone {
		closeWith(conn, websocket.CloseNormalClosure, "")
		return errTrialDone
	}
	return nil
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (s *Supervisor) track(id, trialType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[id] = trialType
}

func (s *Supervisor) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// Active returns the number of live sessions per trial type.
func (s *Supervisor) Active() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int)
	for _, t := range s.active {
		out[t]++
	}
	return out
}

// Wait blocks until every session has ended and every dispatched upload
// has finished, or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.dispatcher.Wait(ctx)
}
