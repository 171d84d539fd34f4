package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"grimm.is/humangym/internal/clock"
	"grimm.is/humangym/internal/metrics"
)

// HTTP timeouts. Websocket sessions are hijacked and not subject to them.
const (
	ReadHeaderTimeout = 10 * time.Second
	IdleTimeout       = 120 * time.Second
	ShutdownTimeout   = 30 * time.Second
)

// CountersResponse is served at /api/counters.
type CountersResponse struct {
	Types    []string       `json:"trial_types"`
	Counters map[string]int `json:"counters"`
	Active   map[string]int `json:"active"`
}

// Handler returns the server routes.
func (s *Supervisor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("GET /healthz", s.instrument("/healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/counters", s.instrument("/api/counters", http.HandlerFunc(s.handleCounters)))
	return mux
}

func (s *Supervisor) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Supervisor) handleCounters(w http.ResponseWriter, r *http.Request) {
	counters, err := s.registry.Counters()
	if err != nil {
		s.log.Error("read counters", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "counters unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, CountersResponse{
		Types:    s.registry.Types(),
		Counters: counters,
		Active:   s.Active(),
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Supervisor) instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := clock.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.Get().RecordAPIRequest(r.Method, path, rec.status, time.Since(start).Seconds())
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// ServeOptions configures Serve.
type ServeOptions struct {
	Addr string
	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
	// Listener replaces Addr when set.
	Listener net.Listener
	// MaxConns limits simultaneously accepted connections when positive.
	MaxConns int
}

// Serve runs the HTTP server until ctx is cancelled, then drains sessions
// and uploads.
func (s *Supervisor) Serve(ctx context.Context, opts ServeOptions) error {
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		IdleTimeout:       IdleTimeout,
		ErrorLog:          s.log.StdLogger(),
		// Sessions outlive Shutdown; tie them to ctx so they end with it.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	ln := opts.Listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", opts.Addr); err != nil {
			return err
		}
	}
	if opts.MaxConns > 0 {
		ln = netutil.LimitListener(ln, opts.MaxConns)
	}

	started := clock.Now()
	errCh := make(chan error, 1)
	go func() {
		tls := opts.CertFile != "" && opts.KeyFile != ""
		s.log.Info("session server listening", "addr", ln.Addr().String(), "tls", tls, "max_conns", opts.MaxConns)
		if tls {
			errCh <- srv.ServeTLS(ln, opts.CertFile, opts.KeyFile)
		} else {
			errCh <- srv.Serve(ln)
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ticker.C:
			metrics.Get().UpdateUptime(started)
		case <-ctx.Done():
			s.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
			defer cancel()
			err := srv.Shutdown(shutdownCtx)
			if werr := s.Wait(shutdownCtx); werr != nil {
				s.log.Warn("sessions still running at shutdown", "error", werr)
			}
			return err
		}
	}
}
