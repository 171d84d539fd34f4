package config

import (
	"os"
	"strconv"

	"grimm.is/humangym/internal/brand"
)

// Worker isolation modes.
const (
	IsolationProcess   = "process"
	IsolationGoroutine = "goroutine"
)

// DefaultListenAddr matches the port clients are built against.
const DefaultListenAddr = ":5000"

// ServerConfig holds runtime configuration for the session server.
// Environment variables are parsed once at startup and stored here.
type ServerConfig struct {
	ListenAddr  string
	ConfigPath  string
	CertFile    string // HUMANGYM_TLS_CERT
	KeyFile     string // HUMANGYM_TLS_KEY
	StateDir    string // HUMANGYM_STATE_DIR
	CounterPath string // HUMANGYM_COUNTER_DB
	Isolation   string // HUMANGYM_ISOLATION=process|goroutine
	Dev         bool   // plain HTTP, uploads skipped
	// ResetCounters reinitialises the rotation counters at startup.
	ResetCounters bool
	// PollIntervalMs is the outbound relay poll period (HUMANGYM_POLL_MS).
	PollIntervalMs int
	// MaxConns caps concurrent connections, 0 for no cap (HUMANGYM_MAX_CONNS).
	MaxConns int
}

// NewServerConfig parses environment variables and CLI args into config.
func NewServerConfig(listenAddr, configPath string, dev, resetCounters bool) *ServerConfig {
	prefix := brand.ConfigEnvPrefix + "_"

	if listenAddr == "" {
		listenAddr = DefaultListenAddr
	}
	if configPath == "" {
		configPath = brand.GetConfigPath()
	}

	cfg := &ServerConfig{
		ListenAddr:     listenAddr,
		ConfigPath:     configPath,
		CertFile:       envOr(prefix+"TLS_CERT", "fullchain.pem"),
		KeyFile:        envOr(prefix+"TLS_KEY", "privkey.pem"),
		StateDir:       brand.GetStateDir(),
		CounterPath:    envOr(prefix+"COUNTER_DB", brand.GetCounterPath()),
		Isolation:      envOr(prefix+"ISOLATION", IsolationProcess),
		Dev:            dev || os.Getenv(prefix+"DEV") == "1",
		ResetCounters:  resetCounters,
		PollIntervalMs: 10,
	}
	if ms, err := strconv.Atoi(os.Getenv(prefix + "POLL_MS")); err == nil && ms > 0 {
		cfg.PollIntervalMs = ms
	}
	if n, err := strconv.Atoi(os.Getenv(prefix + "MAX_CONNS")); err == nil && n > 0 {
		cfg.MaxConns = n
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
