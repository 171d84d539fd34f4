package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/humangym/internal/config"
	"grimm.is/humangym/internal/protocol"
	"grimm.is/humangym/internal/recorder"
	"grimm.is/humangym/internal/registry"
	"grimm.is/humangym/internal/state"
	"grimm.is/humangym/internal/supervisor"
	"grimm.is/humangym/internal/trial"
	"grimm.is/humangym/internal/upload"
)

// workerEnv makes the test binary run RunWorker, the way the server's own
// binary does when the supervisor re-executes it.
const workerEnv = "HUMANGYM_TEST_WORKER"

func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" && len(os.Args) > 1 && os.Args[1] == "worker" {
		if err := RunWorker(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type processServer struct {
	sup     *supervisor.Supervisor
	url     string
	dataDir string
}

func startProcessServer(t *testing.T, edit func(*config.TrialConfig)) *processServer {
	t.Helper()
	t.Setenv(workerEnv, "1")

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.StartingFrameRate = 89
	cfg.ActionSpace = []string{"stay", "left", "right"}
	if edit != nil {
		edit(cfg)
	}
	path := filepath.Join(t.TempDir(), "trial.hcl")
	require.NoError(t, config.WriteHCLFile(path, cfg))

	store, err := state.NewSQLiteStore(state.DefaultOptions(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	reg, err := registry.New(store, []string{trial.TypePlayGame}, registry.Options{})
	require.NoError(t, err)

	sup, err := supervisor.New(supervisor.Options{
		Registry:     reg,
		Spawner:      &supervisor.ProcessSpawner{Executable: os.Args[0], ConfigPath: path, Grace: 30 * time.Second},
		Dispatcher:   upload.NewNoop(nil),
		PollInterval: 2 * time.Millisecond,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(sup.Handler())
	t.Cleanup(srv.Close)
	return &processServer{
		sup:     sup,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		dataDir: cfg.DataDir,
	}
}

func (p *processServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(p.url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (p *processServer) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.sup.Wait(ctx), "worker process did not exit")
	assert.Empty(t, p.sup.Active())
}

func readMessage(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func writeMessage(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func TestProcessWorkerRunsSession(t *testing.T) {
	p := startProcessServer(t, func(cfg *config.TrialConfig) {
		cfg.MaxEpisodes = 1
		cfg.MaxEpisodeFrames = 3
	})
	conn := p.dial(t)

	writeMessage(t, conn, `{"userId":"alice"}`)
	var ui protocol.UIMessage
	require.NoError(t, json.Unmarshal([]byte(readMessage(t, conn)), &ui))
	assert.Equal(t, config.DefaultUI, ui.UI)

	var frame protocol.FrameMessage
	require.NoError(t, json.Unmarshal([]byte(readMessage(t, conn)), &frame))
	assert.Equal(t, 1, frame.FrameID)
	assert.NotEmpty(t, frame.Frame)

	writeMessage(t, conn, `{"command":"start"}`)
	writeMessage(t, conn, `{"action":"left"}`)
	frames := 1
	for {
		msg := readMessage(t, conn)
		if msg == protocol.DoneText {
			break
		}
		require.NoError(t, json.Unmarshal([]byte(msg), &frame))
		frames++
		assert.Equal(t, frames, frame.FrameID)
	}
	assert.Equal(t, 4, frames)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	p.waitIdle(t)

	matches, err := filepath.Glob(filepath.Join(p.dataDir, "*", recorder.EpisodeFileName(0, "alice")))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	records, err := recorder.ReadTraceFile(matches[0])
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestProcessWorkerExitsOnDisconnect(t *testing.T) {
	p := startProcessServer(t, nil)
	conn := p.dial(t)

	writeMessage(t, conn, `{"userId":"bob"}`)
	readMessage(t, conn)
	readMessage(t, conn)

	writeMessage(t, conn, `{"command":"start"}`)
	for i := 0; i < 10; i++ {
		writeMessage(t, conn, `{"action":"left"}`)
	}
	readMessage(t, conn)
	require.Eventually(t, func() bool { return len(p.sup.Active()) == 1 }, 10*time.Second, 5*time.Millisecond)

	conn.Close()
	p.waitIdle(t)
}
