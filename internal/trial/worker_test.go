package trial

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/humangym/internal/channel"
	"grimm.is/humangym/internal/clock"
	"grimm.is/humangym/internal/config"
	"grimm.is/humangym/internal/env"
	"grimm.is/humangym/internal/protocol"
	"grimm.is/humangym/internal/recorder"
)

// fakeEnv is a scripted environment. An episode ends after doneAfter steps.
type fakeEnv struct {
	doneAfter   int
	failRenders int // renders allowed before Render fails; 0 means never

	started bool
	step    int
	renders int
	resets  int
	closes  int
	actions []int
}

func (f *fakeEnv) Start(string, int, int) error {
	f.started = true
	return nil
}

func (f *fakeEnv) Step(a int) (*env.StepResult, error) {
	if !f.started {
		return nil, env.ErrNotStarted
	}
	f.step++
	f.actions = append(f.actions, a)
	return &env.StepResult{
		Observation: []int{f.step},
		Reward:      1,
		Done:        f.doneAfter > 0 && f.step >= f.doneAfter,
		Step:        f.step,
	}, nil
}

func (f *fakeEnv) Render() (*env.Frame, error) {
	f.renders++
	if f.failRenders > 0 && f.renders > f.failRenders {
		return nil, errors.New("display lost")
	}
	return &env.Frame{Width: 2, Height: 2, Channels: 1, Pix: []byte{0, 64, 128, 255}}, nil
}

func (f *fakeEnv) Reset() error {
	f.resets++
	f.step = 0
	return nil
}

func (f *fakeEnv) Close() error {
	f.closes++
	return nil
}

type harness struct {
	w      *Worker
	client *channel.Endpoint
	env    *fakeEnv
	clock  *clock.MockClock
	cfg    *config.TrialConfig
}

func testConfig(t *testing.T) *config.TrialConfig {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.ActionSpace = []string{"left", "right"}
	cfg.AllowFrameRateChange = true
	return cfg
}

func newHarness(t *testing.T, cfg *config.TrialConfig, variant Variant, fe *fakeEnv) *harness {
	t.Helper()
	client, server := channel.Pair(256)
	clk := clock.NewMockClock(time.Unix(1700000000, 0))
	w, err := New(Options{
		SessionID: "sess-1",
		Config:    cfg,
		Variant:   variant,
		Conn:      server,
		Clock:     clk,
		Adapter:   fe,
	})
	require.NoError(t, err)
	return &harness{w: w, client: client, env: fe, clock: clk, cfg: cfg}
}

func (h *harness) send(t *testing.T, msg string) {
	t.Helper()
	require.NoError(t, h.client.Send(protocol.Client([]byte(msg))))
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, h.w.Tick())
}

func (h *harness) drain(t *testing.T) []protocol.Envelope {
	t.Helper()
	var out []protocol.Envelope
	for {
		e, ok, err := h.client.Poll()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

func kinds(envs []protocol.Envelope) []protocol.Kind {
	out := make([]protocol.Kind, len(envs))
	for i, e := range envs {
		out[i] = e.Kind
	}
	return out
}

func (h *harness) identify(t *testing.T) []protocol.Envelope {
	t.Helper()
	h.send(t, `{"userId":"u1"}`)
	h.tick(t)
	return h.drain(t)
}

func TestIdentifySendsUIAndFirstFrame(t *testing.T) {
	h := newHarness(t, testConfig(t), PlayTrial{}, &fakeEnv{})

	out := h.identify(t)
	require.Equal(t, []protocol.Kind{protocol.KindUI, protocol.KindFrame}, kinds(out))

	var ui protocol.UIMessage
	require.NoError(t, json.Unmarshal([]byte(out[0].Text), &ui))
	assert.Equal(t, config.DefaultUI, ui.UI)

	var frame protocol.FrameMessage
	require.NoError(t, json.Unmarshal([]byte(out[1].Text), &frame))
	assert.Equal(t, 1, frame.FrameID)
	assert.NotEmpty(t, frame.Frame)

	assert.Equal(t, "u1", h.w.UserID())
	assert.Equal(t, StateIdle, h.w.State())
	assert.Equal(t, 1, h.w.Episode())
	assert.Equal(t, 1, h.env.resets)
	assert.FileExists(t, filepath.Join(h.cfg.DataDir, "sess-1", recorder.EpisodeFileName(0, "u1")))
}

func TestIdentifyNullUserGetsGeneratedID(t *testing.T) {
	h := newHarness(t, testConfig(t), PlayTrial{}, &fakeEnv{})
	h.send(t, `{"userId":null}`)
	h.tick(t)
	assert.Regexp(t, `^user_[0-9a-f-]{36}$`, h.w.UserID())
}

func TestIdentifyNumericUserKeepsValue(t *testing.T) {
	h := newHarness(t, testConfig(t), PlayTrial{}, &fakeEnv{})
	h.send(t, `{"userId":123}`)
	h.tick(t)
	assert.Equal(t, "123", h.w.UserID())
	assert.FileExists(t, filepath.Join(h.cfg.DataDir, "sess-1", recorder.EpisodeFileName(0, "123")))
}

func TestIdentifyUsesPerTypeUI(t *testing.T) {
	cfg := testConfig(t)
	cfg.UI = map[string][]string{TypePlayGame: {"left", "right"}}
	h := newHarness(t, cfg, PlayTrial{}, &fakeEnv{})

	out := h.identify(t)
	var ui protocol.UIMessage
	require.NoError(t, json.Unmarshal([]byte(out[0].Text), &ui))
	assert.Equal(t, []string{"left", "right"}, ui.UI)
}

func TestStartBeforeIdentifyIgnored(t *testing.T) {
	h := newHarness(t, testConfig(t), PlayTrial{}, &fakeEnv{})
	h.send(t, `{"command":"start"}`)
	h.tick(t)

	assert.Empty(t, h.drain(t))
	assert.Equal(t, StateInitializing, h.w.State())
	assert.Empty(t, h.env.actions)
}

func TestPlayingPushesOneFramePerTick(t *testing.T) {
	h := newHarness(t, testConfig(t), PlayTrial{}, &fakeEnv{})
	h.identify(t)

	h.send(t, `{"command":"start"}`)
	h.tick(t)
	h.tick(t)
	h.tick(t)

	out := h.drain(t)
	require.Len(t, out, 3)
	for i, e := range out {
		var frame protocol.FrameMessage
		require.NoError(t, json.Unmarshal([]byte(e.Text), &frame))
		assert.Equal(t, i+2, frame.FrameID)
	}
	assert.Len(t, h.env.actions, 3)

	h.send(t, `{"command":"pause"}`)
	h.tick(t)
	assert.Empty(t, h.drain(t))
	assert.Equal(t, StateIdle, h.w.State())
}

func TestBurstDrainsOneMessagePerTick(t *testing.T) {
	h := newHarness(t, testConfig(t), PlayTrial{}, &fakeEnv{})
	h.identify(t)
	h.send(t, `{"command":"start"}`)
	h.tick(t)
	h.drain(t)

	burst := []string{"right", "left", "right", "left"}
	for _, a := range burst {
		h.send(t, `{"action":"`+a+`"}`)
	}

	h.tick(t)
	assert.Equal(t, 1, h.w.HumanAction(), "only the oldest message is applied")
	assert.Equal(t, []int{0, 1}, h.env.actions)
	assert.Len(t, h.drain(t), 1, "one frame per tick")

	// The remaining messages come off one per tick, oldest first.
	for i := 1; i < len(burst); i++ {
		h.tick(t)
	}
	assert.Equal(t, []int{0, 1, 0, 1, 0}, h.env.actions)

	h.tick(t)
	assert.Equal(t, 0, h.env.actions[len(h.env.actions)-1], "queue is empty so the action holds")
	assert.Len(t, h.env.actions, 6)
}

func TestBurstWhileIdleAppliesOnePerTick(t *testing.T) {
	h := newHarness(t, testConfig(t), PlayTrial{}, &fakeEnv{})
	h.identify(t)
	start := h.w.FrameRate()

	for i := 0; i < 3; i++ {
		h.send(t, `{"changeFrameRate":"faster"}`)
	}
	h.tick(t)
	assert.Equal(t, start+h.cfg.FrameRateStepSize, h.w.FrameRate())

	h.tick(t)
	h.tick(t)
	assert.Equal(t, start+3*h.cfg.FrameRateStepSize, h.w.FrameRate())
	h.tick(t)
	assert.Equal(t, start+3*h.cfg.FrameRateStepSize, h.w.FrameRate())
}

func TestSimpleActionRecorded(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxEpisodes = 1
	h := newHarness(t, cfg, PlayTrial{}, &fakeEnv{})
	h.identify(t)

	h.send(t, `{"command":"start"}`)
	h.tick(t)
	h.send(t, `{"action":"left"}`)
	h.tick(t)
	h.send(t, `{"action":"RIGHT"}`)
	h.tick(t)
	h.send(t, `{"action":"jump"}`)
	h.tick(t)

	assert.Equal(t, []int{0, 0, 1, 0}, h.env.actions)

	require.NoError(t, h.w.end())
	records, err := recorder.ReadFile(filepath.Join(cfg.DataDir, "sess-1", recorder.EpisodeFileName(0, "u1")))
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, "u1", records[0]["userId"])
	assert.Equal(t, "start", records[0]["command"])
	assert.Equal(t, float64(0), records[1]["action"])
	assert.Equal(t, float64(1), records[2]["action"])
	assert.Equal(t, float64(0), records[3]["action"])
	for _, r := range records {
		assert.Contains(t, r, "reward")
		assert.Contains(t, r, "observation")
	}
	assert.NotContains(t, records[1], "command")
}

func TestAdvancedKeyboardEvents(t *testing.T) {
	cfg := testConfig(t)
	cfg.ActionSpace = nil
	cfg.AdvancedActionSpace = [][]string{nil, {"ArrowUp"}, {"ArrowUp", "ArrowLeft"}}
	cfg.ValidKeys = []string{"ArrowUp", "ArrowDown", "ArrowLeft"}
	h := newHarness(t, cfg, PlayTrial{}, &fakeEnv{})
	h.identify(t)

	h.send(t, `{"KeyboardEvent":{"KEYDOWN":["ArrowUp"]}}`)
	h.tick(t)
	assert.Equal(t, 1, h.w.HumanAction())

	h.send(t, `{"KeyboardEvent":{"KEYDOWN":["ArrowDown"]}}`)
	h.tick(t)
	assert.Equal(t, []string{"ArrowDown", "ArrowUp"}, h.w.ActiveKeys())
	assert.Equal(t, 0, h.w.HumanAction())

	h.send(t, `{"KeyboardEvent":{"KEYUP":["ArrowDown"],"KEYDOWN":["ArrowLeft","Space"]}}`)
	h.tick(t)
	assert.Equal(t, []string{"ArrowLeft", "ArrowUp"}, h.w.ActiveKeys())
	assert.Equal(t, 2, h.w.HumanAction())

	// Simple labels do nothing in advanced mode.
	h.send(t, `{"action":"left"}`)
	h.tick(t)
	assert.Equal(t, 2, h.w.HumanAction())
}

func TestCommandTakesPriorityOverAction(t *testing.T) {
	h := newHarness(t, testConfig(t), PlayTrial{}, &fakeEnv{})
	h.identify(t)

	h.send(t, `{"command":"start","action":"right"}`)
	h.tick(t)
	assert.Equal(t, StatePlaying, h.w.State())
	assert.Equal(t, 0, h.w.HumanAction())
}

func TestChangeFrameRate(t *testing.T) {
	h := newHarness(t, testConfig(t), PlayTrial{}, &fakeEnv{})
	require.Equal(t, 30, h.w.FrameRate())

	h.w.changeFrameRate("faster")
	assert.Equal(t, 35, h.w.FrameRate())

	for i := 0; i < 20; i++ {
		h.w.changeFrameRate("faster")
	}
	assert.Equal(t, 85, h.w.FrameRate())

	h.w.changeFrameRate("40")
	assert.Equal(t, 40, h.w.FrameRate())

	for _, bad := range []string{"90", "1", "0", "abc", "", "1000"} {
		h.w.changeFrameRate(bad)
		assert.Equal(t, 40, h.w.FrameRate(), "input %q", bad)
	}

	for i := 0; i < 20; i++ {
		h.w.changeFrameRate("Slower")
	}
	assert.Equal(t, 5, h.w.FrameRate())
}

func TestChangeFrameRateDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.AllowFrameRateChange = false
	h := newHarness(t, cfg, PlayTrial{}, &fakeEnv{})

	h.send(t, `{"changeFrameRate":"faster"}`)
	h.tick(t)
	assert.Equal(t, 30, h.w.FrameRate())
}

func TestFrameRateStaysInBounds(t *testing.T) {
	h := newHarness(t, testConfig(t), PlayTrial{}, &fakeEnv{})
	inputs := []string{"faster", "slower", "45", "89", "2", "-4", "faster", "faster", "slower", "7", "x"}
	for i := 0; i < 500; i++ {
		h.w.changeFrameRate(inputs[(i*7+i/3)%len(inputs)])
		rate := h.w.FrameRate()
		require.Greater(t, rate, h.cfg.MinFrameRate)
		require.Less(t, rate, h.cfg.MaxFrameRate)
	}
}

func TestParseErrorAnswered(t *testing.T) {
	h := newHarness(t, testConfig(t), PlayTrial{}, &fakeEnv{})
	h.identify(t)
	h.send(t, `{"command":"start"}`)
	for i := 0; i < 6; i++ {
		h.tick(t)
	}
	h.drain(t)
	require.Equal(t, 7, h.w.FrameID())

	h.send(t, `{not json`)
	h.tick(t)
	out := h.drain(t)
	require.Equal(t, []protocol.Kind{protocol.KindError, protocol.KindFrame}, kinds(out))
	assert.JSONEq(t, `{"error":"unable to parse message","frameId":7}`, out[0].Text)
	assert.Equal(t, StatePlaying, h.w.State())
}

func TestEpisodeModeRotationAndUploads(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxEpisodes = 2
	cfg.S3Upload = true
	cfg.Bucket = "bkt"
	cfg.ProjectID = "proj"
	h := newHarness(t, cfg, PlayTrial{}, &fakeEnv{doneAfter: 2})
	h.identify(t)

	h.send(t, `{"command":"start"}`)
	for i := 0; i < 4 && !h.w.Terminal(); i++ {
		h.tick(t)
	}
	require.True(t, h.w.Terminal())

	out := h.drain(t)
	assert.Equal(t, []protocol.Kind{
		protocol.KindFrame, protocol.KindFrame, protocol.KindUpload,
		protocol.KindFrame, protocol.KindFrame, protocol.KindUpload,
		protocol.KindDone,
	}, kinds(out))

	dir := filepath.Join(cfg.DataDir, "sess-1")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	for i, e := range []protocol.Envelope{out[2], out[5]} {
		name := recorder.EpisodeFileName(i, "u1")
		require.NotNil(t, e.Upload)
		assert.Equal(t, name, e.Upload.File)
		assert.Equal(t, filepath.Join(dir, name), e.Upload.FilePath)
		assert.Equal(t, "proj/Trials/u1/"+name, e.Upload.StoragePath)
		assert.Equal(t, "bkt", e.Upload.Bucket)
		assert.True(t, e.Upload.Compress)

		records, err := recorder.ReadFile(e.Upload.FilePath)
		require.NoError(t, err)
		assert.Len(t, records, 2)
	}
	assert.Equal(t, protocol.DoneText, out[6].Text)
	assert.Equal(t, 1, h.env.closes)
}

func TestTrialModeSingleFileSingleUpload(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataFile = config.DataFileTrial
	cfg.MaxEpisodes = 3
	cfg.S3Upload = true
	cfg.Bucket = "bkt"
	cfg.ProjectID = "proj"
	h := newHarness(t, cfg, PlayTrial{}, &fakeEnv{doneAfter: 1})
	h.identify(t)

	h.send(t, `{"command":"start"}`)
	for i := 0; i < 10 && !h.w.Terminal(); i++ {
		h.tick(t)
	}
	require.True(t, h.w.Terminal())

	out := h.drain(t)
	assert.Equal(t, []protocol.Kind{
		protocol.KindFrame, protocol.KindFrame, protocol.KindFrame,
		protocol.KindUpload, protocol.KindDone,
	}, kinds(out))
	assert.Equal(t, recorder.TrialFileName("u1"), out[3].Upload.File)

	records, err := recorder.ReadTrialFile(out[3].Upload.FilePath)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, 3, h.env.resets)
}

func TestResetAtMaximumTerminates(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxEpisodes = 1
	h := newHarness(t, cfg, PlayTrial{}, &fakeEnv{})
	h.identify(t)

	dir := filepath.Join(cfg.DataDir, "sess-1")
	before, err := os.ReadDir(dir)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.w.reset())
		assert.True(t, h.w.Terminal())
	}
	after, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
	assert.Equal(t, 1, h.env.resets)
	assert.Equal(t, []protocol.Kind{protocol.KindDone}, kinds(h.drain(t)))
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig(t), PlayTrial{}, &fakeEnv{})
	h.identify(t)

	h.send(t, `{"command":"stop"}`)
	h.tick(t)
	require.True(t, h.w.Terminal())
	require.NoError(t, h.w.end())

	assert.Equal(t, []protocol.Kind{protocol.KindDone}, kinds(h.drain(t)))
	assert.Equal(t, 1, h.env.closes)
}

func TestRequestUIAnytime(t *testing.T) {
	h := newHarness(t, testConfig(t), PlayTrial{}, &fakeEnv{})
	h.send(t, `{"command":"requestUI"}`)
	h.tick(t)
	assert.Equal(t, []protocol.Kind{protocol.KindUI}, kinds(h.drain(t)))
}

func TestRunCompletesTrial(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxEpisodes = 2
	h := newHarness(t, cfg, PlayTrial{}, &fakeEnv{doneAfter: 3})
	h.send(t, `{"userId":"u1"}`)
	h.send(t, `{"command":"start"}`)

	require.NoError(t, h.w.Run())
	assert.True(t, h.w.Terminal())

	out := h.drain(t)
	require.NotEmpty(t, out)
	assert.Equal(t, protocol.KindDone, out[len(out)-1].Kind)
	assert.Len(t, h.env.actions, 6)

	sleeps := h.clock.Sleeps()
	require.NotEmpty(t, sleeps)
	assert.Equal(t, clock.Period(30), sleeps[0])
}

func TestRunChannelClosedTearsDown(t *testing.T) {
	h := newHarness(t, testConfig(t), PlayTrial{}, &fakeEnv{})
	h.identify(t)
	h.send(t, `{"command":"start"}`)
	require.NoError(t, h.client.Close())

	require.NoError(t, h.w.Run())
	assert.True(t, h.w.Terminal())
	assert.Equal(t, 1, h.env.closes)

	// The open episode file was closed cleanly.
	records, err := recorder.ReadFile(filepath.Join(h.cfg.DataDir, "sess-1", recorder.EpisodeFileName(0, "u1")))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRunRenderFailureIsFatal(t *testing.T) {
	h := newHarness(t, testConfig(t), PlayTrial{}, &fakeEnv{failRenders: 1})
	h.send(t, `{"userId":"u1"}`)
	h.send(t, `{"command":"start"}`)

	err := h.w.Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRender)
	assert.True(t, h.w.Terminal())

	out := h.drain(t)
	assert.Equal(t, []protocol.Kind{protocol.KindUI, protocol.KindFrame, protocol.KindDone}, kinds(out))
	assert.Equal(t, 1, h.env.closes)
}

func TestRecordingDirUnwritable(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(cfg.DataDir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.DataDir = blocker

	client, server := channel.Pair(8)
	defer client.Close()
	_, err := New(Options{SessionID: "s", Config: cfg, Variant: PlayTrial{}, Conn: server, Adapter: &fakeEnv{}})
	assert.ErrorIs(t, err, ErrIO)
}

func TestPlayTrialUnknownGameNeedsEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Game = "Pong-v4"
	client, server := channel.Pair(8)
	defer client.Close()
	_, err := New(Options{SessionID: "s", Config: cfg, Variant: PlayTrial{}, Conn: server})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestPlayTrialDemoEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxEpisodes = 1
	client, server := channel.Pair(64)
	defer client.Close()
	w, err := New(Options{SessionID: "s", Config: cfg, Variant: PlayTrial{}, Conn: server, Clock: clock.NewMockClock(time.Unix(0, 0))})
	require.NoError(t, err)

	require.NoError(t, client.Send(protocol.Client([]byte(`{"userId":"u1"}`))))
	require.NoError(t, w.Tick())
	require.NoError(t, client.Send(protocol.Client([]byte(`{"command":"start"}`))))
	require.NoError(t, w.Tick())
	require.NoError(t, w.Tick())
	assert.Equal(t, 3, w.FrameID())
	require.NoError(t, w.end())
}

func writeReplayTrace(t *testing.T, root string, index, steps int) {
	t.Helper()
	exp := filepath.Join(root, "exp")
	require.NoError(t, os.MkdirAll(exp, 0o755))
	rec, err := recorder.New(exp, recorder.ModeEpisode)
	require.NoError(t, err)
	require.NoError(t, rec.Rotate(env.ReplayFilePrefix+strconv.Itoa(index)))
	for i := 0; i < steps; i++ {
		require.NoError(t, rec.Append(recorder.Record{
			"observation": [][]float64{{0, 255}, {255, 0}},
			"reward":      0,
		}))
	}
	require.NoError(t, rec.Finalize())
}

func TestFeedbackTrialRecordsJudgements(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReplayDir = t.TempDir()
	writeReplayTrace(t, cfg.ReplayDir, 0, 6)

	client, server := channel.Pair(64)
	defer client.Close()
	fb := &FeedbackTrial{}
	w, err := New(Options{SessionID: "s", Config: cfg, Variant: fb, Conn: server, Clock: clock.NewMockClock(time.Unix(0, 0))})
	require.NoError(t, err)

	send := func(msg string) {
		require.NoError(t, client.Send(protocol.Client([]byte(msg))))
		require.NoError(t, w.Tick())
	}
	send(`{"userId":"u1"}`)
	send(`{"command":"start"}`)
	send(`{"command":"good"}`)
	send(`{"command":"bad"}`)
	require.NoError(t, w.Tick())
	require.NoError(t, w.end())

	records, err := recorder.ReadFile(filepath.Join(cfg.DataDir, "s", recorder.EpisodeFileName(0, "u1")))
	require.NoError(t, err)
	require.Len(t, records, 4)

	var got []float64
	for _, r := range records {
		got = append(got, r["feedback"].(float64))
	}
	assert.Equal(t, []float64{0, 1, -1, 0}, got)
	assert.Equal(t, float64(1), records[0]["step"])
	assert.Equal(t, float64(4), records[3]["step"])
	assert.Equal(t, 0, fb.Feedback())
}

func TestFeedbackTrialNeedsSingleExperiment(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReplayDir = t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(cfg.ReplayDir, "a"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(cfg.ReplayDir, "b"), 0o755))

	client, server := channel.Pair(8)
	defer client.Close()
	_, err := New(Options{SessionID: "s", Config: cfg, Variant: &FeedbackTrial{}, Conn: server, Adapter: &fakeEnv{}})
	assert.ErrorIs(t, err, ErrConfiguration)
}
