// Package trial runs one session: a bounded sequence of episodes driven by
// client messages arriving over a duplex channel.
//
// A Worker polls at most one inbound message per tick, dispatches it, and
// while playing pushes exactly one frame and records exactly one step per
// tick, sleeping one frame period between ticks.
package trial

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"grimm.is/humangym/internal/action"
	"grimm.is/humangym/internal/channel"
	"grimm.is/humangym/internal/clock"
	"grimm.is/humangym/internal/config"
	"grimm.is/humangym/internal/env"
	"grimm.is/humangym/internal/logging"
	"grimm.is/humangym/internal/protocol"
	"grimm.is/humangym/internal/recorder"
)

// State is the worker lifecycle position.
type State int

const (
	StateInitializing State = iota
	StateIdle               // identified, paused
	StatePlaying
	StateEnding
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StateEnding:
		return "ending"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Frame-rate change tokens.
const (
	RateFaster = "faster"
	RateSlower = "slower"
)

// Options configures a Worker.
type Options struct {
	SessionID string
	// Index is the per-type counter value at assignment. Replay trials
	// use it to pick their trace.
	Index   int
	Config  *config.TrialConfig
	Variant Variant
	Conn    channel.Conn
	Clock   clock.Clock
	Logger  *logging.Logger
	// Adapter replaces the environment the variant would build. It is
	// still started by the variant.
	Adapter env.Adapter
}

// Worker owns one trial. It is not safe for concurrent use; everything
// outside reaches it through the channel.
type Worker struct {
	id      string
	index   int
	cfg     *config.TrialConfig
	variant Variant
	conn    channel.Conn
	clock   clock.Clock
	log     *logging.Logger

	adapter    env.Adapter
	translator *action.Translator
	rec        *recorder.Recorder

	state       State
	userID      string
	frameID     int
	episode     int
	frameRate   int
	humanAction int
	next        recorder.Record
}

// New builds a worker and starts its environment.
func New(opts Options) (*Worker, error) {
	if opts.Config == nil {
		return nil, classify(ErrConfiguration, "new", errors.New("no trial config"))
	}
	if opts.Variant == nil {
		return nil, classify(ErrConfiguration, "new", errors.New("no trial variant"))
	}
	if opts.Conn == nil {
		return nil, errors.New("trial: no channel")
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Clock == nil {
		opts.Clock = &clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}

	cfg := opts.Config
	w := &Worker{
		id:        opts.SessionID,
		index:     opts.Index,
		cfg:       cfg,
		variant:   opts.Variant,
		conn:      opts.Conn,
		clock:     opts.Clock,
		adapter:   opts.Adapter,
		frameRate: cfg.StartingFrameRate,
		next:      recorder.Record{},
		log: opts.Logger.WithComponent("worker").WithFields(map[string]any{
			"session":    opts.SessionID,
			"trial_type": opts.Variant.Name(),
		}),
	}

	w.translator = newTranslator(cfg)
	w.humanAction = w.translator.Initial()

	mode := recorder.ModeEpisode
	if cfg.TrialMode() {
		mode = recorder.ModeTrial
	}
	rec, err := recorder.New(filepath.Join(cfg.DataDir, w.id), mode)
	if err != nil {
		return nil, classify(ErrIO, "recorder", err)
	}
	w.rec = rec

	adapter, err := w.variant.Start(w)
	if err != nil {
		return nil, err
	}
	w.adapter = adapter

	w.log.Info("worker ready", "action_space", w.translator.String(), "recording", mode.String(), "framerate", w.frameRate)
	return w, nil
}

func newTranslator(cfg *config.TrialConfig) *action.Translator {
	switch {
	case cfg.AdvancedActionSpace != nil:
		return action.NewAdvanced(action.NewIndexedTable(cfg.AdvancedActionSpace), cfg.ValidKeys)
	case cfg.ContinuousActionSpace != nil:
		bindings := make([]action.Binding, len(cfg.ContinuousActionSpace))
		for i, b := range cfg.ContinuousActionSpace {
			bindings[i] = action.Binding{Keys: b.Keys, Action: b.Action}
		}
		return action.NewAdvanced(action.NewTable(bindings), cfg.ValidKeys)
	default:
		return action.NewSimple(cfg.ActionSpace)
	}
}

// Run ticks until the trial terminates or the peer goes away. A returned
// error is fatal and has already triggered cleanup.
func (w *Worker) Run() error {
	for !w.Terminal() {
		if err := w.Tick(); err != nil {
			if errors.Is(err, channel.ErrClosed) {
				w.log.Info("channel closed, tearing down")
				w.teardown()
				return nil
			}
			return w.abort(err)
		}
		if w.Terminal() {
			break
		}
		w.clock.Sleep(clock.Period(w.frameRate))
	}
	return nil
}

// Tick handles one pending message and, when playing, one frame and step.
func (w *Worker) Tick() error {
	in, ok, err := w.conn.Poll()
	if err != nil {
		return err
	}
	if ok {
		if err := w.handle(in); err != nil {
			return err
		}
	}
	if w.state == StatePlaying {
		if err := w.pushFrame(); err != nil {
			return err
		}
		return w.variant.TakeStep(w)
	}
	return nil
}

func (w *Worker) handle(e protocol.Envelope) error {
	if e.Kind != protocol.KindClient {
		w.log.Warn("ignoring unexpected envelope", "kind", e.Kind)
		return nil
	}

	msg, err := protocol.ParseClientMessage([]byte(e.Text))
	if err != nil {
		w.log.Debug("unparseable message", "error", err, "frame_id", w.frameID)
		reply := protocol.ErrorMessage{Error: protocol.ParseErrorMessage, FrameID: w.frameID}
		out, encErr := protocol.ParseError(w.frameID)
		if encErr != nil {
			return classify(ErrSerialization, "parse error reply", encErr)
		}
		w.merge(reply.Fields())
		return w.conn.Send(out)
	}
	return w.dispatch(msg)
}

// dispatch acts on at most one category per message, in priority order,
// then keeps the whole message for the next record.
func (w *Worker) dispatch(msg *protocol.ClientMessage) error {
	if w.userID == "" && msg.HasUserID {
		if err := w.identify(msg.UserID); err != nil {
			return err
		}
	}

	var err error
	switch {
	case msg.Command != "":
		err = w.handleCommand(msg.Command)
	case msg.ChangeFrameRate != "":
		w.changeFrameRate(msg.ChangeFrameRate)
	case msg.Action != "" && w.translator.Mode() == action.ModeSimple:
		w.humanAction = w.translator.Label(msg.Action)
	case msg.KeyboardEvent != nil && w.translator.Mode() == action.ModeAdvanced:
		w.humanAction = w.translator.Keys(msg.KeyboardEvent.KeyDown, msg.KeyboardEvent.KeyUp)
	}

	w.merge(msg.Fields)
	return err
}

func (w *Worker) identify(userID string) error {
	if userID == "" {
		userID = "user_" + uuid.NewString()
	}
	w.userID = userID
	w.state = StateIdle
	w.log = w.log.WithFields(map[string]any{"user": userID})
	w.log.Info("user identified")

	if err := w.sendUI(); err != nil {
		return err
	}
	if err := w.reset(); err != nil {
		return err
	}
	if w.Terminal() {
		return nil
	}
	return w.pushFrame()
}

func (w *Worker) handleCommand(raw string) error {
	command := protocol.NormalizeCommand(raw)
	var err error
	switch command {
	case protocol.CommandStart:
		if w.state == StateIdle {
			w.state = StatePlaying
		}
	case protocol.CommandStop:
		err = w.end()
	case protocol.CommandReset:
		if w.userID != "" {
			err = w.reset()
		}
	case protocol.CommandPause:
		if w.state == StatePlaying {
			w.state = StateIdle
		}
	case protocol.CommandRequestUI:
		err = w.sendUI()
	}
	if err != nil || w.Terminal() {
		return err
	}
	w.variant.HandleCommand(w, command)
	return nil
}

// changeFrameRate keeps the rate strictly inside (min, max).
func (w *Worker) changeFrameRate(raw string) {
	if !w.cfg.AllowFrameRateChange {
		return
	}
	step, lo, hi := w.cfg.FrameRateStepSize, w.cfg.MinFrameRate, w.cfg.MaxFrameRate
	change := protocol.NormalizeCommand(raw)

	switch {
	case change == RateFaster && w.frameRate+step < hi:
		w.frameRate += step
	case change == RateSlower && w.frameRate-step > lo:
		w.frameRate -= step
	default:
		if n, err := strconv.Atoi(change); err == nil && n > lo && n < hi {
			w.frameRate = n
		}
	}
}

// reset starts the next episode, or ends the trial once maxEpisodes
// episodes have been started.
func (w *Worker) reset() error {
	if w.episode >= w.cfg.MaxEpisodes {
		return w.end()
	}
	if err := w.adapter.Reset(); err != nil {
		return classify(ErrEnvironment, "reset", err)
	}

	if w.rec.Mode() == recorder.ModeTrial {
		if !w.rec.IsOpen() {
			if err := w.rec.Rotate(recorder.TrialFileName(w.userID)); err != nil {
				return classify(ErrIO, "open recording", err)
			}
		}
	} else {
		if err := w.finalizeRecording(); err != nil {
			return err
		}
		if err := w.rec.Rotate(recorder.EpisodeFileName(w.episode, w.userID)); err != nil {
			return classify(ErrIO, "open recording", err)
		}
	}

	w.episode++
	w.log.Debug("episode started", "episode", w.episode)
	return nil
}

// finalizeRecording closes the open file and queues it for upload.
func (w *Worker) finalizeRecording() error {
	if !w.rec.IsOpen() {
		return nil
	}
	name, path := w.rec.Name(), w.rec.Path()
	if err := w.rec.Finalize(); err != nil {
		if errors.Is(err, recorder.ErrEncode) {
			return classify(ErrSerialization, "flush recording", err)
		}
		return classify(ErrIO, "close recording", err)
	}
	if !w.cfg.S3Upload {
		return nil
	}
	return w.conn.Send(protocol.Upload(protocol.UploadRequest{
		ProjectID:   w.cfg.ProjectID,
		UserID:      w.userID,
		File:        name,
		FilePath:    path,
		StoragePath: protocol.StorageKey(w.cfg.ProjectID, w.userID, name),
		Bucket:      w.cfg.Bucket,
		Compress:    true,
	}))
}

// end finishes the trial: flush and close the recording, queue its upload,
// signal completion, then close the environment. Calling it again is a
// no-op.
func (w *Worker) end() error {
	if w.state >= StateEnding {
		return nil
	}
	w.state = StateEnding
	w.log.Info("trial ending", "episodes", w.episode, "frames", w.frameID)

	var errs []error
	if err := w.finalizeRecording(); err != nil {
		errs = append(errs, err)
	}
	if err := w.conn.Send(protocol.Done()); err != nil {
		errs = append(errs, err)
	}
	if err := w.adapter.Close(); err != nil {
		w.log.Warn("environment close failed", "error", err)
	}
	w.state = StateTerminated
	return errors.Join(errs...)
}

// teardown releases resources without talking to the peer.
func (w *Worker) teardown() {
	if w.state == StateTerminated {
		return
	}
	if err := w.rec.Finalize(); err != nil {
		w.log.Warn("recording close failed", "error", err)
	}
	if err := w.adapter.Close(); err != nil {
		w.log.Warn("environment close failed", "error", err)
	}
	w.state = StateTerminated
}

// abort runs the stop path best-effort after a fatal error.
func (w *Worker) abort(cause error) error {
	w.log.Error("session failed", "error", cause)
	if err := w.end(); err != nil {
		w.log.Warn("cleanup after failure incomplete", "error", err)
	}
	w.teardown()
	return cause
}

// pushFrame renders, encodes and sends one frame. Nothing is sent unless
// every stage succeeds.
func (w *Worker) pushFrame() error {
	frame, err := w.adapter.Render()
	if err != nil {
		return classify(ErrRender, "render", err)
	}
	img, err := frame.Image()
	if err != nil {
		return classify(ErrRender, "render", err)
	}
	encoded, err := env.EncodeImage(img)
	if err != nil {
		return classify(ErrSerialization, "encode frame", err)
	}
	out, err := protocol.Frame(encoded, w.frameID+1)
	if err != nil {
		return classify(ErrSerialization, "encode frame", err)
	}
	w.frameID++
	return w.conn.Send(out)
}

func (w *Worker) sendUI() error {
	out, err := protocol.UI(w.cfg.UIFor(w.variant.Name()))
	if err != nil {
		return classify(ErrSerialization, "encode ui", err)
	}
	return w.conn.Send(out)
}

func (w *Worker) envStep() (*env.StepResult, error) {
	res, err := w.adapter.Step(w.humanAction)
	if err != nil {
		return nil, classify(ErrEnvironment, "step", err)
	}
	return res, nil
}

func (w *Worker) merge(fields map[string]any) {
	for k, v := range fields {
		w.next[k] = v
	}
}

// commit hands the pending record to the recorder and starts a new one.
func (w *Worker) commit(done bool) error {
	rec := w.next
	w.next = recorder.Record{}

	if err := w.rec.Append(rec); err != nil {
		if errors.Is(err, recorder.ErrEncode) {
			return classify(ErrSerialization, "record step", err)
		}
		return classify(ErrIO, "record step", err)
	}
	if done {
		return w.reset()
	}
	return nil
}

// Terminal reports whether the trial is over.
func (w *Worker) Terminal() bool { return w.state == StateTerminated }

// State returns the lifecycle position.
func (w *Worker) State() State { return w.state }

// SessionID returns the session id.
func (w *Worker) SessionID() string { return w.id }

// UserID returns the identified user, or "".
func (w *Worker) UserID() string { return w.userID }

// FrameID returns the id of the last frame pushed.
func (w *Worker) FrameID() int { return w.frameID }

// Episode returns the number of episodes started.
func (w *Worker) Episode() int { return w.episode }

// FrameRate returns the current ticks per second.
func (w *Worker) FrameRate() int { return w.frameRate }

// HumanAction returns the action code applied on the next step.
func (w *Worker) HumanAction() int { return w.humanAction }

// ActiveKeys returns the held keys for advanced action spaces.
func (w *Worker) ActiveKeys() []string {
	if w.translator.Mode() != action.ModeAdvanced {
		return nil
	}
	return w.translator.ActiveKeys()
}

// RecordingDir returns where recordings are written.
func (w *Worker) RecordingDir() string { return w.rec.Dir() }

func errNoEngine(game string) error {
	return fmt.Errorf("game %q needs an engineCommand", game)
}
