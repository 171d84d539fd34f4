package trial

import (
	"grimm.is/humangym/internal/env"
	"grimm.is/humangym/internal/protocol"
)

// Trial type names as they appear in trial_types.
const (
	TypePlayGame     = "play_game"
	TypeGiveFeedback = "give_feedback"
)

// Feedback commands accepted by FeedbackTrial.
const (
	CommandGood = "good"
	CommandBad  = "bad"
)

// Variant is the behaviour that differs between trial types.
type Variant interface {
	// Name returns the trial type name.
	Name() string
	// Start returns a started environment for the worker.
	Start(w *Worker) (env.Adapter, error)
	// TakeStep steps the environment once and commits the record.
	TakeStep(w *Worker) error
	// HandleCommand sees every normalised command after the common ones.
	HandleCommand(w *Worker, command string)
}

// PlayTrial lets a human drive a live environment.
type PlayTrial struct{}

// Name implements Variant.
func (PlayTrial) Name() string { return TypePlayGame }

// Start implements Variant.
func (PlayTrial) Start(w *Worker) (env.Adapter, error) {
	cfg := w.cfg
	a := w.adapter
	if a == nil {
		switch {
		case len(cfg.EngineCommand) > 0:
			a = env.NewLive(cfg.EngineCommand)
		case cfg.Game == "" || cfg.Game == env.DemoGame:
			a = env.NewDemo(w.clock.Now().UnixNano())
		default:
			return nil, classify(ErrConfiguration, "start", errNoEngine(cfg.Game))
		}
	}
	game := cfg.Game
	if game == "" {
		game = env.DemoGame
	}
	if err := a.Start(game, cfg.Frameskip, cfg.MaxEpisodeFrames); err != nil {
		return nil, classify(ErrEnvironment, "start", err)
	}
	return a, nil
}

// TakeStep implements Variant.
func (PlayTrial) TakeStep(w *Worker) error {
	res, err := w.envStep()
	if err != nil {
		return err
	}
	w.merge(res.Fields())
	w.merge(map[string]any{protocol.FieldAction: w.humanAction})
	return w.commit(res.Done)
}

// HandleCommand implements Variant.
func (PlayTrial) HandleCommand(*Worker, string) {}

// FeedbackTrial replays a recorded trace and collects good/bad judgements.
type FeedbackTrial struct {
	feedback int
}

// Name implements Variant.
func (*FeedbackTrial) Name() string { return TypeGiveFeedback }

// Start implements Variant. The trace is chosen by the per-type counter
// the session was assigned.
func (*FeedbackTrial) Start(w *Worker) (env.Adapter, error) {
	path, err := env.ReplayPath(w.cfg.ReplayDir, w.index)
	if err != nil {
		return nil, classify(ErrConfiguration, "replay", err)
	}
	w.log.Info("starting feedback trial", "index", w.index, "path", path)

	a := w.adapter
	if a == nil {
		a = env.NewReplay()
	}
	if err := a.Start(path, w.cfg.Frameskip, w.cfg.MaxEpisodeFrames); err != nil {
		return nil, classify(ErrEnvironment, "start", err)
	}
	return a, nil
}

// TakeStep implements Variant.
func (f *FeedbackTrial) TakeStep(w *Worker) error {
	res, err := w.envStep()
	if err != nil {
		return err
	}
	w.merge(map[string]any{"step": res.Step, "feedback": f.feedback})
	f.feedback = 0
	return w.commit(res.Done)
}

// HandleCommand implements Variant.
func (f *FeedbackTrial) HandleCommand(_ *Worker, command string) {
	switch command {
	case CommandGood:
		f.feedback = 1
	case CommandBad:
		f.feedback = -1
	}
}

// Feedback returns the pending judgement.
func (f *FeedbackTrial) Feedback() int {
	return f.feedback
}
