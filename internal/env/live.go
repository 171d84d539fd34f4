package env

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"grimm.is/humangym/internal/channel"
)

// Bridge operations.
const (
	OpStart  = "start"
	OpStep   = "step"
	OpRender = "render"
	OpReset  = "reset"
	OpClose  = "close"
)

// InfoTimeLimit is set in StepResult.Info when an episode is cut at maxSteps.
const InfoTimeLimit = "TimeLimit.truncated"

// BridgeRequest is one line sent to the engine bridge.
type BridgeRequest struct {
	Op        string `json:"op"`
	Game      string `json:"game,omitempty"`
	Frameskip int    `json:"frameskip,omitempty"`
	Action    int    `json:"action"`
}

// BridgeResponse is the engine's answer to one request.
type BridgeResponse struct {
	OK    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
	Step  *StepResult `json:"step,omitempty"`
	Frame *Frame      `json:"frame,omitempty"`
}

// Live drives an external engine over a request/response JSON-lines link.
type Live struct {
	command []string
	proc    *exec.Cmd

	codec  *channel.Codec
	closer io.Closer

	maxSteps int
	steps    int
	started  bool
}

// NewLive returns an adapter that starts command on Start. The engine
// reads requests on stdin and answers on stdout; its stderr is inherited.
func NewLive(command []string) *Live {
	return &Live{command: command}
}

// NewLiveConn returns an adapter speaking to an engine that is already
// connected through r and w.
func NewLiveConn(r io.Reader, w io.WriteCloser) *Live {
	return &Live{codec: channel.NewCodec(r, w), closer: w}
}

// Start launches the engine if needed and asks it to load game.
func (l *Live) Start(game string, frameskip, maxSteps int) error {
	if l.codec == nil {
		if len(l.command) == 0 {
			return errors.New("no engine command configured")
		}
		cmd := exec.Command(l.command[0], l.command[1:]...)
		cmd.Stderr = os.Stderr
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("engine stdin: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("engine stdout: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start engine %q: %w", l.command[0], err)
		}
		l.proc = cmd
		l.codec = channel.NewCodec(stdout, stdin)
		l.closer = stdin
	}

	if _, err := l.call(BridgeRequest{Op: OpStart, Game: game, Frameskip: frameskip}); err != nil {
		return err
	}
	l.maxSteps = maxSteps
	l.steps = 0
	l.started = true
	return nil
}

// Step sends action and enforces the episode step limit.
func (l *Live) Step(action int) (*StepResult, error) {
	if !l.started {
		return nil, ErrNotStarted
	}
	resp, err := l.call(BridgeRequest{Op: OpStep, Action: action})
	if err != nil {
		return nil, err
	}
	if resp.Step == nil {
		return nil, fmt.Errorf("engine step: empty result")
	}
	l.steps++
	if l.maxSteps > 0 && l.steps >= l.maxSteps && !resp.Step.Done {
		resp.Step.Done = true
		if resp.Step.Info == nil {
			resp.Step.Info = map[string]any{}
		}
		resp.Step.Info[InfoTimeLimit] = true
	}
	return resp.Step, nil
}

// Render fetches the current frame.
func (l *Live) Render() (*Frame, error) {
	if !l.started {
		return nil, ErrNotStarted
	}
	resp, err := l.call(BridgeRequest{Op: OpRender})
	if err != nil {
		return nil, err
	}
	if resp.Frame == nil {
		return nil, fmt.Errorf("engine render: no frame")
	}
	return resp.Frame, nil
}

// Reset starts a new episode.
func (l *Live) Reset() error {
	if !l.started {
		return ErrNotStarted
	}
	if _, err := l.call(BridgeRequest{Op: OpReset}); err != nil {
		return err
	}
	l.steps = 0
	return nil
}

// Close asks the engine to shut down and waits for it.
func (l *Live) Close() error {
	if l.codec == nil {
		return nil
	}
	var firstErr error
	if l.started {
		if _, err := l.call(BridgeRequest{Op: OpClose}); err != nil {
			firstErr = err
		}
	}
	l.started = false
	if l.closer != nil {
		l.closer.Close()
	}
	if l.proc != nil {
		if err := l.proc.Wait(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("engine exit: %w", err)
		}
		l.proc = nil
	}
	l.codec = nil
	return firstErr
}

func (l *Live) call(req BridgeRequest) (*BridgeResponse, error) {
	if err := l.codec.Encode(req); err != nil {
		return nil, fmt.Errorf("engine %s: %w", req.Op, err)
	}
	var resp BridgeResponse
	if err := l.codec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("engine %s: %w", req.Op, err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("engine %s: %s", req.Op, resp.Error)
	}
	return &resp, nil
}
