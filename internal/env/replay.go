package env

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"grimm.is/humangym/internal/recorder"
)

// ReplayFilePrefix prefixes numbered trace files in an experiment directory.
const ReplayFilePrefix = "replay_data_"

// ErrMultipleExperiments is returned when the replay root does not hold
// exactly one experiment directory.
type ErrMultipleExperiments struct {
	Root  string
	Found []string
}

func (e *ErrMultipleExperiments) Error() string {
	return fmt.Sprintf("expected 1 experiment in %s, got %d: %v", e.Root, len(e.Found), e.Found)
}

// ReplayPath resolves <root>/<experiment>/replay_data_<index>. The root must
// contain exactly one entry.
func ReplayPath(root string, index int) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("read replay dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if len(names) != 1 {
		return "", &ErrMultipleExperiments{Root: root, Found: names}
	}
	return filepath.Join(root, names[0], fmt.Sprintf("%s%d", ReplayFilePrefix, index)), nil
}

// Replay steps through a recorded trace. Actions are ignored.
type Replay struct {
	steps []recorder.Record
	idx   int
}

// NewReplay returns an unstarted replay adapter.
func NewReplay() *Replay {
	return &Replay{}
}

// Start loads the trace at path, or path+".gz" when only the compressed
// copy exists. Episode and trial recordings are both accepted. frameskip
// and maxSteps do not apply.
func (r *Replay) Start(path string, frameskip, maxSteps int) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if _, gzErr := os.Stat(path + recorder.GzipSuffix); gzErr == nil {
			path += recorder.GzipSuffix
		}
	}
	steps, err := recorder.ReadTraceFile(path)
	if err != nil {
		return fmt.Errorf("load replay %s: %w", path, err)
	}
	if len(steps) == 0 {
		return fmt.Errorf("replay %s has no steps", path)
	}
	r.steps = steps
	r.idx = 0
	return nil
}

// Step advances one record. The last record is sticky and reports done.
func (r *Replay) Step(action int) (*StepResult, error) {
	if r.steps == nil {
		return nil, ErrNotStarted
	}
	if r.idx < len(r.steps)-1 {
		r.idx++
	}
	done, _ := r.steps[r.idx]["done"].(bool)
	if r.idx == len(r.steps)-1 {
		done = true
	}
	return &StepResult{Step: r.idx, Done: done}, nil
}

// Render returns the observation at the current position.
func (r *Replay) Render() (*Frame, error) {
	if r.steps == nil {
		return nil, ErrNotStarted
	}
	return FrameFromObservation(r.steps[r.idx]["observation"])
}

// Reset rewinds to the first record.
func (r *Replay) Reset() error {
	if r.steps == nil {
		return ErrNotStarted
	}
	r.idx = 0
	return nil
}

// Close releases the trace.
func (r *Replay) Close() error {
	r.steps = nil
	return nil
}

// Position returns the current trace index.
func (r *Replay) Position() int {
	return r.idx
}
