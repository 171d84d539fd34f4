// Package env wraps the simulation a session drives.
//
// The engine itself is external. Live talks to an engine bridge process
// over JSON lines; Replay steps through a recorded trace and ignores the
// actions it is given.
package env

import (
	"errors"
)

// ErrNotStarted is returned when an adapter is used before Start.
var ErrNotStarted = errors.New("environment not started")

// FieldRawObservation is the record key for the engine's unrendered
// observation. Analysis tooling reads it under this name.
const FieldRawObservation = "raw_observation"

// Adapter is the capability a session worker drives.
type Adapter interface {
	// Start prepares the environment. id names the game for Live and the
	// trace file for Replay. maxSteps <= 0 means episodes are unbounded.
	Start(id string, frameskip, maxSteps int) error
	Step(action int) (*StepResult, error)
	Render() (*Frame, error)
	Reset() error
	Close() error
}

// StepResult is the outcome of one step.
type StepResult struct {
	Observation    any            `json:"observation,omitempty"`
	RawObservation any            `json:"raw_observation,omitempty"`
	Reward         float64        `json:"reward"`
	Done           bool           `json:"done"`
	Info           map[string]any `json:"info,omitempty"`
	// Step is the trace position for replayed steps.
	Step int `json:"step,omitempty"`
}

// Fields returns the values merged into a step record.
func (r *StepResult) Fields() map[string]any {
	f := map[string]any{
		"observation": r.Observation,
		"reward":      r.Reward,
		"done":        r.Done,
		"info":        r.Info,
	}
	if r.RawObservation != nil {
		f[FieldRawObservation] = r.RawObservation
	}
	return f
}
