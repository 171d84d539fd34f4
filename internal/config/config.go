// Package config loads and validates the trial configuration.
//
// A trial config lives under a top-level "trial" key (YAML) or block (HCL).
// Every field is optional; Default fills the gaps. Per-type UI layouts use
// dynamic "<type>_ui" keys and are collected into TrialConfig.UI.
package config

import (
	"grimm.is/humangym/internal/brand"
)

// Recording modes for DataFile.
const (
	DataFileEpisode = "episode"
	DataFileTrial   = "trial"
)

// UISuffix marks per-trial-type UI keys, e.g. play_game_ui.
const UISuffix = "_ui"

// DefaultUI is shown when a trial type has no UI configured.
var DefaultUI = []string{"left", "right", "up", "down", "start", "pause"}

// ContinuousBinding maps a key set to an action. Keys is nil for the
// "no keys" entry.
type ContinuousBinding struct {
	Keys   []string `json:"keys"`
	Action int      `json:"action"`
}

// TrialConfig holds every option a session worker consumes.
type TrialConfig struct {
	// Environment
	Game             string   `json:"game,omitempty"`
	Frameskip        int      `json:"frameskip"`
	MaxEpisodeFrames int      `json:"maxEpisodeFrames"`
	EngineCommand    []string `json:"engineCommand,omitempty"`
	ReplayDir        string   `json:"replayDir"`

	// Pacing
	StartingFrameRate    int  `json:"startingFrameRate"`
	AllowFrameRateChange bool `json:"allowFrameRateChange"`
	FrameRateStepSize    int  `json:"frameRateStepSize"`
	MinFrameRate         int  `json:"minFrameRate"`
	MaxFrameRate         int  `json:"maxFrameRate"`

	// Trial shape
	MaxEpisodes int      `json:"maxEpisodes"`
	TrialTypes  []string `json:"trial_types"`

	// Action space
	ActionSpace           []string            `json:"actionSpace,omitempty"`
	AdvancedActionSpace   [][]string          `json:"advancedActionSpace,omitempty"`
	ContinuousActionSpace []ContinuousBinding `json:"continuousActionSpace,omitempty"`
	ValidKeys             []string            `json:"validKeys,omitempty"`

	// Recording and upload
	DataFile  string `json:"dataFile,omitempty"`
	DataDir   string `json:"dataDir"`
	S3Upload  bool   `json:"s3upload"`
	Bucket    string `json:"bucket,omitempty"`
	ProjectID string `json:"projectId,omitempty"`

	// UI layouts keyed by trial type name (without the _ui suffix).
	UI map[string][]string `json:"ui,omitempty"`
}

// Default returns a config with every default applied.
func Default() *TrialConfig {
	return &TrialConfig{
		Frameskip:         1,
		MaxEpisodeFrames:  -1,
		ReplayDir:         brand.DefaultReplayDir,
		StartingFrameRate: 30,
		FrameRateStepSize: 5,
		MinFrameRate:      1,
		MaxFrameRate:      90,
		MaxEpisodes:       20,
		TrialTypes:        []string{"play_game"},
		DataDir:           brand.DefaultDataDir,
		UI:                map[string][]string{},
	}
}

// UIFor returns the UI labels for a trial type, or DefaultUI.
func (c *TrialConfig) UIFor(trialType string) []string {
	if ui, ok := c.UI[trialType]; ok {
		out := make([]string, len(ui))
		copy(out, ui)
		return out
	}
	out := make([]string, len(DefaultUI))
	copy(out, DefaultUI)
	return out
}

// IsAdvanced reports whether a key-set action space is configured.
func (c *TrialConfig) IsAdvanced() bool {
	return c.AdvancedActionSpace != nil || c.ContinuousActionSpace != nil
}

// TrialMode reports whether the whole trial is buffered into one file.
func (c *TrialConfig) TrialMode() bool {
	return c.DataFile == DataFileTrial
}

// Clone returns a deep copy.
func (c *TrialConfig) Clone() *TrialConfig {
	out := *c
	out.EngineCommand = cloneStrings(c.EngineCommand)
	out.TrialTypes = cloneStrings(c.TrialTypes)
	out.ActionSpace = cloneStrings(c.ActionSpace)
	out.ValidKeys = cloneStrings(c.ValidKeys)
	if c.AdvancedActionSpace != nil {
		out.AdvancedActionSpace = make([][]string, len(c.AdvancedActionSpace))
		for i, ks := range c.AdvancedActionSpace {
			out.AdvancedActionSpace[i] = cloneStrings(ks)
		}
	}
	if c.ContinuousActionSpace != nil {
		out.ContinuousActionSpace = make([]ContinuousBinding, len(c.ContinuousActionSpace))
		for i, b := range c.ContinuousActionSpace {
			out.ContinuousActionSpace[i] = ContinuousBinding{Keys: cloneStrings(b.Keys), Action: b.Action}
		}
	}
	if c.UI != nil {
		out.UI = make(map[string][]string, len(c.UI))
		for k, v := range c.UI {
			out.UI[k] = cloneStrings(v)
		}
	}
	return &out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
