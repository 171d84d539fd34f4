package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks cross-field constraints. knownTypes lists the trial
// type names the server can run; it is skipped when empty.
func (c *TrialConfig) Validate(knownTypes ...string) error {
	var errs ValidationErrors
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if len(c.TrialTypes) == 0 {
		add("trial_types", "at least one trial type is required")
	}
	if len(knownTypes) > 0 {
		known := make(map[string]bool, len(knownTypes))
		for _, k := range knownTypes {
			known[k] = true
		}
		for _, t := range c.TrialTypes {
			if !known[t] {
				add("trial_types", "unknown trial type %q (known: %s)", t, strings.Join(knownTypes, ", "))
			}
		}
	}

	if c.MinFrameRate >= c.MaxFrameRate {
		add("minFrameRate", "must be below maxFrameRate (%d >= %d)", c.MinFrameRate, c.MaxFrameRate)
	}
	if c.StartingFrameRate <= 0 {
		add("startingFrameRate", "must be positive, got %d", c.StartingFrameRate)
	} else if c.StartingFrameRate < c.MinFrameRate || c.StartingFrameRate > c.MaxFrameRate {
		add("startingFrameRate", "%d is outside [%d, %d]", c.StartingFrameRate, c.MinFrameRate, c.MaxFrameRate)
	}
	if c.AllowFrameRateChange && c.FrameRateStepSize <= 0 {
		add("frameRateStepSize", "must be positive when allowFrameRateChange is set")
	}

	if c.MaxEpisodes < 1 {
		add("maxEpisodes", "must be at least 1, got %d", c.MaxEpisodes)
	}
	if c.Frameskip < 1 {
		add("frameskip", "must be at least 1, got %d", c.Frameskip)
	}

	if c.AdvancedActionSpace != nil && c.ContinuousActionSpace != nil {
		add("advancedActionSpace", "cannot be combined with continuousActionSpace")
	}

	switch c.DataFile {
	case "", DataFileEpisode, DataFileTrial:
	default:
		add("dataFile", "must be %q or %q, got %q", DataFileEpisode, DataFileTrial, c.DataFile)
	}
	if c.DataDir == "" {
		add("dataDir", "must not be empty")
	}

	if c.S3Upload {
		if c.Bucket == "" {
			add("bucket", "required when s3upload is enabled")
		}
		if c.ProjectID == "" {
			add("projectId", "required when s3upload is enabled")
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
