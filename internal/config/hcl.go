package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// MarshalHCL renders cfg as a canonical HCL trial block. Every field is
// written so the output documents the effective configuration.
func MarshalHCL(cfg *TrialConfig) []byte {
	f := hclwrite.NewEmptyFile()
	root := f.Body()
	block := root.AppendNewBlock("trial", nil)
	body := block.Body()

	if cfg.Game != "" {
		body.SetAttributeValue("game", cty.StringVal(cfg.Game))
	}
	body.SetAttributeValue("frameskip", cty.NumberIntVal(int64(cfg.Frameskip)))
	body.SetAttributeValue("maxEpisodeFrames", cty.NumberIntVal(int64(cfg.MaxEpisodeFrames)))
	if len(cfg.EngineCommand) > 0 {
		body.SetAttributeValue("engineCommand", toCtyStringList(cfg.EngineCommand))
	}
	body.SetAttributeValue("replayDir", cty.StringVal(cfg.ReplayDir))
	body.AppendNewline()

	body.SetAttributeValue("startingFrameRate", cty.NumberIntVal(int64(cfg.StartingFrameRate)))
	body.SetAttributeValue("allowFrameRateChange", cty.BoolVal(cfg.AllowFrameRateChange))
	body.SetAttributeValue("frameRateStepSize", cty.NumberIntVal(int64(cfg.FrameRateStepSize)))
	body.SetAttributeValue("minFrameRate", cty.NumberIntVal(int64(cfg.MinFrameRate)))
	body.SetAttributeValue("maxFrameRate", cty.NumberIntVal(int64(cfg.MaxFrameRate)))
	body.AppendNewline()

	body.SetAttributeValue("maxEpisodes", cty.NumberIntVal(int64(cfg.MaxEpisodes)))
	body.SetAttributeValue("trial_types", toCtyStringList(cfg.TrialTypes))
	body.AppendNewline()

	if cfg.ActionSpace != nil {
		body.SetAttributeValue("actionSpace", toCtyStringList(cfg.ActionSpace))
	}
	if cfg.AdvancedActionSpace != nil {
		sets := make([]cty.Value, len(cfg.AdvancedActionSpace))
		for i, ks := range cfg.AdvancedActionSpace {
			sets[i] = toCtyStringList(ks)
		}
		body.SetAttributeValue("advancedActionSpace", cty.TupleVal(sets))
	}
	if cfg.ContinuousActionSpace != nil {
		pairs := make([]cty.Value, len(cfg.ContinuousActionSpace))
		for i, b := range cfg.ContinuousActionSpace {
			keys := cty.NullVal(cty.List(cty.String))
			if b.Keys != nil {
				keys = toCtyStringList(b.Keys)
			}
			pairs[i] = cty.TupleVal([]cty.Value{keys, cty.NumberIntVal(int64(b.Action))})
		}
		body.SetAttributeValue("continuousActionSpace", cty.TupleVal(pairs))
	}
	if cfg.ValidKeys != nil {
		body.SetAttributeValue("validKeys", toCtyStringList(cfg.ValidKeys))
	}
	body.AppendNewline()

	if cfg.DataFile != "" {
		body.SetAttributeValue("dataFile", cty.StringVal(cfg.DataFile))
	}
	body.SetAttributeValue("dataDir", cty.StringVal(cfg.DataDir))
	body.SetAttributeValue("s3upload", cty.BoolVal(cfg.S3Upload))
	if cfg.Bucket != "" {
		body.SetAttributeValue("bucket", cty.StringVal(cfg.Bucket))
	}
	if cfg.ProjectID != "" {
		body.SetAttributeValue("projectId", cty.StringVal(cfg.ProjectID))
	}

	if len(cfg.UI) > 0 {
		body.AppendNewline()
		types := make([]string, 0, len(cfg.UI))
		for t := range cfg.UI {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			body.SetAttributeValue(t+UISuffix, toCtyStringList(cfg.UI[t]))
		}
	}

	return hclwrite.Format(f.Bytes())
}

// WriteHCLFile writes cfg to path, creating parent directories.
func WriteHCLFile(path string, cfg *TrialConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(path, MarshalHCL(cfg), 0644)
}

// toCtyStringList converts a []string to a cty list value
func toCtyStringList(strs []string) cty.Value {
	if len(strs) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	vals := make([]cty.Value, len(strs))
	for i, s := range strs {
		vals[i] = cty.StringVal(s)
	}
	return cty.ListVal(vals)
}
