package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"gopkg.in/yaml.v2"
)

// ErrNoTrialSection is returned when a file has no trial key or block.
var ErrNoTrialSection = errors.New("config has no trial section")

// LoadFile loads a trial config, choosing the format by extension.
// .hcl files are HCL; .yml, .yaml and anything else are YAML.
func LoadFile(path string) (*TrialConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return LoadHCL(data, path)
	default:
		return LoadYAML(data)
	}
}

// LoadYAML parses a YAML document with a top-level trial key.
func LoadYAML(data []byte) (*TrialConfig, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}
	raw, ok := doc["trial"]
	if !ok || raw == nil {
		return nil, ErrNoTrialSection
	}
	fields, ok := normalizeYAML(raw).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("trial: expected mapping, got %T", raw)
	}
	return FromMap(fields)
}

// normalizeYAML converts yaml.v2's map[interface{}]interface{} into
// map[string]interface{} recursively.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return m
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}

type hclFile struct {
	Trial *hclTrial `hcl:"trial,block"`
}

type hclTrial struct {
	Remain hcl.Body `hcl:",remain"`
}

// LoadHCL parses an HCL document with a single trial block.
func LoadHCL(data []byte, filename string) (*TrialConfig, error) {
	var f hclFile
	if err := hclsimple.Decode(filename, data, nil, &f); err != nil {
		return nil, fmt.Errorf("HCL parse error: %w", err)
	}
	if f.Trial == nil {
		return nil, ErrNoTrialSection
	}

	attrs, diags := f.Trial.Remain.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}

	fields := make(map[string]interface{}, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("%s: %s", name, diags.Error())
		}
		// Round-trip through JSON to get plain Go values.
		data, err := ctyjson.Marshal(val, val.Type())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		var plain interface{}
		if err := json.Unmarshal(data, &plain); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		fields[name] = plain
	}
	return FromMap(fields)
}

// FromMap builds a config from decoded key/value pairs, applying defaults
// for absent keys. Unknown keys other than <type>_ui are ignored.
func FromMap(fields map[string]interface{}) (*TrialConfig, error) {
	cfg := Default()
	var errs ValidationErrors

	field := func(name string, apply func(v interface{}) error) {
		v, ok := fields[name]
		if !ok || v == nil {
			return
		}
		if err := apply(v); err != nil {
			errs = append(errs, ValidationError{Field: name, Message: err.Error()})
		}
	}

	field("game", func(v interface{}) (err error) { cfg.Game, err = asString(v); return })
	field("frameskip", func(v interface{}) (err error) { cfg.Frameskip, err = asInt(v); return })
	field("maxEpisodeFrames", func(v interface{}) (err error) { cfg.MaxEpisodeFrames, err = asInt(v); return })
	field("engineCommand", func(v interface{}) (err error) { cfg.EngineCommand, err = asStringList(v); return })
	field("replayDir", func(v interface{}) (err error) { cfg.ReplayDir, err = asString(v); return })
	field("startingFrameRate", func(v interface{}) (err error) { cfg.StartingFrameRate, err = asInt(v); return })
	field("allowFrameRateChange", func(v interface{}) (err error) { cfg.AllowFrameRateChange, err = asBool(v); return })
	field("frameRateStepSize", func(v interface{}) (err error) { cfg.FrameRateStepSize, err = asInt(v); return })
	field("minFrameRate", func(v interface{}) (err error) { cfg.MinFrameRate, err = asInt(v); return })
	field("maxFrameRate", func(v interface{}) (err error) { cfg.MaxFrameRate, err = asInt(v); return })
	field("maxEpisodes", func(v interface{}) (err error) { cfg.MaxEpisodes, err = asInt(v); return })
	field("trial_types", func(v interface{}) (err error) { cfg.TrialTypes, err = asStringList(v); return })
	field("actionSpace", func(v interface{}) (err error) { cfg.ActionSpace, err = asStringList(v); return })
	field("advancedActionSpace", func(v interface{}) (err error) { cfg.AdvancedActionSpace, err = asKeySets(v); return })
	field("continuousActionSpace", func(v interface{}) (err error) { cfg.ContinuousActionSpace, err = asBindings(v); return })
	field("validKeys", func(v interface{}) (err error) { cfg.ValidKeys, err = asStringList(v); return })
	field("dataFile", func(v interface{}) (err error) { cfg.DataFile, err = asString(v); return })
	field("dataDir", func(v interface{}) (err error) { cfg.DataDir, err = asString(v); return })
	field("s3upload", func(v interface{}) (err error) { cfg.S3Upload, err = asBool(v); return })
	field("bucket", func(v interface{}) (err error) { cfg.Bucket, err = asString(v); return })
	field("projectId", func(v interface{}) (err error) { cfg.ProjectID, err = asString(v); return })

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !strings.HasSuffix(name, UISuffix) || name == UISuffix {
			continue
		}
		trialType := strings.TrimSuffix(name, UISuffix)
		field(name, func(v interface{}) error {
			ui, err := asStringList(v)
			if err != nil {
				return err
			}
			cfg.UI[trialType] = ui
			return nil
		})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return cfg, nil
}

func asString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case int, float64, bool:
		return fmt.Sprint(t), nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

func asInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("expected integer, got %v", t)
		}
		return int(t), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func asBool(v interface{}) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(t) {
		case "true", "yes", "1":
			return true, nil
		case "false", "no", "0", "":
			return false, nil
		}
	}
	return false, fmt.Errorf("expected boolean, got %v", v)
}

func asStringList(v interface{}) ([]string, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, err := asString(item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// asKeySets decodes an ordered list of key lists. A null entry is the
// empty set.
func asKeySets(v interface{}) ([][]string, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected list of key lists, got %T", v)
	}
	out := make([][]string, 0, len(list))
	for i, item := range list {
		if item == nil {
			out = append(out, []string{})
			continue
		}
		keys, err := asStringList(item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, keys)
	}
	return out, nil
}

// asBindings decodes a list of [keys|null, action] pairs.
func asBindings(v interface{}) ([]ContinuousBinding, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected list of [keys, action] pairs, got %T", v)
	}
	out := make([]ContinuousBinding, 0, len(list))
	for i, item := range list {
		pair, ok := item.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("[%d]: expected [keys, action] pair", i)
		}
		var b ContinuousBinding
		if pair[0] != nil {
			keys, err := asStringList(pair[0])
			if err != nil {
				return nil, fmt.Errorf("[%d] keys: %w", i, err)
			}
			b.Keys = keys
		}
		action, err := asInt(pair[1])
		if err != nil {
			return nil, fmt.Errorf("[%d] action: %w", i, err)
		}
		b.Action = action
		out = append(out, b)
	}
	return out, nil
}
