// Package brand holds the product name and default locations, read from
// the embedded brand.json so packaging scripts share one source.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

type identity struct {
	Name             string `json:"name"`
	LowerName        string `json:"lowerName"`
	Description      string `json:"description"`
	ConfigEnvPrefix  string `json:"configEnvPrefix"`
	DefaultConfigDir string `json:"defaultConfigDir"`
	DefaultStateDir  string `json:"defaultStateDir"`
	DefaultDataDir   string `json:"defaultDataDir"`
	DefaultReplayDir string `json:"defaultReplayDir"`
	BinaryName       string `json:"binaryName"`
	ConfigFileName   string `json:"configFileName"`
	CounterFileName  string `json:"counterFileName"`
}

var (
	Name             string
	LowerName        string
	Description      string
	ConfigEnvPrefix  string
	DefaultConfigDir string
	DefaultStateDir  string
	DefaultDataDir   string
	DefaultReplayDir string
	BinaryName       string
	ConfigFileName   string
	CounterFileName  string

	// Set with -ldflags "-X grimm.is/humangym/internal/brand.Version=..."
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func init() {
	var id identity
	if err := json.Unmarshal(brandJSON, &id); err != nil {
		panic("brand.json: " + err.Error())
	}
	Name, LowerName, Description = id.Name, id.LowerName, id.Description
	ConfigEnvPrefix = id.ConfigEnvPrefix
	DefaultConfigDir, DefaultStateDir = id.DefaultConfigDir, id.DefaultStateDir
	DefaultDataDir, DefaultReplayDir = id.DefaultDataDir, id.DefaultReplayDir
	BinaryName, ConfigFileName, CounterFileName = id.BinaryName, id.ConfigFileName, id.CounterFileName
}

func env(suffix string) string {
	return os.Getenv(ConfigEnvPrefix + "_" + suffix)
}

// GetStateDir resolves HUMANGYM_STATE_DIR, then HUMANGYM_PREFIX/state,
// then the default.
func GetStateDir() string {
	if dir := env("STATE_DIR"); dir != "" {
		return dir
	}
	if prefix := env("PREFIX"); prefix != "" {
		return filepath.Join(prefix, "state")
	}
	return DefaultStateDir
}

// GetConfigDir resolves HUMANGYM_CONFIG_DIR, then HUMANGYM_PREFIX, then
// the default.
func GetConfigDir() string {
	if dir := env("CONFIG_DIR"); dir != "" {
		return dir
	}
	if prefix := env("PREFIX"); prefix != "" {
		return prefix
	}
	return DefaultConfigDir
}

// GetConfigPath is where serve looks for the trial config by default.
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}

// GetCounterPath is the rotation counter database.
func GetCounterPath() string {
	return filepath.Join(GetStateDir(), CounterFileName)
}
