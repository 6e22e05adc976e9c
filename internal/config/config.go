// Package config holds user-editable settings for the guiding engine,
// following the nested-struct-plus-JSON layout used throughout this codebase.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/phd2d/config.json"
	defaultInstance   = 1
	basePort          = 4400
)

// Config is the top level settings document for one guiding instance.
type Config struct {
	Instance   int        `json:"instance"`
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
	Equipment  Equipment  `json:"equipment"`
	Algorithms Algorithms `json:"algorithms"`
	Server     Server     `json:"server"`
}

// Processing captures engine-wide execution preferences.
type Processing struct {
	TimeLapseMs        int  `json:"time_lapse_ms"`
	IgnoreLostStarLoop bool `json:"ignore_lost_star_looping"`
	MaxLostStarFrames  int  `json:"max_lost_star_frames"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // enable file logging
	LogDir     string `json:"log_dir"`     // directory for log files
	MaxSize    int    `json:"max_size"`
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"`
}

// Paths configures default input/output locations.
type Paths struct {
	ProfileDB   string `json:"profile_db"`
	DarkLibrary string `json:"dark_library"`
	GuideLogDir string `json:"guide_log_dir"`
}

// Equipment selects the active camera/mount/AO drivers and their static
// parameters.
type Equipment struct {
	Camera            DriverSelection `json:"camera"`
	Mount             DriverSelection `json:"mount"`
	AO                DriverSelection `json:"ao"`
	PixelSizeMicrons  float64         `json:"pixel_size_microns"`
	FocalLengthMM     float64         `json:"focal_length_mm"`
	CalibrationStepMs int             `json:"calibration_step_ms"`
}

// DriverSelection names a concrete driver implementation and its connection
// parameters.
type DriverSelection struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params"`
}

// Algorithms carries per-axis guide algorithm selection, mirroring the
// "preferred + fallback" shape used for the external tool preferences
// elsewhere in this codebase.
type Algorithms struct {
	RA  AxisAlgorithm `json:"ra"`
	Dec AxisAlgorithm `json:"dec"`
}

// AxisAlgorithm names the algorithm for one axis plus its tunables.
type AxisAlgorithm struct {
	Name     string             `json:"name"` // hysteresis, resist_switch, low_pass, ...
	Fallback string             `json:"fallback"`
	Params   map[string]float64 `json:"params"`
}

// Server configures the control-surface TCP port and the read-only
// dashboard.
type Server struct {
	Port          int `json:"port"`
	DashboardPort int `json:"dashboard_port"`
}

// PortForInstance returns the conventional control-surface port for a given
// 1-based instance number: 4400 + instance - 1.
func PortForInstance(instance int) int {
	if instance < 1 {
		instance = 1
	}
	return basePort + instance - 1
}

// Default returns a Config populated with the engine's documented defaults.
func Default() *Config {
	return &Config{
		Instance: defaultInstance,
		Processing: Processing{
			TimeLapseMs:       0,
			MaxLostStarFrames: 5,
		},
		Logging: Logging{Level: "info", Format: "text"},
		Paths: Paths{
			ProfileDB:   "~/.config/phd2d/profile.db",
			DarkLibrary: "~/.config/phd2d/darks",
		},
		Equipment: Equipment{
			PixelSizeMicrons:  3.75,
			FocalLengthMM:     400,
			CalibrationStepMs: 500,
		},
		Algorithms: Algorithms{
			RA:  AxisAlgorithm{Name: "hysteresis", Params: map[string]float64{"hysteresis": 0.1, "aggression": 1.0, "minMove": 0.2}},
			Dec: AxisAlgorithm{Name: "low_pass2", Params: map[string]float64{"aggression": 1.0, "minMove": 0.2}},
		},
		Server: Server{Port: PortForInstance(defaultInstance), DashboardPort: 4450},
	}
}

// Load reads a Config from path, falling back to Default values for any
// zero-valued fields that cannot be parsed.
func Load(path string) (*Config, error) {
	if path == "" {
		path = defaultConfigPath
	}
	expanded, err := expandHome(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = PortForInstance(cfg.Instance)
	}
	return cfg, nil
}

// Save writes cfg as indented JSON to path, creating parent directories as
// needed.
func Save(cfg *Config, path string) error {
	expanded, err := expandHome(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(expanded, data, 0o644)
}

func expandHome(path string) (string, error) {
	return ExpandPath(path)
}

// ExpandPath resolves a leading "~" in path to the user's home directory,
// for use on any config-supplied filesystem path (not just the config file
// location itself).
func ExpandPath(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}
