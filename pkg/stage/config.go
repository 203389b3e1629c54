package stage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read from the working directory when no path is given.
const DefaultConfigFile = "rzpanel.json"

// Config holds the panel configuration
type Config struct {
	Port     string         `json:"port" yaml:"port"`
	Backend  string         `json:"backend" yaml:"backend"` // sim or feetech
	Axes     []Axis         `json:"axes" yaml:"axes"`
	Motion   MotionConfig   `json:"motion" yaml:"motion"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Keyboard KeyboardConfig `json:"keyboard" yaml:"keyboard"`
	API      APIConfig      `json:"api" yaml:"api"`
	MQTT     MQTTConfig     `json:"mqtt" yaml:"mqtt"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// MotionConfig holds settle detection and limit thresholds
type MotionConfig struct {
	PollMs          int     `json:"poll_ms" yaml:"poll_ms"`
	PositionEpsilon float64 `json:"pos_eps" yaml:"pos_eps"`
	DeltaEpsilon    float64 `json:"dpos_eps" yaml:"dpos_eps"`
	StillCount      int     `json:"still_n" yaml:"still_n"`
	TimeoutSeconds  float64 `json:"motion_timeout_s" yaml:"motion_timeout_s"`
	LimitEpsilon    float64 `json:"limit_eps" yaml:"limit_eps"`
	IOTimeoutMs     int     `json:"io_timeout_ms" yaml:"io_timeout_ms"`
}

// PollInterval returns the settle poll period.
func (m MotionConfig) PollInterval() time.Duration {
	return time.Duration(m.PollMs) * time.Millisecond
}

// Timeout returns the motion timeout.
func (m MotionConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds * float64(time.Second))
}

// IOTimeout returns the per-call device timeout.
func (m MotionConfig) IOTimeout() time.Duration {
	return time.Duration(m.IOTimeoutMs) * time.Millisecond
}

// CacheConfig holds the per-channel change thresholds for telemetry
type CacheConfig struct {
	Position     float64 `json:"eps_pos" yaml:"eps_pos"`
	Velocity     float64 `json:"eps_vel" yaml:"eps_vel"`
	Acceleration float64 `json:"eps_acc" yaml:"eps_acc"`
}

// KeyboardConfig holds keyboard jogging settings
type KeyboardConfig struct {
	Enabled      bool              `json:"enabled" yaml:"enabled"`
	HoldMs       int               `json:"hold_ms" yaml:"hold_ms"`
	HoldAccel    float64           `json:"hold_accel" yaml:"hold_accel"`
	SlowModifier string            `json:"slow_modifier" yaml:"slow_modifier"`
	FineSteps    []FineStepBinding `json:"fine_steps" yaml:"fine_steps"`
	JogKeys      []JogKeyBinding   `json:"jog_keys" yaml:"jog_keys"`
	Device       string            `json:"device,omitempty" yaml:"device,omitempty"` // evdev node, empty for terminal input
	ReleaseGapMs int               `json:"release_gap_ms" yaml:"release_gap_ms"`
}

// HoldDelay returns the tap/hold threshold.
func (k KeyboardConfig) HoldDelay() time.Duration {
	return time.Duration(k.HoldMs) * time.Millisecond
}

// FineStepBinding maps a key chord such as "ctrl+period" to a signed step.
type FineStepBinding struct {
	Chord   string  `json:"chord" yaml:"chord"`
	Axis    string  `json:"axis" yaml:"axis"`
	Step    float64 `json:"step" yaml:"step"`
	TapOnly bool    `json:"tap_only,omitempty" yaml:"tap_only,omitempty"`
}

// JogKeyBinding maps a key to continuous jogging of an axis.
type JogKeyBinding struct {
	Key       string `json:"key" yaml:"key"`
	Axis      string `json:"axis" yaml:"axis"`
	Direction int    `json:"direction" yaml:"direction"`
}

// APIConfig holds the REST/websocket listener settings
type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// MQTTConfig holds broker settings
type MQTTConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	Host            string `json:"host" yaml:"host"`
	Port            int    `json:"port" yaml:"port"`
	Topic           string `json:"topic" yaml:"topic"`
	QoS             int    `json:"qos" yaml:"qos"`
	Retain          bool   `json:"retain" yaml:"retain"`
	ClientID        string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Username        string `json:"username,omitempty" yaml:"username,omitempty"`
	Password        string `json:"password,omitempty" yaml:"password,omitempty"`
	DiscoveryPrefix string `json:"discovery_prefix" yaml:"discovery_prefix"`
}

// LogConfig holds logging settings
type LogConfig struct {
	File  string `json:"file" yaml:"file"`
	Level string `json:"level" yaml:"level"`
}

// Default returns the configuration used for any key missing from the file.
func Default() Config {
	return Config{
		Port:    "/dev/ttyUSB0",
		Backend: "sim",
		Axes: []Axis{
			{
				ID: AxisR, Label: "R", Unit: "°", VelocityUnit: "°/s", AccelUnit: "°/s²",
				DefaultVelocity: 0.5, DefaultAccel: 0.5,
				Jog: JogProfile{FastVelocity: 5, FastAccel: 5, SlowVelocity: 0.5, SlowAccel: 1},
			},
			{
				ID: AxisZ, Label: "Z", Unit: "mm", VelocityUnit: "mm/s", AccelUnit: "mm/s²",
				DefaultVelocity: 0.1, DefaultAccel: 0.5,
				Limits: &Limits{Min: 0, Max: 17},
				Jog:    JogProfile{FastVelocity: 1, FastAccel: 2, SlowVelocity: 0.1, SlowAccel: 0.5},
			},
		},
		Motion: MotionConfig{
			PollMs:          50,
			PositionEpsilon: 0.005,
			DeltaEpsilon:    0.0015,
			StillCount:      3,
			TimeoutSeconds:  30,
			LimitEpsilon:    0.01,
			IOTimeoutMs:     200,
		},
		Cache: CacheConfig{Position: 0.001, Velocity: 0.01, Acceleration: 0.01},
		Keyboard: KeyboardConfig{
			Enabled:      true,
			HoldMs:       500,
			HoldAccel:    0.5,
			SlowModifier: "ctrl",
			FineSteps: []FineStepBinding{
				{Chord: "shift+ctrl+alt+num_lock", Axis: "Z", Step: -0.001, TapOnly: true},
				{Chord: "shift+alt+num_lock", Axis: "Z", Step: -0.010, TapOnly: true},
				{Chord: "ctrl+alt+num_lock", Axis: "Z", Step: +0.001, TapOnly: true},
				{Chord: "alt+num_lock", Axis: "Z", Step: +0.010, TapOnly: true},
				{Chord: "ctrl+period", Axis: "Z", Step: +0.025},
				{Chord: "ctrl+comma", Axis: "Z", Step: -0.025},
				{Chord: "alt+period", Axis: "Z", Step: +0.025},
				{Chord: "alt+comma", Axis: "Z", Step: -0.025},
			},
			JogKeys: []JogKeyBinding{
				{Key: "Up", Axis: "Z", Direction: +1},
				{Key: "Down", Axis: "Z", Direction: -1},
				{Key: "Right", Axis: "R", Direction: +1},
				{Key: "Left", Axis: "R", Direction: -1},
			},
			ReleaseGapMs: 600,
		},
		API: APIConfig{Enabled: true, Addr: ":5000"},
		MQTT: MQTTConfig{
			Host:            "localhost",
			Port:            1883,
			Topic:           "rzpanel/state",
			DiscoveryPrefix: "homeassistant",
		},
		Log: LogConfig{File: "rzpanel.log", Level: "info"},
	}
}

// Axis returns the axis with the given label (case-insensitive).
func (c *Config) Axis(label string) (Axis, bool) {
	for _, a := range c.Axes {
		if strings.EqualFold(a.Label, label) {
			return a, true
		}
	}
	return Axis{}, false
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Axes) == 0 {
		errs = append(errs, errors.New("no axes configured"))
	}
	ids := make(map[AxisID]bool)
	labels := make(map[string]bool)
	for _, a := range c.Axes {
		if ids[a.ID] {
			errs = append(errs, fmt.Errorf("duplicate axis id %d", a.ID))
		}
		if labels[a.Key()] {
			errs = append(errs, fmt.Errorf("duplicate axis label %q", a.Label))
		}
		ids[a.ID], labels[a.Key()] = true, true
		if a.Limits != nil && a.Limits.Min >= a.Limits.Max {
			errs = append(errs, fmt.Errorf("axis %s: limits min %.3f >= max %.3f", a.Label, a.Limits.Min, a.Limits.Max))
		}
	}
	m := c.Motion
	if m.PollMs <= 0 {
		errs = append(errs, fmt.Errorf("motion.poll_ms must be positive, got %d", m.PollMs))
	}
	if m.StillCount < 1 {
		errs = append(errs, fmt.Errorf("motion.still_n must be at least 1, got %d", m.StillCount))
	}
	if m.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("motion.motion_timeout_s must be positive, got %g", m.TimeoutSeconds))
	}
	if c.Keyboard.HoldMs <= 0 {
		errs = append(errs, fmt.Errorf("keyboard.hold_ms must be positive, got %d", c.Keyboard.HoldMs))
	}
	for _, fs := range c.Keyboard.FineSteps {
		if _, ok := c.Axis(fs.Axis); !ok {
			errs = append(errs, fmt.Errorf("fine step %q: unknown axis %q", fs.Chord, fs.Axis))
		}
		if fs.Step == 0 {
			errs = append(errs, fmt.Errorf("fine step %q: zero step", fs.Chord))
		}
	}
	for _, jk := range c.Keyboard.JogKeys {
		if _, ok := c.Axis(jk.Axis); !ok {
			errs = append(errs, fmt.Errorf("jog key %q: unknown axis %q", jk.Key, jk.Axis))
		}
		if jk.Direction != 1 && jk.Direction != -1 {
			errs = append(errs, fmt.Errorf("jog key %q: direction must be 1 or -1", jk.Key))
		}
	}
	return errors.Join(errs...)
}

// LoadConfigFrom loads configuration from a JSON or YAML file. Keys missing
// from the file keep their defaults.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	def := Default()
	cfg := def
	// Lists replace the defaults as a whole instead of merging element-wise.
	cfg.Axes, cfg.Keyboard.FineSteps, cfg.Keyboard.JogKeys = nil, nil, nil
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Axes == nil {
		cfg.Axes = def.Axes
	}
	if cfg.Keyboard.FineSteps == nil {
		cfg.Keyboard.FineSteps = def.Keyboard.FineSteps
	}
	if cfg.Keyboard.JogKeys == nil {
		cfg.Keyboard.JogKeys = def.Keyboard.JogKeys
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the config file exists
func ConfigExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
