package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/rzpanel/pkg/actuator"
	"github.com/gwillem/rzpanel/pkg/stage"
)

func TestRaiseHoldDelay(t *testing.T) {
	tests := []struct {
		hold, gap int
		want      int
		raised    bool
	}{
		{500, 600, 700, true},
		{600, 600, 700, true},
		{800, 600, 800, false},
		{500, 0, 700, true},
	}
	for _, tt := range tests {
		cfg := stage.Default()
		cfg.Keyboard.HoldMs, cfg.Keyboard.ReleaseGapMs = tt.hold, tt.gap
		assert.Equal(t, tt.raised, raiseHoldDelay(&cfg), "hold=%d gap=%d", tt.hold, tt.gap)
		assert.Equal(t, tt.want, cfg.Keyboard.HoldMs)
		assert.Greater(t, cfg.Keyboard.HoldDelay(), releaseGap(&cfg))
	}
}

func TestReleaseGap_Default(t *testing.T) {
	cfg := stage.Default()
	cfg.Keyboard.ReleaseGapMs = 0
	assert.Equal(t, defaultReleaseGap, releaseGap(&cfg))
	cfg.Keyboard.ReleaseGapMs = 250
	assert.Equal(t, 250*time.Millisecond, releaseGap(&cfg))
}

func TestNewDevice(t *testing.T) {
	cfg := stage.Default()
	dev, err := newDevice(&cfg)
	require.NoError(t, err)
	assert.IsType(t, &actuator.Sim{}, dev)

	cfg.Backend = "feetech"
	_, err = newDevice(&cfg)
	assert.Error(t, err, "no axis carries a servo calibration")

	cfg.Axes[stage.AxisZ].Servo = &stage.ServoCalibration{ID: 1, RangeMin: 0, RangeMax: 4095, UnitMax: 17}
	dev, err = newDevice(&cfg)
	require.NoError(t, err)
	assert.IsType(t, &actuator.Feetech{}, dev)

	cfg.Backend = "stepper"
	_, err = newDevice(&cfg)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(stage.LogConfig{})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = newLogger(stage.LogConfig{File: t.TempDir() + "/rzpanel.log", Level: "loud"})
	assert.Error(t, err)

	logger, err = newLogger(stage.LogConfig{File: t.TempDir() + "/rzpanel.log", Level: "debug"})
	require.NoError(t, err)
	logger.Debug("hello")
	assert.NoError(t, logger.Sync())
}

func TestConfigPath(t *testing.T) {
	saved := opts.Config
	defer func() { opts.Config = saved }()

	opts.Config = ""
	assert.Equal(t, stage.DefaultConfigFile, configPath())
	opts.Config = "bench.yaml"
	assert.Equal(t, "bench.yaml", configPath())
}

func TestLoadConfig(t *testing.T) {
	saved := opts.Config
	defer func() { opts.Config = saved }()
	dir := t.TempDir()

	opts.Config = filepath.Join(dir, "missing.json")
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, stage.Default().Port, cfg.Port)

	opts.Config = filepath.Join(dir, "panel.yaml")
	require.NoError(t, os.WriteFile(opts.Config, []byte("port: /dev/ttyACM1\n"), 0644))
	cfg, err = loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM1", cfg.Port)
}

func TestResolution(t *testing.T) {
	cal := stage.ServoCalibration{RangeMin: 1000, RangeMax: 3000, UnitMin: 0, UnitMax: 17}
	assert.Equal(t, "Resolution: 0.0085 mm per step", resolution("mm", cal))

	cal.RangeMax = cal.RangeMin
	assert.Contains(t, resolution("mm", cal), "unknown")
}
