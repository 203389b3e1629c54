package stage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	z, ok := cfg.Axis("z")
	require.True(t, ok)
	require.NotNil(t, z.Limits)
	assert.Equal(t, 0.0, z.Limits.Min)
	assert.Equal(t, 17.0, z.Limits.Max)

	r, ok := cfg.Axis("R")
	require.True(t, ok)
	assert.Nil(t, r.Limits)

	assert.Equal(t, 50*time.Millisecond, cfg.Motion.PollInterval())
	assert.Equal(t, 30*time.Second, cfg.Motion.Timeout())
	assert.Equal(t, 500*time.Millisecond, cfg.Keyboard.HoldDelay())
}

func TestLimits_Clamp(t *testing.T) {
	l := Limits{Min: 0, Max: 17}
	for _, v := range []float64{-5, 0, 3.3, 17, 17.0001, 100} {
		c := l.Clamp(v)
		assert.GreaterOrEqual(t, c, l.Min)
		assert.LessOrEqual(t, c, l.Max)
		assert.Equal(t, c, l.Clamp(c), "clamp must be idempotent for %v", v)
	}
	assert.Equal(t, 3.3, l.Clamp(3.3))
}

func TestLimits_Near(t *testing.T) {
	l := Limits{Min: 0, Max: 17}
	assert.True(t, l.Near(16.995, +1, 0.01))
	assert.False(t, l.Near(16.995, -1, 0.01))
	assert.True(t, l.Near(0.005, -1, 0.01))
	assert.False(t, l.Near(8, +1, 0.01))
	assert.False(t, l.Near(17, 0, 0.01))
}

func TestLoadConfigFrom_JSONKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": "COM7", "motion": {"poll_ms": 20}}`), 0644))

	cfg, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "COM7", cfg.Port)
	assert.Equal(t, 20, cfg.Motion.PollMs)
	assert.Equal(t, 0.005, cfg.Motion.PositionEpsilon)
	assert.Len(t, cfg.Axes, 2)
	assert.NotEmpty(t, cfg.Keyboard.FineSteps)
}

func TestLoadConfigFrom_YAMLReplacesLists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.yaml")
	doc := `
axes:
  - id: 1
    label: Z
    unit: mm
    limits: {min: 1, max: 5}
keyboard:
  hold_ms: 150
  fine_steps:
    - {chord: "ctrl+period", axis: Z, step: 0.005}
  jog_keys: []
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := LoadConfigFrom(path)
	require.NoError(t, err)
	require.Len(t, cfg.Axes, 1)
	assert.Equal(t, Limits{Min: 1, Max: 5}, *cfg.Axes[0].Limits)
	assert.Equal(t, 150, cfg.Keyboard.HoldMs)
	require.Len(t, cfg.Keyboard.FineSteps, 1)
	assert.Equal(t, 0.005, cfg.Keyboard.FineSteps[0].Step)
	assert.Empty(t, cfg.Keyboard.JogKeys)
}

func TestLoadConfigFrom_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"motion": {"still_n": 0}, "keyboard": {"jog_keys": [{"key": "Up", "axis": "Q", "direction": 1}]}}`), 0644))

	_, err := LoadConfigFrom(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still_n")
	assert.Contains(t, err.Error(), "unknown axis")
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	for _, name := range []string{"panel.json", "panel.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := Default()
			cfg.Port = "/dev/ttyACM1"
			require.NoError(t, cfg.SaveTo(path))
			require.True(t, ConfigExists(path))

			back, err := LoadConfigFrom(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Port, back.Port)
			assert.Equal(t, cfg.Axes, back.Axes)
		})
	}
}

func TestWatch_Reloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": "A"}`), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) {
			select {
			case got <- c:
			default:
			}
		}, func(error) {})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"port": "B"}`), 0644))

	select {
	case c := <-got:
		assert.Equal(t, "B", c.Port)
	case <-time.After(3 * time.Second):
		t.Fatal("config change not observed")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
