package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/rzpanel/pkg/stage"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{"abs z 12.5", Command{Name: "abs", Axis: "z", Value: 12.5}},
		{"  REL  R  -0.25 ", Command{Name: "rel", Axis: "r", Value: -0.25}},
		{"home z", Command{Name: "home", Axis: "z"}},
		{"stop", Command{Name: "stop"}},
		{"stop all", Command{Name: "stop"}},
		{"stop r", Command{Name: "stop", Axis: "r"}},
		{"vel z 0.2", Command{Name: "vel", Axis: "z", Value: 0.2}},
		{"acc r 1e-1", Command{Name: "acc", Axis: "r", Value: 0.1}},
		{"defaults", Command{Name: "defaults"}},
		{"keys off", Command{Name: "keys", Arg: "off"}},
		{"connect /dev/ttyUSB1", Command{Name: "connect", Arg: "/dev/ttyUSB1"}},
		{"connect", Command{Name: "connect"}},
	}
	for _, tt := range tests {
		got, err := ParseCommand(tt.line)
		require.NoError(t, err, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}
}

func TestParseCommand_Invalid(t *testing.T) {
	for _, line := range []string{
		"",
		"abs z",
		"abs z ten",
		"rel z NaN",
		"vel z inf",
		"home",
		"stop r z",
		"keys maybe",
		"pause now",
		"jump z 3",
	} {
		_, err := ParseCommand(line)
		assert.ErrorIs(t, err, ErrInvalidInput, line)
	}
}

func TestRun(t *testing.T) {
	r := newRig(t)
	r.dev.pos[int(stage.AxisZ)] = 4

	require.NoError(t, r.e.Run("abs z 20", "/dev/null"))
	assert.Equal(t, 17.0, r.dev.callsOf("abs")[0].value)

	require.NoError(t, r.e.Run("stop", ""))
	assert.Len(t, r.dev.callsOf("stop"), 2)

	assert.ErrorIs(t, r.e.Run("rel r abc", ""), ErrInvalidInput)
	assert.ErrorIs(t, r.e.Run("home q", ""), ErrUnknownAxis)

	require.NoError(t, r.e.Run("keys off", ""))
	assert.False(t, r.e.KeyboardOpen())

	require.NoError(t, r.e.Run("vel z 0.2", ""))
	assert.Equal(t, 0.2, r.dev.callsOf("velocity")[0].value)

	require.NoError(t, r.e.Run("connect", "/dev/ttyUSB0"))
	assert.True(t, r.e.Connected())
}
