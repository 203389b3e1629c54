package motion

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/rzpanel/pkg/keys"
	"github.com/gwillem/rzpanel/pkg/stage"
)

func nan() float64 { return math.NaN() }

func TestKeyTap_OneStep(t *testing.T) {
	r := newRig(t)
	r.dev.pos[int(stage.AxisZ)] = 5

	r.down("period", keys.Ctrl)
	r.clock.Advance(100 * time.Millisecond)
	r.up("period", keys.Ctrl)

	assert.Equal(t, []string{"rel"}, r.dev.ops())
	step := r.dev.callsOf("rel")[0]
	assert.Equal(t, int(stage.AxisZ), step.axis)
	assert.InDelta(t, 0.025, step.value, 1e-12)
	assert.True(t, r.e.KeyboardOpen(), "keyboard steps do not suspend input")
	assert.False(t, r.e.sessions[stage.AxisZ].suspends)
}

func TestKeyHold_OneJogStartAndStop(t *testing.T) {
	r := newRig(t)
	r.dev.pos[int(stage.AxisZ)] = 5

	r.down("comma", keys.Alt)
	r.clock.Advance(600 * time.Millisecond)

	jogs := r.dev.callsOf("jog")
	require.Len(t, jogs, 1)
	assert.Equal(t, -0.025, jogs[0].value)
	assert.Equal(t, 0.5, jogs[0].accel)

	r.clock.Advance(time.Second)
	r.up("comma", keys.Alt)
	assert.Equal(t, []string{"jog", "stop"}, r.dev.ops())
	assert.Empty(t, r.dev.callsOf("rel"))
}

func TestKeyRepeat_Ignored(t *testing.T) {
	r := newRig(t)
	r.dev.pos[int(stage.AxisZ)] = 5

	r.down("period", keys.Ctrl)
	for range 3 {
		r.clock.Advance(100 * time.Millisecond)
		r.down("period", keys.Ctrl)
	}
	assert.Equal(t, 1, r.clock.Pending(), "one hold timer")
	assert.Empty(t, r.dev.calls)

	r.up("period", keys.Ctrl)
	assert.Equal(t, []string{"rel"}, r.dev.ops())
	assert.Len(t, r.e.keys.presses, 0)
}

func TestKeyTapOnly_NeverJogs(t *testing.T) {
	r := newRig(t)
	r.dev.pos[int(stage.AxisZ)] = 5

	r.down("Num_Lock", keys.Alt)
	assert.Zero(t, r.clock.Pending())
	r.clock.Advance(2 * time.Second)
	r.up("Num_Lock", keys.Alt)

	assert.Equal(t, []string{"rel"}, r.dev.ops())
	assert.InDelta(t, 0.010, r.dev.callsOf("rel")[0].value, 1e-12)
}

func TestKeyModifiersMatchExactly(t *testing.T) {
	r := newRig(t)
	r.down("period", keys.Ctrl|keys.Shift)
	r.down("period", 0)
	assert.Empty(t, r.e.keys.presses)
	assert.Zero(t, r.clock.Pending())
}

func TestArrowKeys_JogProfiles(t *testing.T) {
	r := newRig(t)
	r.dev.pos[int(stage.AxisZ)] = 5

	r.down("Up", 0)
	r.down("Left", keys.Ctrl)
	jogs := r.dev.callsOf("jog")
	require.Len(t, jogs, 2)
	assert.Equal(t, call{op: "jog", axis: int(stage.AxisZ), value: 1, accel: 2}, jogs[0])
	assert.Equal(t, call{op: "jog", axis: int(stage.AxisR), value: -0.5, accel: 1}, jogs[1])

	r.up("Up", 0)
	r.up("Left", keys.Ctrl)
	stops := r.dev.callsOf("stop")
	require.Len(t, stops, 2)
	assert.Empty(t, r.e.jogs)
}

func TestKeyboard_SuspendedDuringExplicitMove(t *testing.T) {
	r := newRig(t)
	r.dev.pos[int(stage.AxisZ)] = 10
	require.NoError(t, r.e.MoveAbsolute(stage.AxisZ, 10))

	r.down("period", keys.Ctrl)
	assert.Empty(t, r.e.keys.presses)
	assert.Equal(t, 1, r.clock.Pending(), "only the settle timer")
	r.up("period", keys.Ctrl)
	assert.Equal(t, []string{"abs"}, r.dev.ops())

	r.tick(3)
	require.True(t, r.e.KeyboardOpen())
	r.down("period", keys.Ctrl)
	assert.Len(t, r.e.keys.presses, 1)
}

func TestKeyboard_GateCloseStopsKeyboardJog(t *testing.T) {
	r := newRig(t)
	r.dev.pos[int(stage.AxisZ)] = 5

	r.down("Up", 0)
	require.NoError(t, r.e.MoveAbsolute(stage.AxisR, 90))

	assert.Equal(t, []string{"jog", "abs", "stop"}, r.dev.ops())
	assert.Empty(t, r.e.keys.presses)
	assert.NotContains(t, r.e.jogs, stage.AxisZ)
	z := r.e.sessions[stage.AxisZ]
	require.NotNil(t, z)
	assert.False(t, z.suspends)

	r.up("Up", 0)
	assert.Len(t, r.dev.callsOf("stop"), 1)
}

func TestKeyboard_DisabledIgnoresKeys(t *testing.T) {
	r := newRig(t)
	r.e.SetKeyboardEnabled(false)
	assert.False(t, r.e.KeyboardOpen())

	r.down("Up", 0)
	r.up("Up", 0)
	assert.Empty(t, r.dev.calls)

	r.e.SetKeyboardEnabled(true)
	assert.True(t, r.e.KeyboardOpen())
}

func TestKeyboard_DisableReleasesHeldKeys(t *testing.T) {
	r := newRig(t)
	r.dev.pos[int(stage.AxisZ)] = 5
	r.down("period", keys.Ctrl)
	r.e.SetKeyboardEnabled(false)

	assert.Empty(t, r.e.keys.presses)
	assert.Zero(t, r.clock.Pending())
	r.clock.Advance(time.Second)
	assert.Empty(t, r.dev.calls)
}

func TestTerminalKey_Tap(t *testing.T) {
	r := newRig(t, func(c *stage.Config) { c.Keyboard.HoldMs = 700 })
	r.dev.pos[int(stage.AxisZ)] = 5
	gap := 600 * time.Millisecond

	r.e.TerminalKey(keys.Event{Key: "period", Mods: keys.Ctrl, Down: true}, gap)
	r.clock.Advance(gap - time.Millisecond)
	assert.Empty(t, r.dev.calls)
	r.clock.Advance(time.Millisecond)
	assert.Equal(t, []string{"rel"}, r.dev.ops())
	assert.Empty(t, r.e.keys.release)
}

func TestTerminalKey_HeldByRepeats(t *testing.T) {
	r := newRig(t, func(c *stage.Config) { c.Keyboard.HoldMs = 700 })
	r.dev.pos[int(stage.AxisZ)] = 5
	gap := 600 * time.Millisecond
	ev := keys.Event{Key: "period", Mods: keys.Ctrl, Down: true}

	r.e.TerminalKey(ev, gap)
	for range 33 {
		r.clock.Advance(30 * time.Millisecond)
		r.e.TerminalKey(ev, gap)
	}
	assert.Equal(t, []string{"jog"}, r.dev.ops())

	r.clock.Advance(gap)
	assert.Equal(t, []string{"jog", "stop"}, r.dev.ops())
}

func TestSetKeyMap(t *testing.T) {
	r := newRig(t)
	r.dev.pos[int(stage.AxisZ)] = 5
	r.e.SetKeyMap(KeyMap{
		FineSteps: []FineStep{{Key: "period", Axis: stage.AxisZ, Step: 0.5}},
		HoldDelay: time.Second,
		HoldAccel: 0.5,
	})
	r.down("period", 0)
	r.up("period", 0)
	assert.InDelta(t, 0.5, r.dev.callsOf("rel")[0].value, 1e-12)

	r.down("Up", 0)
	assert.Len(t, r.dev.callsOf("jog"), 0, "jog keys were replaced")
}

func TestKeyMapFrom(t *testing.T) {
	km, err := KeyMapFrom(stage.Default())
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, km.HoldDelay)
	assert.Equal(t, keys.Ctrl, km.SlowMods)
	assert.Len(t, km.FineSteps, 8)

	fs, ok := km.fineStep("Num_Lock", keys.Shift|keys.Ctrl|keys.Alt)
	require.True(t, ok)
	assert.Equal(t, -0.001, fs.Step)
	assert.True(t, fs.TapOnly)

	cfg := stage.Default()
	cfg.Keyboard.FineSteps = []stage.FineStepBinding{{Chord: "meta+x", Axis: "Z", Step: 1}}
	_, err = KeyMapFrom(cfg)
	assert.Error(t, err)
}

func TestPressState_String(t *testing.T) {
	assert.Equal(t, "pending", pressPending.String())
	assert.Equal(t, "promoted", pressPromoted.String())
	assert.Equal(t, "resolved", pressResolved.String())
}
