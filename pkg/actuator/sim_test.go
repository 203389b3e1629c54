package actuator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/rzpanel/pkg/stage"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSim(t *testing.T) (*Sim, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s := NewSim(clk.now, 0, 1)
	require.NoError(t, s.Initialize(context.Background(), "SIM"))
	return s, clk
}

func TestSim_NotConnected(t *testing.T) {
	s := NewSim(nil, 0)
	_, err := s.ReadPosition(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, s.PauseAll(context.Background()), ErrNotConnected)
}

func TestSim_UnknownAxis(t *testing.T) {
	s, _ := newTestSim(t)
	_, err := s.ReadPosition(context.Background(), 7)
	assert.ErrorIs(t, err, ErrUnknownAxis)
}

func TestSim_MoveAbsolute(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestSim(t)
	require.NoError(t, s.SendParam(ctx, 1, ParamVelocity, 2))
	require.NoError(t, s.MoveAbsolute(ctx, 1, 5))

	clk.advance(time.Second)
	pos, err := s.ReadPosition(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, pos, 1e-9)

	clk.advance(5 * time.Second)
	pos, err = s.ReadPosition(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, pos, 1e-9)
}

func TestSim_MoveRelativeAndStop(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestSim(t)
	s.SetPosition(0, 10)
	require.NoError(t, s.MoveRelative(ctx, 0, -4))

	clk.advance(time.Second)
	require.NoError(t, s.Stop(ctx, 0))
	clk.advance(time.Second)

	pos, err := s.ReadPosition(ctx, 0)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, pos, 1e-9)
}

func TestSim_JogAndPause(t *testing.T) {
	ctx := context.Background()
	s, clk := newTestSim(t)
	require.NoError(t, s.JogAtSpeed(ctx, 1, -0.5, 1))

	clk.advance(2 * time.Second)
	require.NoError(t, s.PauseAll(ctx))
	clk.advance(10 * time.Second)
	require.NoError(t, s.ResumeAll(ctx))
	clk.advance(2 * time.Second)

	pos, err := s.ReadPosition(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, -2.0, pos, 1e-9)
}

func TestSim_Params(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSim(t)
	require.NoError(t, s.SendParam(ctx, 0, ParamAcceleration, 0.25))
	acc, err := s.ReadParam(ctx, 0, ParamAcceleration)
	require.NoError(t, err)
	assert.Equal(t, 0.25, acc)

	assert.ErrorIs(t, s.SendParam(ctx, 0, ParamVelocity, -1), ErrRejected)
	_, err = s.ReadParam(ctx, 0, Param(9))
	assert.ErrorIs(t, err, ErrRejected)
}

func TestNewFeetech_RequiresServoAxes(t *testing.T) {
	_, err := NewFeetech(stage.Default().Axes)
	assert.Error(t, err)

	axes := stage.Default().Axes
	axes[1].Servo = &stage.ServoCalibration{ID: 2, RangeMin: 0, RangeMax: 4095, UnitMax: 17}
	f, err := NewFeetech(axes)
	require.NoError(t, err)

	_, err = f.ReadPosition(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotConnected)
	v, err := f.ReadParam(context.Background(), 1, ParamVelocity)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, v)
}

func TestFeetech_UnloadAndFailedInitialize(t *testing.T) {
	axes := stage.Default().Axes
	axes[1].Servo = &stage.ServoCalibration{ID: 2, RangeMin: 0, RangeMax: 4095, UnitMax: 17}
	f, err := NewFeetech(axes)
	require.NoError(t, err)

	assert.NoError(t, f.Unload(), "unload without a bus")
	assert.NoError(t, f.Unload())

	err = f.Initialize(context.Background(), filepath.Join(t.TempDir(), "ttyNONE"))
	require.Error(t, err)
	assert.Nil(t, f.bus)
	assert.ErrorIs(t, f.Stop(context.Background(), 1), ErrNotConnected)
	assert.NoError(t, f.Unload())
}

func TestParam_String(t *testing.T) {
	assert.Equal(t, "velocity", ParamVelocity.String())
	assert.Equal(t, "acceleration", ParamAcceleration.String())
	assert.Equal(t, "param(7)", Param(7).String())
}
