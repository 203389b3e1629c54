package motion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gwillem/rzpanel/pkg/actuator"
	"github.com/gwillem/rzpanel/pkg/keys"
	"github.com/gwillem/rzpanel/pkg/sched"
	"github.com/gwillem/rzpanel/pkg/stage"
)

var errReadFailed = errors.New("read failed")

type call struct {
	op    string
	axis  int
	value float64
	accel float64
}

// fakeDevice records every command and serves scripted positions. Reads are
// counted but not recorded as calls.
type fakeDevice struct {
	pos     map[int]float64
	script  map[int][]float64
	failing map[int]int
	reject  map[string]bool
	calls   []call
	reads   map[int]int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		pos:     map[int]float64{},
		script:  map[int][]float64{},
		failing: map[int]int{},
		reject:  map[string]bool{},
		reads:   map[int]int{},
	}
}

func (f *fakeDevice) record(op string, axis int, value, accel float64) error {
	if f.reject[op] {
		return actuator.ErrRejected
	}
	f.calls = append(f.calls, call{op: op, axis: axis, value: value, accel: accel})
	return nil
}

// ops returns the recorded operation names, ignoring resume broadcasts.
func (f *fakeDevice) ops() []string {
	var out []string
	for _, c := range f.calls {
		if c.op != "resume" {
			out = append(out, c.op)
		}
	}
	return out
}

func (f *fakeDevice) callsOf(op string) []call {
	var out []call
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeDevice) Initialize(ctx context.Context, port string) error {
	return f.record("init", 0, 0, 0)
}

func (f *fakeDevice) ReadPosition(ctx context.Context, axis int) (float64, error) {
	f.reads[axis]++
	if f.failing[axis] > 0 {
		f.failing[axis]--
		return 0, errReadFailed
	}
	if q := f.script[axis]; len(q) > 0 {
		f.pos[axis] = q[0]
		f.script[axis] = q[1:]
	}
	return f.pos[axis], nil
}

func (f *fakeDevice) ReadParam(ctx context.Context, axis int, index actuator.Param) (float64, error) {
	if index == actuator.ParamVelocity {
		return 1, nil
	}
	return 2, nil
}

func (f *fakeDevice) SendParam(ctx context.Context, axis int, index actuator.Param, value float64) error {
	return f.record(index.String(), axis, value, 0)
}

func (f *fakeDevice) MoveAbsolute(ctx context.Context, axis int, value float64) error {
	return f.record("abs", axis, value, 0)
}

func (f *fakeDevice) MoveRelative(ctx context.Context, axis int, delta float64) error {
	return f.record("rel", axis, delta, 0)
}

func (f *fakeDevice) JogAtSpeed(ctx context.Context, axis int, velocity, accel float64) error {
	return f.record("jog", axis, velocity, accel)
}

func (f *fakeDevice) Stop(ctx context.Context, axis int) error {
	return f.record("stop", axis, 0, 0)
}

func (f *fakeDevice) PauseAll(ctx context.Context) error {
	return f.record("pause", actuator.AllAxes, 0, 0)
}

func (f *fakeDevice) ResumeAll(ctx context.Context) error {
	return f.record("resume", actuator.AllAxes, 0, 0)
}

func (f *fakeDevice) Unload() error {
	return f.record("unload", 0, 0, 0)
}

type published struct {
	axis stage.AxisID
	s    stage.Sample
}

type recordSink struct {
	got []published
}

func (r *recordSink) OnStateChange(axis stage.Axis, s stage.Sample) {
	r.got = append(r.got, published{axis: axis.ID, s: s})
}

type rig struct {
	e     *Engine
	dev   *fakeDevice
	clock *sched.Manual
	sink  *recordSink
}

func newRig(t *testing.T, mutate ...func(*stage.Config)) *rig {
	t.Helper()
	cfg := stage.Default()
	for _, m := range mutate {
		m(&cfg)
	}
	r := &rig{
		dev:   newFakeDevice(),
		clock: sched.NewManual(time.Unix(1700000000, 0)),
		sink:  &recordSink{},
	}
	e, err := New(Options{Device: r.dev, Scheduler: r.clock, Sink: r.sink, Config: cfg})
	require.NoError(t, err)
	r.e = e
	return r
}

// tick advances the clock by n poll intervals.
func (r *rig) tick(n int) {
	r.clock.Advance(time.Duration(n) * r.e.motion.PollInterval())
}

func (r *rig) down(key string, mods keys.Mods) {
	r.e.KeyDown(keys.Event{Key: key, Mods: mods, Down: true})
}

func (r *rig) up(key string, mods keys.Mods) {
	r.e.KeyUp(keys.Event{Key: key, Mods: mods})
}
