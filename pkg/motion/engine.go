// Package motion coordinates operator actions with the motion controller.
//
// The Engine turns typed commands and key events into actuator calls,
// infers when a motion has finished by polling, keeps jogs and targets
// inside software limits, decides between a single step and a continuous
// jog for held keys, and suspends keyboard input while an explicit command
// is in flight. Significant state changes are pushed to a Sink.
//
// An Engine is not safe for concurrent use. Every method must be called on
// the goroutine of its scheduler; other goroutines go through sched.Loop.Post.
package motion

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gwillem/rzpanel/pkg/actuator"
	"github.com/gwillem/rzpanel/pkg/sched"
	"github.com/gwillem/rzpanel/pkg/stage"
)

var (
	// ErrInvalidInput is returned for operator input that is not a usable value.
	ErrInvalidInput = errors.New("invalid input")
	// ErrLimit is returned when a jog would start inside the soft limit band.
	ErrLimit = errors.New("soft limit")
	// ErrUnknownAxis is returned for an axis that is not configured.
	ErrUnknownAxis = errors.New("unknown axis")
)

// Sink receives significant state changes. Only the valid fields of the
// sample changed; consumers must tolerate repeated identical values.
type Sink interface {
	OnStateChange(axis stage.Axis, s stage.Sample)
}

// Options configures an Engine.
type Options struct {
	Device    actuator.Actuator
	Scheduler sched.Scheduler
	Sink      Sink
	Logger    *zap.Logger
	Config    stage.Config
}

// Engine owns the per-axis motion sessions, jogs, state cache and keyboard
// gate of one stage.
type Engine struct {
	dev    actuator.Actuator
	sched  sched.Scheduler
	sink   Sink
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	motion stage.MotionConfig
	axes   map[stage.AxisID]stage.Axis
	order  []stage.AxisID

	sessions map[stage.AxisID]*session
	jogs     map[stage.AxisID]*jog
	cache    *Cache
	gate     *Gate
	keys     *Dispatcher

	keysOpen  atomic.Bool
	connected atomic.Bool
	logCh     chan string
}

// New creates an engine. The configuration must have passed Validate.
func New(opts Options) (*Engine, error) {
	if opts.Device == nil {
		return nil, errors.New("motion: no device")
	}
	if opts.Scheduler == nil {
		return nil, errors.New("motion: no scheduler")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	cfg := opts.Config
	if len(cfg.Axes) == 0 {
		cfg = stage.Default()
	}
	km, err := KeyMapFrom(cfg)
	if err != nil {
		return nil, fmt.Errorf("key map: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		dev:      opts.Device,
		sched:    opts.Scheduler,
		sink:     opts.Sink,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		motion:   cfg.Motion,
		axes:     make(map[stage.AxisID]stage.Axis, len(cfg.Axes)),
		sessions: make(map[stage.AxisID]*session),
		jogs:     make(map[stage.AxisID]*jog),
		cache:    NewCache(cfg.Cache),
		logCh:    make(chan string, 100),
	}
	for _, a := range cfg.Axes {
		e.axes[a.ID] = a
		e.order = append(e.order, a.ID)
	}
	slices.Sort(e.order)
	e.keys = newDispatcher(e, km)
	e.gate = NewGate(cfg.Keyboard.Enabled, e.onGateChange)
	e.keysOpen.Store(e.gate.Open())
	return e, nil
}

// Logs returns a channel of formatted log lines for display.
func (e *Engine) Logs() <-chan string {
	return e.logCh
}

// Axes returns the configured axes ordered by id.
func (e *Engine) Axes() []stage.Axis {
	out := make([]stage.Axis, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.axes[id])
	}
	return out
}

// AxisByLabel finds an axis by its label, ignoring case.
func (e *Engine) AxisByLabel(label string) (stage.Axis, error) {
	for _, id := range e.order {
		if a := e.axes[id]; strings.EqualFold(a.Label, label) {
			return a, nil
		}
	}
	return stage.Axis{}, fmt.Errorf("%w %q", ErrUnknownAxis, label)
}

// KeyboardOpen reports whether keyboard input is currently accepted. It is
// safe to call from any goroutine.
func (e *Engine) KeyboardOpen() bool {
	return e.keysOpen.Load()
}

// Connected reports whether the device was initialized. It is safe to call
// from any goroutine.
func (e *Engine) Connected() bool {
	return e.connected.Load()
}

// Moving reports whether axis has an active settle session or jog.
func (e *Engine) Moving(axis stage.AxisID) bool {
	_, settling := e.sessions[axis]
	_, jogging := e.jogs[axis]
	return settling || jogging
}

// Cached returns the last published sample of axis.
func (e *Engine) Cached(axis stage.AxisID) stage.Sample {
	return e.cache.Get(axis)
}

// Close cancels every timer and unloads the device.
func (e *Engine) Close() error {
	e.keys.releaseAll()
	for id, s := range e.sessions {
		e.sched.Cancel(s.timer)
		delete(e.sessions, id)
	}
	for id, j := range e.jogs {
		e.sched.Cancel(j.timer)
		delete(e.jogs, id)
	}
	e.cancel()
	e.connected.Store(false)
	if err := e.dev.Unload(); err != nil {
		return fmt.Errorf("unload device: %w", err)
	}
	return nil
}

func (e *Engine) axis(id stage.AxisID) (stage.Axis, error) {
	a, ok := e.axes[id]
	if !ok {
		return stage.Axis{}, fmt.Errorf("%w %d", ErrUnknownAxis, id)
	}
	return a, nil
}

func (e *Engine) onGateChange(open bool) {
	e.keysOpen.Store(open)
	if open {
		e.log(zapcore.DebugLevel, "Keyboard input enabled")
		return
	}
	e.log(zapcore.DebugLevel, "Keyboard input suspended")
	e.keys.releaseAll()
}

func (e *Engine) log(level zapcore.Level, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	e.logger.Log(level, text)
	if level < zapcore.InfoLevel {
		return
	}
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), text)
	select {
	case e.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// io runs one device call bounded by the configured I/O timeout.
func (e *Engine) io(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(e.ctx, e.motion.IOTimeout())
	defer cancel()
	return fn(ctx)
}

func (e *Engine) readPosition(id stage.AxisID) (float64, error) {
	var pos float64
	err := e.io(func(ctx context.Context) (err error) {
		pos, err = e.dev.ReadPosition(ctx, int(id))
		return err
	})
	return pos, err
}

// sample reads position, velocity and acceleration of an axis. The error
// reports a failed position read; other fields are simply absent on failure.
func (e *Engine) sample(id stage.AxisID) (stage.Sample, error) {
	s := stage.Sample{Time: e.sched.Now()}
	pos, err := e.readPosition(id)
	if err != nil {
		return s, err
	}
	s.Position = stage.Some(pos)
	for _, p := range []actuator.Param{actuator.ParamVelocity, actuator.ParamAcceleration} {
		var v float64
		err := e.io(func(ctx context.Context) (err error) {
			v, err = e.dev.ReadParam(ctx, int(id), p)
			return err
		})
		if err != nil {
			continue
		}
		if p == actuator.ParamVelocity {
			s.Velocity = stage.Some(v)
		} else {
			s.Acceleration = stage.Some(v)
		}
	}
	return s, nil
}

// publish filters s through the cache and forwards what changed.
func (e *Engine) publish(id stage.AxisID, s stage.Sample) {
	changed, ok := e.cache.Update(id, s)
	if !ok || e.sink == nil {
		return
	}
	e.sink.OnStateChange(e.axes[id], changed)
}
