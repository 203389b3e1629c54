package motion

import (
	"context"
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/gwillem/rzpanel/pkg/sched"
	"github.com/gwillem/rzpanel/pkg/stage"
)

// jog is a continuous velocity motion guarded by a periodic limit check.
type jog struct {
	axis     stage.AxisID
	dir      int
	keyboard bool
	timer    sched.Handle
}

// StartJog starts a continuous jog of an axis using its fast or slow profile.
func (e *Engine) StartJog(id stage.AxisID, dir int, slow bool) error {
	ax, err := e.axis(id)
	if err != nil {
		return err
	}
	v, a := ax.Jog.Speed(slow)
	return e.startJog(ax, dir, v, a, false)
}

func (e *Engine) startJog(ax stage.Axis, dir int, v, a float64, keyboard bool) error {
	if dir == 0 || v <= 0 {
		return fmt.Errorf("%w: jog direction %d speed %g", ErrInvalidInput, dir, v)
	}
	if dir > 0 {
		dir = 1
	} else {
		dir = -1
	}
	if err := e.checkJogStart(ax, dir); err != nil {
		e.log(zapcore.WarnLevel, "Jog blocked: %v", err)
		return err
	}

	e.resumeDevice()
	err := e.io(func(ctx context.Context) error {
		return e.dev.JogAtSpeed(ctx, int(ax.ID), float64(dir)*v, a)
	})
	if err != nil {
		e.log(zapcore.ErrorLevel, "%s: jog failed: %v", ax.Label, err)
		return fmt.Errorf("%s: jog: %w", ax.Label, err)
	}

	e.cancelSettle(ax.ID, true)
	e.cancelJog(ax.ID)
	j := &jog{axis: ax.ID, dir: dir, keyboard: keyboard}
	e.jogs[ax.ID] = j
	j.timer = e.sched.After(e.motion.PollInterval(), func() { e.guardTick(j) })
	e.log(zapcore.DebugLevel, "%s: jog %+d at %g %s", ax.Label, dir, v, ax.VelocityUnit)
	return nil
}

// StopJog stops a jog and polls the axis while it coasts to rest. It does
// nothing when the axis is not jogging.
func (e *Engine) StopJog(id stage.AxisID) error {
	j, ok := e.jogs[id]
	if !ok {
		return nil
	}
	return e.haltJog(j)
}

func (e *Engine) haltJog(j *jog) error {
	ax := e.axes[j.axis]
	err := e.io(func(ctx context.Context) error {
		return e.dev.Stop(ctx, int(j.axis))
	})
	if err != nil {
		e.log(zapcore.ErrorLevel, "%s: stop failed: %v", ax.Label, err)
		return fmt.Errorf("%s: stop: %w", ax.Label, err)
	}
	e.cancelJog(j.axis)
	e.startSettle(j.axis, 0, false, false)
	return nil
}

// cancelJog forgets the jog of an axis without commanding the device.
func (e *Engine) cancelJog(id stage.AxisID) {
	if j, ok := e.jogs[id]; ok {
		e.sched.Cancel(j.timer)
		delete(e.jogs, id)
	}
}

// guardTick samples a jogging axis and stops it on entering the limit band.
func (e *Engine) guardTick(j *jog) {
	if e.jogs[j.axis] != j {
		return
	}
	ax := e.axes[j.axis]
	s, err := e.sample(j.axis)
	if err != nil {
		e.log(zapcore.DebugLevel, "%s: read failed: %v", ax.Label, err)
	} else {
		e.publish(j.axis, s)
		if ax.Limits != nil && ax.Limits.Near(s.Position.Value, j.dir, e.motion.LimitEpsilon) {
			e.log(zapcore.WarnLevel, "%s: soft limit reached at %.4f %s, stopping jog", ax.Label, s.Position.Value, ax.Unit)
			if e.haltJog(j) == nil {
				return
			}
		}
	}
	j.timer = e.sched.After(e.motion.PollInterval(), func() { e.guardTick(j) })
}
