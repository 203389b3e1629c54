package motion

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/gwillem/rzpanel/pkg/actuator"
	"github.com/gwillem/rzpanel/pkg/stage"
)

// Connect initializes the device on port and publishes the state of every
// axis.
func (e *Engine) Connect(port string) error {
	err := e.io(func(ctx context.Context) error {
		return e.dev.Initialize(ctx, port)
	})
	if err != nil {
		e.connected.Store(false)
		e.log(zapcore.ErrorLevel, "Connect %s failed: %v", port, err)
		return fmt.Errorf("connect %s: %w", port, err)
	}
	e.connected.Store(true)
	e.log(zapcore.InfoLevel, "Connected on %s", port)
	e.Refresh()
	return nil
}

// Refresh reads every axis once and publishes what changed.
func (e *Engine) Refresh() {
	for _, id := range e.order {
		s, err := e.sample(id)
		if err != nil {
			e.log(zapcore.WarnLevel, "%s: read failed: %v", e.axes[id].Label, err)
			continue
		}
		e.publish(id, s)
	}
}

// MoveAbsolute moves an axis to v, clamped to its soft limits. Keyboard
// input is suspended until the axis settles.
func (e *Engine) MoveAbsolute(id stage.AxisID, v float64) error {
	ax, err := e.axis(id)
	if err != nil {
		return err
	}
	if err := validValue(v); err != nil {
		return err
	}
	target := e.clampTarget(ax, v)
	if err := e.command(ax, "move", func(ctx context.Context) error {
		return e.dev.MoveAbsolute(ctx, int(id), target)
	}); err != nil {
		return err
	}
	e.cancelJog(id)
	e.startSettle(id, target, true, true)
	e.log(zapcore.InfoLevel, "%s: move to %.4f %s", ax.Label, target, ax.Unit)
	return nil
}

// MoveRelative moves an axis by delta. On a limited axis the delta sent is
// recomputed from the clamped target.
func (e *Engine) MoveRelative(id stage.AxisID, delta float64) error {
	ax, err := e.axis(id)
	if err != nil {
		return err
	}
	if err := validValue(delta); err != nil {
		return err
	}
	cur, rerr := e.readPosition(id)
	target, hasTarget := 0.0, rerr == nil
	switch {
	case ax.Limits != nil && rerr != nil:
		e.log(zapcore.ErrorLevel, "%s: relative move refused, position unknown: %v", ax.Label, rerr)
		return fmt.Errorf("%s: read position: %w", ax.Label, rerr)
	case ax.Limits != nil:
		target = e.clampTarget(ax, cur+delta)
		delta = target - cur
		if delta == 0 {
			e.log(zapcore.InfoLevel, "%s: already at limit %.4f %s", ax.Label, cur, ax.Unit)
			return nil
		}
	case hasTarget:
		target = cur + delta
	}

	if err := e.command(ax, "move", func(ctx context.Context) error {
		return e.dev.MoveRelative(ctx, int(id), delta)
	}); err != nil {
		return err
	}
	e.cancelJog(id)
	e.startSettle(id, target, hasTarget, true)
	e.log(zapcore.InfoLevel, "%s: move by %+.4f %s", ax.Label, delta, ax.Unit)
	return nil
}

// Home moves an axis to zero.
func (e *Engine) Home(id stage.AxisID) error {
	ax, err := e.axis(id)
	if err != nil {
		return err
	}
	e.log(zapcore.InfoLevel, "%s: homing", ax.Label)
	return e.MoveAbsolute(id, 0)
}

// Step moves an axis by one keyboard step. Unlike explicit moves it leaves
// the keyboard enabled.
func (e *Engine) Step(id stage.AxisID, step float64) error {
	ax, err := e.axis(id)
	if err != nil {
		return err
	}
	cur, err := e.readPosition(id)
	if err != nil {
		e.log(zapcore.WarnLevel, "%s: step skipped, read failed: %v", ax.Label, err)
		return fmt.Errorf("%s: read position: %w", ax.Label, err)
	}
	target := cur + step
	if ax.Limits != nil {
		target = e.clampTarget(ax, target)
	}
	delta := target - cur
	if delta == 0 {
		return nil
	}
	e.resumeDevice()
	err = e.io(func(ctx context.Context) error {
		return e.dev.MoveRelative(ctx, int(id), delta)
	})
	if err != nil {
		e.log(zapcore.ErrorLevel, "%s: step failed: %v", ax.Label, err)
		return fmt.Errorf("%s: step: %w", ax.Label, err)
	}
	e.cancelJog(id)
	e.startSettle(id, target, true, false)
	e.log(zapcore.DebugLevel, "%s: step %+.4f %s", ax.Label, delta, ax.Unit)
	return nil
}

// Stop halts an axis and polls it while it coasts to rest. Stop is an
// operator override: the keyboard is released immediately.
func (e *Engine) Stop(id stage.AxisID) error {
	ax, err := e.axis(id)
	if err != nil {
		return err
	}
	e.gate.ResumeAll()
	e.resumeDevice()
	err = e.io(func(ctx context.Context) error {
		return e.dev.Stop(ctx, int(id))
	})
	if err != nil {
		e.log(zapcore.ErrorLevel, "%s: stop failed: %v", ax.Label, err)
		return fmt.Errorf("%s: stop: %w", ax.Label, err)
	}
	e.cancelJog(id)
	e.startSettle(id, 0, false, false)
	e.log(zapcore.InfoLevel, "%s: stop", ax.Label)
	return nil
}

// StopAll stops every axis.
func (e *Engine) StopAll() error {
	var errs []error
	for _, id := range e.order {
		errs = append(errs, e.Stop(id))
	}
	return errors.Join(errs...)
}

// SetParam stops an axis and sends a velocity or acceleration parameter.
func (e *Engine) SetParam(id stage.AxisID, p actuator.Param, value float64) error {
	ax, err := e.axis(id)
	if err != nil {
		return err
	}
	if err := validValue(value); err != nil {
		return err
	}
	if value <= 0 {
		e.log(zapcore.WarnLevel, "%s: %s must be positive, got %g", ax.Label, p, value)
		return fmt.Errorf("%w: %s %g", ErrInvalidInput, p, value)
	}
	if err := e.Stop(id); err != nil {
		return err
	}
	if err := e.command(ax, p.String(), func(ctx context.Context) error {
		return e.dev.SendParam(ctx, int(id), p, value)
	}); err != nil {
		return err
	}

	s := stage.Sample{Time: e.sched.Now()}
	unit := ax.VelocityUnit
	if p == actuator.ParamAcceleration {
		s.Acceleration = stage.Some(value)
		unit = ax.AccelUnit
	} else {
		s.Velocity = stage.Some(value)
	}
	e.publish(id, s)
	e.log(zapcore.InfoLevel, "%s: %s set to %g %s", ax.Label, p, value, unit)
	return nil
}

// ApplyDefaults sends the configured default velocity and acceleration of
// every axis.
func (e *Engine) ApplyDefaults() error {
	var errs []error
	for _, id := range e.order {
		ax := e.axes[id]
		if ax.DefaultVelocity > 0 {
			errs = append(errs, e.SetParam(id, actuator.ParamVelocity, ax.DefaultVelocity))
		}
		if ax.DefaultAccel > 0 {
			errs = append(errs, e.SetParam(id, actuator.ParamAcceleration, ax.DefaultAccel))
		}
	}
	return errors.Join(errs...)
}

// PauseAll pauses motion on every axis.
func (e *Engine) PauseAll() error {
	err := e.io(e.dev.PauseAll)
	if err != nil {
		e.log(zapcore.ErrorLevel, "Pause failed: %v", err)
		return fmt.Errorf("pause: %w", err)
	}
	e.log(zapcore.InfoLevel, "Paused")
	return nil
}

// ResumeAll resumes paused motion on every axis.
func (e *Engine) ResumeAll() error {
	err := e.io(e.dev.ResumeAll)
	if err != nil {
		e.log(zapcore.ErrorLevel, "Resume failed: %v", err)
		return fmt.Errorf("resume: %w", err)
	}
	e.log(zapcore.InfoLevel, "Resumed")
	return nil
}

// command resumes the device and sends one motion command, logging a
// refusal.
func (e *Engine) command(ax stage.Axis, what string, fn func(ctx context.Context) error) error {
	e.resumeDevice()
	if err := e.io(fn); err != nil {
		e.log(zapcore.ErrorLevel, "%s: %s rejected: %v", ax.Label, what, err)
		return fmt.Errorf("%s: %s: %w", ax.Label, what, err)
	}
	return nil
}

// resumeDevice clears a pause left on the controller so that the next
// command is executed.
func (e *Engine) resumeDevice() {
	if err := e.io(e.dev.ResumeAll); err != nil {
		e.log(zapcore.DebugLevel, "Resume before command failed: %v", err)
	}
}
