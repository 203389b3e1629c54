package motion

import (
	"fmt"
	"math"

	"go.uber.org/zap/zapcore"

	"github.com/gwillem/rzpanel/pkg/stage"
)

// clampTarget limits an absolute target to the soft limits of an axis,
// logging when the requested value had to change.
func (e *Engine) clampTarget(ax stage.Axis, v float64) float64 {
	if ax.Limits == nil {
		return v
	}
	t := ax.Limits.Clamp(v)
	if t != v {
		e.log(zapcore.InfoLevel, "%s: %.4f %s is outside [%.3f, %.3f], clamped to %.4f",
			ax.Label, v, ax.Unit, ax.Limits.Min, ax.Limits.Max, t)
	}
	return t
}

// checkJogStart refuses a jog that would start inside the limit band in the
// direction of travel.
func (e *Engine) checkJogStart(ax stage.Axis, dir int) error {
	if ax.Limits == nil {
		return nil
	}
	pos, err := e.readPosition(ax.ID)
	if err != nil {
		return fmt.Errorf("%s: read position: %w", ax.Label, err)
	}
	if ax.Limits.Near(pos, dir, e.motion.LimitEpsilon) {
		return fmt.Errorf("%w: %s at %.4f %s", ErrLimit, ax.Label, pos, ax.Unit)
	}
	return nil
}

func validValue(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, v)
	}
	return nil
}
