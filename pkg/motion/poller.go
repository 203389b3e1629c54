package motion

import (
	"math"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/gwillem/rzpanel/pkg/sched"
	"github.com/gwillem/rzpanel/pkg/stage"
)

// session is one settle poll of an axis. The device reports no completion,
// so a motion counts as finished once the position has stayed still (near
// the target, when there is one) for StillCount consecutive samples.
type session struct {
	axis      stage.AxisID
	target    float64
	hasTarget bool
	start     time.Time
	still     int
	last      stage.Field
	suspends  bool
	ticks     int
	timer     sched.Handle
}

// startSettle replaces the settle session of an axis. A suspending session
// holds the keyboard gate until it ends.
func (e *Engine) startSettle(id stage.AxisID, target float64, hasTarget, suspend bool) {
	if suspend {
		e.gate.Suspend(id)
	}
	e.cancelSettle(id, !suspend)

	s := &session{
		axis:      id,
		target:    target,
		hasTarget: hasTarget,
		start:     e.sched.Now(),
		suspends:  suspend,
	}
	e.sessions[id] = s
	s.timer = e.sched.After(e.motion.PollInterval(), func() { e.settleTick(s) })
}

// cancelSettle drops the session of an axis without settling it. release
// returns its keyboard suspension.
func (e *Engine) cancelSettle(id stage.AxisID, release bool) {
	s, ok := e.sessions[id]
	if !ok {
		return
	}
	e.sched.Cancel(s.timer)
	delete(e.sessions, id)
	if release && s.suspends {
		e.gate.Resume(id)
	}
}

func (e *Engine) settleTick(s *session) {
	if e.sessions[s.axis] != s {
		return
	}
	s.ticks++
	ax := e.axes[s.axis]

	sample, err := e.sample(s.axis)
	if err != nil {
		e.log(zapcore.DebugLevel, "%s: read failed: %v", ax.Label, err)
	} else {
		e.publish(s.axis, sample)
		if e.observe(s, sample.Position.Value) {
			e.finishSettle(s, false)
			return
		}
	}

	if elapsed := e.sched.Now().Sub(s.start); elapsed > e.motion.Timeout() {
		e.finishSettle(s, true)
		return
	}
	s.timer = e.sched.After(e.motion.PollInterval(), func() { e.settleTick(s) })
}

// observe feeds one position into the still counter and reports whether the
// motion has settled. With a target the counter is the length of the current
// run of samples near the target that moved at most DeltaEpsilon; a near
// sample that still moved starts a new run at 1. Without a target only
// movement counts: a moved sample, or the first one, resets it to 0.
func (e *Engine) observe(s *session, pos float64) bool {
	near := !s.hasTarget || math.Abs(pos-s.target) <= e.motion.PositionEpsilon
	still := s.last.Valid && math.Abs(pos-s.last.Value) <= e.motion.DeltaEpsilon
	switch {
	case !near:
		s.still = 0
	case still:
		s.still++
	case !s.hasTarget:
		s.still = 0
	default:
		s.still = 1
	}
	s.last = stage.Some(pos)
	return s.still >= e.motion.StillCount
}

func (e *Engine) finishSettle(s *session, timedOut bool) {
	delete(e.sessions, s.axis)
	ax := e.axes[s.axis]
	switch {
	case timedOut:
		e.log(zapcore.WarnLevel, "%s: motion timed out after %s", ax.Label, e.motion.Timeout())
	case s.last.Valid:
		e.log(zapcore.DebugLevel, "%s: settled at %.4f %s after %d samples", ax.Label, s.last.Value, ax.Unit, s.ticks)
	}
	if s.suspends {
		e.gate.Resume(s.axis)
	}
}
