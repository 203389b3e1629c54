package motion

import "github.com/gwillem/rzpanel/pkg/stage"

// Gate decides whether keyboard input may drive the stage. It is open when
// the operator has enabled the keyboard and no axis holds a suspension.
type Gate struct {
	enabled  bool
	holds    map[stage.AxisID]bool
	onChange func(open bool)
}

// NewGate creates a gate. onChange, if set, runs whenever Open changes.
func NewGate(enabled bool, onChange func(open bool)) *Gate {
	return &Gate{enabled: enabled, holds: make(map[stage.AxisID]bool), onChange: onChange}
}

// Open reports whether keyboard input is accepted.
func (g *Gate) Open() bool {
	return g.enabled && len(g.holds) == 0
}

// Enabled reports the operator setting, ignoring suspensions.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// Suspended reports whether any axis holds a suspension.
func (g *Gate) Suspended() bool {
	return len(g.holds) > 0
}

// SetEnabled sets the operator setting.
func (g *Gate) SetEnabled(on bool) {
	g.update(func() { g.enabled = on })
}

// Suspend records a suspension held by axis. Repeated calls are no-ops.
func (g *Gate) Suspend(axis stage.AxisID) {
	g.update(func() { g.holds[axis] = true })
}

// Resume releases the suspension held by axis, if any.
func (g *Gate) Resume(axis stage.AxisID) {
	g.update(func() { delete(g.holds, axis) })
}

// ResumeAll releases every suspension.
func (g *Gate) ResumeAll() {
	g.update(func() { clear(g.holds) })
}

func (g *Gate) update(fn func()) {
	was := g.Open()
	fn()
	if now := g.Open(); now != was && g.onChange != nil {
		g.onChange(now)
	}
}
