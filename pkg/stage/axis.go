// Package stage describes the positioning stage: its axes, the samples read
// from them, and the panel configuration.
package stage

import (
	"strings"
	"time"
)

// AxisID identifies an axis. It equals the axis index on the motion controller.
type AxisID int

// Axes of the R/Z stage.
const (
	AxisR AxisID = 0
	AxisZ AxisID = 1
)

// Limits is a software position bound pair.
type Limits struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Clamp returns v limited to [Min, Max].
func (l Limits) Clamp(v float64) float64 {
	return max(l.Min, min(l.Max, v))
}

// Near reports whether pos is within eps of the bound in direction dir.
func (l Limits) Near(pos float64, dir int, eps float64) bool {
	switch {
	case dir > 0:
		return pos >= l.Max-eps
	case dir < 0:
		return pos <= l.Min+eps
	}
	return false
}

// JogProfile holds the fast and slow jog speed/acceleration for an axis.
type JogProfile struct {
	FastVelocity float64 `json:"fast_v" yaml:"fast_v"`
	FastAccel    float64 `json:"fast_a" yaml:"fast_a"`
	SlowVelocity float64 `json:"slow_v" yaml:"slow_v"`
	SlowAccel    float64 `json:"slow_a" yaml:"slow_a"`
}

// Speed returns velocity and acceleration for the chosen profile.
func (j JogProfile) Speed(slow bool) (v, a float64) {
	if slow {
		return j.SlowVelocity, j.SlowAccel
	}
	return j.FastVelocity, j.FastAccel
}

// Axis describes one controllable degree of freedom.
type Axis struct {
	ID              AxisID            `json:"id" yaml:"id"`
	Label           string            `json:"label" yaml:"label"`
	Unit            string            `json:"unit" yaml:"unit"`
	VelocityUnit    string            `json:"vunit" yaml:"vunit"`
	AccelUnit       string            `json:"aunit" yaml:"aunit"`
	DefaultVelocity float64           `json:"v_default" yaml:"v_default"`
	DefaultAccel    float64           `json:"a_default" yaml:"a_default"`
	Limits          *Limits           `json:"limits,omitempty" yaml:"limits,omitempty"`
	Jog             JogProfile        `json:"jog" yaml:"jog"`
	Servo           *ServoCalibration `json:"servo,omitempty" yaml:"servo,omitempty"`
}

// Key returns the lower-case label used in telemetry keys and commands.
func (a Axis) Key() string {
	return strings.ToLower(a.Label)
}

// Field is a sampled value that may be absent after a read failure.
type Field struct {
	Value float64
	Valid bool
}

// Some returns a valid Field.
func Some(v float64) Field {
	return Field{Value: v, Valid: true}
}

// Sample is one reading of an axis.
type Sample struct {
	Position     Field
	Velocity     Field
	Acceleration Field
	Time         time.Time
}

// Empty reports whether no field of the sample is present.
func (s Sample) Empty() bool {
	return !s.Position.Valid && !s.Velocity.Valid && !s.Acceleration.Valid
}
