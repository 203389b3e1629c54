// Package telemetry publishes stage state to the display, a REST and
// websocket API, and an MQTT broker.
//
// Every consumer is a motion.Sink. State changes arrive on the engine
// goroutine; consumers hand them off without blocking it.
package telemetry

import (
	"encoding/json"
	"math"
	"sync/atomic"

	"github.com/gwillem/rzpanel/pkg/motion"
	"github.com/gwillem/rzpanel/pkg/stage"
)

// Channels published for every axis.
var Channels = []string{"position", "velocity", "acceleration"}

// Snapshot is the latest published value of every axis channel. Writes come
// from the engine goroutine; any goroutine may read.
type Snapshot struct {
	axes   []stage.Axis
	keys   []string
	values map[string]*atomic.Uint64
}

// NewSnapshot creates a snapshot with every channel at zero.
func NewSnapshot(axes []stage.Axis) *Snapshot {
	s := &Snapshot{axes: axes, values: make(map[string]*atomic.Uint64)}
	for _, a := range axes {
		for _, ch := range Channels {
			k := Key(a, ch)
			s.keys = append(s.keys, k)
			s.values[k] = new(atomic.Uint64)
		}
	}
	return s
}

// Key returns the snapshot key of an axis channel, e.g. "z_position".
func Key(a stage.Axis, channel string) string {
	return a.Key() + "_" + channel
}

// Axes returns the axes of the snapshot.
func (s *Snapshot) Axes() []stage.Axis {
	return s.axes
}

// OnStateChange stores the valid fields of a sample.
func (s *Snapshot) OnStateChange(axis stage.Axis, smp stage.Sample) {
	s.set(Key(axis, "position"), smp.Position)
	s.set(Key(axis, "velocity"), smp.Velocity)
	s.set(Key(axis, "acceleration"), smp.Acceleration)
}

func (s *Snapshot) set(key string, f stage.Field) {
	if v, ok := s.values[key]; ok && f.Valid {
		v.Store(math.Float64bits(f.Value))
	}
}

// Get returns one value by key.
func (s *Snapshot) Get(key string) (float64, bool) {
	v, ok := s.values[key]
	if !ok {
		return 0, false
	}
	return math.Float64frombits(v.Load()), true
}

// Values returns a copy of every value.
func (s *Snapshot) Values() map[string]float64 {
	out := make(map[string]float64, len(s.keys))
	for _, k := range s.keys {
		out[k], _ = s.Get(k)
	}
	return out
}

// Rounded returns a copy of every value rounded to the given decimals.
func (s *Snapshot) Rounded(decimals int) map[string]float64 {
	scale := math.Pow10(decimals)
	out := s.Values()
	for k, v := range out {
		out[k] = math.Round(v*scale) / scale
	}
	return out
}

// MarshalJSON encodes the snapshot as a flat object.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// Fanout forwards every change to each sink in order.
type Fanout []motion.Sink

func (f Fanout) OnStateChange(axis stage.Axis, s stage.Sample) {
	for _, sink := range f {
		sink.OnStateChange(axis, s)
	}
}
