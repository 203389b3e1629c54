package telemetry

import (
	"time"

	"github.com/gwillem/rzpanel/pkg/stage"
)

// State is the stage state handed to the display.
type State struct {
	Values    map[string]float64
	Changed   stage.Axis
	Timestamp time.Time
}

// Display delivers the latest state to a UI. Only the newest state is kept;
// a slow reader skips intermediate ones.
type Display struct {
	snap    *Snapshot
	stateCh chan State
}

// NewDisplay creates a display sink reading values from snap.
func NewDisplay(snap *Snapshot) *Display {
	return &Display{snap: snap, stateCh: make(chan State, 1)}
}

// States returns a channel that receives state updates.
func (d *Display) States() <-chan State {
	return d.stateCh
}

func (d *Display) OnStateChange(axis stage.Axis, s stage.Sample) {
	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	d.sendState(State{Values: d.snap.Values(), Changed: axis, Timestamp: ts})
}

func (d *Display) sendState(s State) {
	select {
	case d.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-d.stateCh:
		default:
		}
		d.stateCh <- s
	}
}
