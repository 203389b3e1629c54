package motion

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/gwillem/rzpanel/pkg/keys"
	"github.com/gwillem/rzpanel/pkg/sched"
	"github.com/gwillem/rzpanel/pkg/stage"
)

// FineStep binds a key chord to a signed step. Holding the chord past the
// hold delay turns it into a jog at |Step| per second, unless TapOnly.
type FineStep struct {
	Key     string
	Mods    keys.Mods
	Axis    stage.AxisID
	Step    float64
	TapOnly bool
}

// JogKey binds a key to continuous jogging of an axis.
type JogKey struct {
	Key       string
	Axis      stage.AxisID
	Direction int
}

// KeyMap is the keyboard layout of the dispatcher.
type KeyMap struct {
	FineSteps []FineStep
	JogKeys   []JogKey
	SlowMods  keys.Mods
	HoldDelay time.Duration
	HoldAccel float64
}

// KeyMapFrom builds a key map from the keyboard section of a configuration.
func KeyMapFrom(cfg stage.Config) (KeyMap, error) {
	kc := cfg.Keyboard
	km := KeyMap{HoldDelay: kc.HoldDelay(), HoldAccel: kc.HoldAccel}
	if km.HoldAccel <= 0 {
		km.HoldAccel = 0.5
	}
	slow, err := keys.ParseModifier(kc.SlowModifier)
	if err != nil {
		return KeyMap{}, fmt.Errorf("slow modifier: %w", err)
	}
	km.SlowMods = slow

	for _, b := range kc.FineSteps {
		key, mods, err := keys.ParseChord(b.Chord)
		if err != nil {
			return KeyMap{}, err
		}
		ax, ok := cfg.Axis(b.Axis)
		if !ok {
			return KeyMap{}, fmt.Errorf("fine step %q: %w %q", b.Chord, ErrUnknownAxis, b.Axis)
		}
		km.FineSteps = append(km.FineSteps, FineStep{Key: key, Mods: mods, Axis: ax.ID, Step: b.Step, TapOnly: b.TapOnly})
	}
	for _, b := range kc.JogKeys {
		ax, ok := cfg.Axis(b.Axis)
		if !ok {
			return KeyMap{}, fmt.Errorf("jog key %q: %w %q", b.Key, ErrUnknownAxis, b.Axis)
		}
		km.JogKeys = append(km.JogKeys, JogKey{Key: keys.Canonical(b.Key), Axis: ax.ID, Direction: b.Direction})
	}
	return km, nil
}

func (km KeyMap) fineStep(key string, mods keys.Mods) (FineStep, bool) {
	for _, fs := range km.FineSteps {
		if fs.Key == key && fs.Mods == mods {
			return fs, true
		}
	}
	return FineStep{}, false
}

func (km KeyMap) jogKey(key string) (JogKey, bool) {
	for _, jk := range km.JogKeys {
		if jk.Key == key {
			return jk, true
		}
	}
	return JogKey{}, false
}

type pressState int

const (
	pressPending  pressState = iota // waiting for release or hold promotion
	pressPromoted                   // jogging until release
	pressResolved                   // nothing left to do on release
)

func (s pressState) String() string {
	switch s {
	case pressPending:
		return "pending"
	case pressPromoted:
		return "promoted"
	default:
		return "resolved"
	}
}

// press tracks one held key between key-down and key-up.
type press struct {
	key   string
	axis  stage.AxisID
	step  float64 // zero for jog keys
	state pressState
	timer sched.Handle
}

// Dispatcher turns key events into steps and jogs.
type Dispatcher struct {
	e       *Engine
	km      KeyMap
	presses map[string]*press
	release map[string]sched.Handle
}

func newDispatcher(e *Engine, km KeyMap) *Dispatcher {
	return &Dispatcher{
		e:       e,
		km:      km,
		presses: make(map[string]*press),
		release: make(map[string]sched.Handle),
	}
}

// KeyDown handles a key press. Repeats of a held key are ignored.
func (e *Engine) KeyDown(ev keys.Event) {
	if !e.gate.Open() {
		return
	}
	d := e.keys
	if _, held := d.presses[ev.Key]; held {
		return
	}

	if fs, ok := d.km.fineStep(ev.Key, ev.Mods); ok {
		p := &press{key: ev.Key, axis: fs.Axis, step: fs.Step, state: pressPending}
		d.presses[ev.Key] = p
		if !fs.TapOnly {
			p.timer = e.sched.After(d.km.HoldDelay, func() { d.promote(p) })
		}
		return
	}

	jk, ok := d.km.jogKey(ev.Key)
	if !ok {
		return
	}
	ax := e.axes[jk.Axis]
	slow := d.km.SlowMods != 0 && ev.Mods&d.km.SlowMods != 0
	v, a := ax.Jog.Speed(slow)
	p := &press{key: ev.Key, axis: jk.Axis, state: pressPromoted}
	d.presses[ev.Key] = p
	if err := e.startJog(ax, jk.Direction, v, a, true); err != nil {
		p.state = pressResolved
	}
}

// KeyUp handles a key release: a pending fine-step key becomes one step, a
// jogging key stops its jog.
func (e *Engine) KeyUp(ev keys.Event) {
	if !e.gate.Open() {
		return
	}
	d := e.keys
	p, ok := d.presses[ev.Key]
	if !ok {
		return
	}
	delete(d.presses, ev.Key)
	e.sched.Cancel(p.timer)

	state := p.state
	p.state = pressResolved
	switch state {
	case pressPending:
		e.Step(p.axis, p.step)
	case pressPromoted:
		e.StopJog(p.axis)
	}
}

func (d *Dispatcher) promote(p *press) {
	if d.presses[p.key] != p || p.state != pressPending {
		return
	}
	e := d.e
	if !e.gate.Open() {
		return
	}
	dir := 1
	if p.step < 0 {
		dir = -1
	}
	p.state = pressPromoted
	if err := e.startJog(e.axes[p.axis], dir, math.Abs(p.step), d.km.HoldAccel, true); err != nil {
		p.state = pressResolved
	}
}

// releaseAll drops every tracked key, stopping keyboard jogs they started.
func (d *Dispatcher) releaseAll() {
	presses := d.presses
	d.presses = make(map[string]*press)
	for key, h := range d.release {
		d.e.sched.Cancel(h)
		delete(d.release, key)
	}
	for _, p := range presses {
		d.e.sched.Cancel(p.timer)
		promoted := p.state == pressPromoted
		p.state = pressResolved
		if !promoted {
			continue
		}
		if j, ok := d.e.jogs[p.axis]; ok && j.keyboard {
			d.e.haltJog(j)
		}
	}
}

// TerminalKey handles a key from a terminal, which reports presses and
// auto-repeats but no releases. A release is assumed once no repeat arrived
// for gap.
func (e *Engine) TerminalKey(ev keys.Event, gap time.Duration) {
	d := e.keys
	if h, ok := d.release[ev.Key]; ok {
		e.sched.Cancel(h)
	}
	e.KeyDown(ev)
	if _, held := d.presses[ev.Key]; !held {
		delete(d.release, ev.Key)
		return
	}
	up := keys.Event{Key: ev.Key, Mods: ev.Mods}
	d.release[ev.Key] = e.sched.After(gap, func() {
		delete(d.release, ev.Key)
		e.KeyUp(up)
	})
}

// SetKeyMap replaces the keyboard layout. Held keys are released first.
func (e *Engine) SetKeyMap(km KeyMap) {
	e.keys.releaseAll()
	e.keys.km = km
	e.log(zapcore.InfoLevel, "Key map updated: %d fine steps, %d jog keys", len(km.FineSteps), len(km.JogKeys))
}

// SetKeyboardEnabled turns keyboard control on or off.
func (e *Engine) SetKeyboardEnabled(on bool) {
	if on == e.gate.Enabled() {
		return
	}
	e.gate.SetEnabled(on)
	if on {
		e.log(zapcore.InfoLevel, "Keyboard control on")
	} else {
		e.log(zapcore.InfoLevel, "Keyboard control off")
	}
}
