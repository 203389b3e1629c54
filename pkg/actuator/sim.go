package actuator

import (
	"context"
	"fmt"
	"math"
	"time"
)

type simMode int

const (
	simIdle simMode = iota
	simTarget
	simJog
)

type simAxis struct {
	pos    float64
	vel    float64
	acc    float64
	mode   simMode
	target float64
	jogV   float64
}

// Sim is a simulated multi-axis controller. Axes move at their velocity
// parameter toward targets, or at the commanded jog speed, in the time
// reported by the now function.
type Sim struct {
	now       func() time.Time
	axes      map[int]*simAxis
	connected bool
	paused    bool
	last      time.Time
}

// NewSim creates a simulator driving the given axis indices. A nil now uses
// the wall clock.
func NewSim(now func() time.Time, axes ...int) *Sim {
	if now == nil {
		now = time.Now
	}
	s := &Sim{
		now:  now,
		axes: make(map[int]*simAxis, len(axes)),
	}
	for _, ax := range axes {
		s.axes[ax] = &simAxis{vel: 1, acc: 1}
	}
	return s
}

// SetPosition places an axis without motion.
func (s *Sim) SetPosition(axis int, pos float64) {
	if a, ok := s.axes[axis]; ok {
		a.pos = pos
		a.mode = simIdle
	}
}

func (s *Sim) advance() {
	now := s.now()
	dt := now.Sub(s.last).Seconds()
	s.last = now
	if dt <= 0 || s.paused {
		return
	}
	for _, a := range s.axes {
		switch a.mode {
		case simTarget:
			step := math.Abs(a.vel) * dt
			diff := a.target - a.pos
			if math.Abs(diff) <= step {
				a.pos = a.target
				a.mode = simIdle
			} else {
				a.pos += math.Copysign(step, diff)
			}
		case simJog:
			a.pos += a.jogV * dt
		}
	}
}

func (s *Sim) axis(ax int) (*simAxis, error) {
	if !s.connected {
		return nil, ErrNotConnected
	}
	a, ok := s.axes[ax]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAxis, ax)
	}
	s.advance()
	return a, nil
}

func (s *Sim) Initialize(ctx context.Context, port string) error {
	if port == "" {
		return fmt.Errorf("%w: empty port", ErrRejected)
	}
	s.connected = true
	s.last = s.now()
	return nil
}

func (s *Sim) ReadPosition(ctx context.Context, axis int) (float64, error) {
	a, err := s.axis(axis)
	if err != nil {
		return 0, err
	}
	return a.pos, nil
}

func (s *Sim) ReadParam(ctx context.Context, axis int, index Param) (float64, error) {
	a, err := s.axis(axis)
	if err != nil {
		return 0, err
	}
	switch index {
	case ParamVelocity:
		return a.vel, nil
	case ParamAcceleration:
		return a.acc, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrRejected, index)
}

func (s *Sim) SendParam(ctx context.Context, axis int, index Param, value float64) error {
	a, err := s.axis(axis)
	if err != nil {
		return err
	}
	if value <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrRejected, index)
	}
	switch index {
	case ParamVelocity:
		a.vel = value
	case ParamAcceleration:
		a.acc = value
	default:
		return fmt.Errorf("%w: %s", ErrRejected, index)
	}
	return nil
}

func (s *Sim) MoveAbsolute(ctx context.Context, axis int, value float64) error {
	a, err := s.axis(axis)
	if err != nil {
		return err
	}
	a.mode, a.target = simTarget, value
	return nil
}

func (s *Sim) MoveRelative(ctx context.Context, axis int, delta float64) error {
	a, err := s.axis(axis)
	if err != nil {
		return err
	}
	a.mode, a.target = simTarget, a.pos+delta
	return nil
}

func (s *Sim) JogAtSpeed(ctx context.Context, axis int, velocity, accel float64) error {
	a, err := s.axis(axis)
	if err != nil {
		return err
	}
	a.mode, a.jogV = simJog, velocity
	return nil
}

func (s *Sim) Stop(ctx context.Context, axis int) error {
	a, err := s.axis(axis)
	if err != nil {
		return err
	}
	a.mode = simIdle
	return nil
}

func (s *Sim) PauseAll(ctx context.Context) error {
	if !s.connected {
		return ErrNotConnected
	}
	s.advance()
	s.paused = true
	return nil
}

func (s *Sim) ResumeAll(ctx context.Context) error {
	if !s.connected {
		return ErrNotConnected
	}
	s.advance()
	s.paused = false
	return nil
}

func (s *Sim) Unload() error {
	s.connected = false
	return nil
}
