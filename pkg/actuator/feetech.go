package actuator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/gwillem/rzpanel/pkg/stage"
)

// Feetech drives each axis with one STS bus servo. Positions are converted
// between raw servo steps and axis units through the axis calibration; speed
// is emulated by timing each move from the velocity parameter.
type Feetech struct {
	cal    map[int]stage.ServoCalibration
	params map[int]*servoParams

	bus    *feetech.Bus
	servos map[int]*feetech.Servo
}

type servoParams struct {
	vel float64
	acc float64
}

// NewFeetech creates a backend for every axis that carries a servo calibration.
func NewFeetech(axes []stage.Axis) (*Feetech, error) {
	f := &Feetech{
		cal:    make(map[int]stage.ServoCalibration),
		params: make(map[int]*servoParams),
	}
	for _, a := range axes {
		if a.Servo == nil {
			continue
		}
		f.cal[int(a.ID)] = *a.Servo
		f.params[int(a.ID)] = &servoParams{vel: a.DefaultVelocity, acc: a.DefaultAccel}
	}
	if len(f.cal) == 0 {
		return nil, fmt.Errorf("no axis has a servo calibration")
	}
	return f, nil
}

// Initialize opens the bus and enables torque on every configured servo.
// A bus left open by an earlier Initialize is released first.
func (f *Feetech) Initialize(ctx context.Context, port string) error {
	if f.bus != nil {
		// The old port may be gone already; its close error does not matter.
		_ = f.Unload()
	}
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}

	minID, maxID := math.MaxInt, 0
	for _, c := range f.cal {
		minID, maxID = min(minID, c.ID), max(maxID, c.ID)
	}
	found, err := bus.Scan(ctx, minID, maxID)
	if err != nil {
		bus.Close()
		return fmt.Errorf("scan servos: %w", err)
	}

	servos := make(map[int]*feetech.Servo, len(f.cal))
	for ax, c := range f.cal {
		for _, s := range found {
			if s.ID == c.ID {
				servos[ax] = feetech.NewServo(bus, s.ID, s.Model)
				break
			}
		}
		if servos[ax] == nil {
			bus.Close()
			return fmt.Errorf("%w: servo %d for axis %d not found on %s", ErrRejected, c.ID, ax, port)
		}
	}
	for ax, s := range servos {
		if err := s.Enable(ctx); err != nil {
			bus.Close()
			return fmt.Errorf("enable axis %d: %w", ax, err)
		}
	}

	f.bus, f.servos = bus, servos
	return nil
}

func (f *Feetech) servo(axis int) (*feetech.Servo, stage.ServoCalibration, error) {
	if f.bus == nil {
		return nil, stage.ServoCalibration{}, ErrNotConnected
	}
	s, ok := f.servos[axis]
	if !ok {
		return nil, stage.ServoCalibration{}, fmt.Errorf("%w: %d", ErrUnknownAxis, axis)
	}
	return s, f.cal[axis], nil
}

func (f *Feetech) ReadPosition(ctx context.Context, axis int) (float64, error) {
	s, cal, err := f.servo(axis)
	if err != nil {
		return 0, err
	}
	raw, err := s.Position(ctx)
	if err != nil {
		return 0, fmt.Errorf("read position: %w", err)
	}
	return cal.ToUnits(raw), nil
}

func (f *Feetech) ReadParam(ctx context.Context, axis int, index Param) (float64, error) {
	if _, _, err := f.servo(axis); err != nil {
		return 0, err
	}
	p := f.params[axis]
	switch index {
	case ParamVelocity:
		return p.vel, nil
	case ParamAcceleration:
		return p.acc, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrRejected, index)
}

func (f *Feetech) SendParam(ctx context.Context, axis int, index Param, value float64) error {
	if _, _, err := f.servo(axis); err != nil {
		return err
	}
	if value <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrRejected, index)
	}
	p := f.params[axis]
	switch index {
	case ParamVelocity:
		p.vel = value
	case ParamAcceleration:
		p.acc = value
	default:
		return fmt.Errorf("%w: %s", ErrRejected, index)
	}
	return nil
}

// moveTo moves axis to target units, taking as long as the speed requires.
func (f *Feetech) moveTo(ctx context.Context, axis int, target, speed float64) error {
	s, cal, err := f.servo(axis)
	if err != nil {
		return err
	}
	raw, err := s.Position(ctx)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}
	dist := math.Abs(cal.ToUnits(raw) - target)
	ms := 0
	if speed > 0 {
		ms = int(dist / speed * 1000)
	}
	if err := s.SetPositionWithTime(ctx, cal.ToRaw(target), ms); err != nil {
		return fmt.Errorf("write position: %w", err)
	}
	return nil
}

func (f *Feetech) MoveAbsolute(ctx context.Context, axis int, value float64) error {
	if _, _, err := f.servo(axis); err != nil {
		return err
	}
	return f.moveTo(ctx, axis, value, f.params[axis].vel)
}

func (f *Feetech) MoveRelative(ctx context.Context, axis int, delta float64) error {
	pos, err := f.ReadPosition(ctx, axis)
	if err != nil {
		return err
	}
	return f.moveTo(ctx, axis, pos+delta, f.params[axis].vel)
}

// JogAtSpeed travels toward the end of the calibrated range in the
// direction of velocity; Stop ends the jog.
func (f *Feetech) JogAtSpeed(ctx context.Context, axis int, velocity, accel float64) error {
	_, cal, err := f.servo(axis)
	if err != nil {
		return err
	}
	if velocity == 0 {
		return f.Stop(ctx, axis)
	}
	lo, hi := min(cal.UnitMin, cal.UnitMax), max(cal.UnitMin, cal.UnitMax)
	end := hi
	if velocity < 0 {
		end = lo
	}
	return f.moveTo(ctx, axis, end, math.Abs(velocity))
}

func (f *Feetech) Stop(ctx context.Context, axis int) error {
	s, _, err := f.servo(axis)
	if err != nil {
		return err
	}
	raw, err := s.Position(ctx)
	if err != nil {
		return fmt.Errorf("read position: %w", err)
	}
	if err := s.SetPositionWithTime(ctx, raw, 0); err != nil {
		return fmt.Errorf("hold position: %w", err)
	}
	return nil
}

// PauseAll holds every axis where it is. The bus servos have no resumable
// pause, so ResumeAll only clears the state.
func (f *Feetech) PauseAll(ctx context.Context) error {
	if f.bus == nil {
		return ErrNotConnected
	}
	for ax := range f.servos {
		if err := f.Stop(ctx, ax); err != nil {
			return err
		}
	}
	return nil
}

func (f *Feetech) ResumeAll(ctx context.Context) error {
	if f.bus == nil {
		return ErrNotConnected
	}
	return nil
}

// Unload disables torque and closes the bus.
func (f *Feetech) Unload() error {
	if f.bus == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var errs []error
	for ax, s := range f.servos {
		if err := s.Disable(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disable axis %d: %w", ax, err))
		}
	}
	errs = append(errs, f.bus.Close())
	f.bus, f.servos = nil, nil
	return errors.Join(errs...)
}
