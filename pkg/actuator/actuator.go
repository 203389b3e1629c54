// Package actuator defines the motion-controller primitives used by the panel
// and provides backends implementing them.
package actuator

import (
	"context"
	"errors"
	"fmt"
)

// Param is a controller parameter index.
type Param int

// Parameter indices understood by ReadParam and SendParam.
const (
	ParamVelocity     Param = 2
	ParamAcceleration Param = 3
)

func (p Param) String() string {
	switch p {
	case ParamVelocity:
		return "velocity"
	case ParamAcceleration:
		return "acceleration"
	default:
		return fmt.Sprintf("param(%d)", int(p))
	}
}

// AllAxes addresses every axis in PauseAll/ResumeAll style broadcasts.
const AllAxes = 255

var (
	// ErrNotConnected is returned by any call made before Initialize succeeds.
	ErrNotConnected = errors.New("actuator: not connected")
	// ErrRejected is returned when the controller refuses a command.
	ErrRejected = errors.New("actuator: command rejected")
	// ErrUnknownAxis is returned for an axis the backend does not drive.
	ErrUnknownAxis = errors.New("actuator: unknown axis")
)

// Actuator is a blocking motion-controller interface. Implementations are
// not safe for concurrent use; one goroutine owns the handle.
type Actuator interface {
	Initialize(ctx context.Context, port string) error
	ReadPosition(ctx context.Context, axis int) (float64, error)
	ReadParam(ctx context.Context, axis int, index Param) (float64, error)
	SendParam(ctx context.Context, axis int, index Param, value float64) error
	MoveAbsolute(ctx context.Context, axis int, value float64) error
	MoveRelative(ctx context.Context, axis int, delta float64) error
	JogAtSpeed(ctx context.Context, axis int, velocity, accel float64) error
	Stop(ctx context.Context, axis int) error
	PauseAll(ctx context.Context) error
	ResumeAll(ctx context.Context) error
	Unload() error
}
