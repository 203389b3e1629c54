package motion

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/gwillem/rzpanel/pkg/actuator"
)

// Command is one parsed console line.
type Command struct {
	Name  string // abs, rel, home, stop, vel, acc, defaults, pause, resume, keys, connect
	Axis  string // axis label, empty for all axes
	Value float64
	Arg   string
}

// ConsoleHelp lists the console commands.
const ConsoleHelp = `abs <axis> <pos>    move to position
rel <axis> <delta>  move by delta
home <axis>         move to zero
stop [axis|all]     stop one or every axis
vel <axis> <v>      set velocity
acc <axis> <a>      set acceleration
defaults            apply default velocity and acceleration
pause | resume      pause or resume all motion
keys on|off         keyboard control
connect [port]      initialize the controller`

// ParseCommand parses a console line such as "abs z 12.5".
func ParseCommand(line string) (Command, error) {
	f := strings.Fields(strings.ToLower(line))
	if len(f) == 0 {
		return Command{}, fmt.Errorf("%w: empty command", ErrInvalidInput)
	}
	c := Command{Name: f[0]}
	args := f[1:]
	want := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%w: %s takes %d argument(s)", ErrInvalidInput, c.Name, n)
		}
		return nil
	}

	switch c.Name {
	case "abs", "rel", "vel", "acc":
		if err := want(2); err != nil {
			return Command{}, err
		}
		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %q is not a number", ErrInvalidInput, args[1])
		}
		if err := validValue(v); err != nil {
			return Command{}, err
		}
		c.Axis, c.Value = args[0], v
	case "home":
		if err := want(1); err != nil {
			return Command{}, err
		}
		c.Axis = args[0]
	case "stop":
		if len(args) > 1 {
			return Command{}, want(1)
		}
		if len(args) == 1 && args[0] != "all" {
			c.Axis = args[0]
		}
	case "defaults", "pause", "resume":
		if err := want(0); err != nil {
			return Command{}, err
		}
	case "keys":
		if err := want(1); err != nil {
			return Command{}, err
		}
		if args[0] != "on" && args[0] != "off" {
			return Command{}, fmt.Errorf("%w: keys on|off", ErrInvalidInput)
		}
		c.Arg = args[0]
	case "connect":
		if len(args) > 1 {
			return Command{}, want(1)
		}
		if len(args) == 1 {
			// device paths are case-sensitive
			c.Arg = strings.Fields(line)[1]
		}
	default:
		return Command{}, fmt.Errorf("%w: unknown command %q", ErrInvalidInput, c.Name)
	}
	return c, nil
}

// Exec runs a parsed command. port is used by connect without an argument.
func (e *Engine) Exec(c Command, port string) error {
	switch c.Name {
	case "defaults":
		return e.ApplyDefaults()
	case "pause":
		return e.PauseAll()
	case "resume":
		return e.ResumeAll()
	case "keys":
		e.SetKeyboardEnabled(c.Arg == "on")
		return nil
	case "connect":
		if c.Arg != "" {
			port = c.Arg
		}
		return e.Connect(port)
	case "stop":
		if c.Axis == "" {
			return e.StopAll()
		}
	}

	ax, err := e.AxisByLabel(c.Axis)
	if err != nil {
		e.log(zapcore.WarnLevel, "%v", err)
		return err
	}
	switch c.Name {
	case "abs":
		return e.MoveAbsolute(ax.ID, c.Value)
	case "rel":
		return e.MoveRelative(ax.ID, c.Value)
	case "home":
		return e.Home(ax.ID)
	case "stop":
		return e.Stop(ax.ID)
	case "vel":
		return e.SetParam(ax.ID, actuator.ParamVelocity, c.Value)
	case "acc":
		return e.SetParam(ax.ID, actuator.ParamAcceleration, c.Value)
	}
	return fmt.Errorf("%w: unknown command %q", ErrInvalidInput, c.Name)
}

// Run parses and executes a console line, logging input errors.
func (e *Engine) Run(line, port string) error {
	c, err := ParseCommand(line)
	if err != nil {
		e.log(zapcore.WarnLevel, "%v", err)
		return err
	}
	return e.Exec(c, port)
}
