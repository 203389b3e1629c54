package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/gwillem/rzpanel/pkg/stage"
)

type CalibrateCommand struct {
	Axis  string `short:"a" long:"axis" description:"Axis label to calibrate (asked when omitted)"`
	Port  string `short:"p" long:"port" description:"Serial port of the servo bus (default from config)"`
	MaxID int    `long:"max-id" default:"10" description:"Highest servo id to probe"`
}

func (c *CalibrateCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println(headerStyle.Render("Axis calibration"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━"))
	fmt.Println()

	idx, err := chooseAxis(cfg, c.Axis)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	axis := cfg.Axes[idx]

	port := c.Port
	if port == "" {
		port = cfg.Port
	}
	fmt.Printf("Scanning %s for servos...\n", port)

	bus, err := openBus(port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", port, err)
		os.Exit(1)
	}
	defer bus.Close()

	scanCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	found, err := bus.Scan(scanCtx, 1, c.MaxID)
	cancel()
	if err != nil || len(found) == 0 {
		fmt.Fprintf(os.Stderr, "No servos found on %s\n", port)
		os.Exit(1)
	}

	fs, err := chooseServo(axis, found)
	if err != nil {
		fmt.Println()
		os.Exit(0)
	}
	servo := feetech.NewServo(bus, fs.ID, fs.Model)

	// Disable the servo so the axis can be moved by hand
	ctx := context.Background()
	if err := servo.Disable(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error disabling servo %d: %v\n", fs.ID, err)
		os.Exit(1)
	}
	pos, err := servo.Position(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading servo %d: %v\n", fs.ID, err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println(subHeaderStyle.Render("Record range of travel"))
	fmt.Printf("Move axis %s to its minimum AND maximum positions.\n", axis.Label)
	fmt.Println()

	p := tea.NewProgram(newCalibrationModel(axis, servo, pos))
	finalModel, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running calibration: %v\n", err)
		os.Exit(1)
	}
	cm := finalModel.(calibrationModel)
	if cm.aborted {
		fmt.Println("Calibration aborted.")
		return nil
	}

	cal, err := askUnitRange(axis)
	if err != nil {
		fmt.Println()
		os.Exit(0)
	}
	cal.ID = fs.ID
	cal.RangeMin = cm.minPos
	cal.RangeMax = cm.maxPos

	cfg.Axes[idx].Servo = &cal
	cfg.Port = port
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.SaveTo(configPath()); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println(successStyle.Render(fmt.Sprintf("Axis %s calibrated: raw %d..%d = %g..%g %s",
		axis.Label, cal.RangeMin, cal.RangeMax, cal.UnitMin, cal.UnitMax, axis.Unit)))
	fmt.Println(resolution(axis.Unit, cal))
	fmt.Printf("Configuration saved to %s\n", configPath())
	fmt.Println()
	fmt.Println("Start the panel with: " + headerStyle.Render("rzpanel run --backend feetech"))
	return nil
}

func chooseAxis(cfg *stage.Config, label string) (int, error) {
	if label == "" {
		var options []huh.Option[string]
		for _, a := range cfg.Axes {
			options = append(options, huh.NewOption(fmt.Sprintf("%s (%s)", a.Label, a.Unit), a.Label))
		}
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Which axis?").
					Options(options...).
					Value(&label),
			),
		)
		if err := form.Run(); err != nil {
			return 0, err
		}
	}
	for i, a := range cfg.Axes {
		if strings.EqualFold(a.Label, label) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown axis %q", label)
}

func chooseServo(axis stage.Axis, found []feetech.FoundServo) (feetech.FoundServo, error) {
	if len(found) == 1 {
		return found[0], nil
	}
	id := found[0].ID
	if axis.Servo != nil {
		id = axis.Servo.ID
	}
	var options []huh.Option[int]
	for _, s := range found {
		options = append(options, huh.NewOption(fmt.Sprintf("Servo %d", s.ID), s.ID))
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title(fmt.Sprintf("Which servo drives axis %s?", axis.Label)).
				Options(options...).
				Value(&id),
		),
	)
	if err := form.Run(); err != nil {
		return feetech.FoundServo{}, err
	}
	for _, s := range found {
		if s.ID == id {
			return s, nil
		}
	}
	return feetech.FoundServo{}, fmt.Errorf("servo %d not found", id)
}

// askUnitRange asks which axis positions the recorded raw range spans.
func askUnitRange(axis stage.Axis) (stage.ServoCalibration, error) {
	lo, hi := "0", "360"
	if axis.Limits != nil {
		lo = strconv.FormatFloat(axis.Limits.Min, 'g', -1, 64)
		hi = strconv.FormatFloat(axis.Limits.Max, 'g', -1, 64)
	}
	var inverted bool
	if axis.Servo != nil {
		inverted = axis.Servo.Inverted
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("Position at the low raw end (%s)", axis.Unit)).
				Value(&lo).
				Validate(validateFloat),
			huh.NewInput().
				Title(fmt.Sprintf("Position at the high raw end (%s)", axis.Unit)).
				Value(&hi).
				Validate(validateFloat),
			huh.NewConfirm().
				Title("Inverted?").
				Description("Raw position decreases as the axis position increases").
				Value(&inverted),
		),
	)
	if err := form.Run(); err != nil {
		return stage.ServoCalibration{}, err
	}

	unitMin, _ := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	unitMax, _ := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	return stage.ServoCalibration{UnitMin: unitMin, UnitMax: unitMax, Inverted: inverted}, nil
}

// resolution describes how far the axis moves per raw servo step.
func resolution(unit string, cal stage.ServoCalibration) string {
	ups := cal.UnitsPerStep()
	if ups == 0 {
		return dimStyle.Render("Resolution unknown: the recorded range is empty")
	}
	return fmt.Sprintf("Resolution: %.4g %s per step", ups, unit)
}

func validateFloat(s string) error {
	if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
		return errors.New("not a number")
	}
	return nil
}

// Calibration TUI model
type calibrationModel struct {
	axis    stage.Axis
	servo   *feetech.Servo
	curPos  int
	minPos  int
	maxPos  int
	aborted bool
	done    bool
}

type tickMsg time.Time

func newCalibrationModel(axis stage.Axis, servo *feetech.Servo, pos int) calibrationModel {
	return calibrationModel{axis: axis, servo: servo, curPos: pos, minPos: pos, maxPos: pos}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m calibrationModel) Init() tea.Cmd {
	return tick()
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			m.done = true
			return m, tea.Quit
		case "q", "ctrl+c", "esc":
			m.aborted = true
			return m, tea.Quit
		}

	case tickMsg:
		pos, err := m.servo.Position(context.Background())
		if err == nil {
			m.curPos = pos
			m.minPos = min(m.minPos, pos)
			m.maxPos = max(m.maxPos, pos)
		}
		return m, tick()
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.done || m.aborted {
		return ""
	}

	var sb strings.Builder

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableAxisStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableRangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableRangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	rangeSize := m.maxPos - m.minPos
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Axis", "Current", "Min", "Max", "Range").
		Row(
			m.axis.Label,
			strconv.Itoa(m.curPos),
			strconv.Itoa(m.minPos),
			strconv.Itoa(m.maxPos),
			strconv.Itoa(rangeSize),
		).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableAxisStyle
			case 1:
				return tableCurrentStyle
			case 4:
				if rangeSize > 500 {
					return tableRangeGoodStyle
				}
				return tableRangeLowStyle
			default:
				return tableCellStyle
			}
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("Press Enter when done, q to abort"))

	return sb.String()
}
