package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/rzpanel/pkg/keys"
	"github.com/gwillem/rzpanel/pkg/motion"
	"github.com/gwillem/rzpanel/pkg/sched"
	"github.com/gwillem/rzpanel/pkg/stage"
	"github.com/gwillem/rzpanel/pkg/telemetry"
)

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	inputHeight  = 2 // console line + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Axis colors, by position in the axis list
var axisColors = []string{"196", "51", "226", "46", "201", "208"}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type panelConfig struct {
	engine       *motion.Engine
	loop         *sched.Loop
	display      *telemetry.Display
	cfg          *stage.Config
	terminalKeys bool
	gap          time.Duration
	notes        []string
}

// confirmation is a parameter change waiting for the operator's answer.
type confirmation struct {
	cmd  motion.Command
	ok   bool
	form *huh.Form
}

type panelModel struct {
	panelConfig
	axes          []stage.Axis
	chart         *streamlinechart.Model
	input         textinput.Model
	confirm       *confirmation
	values        map[string]float64
	lastPositions map[string]float64
	width         int
	height        int
	logs          []string
	quitting      bool
}

// Messages from the engine
type stateMsg telemetry.State
type logMsg string

func waitForState(d *telemetry.Display) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-d.States())
	}
}

func waitForLog(e *motion.Engine) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-e.Logs())
	}
}

func axisColor(i int) lipgloss.Color {
	return lipgloss.Color(axisColors[i%len(axisColors)])
}

func newPanelModel(pc panelConfig) panelModel {
	axes := pc.engine.Axes()

	lo, hi := -180.0, 180.0
	for _, a := range axes {
		if a.Limits != nil {
			lo = min(lo, a.Limits.Min)
			hi = max(hi, a.Limits.Max)
		}
	}
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(lo, hi),
	)
	for i, a := range axes {
		style := lipgloss.NewStyle().Foreground(axisColor(i))
		chart.SetDataSetStyles(a.Label, runes.ThinLineStyle, style)
	}

	input := textinput.New()
	input.Prompt = ": "
	input.Placeholder = "abs z 12.5, rel r -10, stop all, help"
	input.CharLimit = 64

	m := panelModel{
		panelConfig: pc,
		axes:        axes,
		chart:       &chart,
		input:       input,
		values:      make(map[string]float64),
	}
	for _, n := range pc.notes {
		m.addLog(n)
	}
	return m
}

func (m *panelModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// post runs fn on the engine loop.
func (m *panelModel) post(fn func()) {
	if err := m.loop.Post(fn); err != nil {
		m.addLog(warnStyle.Render(err.Error()))
	}
}

// hasMovement checks if any axis position has changed from the last state
func (m *panelModel) hasMovement(positions map[string]float64) bool {
	if m.lastPositions == nil {
		return true
	}
	for name, pos := range positions {
		if lastPos, ok := m.lastPositions[name]; !ok || pos != lastPos {
			return true
		}
	}
	return false
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *panelModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	tableHeight := len(m.axes) + 4
	height = m.height - headerHeight - tableHeight - legendHeight - inputHeight - footerHeight - borderSize
	if height < 6 {
		height = 6
	}
	return width, height
}

func (m *panelModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func (m panelModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.display),
		waitForLog(m.engine),
	)
}

func (m panelModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case stateMsg:
		m.values = msg.Values
		positions := make(map[string]float64, len(m.axes))
		for _, a := range m.axes {
			positions[a.Label] = msg.Values[telemetry.Key(a, "position")]
		}
		// Freeze the chart while nothing moves
		if m.hasMovement(positions) {
			for name, pos := range positions {
				m.chart.PushDataSet(name, pos)
			}
			m.chart.DrawAll()
			m.lastPositions = positions
		}
		return m, waitForState(m.display)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.engine)
	}

	if m.confirm != nil {
		return m.updateConfirm(msg)
	}
	if key, ok := msg.(tea.KeyMsg); ok {
		if m.input.Focused() {
			return m.updateInput(key)
		}
		return m.updateKeys(key)
	}
	if m.input.Focused() {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m panelModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case ":":
		return m, m.input.Focus()
	case "esc":
		e := m.engine
		m.post(func() { e.StopAll() })
		return m, nil
	}

	if !m.terminalKeys {
		return m, nil
	}
	key, mods, ok := keys.FromTerminal(msg.String())
	if !ok {
		return m, nil
	}
	e, gap := m.engine, m.gap
	ev := keys.Event{Key: key, Mods: mods, Down: true}
	m.post(func() { e.TerminalKey(ev, gap) })
	return m, nil
}

func (m panelModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyEsc:
		m.input.Reset()
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		line := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		m.input.Blur()
		return m.runLine(line)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m panelModel) runLine(line string) (tea.Model, tea.Cmd) {
	switch line {
	case "":
		return m, nil
	case "help", "?":
		for _, l := range strings.Split(motion.ConsoleHelp, "\n") {
			m.addLog(l)
		}
		return m, nil
	}

	c, err := motion.ParseCommand(line)
	if err != nil {
		// The engine logs the parse error; its log lines reach the panel too.
		e, port := m.engine, m.cfg.Port
		m.post(func() { e.Run(line, port) })
		return m, nil
	}
	if c.Name == "vel" || c.Name == "acc" {
		m.confirm = m.newConfirmation(c)
		return m, m.confirm.form.Init()
	}
	m.exec(c)
	return m, nil
}

func (m *panelModel) exec(c motion.Command) {
	e, port := m.engine, m.cfg.Port
	m.post(func() { e.Exec(c, port) })
}

func (m *panelModel) newConfirmation(c motion.Command) *confirmation {
	what, unit := "velocity", ""
	for _, a := range m.axes {
		if strings.EqualFold(a.Label, c.Axis) {
			unit = a.VelocityUnit
			if c.Name == "acc" {
				unit = a.AccelUnit
			}
		}
	}
	if c.Name == "acc" {
		what = "acceleration"
	}

	cf := &confirmation{cmd: c}
	cf.form = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Set %s %s to %g %s?", strings.ToUpper(c.Axis), what, c.Value, unit)).
				Description("The axis is stopped before the change.").
				Affirmative("Apply").
				Negative("Cancel").
				Value(&cf.ok),
		),
	).WithShowHelp(false)
	return cf
}

func (m panelModel) updateConfirm(msg tea.Msg) (tea.Model, tea.Cmd) {
	form, cmd := m.confirm.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.confirm.form = f
	}
	switch m.confirm.form.State {
	case huh.StateCompleted:
		cf := m.confirm
		m.confirm = nil
		if cf.ok {
			m.exec(cf.cmd)
		} else {
			m.addLog("Parameter change cancelled")
		}
	case huh.StateAborted:
		m.confirm = nil
		m.addLog("Parameter change cancelled")
	}
	return m, cmd
}

func (m panelModel) View() string {
	if m.quitting {
		return "Panel stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("R/Z Panel"))
	sb.WriteString(fmt.Sprintf(" - %s on %s  ", m.cfg.Backend, m.cfg.Port))
	if m.engine.Connected() {
		sb.WriteString(okStyle.Render("connected"))
	} else {
		sb.WriteString(warnStyle.Render("disconnected"))
	}
	if m.engine.KeyboardOpen() {
		sb.WriteString(statusStyle.Render("  keys: on"))
	} else {
		sb.WriteString(statusStyle.Render("  keys: off"))
	}
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	sb.WriteString(m.renderAxes())
	sb.WriteString("\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(m.renderLegend())
	sb.WriteString("\n\n")

	// Console
	switch {
	case m.confirm != nil:
		sb.WriteString(m.confirm.form.View())
	case m.input.Focused():
		sb.WriteString(m.input.View())
	default:
		sb.WriteString(statusStyle.Render("':' command  esc stop all  q quit"))
	}
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20)).
		Foreground(lipgloss.Color("252"))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press ':' for a command, 'q' to quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m panelModel) renderAxes() string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	rows := make([][]string, 0, len(m.axes))
	for _, a := range m.axes {
		limits := "-"
		if a.Limits != nil {
			limits = fmt.Sprintf("%.3f .. %.3f", a.Limits.Min, a.Limits.Max)
		}
		rows = append(rows, []string{
			a.Label,
			fmt.Sprintf("%.4f %s", m.values[telemetry.Key(a, "position")], a.Unit),
			fmt.Sprintf("%.3f %s", m.values[telemetry.Key(a, "velocity")], a.VelocityUnit),
			fmt.Sprintf("%.3f %s", m.values[telemetry.Key(a, "acceleration")], a.AccelUnit),
			limits,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(statusStyle).
		Headers("Axis", "Position", "Velocity", "Acceleration", "Limits").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 0 && row >= 0 && row < len(m.axes) {
				return cellStyle.Foreground(axisColor(row)).Bold(true)
			}
			return cellStyle
		})
	return t.Render()
}

func (m panelModel) renderLegend() string {
	var items []string
	for i, a := range m.axes {
		colorStyle := lipgloss.NewStyle().Foreground(axisColor(i)).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+a.Label)
	}
	return strings.Join(items, "  ")
}
