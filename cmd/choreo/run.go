package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/servochoreo/pkg/choreo"
	"github.com/gwillem/servochoreo/pkg/record"
	"github.com/gwillem/servochoreo/pkg/robot"
)

type RunCommand struct {
	Plain      bool   `long:"plain" description:"Print progress lines instead of the interactive view"`
	CSV        string `long:"csv" description:"Record one row of positions per phase to this file"`
	Yes        bool   `short:"y" long:"yes" description:"Do not ask for confirmation before arming"`
	Loops      int    `long:"loops" default:"-1" description:"Override the configured loop count (0 repeats until stopped)"`
	KeepTorque bool   `long:"keep-torque" description:"Leave torque enabled when the run ends"`
	NoHold     bool   `long:"no-hold" description:"Do not pin actuators at their present position before arming"`
}

const maxLogs = 5 // number of log messages to show

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type runModel struct {
	ctrl     *choreo.Controller
	cancel   context.CancelFunc
	acts     robot.Actuators
	width    int      // terminal width
	height   int      // terminal height
	logs     []string // last N log messages
	state    choreo.State
	stopping bool
	done     bool
}

func (m *runModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// Messages from the controller
type stateMsg choreo.State
type logMsg string

func waitForState(ctrl *choreo.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *choreo.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

func initialRunModel(ctrl *choreo.Controller, cancel context.CancelFunc, acts robot.Actuators) runModel {
	return runModel{
		ctrl:   ctrl,
		cancel: cancel,
		acts:   acts,
	}
}

func (m runModel) Init() tea.Cmd {
	// Start listening for state and log updates
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
	)
}

func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			// Keep the view up until torque has been released.
			m.stopping = true
			m.cancel()
			return m, nil
		}

	case stateMsg:
		m.state = choreo.State(msg)
		if m.state.Done {
			m.done = true
			return m, tea.Quit
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)
	}

	return m, nil
}

func (m runModel) View() string {
	if m.done {
		return ""
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("Choreo Run"))
	plan := m.ctrl.Plan()
	if m.state.Loop > 0 {
		sb.WriteString(fmt.Sprintf(" - loop %d, phase %d/%d, driver %d at %d",
			m.state.Loop, m.state.Phase+1, m.state.Phases, m.state.Driver, m.state.Goal))
	} else {
		sb.WriteString(fmt.Sprintf(" - driver %d, %d phases", plan.Driver.ID, plan.PhaseCount()))
	}
	if m.state.Transactions > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  %d bus transactions", m.state.Transactions)))
	}
	if m.stopping {
		sb.WriteString(statusStyle.Render("  [stopping]"))
	}
	sb.WriteString("\n\n")

	sb.WriteString(m.renderTable())
	sb.WriteString("\n")

	// Log box
	width := m.width - 4
	if width < 40 {
		width = 76
	}
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(width)

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to stop")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m runModel) renderTable() string {
	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableMotorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)

	roles := roleNames(m.ctrl.Plan())
	posMax := m.ctrl.Robot().Proxy().Table().GoalPosition.Max
	rows := make([][]string, 0, len(m.acts))
	for _, act := range m.acts {
		pos, delta, travel := "-", "-", "-"
		if p, ok := m.state.Positions[act.ID]; ok {
			pos = fmt.Sprintf("%d", p)
			delta = fmt.Sprintf("%+d", p-act.Home)
			travel = fmt.Sprintf("%+.0f%%", act.Travel(p, posMax))
		}
		rows = append(rows, []string{
			robot.Name(act.ID),
			roles[act.ID],
			pos,
			fmt.Sprintf("%d", act.Home),
			delta,
			travel,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Motor", "Role", "Position", "Home", "Delta", "Travel").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableMotorStyle
			case 2:
				return tableCurrentStyle
			default:
				return tableCellStyle
			}
		})
	return t.Render()
}

func roleNames(p choreo.Plan) map[int]string {
	roles := map[int]string{p.Driver.ID: "driver"}
	for _, g := range p.Groups {
		for _, id := range g.IDs {
			roles[id] = g.Name
		}
	}
	return roles
}

func (c *RunCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if c.Loops >= 0 {
		cfg.Plan.Loops = c.Loops
	}

	plan, err := choreo.NewPlan(cfg)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}

	fmt.Printf("Loaded configuration from %s\n", opts.Config)
	if !c.Yes && !opts.Simulate {
		desc := fmt.Sprintf("%d actuators on %s, torque limit %d, driver %d over %d phases",
			len(cfg.Actuators), cfg.Port, cfg.TorqueLimit, plan.Driver.ID, plan.PhaseCount())
		if !confirm("Arm actuators and start the choreography?", desc) {
			return nil
		}
	}

	logger, err := newLogger(!c.Plain)
	if err != nil {
		return err
	}
	defer logger.Sync()

	r, err := openRobot(cfg, logger)
	if err != nil {
		return err
	}

	ctrlCfg := choreo.Config{
		Plan:       plan,
		Logger:     logger,
		KeepTorque: c.KeepTorque,
		Hold:       !c.NoHold,
	}
	if c.CSV != "" {
		f, err := os.Create(c.CSV)
		if err != nil {
			r.Close()
			return fmt.Errorf("create %s: %w", c.CSV, err)
		}
		defer f.Close()
		pw, err := record.NewPositionWriter(f, cfg.Actuators.IDs())
		if err != nil {
			r.Close()
			return err
		}
		ctrlCfg.OnSnapshot = func(s choreo.Snapshot) {
			if err := pw.Write(s); err != nil {
				logger.Warnw("csv write failed", "error", err)
			}
		}
	}

	ctrl, err := choreo.NewController(r, ctrlCfg)
	if err != nil {
		r.Close()
		return err
	}
	defer ctrl.Close()

	ctx, cancel := interruptContext()
	defer cancel()

	if c.Plain {
		err = runPlain(ctx, ctrl)
	} else {
		err = runTUI(ctx, cancel, ctrl, cfg.Actuators)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println(statusStyle.Render("Stopped."))
			return nil
		}
		reportFailure(err)
		return errors.New("run failed")
	}

	fmt.Println(successStyle.Render("Choreography complete."))
	if c.CSV != "" {
		fmt.Printf("Positions recorded to %s\n", c.CSV)
	}
	return nil
}

func runPlain(ctx context.Context, ctrl *choreo.Controller) error {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case line := <-ctrl.Logs():
				fmt.Println(line)
			case <-done:
				return
			}
		}
	}()

	err := ctrl.Start(ctx)
	close(done)

	// Flush what is left in the buffer.
	for {
		select {
		case line := <-ctrl.Logs():
			fmt.Println(line)
		default:
			return err
		}
	}
}

func runTUI(ctx context.Context, cancel context.CancelFunc, ctrl *choreo.Controller, acts robot.Actuators) error {
	result := make(chan error, 1)
	go func() {
		result <- ctrl.Start(ctx)
	}()

	p := tea.NewProgram(initialRunModel(ctrl, cancel, acts), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		cancel()
		<-result
		return fmt.Errorf("error running program: %w", err)
	}

	return <-result
}
