package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/haptic/pkg/engine"
	"github.com/gwillem/haptic/pkg/history"
	"github.com/gwillem/haptic/pkg/rig"
	"github.com/gwillem/haptic/pkg/sequence"
)

type RunCommand struct {
	NoProbe   bool    `long:"no-probe" description:"Skip the readiness probe before running"`
	NoHistory bool    `long:"no-history" description:"Do not record the run in the history database"`
	Simulate  bool    `long:"simulate" description:"Dry run against simulated controllers, no hardware needed"`
	SimSpeed  float64 `long:"sim-speed" default:"200" description:"Simulated transport speed in controller units per second"`

	Args struct {
		Sequence string `positional-arg-name:"sequence" description:"Sequence file (YAML)"`
	} `positional-args:"yes" required:"yes"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
	listWidth    = 44
)

// Axis colors
var axisColors = map[string]string{
	"x": "196", // red
	"y": "51",  // cyan
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	currentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
)

type runModel struct {
	eng      *engine.Engine
	labels   []string
	chart    *streamlinechart.Model
	width    int
	height   int
	logs     []string
	state    engine.State
	current  int
	done     map[int]bool
	position rig.PhysicalPoint
	logical  sequence.Waypoint
	havePos  bool
	result   *engine.Result
	sim      bool
	quitting bool
}

// Messages from the engine
type eventMsg engine.Event
type logMsg string
type doneMsg engine.Result

func waitForEvent(eng *engine.Engine) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-eng.Events())
	}
}

func waitForLog(eng *engine.Engine) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-eng.Logs())
	}
}

func (m *runModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *runModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 60, 16
	}
	width = m.width - listWidth - borderSize - 2
	if width < 30 {
		width = 30
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 8 {
		height = 8
	}
	return width, height
}

func initialRunModel(eng *engine.Engine, seq sequence.Sequence) runModel {
	chart := streamlinechart.New(60, 16,
		streamlinechart.WithYRange(0, sequence.SurfaceWidthMM),
	)
	for name, color := range axisColors {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		chart.SetDataSetStyles(name, runes.ThinLineStyle, style)
	}

	labels := make([]string, len(seq.Blocks))
	for i, b := range seq.Blocks {
		labels[i] = b.Label(i)
	}

	return runModel{
		eng:     eng,
		labels:  labels,
		chart:   &chart,
		current: -1,
		done:    make(map[int]bool),
	}
}

func (m runModel) Init() tea.Cmd {
	return tea.Batch(
		waitForEvent(m.eng),
		waitForLog(m.eng),
	)
}

func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		w, h := m.chartSize()
		m.chart.Resize(w, h)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "a", "esc":
			if m.eng.Abort() {
				m.addLog("Abort requested")
			}
		case "q", "ctrl+c":
			m.eng.Abort()
			m.quitting = true
			return m, tea.Quit
		}

	case eventMsg:
		m.applyEvent(engine.Event(msg))
		return m, waitForEvent(m.eng)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.eng)

	case doneMsg:
		res := engine.Result(msg)
		m.result = &res
		m.state = res.State
	}

	return m, nil
}

func (m *runModel) applyEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventState:
		m.state = ev.State
	case engine.EventBlockStarted:
		m.current = ev.Block
	case engine.EventBlockCompleted:
		m.done[ev.Block] = true
	case engine.EventPosition:
		m.position = ev.Position
		m.logical, m.havePos = m.eng.LogicalPosition()
		m.chart.PushDataSet("x", m.logical.X)
		m.chart.PushDataSet("y", m.logical.Y)
		m.chart.DrawAll()
	}
}

func (m runModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("Haptic Run"))
	if m.sim {
		sb.WriteString(currentStyle.Render(" [simulated]"))
	}
	sb.WriteString(" - " + m.state.String())
	if m.havePos {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  pos %s  logical (%.1f, %.1f) mm",
			m.position, m.logical.X, m.logical.Y)))
	}
	sb.WriteString("\n\n")

	// Chart beside the block list
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		chartStyle.Render(m.chart.View()),
		m.renderBlocks(),
	)
	sb.WriteString(body)
	sb.WriteString("\n")
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Log box
	logWidth := m.width - 4
	if logWidth < 20 {
		logWidth = 76
	}
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(logWidth)

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'a' to abort, 'q' to abort and quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	if m.result != nil {
		sb.WriteString(statusStyle.Render("Run ended. Press 'q' to exit."))
		sb.WriteString("\n")
	}

	return sb.String()
}

func (m runModel) renderBlocks() string {
	var lines []string
	for i, label := range m.labels {
		switch {
		case m.done[i]:
			lines = append(lines, successStyle.Render("✓ "+label))
		case i == m.current && m.state.Active():
			lines = append(lines, currentStyle.Render("▶ "+label))
		case i == m.current && m.state == engine.Aborted:
			lines = append(lines, errorStyle.Render("✗ "+label))
		default:
			lines = append(lines, dimStyle.Render("  "+label))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, dimStyle.Render("(empty sequence)"))
	}
	return lipgloss.NewStyle().Width(listWidth).Padding(0, 1).Render(strings.Join(lines, "\n"))
}

func renderLegend() string {
	var items []string
	for _, name := range []string{"x", "y"} {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(axisColors[name])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+name+" (mm)")
	}
	return strings.Join(items, "  ")
}

func (c *RunCommand) Execute(args []string) error {
	seq, err := sequence.Load(c.Args.Sequence)
	if err != nil {
		return err
	}
	var (
		cfg                 *rig.Config
		transport, actuator *rig.Client
	)
	if c.Simulate {
		cfg = simConfig()
		simOpts := rig.DefaultSimOptions()
		simOpts.Speed = c.SimSpeed
		transport, actuator = rig.NewSimulator(simOpts)
	} else {
		cfg = loadConfig()
		transport, actuator, err = cfg.Open()
		if err != nil {
			log.Fatalf("Failed to open controllers: %v", err)
		}
	}
	defer transport.Close()
	defer actuator.Close()

	// Keep diagnostics out of the TUI
	rig.SetLogger(nil)

	if !c.NoProbe {
		fmt.Println("Waiting for controllers...")
		if !c.Simulate {
			time.Sleep(resetDelay)
		}
		for _, client := range []*rig.Client{transport, actuator} {
			if err := client.ProbeReady(context.Background(), cfg.ProbeTimeout()); err != nil {
				log.Fatalf("Probe failed: %v", err)
			}
		}
	}

	eng, err := engine.New(transport, actuator, engine.Config{
		Calibration:  cfg.Calibration,
		PollInterval: cfg.PollInterval(),
		AckTimeout:   cfg.AckTimeout(),
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := initialRunModel(eng, seq)
	model.sim = c.Simulate
	p := tea.NewProgram(model, tea.WithAltScreen())

	resultCh := make(chan engine.Result, 1)
	go func() {
		res, _ := eng.Run(ctx, seq)
		resultCh <- res
		p.Send(doneMsg(res))
	}()

	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}
	cancel()
	res := <-resultCh

	printResult(res)

	if !c.NoHistory {
		source := c.Args.Sequence
		if c.Simulate {
			source += " (simulated)"
		}
		if err := recordRun(cfg.HistoryPath(), source, res); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: run not recorded: %v\n", err)
		}
	}

	if res.Err != nil {
		os.Exit(1)
	}
	return nil
}

// simConfig returns the saved configuration when there is one, so a dry run
// uses the real calibration, and the defaults otherwise.
func simConfig() *rig.Config {
	if cfg, err := rig.LoadConfigFrom(opts.Config); err == nil {
		return cfg
	}
	return rig.DefaultConfig()
}

func printResult(res engine.Result) {
	switch {
	case res.Err == nil:
		fmt.Println(successStyle.Render(fmt.Sprintf("Sequence finished: %d blocks in %s",
			res.Blocks, res.Duration().Round(time.Millisecond))))
	case errors.Is(res.Err, engine.ErrRunAborted):
		fmt.Println(errorStyle.Render(res.Err.Error()))
		fmt.Printf("Completed %d of %d blocks.\n", res.LastCompleted+1, res.Blocks)
	default:
		fmt.Println(errorStyle.Render(res.Err.Error()))
	}
	if res.RunID != "" {
		fmt.Println(dimStyle.Render("Run " + res.RunID))
	}
}

func recordRun(path, source string, res engine.Result) error {
	if res.RunID == "" {
		return nil
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.RecordRun(source, res)
}
