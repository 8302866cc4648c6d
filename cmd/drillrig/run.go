package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/drillrig/pkg/drill"
	"github.com/gwillem/drillrig/pkg/rig"
	"github.com/gwillem/drillrig/pkg/telemetry"
)

type RunCommand struct {
	Sim    bool   `long:"sim" description:"Drive a simulated construct instead of the servo bus"`
	Listen string `long:"listen" description:"Serve WebSocket telemetry on this address, e.g. :8080"`
}

const (
	headerHeight = 2 // title + blank line
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
	simPeriod    = 100 * time.Millisecond
)

// Piston colors, assigned in scan order
var pistonColors = []string{"196", "208", "226", "46", "51", "201", "99", "214"}

var keyCommands = map[string]drill.Command{
	"o": drill.CommandOn,
	"f": drill.CommandOff,
	"r": drill.CommandReset,
	"R": drill.CommandForceReset,
	"c": drill.CommandCheck,
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

var statusColors = map[drill.Status]string{
	drill.StatusRunning:    "10",
	drill.StatusStopped:    "241",
	drill.StatusRetracting: "11",
	drill.StatusExtended:   "14",
	drill.StatusCompleted:  "12",
	drill.StatusError:      "9",
}

// lcdDisplay is the rig display shown in the dashboard.
type lcdDisplay struct {
	mu      sync.Mutex
	text    string
	style   rig.Style
	updates chan string
}

func newLCDDisplay() *lcdDisplay {
	return &lcdDisplay{style: rig.DefaultStyle(), updates: make(chan string, 1)}
}

func (d *lcdDisplay) WriteText(text string, appendText bool) error {
	d.mu.Lock()
	if appendText {
		d.text += text
	} else {
		d.text = text
	}
	text = d.text
	d.mu.Unlock()

	select {
	case d.updates <- text:
	default:
		// Replace the unread update
		select {
		case <-d.updates:
		default:
		}
		select {
		case d.updates <- text:
		default:
		}
	}
	return nil
}

func (d *lcdDisplay) SetStyle(s rig.Style) {
	d.mu.Lock()
	d.style = s
	d.mu.Unlock()
}

func (d *lcdDisplay) render(text string, width int) string {
	d.mu.Lock()
	s := d.style
	d.mu.Unlock()

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Background(lipgloss.Color(s.Background)).
		Foreground(lipgloss.Color(s.Foreground)).
		Padding(0, 1)
	if width > 0 {
		style = style.Width(width)
	}
	return style.Render(strings.TrimRight(text, "\n"))
}

type runModel struct {
	ctrl      *drill.Controller
	lcd       *lcdDisplay
	chart     *streamlinechart.Model
	state     drill.State
	lcdText   string
	colors    map[string]string
	width     int
	height    int
	logs      []string
	simulated bool
	listen    string
	quitting  bool
}

// Messages from the controller
type stateMsg drill.State
type logMsg string
type lcdMsg string

func waitForState(ctrl *drill.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *drill.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

func waitForLCD(lcd *lcdDisplay) tea.Cmd {
	return func() tea.Msg {
		return lcdMsg(<-lcd.updates)
	}
}

func initialRunModel(ctrl *drill.Controller, lcd *lcdDisplay, travel rig.Travel) runModel {
	chart := streamlinechart.New(60, 12,
		streamlinechart.WithYRange(travel.Min, travel.Max),
	)

	colors := make(map[string]string)
	for i, p := range ctrl.Registry().Pistons {
		color := pistonColors[i%len(pistonColors)]
		colors[p.Name()] = color
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		chart.SetDataSetStyles(p.Name(), runes.ThinLineStyle, style)
	}

	return runModel{
		ctrl:    ctrl,
		lcd:     lcd,
		chart:   &chart,
		colors:  colors,
		lcdText: ctrl.Report().String(),
	}
}

func (m *runModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// chartSize splits the terminal between the chart and the LCD column.
func (m *runModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 60, 12
	}
	width = m.width/2 - borderSize - 2
	if width < 30 {
		width = 30
	}
	height = (m.height-headerHeight-footerHeight)/2 - borderSize
	if height < 8 {
		height = 8
	}
	return width, height
}

func (m runModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
		waitForLCD(m.lcd),
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
		key := msg.String()
		switch key {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		if cmd, ok := keyCommands[key]; ok {
			if !m.ctrl.Send(cmd) {
				m.addLog(fmt.Sprintf("[%s] Command queue full, dropped %s", time.Now().Format("15:04:05"), cmd))
			}
		}

	case stateMsg:
		m.state = drill.State(msg)
		for _, p := range m.state.Pistons {
			m.chart.PushDataSet(p.Name, p.Position)
		}
		m.chart.DrawAll()
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)

	case lcdMsg:
		m.lcdText = string(msg)
		return m, waitForLCD(m.lcd)
	}

	return m, nil
}

func (m runModel) View() string {
	if m.quitting {
		return "Drill rig stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("Drill Rig"))
	status := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(statusColors[m.state.Status]))
	sb.WriteString(" " + status.Render(m.state.Status.String()))
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  tick %s", m.ctrl.Interval())))
	if m.simulated {
		sb.WriteString(statusStyle.Render("  [sim]"))
	}
	if m.listen != "" {
		sb.WriteString(statusStyle.Render("  ws://" + m.listen + "/ws"))
	}
	sb.WriteString("\n\n")

	left := lipgloss.JoinVertical(lipgloss.Left,
		chartStyle.Render(m.chart.View()),
		m.renderPistons(),
	)
	lcdWidth := 0
	if m.width > 0 {
		lcdWidth = m.width - lipgloss.Width(left) - 4
	}
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, " ", m.lcd.render(m.lcdText, lcdWidth)))
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Foreground(lipgloss.Color("9"))
	if m.width > 4 {
		logStyle = logStyle.Width(m.width - 4)
	}

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render(helpLine())
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	if m.state.Error != nil {
		sb.WriteString(errorStyle.Render(m.state.Error.Error()))
		sb.WriteString("\n")
	}

	return sb.String()
}

func (m runModel) renderPistons() string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	doneStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)

	rows := make([][]string, 0, len(m.state.Pistons))
	for _, p := range m.state.Pistons {
		done := ""
		if p.Done {
			done = "yes"
		}
		rows = append(rows, []string{
			p.Name,
			p.Orientation.String(),
			fmt.Sprintf("%.2f", p.Position),
			done,
		})
	}

	pistons := m.state.Pistons
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(statusStyle).
		Headers("Piston", "Dir", "Position", "Done").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row < 0 || row >= len(pistons) {
				return cellStyle
			}
			switch col {
			case 0:
				return cellStyle.Foreground(lipgloss.Color(m.colors[pistons[row].Name]))
			case 3:
				return doneStyle
			default:
				return cellStyle
			}
		})
	return t.Render()
}

func helpLine() string {
	var items []string
	for _, key := range []string{"o", "f", "r", "R", "c"} {
		items = append(items, fmt.Sprintf("%s: %s", key, keyCommands[key]))
	}
	items = append(items, "q: quit")
	return strings.Join(items, "  ")
}

func (c *RunCommand) Execute(args []string) error {
	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := openRig(ctx, cfg, c.Sim)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open rig: %v\n", err)
		fmt.Fprintln(os.Stderr, "Run 'drillrig setup' or pass --sim.")
		os.Exit(1)
	}
	defer h.Close()

	lcd := newLCDDisplay()
	ctrl, err := drill.NewController(ctx, drill.Config{
		Inventory: h.inv,
		Display:   lcd,
		Rig:       cfg,
	})
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}

	if h.simulated() {
		go h.con.Run(ctx, simPeriod, simScale(cfg))
	}

	if c.Listen != "" {
		hub := telemetry.NewHub(ctrl)
		go hub.Run(ctx, ctrl.Subscribe())

		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		srv := &http.Server{Addr: c.Listen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Telemetry server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	// The model reads controller state, so build it before the loop owns it
	model := initialRunModel(ctrl, lcd, cfg.Travel)
	model.simulated = h.simulated()
	model.listen = c.Listen

	// Start controller in background
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := ctrl.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("Controller error: %v", err)
		}
	}()

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}

	// Let the controller stop the drill head before the bus closes
	cancel()
	<-stopped
	return nil
}
