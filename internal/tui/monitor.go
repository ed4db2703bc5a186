// Package tui renders a terminal monitor of a running switchboard.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/switchboard/internal/api"
	"github.com/mattjoyce/switchboard/internal/events"
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	focusMark    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

const maxActivity = 50

// Source is where the monitor reads its data. *api.Client implements it.
type Source interface {
	Health(ctx context.Context) (api.HealthzResponse, error)
	Plugins(ctx context.Context) (api.PluginListResponse, error)
	StreamActivity(ctx context.Context, lastID int64, ch chan<- events.Activity) error
}

type activityMsg events.Activity
type healthMsg api.HealthzResponse
type pluginsMsg api.PluginListResponse
type streamClosedMsg struct{ err error }
type errMsg struct{ err error }

// Model is the bubbletea model of the monitor.
type Model struct {
	src      Source
	ctx      context.Context
	activity chan events.Activity

	width  int
	height int

	health   api.HealthzResponse
	plugins  api.PluginListResponse
	log      []events.Activity
	lastID   int64
	lastErr  error
	streamOK bool

	table table.Model
}

// NewMonitor creates a monitor reading from src until ctx ends.
func NewMonitor(ctx context.Context, src Source) Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "F", Width: 2},
			{Title: "Plugin", Width: 20},
			{Title: "Origin", Width: 32},
			{Title: "Stream", Width: 6},
			{Title: "Allow", Width: 30},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Model{
		src:      src,
		ctx:      ctx,
		activity: make(chan events.Activity, 100),
		table:    t,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.subscribe(),
		m.receiveActivity(),
		m.fetchHealth(),
		m.fetchPlugins(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)

	case activityMsg:
		m.streamOK = true
		m.addActivity(events.Activity(msg))
		cmds := []tea.Cmd{m.receiveActivity()}
		if affectsPlugins(msg.Type) {
			cmds = append(cmds, m.fetchPlugins())
		}
		return m, tea.Batch(cmds...)

	case healthMsg:
		m.health = api.HealthzResponse(msg)
		m.lastErr = nil
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return m.fetchHealth()() })

	case pluginsMsg:
		m.plugins = api.PluginListResponse(msg)
		m.table.SetRows(pluginRows(m.plugins))
		return m, nil

	case streamClosedMsg:
		m.streamOK = false
		m.lastErr = msg.err
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg { return m.subscribe()() })

	case errMsg:
		m.lastErr = msg.err
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return m.fetchHealth()() })
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) addActivity(a events.Activity) {
	if a.ID > m.lastID {
		m.lastID = a.ID
	}
	m.log = append([]events.Activity{a}, m.log...)
	if len(m.log) > maxActivity {
		m.log = m.log[:maxActivity]
	}
}

func affectsPlugins(activityType string) bool {
	switch activityType {
	case events.ActivityPluginRegistered, events.ActivityPluginUnregistered, events.ActivityFocusChanged:
		return true
	}
	return false
}

func pluginRows(list api.PluginListResponse) []table.Row {
	rows := make([]table.Row, 0, len(list.Plugins))
	for _, p := range list.Plugins {
		mark := " "
		if p.Focused {
			mark = focusMark.Render("●")
		}
		stream := "no"
		if p.Streaming {
			stream = "yes"
		}
		allow := "*"
		if len(p.Allow) > 0 {
			allow = strings.Join(p.Allow, ",")
		}
		rows = append(rows, table.Row{mark, p.Title, p.Origin, stream, allow})
	}
	return rows
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	plugins := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Plugins"),
			m.table.View(),
		),
	)
	activity := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Activity"),
			m.renderActivity(),
		),
	)
	help := dimStyle.Render(" [q] Quit • [↑/↓] Scroll Plugins")

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), plugins, activity, help))
}

func (m Model) renderHeader() string {
	status := statusOK.Render("RUNNING")
	if m.lastErr != nil {
		status = statusFailed.Render("UNREACHABLE")
	}
	focused := m.health.Focused
	if focused == "" {
		focused = "-"
	}
	stream := statusOK.Render("live")
	if !m.streamOK {
		stream = dimStyle.Render("waiting")
	}

	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", (time.Duration(m.health.UptimeSeconds) * time.Second).String()),
		fmt.Sprintf("Plugins: %d", m.health.Plugins),
		fmt.Sprintf("Focus: %s", focused),
		fmt.Sprintf("Events: %s", stream),
	}
	cell := lipgloss.NewStyle().Width((m.width - 4) / len(items))
	cells := make([]string, len(items))
	for i, it := range items {
		cells[i] = cell.Render(it)
	}
	return borderStyle.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
}

func (m Model) renderActivity() string {
	var lines []string
	for i, a := range m.log {
		if i >= 10 {
			break
		}
		lines = append(lines, fmt.Sprintf("%s | %-22s | %s", a.At.Format("15:04:05"), a.Type, string(a.Data)))
	}
	if len(lines) == 0 {
		return "  No activity yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

func (m Model) subscribe() tea.Cmd {
	return func() tea.Msg {
		err := m.src.StreamActivity(m.ctx, m.lastID, m.activity)
		return streamClosedMsg{err: err}
	}
}

func (m Model) receiveActivity() tea.Cmd {
	return func() tea.Msg {
		select {
		case a := <-m.activity:
			return activityMsg(a)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) fetchHealth() tea.Cmd {
	return func() tea.Msg {
		h, err := m.src.Health(m.ctx)
		if err != nil {
			return errMsg{err: err}
		}
		return healthMsg(h)
	}
}

func (m Model) fetchPlugins() tea.Cmd {
	return func() tea.Msg {
		p, err := m.src.Plugins(m.ctx)
		if err != nil {
			return errMsg{err: err}
		}
		return pluginsMsg(p)
	}
}

// Run starts the monitor in the alternate screen and blocks until quit.
func Run(ctx context.Context, src Source) error {
	_, err := tea.NewProgram(NewMonitor(ctx, src), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
