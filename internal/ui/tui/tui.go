package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/rewind/internal/query"
)

// Source is what the panel polls for context.
type Source interface {
	Now() time.Time
	CurrentContext(now time.Time) query.Context
	Trigger() bool
}

type TUI struct {
	program *tea.Program
}

func NewTUI(p *tea.Program) *TUI {
	return &TUI{program: p}
}

func (t *TUI) UpdateStatus(status string) {
	t.program.Send(StatusMsg(status))
}

func (t *TUI) Log(msg string) {
	t.program.Send(LogMsg(msg))
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000"))

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Width(12)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#777777"))
)

const maxLogLines = 200

type Model struct {
	Title     string
	Status    string
	Context   query.Context
	Log       []string
	Progress  progress.Model
	Viewport  viewport.Model
	Quitting  bool
	Ready     bool
	Width     int
	Height    int
	Retention time.Duration

	source   Source
	interval time.Duration
}

type LogMsg string
type StatusMsg string

// TickMsg asks the model to refresh its context.
type TickMsg time.Time

// NewModel creates a panel that refreshes from src every interval. The
// progress bar shows how much of retention the rolling buffer spans.
func NewModel(title string, src Source, interval, retention time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	return Model{
		Title:     title,
		Status:    "Initializing...",
		Progress:  progress.New(progress.WithDefaultGradient()),
		Retention: retention,
		source:    src,
		interval:  interval,
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case msg.Type == tea.KeyCtrlC || msg.String() == "q":
			m.Quitting = true
			return m, tea.Quit
		case msg.String() == "a":
			if m.source != nil && m.source.Trigger() {
				m.Status = "Analysis requested"
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		logHeight := msg.Height - 16
		if logHeight < 3 {
			logHeight = 3
		}
		if !m.Ready {
			m.Viewport = viewport.New(msg.Width, logHeight)
			m.Ready = true
		} else {
			m.Viewport.Width = msg.Width
			m.Viewport.Height = logHeight
		}
		m.Progress.Width = msg.Width - 4

	case TickMsg:
		if m.source != nil {
			m.Context = m.source.CurrentContext(m.source.Now())
		}
		cmds = append(cmds, m.tick())

	case LogMsg:
		m.Log = append(m.Log, string(msg))
		if len(m.Log) > maxLogLines {
			m.Log = m.Log[len(m.Log)-maxLogLines:]
		}
		m.Viewport.SetContent(strings.Join(m.Log, "\n"))
		m.Viewport.GotoBottom()

	case StatusMsg:
		m.Status = string(msg)
	}

	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// coverage is the share of retention the buffer currently spans.
func (m Model) coverage() float64 {
	b := m.Context.Buffer
	if m.Retention <= 0 || b.Entries == 0 {
		return 0
	}
	f := float64(b.Newest.Sub(b.Oldest)) / float64(m.Retention)
	if f > 1 {
		return 1
	}
	return f
}

func (m Model) View() string {
	if !m.Ready {
		return "\n  Initializing..."
	}

	c := m.Context
	var b strings.Builder

	b.WriteString(titleStyle.Render(" " + m.Title + " "))
	b.WriteString(infoStyle.Render(fmt.Sprintf(" Status: %s ", m.Status)))
	b.WriteString(dimStyle.Render(fmt.Sprintf(" OCR: %s  Phase: %s ", c.Extractor, c.Phase)))
	b.WriteString("\n\n")

	activity, app := "(waiting for first analysis)", "-"
	if c.Result != nil {
		activity = c.Result.Summary
		if c.Result.Application != "" {
			app = c.Result.Application
		}
	}
	b.WriteString(labelStyle.Render("Activity") + activity + "\n")
	b.WriteString(labelStyle.Render("Application") + app + "\n")
	if c.IsStale {
		b.WriteString(errorStyle.Render("Context is stale") + "\n")
	} else {
		b.WriteString(infoStyle.Render(fmt.Sprintf("Updated %s", c.LastSuccess.Format("15:04:05"))) + "\n")
	}

	b.WriteString("\n" + labelStyle.Render("Key info") + "\n")
	if len(c.KeyInfo) == 0 {
		b.WriteString(dimStyle.Render("  none") + "\n")
	}
	for _, k := range c.KeyInfo {
		line := fmt.Sprintf("  %-6s %s", k.Kind, k.Text)
		if k.Context != "" {
			line += dimStyle.Render("  " + k.Context)
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n" + m.Viewport.View() + "\n\n")
	b.WriteString(m.Progress.ViewAs(m.coverage()))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %d entries  [a] analyze  [q] quit", c.Buffer.Entries)))

	view := b.String()
	if m.Quitting {
		return view + "\n  Quitting...\n"
	}
	return view
}
