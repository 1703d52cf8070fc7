package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

type tuiUpdateMsg struct {
	bytesDone, bytesTotal int64
	elapsed               time.Duration
}

type tuiDoneMsg struct {
	message string
}

// tuiModel is a bubbletea Model showing a live progress bar for a running
// Vortex scenario: a progress.Model driven by FrameMsg ticks, plus a status
// line.
type tuiModel struct {
	progress progress.Model
	status   string
	done     bool
	final    string
	width    int
}

func newTUIModel() tuiModel {
	return tuiModel{
		progress: progress.New(progress.WithDefaultGradient()),
		status:   "starting...",
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 10
		if m.progress.Width < 20 {
			m.progress.Width = 20
		}
		return m, nil

	case tuiUpdateMsg:
		var frac float64
		if msg.bytesTotal > 0 {
			frac = float64(msg.bytesDone) / float64(msg.bytesTotal)
		}
		mb := float64(msg.bytesDone) / (1024 * 1024)
		speed := mb / msg.elapsed.Seconds()
		m.status = fmt.Sprintf("%.1f MB/s, %v elapsed", speed, msg.elapsed.Round(time.Millisecond))
		return m, m.progress.SetPercent(frac)

	case tuiDoneMsg:
		m.done = true
		m.final = msg.message
		return m, tea.Quit

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m tuiModel) View() string {
	var b strings.Builder
	b.WriteString("  vortex\n\n")
	b.WriteString("  " + m.progress.View() + "\n\n")
	if m.done {
		b.WriteString("  " + m.final + "\n")
	} else {
		b.WriteString(dimStyle.Render("  "+m.status) + "\n")
	}
	return b.String()
}

// TUIReporter is a Reporter backed by a bubbletea program rendering a live
// terminal progress bar.
type TUIReporter struct {
	program *tea.Program
}

// NewTUIReporter starts the bubbletea program in the background; call Done
// to stop it once the scenario finishes.
func NewTUIReporter() *TUIReporter {
	p := tea.NewProgram(newTUIModel())
	go p.Run() //nolint:errcheck // terminal errors surface to the user via bubbletea itself
	return &TUIReporter{program: p}
}

// Update implements Reporter.
func (r *TUIReporter) Update(bytesDone, bytesTotal int64, elapsed time.Duration) {
	r.program.Send(tuiUpdateMsg{bytesDone: bytesDone, bytesTotal: bytesTotal, elapsed: elapsed})
}

// Done implements Reporter.
func (r *TUIReporter) Done(message string) {
	r.program.Send(tuiDoneMsg{message: message})
}
