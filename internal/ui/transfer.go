package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

// Transfer renders a live progress bar for a byte transfer. On
// non-interactive outputs all methods are no-ops, so callers wire it
// unconditionally.
type Transfer struct {
	program  *tea.Program
	finished chan struct{}
}

type transferTickMsg struct {
	done  int
	total int
}

type transferDoneMsg struct{}

type transferModel struct {
	label string
	bar   progress.Model
	done  int
	total int
}

func (m transferModel) Init() tea.Cmd {
	return nil
}

func (m transferModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case transferTickMsg:
		m.done = msg.done
		if msg.total > 0 {
			m.total = msg.total
		}
		return m, nil
	case transferDoneMsg:
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m transferModel) View() string {
	percent := 0.0
	if m.total > 0 {
		percent = float64(m.done) / float64(m.total)
	}
	stats := TransferStatStyle.Render(fmt.Sprintf("%s / %s", formatBytes(m.done), formatBytes(m.total)))
	return fmt.Sprintf("%s\n  %s  %s\n", TransferLabelStyle.Render(m.label), m.bar.ViewAs(percent), stats)
}

// NewTransfer creates a progress display for a transfer of total bytes.
func NewTransfer(label string, total int) *Transfer {
	if !IsInteractive() {
		return &Transfer{}
	}

	barWidth := GetTerminalWidth() - 30
	if barWidth < 20 {
		barWidth = 20
	}
	if barWidth > 50 {
		barWidth = 50
	}

	model := transferModel{
		label: label,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth)),
		total: total,
	}
	return &Transfer{
		program: tea.NewProgram(model, tea.WithOutput(os.Stdout)),
	}
}

// Start begins rendering. Pair with Done.
func (t *Transfer) Start() {
	if t.program == nil {
		return
	}
	t.finished = make(chan struct{})
	go func() {
		_, _ = t.program.Run()
		close(t.finished)
	}()
}

// Update reports transfer progress. Safe to call from the transfer
// goroutine.
func (t *Transfer) Update(done, total int) {
	if t.program == nil {
		return
	}
	t.program.Send(transferTickMsg{done: done, total: total})
}

// Done stops the display and waits for the final frame.
func (t *Transfer) Done() {
	if t.program == nil {
		return
	}
	t.program.Send(transferDoneMsg{})
	<-t.finished
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
