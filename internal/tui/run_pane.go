package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/quorum/internal/events"
)

// RunPaneModel shows the top-level task and, once synthesized, the final answer.
type RunPaneModel struct {
	runID    string
	task     string
	fallback bool
	finished *events.RunFinishedEvent
	viewport viewport.Model
	width    int
	height   int
	focused  bool
}

// NewRunPaneModel creates an empty run pane.
func NewRunPaneModel() RunPaneModel {
	return RunPaneModel{viewport: viewport.New(0, 0)}
}

// Update handles messages for the run pane.
func (m RunPaneModel) Update(msg tea.Msg) (RunPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.focused {
			m.viewport, cmd = m.viewport.Update(msg)
		}
	case events.RunStartedEvent:
		m.runID = msg.RunID
		m.task = msg.Task
		m.refresh()
	case events.PlanReadyEvent:
		m.fallback = msg.Fallback
		m.refresh()
	case events.RunFinishedEvent:
		m.finished = &msg
		m.refresh()
	}

	return m, cmd
}

// Done reports whether the run has finished.
func (m RunPaneModel) Done() bool {
	return m.finished != nil
}

func (m *RunPaneModel) refresh() {
	var b strings.Builder
	if m.task == "" {
		b.WriteString("Waiting for a run...")
		m.viewport.SetContent(b.String())
		return
	}

	b.WriteString(fmt.Sprintf("Run %s\n\n%s\n", m.runID, m.task))
	if m.fallback {
		b.WriteString(StyleStatusFailed.Render("\nDecomposition failed; solving as a single sub-task."))
		b.WriteString("\n")
	}

	if f := m.finished; f != nil {
		status := "synthesized"
		if !f.Synthesized {
			status = "concatenated"
		}
		if f.Deadlocked {
			status += ", deadlocked"
		}
		b.WriteString(fmt.Sprintf("\n%s in %v (%s)\n\n",
			StyleTitle.Render("Final answer"), f.Duration.Round(time.Millisecond), status))
		b.WriteString(f.FinalAnswer)
		b.WriteString("\n")
	}

	m.viewport.SetContent(b.String())
}

// View renders the run pane.
func (m RunPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(m.viewport.View())
}

// SetSize updates the pane dimensions.
func (m *RunPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(w-4, 10)
	m.viewport.Height = max(h-2, 3)
	m.refresh()
}

// SetFocused updates the focus state.
func (m *RunPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
