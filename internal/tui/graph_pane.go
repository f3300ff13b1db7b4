package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/quorum/internal/events"
)

// GraphPaneModel shows scheduling progress over the sub-task graph.
type GraphPaneModel struct {
	round      int
	total      int
	accepted   int
	exhausted  int
	dispatched int
	pending    int
	dropped    int
	deadlock   string
	width      int
	height     int
	focused    bool
}

// NewGraphPaneModel creates a new graph pane model.
func NewGraphPaneModel() GraphPaneModel {
	return GraphPaneModel{}
}

// Update handles messages for the graph pane.
func (m GraphPaneModel) Update(msg tea.Msg) (GraphPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.PlanReadyEvent:
		m.total = len(msg.SubTasks)
		m.pending = len(msg.SubTasks)

	case events.GraphProgressEvent:
		m.round = msg.Round
		m.total = msg.Total
		m.accepted = msg.Accepted
		m.exhausted = msg.Exhausted
		m.dispatched = msg.Dispatched
		m.pending = msg.Pending

	case events.FollowUpsAbsorbedEvent:
		m.dropped += len(msg.Dropped)

	case events.DeadlockEvent:
		m.deadlock = fmt.Sprintf("%s (unresolved: %s)", msg.Reason, strings.Join(msg.Unresolved, ", "))
	}

	return m, nil
}

// View renders the graph pane.
func (m GraphPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Graph Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Round:     %d\n", m.round))
	b.WriteString(fmt.Sprintf("Total:     %d\n", m.total))
	b.WriteString(fmt.Sprintf("Accepted:  %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", m.accepted))))
	b.WriteString(fmt.Sprintf("Exhausted: %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.exhausted))))
	b.WriteString(fmt.Sprintf("Running:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", m.dispatched))))
	b.WriteString(fmt.Sprintf("Pending:   %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", m.pending))))
	if m.dropped > 0 {
		b.WriteString(fmt.Sprintf("Dropped:   %d follow-ups\n", m.dropped))
	}
	b.WriteString("\n")

	if m.total > 0 {
		done := m.accepted + m.exhausted
		barWidth := min(m.width-4, 40)
		acceptedWidth := (m.accepted * barWidth) / m.total
		exhaustedWidth := (m.exhausted * barWidth) / m.total
		runningWidth := (m.dispatched * barWidth) / m.total
		pendingWidth := barWidth - acceptedWidth - exhaustedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, acceptedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, exhaustedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", bar, done, m.total))
	}

	if m.deadlock != "" {
		b.WriteString("\n")
		b.WriteString(StyleStatusFailed.Render("Deadlock: " + m.deadlock))
		b.WriteString("\n")
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *GraphPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *GraphPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
