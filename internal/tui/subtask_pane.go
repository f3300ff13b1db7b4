package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/quorum/internal/events"
)

// Sub-task display states.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateAccepted  = "accepted"
	StateExhausted = "exhausted"
)

// SubTaskState is the display state of one sub-task.
type SubTaskState struct {
	ID          string
	Description string
	Status      string
	Attempt     int
	Score       float64
	Winner      string
	Log         []string
	StartTime   time.Time
	Duration    time.Duration
}

// SubTaskPaneModel is the sub-task list plus a scrollable log of the selected one.
type SubTaskPaneModel struct {
	tasks       map[string]*SubTaskState // id -> state
	order       []string                 // insertion order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewSubTaskPaneModel creates an empty sub-task pane.
func NewSubTaskPaneModel() SubTaskPaneModel {
	return SubTaskPaneModel{
		tasks:    make(map[string]*SubTaskState),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// Update handles messages for the sub-task pane.
func (m SubTaskPaneModel) Update(msg tea.Msg) (SubTaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.PlanReadyEvent:
		for _, st := range msg.SubTasks {
			t := m.ensure(st.ID, st.Description)
			if len(st.Dependencies) > 0 {
				t.Log = append(t.Log, "depends on "+strings.Join(st.Dependencies, ", "))
			}
		}
		m.updateViewportContent()

	case events.SubTaskDispatchedEvent:
		t := m.ensure(msg.ID, msg.Description)
		t.Status = StateRunning
		t.StartTime = msg.Timestamp
		return m, m.appendLog(msg.ID, fmt.Sprintf("dispatched in round %d", msg.Round))

	case events.WorkersSelectedEvent:
		if t, ok := m.tasks[msg.ID]; ok {
			t.Attempt = msg.Attempt
		}
		return m, m.appendLog(msg.ID, fmt.Sprintf("\nattempt %d: %s", msg.Attempt, strings.Join(msg.Workers, ", ")))

	case events.WorkerAnsweredEvent:
		label := msg.WorkerID
		if msg.SelfCritique {
			label += " (critique)"
		}
		if msg.Err != nil {
			return m, m.appendLog(msg.ID, fmt.Sprintf("  %s failed: %v", label, msg.Err))
		}
		return m, m.appendLog(msg.ID, fmt.Sprintf("  %s answered in %v: %s", label, msg.Duration.Round(time.Millisecond), truncate(msg.FinalAnswer, 60)))

	case events.JudgeVerdictEvent:
		if msg.Err != nil {
			return m, m.appendLog(msg.ID, fmt.Sprintf("    %s on %s: failed (%v)", msg.Judge, msg.WorkerID, msg.Err))
		}
		return m, m.appendLog(msg.ID, fmt.Sprintf("    %s on %s: %.1f", msg.Judge, msg.WorkerID, msg.Score))

	case events.CandidateScoredEvent:
		return m, m.appendLog(msg.ID, fmt.Sprintf("  %s scored %.2f", msg.WorkerID, msg.Score))

	case events.AttemptFinishedEvent:
		verdict := "below threshold"
		if msg.Accepted {
			verdict = "accepted"
		}
		return m, m.appendLog(msg.ID, fmt.Sprintf("  best %s at %.2f, %s", msg.BestWorker, msg.BestScore, verdict))

	case events.SubTaskCompletedEvent:
		if t, ok := m.tasks[msg.ID]; ok {
			t.Status = msg.Status
			t.Score = msg.Score
			t.Winner = msg.WinningWorker
			t.Duration = msg.Duration
			t.Log = append(t.Log, fmt.Sprintf("\n[%s by %s, score %.2f, %d attempts, %v]\n%s",
				msg.Status, msg.WinningWorker, msg.Score, msg.Attempts, msg.Duration.Round(time.Millisecond), msg.FinalAnswer))
			if m.selectedID() == msg.ID {
				m.updateViewportContent()
			}
		}

	case events.FollowUpsAbsorbedEvent:
		for _, id := range msg.Added {
			m.ensure(id, "follow-up of "+msg.ParentID)
		}
		if len(msg.Dropped) > 0 {
			return m, m.appendLog(msg.ParentID, "follow-ups dropped: "+strings.Join(msg.Dropped, ", "))
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// ensure returns the state for id, registering it as pending when new.
func (m *SubTaskPaneModel) ensure(id, description string) *SubTaskState {
	if t, ok := m.tasks[id]; ok {
		return t
	}
	t := &SubTaskState{ID: id, Description: description, Status: StatePending}
	m.tasks[id] = t
	m.order = append(m.order, id)
	if len(m.order) == 1 {
		m.selectedIdx = 0
		m.updateViewportContent()
	}
	return t
}

// appendLog adds a line to a sub-task's log and schedules a debounced
// refresh when that sub-task is on screen.
func (m *SubTaskPaneModel) appendLog(id, line string) tea.Cmd {
	t, ok := m.tasks[id]
	if !ok {
		return nil
	}
	t.Log = append(t.Log, line)
	if m.selectedID() != id {
		return nil
	}
	m.updateTag++
	tag := m.updateTag
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{tag: tag}
	})
}

// View renders the sub-task pane.
func (m SubTaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 25
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m SubTaskPaneModel) renderList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Sub-tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Decomposing..."))
	}
	for i, id := range m.order {
		t := m.tasks[id]
		line := fmt.Sprintf("%s %s %s", StatusIcon(t.Status), id, truncate(t.Description, width-len(id)-4))
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case StateRunning:
		return StyleStatusRunning.Render("●")
	case StateAccepted:
		return StyleStatusComplete.Render("✓")
	case StateExhausted:
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m SubTaskPaneModel) selectedID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// Selected returns the state of the highlighted sub-task, if any.
func (m SubTaskPaneModel) Selected() (SubTaskState, bool) {
	t, ok := m.tasks[m.selectedID()]
	if !ok {
		return SubTaskState{}, false
	}
	return *t, true
}

func (m *SubTaskPaneModel) updateViewportContent() {
	t, ok := m.tasks[m.selectedID()]
	if !ok {
		m.viewport.SetContent("Waiting for sub-tasks...")
		return
	}
	header := fmt.Sprintf("%s: %s\n", t.ID, t.Description)
	m.viewport.SetContent(header + strings.Join(t.Log, "\n"))
	m.viewport.GotoBottom()
}

func (m *SubTaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-25-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *SubTaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *SubTaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

// truncate shortens s to n runes, collapsing newlines.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if n < 4 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
