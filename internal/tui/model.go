package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/quorum/internal/config"
	"github.com/aristath/quorum/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneSubTasks PaneID = iota
	PaneRun
	PaneGraph
)

const paneCount = 3

// Model is the root Bubble Tea model for the live run view.
type Model struct {
	subTaskPane  SubTaskPaneModel
	runPane      RunPaneModel
	graphPane    GraphPaneModel
	settingsPane SettingsPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
	showSettings bool
}

// New creates a new TUI model.
// It subscribes to all events from the event bus using SubscribeAll.
func New(eventBus *events.EventBus, cfg *config.QuorumConfig, globalPath, projectPath string) Model {
	return Model{
		subTaskPane:  NewSubTaskPaneModel(),
		runPane:      NewRunPaneModel(),
		graphPane:    NewGraphPaneModel(),
		settingsPane: NewSettingsPaneModel(cfg, globalPath, projectPath),
		focusedPane:  PaneSubTasks,
		eventSub:     eventBus.SubscribeAll(256),
	}
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// The settings overlay is modal
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
			if !m.settingsPane.IsVisible() {
				m.showSettings = false
			}
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeySettings:
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			m.settingsPane.SetSize(m.width, m.height)
			cmds = append(cmds, m.settingsPane.Init())

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneSubTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneRun
			m.updateFocusStates()

		case KeyPane3:
			m.focusedPane = PaneGraph
			m.updateFocusStates()

		default:
			var cmd tea.Cmd
			switch m.focusedPane {
			case PaneSubTasks:
				m.subTaskPane, cmd = m.subTaskPane.Update(msg)
			case PaneRun:
				m.runPane, cmd = m.runPane.Update(msg)
			case PaneGraph:
				m.graphPane, cmd = m.graphPane.Update(msg)
			}
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case tickMsg:
		var cmd tea.Cmd
		m.subTaskPane, cmd = m.subTaskPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.Event:
		cmds = append(cmds, m.routeEvent(msg)...)
		cmds = append(cmds, waitForEvent(m.eventSub))

	default:
		// Non-key messages still drive the settings form while it is open
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// routeEvent forwards an engine event to the panes that display its topic.
func (m *Model) routeEvent(event events.Event) []tea.Cmd {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch event.Topic() {
	case events.TopicRun:
		m.runPane, cmd = m.runPane.Update(event)
		cmds = append(cmds, cmd)
		m.subTaskPane, cmd = m.subTaskPane.Update(event)
		cmds = append(cmds, cmd)
		m.graphPane, cmd = m.graphPane.Update(event)
		cmds = append(cmds, cmd)

	case events.TopicSubTask, events.TopicAttempt:
		m.subTaskPane, cmd = m.subTaskPane.Update(event)
		cmds = append(cmds, cmd)

	case events.TopicGraph:
		m.graphPane, cmd = m.graphPane.Update(event)
		cmds = append(cmds, cmd)
		m.subTaskPane, cmd = m.subTaskPane.Update(event)
		cmds = append(cmds, cmd)
	}

	return cmds
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.showSettings {
		return m.settingsPane.View()
	}

	rightPane := lipgloss.JoinVertical(lipgloss.Left, m.runPane.View(), m.graphPane.View())
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.subTaskPane.View(), rightPane)

	return lipgloss.JoinVertical(lipgloss.Left, mainContent, HelpView(m.runPane.Done()))
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 50) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // help bar
	rightTopHeight := (availableHeight * 60) / 100
	rightBottomHeight := availableHeight - rightTopHeight

	m.subTaskPane.SetSize(leftWidth, availableHeight)
	m.runPane.SetSize(rightWidth, rightTopHeight)
	m.graphPane.SetSize(rightWidth, rightBottomHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.subTaskPane.SetFocused(m.focusedPane == PaneSubTasks)
	m.runPane.SetFocused(m.focusedPane == PaneRun)
	m.graphPane.SetFocused(m.focusedPane == PaneGraph)
}
