package tui

import (
	"fmt"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/quorum/internal/config"
)

// SettingsPaneModel is a form overlay for the engine policy and worker role.
// Changes are saved to a config file and apply to the next run.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.QuorumConfig
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	fields *settingsFields
}

// settingsFields holds the form bindings. It lives behind a pointer so the
// bindings survive the model being copied by Bubble Tea.
type settingsFields struct {
	saveTarget        string
	maxAttempts       string
	acceptThreshold   string
	judges            string
	concurrencyLimit  string
	maxGraphSize      string
	maxExpansionDepth string
	workerProvider    string
	workerModel       string
}

// NewSettingsPaneModel creates a settings pane seeded from cfg.
func NewSettingsPaneModel(cfg *config.QuorumConfig, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
		fields:      &settingsFields{},
	}
	m.loadFields()
	m.buildForm()
	return m
}

func (m *SettingsPaneModel) loadFields() {
	e := m.config.Engine
	m.fields.saveTarget = "global"
	m.fields.maxAttempts = strconv.Itoa(e.MaxAttempts)
	m.fields.acceptThreshold = strconv.FormatFloat(e.AcceptThreshold, 'f', -1, 64)
	m.fields.judges = strconv.Itoa(e.Judges)
	m.fields.concurrencyLimit = strconv.Itoa(e.ConcurrencyLimit)
	m.fields.maxGraphSize = strconv.Itoa(e.MaxGraphSize)
	m.fields.maxExpansionDepth = strconv.Itoa(e.MaxExpansionDepth)
	m.fields.workerProvider = m.config.Roles[config.RoleWorker].Provider
	m.fields.workerModel = m.config.Roles[config.RoleWorker].Model
}

func intField(minimum int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("not a whole number")
		}
		if n < minimum {
			return fmt.Errorf("must be >= %d", minimum)
		}
		return nil
	}
}

func thresholdField(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f > 10 {
		return fmt.Errorf("must be a number in [0, 10]")
	}
	return nil
}

func (m *SettingsPaneModel) providerField(s string) error {
	if _, ok := m.config.Providers[s]; !ok {
		return fmt.Errorf("unknown provider %q", s)
	}
	return nil
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global (~/.quorum/config.json)", "global"),
					huh.NewOption("Project (.quorum/config.json)", "project"),
				).
				Value(&m.fields.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("maxAttempts").
				Title("Max Attempts").
				Value(&m.fields.maxAttempts).
				Validate(intField(1)),

			huh.NewInput().
				Key("acceptThreshold").
				Title("Acceptance Threshold").
				Value(&m.fields.acceptThreshold).
				Validate(thresholdField),

			huh.NewInput().
				Key("judges").
				Title("Judges").
				Value(&m.fields.judges).
				Validate(intField(1)),
		).Title("Attempt Policy"),

		huh.NewGroup(
			huh.NewInput().
				Key("concurrencyLimit").
				Title("Concurrency Limit (0 = unbounded)").
				Value(&m.fields.concurrencyLimit).
				Validate(intField(0)),

			huh.NewInput().
				Key("maxGraphSize").
				Title("Max Graph Size").
				Value(&m.fields.maxGraphSize).
				Validate(intField(1)),

			huh.NewInput().
				Key("maxExpansionDepth").
				Title("Max Follow-up Depth").
				Value(&m.fields.maxExpansionDepth).
				Validate(intField(0)),
		).Title("Scheduling"),

		huh.NewGroup(
			huh.NewInput().
				Key("workerProvider").
				Title("Worker Provider").
				Value(&m.fields.workerProvider).
				Validate(m.providerField).
				Placeholder("claude"),

			huh.NewInput().
				Key("workerModel").
				Title("Worker Model").
				Value(&m.fields.workerModel),
		).Title("Worker Role"),
	)
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == KeyEsc {
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.err = m.save()
		m.saved = m.err == nil
		if m.saved {
			m.visible = false
		}
	}

	return m, cmd
}

// save validates the edited config before writing it, leaving the
// in-memory config untouched on failure.
func (m *SettingsPaneModel) save() error {
	next := *m.config
	next.Roles = make(map[string]config.RoleConfig, len(m.config.Roles))
	for k, v := range m.config.Roles {
		next.Roles[k] = v
	}
	if err := m.applyForm(&next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	path := m.globalPath
	if m.fields.saveTarget == "project" {
		path = m.projectPath
	}
	if err := config.Save(&next, path); err != nil {
		return err
	}
	*m.config = next
	return nil
}

// applyForm copies form field values into cfg.
func (m *SettingsPaneModel) applyForm(cfg *config.QuorumConfig) error {
	var err error
	e := &cfg.Engine
	if e.MaxAttempts, err = strconv.Atoi(m.fields.maxAttempts); err != nil {
		return fmt.Errorf("max attempts: %w", err)
	}
	if e.AcceptThreshold, err = strconv.ParseFloat(m.fields.acceptThreshold, 64); err != nil {
		return fmt.Errorf("acceptance threshold: %w", err)
	}
	if e.Judges, err = strconv.Atoi(m.fields.judges); err != nil {
		return fmt.Errorf("judges: %w", err)
	}
	if e.ConcurrencyLimit, err = strconv.Atoi(m.fields.concurrencyLimit); err != nil {
		return fmt.Errorf("concurrency limit: %w", err)
	}
	if e.MaxGraphSize, err = strconv.Atoi(m.fields.maxGraphSize); err != nil {
		return fmt.Errorf("max graph size: %w", err)
	}
	if e.MaxExpansionDepth, err = strconv.Atoi(m.fields.maxExpansionDepth); err != nil {
		return fmt.Errorf("max follow-up depth: %w", err)
	}

	worker := cfg.Roles[config.RoleWorker]
	worker.Provider = m.fields.workerProvider
	worker.Model = m.fields.workerModel
	cfg.Roles[config.RoleWorker] = worker
	return nil
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	switch {
	case m.err != nil:
		content = StyleStatusFailed.Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	default:
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Engine Settings (applies to the next run)")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil
	if v {
		m.loadFields()
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last form submission was written.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
