// Package tui renders a live view of a background job until it finishes.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/tui/themes"
)

// DefaultPollInterval is how often the watcher asks for job status.
const DefaultPollInterval = 500 * time.Millisecond

// StatusSource reports the current state of a job.
type StatusSource interface {
	Status(ctx context.Context, tenantID, jobID string) (*model.AsyncJob, error)
}

type jobStatusMsg struct {
	job *model.AsyncJob
	err error
}

type pollMsg struct{}

// Model is the bubbletea model for watching one job.
type Model struct {
	ctx          context.Context
	source       StatusSource
	job          *model.AsyncJob
	err          error
	theme        themes.Theme
	keymap       KeyMap
	help         help.Model
	progress     progress.Model
	spinner      spinner.Model
	tenantID     string
	jobID        string
	pollInterval time.Duration
	width        int
	detached     bool
}

// NewModel creates a watcher for jobID.
func NewModel(ctx context.Context, source StatusSource, tenantID, jobID string, opts Options) Model {
	opts = opts.withDefaults()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(opts.Theme.Primary)

	return Model{
		ctx:          ctx,
		source:       source,
		theme:        opts.Theme,
		keymap:       DefaultKeyMap(),
		help:         help.New(),
		progress:     progress.New(progress.WithGradient(string(opts.Theme.Primary), string(opts.Theme.Secondary)), progress.WithWidth(40)),
		spinner:      s,
		tenantID:     tenantID,
		jobID:        jobID,
		pollInterval: opts.PollInterval,
	}
}

// Job returns the last status received.
func (m Model) Job() *model.AsyncJob { return m.job }

// Err returns the error that stopped the watcher, if any.
func (m Model) Err() error { return m.err }

// Detached reports whether the user left before the job finished.
func (m Model) Detached() bool { return m.detached }

// Init starts the spinner and the first poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		job, err := m.source.Status(m.ctx, m.tenantID, m.jobID)
		return jobStatusMsg{job: job, err: err}
	}
}

func (m Model) schedule() tea.Cmd {
	return tea.Tick(m.pollInterval, func(time.Time) tea.Msg { return pollMsg{} })
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.Quit):
			m.detached = m.job == nil || !m.job.Status.IsTerminal()
			return m, tea.Quit
		case key.Matches(msg, m.keymap.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keymap.Refresh):
			return m, m.fetch()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.progress.Width = max(10, min(msg.Width-20, 60))

	case jobStatusMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.job = msg.job
		if m.job.Status.IsTerminal() {
			return m, tea.Quit
		}
		return m, m.schedule()

	case pollMsg:
		return m, m.fetch()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the job panel.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Job " + m.jobID))
	b.WriteString("\n")

	switch {
	case m.err != nil:
		b.WriteString(m.theme.StatusError.Render("✗ " + m.err.Error()))
	case m.job == nil:
		b.WriteString(m.spinner.View() + " " + m.theme.StatusPending.Render("loading"))
	default:
		b.WriteString(m.renderJob())
	}

	b.WriteString("\n\n")
	b.WriteString(m.help.View(m.keymap))
	return m.theme.RoundedBox.Render(b.String()) + "\n"
}

func (m Model) renderJob() string {
	job := m.job
	lines := []string{
		m.theme.Subtitle.Render("type: ") + m.theme.Code.Render(string(job.JobType)),
	}

	switch job.Status {
	case model.JobStatusQueued:
		lines = append(lines, m.spinner.View()+" "+m.theme.StatusPending.Render("queued"))
	case model.JobStatusRunning:
		lines = append(lines, m.spinner.View()+" "+m.theme.StatusInfo.Render("running"))
		lines = append(lines, m.renderProgress())
	case model.JobStatusDone:
		lines = append(lines, m.theme.StatusSuccess.Render("✓ done"))
		lines = append(lines, m.renderProgress())
		if summary := summarize(job.Result); summary != "" {
			lines = append(lines, m.theme.Normal.Render(summary))
		}
	case model.JobStatusFailed:
		lines = append(lines, m.theme.StatusError.Render("✗ failed"))
		if job.Error != "" {
			lines = append(lines, m.theme.Normal.Render(job.Error))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderProgress() string {
	if m.job.Total <= 0 {
		return m.theme.StatusPending.Render("waiting for first batch")
	}
	pct := float64(m.job.Processed) / float64(m.job.Total)
	return fmt.Sprintf("%s %d/%d", m.progress.ViewAs(min(pct, 1)), m.job.Processed, m.job.Total)
}

// summarize lists the scalar fields of a job result as key=value pairs.
func summarize(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		switch v.(type) {
		case string, float64, bool:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}
