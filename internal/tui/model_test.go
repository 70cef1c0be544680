package tui

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	job *model.AsyncJob
	err error
}

func (s stubSource) Status(_ context.Context, _, _ string) (*model.AsyncJob, error) {
	return s.job, s.err
}

func newTestModel(src StatusSource) Model {
	return NewModel(context.Background(), src, "tenant-1", "job-1", Options{})
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestModel_Fetch(t *testing.T) {
	job := &model.AsyncJob{ID: "job-1", Status: model.JobStatusRunning}
	m := newTestModel(stubSource{job: job})

	msg := m.fetch()()
	status, ok := msg.(jobStatusMsg)
	require.True(t, ok)
	assert.Same(t, job, status.job)
	assert.NoError(t, status.err)
}

func TestModel_RunningSchedulesNextPoll(t *testing.T) {
	m := newTestModel(stubSource{})
	job := &model.AsyncJob{ID: "job-1", JobType: model.JobTypeCheckBank, Status: model.JobStatusRunning, Processed: 3, Total: 6}

	m, cmd := update(t, m, jobStatusMsg{job: job})
	require.NotNil(t, cmd)
	assert.Equal(t, job, m.Job())

	view := m.View()
	assert.Contains(t, view, "running")
	assert.Contains(t, view, "3/6")
	assert.Contains(t, view, "check-bank")

	_, cmd = update(t, m, pollMsg{})
	require.NotNil(t, cmd)
	_, ok := cmd().(jobStatusMsg)
	assert.True(t, ok)
}

func TestModel_TerminalQuits(t *testing.T) {
	tests := []struct {
		name     string
		job      *model.AsyncJob
		contains []string
	}{
		{
			name: "done",
			job: &model.AsyncJob{
				ID: "job-1", JobType: model.JobTypeCheckBank, Status: model.JobStatusDone,
				Processed: 4, Total: 4, Result: json.RawMessage(`{"checked":4,"matched":2,"matches":[]}`),
			},
			contains: []string{"done", "4/4", "checked=4 matched=2"},
		},
		{
			name: "failed",
			job: &model.AsyncJob{
				ID: "job-1", JobType: model.JobTypeBudgetAnalyze, Status: model.JobStatusFailed,
				Error: "StatusError: provider returned 500",
			},
			contains: []string{"failed", "StatusError: provider returned 500"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, cmd := update(t, newTestModel(stubSource{}), jobStatusMsg{job: tt.job})
			assert.True(t, isQuit(cmd))
			assert.False(t, m.Detached())

			view := m.View()
			for _, s := range tt.contains {
				assert.Contains(t, view, s)
			}
		})
	}
}

func TestModel_StatusErrorQuits(t *testing.T) {
	m, cmd := update(t, newTestModel(stubSource{}), jobStatusMsg{err: errors.New("not found")})
	assert.True(t, isQuit(cmd))
	assert.EqualError(t, m.Err(), "not found")
	assert.Contains(t, m.View(), "not found")
}

func TestModel_QuitDetachesRunningJob(t *testing.T) {
	m := newTestModel(stubSource{})
	m, _ = update(t, m, jobStatusMsg{job: &model.AsyncJob{ID: "job-1", Status: model.JobStatusQueued}})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.True(t, isQuit(cmd))
	assert.True(t, m.Detached())
}

func TestModel_HelpToggle(t *testing.T) {
	m := newTestModel(stubSource{})
	assert.False(t, m.help.ShowAll)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})
	assert.Nil(t, cmd)
	assert.True(t, m.help.ShowAll)
	assert.Contains(t, m.View(), "refresh now")
}

func TestModel_WindowSize(t *testing.T) {
	m, _ := update(t, newTestModel(stubSource{}), tea.WindowSizeMsg{Width: 50, Height: 20})
	assert.Equal(t, 30, m.progress.Width)

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 200, Height: 20})
	assert.Equal(t, 60, m.progress.Width)
}

func TestSummarize(t *testing.T) {
	assert.Empty(t, summarize(nil))
	assert.Empty(t, summarize(json.RawMessage(`[1,2]`)))
	assert.Equal(t, "provider=none transactions=3", summarize(json.RawMessage(`{"transactions":3,"provider":"none","rows":[{}]}`)))
}
