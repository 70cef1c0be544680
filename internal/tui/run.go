package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/tui/themes"
)

// Options configures the watcher.
type Options struct {
	Input        io.Reader
	Output       io.Writer
	Theme        themes.Theme
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Theme.Primary == "" {
		o.Theme = themes.Default
	}
	return o
}

// Watch shows the job until it finishes or the user detaches. It returns the
// last status seen; a detached watch leaves the job running.
func Watch(ctx context.Context, source StatusSource, tenantID, jobID string, opts Options) (*model.AsyncJob, error) {
	programOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.Input != nil {
		programOpts = append(programOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		programOpts = append(programOpts, tea.WithOutput(opts.Output))
	}

	p := tea.NewProgram(NewModel(ctx, source, tenantID, jobID, opts), programOpts...)
	final, err := p.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("job watcher: %w", err)
	}

	m, ok := final.(Model)
	if !ok {
		return nil, fmt.Errorf("job watcher: unexpected model %T", final)
	}
	return m.Job(), m.Err()
}
