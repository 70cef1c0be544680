package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/deknijf/documentstore/internal/cli"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/deknijf/documentstore/internal/tui"
	"github.com/deknijf/documentstore/internal/tui/themes"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run and inspect background jobs",
	}
	addFollowFlags(cmd)

	run := &cobra.Command{
		Use:   "run <check-bank|budget-analyze>",
		Short: "Start a job and follow it until it finishes",
		Long: `Start a background job. If the tenant already has a queued or running
job of the same type, that job is followed instead of starting another.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			_, err = startAndFollow(cmd, a, model.JobType(args[0]))
			return err
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.store.ListJobs(cmd.Context(), a.cfg.Tenant, limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(list))
			for _, job := range list {
				rows = append(rows, []string{
					job.ID,
					string(job.JobType),
					formatJobStatus(job.Status),
					fmt.Sprintf("%d/%d", job.Processed, job.Total),
					job.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable([]string{"ID", "Type", "Status", "Progress", "Created"}, rows))
			return nil
		},
	}
	list.Flags().Int("limit", 20, "maximum number of jobs to show")

	status := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := a.service.GetJobStatus(cmd.Context(), a.cfg.Tenant, args[0])
			if err != nil {
				return err
			}
			return printJob(cmd.OutOrStdout(), job)
		},
	}

	watch := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a running job until it finishes",
		Long: `Follow a job until it finishes. The worker runs in the docstore process
that started it; watch polls the progress that process records in the
database, so any invocation can follow it. Detaching never stops the job.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := follow(cmd, a, args[0])
			if err != nil {
				return err
			}
			return printJob(cmd.OutOrStdout(), job)
		},
	}

	cmd.AddCommand(run, list, status, watch)
	return cmd
}

// addFollowFlags registers the flags read by follow on cmd and its children.
func addFollowFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool("plain", false, "print a progress bar instead of the interactive view")
	cmd.PersistentFlags().String("theme", "default", "color theme for the job view (default, catppuccin)")
}

// startAndFollow starts jobType and blocks until it is terminal.
func startAndFollow(cmd *cobra.Command, a *app, jobType model.JobType) (*model.AsyncJob, error) {
	ctx := cmd.Context()
	started, err := a.service.StartBatchJob(ctx, a.cfg.Tenant, currentUser(), jobType)
	if err != nil {
		return nil, err
	}

	out := cmd.OutOrStdout()
	if started.Reused {
		_, _ = fmt.Fprintln(out, cli.FormatWarning("Job already active, following "+started.JobID))
	} else {
		_, _ = fmt.Fprintln(out, cli.FormatInfo("Started job "+started.JobID))
	}

	job, err := follow(cmd, a, started.JobID)
	if err != nil {
		return nil, err
	}
	if err := printJob(out, job); err != nil {
		return nil, err
	}
	if job.Status == model.JobStatusFailed {
		return job, fmt.Errorf("job %s failed", job.ID)
	}
	return job, nil
}

// follow shows the job until it is terminal. Detaching from the interactive
// view falls back to waiting when the worker lives in this process; a job
// owned by another process is left running.
func follow(cmd *cobra.Command, a *app, jobID string) (*model.AsyncJob, error) {
	ctx := cmd.Context()
	plain, _ := cmd.Flags().GetBool("plain")
	themeName, _ := cmd.Flags().GetString("theme")

	if !plain {
		job, err := tui.Watch(ctx, a.supervisor, a.cfg.Tenant, jobID, tui.Options{
			Output: cmd.OutOrStdout(),
			Theme:  themes.ByName(themeName),
		})
		if err != nil {
			return nil, err
		}
		if job != nil && job.Status.IsTerminal() {
			return job, nil
		}
		if job != nil && job.Owner != a.supervisor.Owner() {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Detached; the job keeps running in the process that started it"))
			return job, nil
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Detached; waiting for the job to finish (Ctrl+C to stop waiting)"))
	}
	return followPlain(ctx, cmd.ErrOrStderr(), a, jobID)
}

func followPlain(ctx context.Context, w io.Writer, a *app, jobID string) (*model.AsyncJob, error) {
	bar := cli.NewProgress(w, "job "+jobID)
	defer bar.Finish()

	ticker := time.NewTicker(tui.DefaultPollInterval)
	defer ticker.Stop()
	for {
		job, err := a.supervisor.Status(ctx, a.cfg.Tenant, jobID)
		if err != nil {
			return nil, err
		}
		bar.Update(job.Processed, job.Total)
		if job.Status.IsTerminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJob(w io.Writer, job *model.AsyncJob) error {
	rows := [][]string{
		{"ID", job.ID},
		{"Type", string(job.JobType)},
		{"Status", formatJobStatus(job.Status)},
		{"Progress", strconv.Itoa(job.Processed) + "/" + strconv.Itoa(job.Total)},
	}
	if job.Error != "" {
		rows = append(rows, []string{"Error", cli.ErrorStyle.Render(job.Error)})
	}
	if len(job.Result) > 0 && job.Status == model.JobStatusDone {
		var pretty any
		if err := json.Unmarshal(job.Result, &pretty); err == nil {
			if data, err := json.MarshalIndent(pretty, "", "  "); err == nil && len(data) < 2048 {
				rows = append(rows, []string{"Result", string(data)})
			}
		}
	}
	_, err := fmt.Fprintln(w, cli.RenderTable([]string{"Job", ""}, rows))
	return err
}

func formatJobStatus(status model.JobStatus) string {
	switch status {
	case model.JobStatusDone:
		return cli.SuccessStyle.Render(string(status))
	case model.JobStatusFailed:
		return cli.ErrorStyle.Render(string(status))
	case model.JobStatusRunning:
		return cli.InfoStyle.Render(string(status))
	default:
		return cli.SubtleStyle.Render(string(status))
	}
}

// currentUser identifies who started a job.
func currentUser() string {
	if user := viper.GetString("user"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "cli"
}
