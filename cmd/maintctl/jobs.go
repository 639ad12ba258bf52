package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/edvin/maintconsole/internal/backend"
	"github.com/edvin/maintconsole/internal/maintenance"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"job"},
		Short:   "Manage maintenance jobs",
	}
	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsGetCmd())
	cmd.AddCommand(newJobsScheduleCmd())
	cmd.AddCommand(newJobsStartCmd())
	cmd.AddCommand(newJobsWatchCmd())
	cmd.AddCommand(newJobsSetStatusCmd())
	cmd.AddCommand(newJobsReportCmd())
	return cmd
}

type jobListOutput struct {
	Items      []jobOutput `json:"items"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
	Total      int         `json:"total"`
}

func newJobsListCmd() *cobra.Command {
	var filter backend.JobFilter
	var from, to string
	var page, pageSize int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "refresh"},
		Short:   "List maintenance jobs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if filter.From, err = parseDate("from", from); err != nil {
				return err
			}
			if filter.To, err = parseDate("to", to); err != nil {
				return err
			}
			if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
				return errors.New("--to is before --from")
			}

			c, err := openSession()
			if err != nil {
				return err
			}
			defer c.Close()

			c.List.SetFilter(filter)
			c.List.SetPage(backend.Page{Number: page, Size: pageSize})
			if err := c.List.Refresh(cmd.Context()); err != nil {
				return describe(err)
			}

			info := c.List.Info()
			out := jobListOutput{
				Items:      []jobOutput{},
				Page:       info.Page,
				PageSize:   info.PageSize,
				TotalPages: info.TotalPages,
				Total:      info.Total,
			}
			for _, r := range c.List.Rows() {
				out.Items = append(out.Items, toJobOutput(r))
			}

			return render(out, func() {
				if len(out.Items) == 0 {
					fmt.Fprintln(stdout, "No jobs found.")
					return
				}
				printJobs(out.Items)
				fmt.Fprintf(stdout, "\npage %d of %d (%d jobs)\n", out.Page, out.TotalPages, out.Total)
			})
		},
	}

	cmd.Flags().StringVar(&filter.Title, "title", "", "Filter by title")
	cmd.Flags().StringVar(&filter.Database, "database", "", "Filter by database")
	cmd.Flags().StringVar(&filter.Status, "status", "", "Filter by backend status")
	cmd.Flags().StringVar(&from, "from", "", "Scheduled on or after (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "Scheduled on or before (YYYY-MM-DD or RFC3339)")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", backend.DefaultPageSize, "Jobs per page")
	return cmd
}

func newJobsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			c, err := openSession()
			if err != nil {
				return err
			}
			defer c.Close()

			row, err := c.List.Get(cmd.Context(), id)
			if err != nil {
				return describe(err)
			}
			out := toJobOutput(row)
			return render(out, func() { printJobs([]jobOutput{out}) })
		},
	}
}

func newJobsScheduleCmd() *cobra.Command {
	var req backend.ScheduleJobRequest
	var at string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a new maintenance job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduled, err := parseDate("at", at)
			if err != nil {
				return err
			}
			if scheduled == nil {
				return errors.New("--at is required")
			}
			req.ScheduledAt = *scheduled

			c, err := openSession()
			if err != nil {
				return err
			}
			defer c.Close()

			row, err := c.List.Schedule(cmd.Context(), req)
			if err != nil {
				return describe(err)
			}
			out := toJobOutput(row)
			return render(out, func() {
				fmt.Fprintf(stdout, "Scheduled job %d (%s) for %s.\n", out.ID, out.Title, out.ScheduledAt.Local().Format("2006-01-02 15:04"))
			})
		},
	}

	cmd.Flags().StringVar(&req.Title, "title", "", "Job title (required)")
	cmd.Flags().StringVar(&req.Database, "database", "", "Target database (required)")
	cmd.Flags().StringVar(&req.Description, "description", "", "Description")
	cmd.Flags().StringVar(&at, "at", "", "Scheduled time (YYYY-MM-DD or RFC3339, required)")
	cmd.Flags().BoolVar(&req.BackupRequested, "backup", false, "Take a backup before the maintenance")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("database")
	return cmd
}

type startOutput struct {
	Ack *backend.StartAck `json:"ack"`
	Job jobOutput         `json:"job"`
}

func newJobsStartCmd() *cobra.Command {
	var watch, plain bool

	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start a pending job",
		Long: `Start a pending job. The backend only acknowledges the request; use
--watch to follow the job until it succeeds or fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			c, err := openSession()
			if err != nil {
				return err
			}
			defer c.Close()

			// Subscribe first so no event after the acknowledgement is lost.
			if watch {
				if err := c.Tracker.Start(ctx); err != nil {
					return err
				}
			}

			row, err := c.List.Get(ctx, id)
			if err != nil {
				return describe(err)
			}
			ack, err := c.List.Start(ctx, id)
			if err != nil {
				if errors.Is(err, maintenance.ErrActionNotAllowed) {
					return fmt.Errorf("job %d is %s, only pending jobs can be started", id, row.State.Kind)
				}
				return describe(err)
			}

			if watch {
				fmt.Fprintf(stderr, "Job %d started.\n", id)
				return watchJob(ctx, c, id, row.Job.Title, plain)
			}

			current, _ := c.List.Row(id)
			out := startOutput{Ack: ack, Job: toJobOutput(current)}
			return render(out, func() {
				msg := ack.Message
				if msg == "" {
					msg = "start requested"
				}
				fmt.Fprintf(stdout, "Job %d: %s.\n", id, msg)
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow the job until it finishes")
	cmd.Flags().BoolVar(&plain, "plain", false, "Print one line per update instead of the progress view")
	return cmd
}

func newJobsWatchCmd() *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow a job's progress live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			c, err := openSession()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Tracker.Start(ctx); err != nil {
				return err
			}
			row, err := c.List.Get(ctx, id)
			if err != nil {
				return describe(err)
			}
			return watchJob(ctx, c, id, row.Job.Title, plain)
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Print one line per update instead of the progress view")
	return cmd
}

func newJobsSetStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Record a job's status on the backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			c, err := openSession()
			if err != nil {
				return err
			}
			defer c.Close()

			row, err := c.List.SetStatus(cmd.Context(), id, args[1])
			if err != nil {
				if errors.Is(err, maintenance.ErrInvalidStatus) {
					return fmt.Errorf("invalid status %q", args[1])
				}
				return describe(err)
			}
			out := toJobOutput(row)
			return render(out, func() { printJobs([]jobOutput{out}) })
		},
	}
}

func newJobsReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <id>",
		Short: "Generate the report of a succeeded job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			c, err := openSession()
			if err != nil {
				return err
			}
			defer c.Close()

			row, err := c.List.Get(cmd.Context(), id)
			if err != nil {
				return describe(err)
			}
			report, err := c.List.GenerateReport(cmd.Context(), id)
			if err != nil {
				if errors.Is(err, maintenance.ErrActionNotAllowed) {
					return fmt.Errorf("job %d is %s, reports are only available for succeeded jobs", id, row.State.Kind)
				}
				return describe(err)
			}
			return render(report, func() {
				fmt.Fprintf(stdout, "Report for job %d: %s\n", report.JobID, report.URL)
			})
		},
	}
}

func parseJobID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return id, nil
}

// parseDate accepts RFC3339 or a plain date in local time. Empty yields nil.
func parseDate(flag, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", time.DateOnly} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid --%s %q: use YYYY-MM-DD, \"YYYY-MM-DD HH:MM\" or RFC3339", flag, s)
}

// describe turns backend errors into messages for the terminal.
func describe(err error) error {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, backend.ErrSessionExpired):
		return errNotLoggedIn
	case backend.IsForbidden(err):
		return errors.New("permission denied")
	case backend.IsNotFound(err):
		return errors.New("job not found")
	case backend.IsUnreachable(err):
		return fmt.Errorf("could not reach server: %w", err)
	case errors.As(err, &apiErr):
		return errors.New(apiErr.Message)
	}
	return err
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
