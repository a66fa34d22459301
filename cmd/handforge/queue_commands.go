package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"handforge/internal/media"
	"handforge/internal/queue"
)

var statusTitle = cases.Title(language.English)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the conversion queue",
	}
	cmd.AddCommand(newQueueListCommand(ctx))
	cmd.AddCommand(newQueueStatsCommand(ctx))
	cmd.AddCommand(newQueueRetryCommand(ctx))
	cmd.AddCommand(newQueueRemoveCommand(ctx))
	cmd.AddCommand(newQueueClearCommand(ctx))
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var filter []queue.Status
			if statusFlag != "" {
				status, ok := queue.ParseStatus(statusFlag)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFlag)
				}
				filter = append(filter, status)
			}

			items, err := store.List(cmd.Context(), filter...)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					item.Job.ShortID(),
					statusTitle.String(string(item.Status)),
					item.Format,
					strconv.Itoa(item.Attempt),
					fmt.Sprintf("%.0f%%", item.ProgressPercent),
					item.SourcePath,
					formatDuration(item.DurationSeconds),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Job", "Status", "Format", "Attempt", "Progress", "Source", "Took"},
				rows, 3, 4, 6))
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status")
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			rows := [][]string{}
			for _, status := range []queue.Status{
				queue.StatusPending, queue.StatusRetrying, queue.StatusRunning,
				queue.StatusPaused, queue.StatusSucceeded, queue.StatusFailed,
				queue.StatusCancelled,
			} {
				if count := stats.ByStatus[status]; count > 0 {
					rows = append(rows, []string{statusTitle.String(string(status)), strconv.Itoa(count)})
				}
			}
			rows = append(rows, []string{"Total", strconv.Itoa(stats.Total)})
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows, 1))
			return nil
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	var safe bool

	cmd := &cobra.Command{
		Use:   "retry JOB_ID",
		Short: "Resubmit a failed or cancelled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			item, err := store.GetByJobID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if item.Status != queue.StatusFailed && item.Status != queue.StatusCancelled {
				return fmt.Errorf("job %s is %s, only failed or cancelled jobs can be retried",
					item.Job.ShortID(), item.Status)
			}

			var next media.Job
			if safe {
				next = item.Job.SafeRetry()
			} else {
				next = item.Job.NextAttempt()
			}
			resubmitted, err := store.AddRetry(cmd.Context(), next)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resubmitted as %s (attempt %d)\n",
				resubmitted.Job.ShortID(), resubmitted.Attempt)
			if safe {
				fmt.Fprintln(cmd.OutOrStdout(), "safe mode: converting to lossless wav")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&safe, "safe", false, "Retry as a lossless wav conversion")
	return cmd
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove JOB_ID",
		Short: "Remove a non-running item from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			item, err := store.GetByJobID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := store.Remove(cmd.Context(), item.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", item.Job.ShortID())
			return nil
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var completedOnly, failedOnly bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished items from the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var removed int64
			switch {
			case completedOnly:
				removed, err = store.ClearCompleted(cmd.Context())
			case failedOnly:
				removed, err = store.ClearFailed(cmd.Context())
			default:
				removed, err = store.Clear(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d items\n", removed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&completedOnly, "completed", false, "Only remove succeeded items")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only remove failed and cancelled items")
	cmd.MarkFlagsMutuallyExclusive("completed", "failed")
	return cmd
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	return time.Duration(seconds * float64(time.Second)).Round(time.Second).String()
}
