package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/campaignsync/internal/app"
	apperrors "github.com/kimhsiao/campaignsync/internal/errors"
	"github.com/kimhsiao/campaignsync/internal/ids"
	"github.com/kimhsiao/campaignsync/internal/models"
	"github.com/kimhsiao/campaignsync/internal/sync/queue"
)

func queueCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit queued requests",
	}
	cmd.AddCommand(queueListCmd(gf))
	cmd.AddCommand(queueStatsCmd(gf))
	cmd.AddCommand(queuePruneCmd(gf))
	cmd.AddCommand(queueRetryCmd(gf))
	cmd.AddCommand(queueRemoveCmd(gf))
	return cmd
}

func queueListCmd(gf *globalFlags) *cobra.Command {
	var (
		asJSON bool
		kind   string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List queued requests in drain order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(_ context.Context, a *app.App) error {
				reqs := a.Queue.List()
				if kind != "" {
					k, err := models.ParseKind(kind)
					if err != nil {
						return apperrors.Wrap(apperrors.ErrValidation, "invalid --kind", err)
					}
					reqs = filterKind(reqs, k)
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), reqs)
				}
				if len(reqs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), muted("queue is empty"))
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), requestTable(reqs, a.Queue.SyncErrors(), time.Now()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	cmd.Flags().StringVar(&kind, "kind", "", "Only show one kind: "+kindNames())
	return cmd
}

func kindNames() string {
	names := make([]string, len(models.Kinds))
	for i, k := range models.Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func filterKind(reqs []*models.QueuedRequest, kind models.RequestKind) []*models.QueuedRequest {
	out := reqs[:0:0]
	for _, r := range reqs {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// checkRequestID rejects ids that could not have come from the queue.
func checkRequestID(id string) error {
	kind, _, err := ids.ParseRequestID(id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "malformed request id", err)
	}
	if _, err := models.ParseKind(kind); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "malformed request id", err)
	}
	return nil
}

func requestTable(reqs []*models.QueuedRequest, syncErrors map[string]string, now time.Time) string {
	rows := make([][]string, len(reqs))
	for i, r := range reqs {
		lastErr := syncErrors[r.ID]
		if lastErr == "" {
			lastErr = "-"
		}
		rows[i] = []string{
			r.ID,
			string(r.Kind),
			r.Metadata.ResourceID,
			strconv.Itoa(r.Metadata.Priority),
			strconv.Itoa(r.Metadata.RetryCount),
			now.Sub(time.UnixMilli(r.CreatedAt)).Truncate(time.Second).String(),
			lastErr,
		}
	}
	return renderTable(
		[]string{"ID", "Kind", "Resource", "Priority", "Retries", "Age", "Last error"},
		rows,
	)
}

func queueStatsCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(_ context.Context, a *app.App) error {
				return printJSON(cmd.OutOrStdout(), a.Queue.Stats())
			})
		},
	}
}

func queuePruneCmd(gf *globalFlags) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop requests older than --max-age without reconciling them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app.App) error {
				n, err := a.Queue.Cleanup(ctx, maxAge)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d request(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", queue.DefaultMaxAge, "Maximum request age")
	return cmd
}

func queueRetryCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <request-id>",
		Short: "Clear the backoff wait of a failed request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app.App) error {
				if err := checkRequestID(args[0]); err != nil {
					return err
				}
				return a.Queue.RetryNow(ctx, args[0])
			})
		},
	}
}

func queueRemoveCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <request-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a request without rolling back its optimistic state",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app.App) error {
				if err := checkRequestID(args[0]); err != nil {
					return err
				}
				return a.Queue.Remove(ctx, args[0])
			})
		},
	}
}

func drainCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Run one drain cycle and print the outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, gf, func(ctx context.Context, a *app.App) error {
				outcomes, err := a.Loop.Trigger(ctx)
				if err != nil {
					return err
				}
				if len(outcomes) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), muted("nothing to drain"))
					return nil
				}
				rows := make([][]string, len(outcomes))
				for i, o := range outcomes {
					rows[i] = []string{
						o.RequestID,
						string(o.Kind),
						o.ResourceID,
						outcomeText(o.Status),
						strconv.FormatBool(o.Batched),
						strconv.Itoa(o.RetryCount),
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Kind", "Resource", "Status", "Batched", "Retries"},
					rows,
				))
				return nil
			})
		},
	}
}
