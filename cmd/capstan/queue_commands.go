package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"capstan/internal/api"
	"capstan/internal/queueaccess"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the release queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueHealthSubcommand(ctx))
	queueCmd.AddCommand(newQueueDescribeCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueClearFailedCommand(ctx))
	queueCmd.AddCommand(newQueueResetCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueStopCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the queue by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(qctx context.Context, q queueaccess.Access) error {
				stats, err := q.Stats(qctx)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, api.QueueStatsResponse{Counts: stats})
				}
				out := cmd.OutOrStdout()
				rows := buildQueueStatusRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprint(out, table)
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(qctx context.Context, q queueaccess.Access) error {
				items, err := q.List(qctx, statusFilters)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, api.QueueListResponse{Items: items})
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable(
					[]string{"ID", "Release", "Status", "Created", "Requester"},
					buildQueueListRows(items),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statusFilters, "status", "s", nil, "Filter by queue status (repeatable)")
	return cmd
}

func newQueueDescribeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <itemID>",
		Short: "Show full detail for a queue item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			return ctx.withQueue(cmd.Context(), func(qctx context.Context, q queueaccess.Access) error {
				item, err := q.Describe(qctx, id)
				if err != nil {
					return err
				}
				if item == nil {
					return fmt.Errorf("queue item %d not found", id)
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, item)
				}
				printQueueItemDetail(cmd, item)
				return nil
			})
		},
	}
}

func printQueueItemDetail(cmd *cobra.Command, item *api.QueueItem) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID: %d\n", item.ID)
	fmt.Fprintf(out, "Release: %s\n", formatReleaseName(*item))
	fmt.Fprintf(out, "Status: %s\n", formatStatusLabel(item.Status))
	if item.Channel != "" {
		fmt.Fprintf(out, "Channel: %s\n", item.Channel)
	}
	if item.Environment != "" {
		fmt.Fprintf(out, "Environment: %s\n", item.Environment)
	}
	if item.TriggerKind != "" {
		trigger := item.TriggerKind
		if item.TriggerScope != "" {
			trigger += " (" + item.TriggerScope + ")"
		}
		if item.Requester != "" {
			trigger += " by " + item.Requester
		}
		fmt.Fprintf(out, "Trigger: %s\n", trigger)
	}
	if stage := strings.TrimSpace(item.Progress.Stage); stage != "" {
		progress := stage
		if item.Progress.Percent > 0 {
			progress = fmt.Sprintf("%s (%.0f%%)", stage, item.Progress.Percent)
		}
		if msg := strings.TrimSpace(item.Progress.Message); msg != "" {
			progress += " - " + msg
		}
		fmt.Fprintf(out, "Progress: %s\n", progress)
	}
	if item.RunID != "" {
		fmt.Fprintf(out, "Run: %s\n", item.RunID)
	}
	if item.AttestationID != "" {
		fmt.Fprintf(out, "Attestation: %s\n", item.AttestationID)
	}
	if item.ReleaseURL != "" {
		fmt.Fprintf(out, "Release URL: %s\n", item.ReleaseURL)
	}
	if item.EvidencePath != "" {
		fmt.Fprintf(out, "Evidence: %s\n", item.EvidencePath)
	}
	if item.LogPath != "" {
		fmt.Fprintf(out, "Log: %s\n", item.LogPath)
	}
	if item.NeedsReview {
		reason := item.ReviewReason
		if reason == "" {
			reason = "unspecified"
		}
		fmt.Fprintf(out, "Review: %s\n", reason)
	}
	if item.ErrorMessage != "" {
		fmt.Fprintf(out, "Error: %s\n", item.ErrorMessage)
	}
	if item.CreatedAt != "" {
		fmt.Fprintf(out, "Created: %s\n", formatDisplayTime(item.CreatedAt))
	}
	if item.UpdatedAt != "" {
		fmt.Fprintf(out, "Updated: %s\n", formatDisplayTime(item.UpdatedAt))
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearCompleted bool
	var clearFailed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearCompleted && clearFailed {
				return errors.New("specify only one of --published or --failed")
			}
			return ctx.withQueue(cmd.Context(), func(qctx context.Context, q queueaccess.Access) error {
				out := cmd.OutOrStdout()
				switch {
				case clearCompleted:
					removed, err := q.ClearCompleted(qctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d published items\n", removed)
				case clearFailed:
					removed, err := q.ClearFailed(qctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d failed items\n", removed)
				default:
					removed, err := q.ClearAll(qctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared %d queue items\n", removed)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearCompleted, "published", false, "Remove only published items")
	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove only failed items")
	return cmd
}

// Standalone form of "clear --failed".
func newQueueClearFailedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-failed",
		Short: "Remove failed queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(qctx context.Context, q queueaccess.Access) error {
				removed, err := q.ClearFailed(qctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d failed items\n", removed)
				return nil
			})
		},
	}
}

// reset-stuck recovers items a crashed daemon left in a processing status.
func newQueueResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stuck",
		Short: "Return in-flight items to their last settled status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(qctx context.Context, q queueaccess.Access) error {
				updated, err := q.ResetStuck(qctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d items\n", updated)
				return nil
			})
		},
	}
}

// retry requeues failed or review items, all of them or by id.
func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [itemID...]",
		Short: "Retry failed or review queue items",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}

			return ctx.withQueue(cmd.Context(), func(qctx context.Context, q queueaccess.Access) error {
				out := cmd.OutOrStdout()
				if len(ids) == 0 {
					updated, err := q.RetryAll(qctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Retried %d items\n", updated)
					return nil
				}

				items, err := q.List(qctx, nil)
				if err != nil {
					return err
				}
				itemsByID := make(map[int64]api.QueueItem, len(items))
				for _, item := range items {
					itemsByID[item.ID] = item
				}

				for _, id := range ids {
					item, ok := itemsByID[id]
					if !ok {
						fmt.Fprintf(out, "Item %d not found\n", id)
						continue
					}
					status := strings.ToLower(strings.TrimSpace(item.Status))
					if status != "failed" && status != "review" {
						fmt.Fprintf(out, "Item %d is not in a retryable state\n", id)
						continue
					}
					updated, retryErr := q.Retry(qctx, []int64{id})
					if retryErr != nil {
						return retryErr
					}
					if updated > 0 {
						fmt.Fprintf(out, "Item %d reset for retry\n", id)
					} else {
						fmt.Fprintf(out, "Item %d is not in a retryable state\n", id)
					}
				}
				return nil
			})
		},
	}
}

func newQueueStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <itemID...>",
		Short: "Park queue items at the review gate",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withQueue(cmd.Context(), func(qctx context.Context, q queueaccess.Access) error {
				updated, err := q.Stop(qctx, ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stopped %d items\n", updated)
				return nil
			})
		},
	}
}

// health prints the counters the daemon derives for queue health.
func newQueueHealthSubcommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue health summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(cmd.Context(), func(qctx context.Context, q queueaccess.Access) error {
				health, err := q.Health(qctx)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, health)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Total: %d\nPending: %d\nProcessing: %d\nFailed: %d\nReview: %d\nPublished: %d\n",
					health.Total,
					health.Pending,
					health.Processing,
					health.Failed,
					health.Review,
					health.Published,
				)
				return nil
			})
		},
	}
}

func parsePositiveIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid item id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
