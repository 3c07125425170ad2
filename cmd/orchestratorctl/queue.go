package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/garyjia/sms-orchestrator/internal/container"
)

var sweepJobs = map[string]string{
	"approvals": container.JobApprovalTimeouts,
	"timeouts":  container.JobResponseTimeouts,
	"cleanup":   container.JobCleanup,
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "sweep {approvals|timeouts|cleanup}",
		Short:     "Run one periodic sweep now",
		Long:      "Runs an approval timeout, response timeout or cleanup sweep once, outside the scheduler.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"approvals", "timeouts", "cleanup"},
		RunE: func(cmd *cobra.Command, args []string) error {
			job := sweepJobs[args[0]]
			return opts.withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
				start := time.Now()
				if err := c.Sweeps().RunNow(ctx, job); err != nil {
					return fmt.Errorf("sweep %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sweep %s finished in %s\n", args[0], time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}

func newPendingCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List replies waiting for manager approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
				entries, err := c.Services().Approval.GetPending(ctx)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.ErrOrStderr(), "No pending approvals")
					return nil
				}
				return opts.print(cmd.OutOrStdout(), entries)
			})
		},
	}
}

func newAuditCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the approval audit log",
	}
	cmd.AddCommand(newAuditListCmd(opts))
	cmd.AddCommand(newAuditExportCmd(opts))
	return cmd
}

func newAuditListCmd(opts *rootOptions) *cobra.Command {
	var queueID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print audit log entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
				logs, err := c.Services().Approval.GetAuditLogs(ctx, queueID)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), logs)
			})
		},
	}

	cmd.Flags().StringVar(&queueID, "queue-id", "", "only entries for this approval queue id")
	return cmd
}

func newAuditExportCmd(opts *rootOptions) *cobra.Command {
	var (
		queueID string
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the audit log to an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
				data, err := c.Services().Approval.ExportAuditLogs(ctx, queueID)
				if err != nil {
					return err
				}
				if outPath == "" {
					outPath = fmt.Sprintf("approval-audit-logs-%s.xlsx", time.Now().UTC().Format("20060102"))
				}
				if err := os.WriteFile(outPath, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", outPath, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(data), outPath)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&queueID, "queue-id", "", "only entries for this approval queue id")
	cmd.Flags().StringVarP(&outPath, "file", "f", "", "output file (default approval-audit-logs-<date>.xlsx)")
	return cmd
}
