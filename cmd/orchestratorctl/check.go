package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/container"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe downstream dependencies",
	}
	cmd.AddCommand(newCheckOpenAICmd(opts))
	cmd.AddCommand(newCheckNotificationCmd(opts))
	cmd.AddCommand(newCheckHealthCmd(opts))
	return cmd
}

func newCheckOpenAICmd(opts *rootOptions) *cobra.Command {
	var (
		message  string
		language string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "openai",
		Short: "Generate one reply to verify the OpenAI connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				tenant := entity.TenantContext{
					TenantID:              "connectivity-check",
					HasOutstandingBalance: true,
					OutstandingBalance:    250,
					LanguagePreference:    language,
				}
				start := time.Now()
				resp, err := c.External().Generator.Generate(ctx, port.GenerationRequest{
					TenantMessage: message,
					Tenant:        tenant,
					Language:      language,
				})
				if err != nil {
					return fmt.Errorf("generation failed: %w", err)
				}

				score := c.External().Scorer.Score(resp.Text, tenant, nil, resp.Language)
				return opts.print(cmd.OutOrStdout(), map[string]interface{}{
					"model":      resp.Model,
					"language":   resp.Language,
					"reply":      resp.Text,
					"tokens":     resp.TotalTokens(),
					"latency_ms": time.Since(start).Milliseconds(),
					"confidence": score.StringFixed(3),
					"routing":    c.Services().Approval.RouteResponse(score).String(),
				})
			})
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "Hi, when is my payment due?", "tenant message to reply to")
	cmd.Flags().StringVar(&language, "language", entity.LanguageEnglish, "reply language code")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "generation timeout")
	return cmd
}

func newCheckNotificationCmd(opts *rootOptions) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "notification",
		Short: "Send a test alert through every configured manager channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
				now := time.Now().UTC()
				payload := &entity.NotificationPayload{
					Type:         entity.NotificationType(kind),
					Priority:     entity.PriorityLow,
					Subject:      "Orchestrator notification test",
					WorkflowID:   "notification-check",
					TenantID:     "connectivity-check",
					ResponseText: "This is a test alert sent by orchestratorctl. No action is needed.",
					CreatedAt:    now,
				}
				if err := c.Services().Notification.Send(ctx, payload); err != nil {
					return fmt.Errorf("send via %s: %w", c.External().Notifier.Name(), err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Test %s alert delivered via %s\n", kind, c.External().Notifier.Name())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "type", string(entity.NotificationEscalation), "notification type to send")
	return cmd
}

// newTestNotificationCmd is the top-level shorthand for "check notification".
func newTestNotificationCmd(opts *rootOptions) *cobra.Command {
	cmd := newCheckNotificationCmd(opts)
	cmd.Use = "test-notification"
	return cmd
}

func newCheckHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report database, lock and circuit breaker health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
				health := c.Health(ctx)
				if err := opts.print(cmd.OutOrStdout(), health); err != nil {
					return err
				}
				if !health.Overall {
					return fmt.Errorf("one or more components unhealthy")
				}
				return nil
			})
		},
	}
}

func newScoreCmd(opts *rootOptions) *cobra.Command {
	var (
		tenant   entity.TenantContext
		previous []string
	)

	cmd := &cobra.Command{
		Use:   "score <reply text>",
		Short: "Show the confidence breakdown and routing for a reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
				history := make([]entity.ConversationMessage, 0, len(previous))
				for _, text := range previous {
					history = append(history, entity.ConversationMessage{Direction: "inbound", Text: text})
				}

				breakdown, err := c.External().Scorer.Breakdown(args[0], tenant, history, "")
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), map[string]interface{}{
					"breakdown": breakdown,
					"routing":   c.Services().Approval.RouteResponse(breakdown.Total).String(),
				})
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&tenant.TenantID, "tenant", "tenant-cli", "tenant id")
	flags.BoolVar(&tenant.HasOutstandingBalance, "has-balance", true, "tenant has an outstanding balance")
	flags.Float64Var(&tenant.OutstandingBalance, "balance", 0, "outstanding balance amount")
	flags.StringVar(&tenant.LanguagePreference, "language", entity.LanguageEnglish, "tenant language preference")
	flags.StringArrayVar(&previous, "history", nil, "prior inbound message (repeatable)")
	return cmd
}
