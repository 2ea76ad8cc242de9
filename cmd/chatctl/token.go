package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/platform/config"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/httpkit"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		agents []string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <tenant-id>",
		Short: "Issue a widget token for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := strings.TrimSpace(args[0])
			if tenantID == "" {
				return fmt.Errorf("tenant id is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			token, err := httpkit.SignWidgetToken(cfg, tenantID, agents, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&agents, "agent", nil, "restrict the token to these agent ids")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}
