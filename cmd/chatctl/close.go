package main

import (
	"fmt"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/scheduler"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep: recover stale closes and schedule idle ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			services, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			defer services.Close()

			var closes scheduler.CloseScheduler
			if services.Queue != nil {
				closes = services.Queue
			}
			report, err := scheduler.NewSweeper(e.cfg, services.Conversations, closes, e.log).SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recovered %d, scheduled %d\n", report.Recovered, report.Scheduled)
			return nil
		},
	}
}

func newCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <conversation-id>",
		Short: "Close a conversation now and persist its lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid conversation id %q: %w", args[0], err)
			}

			e, err := openEnv(cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			services, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			defer services.Close()

			if err := services.Chat(e.log).CloseConversation(cmd.Context(), id, scheduler.CloseReasonManual); err != nil {
				return err
			}
			services.Bus.Wait()
			fmt.Fprintf(cmd.OutOrStdout(), "conversation %s closed\n", id)
			return nil
		},
	}
}
