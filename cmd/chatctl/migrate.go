package main

import (
	"fmt"

	"github.com/kenxsak/voice-chat-ai-sub001/migrations"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/db"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, !status)
			if err != nil {
				return err
			}
			defer e.Close()

			if status {
				return db.MigrationStatus(cmd.Context(), e.pool, migrations.FS)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "print migration status instead of migrating")
	return cmd
}
