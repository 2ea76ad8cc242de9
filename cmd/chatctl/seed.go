package main

import (
	"fmt"

	tenantrepo "github.com/kenxsak/voice-chat-ai-sub001/internal/tenants/repository"
	tenantservice "github.com/kenxsak/voice-chat-ai-sub001/internal/tenants/service"

	"github.com/spf13/cobra"
)

func newSeedCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Create or update tenants and agents from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := tenantservice.LoadSeedFile(args[0])
			if err != nil {
				return err
			}
			if dryRun {
				agents := 0
				for _, t := range file.Tenants {
					agents += len(t.Agents)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %d tenants, %d agents\n", args[0], len(file.Tenants), agents)
				return nil
			}

			e, err := openEnv(cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			svc := tenantservice.New(tenantrepo.New(e.pool), e.log)
			tenants, agents, err := svc.Seed(cmd.Context(), file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d tenants, %d agents\n", tenants, agents)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing")
	return cmd
}
