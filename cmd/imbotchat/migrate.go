package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/IMBotPlatform/IMBotChat/pkg/config"
	"github.com/IMBotPlatform/IMBotChat/pkg/transcript/postgres"
)

// newMigrateCmd 在 PostgreSQL 存储上执行或回滚内置迁移。
func newMigrateCmd(flags *globalFlags) *cobra.Command {
	var status, rollback bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.store == "" {
				flags.store = string(config.StorePostgres)
			}
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			pg, ok := a.store.(*postgres.PGStore)
			if !ok {
				return fmt.Errorf("migrate needs the postgres store, got %s", a.cfg.Store.Kind)
			}

			switch {
			case status && rollback:
				return fmt.Errorf("--status and --rollback are mutually exclusive")
			case rollback:
				name, err := pg.RollbackLast(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "rolled back %s\n", name)
			case !status:
				if err := pg.Migrate(cmd.Context()); err != nil {
					return err
				}
			}
			records, err := pg.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range records {
				state := "pending"
				if r.Applied && r.AppliedAt != nil {
					state = "applied " + r.AppliedAt.In(a.cfg.Location()).Format("2006/01/02 15:04:05")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", r.Name, state)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "only report which migrations are applied")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the most recently applied migration")
	return cmd
}
