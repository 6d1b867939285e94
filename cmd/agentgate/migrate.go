package main

import (
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// Opening a sql store applies the schema.
			_, closeStore, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if err := closeStore(); err != nil {
				return err
			}
			cmd.Printf("schema ready (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}
