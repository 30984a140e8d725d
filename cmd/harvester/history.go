package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/regdata/harvester/internal/config"
	"github.com/regdata/harvester/internal/store/postgres"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent run statistics from the run-history store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.DB.DSN == "" {
				return errors.New("db.dsn is not configured; run history needs Postgres")
			}

			store, err := postgres.NewRunStore(cmd.Context(), postgres.Config{
				DSN:      cfg.DB.DSN,
				MaxConns: cfg.DB.MaxConns,
			})
			if err != nil {
				return fmt.Errorf("init run store: %w", err)
			}
			defer store.Close()

			runs, err := store.LastRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(runs, "", "  ")
			if err != nil {
				return fmt.Errorf("encode runs: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to show")
	return cmd
}
