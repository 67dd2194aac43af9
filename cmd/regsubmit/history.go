package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/registry-submit/internal/report"
)

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent batch attempts from the local ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ledger, err := openLedger(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer ledger.Close()

			attempts, err := ledger.RecentAttempts(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(attempts) == 0 {
				fmt.Println("No attempts recorded yet.")
				return nil
			}

			fmt.Println(report.Attempts(attempts))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of recent attempts to show")

	return cmd
}
