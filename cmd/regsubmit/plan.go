package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nhle/registry-submit/internal/batch"
	"github.com/nhle/registry-submit/internal/model"
	"github.com/nhle/registry-submit/internal/report"
	"github.com/nhle/registry-submit/internal/sheet"
)

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show how the input sheet would be batched",
		Long:  "Read the input sheet and print the batches a run would submit, without opening the browser or the mailbox.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			sheetCfg, err := sheetConfig(cfg)
			if err != nil {
				return err
			}
			client, err := sheet.NewClient(cmd.Context(), sheetCfg, zerolog.Nop())
			if err != nil {
				return err
			}

			rows, err := client.ReadRows(cmd.Context())
			if err != nil {
				return err
			}

			batches, err := batch.Plan(rows, cfg.Run.BatchSize)
			if err != nil {
				return err
			}

			fmt.Println(report.BatchPlan(batches, func(b model.Batch) int {
				return len(batch.Eligible(b))
			}))
			return nil
		},
	}
}
