package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/swac-vis/africa-rural-atlas/internal/export"
)

var exportFormats []string

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run's tables to disk",
	Long:  "Writes a stored run's per-country and regional tables as JSON, CSV, or XLSX files in the configured export directory.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runID := args[0]

		if err := cfg.Validate("export"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, runID)
		if err != nil {
			return eris.Wrapf(err, "load run %s", runID)
		}
		scopes, err := st.ListScopeResults(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "load scope results")
		}
		regions, err := st.ListRegionResults(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "load region results")
		}

		formats := exportFormats
		if len(formats) == 0 {
			formats = cfg.Export.Formats
		}
		if len(formats) == 0 {
			formats = []string{"json"}
		}

		w, err := export.NewWriter(cfg.Export.Dir)
		if err != nil {
			return err
		}
		paths, err := w.Write(run.ID, &export.Bundle{
			Run:     run,
			Scopes:  scopes,
			Regions: regions,
		}, formats)
		if err != nil {
			return eris.Wrap(err, "export")
		}

		for _, p := range paths {
			fmt.Println(p)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringSliceVar(&exportFormats, "format", nil, "output formats: json, csv, xlsx (default from config)")
	rootCmd.AddCommand(exportCmd)
}
