package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/swac-vis/africa-rural-atlas/internal/aggregate"
)

var regionsJSON bool

var regionsCmd = &cobra.Command{
	Use:   "regions <run-id>",
	Short: "Show a run's regional rollup tables",
	Long:  "Displays the regional aggregates computed for a stored run, including member countries and population totals.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		regions, err := st.ListRegionResults(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "load region results")
		}
		if len(regions) == 0 {
			fmt.Fprintln(os.Stderr, "No region results for this run.")
			return nil
		}

		if regionsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(regions)
		}

		formatRegionsList(os.Stdout, regions)
		return nil
	},
}

func init() {
	regionsCmd.Flags().BoolVar(&regionsJSON, "json", false, "emit full region results as JSON")
	rootCmd.AddCommand(regionsCmd)
}

// formatRegionsList writes a tabular summary of region rollups to w.
func formatRegionsList(out io.Writer, regions []aggregate.RegionResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REGION\tMEMBERS\tPOPULATION\tURBAN\tRURAL")
	_, _ = fmt.Fprintln(w, "------\t-------\t----------\t-----\t-----")

	for _, r := range regions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.0f\t%.0f\t%.0f\n",
			r.Region,
			strings.Join(r.Members, ", "),
			r.TotalPopulation,
			r.UrbanPopulation,
			r.RuralPopulation,
		)
	}
	_ = w.Flush()
}
