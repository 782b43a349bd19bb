package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/swac-vis/africa-rural-atlas/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run <scope>",
	Short: "Analyze a single country",
	Long:  "Loads the scope's population grid and reference features, computes the distance tables, and prints the result as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		scope := args[0]

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		runner, err := pipeline.New(cfg, nil, nil)
		if err != nil {
			return err
		}
		loader, err := pipeline.NewFileLoader(cfg.Data)
		if err != nil {
			return err
		}

		in, err := loader.Load(ctx, scope)
		if err != nil {
			return eris.Wrapf(err, "load %s", scope)
		}

		res, err := runner.RunScope(ctx, in)
		if err != nil {
			return eris.Wrapf(err, "analyze %s", scope)
		}

		zap.L().Info("scope analyzed",
			zap.String("scope", scope),
			zap.Float64("population", res.TotalPopulation),
			zap.Float64("urban", res.UrbanPopulation),
			zap.Float64("rural", res.RuralPopulation),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
