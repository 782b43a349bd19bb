package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/swac-vis/africa-rural-atlas/internal/aggregate"
	"github.com/swac-vis/africa-rural-atlas/internal/export"
	"github.com/swac-vis/africa-rural-atlas/internal/pipeline"
)

var batchAll bool

var batchCmd = &cobra.Command{
	Use:   "batch [scopes...]",
	Short: "Analyze many countries and roll results up into regions",
	Long:  "Runs the analysis for each scope with bounded concurrency, persists per-country results, and aggregates regional tables. With --all, every country in the region definitions is analyzed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		scopes := args
		if batchAll {
			if len(scopes) > 0 {
				return eris.New("pass scopes or --all, not both")
			}
			scopes = env.Resolver.Members()
		}
		if len(scopes) == 0 {
			return eris.New("no scopes given (pass country names or --all)")
		}

		res, err := env.Runner.RunBatch(ctx, scopes, env.Loader)
		if err != nil {
			return eris.Wrap(err, "batch run")
		}

		zap.L().Info("batch finished",
			zap.String("run_id", res.Run.ID),
			zap.Int("succeeded", len(res.Scopes)),
			zap.Int("failed", len(res.Failures)),
			zap.Int("regions", len(res.Regions)),
		)

		if len(cfg.Export.Formats) > 0 {
			w, err := export.NewWriter(cfg.Export.Dir)
			if err != nil {
				return err
			}
			paths, err := w.Write(res.Run.ID, &export.Bundle{
				Run:     res.Run,
				Scopes:  derefScopes(res),
				Regions: derefRegions(res),
			}, cfg.Export.Formats)
			if err != nil {
				return eris.Wrap(err, "export results")
			}
			for _, p := range paths {
				fmt.Fprintln(os.Stderr, "wrote", p)
			}
		}

		fmt.Println(res.Run.ID)
		return nil
	},
}

func derefScopes(res *pipeline.BatchResult) []aggregate.ScopeResult {
	out := make([]aggregate.ScopeResult, len(res.Scopes))
	for i, s := range res.Scopes {
		out[i] = *s
	}
	return out
}

func derefRegions(res *pipeline.BatchResult) []aggregate.RegionResult {
	out := make([]aggregate.RegionResult, len(res.Regions))
	for i, r := range res.Regions {
		out[i] = *r
	}
	return out
}

func init() {
	batchCmd.Flags().BoolVar(&batchAll, "all", false, "analyze every country in the region definitions")
	rootCmd.AddCommand(batchCmd)
}
