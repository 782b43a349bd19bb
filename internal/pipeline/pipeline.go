// Package pipeline orchestrates analysis runs: load, rasterize, distance,
// classify, aggregate, and the region rollup across scopes.
package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/swac-vis/africa-rural-atlas/internal/classify"
	"github.com/swac-vis/africa-rural-atlas/internal/config"
	"github.com/swac-vis/africa-rural-atlas/internal/raster"
	"github.com/swac-vis/africa-rural-atlas/internal/region"
	"github.com/swac-vis/africa-rural-atlas/internal/store"
	"github.com/swac-vis/africa-rural-atlas/internal/vector"
)

// ScopeInput is everything one scope's analysis consumes: its population
// raster, the reference features, and an optional clipping boundary.
type ScopeInput struct {
	Scope      string
	Population *raster.Grid
	Features   *vector.FeatureSet
	Boundary   geom.T
}

// Loader fetches the input datasets for one scope.
type Loader interface {
	Load(ctx context.Context, scope string) (*ScopeInput, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, scope string) (*ScopeInput, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, scope string) (*ScopeInput, error) {
	return f(ctx, scope)
}

// Runner executes analysis runs under one configuration snapshot.
type Runner struct {
	cfg        config.AnalysisConfig
	workers    int
	store      store.Store
	resolver   *region.Resolver
	classifier *classify.Classifier
	bands      *classify.Bands
}

// New validates the analysis configuration and builds a Runner. The store
// and resolver are used by RunBatch; RunScope works without them.
func New(cfg *config.Config, st store.Store, resolver *region.Resolver) (*Runner, error) {
	threshold := 0.0
	if cfg.Analysis.Policy == string(classify.PolicyThreshold) {
		threshold = cfg.Analysis.DensityThreshold
	}
	classifier, err := classify.NewClassifier(classify.Policy(cfg.Analysis.Policy), threshold)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: classifier")
	}
	bands, err := classify.NewBands(cfg.Analysis.BandBreaks)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: bands")
	}

	workers := cfg.Batch.Workers
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		cfg:        cfg.Analysis,
		workers:    workers,
		store:      st,
		resolver:   resolver,
		classifier: classifier,
		bands:      bands,
	}, nil
}
