package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/swac-vis/africa-rural-atlas/internal/pipeline"
	"github.com/swac-vis/africa-rural-atlas/internal/region"
	"github.com/swac-vis/africa-rural-atlas/internal/store"
)

// analysisEnv holds the initialized store, region resolver, runner, and
// loader needed by the run/batch/serve commands.
type analysisEnv struct {
	Store    store.Store
	Resolver *region.Resolver
	Runner   *pipeline.Runner
	Loader   *pipeline.FileLoader
}

// Close releases resources held by the environment.
func (e *analysisEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initResolver loads region definitions from the configured file, falling
// back to the built-in continental split.
func initResolver() (*region.Resolver, error) {
	defs := region.Default()
	if cfg.Data.RegionsFile != "" {
		loaded, err := region.LoadFile(cfg.Data.RegionsFile)
		if err != nil {
			return nil, eris.Wrapf(err, "load regions %s", cfg.Data.RegionsFile)
		}
		defs = loaded
		zap.L().Info("regions loaded from file",
			zap.String("path", cfg.Data.RegionsFile),
			zap.Int("regions", len(defs)),
		)
	}
	return region.NewResolver(defs)
}

// initEnv sets up the store, resolver, runner, and file loader. Callers
// should defer env.Close().
func initEnv(ctx context.Context, mode string) (*analysisEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	resolver, err := initResolver()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	runner, err := pipeline.New(cfg, st, resolver)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	loader, err := pipeline.NewFileLoader(cfg.Data)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &analysisEnv{
		Store:    st,
		Resolver: resolver,
		Runner:   runner,
		Loader:   loader,
	}, nil
}
