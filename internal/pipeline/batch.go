package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/swac-vis/africa-rural-atlas/internal/aggregate"
	"github.com/swac-vis/africa-rural-atlas/internal/model"
)

// BatchResult is the outcome of one multi-scope run: per-scope results,
// region rollups, and the audit of everything that could not be placed.
type BatchResult struct {
	Run      *model.Run
	Scopes   []*aggregate.ScopeResult
	Regions  []*aggregate.RegionResult
	Failures []model.ScopeFailure
	Audit    aggregate.Audit
}

// RunBatch analyzes every scope with bounded concurrency, persists results
// as they land, then rolls the surviving scopes up into regions. A failed
// scope is recorded and excluded from rollups; a reconciliation violation
// aborts the whole run, since it means the results cannot be trusted.
func (r *Runner) RunBatch(ctx context.Context, scopes []string, loader Loader) (*BatchResult, error) {
	if r.store == nil {
		return nil, eris.New("pipeline: batch requires a store")
	}
	if loader == nil {
		return nil, eris.New("pipeline: batch requires a loader")
	}
	if len(scopes) == 0 {
		return nil, eris.New("pipeline: no scopes to analyze")
	}
	log := zap.L().With(zap.Int("scopes", len(scopes)))

	run, err := r.store.CreateRun(ctx, r.runParams(scopes))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	if err := r.store.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
		log.Warn("pipeline: failed to update run status", zap.Error(err))
	}
	log = log.With(zap.String("run_id", run.ID))
	log.Info("pipeline: batch started")
	start := time.Now()

	var mu sync.Mutex
	var results []*aggregate.ScopeResult
	var failures []model.ScopeFailure

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, scope := range scopes {
		g.Go(func() error {
			res, scopeErr := r.runOne(gCtx, scope, loader)
			if scopeErr != nil {
				if eris.Is(scopeErr, aggregate.ErrReconciliation) {
					// Not bad input but a defect in the aggregation itself;
					// every other scope's numbers are equally suspect.
					return scopeErr
				}
				log.Warn("pipeline: scope failed",
					zap.String("scope", scope),
					zap.Error(scopeErr),
				)
				failure := model.ScopeFailure{
					RunID:    run.ID,
					Scope:    scope,
					Error:    scopeErr.Error(),
					FailedAt: time.Now().UTC(),
				}
				if saveErr := r.store.SaveScopeFailure(gCtx, run.ID, scope, scopeErr.Error()); saveErr != nil {
					log.Warn("pipeline: failed to record scope failure", zap.Error(saveErr))
				}
				mu.Lock()
				failures = append(failures, failure)
				mu.Unlock()
				return nil
			}
			if saveErr := r.store.SaveScopeResult(gCtx, run.ID, res); saveErr != nil {
				return eris.Wrapf(saveErr, "pipeline: save scope result %s", scope)
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if failErr := r.store.FailRun(ctx, run.ID, err.Error()); failErr != nil {
			log.Warn("pipeline: failed to mark run failed", zap.Error(failErr))
		}
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Scope < results[j].Scope })
	sort.Slice(failures, func(i, j int) bool { return failures[i].Scope < failures[j].Scope })

	regions, audit, err := r.rollup(ctx, run.ID, results, failures)
	if err != nil {
		if failErr := r.store.FailRun(ctx, run.ID, err.Error()); failErr != nil {
			log.Warn("pipeline: failed to mark run failed", zap.Error(failErr))
		}
		return nil, err
	}

	if err := r.store.CompleteRun(ctx, run.ID, &audit); err != nil {
		log.Warn("pipeline: failed to complete run", zap.Error(err))
	}
	log.Info("pipeline: batch complete",
		zap.Int("succeeded", len(results)),
		zap.Int("failed", len(failures)),
		zap.Int("regions", len(regions)),
		zap.Duration("took", time.Since(start)),
	)

	return &BatchResult{
		Run:      run,
		Scopes:   results,
		Regions:  regions,
		Failures: failures,
		Audit:    audit,
	}, nil
}

func (r *Runner) runOne(ctx context.Context, scope string, loader Loader) (*aggregate.ScopeResult, error) {
	in, err := loader.Load(ctx, scope)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load %s", scope)
	}
	return r.RunScope(ctx, in)
}

// rollup groups successful scopes into regions and persists the rollups.
// Failed scopes are listed as excluded rather than silently shrinking the
// regional totals.
func (r *Runner) rollup(ctx context.Context, runID string, results []*aggregate.ScopeResult, failures []model.ScopeFailure) ([]*aggregate.RegionResult, aggregate.Audit, error) {
	var audit aggregate.Audit
	for _, f := range failures {
		audit.ExcludedScopes = append(audit.ExcludedScopes, f.Scope)
	}
	if r.resolver == nil || len(results) == 0 {
		return nil, audit, nil
	}

	byScope := make(map[string]*aggregate.ScopeResult, len(results))
	names := make([]string, len(results))
	for i, res := range results {
		byScope[res.Scope] = res
		names[i] = res.Scope
	}

	grouping := r.resolver.Group(names)
	audit.UnmappedScopes = grouping.Unmapped
	audit.MissingMembers = grouping.Missing

	var regions []*aggregate.RegionResult
	for _, name := range r.resolver.Regions() {
		members := grouping.Members[name]
		if len(members) == 0 {
			continue
		}
		memberResults := make([]*aggregate.ScopeResult, len(members))
		for i, m := range members {
			memberResults[i] = byScope[m]
		}
		region, err := aggregate.Rollup(name, memberResults)
		if err != nil {
			return nil, audit, eris.Wrapf(err, "pipeline: rollup %s", name)
		}
		if err := r.store.SaveRegionResult(ctx, runID, region); err != nil {
			return nil, audit, eris.Wrapf(err, "pipeline: save region result %s", name)
		}
		regions = append(regions, region)
	}
	return regions, audit, nil
}

func (r *Runner) runParams(scopes []string) model.RunParams {
	return model.RunParams{
		Scopes:               append([]string(nil), scopes...),
		Policy:               r.cfg.Policy,
		DensityThreshold:     r.cfg.DensityThreshold,
		BandBreaks:           append([]float64(nil), r.cfg.BandBreaks...),
		CumulativeThresholds: append([]float64(nil), r.cfg.CumulativeThresholds...),
		ClassField:           r.cfg.ClassField,
		ClassFilter:          append([]string(nil), r.cfg.ClassFilter...),
		KmPerDegree:          r.cfg.KmPerDegree,
		BlockFactor:          r.cfg.BlockFactor,
	}
}
