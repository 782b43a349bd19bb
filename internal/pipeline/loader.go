package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/swac-vis/africa-rural-atlas/internal/config"
	"github.com/swac-vis/africa-rural-atlas/internal/raster"
	"github.com/swac-vis/africa-rural-atlas/internal/region"
	"github.com/swac-vis/africa-rural-atlas/internal/vector"
)

// FileLoader reads scope inputs from the configured data directories. Files
// are looked up by the scope's slug: "Côte d'Ivoire" resolves to
// cote_divoire.asc, cote_divoire.shp, and so on.
type FileLoader struct {
	data config.DataConfig
}

// NewFileLoader builds a loader over the configured directories.
func NewFileLoader(data config.DataConfig) (*FileLoader, error) {
	if data.PopulationDir == "" {
		return nil, eris.New("pipeline: population directory is not configured")
	}
	if data.FeatureDir == "" {
		return nil, eris.New("pipeline: feature directory is not configured")
	}
	return &FileLoader{data: data}, nil
}

// Load implements Loader. The population grid and feature set are required;
// a missing boundary file only skips the clipping step.
func (l *FileLoader) Load(ctx context.Context, scope string) (*ScopeInput, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "pipeline: canceled")
	}

	popPath, err := findFile(l.data.PopulationDir, scope, ".asc")
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: population grid for %s", scope)
	}
	pop, err := raster.LoadASCIIFile(popPath, vector.WGS84)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load %s", popPath)
	}

	features, err := l.loadFeatures(scope)
	if err != nil {
		return nil, err
	}

	boundary, err := l.loadBoundary(scope)
	if err != nil {
		return nil, err
	}

	return &ScopeInput{
		Scope:      scope,
		Population: pop,
		Features:   features,
		Boundary:   boundary,
	}, nil
}

func (l *FileLoader) loadFeatures(scope string) (*vector.FeatureSet, error) {
	if path, err := findFile(l.data.FeatureDir, scope, ".shp"); err == nil {
		fs, err := vector.LoadShapefile(path, vector.WGS84)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: load %s", path)
		}
		return fs, nil
	}
	path, err := findFile(l.data.FeatureDir, scope, ".geojson")
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: features for %s", scope)
	}
	fs, err := vector.LoadGeoJSONFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load %s", path)
	}
	return fs, nil
}

// loadBoundary returns the scope's clipping geometry, or nil when no boundary
// directory or file exists.
func (l *FileLoader) loadBoundary(scope string) (geom.T, error) {
	if l.data.BoundaryDir == "" {
		return nil, nil
	}
	path, err := findFile(l.data.BoundaryDir, scope, ".geojson")
	if err != nil {
		zap.L().Debug("pipeline: no boundary file, skipping clip",
			zap.String("scope", scope),
		)
		return nil, nil
	}
	fs, err := vector.LoadGeoJSONFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load %s", path)
	}
	for _, f := range fs.Features {
		switch f.Geom.(type) {
		case *geom.Polygon, *geom.MultiPolygon:
			return f.Geom, nil
		}
	}
	return nil, eris.Errorf("pipeline: %s contains no polygon", path)
}

// findFile resolves dir/<slug><ext>, falling back to the verbatim scope name
// for datasets that keep original spellings.
func findFile(dir, scope, ext string) (string, error) {
	candidates := []string{Slug(scope) + ext, scope + ext}
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", eris.Errorf("pipeline: no %s file for %q in %s", ext, scope, dir)
}

// Slug converts a scope name to its on-disk form: diacritics folded,
// apostrophes removed, lowercased, spaces and hyphens as underscores.
func Slug(scope string) string {
	s := region.Normalize(scope)
	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, "-", " ")
	return strings.Join(strings.Fields(s), "_")
}
