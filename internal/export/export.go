// Package export writes run results to disk. One run produces a JSON bundle,
// flat CSV tables, and an XLSX workbook, selectable per format.
package export

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/swac-vis/africa-rural-atlas/internal/aggregate"
	"github.com/swac-vis/africa-rural-atlas/internal/model"
)

// Bundle is everything one export covers: the run record with its audit, the
// per-scope tables, and the region rollups.
type Bundle struct {
	Run     *model.Run               `json:"run"`
	Scopes  []aggregate.ScopeResult  `json:"scopes"`
	Regions []aggregate.RegionResult `json:"regions,omitempty"`
}

// Writer writes bundles into one output directory.
type Writer struct {
	dir string
}

// NewWriter creates the output directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		return nil, eris.New("export: output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create %s", dir)
	}
	return &Writer{dir: dir}, nil
}

// Write exports the bundle in every requested format and returns the paths
// written. Supported formats are json, csv, and xlsx. File names are prefixed
// with name, typically the run ID.
func (w *Writer) Write(name string, b *Bundle, formats []string) ([]string, error) {
	if name == "" {
		return nil, eris.New("export: name is required")
	}
	if b == nil || len(b.Scopes) == 0 {
		return nil, eris.New("export: nothing to export")
	}
	var paths []string
	for _, format := range formats {
		var (
			written []string
			err     error
		)
		switch format {
		case "json":
			written, err = w.writeJSON(name, b)
		case "csv":
			written, err = w.writeCSV(name, b)
		case "xlsx":
			written, err = w.writeXLSX(name, b)
		default:
			return nil, eris.Errorf("export: unknown format %q", format)
		}
		if err != nil {
			return nil, err
		}
		paths = append(paths, written...)
	}
	zap.L().Info("export: wrote bundle",
		zap.String("name", name),
		zap.Strings("formats", formats),
		zap.Int("files", len(paths)),
	)
	return paths, nil
}

func (w *Writer) writeJSON(name string, b *Bundle) ([]string, error) {
	path := filepath.Join(w.dir, name+".json")
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "export: marshal bundle")
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return nil, eris.Wrapf(err, "export: write %s", path)
	}
	return []string{path}, nil
}
