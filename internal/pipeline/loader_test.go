package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/swac-vis/africa-rural-atlas/internal/config"
)

const testASCIIGrid = `ncols 2
nrows 2
xllcorner 0
yllcorner 0
cellsize 0.5
nodata_value -9999
100 -50
0 -9999
`

const testFeatureJSON = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "geometry": {"type": "Point", "coordinates": [0.25, 0.75]},
      "properties": {"amenity": "clinic"}
    }
  ]
}`

const testBoundaryJSON = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[0, 0], [1, 0], [1, 1], [0, 1], [0, 0]]]
      },
      "properties": {}
    }
  ]
}`

func writeTestData(t *testing.T, slug string) config.DataConfig {
	t.Helper()
	root := t.TempDir()
	data := config.DataConfig{
		PopulationDir: filepath.Join(root, "population"),
		FeatureDir:    filepath.Join(root, "features"),
		BoundaryDir:   filepath.Join(root, "boundaries"),
	}
	for dir, content := range map[string]string{
		data.PopulationDir: testASCIIGrid,
		data.FeatureDir:    testFeatureJSON,
		data.BoundaryDir:   testBoundaryJSON,
	} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
		ext := ".geojson"
		if dir == data.PopulationDir {
			ext = ".asc"
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, slug+ext), []byte(content), 0o644))
	}
	return data
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Niger", "niger"},
		{"Burkina Faso", "burkina_faso"},
		{"Côte d'Ivoire", "cote_divoire"},
		{"Guinea-Bissau", "guinea_bissau"},
		{"  South   Sudan ", "south_sudan"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.in), tt.in)
	}
}

func TestFileLoader_Load(t *testing.T) {
	data := writeTestData(t, "cote_divoire")
	l, err := NewFileLoader(data)
	require.NoError(t, err)

	in, err := l.Load(context.Background(), "Côte d'Ivoire")
	require.NoError(t, err)

	assert.Equal(t, "Côte d'Ivoire", in.Scope)
	require.NotNil(t, in.Population)
	assert.Equal(t, 2, in.Population.Rows())
	assert.Equal(t, 100.0, in.Population.Value(0, 0))
	assert.True(t, in.Population.IsNoData(in.Population.Value(1, 1)))

	require.NotNil(t, in.Features)
	require.Len(t, in.Features.Features, 1)
	assert.Equal(t, "clinic", in.Features.Features[0].Props["amenity"])

	require.NotNil(t, in.Boundary)
	_, isPolygon := in.Boundary.(*geom.Polygon)
	assert.True(t, isPolygon)
}

func TestFileLoader_MissingBoundaryIsOptional(t *testing.T) {
	data := writeTestData(t, "niger")
	require.NoError(t, os.Remove(filepath.Join(data.BoundaryDir, "niger.geojson")))

	l, err := NewFileLoader(data)
	require.NoError(t, err)

	in, err := l.Load(context.Background(), "Niger")
	require.NoError(t, err)
	assert.Nil(t, in.Boundary)
}

func TestFileLoader_MissingPopulation(t *testing.T) {
	data := writeTestData(t, "niger")
	l, err := NewFileLoader(data)
	require.NoError(t, err)

	_, err = l.Load(context.Background(), "Chad")
	assert.Error(t, err)
}

func TestFileLoader_RequiresDirectories(t *testing.T) {
	_, err := NewFileLoader(config.DataConfig{})
	assert.Error(t, err)
}

func TestFileLoader_EndToEnd(t *testing.T) {
	data := writeTestData(t, "niger")
	l, err := NewFileLoader(data)
	require.NoError(t, err)

	r, err := New(testConfig(), nil, nil)
	require.NoError(t, err)

	in, err := l.Load(context.Background(), "Niger")
	require.NoError(t, err)

	res, err := r.RunScope(context.Background(), in)
	require.NoError(t, err)
	assert.InDelta(t, 150, res.TotalPopulation, 1e-9)
	assert.InDelta(t, 100, res.UrbanPopulation, 1e-9)
	assert.InDelta(t, 50, res.RuralPopulation, 1e-9)
}
