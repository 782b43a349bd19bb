package vector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func TestFeatureSet_Filter(t *testing.T) {
	fs := &FeatureSet{
		CRS: WGS84,
		Features: []Feature{
			{Geom: geom.NewPointFlat(geom.XY, []float64{0, 0}), Props: map[string]string{"gp_rtp": "1"}},
			{Geom: geom.NewPointFlat(geom.XY, []float64{1, 1}), Props: map[string]string{"gp_rtp": "2"}},
			{Geom: geom.NewPointFlat(geom.XY, []float64{2, 2}), Props: map[string]string{"gp_rtp": "5"}},
			{Geom: geom.NewPointFlat(geom.XY, []float64{3, 3}), Props: map[string]string{}},
		},
	}

	tests := []struct {
		name    string
		allowed []string
		want    int
	}{
		{name: "primary and secondary roads", allowed: []string{"1", "2"}, want: 2},
		{name: "no filter keeps everything", allowed: nil, want: 4},
		{name: "no matches", allowed: []string{"9"}, want: 0},
		{name: "case and whitespace insensitive", allowed: []string{" 5 "}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fs.Filter("gp_rtp", tt.allowed)
			assert.Len(t, got.Features, tt.want)
			assert.Equal(t, WGS84, got.CRS)
		})
	}
}

func TestFeatureSet_Bounds(t *testing.T) {
	fs := &FeatureSet{
		CRS: WGS84,
		Features: []Feature{
			{Geom: geom.NewPointFlat(geom.XY, []float64{-3, 10})},
			{Geom: geom.NewLineStringFlat(geom.XY, []float64{0, 0, 5, 2})},
		},
	}

	minX, minY, maxX, maxY, ok := fs.Bounds()
	require.True(t, ok)
	assert.Equal(t, -3.0, minX)
	assert.Equal(t, 0.0, minY)
	assert.Equal(t, 5.0, maxX)
	assert.Equal(t, 10.0, maxY)

	empty := &FeatureSet{CRS: WGS84}
	_, _, _, _, ok = empty.Bounds()
	assert.False(t, ok)
}

func TestLoadGeoJSON(t *testing.T) {
	src := `{
		"type": "FeatureCollection",
		"features": [
			{
				"type": "Feature",
				"geometry": {"type": "Point", "coordinates": [36.8, -1.3]},
				"properties": {"amenity": "pharmacy", "beds": 12, "active": true}
			},
			{
				"type": "Feature",
				"geometry": {"type": "LineString", "coordinates": [[0, 0], [1, 1]]},
				"properties": {"gp_rtp": "1"}
			},
			{
				"type": "Feature",
				"geometry": null,
				"properties": {"amenity": "clinic"}
			}
		]
	}`

	fs, err := LoadGeoJSON(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, WGS84, fs.CRS)
	require.Len(t, fs.Features, 2, "null geometry is dropped")

	pt, ok := fs.Features[0].Geom.(*geom.Point)
	require.True(t, ok)
	assert.Equal(t, 36.8, pt.X())
	assert.Equal(t, -1.3, pt.Y())
	assert.Equal(t, "pharmacy", fs.Features[0].Props["amenity"])
	assert.Equal(t, "12", fs.Features[0].Props["beds"])
	assert.Equal(t, "true", fs.Features[0].Props["active"])
}

func TestLoadGeoJSON_Malformed(t *testing.T) {
	_, err := LoadGeoJSON(strings.NewReader(`{"type": "FeatureCollection", "features": [{]`))
	assert.Error(t, err)
}
