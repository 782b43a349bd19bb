// Package vector models reference feature collections (roads, health
// facilities, administrative boundaries) as go-geom geometries with string
// attribute maps.
package vector

import (
	"math"
	"strings"

	"github.com/twpayne/go-geom"
)

// WGS84 is the assumed CRS for raw geographic inputs.
const WGS84 = "EPSG:4326"

// Feature is one vector geometry with its attributes.
type Feature struct {
	Geom  geom.T
	Props map[string]string
}

// FeatureSet is an ordered, read-only collection of features sharing one CRS.
type FeatureSet struct {
	CRS      string
	Features []Feature
}

// Filter returns the subset of features whose attr value is in allowed
// (case-insensitive). An empty allowed list keeps everything.
func (fs *FeatureSet) Filter(attr string, allowed []string) *FeatureSet {
	if len(allowed) == 0 {
		return fs
	}
	want := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		want[strings.ToLower(strings.TrimSpace(a))] = true
	}
	out := &FeatureSet{CRS: fs.CRS}
	for _, f := range fs.Features {
		if want[strings.ToLower(strings.TrimSpace(f.Props[attr]))] {
			out.Features = append(out.Features, f)
		}
	}
	return out
}

// Bounds returns the envelope of all feature geometries. ok is false for an
// empty set.
func (fs *FeatureSet) Bounds() (minX, minY, maxX, maxY float64, ok bool) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, f := range fs.Features {
		if f.Geom == nil || f.Geom.Empty() {
			continue
		}
		b := f.Geom.Bounds()
		minX = math.Min(minX, b.Min(0))
		minY = math.Min(minY, b.Min(1))
		maxX = math.Max(maxX, b.Max(0))
		maxY = math.Max(maxY, b.Max(1))
		ok = true
	}
	return minX, minY, maxX, maxY, ok
}
