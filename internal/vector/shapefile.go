package vector

import (
	"math"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// LoadShapefile reads a shapefile into a FeatureSet. Shapefiles carry no
// usable CRS in the .shp itself, so the caller supplies the identifier
// (pass WGS84 for geographic data). Records with nil or unsupported shapes
// are skipped.
func LoadShapefile(path, crs string) (*FeatureSet, error) {
	if crs == "" {
		crs = WGS84
	}
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToLower(strings.TrimRight(f.String(), "\x00"))
	}

	fs := &FeatureSet{CRS: crs}
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		g := shapeToGeom(shape)
		if g == nil {
			skipped++
			continue
		}

		props := make(map[string]string, len(names))
		for i, name := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if val != "" {
				props[name] = val
			}
		}
		fs.Features = append(fs.Features, Feature{Geom: g, Props: props})
	}

	if skipped > 0 {
		zap.L().Debug("vector: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return fs, nil
}

// shapeToGeom converts a go-shp shape to a go-geom geometry. Returns nil for
// nil or unsupported shapes.
func shapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PolyLine:
		return polyLineToMultiLineString(s)
	case *shp.Polygon:
		return polygonToMultiPolygon((*shp.PolyLine)(s))
	default:
		return nil
	}
}

func polyLineToMultiLineString(pl *shp.PolyLine) geom.T {
	if pl == nil || pl.NumParts == 0 || len(pl.Points) == 0 {
		return nil
	}

	mls := geom.NewMultiLineString(geom.XY)
	for _, part := range partRanges(pl) {
		flat := make([]float64, 0, 2*len(part))
		for _, p := range part {
			flat = append(flat, p.X, p.Y)
		}
		if len(flat) < 4 {
			continue
		}
		if err := mls.Push(geom.NewLineStringFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("vector: skipping malformed linestring part", zap.Error(err))
		}
	}
	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

// polygonToMultiPolygon groups a record's rings into polygons. Shapefile
// outer rings wind clockwise and holes counterclockwise; a hole must stay in
// the same polygon as the ring that contains it, or downstream even-odd
// coverage would fill the enclave.
func polygonToMultiPolygon(pl *shp.PolyLine) geom.T {
	if pl == nil || pl.NumParts == 0 || len(pl.Points) == 0 {
		return nil
	}

	var shells, holes [][]float64
	for _, part := range partRanges(pl) {
		flat := make([]float64, 0, 2*len(part))
		for _, p := range part {
			flat = append(flat, p.X, p.Y)
		}
		if len(flat) < 8 { // a closed ring needs at least four vertices
			continue
		}
		if ringArea(flat) <= 0 {
			shells = append(shells, flat)
		} else {
			holes = append(holes, flat)
		}
	}
	if len(shells) == 0 {
		// Misoriented data: keep the rings rather than drop the record.
		shells, holes = holes, nil
	}

	polys := make([][][]float64, len(shells))
	for i, shell := range shells {
		polys[i] = [][]float64{shell}
	}
	for _, hole := range holes {
		if i, ok := containingShell(shells, hole); ok {
			polys[i] = append(polys[i], hole)
		} else {
			polys = append(polys, [][]float64{hole})
		}
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for _, rings := range polys {
		var flat []float64
		ends := make([]int, 0, len(rings))
		for _, rg := range rings {
			flat = append(flat, rg...)
			ends = append(ends, len(flat))
		}
		if err := mp.Push(geom.NewPolygonFlat(geom.XY, flat, ends)); err != nil {
			zap.L().Debug("vector: skipping malformed polygon", zap.Error(err))
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// ringArea returns twice the signed shoelace area of a flat XY ring.
// Clockwise rings come out negative.
func ringArea(flat []float64) float64 {
	var sum float64
	n := len(flat) / 2
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		sum += flat[j*2]*flat[i*2+1] - flat[i*2]*flat[j*2+1]
	}
	return sum
}

// containingShell finds the smallest shell containing the hole's first
// vertex, so nested shells claim their own holes.
func containingShell(shells [][]float64, hole []float64) (int, bool) {
	best, bestArea := -1, math.Inf(1)
	for i, shell := range shells {
		if !ringContains(shell, hole[0], hole[1]) {
			continue
		}
		if a := math.Abs(ringArea(shell)); a < bestArea {
			best, bestArea = i, a
		}
	}
	return best, best >= 0
}

// ringContains reports crossing-number containment of (x, y) in one ring.
func ringContains(rg []float64, x, y float64) bool {
	inside := false
	n := len(rg) / 2
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := rg[i*2], rg[i*2+1]
		xj, yj := rg[j*2], rg[j*2+1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// partRanges splits a shapefile multi-part point list by its part offsets.
func partRanges(pl *shp.PolyLine) [][]shp.Point {
	var parts [][]shp.Point
	for i := int32(0); i < pl.NumParts; i++ {
		start := pl.Parts[i]
		end := int32(len(pl.Points))
		if i+1 < pl.NumParts {
			end = pl.Parts[i+1]
		}
		if end > start {
			parts = append(parts, pl.Points[start:end])
		}
	}
	return parts
}
