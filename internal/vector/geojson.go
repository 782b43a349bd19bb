package vector

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// LoadGeoJSONFile opens path and parses it as a GeoJSON feature collection.
func LoadGeoJSONFile(path string) (*FeatureSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: open %s", path)
	}
	defer func() { _ = f.Close() }()
	fs, err := LoadGeoJSON(f)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: parse %s", path)
	}
	return fs, nil
}

// LoadGeoJSON parses a GeoJSON FeatureCollection. GeoJSON geometries are
// geographic by definition (RFC 7946), so the result is tagged WGS84.
func LoadGeoJSON(r io.Reader) (*FeatureSet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "vector: read GeoJSON")
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "vector: decode GeoJSON feature collection")
	}

	fs := &FeatureSet{CRS: WGS84}
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		fs.Features = append(fs.Features, Feature{
			Geom:  f.Geometry,
			Props: stringifyProps(f.Properties),
		})
	}
	return fs, nil
}

// stringifyProps flattens GeoJSON property values to strings for uniform
// attribute filtering.
func stringifyProps(props map[string]any) map[string]string {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]string, len(props))
	for k, v := range props {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}
