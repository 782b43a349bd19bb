package raster

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// defaultNoData matches the conventional Esri ASCII grid sentinel used by
// WorldPop and GHSL exports.
const defaultNoData = -9999

// LoadASCIIFile opens path and parses it as an Esri ASCII grid.
func LoadASCIIFile(path, crs string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}
	defer func() { _ = f.Close() }()
	g, err := LoadASCII(f, crs)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: parse %s", path)
	}
	return g, nil
}

// LoadASCII parses an Esri ASCII grid (ncols/nrows/xllcorner/yllcorner/
// cellsize header followed by row-major values, north row first). The CRS is
// not embedded in the format and must be supplied by the caller.
func LoadASCII(r io.Reader, crs string) (*Grid, error) {
	if crs == "" {
		return nil, eris.Wrap(ErrCRS, "raster: ASCII grid has no embedded CRS and none was supplied")
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	header := map[string]float64{}
	var values []float64
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		// Header lines are "key value" pairs with a non-numeric key.
		if len(fields) == 2 && len(values) == 0 {
			if _, err := strconv.ParseFloat(fields[0], 64); err != nil {
				key := strings.ToLower(fields[0])
				val, err := strconv.ParseFloat(fields[1], 64)
				if err != nil {
					return nil, eris.Wrapf(ErrFormat, "raster: header %s has non-numeric value %q", key, fields[1])
				}
				header[key] = val
				continue
			}
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, eris.Wrapf(ErrFormat, "raster: bad cell value %q", f)
			}
			values = append(values, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "raster: read ASCII grid")
	}

	ncols, okC := header["ncols"]
	nrows, okR := header["nrows"]
	cellsize, okS := header["cellsize"]
	if !okC || !okR || !okS {
		return nil, eris.Wrap(ErrFormat, "raster: missing ncols/nrows/cellsize header")
	}
	rows, cols := int(nrows), int(ncols)
	if rows <= 0 || cols <= 0 || len(values) != rows*cols {
		return nil, eris.Wrapf(ErrFormat, "raster: got %d values, want %dx%d", len(values), rows, cols)
	}

	// Lower-left origin may be given as corner or cell center.
	var x0, yll float64
	switch {
	case hasKeys(header, "xllcorner", "yllcorner"):
		x0, yll = header["xllcorner"], header["yllcorner"]
	case hasKeys(header, "xllcenter", "yllcenter"):
		x0 = header["xllcenter"] - cellsize/2
		yll = header["yllcenter"] - cellsize/2
	default:
		return nil, eris.Wrap(ErrFormat, "raster: missing lower-left origin header")
	}

	nodata := float64(defaultNoData)
	if v, ok := header["nodata_value"]; ok {
		nodata = v
	}

	tf := NewGeoTransform(x0, yll+nrows*cellsize, cellsize, -cellsize)
	return NewFlat(values, rows, cols, tf, crs, nodata)
}

func hasKeys(m map[string]float64, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}
