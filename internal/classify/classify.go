// Package classify labels populated grid cells as urban or rural and bins
// distances into half-open intervals.
package classify

import (
	"math"
	"strconv"

	"github.com/rotisserie/eris"
)

// Class is the urban/rural label of a populated cell.
type Class string

// Cell classes.
const (
	ClassUrban Class = "urban"
	ClassRural Class = "rural"
)

// Policy selects how raw cell values encode the urban/rural split. Exactly
// one policy applies per analysis run.
type Policy string

// Classification policies.
const (
	// PolicySign: positive values are urban, negative values are rural,
	// magnitude is population. Used for signed rasters such as the GHSL
	// urban/rural encoding.
	PolicySign Policy = "sign"
	// PolicyThreshold: values at or above the density threshold are urban.
	// Used for unsigned density rasters such as WorldPop.
	PolicyThreshold Policy = "threshold"
)

// DefaultDensityThreshold is the conventional people-per-cell cutoff between
// rural and urban density.
const DefaultDensityThreshold = 300

// Classifier applies one classification policy to raw cell values.
type Classifier struct {
	policy    Policy
	threshold float64
}

// NewClassifier validates the policy and builds a Classifier. The threshold
// is only meaningful under PolicyThreshold; passing a non-zero threshold
// with PolicySign is a configuration error since the two encodings must not
// be mixed.
func NewClassifier(policy Policy, threshold float64) (*Classifier, error) {
	switch policy {
	case PolicySign:
		if threshold != 0 {
			return nil, eris.Errorf("classify: density threshold %g is not applicable under the sign policy", threshold)
		}
	case PolicyThreshold:
		if threshold <= 0 {
			return nil, eris.Errorf("classify: threshold policy requires a positive density threshold, got %g", threshold)
		}
	default:
		return nil, eris.Errorf("classify: unknown policy %q", policy)
	}
	return &Classifier{policy: policy, threshold: threshold}, nil
}

// Policy returns the active classification policy.
func (c *Classifier) Policy() Policy { return c.policy }

// Classify labels a raw cell value and returns its population magnitude.
// The caller must exclude no-data and zero-population cells first.
func (c *Classifier) Classify(value float64) (Class, float64) {
	if c.policy == PolicySign {
		if value > 0 {
			return ClassUrban, value
		}
		return ClassRural, -value
	}
	if value >= c.threshold {
		return ClassUrban, value
	}
	return ClassRural, value
}

// Bands is an ascending sequence of distance breakpoints defining intervals
// (prev, break]; the final band is unbounded above.
type Bands struct {
	breaks []float64
	labels []string
}

// DefaultBreaks are the distance band breakpoints (km) used across the
// atlas: 0-1, 1-2, 2-5, 5-10, 10-20, 20-50, 50-100, >100.
var DefaultBreaks = []float64{1, 2, 5, 10, 20, 50, 100}

// NewBands validates that breaks are positive and strictly ascending.
func NewBands(breaks []float64) (*Bands, error) {
	if len(breaks) == 0 {
		return nil, eris.New("classify: at least one band breakpoint is required")
	}
	prev := 0.0
	for i, b := range breaks {
		if math.IsNaN(b) || b <= prev {
			return nil, eris.Errorf("classify: breakpoints must be positive and strictly ascending, got %v at index %d", b, i)
		}
		prev = b
	}
	b := &Bands{breaks: append([]float64(nil), breaks...)}
	b.labels = makeLabels(b.breaks)
	return b, nil
}

func makeLabels(breaks []float64) []string {
	labels := make([]string, len(breaks)+1)
	prev := 0.0
	for i, b := range breaks {
		labels[i] = formatKM(prev) + "-" + formatKM(b) + "km"
		prev = b
	}
	labels[len(breaks)] = ">" + formatKM(prev) + "km"
	return labels
}

func formatKM(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Count returns the number of bands, including the unbounded final band.
func (b *Bands) Count() int { return len(b.breaks) + 1 }

// Index returns the band index for a distance: the first i with
// d <= breaks[i], or Count()-1 for distances beyond the last breakpoint.
func (b *Bands) Index(d float64) int {
	for i, brk := range b.breaks {
		if d <= brk {
			return i
		}
	}
	return len(b.breaks)
}

// Label returns the interval label for band i, e.g. "2-5km" or ">100km".
func (b *Bands) Label(i int) string { return b.labels[i] }

// Labels returns all band labels in order.
func (b *Bands) Labels() []string { return append([]string(nil), b.labels...) }

// Breaks returns the breakpoint sequence.
func (b *Bands) Breaks() []float64 { return append([]float64(nil), b.breaks...) }
