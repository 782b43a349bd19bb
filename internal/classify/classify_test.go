package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClassifier(t *testing.T) {
	tests := []struct {
		name      string
		policy    Policy
		threshold float64
		wantErr   bool
	}{
		{name: "sign policy", policy: PolicySign, threshold: 0},
		{name: "threshold policy", policy: PolicyThreshold, threshold: 300},
		{name: "sign with threshold is mixing policies", policy: PolicySign, threshold: 300, wantErr: true},
		{name: "threshold policy without threshold", policy: PolicyThreshold, threshold: 0, wantErr: true},
		{name: "negative threshold", policy: PolicyThreshold, threshold: -5, wantErr: true},
		{name: "unknown policy", policy: Policy("density"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClassifier(tt.policy, tt.threshold)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClassifier_SignPolicy(t *testing.T) {
	c, err := NewClassifier(PolicySign, 0)
	require.NoError(t, err)

	class, pop := c.Classify(100)
	assert.Equal(t, ClassUrban, class)
	assert.Equal(t, 100.0, pop)

	class, pop = c.Classify(-50)
	assert.Equal(t, ClassRural, class)
	assert.Equal(t, 50.0, pop, "magnitude is population under the sign encoding")
}

func TestClassifier_ThresholdPolicy(t *testing.T) {
	c, err := NewClassifier(PolicyThreshold, 300)
	require.NoError(t, err)

	tests := []struct {
		value float64
		class Class
	}{
		{value: 300, class: ClassUrban},
		{value: 301, class: ClassUrban},
		{value: 299.9, class: ClassRural},
		{value: 1, class: ClassRural},
	}
	for _, tt := range tests {
		class, pop := c.Classify(tt.value)
		assert.Equal(t, tt.class, class, "value %g", tt.value)
		assert.Equal(t, tt.value, pop)
	}
}

func TestNewBands_Validation(t *testing.T) {
	tests := []struct {
		name    string
		breaks  []float64
		wantErr bool
	}{
		{name: "default breaks", breaks: DefaultBreaks},
		{name: "empty", breaks: nil, wantErr: true},
		{name: "not ascending", breaks: []float64{1, 5, 2}, wantErr: true},
		{name: "duplicate", breaks: []float64{1, 1}, wantErr: true},
		{name: "non-positive first", breaks: []float64{0, 1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBands(tt.breaks)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBands_IndexAndLabels(t *testing.T) {
	b, err := NewBands(DefaultBreaks)
	require.NoError(t, err)
	assert.Equal(t, 8, b.Count())

	tests := []struct {
		d     float64
		label string
	}{
		{d: 0, label: "0-1km"},
		{d: 1, label: "0-1km"}, // bands are closed on the right
		{d: 1.01, label: "1-2km"},
		{d: 5, label: "2-5km"},
		{d: 15, label: "10-20km"},
		{d: 100, label: "50-100km"},
		{d: 100.1, label: ">100km"},
		{d: 4000, label: ">100km"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.label, b.Label(b.Index(tt.d)), "distance %g", tt.d)
	}
}
