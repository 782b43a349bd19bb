package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swac-vis/africa-rural-atlas/internal/aggregate"
	"github.com/swac-vis/africa-rural-atlas/internal/model"
)

func TestRootCommandTree(t *testing.T) {
	want := map[string]bool{
		"run":     false,
		"batch":   false,
		"export":  false,
		"serve":   false,
		"runs":    false,
		"regions": false,
	}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		assert.True(t, found, "command %s not registered", name)
	}
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("123456789abcdef"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "abcdef1234567890",
			Params:    model.RunParams{Scopes: []string{"Niger", "Mali"}},
			Status:    model.RunStatusComplete,
			CreatedAt: now,
			UpdatedAt: now.Add(90 * time.Second),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()
	require.Contains(t, out, "abcdef12")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "1m30s")
}

func TestFormatRegionsList(t *testing.T) {
	regions := []aggregate.RegionResult{
		{
			Region:          "West Africa",
			Members:         []string{"Niger", "Mali"},
			TotalPopulation: 1200,
			UrbanPopulation: 800,
			RuralPopulation: 400,
		},
	}

	var buf bytes.Buffer
	formatRegionsList(&buf, regions)
	out := buf.String()
	require.Contains(t, out, "West Africa")
	assert.Contains(t, out, "Niger, Mali")
	assert.Contains(t, out, "1200")
}
