package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heatsim/calculator"
	"heatsim/model"
)

func smallRun(t *testing.T) *calculator.Result {
	t.Helper()
	opts := calculator.DefaultOptions()
	opts.Grid.LayerPoints = map[string]int{"Glass": 4, "Perovskite": 4}
	opts.Grid.RadialPoints = 5
	opts.TimeSamples = 12
	req := &model.SimulationRequest{
		Layers: []model.LayerSpec{
			{Name: "Glass", ThicknessNm: 5e4, Conductivity: 0.8, Density: 2500, HeatCapacity: 1000},
			{Name: "Perovskite", ThicknessNm: 300, Conductivity: 0.5, Density: 4100, HeatCapacity: 250},
		},
		Voltage:        3,
		CurrentDensity: 300,
		EpsilonTop:     0.1,
		EpsilonBottom:  0.8,
		EpsilonSide:    0.8,
		HConv:          10,
		DeviceArea:     1e-6,
		TEnd:           20,
	}
	res, err := calculator.Simulate(context.Background(), req, opts, nil)
	require.NoError(t, err)
	return res
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Init())
	res := smallRun(t)

	dir, err := s.Save("run-1", res)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, metadataFile))
	assert.FileExists(t, filepath.Join(dir, fieldFile))

	a, err := s.Load("run-1")
	require.NoError(t, err)
	assert.Equal(t, res.Times, a.Times)
	assert.Equal(t, res.Fields, a.Fields)
	assert.Equal(t, res.Nr, a.Nr)
	assert.Equal(t, res.SourceTemperature, a.SourceTemperature())
	assert.Equal(t, res.TotalTime, a.TotalTime)
	assert.Equal(t, res.SourcePeakTemperature, a.SourcePeakTemperature)
	assert.Equal(t, res.LayerNames, a.LayerNames)
}

func TestSummaryMatchesArchive(t *testing.T) {
	s := New(t.TempDir())
	res := smallRun(t)
	_, err := s.Save("run-2", res)
	require.NoError(t, err)
	summary := res.Summary(4)

	a, err := s.Load("run-2")
	require.NoError(t, err)

	total := a.Times[len(a.Times)-1] - a.Times[0]
	assert.InDelta(t, summary.TotalTime, total, 1e-12)
	peak := 0.0
	for _, v := range a.SourceTemperature() {
		if v > peak {
			peak = v
		}
	}
	assert.InDelta(t, summary.SourcePeakTemperature, peak, 1e-9)
	assert.Equal(t, summary.Times[len(summary.Times)-1], a.Times[len(a.Times)-1])
}

func TestDelete(t *testing.T) {
	s := New(t.TempDir())
	res := smallRun(t)
	dir, err := s.Save("run-3", res)
	require.NoError(t, err)

	require.NoError(t, s.Delete("run-3"))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	_, err = s.Load("run-3")
	assert.ErrorIs(t, err, ErrNotFound)

	// idempotent
	assert.NoError(t, s.Delete("run-3"))
}

func TestRejectsPathTraversal(t *testing.T) {
	s := New(t.TempDir())
	for _, id := range []string{"", "..", "a/b", "../x"} {
		_, err := s.Save(id, &calculator.Result{})
		assert.ErrorIs(t, err, ErrInvalidID, id)
		assert.ErrorIs(t, s.Delete(id), ErrInvalidID, id)
	}
}
