package calculator

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildGridAxial(t *testing.T) {
	opts := testOptions()
	g, err := BuildGrid(prepared(testRequest(), opts), opts)
	require.NoError(t, err)

	assert.Equal(t, 1+6+4+2, g.Nz)
	assert.Equal(t, []LayerRange{
		{Name: "Glass", Start: 0, End: 6},
		{Name: "Perovskite", Start: 6, End: 10},
		{Name: "Cathode", Start: 10, End: 12},
	}, g.Layers)
	assert.InEpsilon(t, (1e5+500+100)*1e-9, g.Z[g.Nz-1], 1e-12)
	for j := 1; j < g.Nz; j++ {
		assert.Greater(t, g.Z[j], g.Z[j-1])
		assert.InDelta(t, g.Z[j]-g.Z[j-1], g.DZ[j-1], 1e-20)
	}
	assert.InDelta(t, 500e-9/4, g.DZ[7], 1e-18)
}

func TestBuildGridRadial(t *testing.T) {
	opts := testOptions()
	req := testRequest()
	req.RadialPoints = 10
	req.RadialMultiplier = 10
	g, err := BuildGrid(prepared(req, opts), opts)
	require.NoError(t, err)

	rDev := math.Sqrt(1e-6 / math.Pi)
	assert.InEpsilon(t, rDev, g.DeviceRadius, 1e-12)
	require.Len(t, g.R, 10)
	assert.Equal(t, 0.0, g.R[0])
	assert.InEpsilon(t, rDev, g.R[5], 1e-12)
	assert.InEpsilon(t, 10*rDev, g.R[9], 1e-12)
	// uniform inside the device, geometric outside
	assert.InEpsilon(t, g.DR[0], g.DR[4], 1e-9)
	assert.InEpsilon(t, g.R[7]/g.R[6], g.R[8]/g.R[7], 1e-9)
	for i := 1; i < len(g.R); i++ {
		assert.Greater(t, g.R[i], g.R[i-1])
	}
}

func TestBuildGridNoCoarseRegion(t *testing.T) {
	opts := testOptions()
	req := testRequest()
	req.RadialPoints = 5
	req.RadialMultiplier = 1
	g, err := BuildGrid(prepared(req, opts), opts)
	require.NoError(t, err)
	assert.Len(t, g.R, 5)
	assert.InEpsilon(t, g.DeviceRadius, g.R[4], 1e-12)
}

func TestBuildGridLimits(t *testing.T) {
	opts := testOptions()
	req := prepared(testRequest(), opts)
	opts.Limits.MaxNodes = 20

	_, err := BuildGrid(req, opts)
	var lerr *LimitError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, "nodes", lerr.Limit)
	assert.ErrorIs(t, err, ErrLimit)
}

func TestControlVolumes(t *testing.T) {
	opts := testOptions()
	g, err := BuildGrid(prepared(testRequest(), opts), opts)
	require.NoError(t, err)

	var total float64
	for j := 0; j < g.Nz; j++ {
		total += g.AxialCV(j)
	}
	assert.InEpsilon(t, g.Z[g.Nz-1], total, 1e-12)

	var width float64
	for i := 0; i < g.Nr; i++ {
		width += g.RadialCV(i)
	}
	assert.InEpsilon(t, g.R[g.Nr-1], width, 1e-12)
}

func TestPointsForIsCaseInsensitive(t *testing.T) {
	o := DefaultGridOptions()
	assert.Equal(t, 40, o.PointsFor("perovskite"))
	assert.Equal(t, 30, o.PointsFor("Heat sink"))
	assert.Equal(t, 20, o.PointsFor("Unknown"))
}
