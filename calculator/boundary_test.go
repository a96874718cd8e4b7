package calculator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heatsim/model"
)

func TestBoundaryFlux(t *testing.T) {
	b := &Boundary{h: 10, tAmb: 300}
	assert.Equal(t, 0.0, b.Flux(300, 0.9))

	T := 420.0
	want := 10*(T-300) + 0.9*StefanBoltzmann*(math.Pow(T, 4)-math.Pow(300, 4))
	assert.InEpsilon(t, want, b.Flux(T, 0.9), 1e-12)

	// the factored form keeps full precision for tiny differences
	hot := 300 + 1e-9
	d := hot - 300
	assert.InEpsilon(t, 10*d+0.5*StefanBoltzmann*4*300*300*300*d, b.Flux(hot, 0.5), 1e-8)
}

func TestBoundaryJacobianMatchesDifference(t *testing.T) {
	opts := testOptions()
	req := prepared(testRequest(), opts)
	req.HConv = 25
	g, err := BuildGrid(req, opts)
	require.NoError(t, err)
	f := MapMaterials(g, req.Layers)
	op := AssembleOperator(g, f)
	b := NewBoundary(req, g, f)

	T := make([]float64, g.Len())
	for k := range T {
		T[k] = 300 + float64(k%7)*10
	}
	J := op.L.Clone()
	for k := range J.Val {
		J.Val[k] = 0
	}
	b.AddJacobian(T, J)

	// corner (outer, bottom), top axis node, outer mid-height node
	for _, k := range []int{g.Index(g.Nr-1, 0), g.Index(0, g.Nz-1), g.Index(g.Nr-1, 5)} {
		const dt = 1e-4
		lo := make([]float64, g.Len())
		hi := make([]float64, g.Len())
		Tp := append([]float64(nil), T...)
		Tp[k] += dt
		b.Apply(T, lo)
		b.Apply(Tp, hi)
		fd := (hi[k] - lo[k]) / dt
		assert.InEpsilon(t, fd, J.Diag(k), 1e-5, "node %d", k)
	}
	// interior nodes untouched
	assert.Equal(t, 0.0, J.Diag(g.Index(1, 3)))
}

func TestBoundaryNoLossIsZero(t *testing.T) {
	opts := testOptions()
	req := prepared(testRequest(), opts)
	req.HConv, req.EpsilonTop, req.EpsilonBottom, req.EpsilonSide = 0, 0, 0, 0
	g, err := BuildGrid(req, opts)
	require.NoError(t, err)
	b := NewBoundary(req, g, MapMaterials(g, req.Layers))

	T := make([]float64, g.Len())
	for k := range T {
		T[k] = 400
	}
	dT := make([]float64, g.Len())
	b.Apply(T, dT)
	for _, v := range dT {
		assert.Equal(t, 0.0, v)
	}
}

func TestActiveLayer(t *testing.T) {
	layers := []model.LayerSpec{{Name: "Glass"}, {Name: "ITO"}, {Name: "perovskite"}}
	idx, fb := ActiveLayer(layers, "Perovskite")
	assert.Equal(t, 2, idx)
	assert.False(t, fb)

	idx, fb = ActiveLayer(layers, "Emitter")
	assert.Equal(t, 1, idx)
	assert.True(t, fb)

	idx, fb = ActiveLayer(layers[:1], "Emitter")
	assert.Equal(t, 0, idx)
	assert.True(t, fb)
}

func TestSourceFootprintAndPower(t *testing.T) {
	opts := testOptions()
	req := prepared(testRequest(), opts)
	g, err := BuildGrid(req, opts)
	require.NoError(t, err)
	f := MapMaterials(g, req.Layers)
	s := NewSource(req, req.Layers, g, f)

	assert.Equal(t, 1, s.Layer)
	assert.False(t, s.Fallback)
	assert.InEpsilon(t, 3*300*0.8, s.QArea, 1e-12)
	assert.InEpsilon(t, s.QArea/500e-9, s.QVolume, 1e-12)

	dT := make([]float64, g.Len())
	s.Apply(dT)
	lr := g.Layers[1]
	for j := 0; j < g.Nz; j++ {
		for i := 0; i < g.Nr; i++ {
			v := dT[g.Index(i, j)]
			inside := j >= lr.Start && j <= lr.End && g.R[i] <= g.DeviceRadius
			if inside {
				assert.Greater(t, v, 0.0, "node (%d,%d)", i, j)
			} else {
				assert.Equal(t, 0.0, v, "node (%d,%d)", i, j)
			}
		}
	}
	assert.InEpsilon(t, s.QArea*req.DeviceArea, s.Power(), 1e-9)
}

// deposited sums rho*cp*V*dT over the control volumes the operator conserves.
func deposited(g *Grid, f *FieldGrid, dT []float64) float64 {
	var p float64
	for j := 0; j < g.Nz; j++ {
		for i := 0; i < g.Nr; i++ {
			p += f.RhoC[i][j] * g.AxialCV(j) * g.NodeArea(i) * dT[g.Index(i, j)]
		}
	}
	return p
}

func TestNodeAreaMatchesOperator(t *testing.T) {
	opts := testOptions()
	req := prepared(testRequest(), opts)
	g, err := BuildGrid(req, opts)
	require.NoError(t, err)
	f := MapMaterials(g, req.Layers)
	op := AssembleOperator(g, f)

	T := make([]float64, g.Len())
	for k := range T {
		T[k] = 300 + float64((k*37)%11)
	}
	dT := make([]float64, g.Len())
	op.Apply(T, dT)

	var scale float64
	for j := 0; j < g.Nz; j++ {
		for i := 0; i < g.Nr; i++ {
			k := g.Index(i, j)
			scale += math.Abs(f.RhoC[i][j] * g.AxialCV(j) * g.NodeArea(i) * dT[k])
		}
	}
	assert.InDelta(t, 0, deposited(g, f, dT), 1e-9*scale)
}

func TestSourceDepositsDevicePower(t *testing.T) {
	for _, compress := range []bool{false, true} {
		opts := testOptions()
		opts.CompressFactor = 100
		req := prepared(testRequest(), opts)
		layers := req.Layers
		if compress {
			layers = compressSubstrate(req.Layers, opts.CompressFactor)
		}
		gridReq := req.Clone()
		gridReq.Layers = layers
		g, err := BuildGrid(gridReq, opts)
		require.NoError(t, err)
		f := MapMaterials(g, layers)
		s := NewSource(req, req.Layers, g, f)

		dT := make([]float64, g.Len())
		s.Apply(dT)
		want := s.QArea * req.DeviceArea
		assert.InEpsilon(t, want, deposited(g, f, dT), 1e-9, "compress=%v", compress)
		assert.InEpsilon(t, want, s.Power(), 1e-9, "compress=%v", compress)
	}
}

func TestSourceWithoutRadialCoarseRegion(t *testing.T) {
	opts := testOptions()
	req := prepared(testRequest(), opts)
	req.RadialMultiplier = 1
	g, err := BuildGrid(req, opts)
	require.NoError(t, err)
	f := MapMaterials(g, req.Layers)
	s := NewSource(req, req.Layers, g, f)

	dT := make([]float64, g.Len())
	s.Apply(dT)
	assert.InEpsilon(t, s.QArea*req.DeviceArea, deposited(g, f, dT), 1e-9)
}

func TestSourceDefaultsMissingEQE(t *testing.T) {
	opts := testOptions()
	req := prepared(testRequest(), opts)
	req.EQE = nil
	g, err := BuildGrid(req, opts)
	require.NoError(t, err)
	s := NewSource(req, req.Layers, g, MapMaterials(g, req.Layers))
	assert.InEpsilon(t, 3*300*(1-defaultEQE), s.QArea, 1e-12)
}

func TestSourceZeroCurrent(t *testing.T) {
	opts := testOptions()
	req := prepared(testRequest(), opts)
	req.CurrentDensity = 0
	g, err := BuildGrid(req, opts)
	require.NoError(t, err)
	s := NewSource(req, req.Layers, g, MapMaterials(g, req.Layers))
	assert.Equal(t, 0.0, s.QArea)
	assert.Equal(t, 0.0, s.Power())
}
