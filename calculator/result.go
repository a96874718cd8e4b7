package calculator

import (
	"math"

	"heatsim/model"
	"heatsim/solver"
)

// Result is the outcome of one simulation. Temperatures are in kelvin,
// lengths in metres unless a field name says otherwise.
type Result struct {
	Times []float64 `json:"time"`
	R     []float64 `json:"r"`
	Z     []float64 `json:"z"`
	Nr    int       `json:"nr"`
	Nz    int       `json:"nz"`

	// FinalField is indexed [radial][axial].
	FinalField [][]float64 `json:"final_field"`
	// RadialProfiles[t] runs along r through the middle of the active
	// layer, AxialProfiles[t] along z on the axis.
	RadialProfiles [][]float64 `json:"radial_profiles"`
	AxialProfiles  [][]float64 `json:"axial_profiles"`

	SourceTemperature     []float64 `json:"source_temperature"`
	SourcePeakTemperature float64   `json:"source_peak_temperature"`
	PeakTemperature       float64   `json:"peak_temperature"`
	TotalTime             float64   `json:"total_time"`

	// LayerBoundaries are the tops of the layers above the substrate in nm,
	// measured from the substrate top, which lies SubstrateBoundary nm above
	// z=0.
	LayerBoundaries   []float64 `json:"layer_boundaries_nm"`
	SubstrateBoundary float64   `json:"substrate_boundary_nm"`

	LayerNames          []string  `json:"layer_names"`
	DeviceRadius        float64   `json:"device_radius"`
	ActiveLayer         string    `json:"active_layer"`
	ActiveLayerFallback bool      `json:"active_layer_fallback"`
	SourceNode          [2]int    `json:"source_node"`
	SourcePower         float64   `json:"source_power"`

	Stats solver.Stats `json:"solver_stats"`

	// Fields holds every sampled field flattened as j*Nr+i. It is written to
	// the archive, never inline.
	Fields [][]float64 `json:"-"`
}

func newResult(req *model.SimulationRequest, g *Grid, src *Source, sol *solver.Solution, scale float64) *Result {
	lr := g.Layers[src.Layer]
	mid := (lr.Start + lr.End) / 2
	res := &Result{
		Times:               sol.T,
		R:                   g.R,
		Z:                   restoreAxis(g, scale),
		Nr:                  g.Nr,
		Nz:                  g.Nz,
		DeviceRadius:        g.DeviceRadius,
		ActiveLayer:         src.Name,
		ActiveLayerFallback: src.Fallback,
		SourceNode:          [2]int{0, mid},
		SourcePower:         src.Power(),
		Stats:               sol.Stats,
		Fields:              sol.Y,
	}

	for _, l := range req.Layers {
		res.LayerNames = append(res.LayerNames, l.Name)
	}
	res.SubstrateBoundary = res.Z[g.Layers[0].End] * 1e9
	res.LayerBoundaries = []float64{0}
	for _, lr := range g.Layers[1:] {
		res.LayerBoundaries = append(res.LayerBoundaries, res.Z[lr.End]*1e9-res.SubstrateBoundary)
	}

	src0 := g.Index(0, mid)
	res.SourcePeakTemperature = math.Inf(-1)
	for _, y := range sol.Y {
		radial := make([]float64, g.Nr)
		copy(radial, y[mid*g.Nr:(mid+1)*g.Nr])
		axial := make([]float64, g.Nz)
		for j := range axial {
			axial[j] = y[g.Index(0, j)]
		}
		res.RadialProfiles = append(res.RadialProfiles, radial)
		res.AxialProfiles = append(res.AxialProfiles, axial)
		res.SourceTemperature = append(res.SourceTemperature, y[src0])
		res.SourcePeakTemperature = math.Max(res.SourcePeakTemperature, y[src0])
	}

	last := sol.Y[len(sol.Y)-1]
	res.FinalField = make([][]float64, g.Nr)
	res.PeakTemperature = math.Inf(-1)
	for i := range res.FinalField {
		res.FinalField[i] = make([]float64, g.Nz)
		for j := range res.FinalField[i] {
			v := last[g.Index(i, j)]
			res.FinalField[i][j] = v
			res.PeakTemperature = math.Max(res.PeakTemperature, v)
		}
	}
	res.TotalTime = sol.T[len(sol.T)-1] - sol.T[0]
	return res
}

// restoreAxis maps axial coordinates of a compressed substrate back to true
// positions.
func restoreAxis(g *Grid, scale float64) []float64 {
	z := append([]float64(nil), g.Z...)
	if scale == 1 {
		return z
	}
	end := g.Layers[0].End
	offset := g.Z[end] * (scale - 1)
	for j := range z {
		if j <= end {
			z[j] *= scale
		} else {
			z[j] += offset
		}
	}
	return z
}

// Summary returns a copy reduced to at most maxSamples time samples, always
// keeping the first and last one. Scalars such as the source peak are
// carried over from the full series. Fields are dropped.
func (r *Result) Summary(maxSamples int) *Result {
	s := *r
	s.Fields = nil
	n := len(r.Times)
	if maxSamples < 2 || n <= maxSamples {
		return &s
	}
	idx := make([]int, maxSamples)
	for q := range idx {
		idx[q] = int(math.Round(float64(q) * float64(n-1) / float64(maxSamples-1)))
	}
	s.Times = make([]float64, maxSamples)
	s.SourceTemperature = make([]float64, maxSamples)
	s.RadialProfiles = make([][]float64, maxSamples)
	s.AxialProfiles = make([][]float64, maxSamples)
	for q, k := range idx {
		s.Times[q] = r.Times[k]
		s.SourceTemperature[q] = r.SourceTemperature[k]
		s.RadialProfiles[q] = r.RadialProfiles[k]
		s.AxialProfiles[q] = r.AxialProfiles[k]
	}
	return &s
}
