package calculator

import (
	"math"
	"strings"

	"heatsim/model"
)

// Source is the Joule heating term confined to the active layer and the
// device footprint.
type Source struct {
	Layer    int
	Name     string
	Fallback bool

	// QArea is the non-radiative areal power density in W/m^2 and QVolume
	// the volumetric density in W/m^3 over the true layer thickness.
	QArea   float64
	QVolume float64

	nodes []int
	rate  []float64
	power float64
}

// ActiveLayer finds the heat generating layer by name. When no layer has the
// name it falls back to the first layer above the substrate (or the
// substrate itself for a single-layer stack) and reports fallback=true.
func ActiveLayer(layers []model.LayerSpec, name string) (index int, fallback bool) {
	for i, l := range layers {
		if strings.EqualFold(l.Name, name) {
			return i, false
		}
	}
	if len(layers) > 1 {
		return 1, true
	}
	return 0, true
}

// NewSource builds the per-node heating rates. layers carries the true
// (uncompressed) layer properties; g and f are the grid and materials the
// operator was assembled on. A nil EQE counts as the default efficiency.
//
// Each node's rate uses its own rho*cp and control volume, so the deposited
// power sums to QArea*DeviceArea on the operator's measure. The node on the
// device edge is heated by the part of its annulus inside the device.
func NewSource(req *model.SimulationRequest, layers []model.LayerSpec, g *Grid, f *FieldGrid) *Source {
	idx, fallback := ActiveLayer(layers, req.ActiveLayer)
	l := layers[idx]
	eqe := defaultEQE
	if req.EQE != nil {
		eqe = *req.EQE
	}
	s := &Source{
		Layer:    idx,
		Name:     l.Name,
		Fallback: fallback,
		QArea:    req.Voltage * req.CurrentDensity * (1 - eqe),
	}
	s.QVolume = s.QArea / l.Thickness()
	lr := g.Layers[idx]
	height := g.Z[lr.End] - g.Z[lr.Start]
	if s.QArea == 0 || height <= 0 {
		return s
	}

	var inside []float64
	var covered float64
	for i := 0; i < g.Nr; i++ {
		frac := footprint(g, i)
		if frac == 0 {
			break
		}
		inside = append(inside, frac)
		covered += frac * g.NodeArea(i)
	}
	// areal density on the grid's own layer height and footprint measure
	q := s.QArea / height * (math.Pi * g.DeviceRadius * g.DeviceRadius) / covered

	for j := lr.Start; j <= lr.End; j++ {
		share := layerShare(g, lr, j)
		if share == 0 {
			continue
		}
		for i, frac := range inside {
			rc := f.RhoC[i][j]
			w := share * frac * q / rc
			s.nodes = append(s.nodes, g.Index(i, j))
			s.rate = append(s.rate, w)
			s.power += w * rc * g.AxialCV(j) * g.NodeArea(i)
		}
	}
	return s
}

// footprint is the fraction of radial node i's annulus lying within the
// device radius.
func footprint(g *Grid, i int) float64 {
	var inner float64
	if i > 0 {
		inner = g.RadialFace(i - 1)
	}
	outer := g.RadialFace(i)
	rd := g.DeviceRadius
	switch {
	case inner >= rd:
		return 0
	case outer <= rd:
		return 1
	}
	return (rd*rd - inner*inner) / (outer*outer - inner*inner)
}

// layerShare is the fraction of node j's axial control volume lying inside
// the layer. Interface nodes are shared with the neighbouring layer.
func layerShare(g *Grid, lr LayerRange, j int) float64 {
	var below, above float64
	if j > 0 {
		below = g.DZ[j-1] / 2
	}
	if j < g.Nz-1 {
		above = g.DZ[j] / 2
	}
	var inside float64
	if j > lr.Start {
		inside += below
	}
	if j < lr.End {
		inside += above
	}
	return inside / (below + above)
}

// Apply adds the heating rate to dT.
func (s *Source) Apply(dT []float64) {
	for p, k := range s.nodes {
		dT[k] += s.rate[p]
	}
}

// Power returns the heating power in W deposited into the model.
func (s *Source) Power() float64 { return s.power }
