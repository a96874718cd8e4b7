package calculator

import (
	"math"

	"heatsim/model"
)

// LayerRange is the inclusive axial node range [Start, End] of a layer.
// Adjacent layers share their interface node.
type LayerRange struct {
	Name  string
	Start int
	End   int
}

// Grid is the axisymmetric node layout. Nodes are flattened with the radial
// index varying fastest: k = j*Nr + i for radial index i and axial index j.
type Grid struct {
	Z  []float64
	R  []float64
	DZ []float64
	DR []float64

	Layers       []LayerRange
	DeviceRadius float64

	Nz, Nr int
}

func (g *Grid) Index(i, j int) int { return j*g.Nr + i }

// Len returns the number of nodes.
func (g *Grid) Len() int { return g.Nz * g.Nr }

// AxialCV returns the control volume thickness around axial node j. End
// nodes own half a cell.
func (g *Grid) AxialCV(j int) float64 {
	switch {
	case g.Nz == 1:
		return 0
	case j == 0:
		return g.DZ[0] / 2
	case j == g.Nz-1:
		return g.DZ[g.Nz-2] / 2
	}
	return (g.DZ[j-1] + g.DZ[j]) / 2
}

// RadialFace returns the radius of the outer face of radial node i. The
// outermost node's face lies on the domain boundary.
func (g *Grid) RadialFace(i int) float64 {
	if i == g.Nr-1 {
		return g.R[i]
	}
	return (g.R[i] + g.R[i+1]) / 2
}

// RadialCV returns the control volume width around radial node i.
func (g *Grid) RadialCV(i int) float64 {
	if i == 0 {
		return g.RadialFace(0)
	}
	return g.RadialFace(i) - g.RadialFace(i-1)
}

// NodeArea returns the cross-section owned by radial node i as weighted by
// the operator: a disk of radius r_{1/2} on the axis, 2*pi*r_i*RadialCV(i)
// elsewhere.
func (g *Grid) NodeArea(i int) float64 {
	if i == 0 {
		f := g.RadialFace(0)
		return math.Pi * f * f
	}
	return 2 * math.Pi * g.R[i] * g.RadialCV(i)
}

// BuildGrid lays out the axial and radial nodes for a normalized request.
func BuildGrid(req *model.SimulationRequest, opts Options) (*Grid, error) {
	if len(req.Layers) == 0 {
		return nil, invalid("layers", ErrNoLayers)
	}
	if err := checkResolution(req, opts); err != nil {
		return nil, err
	}

	g := &Grid{}
	g.Z, g.Layers = axialNodes(req.Layers, opts.Grid)
	g.DeviceRadius = math.Sqrt(req.DeviceArea / math.Pi)
	g.R = radialNodes(g.DeviceRadius, req.RadialMultiplier, req.RadialPoints, opts.Grid.FineFraction)
	g.Nz, g.Nr = len(g.Z), len(g.R)
	g.DZ = diff(g.Z)
	g.DR = diff(g.R)
	return g, nil
}

func axialNodes(layers []model.LayerSpec, opts GridOptions) ([]float64, []LayerRange) {
	z := []float64{0}
	ranges := make([]LayerRange, 0, len(layers))
	start := 0
	for _, l := range layers {
		n := opts.PointsFor(l.Name)
		base := z[len(z)-1]
		h := l.Thickness()
		for p := 1; p <= n; p++ {
			z = append(z, base+h*float64(p)/float64(n))
		}
		ranges = append(ranges, LayerRange{Name: l.Name, Start: start, End: start + n})
		start += n
	}
	return z, ranges
}

// radialNodes places a uniform fine region over the device footprint and a
// logarithmic coarse region out to rDev*multiplier, n nodes in total.
func radialNodes(rDev, multiplier float64, n int, fineFraction float64) []float64 {
	if multiplier <= 1 {
		return linspace(0, rDev, n)
	}
	nFine := int(math.Round(fineFraction * float64(n)))
	if nFine < 2 {
		nFine = 2
	}
	if nFine > n-1 {
		nFine = n - 1
	}
	r := linspace(0, rDev, nFine)
	nCoarse := n - nFine
	logMax := math.Log(multiplier)
	for k := 1; k <= nCoarse; k++ {
		r = append(r, rDev*math.Exp(logMax*float64(k)/float64(nCoarse)))
	}
	return r
}

func linspace(a, b float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = a + (b-a)*float64(i)/float64(n-1)
	}
	out[n-1] = b
	return out
}

func diff(x []float64) []float64 {
	if len(x) < 2 {
		return nil
	}
	d := make([]float64, len(x)-1)
	for i := range d {
		d[i] = x[i+1] - x[i]
	}
	return d
}
