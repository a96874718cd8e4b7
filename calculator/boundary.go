package calculator

import (
	"heatsim/model"
	"heatsim/sparse"
)

// StefanBoltzmann constant in W/(m^2 K^4).
const StefanBoltzmann = 5.670374419e-8

type boundaryNode struct {
	k   int
	eps float64
	// w is 1/(rho*cp*delta) for the boundary control volume
	w float64
}

// Boundary applies convective and radiative losses on the bottom, top and
// outer radial faces. A corner node appears once per face it touches.
type Boundary struct {
	h, tAmb float64
	nodes   []boundaryNode
}

func NewBoundary(req *model.SimulationRequest, g *Grid, f *FieldGrid) *Boundary {
	b := &Boundary{h: req.HConv, tAmb: req.TAmbient}
	top := g.Nz - 1
	outer := g.Nr - 1

	dzBottom := g.AxialCV(0)
	dzTop := g.AxialCV(top)
	for i := 0; i < g.Nr; i++ {
		b.add(g.Index(i, 0), req.EpsilonBottom, f.RhoC[i][0]*dzBottom)
		b.add(g.Index(i, top), req.EpsilonTop, f.RhoC[i][top]*dzTop)
	}
	drOuter := g.RadialCV(outer)
	for j := 0; j < g.Nz; j++ {
		b.add(g.Index(outer, j), req.EpsilonSide, f.RhoC[outer][j]*drOuter)
	}
	return b
}

func (b *Boundary) add(k int, eps, denom float64) {
	b.nodes = append(b.nodes, boundaryNode{k: k, eps: eps, w: 1 / denom})
}

// Flux returns the outward loss per unit area at temperature t for a
// surface of emissivity eps. The radiative part is factored to avoid
// cancellation near ambient.
func (b *Boundary) Flux(t, eps float64) float64 {
	ta := b.tAmb
	d := t - ta
	return b.h*d + eps*StefanBoltzmann*(t*t+ta*ta)*(t+ta)*d
}

// Apply subtracts the boundary losses from dT.
func (b *Boundary) Apply(T, dT []float64) {
	for _, n := range b.nodes {
		dT[n.k] -= n.w * b.Flux(T[n.k], n.eps)
	}
}

// AddJacobian adds the derivative of the losses to the diagonal of J.
func (b *Boundary) AddJacobian(T []float64, J *sparse.CSR) {
	for _, n := range b.nodes {
		t := T[n.k]
		J.AddDiag(n.k, -n.w*(4*n.eps*StefanBoltzmann*t*t*t+b.h))
	}
}
