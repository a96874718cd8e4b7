package calculator

import "heatsim/sparse"

// HarmonicMean returns the interface conductivity of two equal-width
// half cells in series.
func HarmonicMean(k1, k2 float64) float64 {
	if k1+k2 == 0 {
		return 0
	}
	return 2 * k1 * k2 / (k1 + k2)
}

// Operator is the discrete conduction operator: L*T approximates
// div(k grad T)/(rho*cp) in cylindrical coordinates. Boundary losses are not
// part of L.
type Operator struct {
	L    *sparse.CSR
	grid *Grid
}

// AssembleOperator builds L once for a grid and material layout.
func AssembleOperator(g *Grid, f *FieldGrid) *Operator {
	n := g.Len()
	b := sparse.NewBuilder(n, 4*n)
	for j := 0; j < g.Nz; j++ {
		cvz := g.AxialCV(j)
		for i := 0; i < g.Nr; i++ {
			k := g.Index(i, j)
			rc := f.RhoC[i][j]
			kij := f.K[i][j]

			if j > 0 {
				kf := HarmonicMean(kij, f.K[i][j-1])
				b.Add(k, g.Index(i, j-1), kf/(g.DZ[j-1]*cvz*rc))
			}
			if j < g.Nz-1 {
				kf := HarmonicMean(kij, f.K[i][j+1])
				b.Add(k, g.Index(i, j+1), kf/(g.DZ[j]*cvz*rc))
			}

			if i == 0 {
				// the axis node owns a disk of radius r_{1/2}
				face := g.RadialFace(0)
				kf := HarmonicMean(kij, f.K[1][j])
				b.Add(k, g.Index(1, j), 2*kf/(g.DR[0]*face*rc))
				continue
			}
			vol := g.R[i] * g.RadialCV(i) * rc
			kf := HarmonicMean(kij, f.K[i-1][j])
			b.Add(k, g.Index(i-1, j), g.RadialFace(i-1)*kf/(g.DR[i-1]*vol))
			if i < g.Nr-1 {
				kf = HarmonicMean(kij, f.K[i+1][j])
				b.Add(k, g.Index(i+1, j), g.RadialFace(i)*kf/(g.DR[i]*vol))
			}
		}
	}

	L := b.Build()
	for k := 0; k < n; k++ {
		var s float64
		L.Row(k, func(col int, v float64) {
			if col != k {
				s += v
			}
		})
		L.Val[L.DiagPos(k)] = -s
	}
	return &Operator{L: L, grid: g}
}

// Apply writes L*T into dT using neighbour differences, so a uniform field
// yields exactly zero.
func (o *Operator) Apply(T, dT []float64) { o.L.MulDiff(T, dT) }
