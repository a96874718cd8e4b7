package calculator

import "heatsim/model"

// FieldGrid holds nodal conductivity and volumetric heat capacity, indexed
// [radial][axial].
type FieldGrid struct {
	K    [][]float64
	RhoC [][]float64
}

// MapMaterials paints each layer's properties across its axial range and all
// radial nodes. Layers are painted bottom up, so a shared interface node
// takes the properties of the upper layer.
func MapMaterials(g *Grid, layers []model.LayerSpec) *FieldGrid {
	f := &FieldGrid{
		K:    make([][]float64, g.Nr),
		RhoC: make([][]float64, g.Nr),
	}
	for i := 0; i < g.Nr; i++ {
		f.K[i] = make([]float64, g.Nz)
		f.RhoC[i] = make([]float64, g.Nz)
	}
	for li, lr := range g.Layers {
		k := layers[li].Conductivity
		rc := layers[li].VolumetricHeatCapacity()
		for i := 0; i < g.Nr; i++ {
			for j := lr.Start; j <= lr.End; j++ {
				f.K[i][j] = k
				f.RhoC[i][j] = rc
			}
		}
	}
	return f
}
