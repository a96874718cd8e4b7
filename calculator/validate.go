package calculator

import (
	"math"

	"heatsim/model"
)

const (
	defaultEQE     = 0.2
	defaultTEnd    = 1000.0
	defaultAmbient = 298.15
)

// Prepare returns a normalized copy of req: defaults applied, parallel
// layer arrays folded into Layers, and every field checked. Resolution and
// time sampling are checked against opts.Limits so that an oversized request
// is rejected before any allocation.
func Prepare(req *model.SimulationRequest, opts Options) (*model.SimulationRequest, error) {
	r := req.Clone()
	if err := foldLayerArrays(r); err != nil {
		return nil, err
	}
	applyDefaults(r, opts)
	if err := Validate(r, opts); err != nil {
		return nil, err
	}
	return r, nil
}

func foldLayerArrays(r *model.SimulationRequest) error {
	if len(r.Layers) > 0 {
		return nil
	}
	n := len(r.ThicknessNm)
	if len(r.K) != n || len(r.Rho) != n || len(r.Cp) != n ||
		(len(r.LayerNames) != 0 && len(r.LayerNames) != n) {
		return invalid("layers", ErrLayerMismatch)
	}
	for i := 0; i < n; i++ {
		l := model.LayerSpec{
			ThicknessNm:  r.ThicknessNm[i],
			Conductivity: r.K[i],
			Density:      r.Rho[i],
			HeatCapacity: r.Cp[i],
		}
		if len(r.LayerNames) > 0 {
			l.Name = r.LayerNames[i]
		}
		r.Layers = append(r.Layers, l)
	}
	r.LayerNames, r.ThicknessNm, r.K, r.Rho, r.Cp = nil, nil, nil, nil, nil
	return nil
}

func applyDefaults(r *model.SimulationRequest, opts Options) {
	if r.EQE == nil {
		r.EQE = model.Float(defaultEQE)
	}
	if r.TAmbient == 0 {
		r.TAmbient = defaultAmbient
	}
	if r.InitialTemperature == nil {
		r.InitialTemperature = model.Float(r.TAmbient)
	}
	if r.TEnd == 0 && r.TStart == 0 {
		r.TEnd = defaultTEnd
	}
	if r.RadialPoints == 0 {
		r.RadialPoints = opts.Grid.RadialPoints
	}
	if r.RadialMultiplier == 0 {
		r.RadialMultiplier = opts.Grid.RadialMultiplier
	}
	if r.TimeSamples == 0 {
		r.TimeSamples = opts.TimeSamples
	}
	if r.ActiveLayer == "" {
		r.ActiveLayer = opts.ActiveLayer
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func nonNegative(v float64) bool { return finite(v) && v >= 0 }

func fraction(v float64) bool { return finite(v) && v >= 0 && v <= 1 }

// Validate checks a normalized request. Physical checks come first, then
// resource limits.
func Validate(r *model.SimulationRequest, opts Options) error {
	if len(r.Layers) == 0 {
		return invalid("layers", ErrNoLayers)
	}
	for _, l := range r.Layers {
		if !finite(l.ThicknessNm) || l.ThicknessNm <= 0 {
			return invalid("thickness_nm", ErrThickness)
		}
		if !nonNegative(l.Conductivity) || !nonNegative(l.Density) || !nonNegative(l.HeatCapacity) {
			return invalid("layer "+l.Name, ErrMaterial)
		}
		if l.VolumetricHeatCapacity() <= 0 {
			return invalid("layer "+l.Name, ErrHeatCapacity)
		}
	}

	switch {
	case !nonNegative(r.Voltage):
		return invalid("voltage", ErrNegativeVoltage)
	case !nonNegative(r.CurrentDensity):
		return invalid("current_density", ErrNegativeCurrent)
	case r.EQE != nil && !fraction(*r.EQE):
		return invalid("eqe", ErrEQE)
	case !fraction(r.EpsilonTop):
		return invalid("epsilon_top", ErrEmissivity)
	case !fraction(r.EpsilonBottom):
		return invalid("epsilon_bottom", ErrEmissivity)
	case !fraction(r.EpsilonSide):
		return invalid("epsilon_side", ErrEmissivity)
	case !nonNegative(r.HConv):
		return invalid("h_conv", ErrConvection)
	case !finite(r.TAmbient) || r.TAmbient <= 0:
		return invalid("t_ambient", ErrTemperature)
	case r.InitialTemperature != nil && (!finite(*r.InitialTemperature) || *r.InitialTemperature <= 0):
		return invalid("initial_temperature", ErrTemperature)
	case !finite(r.DeviceArea) || r.DeviceArea <= 0:
		return invalid("device_area", ErrArea)
	case !nonNegative(r.TStart) || !finite(r.TEnd) || r.TEnd <= r.TStart:
		return invalid("t_end", ErrTimeSpan)
	case r.RadialPoints < 3:
		return invalid("radial_points", ErrResolution)
	case !finite(r.RadialMultiplier) || r.RadialMultiplier < 1:
		return invalid("radial_multiplier", ErrResolution)
	case r.TimeSamples < 2:
		return invalid("time_samples", ErrResolution)
	}

	lim := opts.Limits
	if span := r.TEnd - r.TStart; span > lim.MaxTimeSpan {
		return &LimitError{Limit: "time_span", Value: span, Max: lim.MaxTimeSpan}
	}
	if r.TimeSamples > lim.MaxTimeSamples {
		return &LimitError{Limit: "time_samples", Value: float64(r.TimeSamples), Max: float64(lim.MaxTimeSamples)}
	}
	return checkResolution(r, opts)
}

// checkResolution rejects grids that would exceed the point, node or memory
// limits. It mirrors the counts produced by BuildGrid without building
// anything.
func checkResolution(r *model.SimulationRequest, opts Options) error {
	lim := opts.Limits
	if r.RadialPoints > lim.MaxRadialPoints {
		return &LimitError{Limit: "radial_points", Value: float64(r.RadialPoints), Max: float64(lim.MaxRadialPoints)}
	}
	nz := 1
	for _, l := range r.Layers {
		p := opts.Grid.PointsFor(l.Name)
		if p < 1 {
			return invalid("points for "+l.Name, ErrResolution)
		}
		nz += p
	}
	if nz > lim.MaxAxialPoints {
		return &LimitError{Limit: "axial_points", Value: float64(nz), Max: float64(lim.MaxAxialPoints)}
	}
	nodes := nz * r.RadialPoints
	if nodes > lim.MaxNodes {
		return &LimitError{Limit: "nodes", Value: float64(nodes), Max: float64(lim.MaxNodes)}
	}
	if band := nodes * (2*r.RadialPoints + 1); band > lim.MaxBandValues {
		return &LimitError{Limit: "band_values", Value: float64(band), Max: float64(lim.MaxBandValues)}
	}
	if out := r.TimeSamples * nodes; out > lim.MaxOutputValues {
		return &LimitError{Limit: "output_values", Value: float64(out), Max: float64(lim.MaxOutputValues)}
	}
	return nil
}
