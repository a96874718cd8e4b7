package calculator

import (
	"strings"

	"heatsim/solver"
)

// Limits are resource guards checked before any grid or matrix work.
type Limits struct {
	MaxRadialPoints int
	MaxAxialPoints  int
	MaxNodes        int
	MaxTimeSpan     float64
	MaxTimeSamples  int

	// MaxOutputValues bounds samples*nodes, the size of the sampled field.
	// MaxBandValues bounds nodes*(2*Nr+1), the storage of the banded LU.
	MaxOutputValues int
	MaxBandValues   int
}

func DefaultLimits() Limits {
	return Limits{
		MaxRadialPoints: 200,
		MaxAxialPoints:  2000,
		MaxNodes:        120000,
		MaxTimeSpan:     1e6,
		MaxTimeSamples:  2000,
		MaxOutputValues: 20_000_000,
		MaxBandValues:   10_000_000,
	}
}

// GridOptions control grid resolution. Per-request values override
// RadialPoints and RadialMultiplier.
type GridOptions struct {
	RadialPoints       int
	RadialMultiplier   float64
	FineFraction       float64
	DefaultLayerPoints int
	LayerPoints        map[string]int
}

// DefaultLayerPoints is the axial point table keyed by layer name: coarse for
// the thick passive layers, fine for the emitting layer.
func DefaultLayerPoints() map[string]int {
	return map[string]int{
		"Glass":         50,
		"ITO":           20,
		"HTL":           20,
		"Perovskite":    40,
		"ETL":           20,
		"Cathode":       20,
		"Heat spreader": 20,
		"Heat sink":     30,
	}
}

func DefaultGridOptions() GridOptions {
	return GridOptions{
		RadialPoints:       50,
		RadialMultiplier:   10,
		FineFraction:       0.6,
		DefaultLayerPoints: 20,
		LayerPoints:        DefaultLayerPoints(),
	}
}

// PointsFor returns the axial interval count for a layer name. Lookup is
// case-insensitive.
func (o GridOptions) PointsFor(name string) int {
	if n, ok := o.LayerPoints[name]; ok {
		return n
	}
	for k, n := range o.LayerPoints {
		if strings.EqualFold(k, name) {
			return n
		}
	}
	return o.DefaultLayerPoints
}

type Options struct {
	Grid        GridOptions
	Limits      Limits
	Solver      solver.Options
	TimeSamples int

	// ActiveLayer is the default name of the heat generating layer.
	ActiveLayer string

	// CompressFactor scales the substrate when a request enables
	// CompressSubstrate.
	CompressFactor float64
}

func DefaultOptions() Options {
	return Options{
		Grid:   DefaultGridOptions(),
		Limits: DefaultLimits(),
		Solver: solver.Options{
			RTol:     1e-5,
			ATol:     1e-3,
			MaxSteps: 200000,
		},
		TimeSamples:    200,
		ActiveLayer:    "Perovskite",
		CompressFactor: 1e4,
	}
}
