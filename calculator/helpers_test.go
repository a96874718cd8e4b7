package calculator

import "heatsim/model"

// testOptions keeps grids tiny so whole simulations run in milliseconds.
func testOptions() Options {
	opts := DefaultOptions()
	opts.Grid.LayerPoints = map[string]int{"Glass": 6, "Perovskite": 4, "Cathode": 2}
	opts.Grid.DefaultLayerPoints = 3
	opts.Grid.RadialPoints = 6
	opts.Grid.RadialMultiplier = 5
	opts.TimeSamples = 20
	return opts
}

func testRequest() *model.SimulationRequest {
	return &model.SimulationRequest{
		Layers: []model.LayerSpec{
			{Name: "Glass", ThicknessNm: 1e5, Conductivity: 0.8, Density: 2500, HeatCapacity: 1000},
			{Name: "Perovskite", ThicknessNm: 500, Conductivity: 0.5, Density: 4100, HeatCapacity: 250},
			{Name: "Cathode", ThicknessNm: 100, Conductivity: 200, Density: 2700, HeatCapacity: 900},
		},
		Voltage:        3,
		CurrentDensity: 300,
		EQE:            model.Float(0.2),
		EpsilonTop:     0.05,
		EpsilonBottom:  0.85,
		EpsilonSide:    0.85,
		HConv:          10,
		TAmbient:       298.15,
		DeviceArea:     1e-6,
		TEnd:           100,
	}
}

func prepared(req *model.SimulationRequest, opts Options) *model.SimulationRequest {
	r, err := Prepare(req, opts)
	if err != nil {
		panic(err)
	}
	return r
}
