package model

import (
	"encoding/json"
	"time"
)

// LayerSpec is one layer of the device stack. Index 0 is the substrate.
type LayerSpec struct {
	Name         string  `json:"name" yaml:"name"`
	ThicknessNm  float64 `json:"thickness_nm" yaml:"thickness_nm"`
	Conductivity float64 `json:"k" yaml:"k"`
	Density      float64 `json:"rho" yaml:"rho"`
	HeatCapacity float64 `json:"cp" yaml:"cp"`
}

// Thickness returns the layer thickness in metres.
func (l LayerSpec) Thickness() float64 { return l.ThicknessNm * 1e-9 }

// VolumetricHeatCapacity returns rho*cp in J/(m^3 K).
func (l LayerSpec) VolumetricHeatCapacity() float64 { return l.Density * l.HeatCapacity }

// SimulationRequest describes one transient run. Layers may be given either
// as a list of LayerSpec or as the parallel per-layer arrays used by the
// browser client; the arrays are only read when Layers is empty.
type SimulationRequest struct {
	Layers []LayerSpec `json:"layers,omitempty" yaml:"layers,omitempty"`

	LayerNames  []string  `json:"layer_names,omitempty" yaml:"layer_names,omitempty"`
	ThicknessNm []float64 `json:"thickness_nm,omitempty" yaml:"thickness_nm,omitempty"`
	K           []float64 `json:"k,omitempty" yaml:"k,omitempty"`
	Rho         []float64 `json:"rho,omitempty" yaml:"rho,omitempty"`
	Cp          []float64 `json:"cp,omitempty" yaml:"cp,omitempty"`

	Voltage        float64  `json:"voltage" yaml:"voltage"`
	CurrentDensity float64  `json:"current_density" yaml:"current_density"`
	EQE            *float64 `json:"eqe,omitempty" yaml:"eqe,omitempty"`

	EpsilonTop    float64 `json:"epsilon_top" yaml:"epsilon_top"`
	EpsilonBottom float64 `json:"epsilon_bottom" yaml:"epsilon_bottom"`
	EpsilonSide   float64 `json:"epsilon_side" yaml:"epsilon_side"`
	HConv         float64 `json:"h_conv" yaml:"h_conv"`
	TAmbient      float64 `json:"t_ambient" yaml:"t_ambient"`

	// InitialTemperature defaults to TAmbient.
	InitialTemperature *float64 `json:"initial_temperature,omitempty" yaml:"initial_temperature,omitempty"`

	// DeviceArea is the emitting footprint in m^2.
	DeviceArea float64 `json:"device_area" yaml:"device_area"`
	TStart     float64 `json:"t_start" yaml:"t_start"`
	TEnd       float64 `json:"t_end" yaml:"t_end"`

	RadialPoints      int     `json:"radial_points,omitempty" yaml:"radial_points,omitempty"`
	RadialMultiplier  float64 `json:"radial_multiplier,omitempty" yaml:"radial_multiplier,omitempty"`
	TimeSamples       int     `json:"time_samples,omitempty" yaml:"time_samples,omitempty"`
	ActiveLayer       string  `json:"active_layer,omitempty" yaml:"active_layer,omitempty"`
	CompressSubstrate bool    `json:"compress_substrate,omitempty" yaml:"compress_substrate,omitempty"`
}

// Clone returns a deep copy.
func (r *SimulationRequest) Clone() *SimulationRequest {
	c := *r
	c.Layers = append([]LayerSpec(nil), r.Layers...)
	c.LayerNames = append([]string(nil), r.LayerNames...)
	c.ThicknessNm = append([]float64(nil), r.ThicknessNm...)
	c.K = append([]float64(nil), r.K...)
	c.Rho = append([]float64(nil), r.Rho...)
	c.Cp = append([]float64(nil), r.Cp...)
	if r.EQE != nil {
		v := *r.EQE
		c.EQE = &v
	}
	if r.InitialTemperature != nil {
		v := *r.InitialTemperature
		c.InitialTemperature = &v
	}
	return &c
}

// Float returns a pointer to v, for the optional request fields.
func Float(v float64) *float64 { return &v }

// Msg is the websocket envelope exchanged with clients.
type Msg struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// ProgressUpdate is pushed to subscribers whenever a session changes.
type ProgressUpdate struct {
	Session   string    `json:"session_id"`
	State     string    `json:"state"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}
