package calculator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"heatsim/model"
	"heatsim/solver"
	"heatsim/sparse"
)

// progressStep is the minimum change in percent between two reports.
const progressStep = 0.5

// problem is the semi-discrete heat equation dT/dt = L*T + source + losses(T)
// over the flattened field.
type problem struct {
	op  *Operator
	bnd *Boundary
	src *Source
	jac *sparse.CSR

	t0      float64
	logSpan float64
	rep     Reporter
	lastPct float64
}

func newProblem(op *Operator, bnd *Boundary, src *Source, t0, tEnd float64, rep Reporter) *problem {
	return &problem{
		op:      op,
		bnd:     bnd,
		src:     src,
		jac:     op.L.Clone(),
		t0:      t0,
		logSpan: math.Log1p(tEnd - t0),
		rep:     rep,
		lastPct: -progressStep,
	}
}

func (p *problem) Dim() int { return p.op.L.Dim() }

func (p *problem) Eval(t float64, T, dT []float64) {
	p.op.Apply(T, dT)
	p.src.Apply(dT)
	p.bnd.Apply(T, dT)
	p.progress(t)
}

// Jacobian returns L plus the boundary loss derivatives. The returned matrix
// is reused between calls; only its values change.
func (p *problem) Jacobian(t float64, T []float64) *sparse.CSR {
	p.jac.CopyValues(p.op.L)
	p.bnd.AddJacobian(T, p.jac)
	return p.jac
}

// progress maps simulated time to percent on a log scale, matching the
// sampling of the output.
func (p *problem) progress(t float64) {
	pct := 100 * math.Log1p(math.Max(t-p.t0, 0)) / p.logSpan
	if pct < p.lastPct+progressStep {
		return
	}
	p.lastPct = pct
	p.rep.Report(math.Min(pct, 100), fmt.Sprintf("integrating, t = %.4g s", t))
}

// LogTimes returns n output times from t0 to tEnd, evenly spaced in
// log(1+t-t0) so that early transients are sampled densely.
func LogTimes(t0, tEnd float64, n int) []float64 {
	out := make([]float64, n)
	span := math.Log1p(tEnd - t0)
	for k := range out {
		out[k] = t0 + math.Expm1(span*float64(k)/float64(n-1))
	}
	out[0], out[n-1] = t0, tEnd
	for k := 1; k < n; k++ {
		if out[k] <= out[k-1] {
			out[k] = math.Nextafter(out[k-1], math.Inf(1))
		}
	}
	return out
}

// compressSubstrate thins the substrate by factor while keeping its thermal
// resistance and heat capacity per unit area.
func compressSubstrate(layers []model.LayerSpec, factor float64) []model.LayerSpec {
	out := append([]model.LayerSpec(nil), layers...)
	out[0].ThicknessNm /= factor
	out[0].Conductivity /= factor
	out[0].Density *= factor
	return out
}

// Simulate validates req, builds the model and integrates it. Progress goes
// to rep, which may be nil.
func Simulate(ctx context.Context, req *model.SimulationRequest, opts Options, rep Reporter) (*Result, error) {
	if rep == nil {
		rep = nopReporter{}
	}
	r, err := Prepare(req, opts)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	scale := 1.0
	gridReq := r
	if r.CompressSubstrate && opts.CompressFactor > 1 {
		scale = opts.CompressFactor
		gridReq = r.Clone()
		gridReq.Layers = compressSubstrate(r.Layers, scale)
	}

	g, err := BuildGrid(gridReq, opts)
	if err != nil {
		return nil, err
	}
	f := MapMaterials(g, gridReq.Layers)
	op := AssembleOperator(g, f)
	bnd := NewBoundary(r, g, f)
	src := NewSource(r, r.Layers, g, f)

	logger := log.WithFields(log.Fields{
		"nodes":  g.Len(),
		"nr":     g.Nr,
		"nz":     g.Nz,
		"active": src.Name,
		"q_area": src.QArea,
	})
	if src.Fallback {
		logger.WithField("fallback", true).Warnf("active layer %q not found, heating %q instead", r.ActiveLayer, src.Name)
	}

	y0 := make([]float64, g.Len())
	for k := range y0 {
		y0[k] = *r.InitialTemperature
	}
	prob := newProblem(op, bnd, src, r.TStart, r.TEnd, rep)
	rep.Report(0, "integrating")

	tEval := LogTimes(r.TStart, r.TEnd, r.TimeSamples)
	sol, err := solver.NewBDF(opts.Solver).Solve(ctx, prob, y0, r.TStart, r.TEnd, tEval)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		logger.WithError(err).Warn("integration failed")
		return nil, &SolverError{Err: err}
	}

	res := newResult(r, g, src, sol, scale)
	logger.WithFields(log.Fields{
		"steps":    sol.Stats.Steps,
		"rhs":      sol.Stats.RHSEvals,
		"lu":       sol.Stats.LUDecomps,
		"peak":     res.SourcePeakTemperature,
		"elapsed":  time.Since(start),
		"compress": scale,
	}).Info("simulation finished")
	rep.Report(100, "completed")
	return res, nil
}
