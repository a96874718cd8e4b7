package solver

import (
	"context"
	"math"

	"heatsim/sparse"
)

const (
	maxOrder      = 5
	newtonMaxIter = 4
	minFactor     = 0.2
	maxFactor     = 10
)

var (
	kappa      = [maxOrder + 1]float64{0, -0.1850, -1.0 / 9, -0.0823, -0.0415, 0}
	gamma      [maxOrder + 1]float64
	alpha      [maxOrder + 1]float64
	errorConst [maxOrder + 1]float64
)

func init() {
	for k := 1; k <= maxOrder; k++ {
		gamma[k] = gamma[k-1] + 1/float64(k)
	}
	for k := 0; k <= maxOrder; k++ {
		alpha[k] = (1 - kappa[k]) * gamma[k]
		errorConst[k] = kappa[k]*gamma[k] + 1/float64(k+1)
	}
}

// BDF is a variable order (1 to 5), variable step backward differentiation
// integrator in quasi-constant step size form. The state history is kept as
// modified divided differences, the Jacobian is only re-evaluated when the
// Newton iteration fails to converge, and output samples come from the
// interpolating polynomial of each step.
type BDF struct {
	opts Options
}

func NewBDF(opts Options) *BDF {
	def := DefaultOptions()
	if opts.RTol <= 0 {
		opts.RTol = def.RTol
	}
	if opts.ATol <= 0 {
		opts.ATol = def.ATol
	}
	if opts.MaxStep <= 0 {
		opts.MaxStep = math.Inf(1)
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = def.MaxSteps
	}
	return &BDF{opts: opts}
}

// Solve integrates sys from t0 to tEnd starting at y0. When tEval is empty
// every accepted step is recorded, otherwise the solution is sampled at the
// (ascending) times in tEval that fall inside [t0, tEnd].
func (b *BDF) Solve(ctx context.Context, sys System, y0 []float64, t0, tEnd float64, tEval []float64) (*Solution, error) {
	if !(tEnd > t0) {
		return nil, &Error{Time: t0, Err: ErrInterval}
	}
	it := newIntegrator(sys, b.opts, y0, t0, tEnd)
	sol := &Solution{}

	record := func(t float64, y []float64) {
		c := make([]float64, len(y))
		copy(c, y)
		sol.T = append(sol.T, t)
		sol.Y = append(sol.Y, c)
	}

	next := 0
	if len(tEval) == 0 {
		record(t0, y0)
	}
	for next < len(tEval) && tEval[next] <= t0 {
		if tEval[next] == t0 {
			record(t0, y0)
		}
		next++
	}

	for it.t < tEnd {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if it.stats.Steps >= b.opts.MaxSteps {
			return nil, &Error{Time: it.t, Step: it.stats.Steps, Err: ErrMaxSteps}
		}
		if err := it.step(); err != nil {
			return nil, &Error{Time: it.t, Step: it.stats.Steps, Err: err}
		}
		if !finite(it.y) {
			return nil, &Error{Time: it.t, Step: it.stats.Steps, Err: ErrNonFinite}
		}

		if len(tEval) == 0 {
			record(it.t, it.y)
			continue
		}
		for next < len(tEval) && tEval[next] <= it.t {
			buf := make([]float64, it.n)
			it.interpolate(tEval[next], buf)
			sol.T = append(sol.T, tEval[next])
			sol.Y = append(sol.Y, buf)
			next++
		}
	}
	sol.Stats = it.stats
	return sol, nil
}

type integrator struct {
	sys    System
	opts   Options
	n      int
	t      float64
	tBound float64
	y      []float64

	hAbs      float64
	order     int
	nEqual    int
	newtonTol float64

	// d holds the backward differences, rows 0..maxOrder+2
	d [][]float64

	jac     *sparse.CSR
	lu      *sparse.Band
	luValid bool

	f, yPredict, psi, scale, dy, rhs, yNew, corr []float64
	stats                                        Stats
}

func newIntegrator(sys System, opts Options, y0 []float64, t0, tEnd float64) *integrator {
	n := len(y0)
	it := &integrator{
		sys:    sys,
		opts:   opts,
		n:      n,
		t:      t0,
		tBound: tEnd,
		y:      append([]float64(nil), y0...),
		order:  1,
		d:      make([][]float64, maxOrder+3),

		f:        make([]float64, n),
		yPredict: make([]float64, n),
		psi:      make([]float64, n),
		scale:    make([]float64, n),
		dy:       make([]float64, n),
		rhs:      make([]float64, n),
		yNew:     make([]float64, n),
		corr:     make([]float64, n),
	}
	for i := range it.d {
		it.d[i] = make([]float64, n)
	}
	it.newtonTol = math.Max(10*epsilon/opts.RTol, math.Min(0.03, math.Sqrt(opts.RTol)))

	f0 := make([]float64, n)
	sys.Eval(t0, it.y, f0)
	it.stats.RHSEvals++

	if opts.FirstStep > 0 {
		it.hAbs = math.Min(opts.FirstStep, tEnd-t0)
	} else {
		it.hAbs = it.initialStep(f0)
	}
	copy(it.d[0], it.y)
	for i := range f0 {
		it.d[1][i] = f0[i] * it.hAbs
	}

	it.jac = sys.Jacobian(t0, it.y)
	it.stats.JacEvals++
	it.lu = sparse.NewBand(it.jac)
	return it
}

const epsilon = 2.220446049250313e-16

// initialStep estimates a first step from the size of the derivative and a
// finite-difference probe of its rate of change.
func (it *integrator) initialStep(f0 []float64) float64 {
	span := it.tBound - it.t
	for i, v := range it.y {
		it.scale[i] = it.opts.ATol + math.Abs(v)*it.opts.RTol
	}
	d0 := rms(it.y, it.scale)
	d1 := rms(f0, it.scale)

	h0 := 1e-6
	if d0 >= 1e-5 && d1 >= 1e-5 {
		h0 = 0.01 * d0 / d1
	}
	h0 = math.Min(h0, span)

	y1 := make([]float64, it.n)
	for i := range y1 {
		y1[i] = it.y[i] + h0*f0[i]
	}
	f1 := make([]float64, it.n)
	it.sys.Eval(it.t+h0, y1, f1)
	it.stats.RHSEvals++
	for i := range f1 {
		f1[i] -= f0[i]
	}
	d2 := rms(f1, it.scale) / h0

	var h1 float64
	if d1 <= 1e-15 && d2 <= 1e-15 {
		h1 = math.Max(1e-6, h0*1e-3)
	} else {
		h1 = math.Pow(0.01/math.Max(d1, d2), 0.5)
	}
	return math.Min(math.Min(100*h0, h1), math.Min(span, it.opts.MaxStep))
}

func (it *integrator) step() error {
	t := it.t
	minStep := 10 * math.Abs(math.Nextafter(t, math.Inf(1))-t)

	hAbs := it.hAbs
	if hAbs > it.opts.MaxStep {
		changeD(it.d, it.order, it.opts.MaxStep/hAbs)
		hAbs = it.opts.MaxStep
		it.nEqual = 0
	} else if hAbs < minStep {
		changeD(it.d, it.order, minStep/hAbs)
		hAbs = minStep
		it.nEqual = 0
	}

	order := it.order
	currentJac := false

	var (
		tNew, errNorm, safety float64
		nIter                 int
	)
	for {
		if hAbs < minStep {
			return ErrStepTooSmall
		}
		tNew = t + hAbs
		if tNew > it.tBound {
			tNew = it.tBound
			changeD(it.d, order, math.Abs(tNew-t)/hAbs)
			it.nEqual = 0
			it.luValid = false
		}
		h := tNew - t
		hAbs = math.Abs(h)

		for i := 0; i < it.n; i++ {
			var p, s float64
			for j := 0; j <= order; j++ {
				p += it.d[j][i]
			}
			for j := 1; j <= order; j++ {
				s += it.d[j][i] * gamma[j]
			}
			it.yPredict[i] = p
			it.psi[i] = s / alpha[order]
			it.scale[i] = it.opts.ATol + it.opts.RTol*math.Abs(p)
		}

		c := h / alpha[order]
		converged := false
		for !converged {
			if !it.luValid {
				it.stats.LUDecomps++
				if err := it.lu.Factor(it.jac, -c, 1); err == nil {
					it.luValid = true
				}
			}
			if it.luValid {
				converged, nIter = it.newton(tNew, c)
			}
			if !converged {
				if currentJac {
					break
				}
				it.jac = it.sys.Jacobian(tNew, it.yPredict)
				it.stats.JacEvals++
				it.luValid = false
				currentJac = true
			}
		}

		if !converged {
			hAbs *= 0.5
			changeD(it.d, order, 0.5)
			it.nEqual = 0
			it.luValid = false
			continue
		}

		safety = 0.9 * float64(2*newtonMaxIter+1) / float64(2*newtonMaxIter+nIter)
		for i, v := range it.yNew {
			it.scale[i] = it.opts.ATol + it.opts.RTol*math.Abs(v)
		}
		errNorm = errorConst[order] * rms(it.corr, it.scale)
		if errNorm > 1 {
			factor := math.Max(minFactor, safety*math.Pow(errNorm, -1/float64(order+1)))
			hAbs *= factor
			changeD(it.d, order, factor)
			it.nEqual = 0
			// the factorization is kept; Newton tolerates a stale c
			continue
		}
		break
	}

	it.stats.Steps++
	it.nEqual++
	it.t = tNew
	copy(it.y, it.yNew)
	it.hAbs = hAbs

	d := it.d
	for i := 0; i < it.n; i++ {
		d[order+2][i] = it.corr[i] - d[order+1][i]
		d[order+1][i] = it.corr[i]
	}
	for j := order; j >= 0; j-- {
		for i := 0; i < it.n; i++ {
			d[j][i] += d[j+1][i]
		}
	}

	if it.nEqual < order+1 {
		return nil
	}

	errM, errP := math.Inf(1), math.Inf(1)
	if order > 1 {
		errM = errorConst[order-1] * rms(d[order], it.scale)
	}
	if order < maxOrder {
		errP = errorConst[order+1] * rms(d[order+2], it.scale)
	}
	best, bestFactor := 0, math.Inf(-1)
	for k, e := range [3]float64{errM, errNorm, errP} {
		f := math.Pow(e, -1/float64(order+k))
		if f > bestFactor {
			best, bestFactor = k, f
		}
	}
	order += best - 1
	it.order = order

	factor := math.Min(maxFactor, safety*bestFactor)
	it.hAbs *= factor
	changeD(it.d, order, factor)
	it.nEqual = 0
	it.luValid = false
	return nil
}

// newton solves the implicit BDF system with a simplified Newton iteration.
// On success yNew holds the new state and corr the accumulated correction.
func (it *integrator) newton(tNew, c float64) (bool, int) {
	copy(it.yNew, it.yPredict)
	for i := range it.corr {
		it.corr[i] = 0
	}

	dyNormOld := -1.0
	for k := 0; k < newtonMaxIter; k++ {
		it.sys.Eval(tNew, it.yNew, it.f)
		it.stats.RHSEvals++
		if !finite(it.f) {
			return false, k + 1
		}
		for i := range it.rhs {
			it.rhs[i] = c*it.f[i] - it.psi[i] - it.corr[i]
		}
		it.lu.Solve(it.rhs, it.dy)
		dyNorm := rms(it.dy, it.scale)

		rate := -1.0
		if dyNormOld >= 0 {
			rate = dyNorm / dyNormOld
		}
		if rate >= 0 && (rate >= 1 || math.Pow(rate, float64(newtonMaxIter-k))/(1-rate)*dyNorm > it.newtonTol) {
			return false, k + 1
		}

		for i, v := range it.dy {
			it.yNew[i] += v
			it.corr[i] += v
		}
		if dyNorm == 0 || (rate >= 0 && rate/(1-rate)*dyNorm < it.newtonTol) {
			return true, k + 1
		}
		dyNormOld = dyNorm
	}
	return false, newtonMaxIter
}

// interpolate evaluates the interpolating polynomial of the last step at tq.
func (it *integrator) interpolate(tq float64, out []float64) {
	copy(out, it.d[0])
	p := 1.0
	for j := 0; j < it.order; j++ {
		p *= (tq - (it.t - it.hAbs*float64(j))) / (it.hAbs * float64(j+1))
		row := it.d[j+1]
		for i := range out {
			out[i] += row[i] * p
		}
	}
}

// computeR returns the (order+1)x(order+1) matrix that rescales the
// difference array for a step size change by factor.
func computeR(order int, factor float64) [][]float64 {
	m := make([][]float64, order+1)
	for i := range m {
		m[i] = make([]float64, order+1)
	}
	for j := 0; j <= order; j++ {
		m[0][j] = 1
	}
	for i := 1; i <= order; i++ {
		for j := 1; j <= order; j++ {
			m[i][j] = (float64(i-1) - factor*float64(j)) / float64(i)
		}
	}
	for i := 1; i <= order; i++ {
		for j := 0; j <= order; j++ {
			m[i][j] *= m[i-1][j]
		}
	}
	return m
}

func changeD(d [][]float64, order int, factor float64) {
	r := computeR(order, factor)
	u := computeR(order, 1)
	ru := make([][]float64, order+1)
	for i := range ru {
		ru[i] = make([]float64, order+1)
		for j := 0; j <= order; j++ {
			for k := 0; k <= order; k++ {
				ru[i][j] += r[i][k] * u[k][j]
			}
		}
	}

	n := len(d[0])
	tmp := make([]float64, order+1)
	for col := 0; col < n; col++ {
		for j := 0; j <= order; j++ {
			var s float64
			for k := 0; k <= order; k++ {
				s += ru[k][j] * d[k][col]
			}
			tmp[j] = s
		}
		for j := 0; j <= order; j++ {
			d[j][col] = tmp[j]
		}
	}
}

// rms is the root mean square of x/scale.
func rms(x, scale []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var s float64
	for i, v := range x {
		q := v / scale[i]
		s += q * q
	}
	return math.Sqrt(s / float64(len(x)))
}

func finite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
