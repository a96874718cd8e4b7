package sparse

import "math"

// Band is an LU factorization of a banded matrix without pivoting. It is
// intended for diagonally dominant systems such as I - c*J with J a
// conduction Jacobian.
type Band struct {
	n, lower, upper int
	width           int
	data            []float64
}

// NewBand allocates storage matching the bandwidth of the pattern of a.
func NewBand(a *CSR) *Band {
	lower, upper := a.Bandwidth()
	w := lower + upper + 1
	return &Band{
		n:     a.n,
		lower: lower,
		upper: upper,
		width: w,
		data:  make([]float64, a.n*w),
	}
}

func (b *Band) idx(i, j int) int { return i*b.width + j - i + b.lower }

// Factor computes the LU factors of shift*I + alpha*a in place.
func (b *Band) Factor(a *CSR, alpha, shift float64) error {
	for k := range b.data {
		b.data[k] = 0
	}
	for i := 0; i < b.n; i++ {
		for p := a.rowPtr[i]; p < a.rowPtr[i+1]; p++ {
			b.data[b.idx(i, a.colIdx[p])] = alpha * a.Val[p]
		}
		b.data[b.idx(i, i)] += shift
	}

	for k := 0; k < b.n; k++ {
		pivot := b.data[b.idx(k, k)]
		if pivot == 0 || math.IsNaN(pivot) || math.IsInf(pivot, 0) {
			return ErrSingular
		}
		rowEnd := min(b.n-1, k+b.lower)
		colEnd := min(b.n-1, k+b.upper)
		for i := k + 1; i <= rowEnd; i++ {
			ik := b.idx(i, k)
			if b.data[ik] == 0 {
				continue
			}
			l := b.data[ik] / pivot
			b.data[ik] = l
			for j := k + 1; j <= colEnd; j++ {
				b.data[b.idx(i, j)] -= l * b.data[b.idx(k, j)]
			}
		}
	}
	return nil
}

// Solve solves LU*x = rhs. x and rhs may be the same slice.
func (b *Band) Solve(rhs, x []float64) {
	if &x[0] != &rhs[0] {
		copy(x, rhs)
	}
	for i := 0; i < b.n; i++ {
		s := x[i]
		for j := max(0, i-b.lower); j < i; j++ {
			s -= b.data[b.idx(i, j)] * x[j]
		}
		x[i] = s
	}
	for i := b.n - 1; i >= 0; i-- {
		s := x[i]
		for j := i + 1; j <= min(b.n-1, i+b.upper); j++ {
			s -= b.data[b.idx(i, j)] * x[j]
		}
		x[i] = s / b.data[b.idx(i, i)]
	}
}
