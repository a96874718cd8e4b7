package sparse

// CSR is a compressed sparse row matrix with a fixed pattern. Val may be
// rewritten in place; the index arrays are shared between clones.
type CSR struct {
	n      int
	rowPtr []int
	colIdx []int
	diag   []int

	Val []float64
}

func (m *CSR) Dim() int { return m.n }

// NNZ returns the number of stored entries.
func (m *CSR) NNZ() int { return len(m.Val) }

func (m *CSR) At(i, j int) float64 {
	for p := m.rowPtr[i]; p < m.rowPtr[i+1]; p++ {
		if m.colIdx[p] == j {
			return m.Val[p]
		}
	}
	return 0
}

// Row calls f for every stored entry of row i.
func (m *CSR) Row(i int, f func(j int, v float64)) {
	for p := m.rowPtr[i]; p < m.rowPtr[i+1]; p++ {
		f(m.colIdx[p], m.Val[p])
	}
}

// DiagPos returns the index into Val of the diagonal entry of row i.
func (m *CSR) DiagPos(i int) int { return m.diag[i] }

// Diag returns the diagonal entry of row i.
func (m *CSR) Diag(i int) float64 { return m.Val[m.diag[i]] }

// AddDiag adds v to the diagonal entry of row i.
func (m *CSR) AddDiag(i int, v float64) { m.Val[m.diag[i]] += v }

func (m *CSR) MulVec(x, y []float64) {
	for i := 0; i < m.n; i++ {
		var s float64
		for p := m.rowPtr[i]; p < m.rowPtr[i+1]; p++ {
			s += m.Val[p] * x[m.colIdx[p]]
		}
		y[i] = s
	}
}

// MulDiff computes y[i] = sum_j A[i][j]*(x[j]-x[i]) over the off-diagonal
// entries. For a matrix whose rows sum to zero this equals A*x, and a
// constant x gives exactly zero.
func (m *CSR) MulDiff(x, y []float64) {
	for i := 0; i < m.n; i++ {
		var s float64
		xi := x[i]
		for p := m.rowPtr[i]; p < m.rowPtr[i+1]; p++ {
			if j := m.colIdx[p]; j != i {
				s += m.Val[p] * (x[j] - xi)
			}
		}
		y[i] = s
	}
}

// RowSum returns the sum of the stored entries of row i.
func (m *CSR) RowSum(i int) float64 {
	var s float64
	for p := m.rowPtr[i]; p < m.rowPtr[i+1]; p++ {
		s += m.Val[p]
	}
	return s
}

// Bandwidth returns the lower and upper bandwidth of the pattern.
func (m *CSR) Bandwidth() (lower, upper int) {
	for i := 0; i < m.n; i++ {
		for p := m.rowPtr[i]; p < m.rowPtr[i+1]; p++ {
			j := m.colIdx[p]
			if i-j > lower {
				lower = i - j
			}
			if j-i > upper {
				upper = j - i
			}
		}
	}
	return lower, upper
}

// Clone returns a matrix sharing the pattern of m with a copy of its values.
func (m *CSR) Clone() *CSR {
	c := *m
	c.Val = make([]float64, len(m.Val))
	copy(c.Val, m.Val)
	return &c
}

// CopyValues overwrites the values of m with those of src, which must share
// the pattern of m.
func (m *CSR) CopyValues(src *CSR) {
	if len(src.Val) != len(m.Val) {
		panic("sparse: pattern mismatch")
	}
	copy(m.Val, src.Val)
}
