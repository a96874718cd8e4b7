package sparse

import "sort"

type triplet struct {
	row, col int
	val      float64
}

// Builder collects (row, col, value) entries. Duplicate entries are summed
// when the matrix is built and every diagonal position is always present.
type Builder struct {
	n       int
	entries []triplet
}

func NewBuilder(n, capacity int) *Builder {
	return &Builder{n: n, entries: make([]triplet, 0, capacity)}
}

// Add accumulates v into (i, j).
func (b *Builder) Add(i, j int, v float64) {
	if i < 0 || i >= b.n || j < 0 || j >= b.n {
		panic("sparse: index out of range")
	}
	b.entries = append(b.entries, triplet{row: i, col: j, val: v})
}

func (b *Builder) Build() *CSR {
	for i := 0; i < b.n; i++ {
		b.entries = append(b.entries, triplet{row: i, col: i})
	}
	sort.Slice(b.entries, func(p, q int) bool {
		if b.entries[p].row != b.entries[q].row {
			return b.entries[p].row < b.entries[q].row
		}
		return b.entries[p].col < b.entries[q].col
	})

	m := &CSR{
		n:      b.n,
		rowPtr: make([]int, b.n+1),
		colIdx: make([]int, 0, len(b.entries)),
		Val:    make([]float64, 0, len(b.entries)),
		diag:   make([]int, b.n),
	}
	last := triplet{row: -1, col: -1}
	for _, e := range b.entries {
		if e.row == last.row && e.col == last.col {
			m.Val[len(m.Val)-1] += e.val
			continue
		}
		if e.row == e.col {
			m.diag[e.row] = len(m.Val)
		}
		m.colIdx = append(m.colIdx, e.col)
		m.Val = append(m.Val, e.val)
		m.rowPtr[e.row+1] = len(m.Val)
		last = e
	}
	for i := 1; i <= b.n; i++ {
		if m.rowPtr[i] < m.rowPtr[i-1] {
			m.rowPtr[i] = m.rowPtr[i-1]
		}
	}
	return m
}
