package matrix

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// GatherCols returns a new matrix with len(cols) columns where the j-th
// column is a copy of the cols[j]-th column of m. Column ids may repeat.
func GatherCols(m *mat.Dense, cols []int) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, len(cols), nil)
	for i := 0; i < r; i += 1 {
		src := m.RawRowView(i)
		dst := out.RawRowView(i)
		for j, col := range cols {
			if col < 0 || col >= c {
				panic(ErrIndexOutOfRange)
			}
			dst[j] = src[col]
		}
	}
	return out
}

// ScatterAddCols adds the j-th column of src into the cols[j]-th column
// of dst. Repeated column ids accumulate.
func ScatterAddCols(dst *mat.Dense, cols []int, src *mat.Dense) {
	r, c := dst.Dims()
	sr, sc := src.Dims()
	if sr != r || sc != len(cols) {
		panic(ErrBadShape)
	}
	for i := 0; i < r; i += 1 {
		from := src.RawRowView(i)
		to := dst.RawRowView(i)
		for j, col := range cols {
			if col < 0 || col >= c {
				panic(ErrIndexOutOfRange)
			}
			to[col] += from[j]
		}
	}
}

// PermuteRows reorders m in place so that the i-th row becomes the
// order[i]-th row of the original matrix.
func PermuteRows(m *mat.Dense, order []int) {
	r, _ := m.Dims()
	if len(order) != r {
		panic(ErrBadShape)
	}
	orig := mat.DenseCopyOf(m)
	for i, from := range order {
		m.SetRow(i, orig.RawRowView(from))
	}
}

// PermuteVec reorders v in place the same way PermuteRows does.
func PermuteVec(v []float64, order []int) {
	if len(order) != len(v) {
		panic(ErrBadShape)
	}
	orig := append([]float64(nil), v...)
	for i, from := range order {
		v[i] = orig[from]
	}
}

// LogNormalizeRows subtracts the log-sum-exp of every row from the row,
// so that exponentiating a row yields a distribution. The row
// normalizers are returned.
func LogNormalizeRows(m *mat.Dense) []float64 {
	r, _ := m.Dims()
	norms := make([]float64, r)
	for i := 0; i < r; i += 1 {
		row := m.RawRowView(i)
		norms[i] = floats.LogSumExp(row)
		floats.AddConst(-norms[i], row)
	}
	return norms
}

// AddRowVec adds v to every row of m.
func AddRowVec(m *mat.Dense, v []float64) {
	r, c := m.Dims()
	if len(v) != c {
		panic(ErrBadShape)
	}
	for i := 0; i < r; i += 1 {
		floats.Add(m.RawRowView(i), v)
	}
}

// ScaleCols multiplies the j-th column of m by s[j].
func ScaleCols(m *mat.Dense, s []float64) {
	r, c := m.Dims()
	if len(s) != c {
		panic(ErrBadShape)
	}
	for i := 0; i < r; i += 1 {
		floats.Mul(m.RawRowView(i), s)
	}
}

// Exp returns a new matrix holding exp of every element of m.
func Exp(m *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return math.Exp(v) }, m)
	return &out
}

func RowSums(m *mat.Dense) []float64 {
	r, _ := m.Dims()
	sums := make([]float64, r)
	for i := 0; i < r; i += 1 {
		sums[i] = floats.Sum(m.RawRowView(i))
	}
	return sums
}

func ColSums(m *mat.Dense) []float64 {
	r, c := m.Dims()
	sums := make([]float64, c)
	for i := 0; i < r; i += 1 {
		floats.Add(sums, m.RawRowView(i))
	}
	return sums
}
