package model

import (
	"gonum.org/v1/gonum/floats"

	"github.com/ckingdev/online-hdp/matrix"
)

// optimalOrdering sorts topics by descending lambda mass and permutes
// every topic indexed array accordingly. It returns the permutation.
func (m *HDP) optimalOrdering() []int {
	sums := append([]float64(nil), m.lambdaSum...)
	idx := make([]int, len(sums))
	floats.Argsort(sums, idx)
	for i, j := 0, len(idx)-1; i < j; i, j = i+1, j-1 {
		idx[i], idx[j] = idx[j], idx[i]
	}

	matrix.PermuteVec(m.varphiSS, idx)
	matrix.PermuteRows(m.lambda, idx)
	matrix.PermuteVec(m.lambdaSum, idx)
	matrix.PermuteRows(m.elogbeta, idx)
	return idx
}
