package model

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
)

// DirichletExpectation computes E[log(theta)] for theta ~ Dir(alpha).
func DirichletExpectation(alpha []float64) []float64 {
	out := make([]float64, len(alpha))
	digSum := mathext.Digamma(floats.Sum(alpha))
	for i, a := range alpha {
		out[i] = mathext.Digamma(a) - digSum
	}
	return out
}

// DirichletExpectationRows treats every row of alpha as the parameter of
// its own Dirichlet and returns the row-wise E[log(theta)].
func DirichletExpectationRows(alpha *mat.Dense) *mat.Dense {
	r, c := alpha.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i += 1 {
		copy(out.RawRowView(i), DirichletExpectation(alpha.RawRowView(i)))
	}
	return out
}

// ExpectLogSticks returns E[log(sticks)] of a stick-breaking construction
// truncated at N+1 components, where sticks is the 2xN matrix of Beta
// pseudocounts (a, b) of the first N breaks. The last component takes
// all the remaining mass.
func ExpectLogSticks(sticks *mat.Dense) []float64 {
	_, n := sticks.Dims()
	a, b := sticks.RawRowView(0), sticks.RawRowView(1)

	elogsticks := make([]float64, n+1)
	remain := 0.0 // sum of E[log(1 - W_j)] over previous breaks
	for i := 0; i < n; i += 1 {
		digSum := mathext.Digamma(a[i] + b[i])
		elogsticks[i] = mathext.Digamma(a[i]) - digSum + remain
		remain += mathext.Digamma(b[i]) - digSum
	}
	elogsticks[n] = remain
	return elogsticks
}

// stickWeights returns the expected stick-breaking weights a/(a+b) laid
// out sequentially over n+1 components, the last taking what is left.
func stickWeights(sticks *mat.Dense) []float64 {
	_, n := sticks.Dims()
	a, b := sticks.RawRowView(0), sticks.RawRowView(1)

	weights := make([]float64, n+1)
	left := 1.0
	for i := 0; i < n; i += 1 {
		weights[i] = a[i] / (a[i] + b[i]) * left
		left -= weights[i]
	}
	weights[n] = left
	return weights
}
