package model

import (
	"fmt"
	"math"

	log "github.com/golang/glog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"

	"github.com/ckingdev/online-hdp/corpus"
	"github.com/ckingdev/online-hdp/matrix"
)

// batchView is the part of the global state a document E-step reads.
// It is built once per mini-batch and shared read-only by all E-steps.
type batchView struct {
	elogbeta   *mat.Dense  // T x |batch vocabulary|, lazily corrected
	elogsticks []float64   // top level E[log sticks], length T
	ids        map[int]int // word id -> batch-local column
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// docEStep runs coordinate ascent on the variational parameters of a
// single document. It returns the document ELBO and the document's
// contribution to the mini-batch sufficient statistics.
func (m *HDP) docEStep(doc *corpus.Document, view *batchView,
	varConverge float64) (float64, *docStats, error) {
	n := doc.Length()
	topics, k := m.cfg.T, m.cfg.K
	alpha := m.cfg.Alpha

	batchIds := make([]int, n)
	counts := make([]float64, n)
	for i, w := range doc.Words {
		batchIds[i] = view.ids[w]
		counts[i] = float64(doc.Counts[i])
	}

	elogbetaDoc := matrix.GatherCols(view.elogbeta, batchIds) // T x n
	weighted := mat.DenseCopyOf(elogbetaDoc)
	matrix.ScaleCols(weighted, counts)

	v := mat.NewDense(2, k-1, nil)
	for i := 0; i < k-1; i += 1 {
		v.Set(0, i, 1.0)
		v.Set(1, i, alpha)
	}
	elogsticks2nd := ExpectLogSticks(v)

	phi := mat.NewDense(n, k, nil)
	for i := 0; i < n; i += 1 {
		for j := 0; j < k; j += 1 {
			phi.Set(i, j, 1.0/float64(k))
		}
	}

	var varPhi, logVarPhi, logPhi *mat.Dense
	likelihood := 0.0
	oldLikelihood := initialLikelihood
	converge := 1.0

	iter := 0
	for ; iter < m.cfg.MaxIter; iter += 1 {
		if iter > 0 && converge >= 0.0 && converge <= varConverge {
			break
		}

		// var_phi, K x T
		logVarPhi = mat.NewDense(k, topics, nil)
		logVarPhi.Mul(phi.T(), weighted.T())
		if iter >= coldStartIters {
			matrix.AddRowVec(logVarPhi, view.elogsticks)
		}
		matrix.LogNormalizeRows(logVarPhi)
		varPhi = matrix.Exp(logVarPhi)

		// phi, n x K
		logPhi = mat.NewDense(n, k, nil)
		logPhi.Mul(elogbetaDoc.T(), varPhi.T())
		if iter >= coldStartIters {
			matrix.AddRowVec(logPhi, elogsticks2nd)
		}
		matrix.LogNormalizeRows(logPhi)
		phi = matrix.Exp(logPhi)

		// v
		phiSums := matrix.ColSums(weightRows(phi, counts))
		tail := 0.0
		for i := k - 2; i >= 0; i -= 1 {
			tail += phiSums[i+1]
			v.Set(0, i, 1.0+phiSums[i])
			v.Set(1, i, alpha+tail)
		}
		elogsticks2nd = ExpectLogSticks(v)

		likelihood = m.docLikelihood(view.elogsticks, elogsticks2nd, v,
			varPhi, logVarPhi, phi, logPhi, weighted)
		if math.IsNaN(likelihood) || math.IsInf(likelihood, 0) {
			break
		}

		converge = (likelihood - oldLikelihood) / math.Abs(oldLikelihood)
		if converge < decreaseTolerance {
			log.Warningf("likelihood is decreasing at iteration %d: %f -> %f",
				iter, oldLikelihood, likelihood)
		}
		oldLikelihood = likelihood
	}

	if math.IsNaN(likelihood) || math.IsInf(likelihood, 0) {
		return 0, nil, fmt.Errorf("%w: document likelihood %f", ErrNonFinite, likelihood)
	}

	// T x n: var_phi^T . (phi^T * counts)
	var beta mat.Dense
	beta.Mul(varPhi.T(), weightRows(phi, counts).T())

	return likelihood, &docStats{
		sticks:   matrix.ColSums(varPhi),
		beta:     &beta,
		batchIds: batchIds,
		iters:    iter,
	}, nil
}

// docLikelihood is the per document ELBO.
func (m *HDP) docLikelihood(elogsticks1st, elogsticks2nd []float64, v,
	varPhi, logVarPhi, phi, logPhi, weighted *mat.Dense) float64 {
	alpha := m.cfg.Alpha
	likelihood := 0.0

	// top level stick assignments
	rows, cols := varPhi.Dims()
	for i := 0; i < rows; i += 1 {
		for t := 0; t < cols; t += 1 {
			likelihood += (elogsticks1st[t] - logVarPhi.At(i, t)) * varPhi.At(i, t)
		}
	}

	// second level sticks
	_, sticks := v.Dims()
	likelihood += float64(sticks) * math.Log(alpha)
	for i := 0; i < sticks; i += 1 {
		a, b := v.At(0, i), v.At(1, i)
		digSum := mathext.Digamma(a + b)
		likelihood += (1.0 - a) * (mathext.Digamma(a) - digSum)
		likelihood += (alpha - b) * (mathext.Digamma(b) - digSum)
		likelihood -= lgamma(a+b) - lgamma(a) - lgamma(b)
	}

	// token assignments
	rows, cols = phi.Dims()
	for i := 0; i < rows; i += 1 {
		for j := 0; j < cols; j += 1 {
			likelihood += (elogsticks2nd[j] - logPhi.At(i, j)) * phi.At(i, j)
		}
	}

	// data
	var data, joint mat.Dense
	data.Mul(varPhi, weighted) // K x n
	joint.MulElem(phi.T(), &data)
	likelihood += mat.Sum(&joint)

	return likelihood
}

// weightRows returns a copy of m whose i-th row is scaled by w[i].
func weightRows(m *mat.Dense, w []float64) *mat.Dense {
	var out mat.Dense
	out.Apply(func(i, _ int, x float64) float64 { return x * w[i] }, m)
	return &out
}
