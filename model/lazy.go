package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"

	"github.com/ckingdev/online-hdp/matrix"
)

// lazySchedule defers the (1 - rho) decay every update applies to the
// lambda columns a mini-batch does not touch. Column w is exact as of
// update timestamp[w]; multiplying it by exp(r[last] - r[timestamp[w]])
// brings it to the current update.
type lazySchedule struct {
	timestamp []int
	r         []float64 // r[t] = sum of log(1 - rho) over the first t updates
}

func newLazySchedule(vocabSize int) *lazySchedule {
	return &lazySchedule{
		timestamp: make([]int, vocabSize),
		r:         []float64{0},
	}
}

// decay is the factor that brings column w up to date.
func (s *lazySchedule) decay(w int) float64 {
	return math.Exp(s.r[len(s.r)-1] - s.r[s.timestamp[w]])
}

// current marks words as exact at the latest update.
func (s *lazySchedule) current(words []int) {
	for _, w := range words {
		s.timestamp[w] = len(s.r) - 1
	}
}

// advance records an update with learning rate rho that rewrote the
// given columns.
func (s *lazySchedule) advance(rho float64, words []int) {
	s.r = append(s.r, s.r[len(s.r)-1]+math.Log(1-rho))
	s.current(words)
}

// correctedLambda returns the up to date lambda columns of words
// without writing them back.
func (m *HDP) correctedLambda(words []int) *mat.Dense {
	cols := matrix.GatherCols(m.lambda, words)
	factors := make([]float64, len(words))
	for j, w := range words {
		factors[j] = m.lazy.decay(w)
	}
	matrix.ScaleCols(cols, factors)
	return cols
}

// elogbetaOf computes E[log beta] for the given lambda columns using the
// cached row sums as the Dirichlet normalizer.
func (m *HDP) elogbetaOf(lambda *mat.Dense) *mat.Dense {
	r, c := lambda.Dims()
	eta := m.cfg.Eta
	elogbeta := mat.NewDense(r, c, nil)
	for t := 0; t < r; t += 1 {
		digSum := mathext.Digamma(float64(m.cfg.W)*eta + m.lambdaSum[t])
		src := lambda.RawRowView(t)
		dst := elogbeta.RawRowView(t)
		for j, x := range src {
			dst[j] = mathext.Digamma(eta+x) - digSum
		}
	}
	return elogbeta
}

// commitColumns writes corrected columns back into the global state.
func (m *HDP) commitColumns(words []int, lambda, elogbeta *mat.Dense) {
	for t := 0; t < m.cfg.T; t += 1 {
		lrow, erow := m.lambda.RawRowView(t), m.elogbeta.RawRowView(t)
		lsrc, esrc := lambda.RawRowView(t), elogbeta.RawRowView(t)
		for j, w := range words {
			lrow[w] = lsrc[j]
			erow[w] = esrc[j]
		}
	}
	m.lazy.current(words)
}

// UpdateExpectations brings every column of lambda and Elogbeta up to
// date. It is needed before reading the full topic-word state.
func (m *HDP) UpdateExpectations() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateExpectations()
}

func (m *HDP) updateExpectations() {
	words := m.allWords()
	m.lambda = m.correctedLambda(words)
	m.elogbeta = m.elogbetaOf(m.lambda)
	m.lazy.current(words)
	m.upToDate = true
}

func (m *HDP) allWords() []int {
	words := make([]int, m.cfg.W)
	for w := range words {
		words[w] = w
	}
	return words
}
