package model

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ckingdev/online-hdp/corpus"
	"github.com/ckingdev/online-hdp/matrix"
)

type EvalMode int

const (
	// EvalFull scores every document by its variational bound.
	EvalFull EvalMode = iota
	// EvalRatio fits the first SplitRatio of a document's entries and
	// scores the rest.
	EvalRatio
	// EvalInterleaved fits the even entries and scores the odd ones.
	EvalInterleaved
)

// DefaultSplitRatio is the share of entries used for fitting in EvalRatio.
const DefaultSplitRatio = 0.9

func (e EvalMode) String() string {
	switch e {
	case EvalFull:
		return "full"
	case EvalRatio:
		return "ratio"
	case EvalInterleaved:
		return "interleaved"
	}
	return fmt.Sprintf("EvalMode(%d)", int(e))
}

// Evaluate computes the log likelihood of docs under the current model
// treated as a finite LDA, without changing the global state. It returns
// the total score and the number of scored tokens. splitRatio is only
// used by EvalRatio.
func (m *HDP) Evaluate(docs []*corpus.Document, mode EvalMode,
	splitRatio float64) (float64, int, error) {
	if mode == EvalRatio && !(splitRatio > 0 && splitRatio <= 1) {
		return 0, 0, fmt.Errorf("%w: split ratio %f not in (0, 1]", ErrInvalidConfig, splitRatio)
	}
	if err := m.validateBatch(docs); err != nil {
		return 0, 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	alpha := stickWeights(m.sticks)
	floats.Scale(m.cfg.Alpha, alpha)

	words, ids := batchVocabulary(docs)
	beta := m.topicWordDistribution(m.correctedLambda(words))

	scores := make([]float64, len(docs))
	counts := make([]int, len(docs))

	var g errgroup.Group
	g.SetLimit(max(1, m.cfg.Workers))
	for i, doc := range docs {
		g.Go(func() error {
			var err error
			scores[i], counts[i], err = m.evalDocument(doc, ids, alpha, beta, mode, splitRatio)
			if err != nil {
				return fmt.Errorf("document %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	return floats.Sum(scores), total, nil
}

// docSplit holds batch-local column ids and counts of a subset of a
// document's entries.
type docSplit struct {
	cols   []int
	counts []float64
}

func (s *docSplit) add(col, count int) {
	s.cols = append(s.cols, col)
	s.counts = append(s.counts, float64(count))
}

func (s *docSplit) total() int {
	return int(floats.Sum(s.counts))
}

func (m *HDP) evalDocument(doc *corpus.Document, ids map[int]int, alpha []float64,
	beta *mat.Dense, mode EvalMode, splitRatio float64) (float64, int, error) {
	var train, test docSplit
	switch mode {
	case EvalFull:
		for i, w := range doc.Words {
			train.add(ids[w], doc.Counts[i])
		}
	case EvalRatio:
		nTrain := int(float64(doc.Length()) * splitRatio)
		for i, w := range doc.Words {
			if i < nTrain {
				train.add(ids[w], doc.Counts[i])
			} else {
				test.add(ids[w], doc.Counts[i])
			}
		}
	case EvalInterleaved:
		for i, w := range doc.Words {
			if i%2 == 0 {
				train.add(ids[w], doc.Counts[i])
			} else {
				test.add(ids[w], doc.Counts[i])
			}
		}
	default:
		return 0, 0, fmt.Errorf("%w: unknown evaluation mode %v", ErrInvalidConfig, mode)
	}

	fit := fitGamma(alpha, beta, &train, m.cfg.MaxIter)

	var score float64
	var count int
	if mode == EvalFull {
		score, count = fit.bound(alpha, &train), doc.Total()
	} else {
		score, count = heldOut(fit.gamma, beta, &test), test.total()
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, 0, fmt.Errorf("%w: document score %f", ErrNonFinite, score)
	}
	return score, count, nil
}

// gammaFit is the fixed point of the document-topic Dirichlet.
type gammaFit struct {
	gamma     []float64
	elogtheta []float64
	phinorm   []float64
}

// fitGamma iterates the LDA E-step for the document-topic Dirichlet
// until its mean absolute change drops below meanChangeThresh.
func fitGamma(alpha []float64, beta *mat.Dense, train *docSplit, maxIter int) *gammaFit {
	if len(train.cols) == 0 {
		// nothing to fit, the fixed point is the prior
		return &gammaFit{gamma: append([]float64(nil), alpha...), elogtheta: DirichletExpectation(alpha)}
	}

	topics := len(alpha)
	gamma := make([]float64, topics)
	for t := range gamma {
		gamma[t] = 1.0
	}
	elogtheta := DirichletExpectation(gamma)

	betad := matrix.GatherCols(beta, train.cols) // T x n
	expElogtheta := expVec(elogtheta)
	phinorm := phiNorm(betad, expElogtheta)

	ratio := make([]float64, len(train.counts))
	last := make([]float64, topics)
	for iter := 0; iter < maxIter; iter += 1 {
		copy(last, gamma)

		floats.DivTo(ratio, train.counts, phinorm)
		var s mat.VecDense
		s.MulVec(betad, mat.NewVecDense(len(ratio), ratio))
		for t := range gamma {
			gamma[t] = alpha[t] + expElogtheta[t]*s.AtVec(t)
		}

		elogtheta = DirichletExpectation(gamma)
		expElogtheta = expVec(elogtheta)
		phinorm = phiNorm(betad, expElogtheta)

		if floats.Distance(gamma, last, 1)/float64(topics) < meanChangeThresh {
			break
		}
	}
	return &gammaFit{gamma: gamma, elogtheta: elogtheta, phinorm: phinorm}
}

// bound is the variational lower bound of the fitted entries.
func (f *gammaFit) bound(alpha []float64, train *docSplit) float64 {
	likelihood := 0.0
	for i, c := range train.counts {
		likelihood += c * math.Log(f.phinorm[i])
	}
	for t, a := range alpha {
		likelihood += (a - f.gamma[t]) * f.elogtheta[t]
		likelihood += lgamma(f.gamma[t]) - lgamma(a)
	}
	likelihood += lgamma(floats.Sum(alpha)) - lgamma(floats.Sum(f.gamma))
	return likelihood
}

// heldOut scores test entries under the normalized gamma.
func heldOut(gamma []float64, beta *mat.Dense, test *docSplit) float64 {
	if len(test.cols) == 0 {
		return 0
	}
	theta := append([]float64(nil), gamma...)
	floats.Scale(1/floats.Sum(theta), theta)

	betad := matrix.GatherCols(beta, test.cols)
	var p mat.VecDense
	p.MulVec(betad.T(), mat.NewVecDense(len(theta), theta))

	score := 0.0
	for i, c := range test.counts {
		score += c * math.Log(p.AtVec(i)+epsilon)
	}
	return score
}

// phiNorm returns expElogtheta . betad + epsilon for every column.
func phiNorm(betad *mat.Dense, expElogtheta []float64) []float64 {
	_, n := betad.Dims()
	var p mat.VecDense
	p.MulVec(betad.T(), mat.NewVecDense(len(expElogtheta), expElogtheta))
	out := make([]float64, n)
	for i := range out {
		out[i] = p.AtVec(i) + epsilon
	}
	return out
}

func expVec(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = math.Exp(x)
	}
	return out
}
