package model

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ckingdev/online-hdp/matrix"
)

// SuffStats accumulates the sufficient statistics of one mini-batch.
// Beta columns are indexed by the batch-local word ids.
type SuffStats struct {
	BatchSize int
	Sticks    []float64  // length T
	Beta      *mat.Dense // T x |batch vocabulary|
}

func NewSuffStats(topics, batchWords, batchSize int) *SuffStats {
	return &SuffStats{
		BatchSize: batchSize,
		Sticks:    make([]float64, topics),
		Beta:      mat.NewDense(topics, batchWords, nil),
	}
}

// docStats is the contribution of a single document, kept private to the
// goroutine that computed it until it is merged.
type docStats struct {
	sticks   []float64  // length T
	beta     *mat.Dense // T x doc.Length()
	batchIds []int      // batch-local id of every doc entry
	iters    int        // fixed point iterations run
}

// add folds one document's statistics into the batch.
func (ss *SuffStats) add(ds *docStats) {
	floats.Add(ss.Sticks, ds.sticks)
	matrix.ScatterAddCols(ss.Beta, ds.batchIds, ds.beta)
}
