package model

import (
	log "github.com/golang/glog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// updateLambda folds the mini-batch statistics into the global state.
// The columns in words must already be up to date.
func (m *HDP) updateLambda(ss *SuffStats, words []int, optimizeOrdering bool) {
	m.upToDate = len(words) == m.cfg.W

	// rho will be between 0 and 1, and says how much to weight the
	// information we got from this mini-batch
	rho := m.cfg.rho(m.updateCount)
	m.rhot = rho
	scale := rho * float64(m.cfg.D) / float64(ss.BatchSize)

	for t := 0; t < m.cfg.T; t += 1 {
		row := m.lambda.RawRowView(t)
		stats := ss.Beta.RawRowView(t)
		for j, w := range words {
			row[w] = (1-rho)*row[w] + scale*stats[j]
		}
		m.lambdaSum[t] = (1-rho)*m.lambdaSum[t] + scale*floats.Sum(stats)
	}

	m.updateCount += 1
	m.lazy.advance(rho, words)

	floats.Scale(1-rho, m.varphiSS)
	floats.AddScaled(m.varphiSS, scale, ss.Sticks)

	if optimizeOrdering {
		m.optimalOrdering()
	}

	m.updateSticks()
}

// updateSticks rebuilds the top level stick pseudocounts from varphi_ss.
func (m *HDP) updateSticks() {
	a, b := m.sticks.RawRowView(0), m.sticks.RawRowView(1)
	tail := 0.0
	for i := m.cfg.T - 2; i >= 0; i -= 1 {
		tail += m.varphiSS[i+1]
		a[i] = m.varphiSS[i] + 1.0
		b[i] = tail + m.cfg.Gamma
	}
}

// shouldAddNoise decides whether the batch that brings the number of
// parsed documents to parsed gets noise injected.
func (m *HDP) shouldAddNoise(parsed, batchSize int) bool {
	if !m.cfg.AddingNoise {
		return false
	}
	point := minAddingNoisePoint
	if float64(point)/float64(batchSize) < minAddingNoiseRatio {
		point = minAddingNoiseRatio * batchSize
	}
	return parsed%point == 0
}

// addNoise blends the topic-word statistics with gamma noise of the same
// per topic mass. The blend weight decays with the number of updates.
func (m *HDP) addNoise(ss *SuffStats) {
	log.Infof("adding noise at update %d", m.updateCount)

	gamma := distuv.Gamma{Alpha: 1.0, Beta: 1.0, Src: m.src}
	mu := mu0 * 1000.0 / float64(m.updateCount+1000)

	_, c := ss.Beta.Dims()
	noise := make([]float64, c)
	for t := 0; t < m.cfg.T; t += 1 {
		for j := range noise {
			noise[j] = gamma.Rand()
		}
		row := ss.Beta.RawRowView(t)
		ratio := floats.Sum(row) / floats.Sum(noise)
		floats.Scale(1.0-mu, row)
		floats.AddScaled(row, mu*ratio, noise)
	}
}
