package model

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ckingdev/online-hdp/corpus"
)

func testConfig() Config {
	return Config{
		T:       5,
		K:       3,
		D:       10,
		W:       20,
		Eta:     0.1,
		Alpha:   1.0,
		Gamma:   1.0,
		Kappa:   0.6,
		Tau:     1,
		Scale:   1.0,
		MaxIter: 100,
		Workers: 2,
		Seed:    42,
	}
}

func testDocs(t *testing.T) []*corpus.Document {
	raw := []struct{ words, counts []int }{
		{[]int{0, 1, 2, 3}, []int{2, 1, 3, 1}},
		{[]int{2, 5, 7, 11, 2}, []int{1, 4, 1, 2, 2}},
		{[]int{15, 16, 0, 19, 7}, []int{3, 1, 1, 2, 1}},
	}
	docs := make([]*corpus.Document, len(raw))
	for i, r := range raw {
		doc, err := corpus.NewDocument(r.words, r.counts)
		require.NoError(t, err)
		docs[i] = doc
	}
	return docs
}

func newTestHDP(t *testing.T, cfg Config) *HDP {
	m, err := NewHDP(cfg)
	require.NoError(t, err)
	return m
}

// snapshot is a deep copy of the global state.
type snapshot struct {
	sticks, lambda, elogbeta   []float64
	varphiSS, lambdaSum, r     []float64
	timestamp                  []int
	updateCount, numDocsParsed int
	rhot                       float64
	upToDate                   bool
}

func denseData(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i += 1 {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}

func takeSnapshot(m *HDP) snapshot {
	return snapshot{
		sticks:        denseData(m.sticks),
		lambda:        denseData(m.lambda),
		elogbeta:      denseData(m.elogbeta),
		varphiSS:      append([]float64(nil), m.varphiSS...),
		lambdaSum:     append([]float64(nil), m.lambdaSum...),
		r:             append([]float64(nil), m.lazy.r...),
		timestamp:     append([]int(nil), m.lazy.timestamp...),
		updateCount:   m.updateCount,
		numDocsParsed: m.numDocsParsed,
		rhot:          m.rhot,
		upToDate:      m.upToDate,
	}
}

func TestNewHDPValidatesConfig(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.T = 1 },
		func(c *Config) { c.K = 0 },
		func(c *Config) { c.W = 0 },
		func(c *Config) { c.Eta = 0 },
		func(c *Config) { c.Kappa = 0.5 },
		func(c *Config) { c.Kappa = 1.2 },
		func(c *Config) { c.Tau = -1 },
		func(c *Config) { c.Scale = 2; c.Tau = 0 },
		func(c *Config) { c.RhoBound = 1 },
		func(c *Config) { c.MaxIter = 0 },
	}
	for i, mutate := range bad {
		cfg := testConfig()
		mutate(&cfg)
		_, err := NewHDP(cfg)
		assert.True(t, errors.Is(err, ErrInvalidConfig), "case %d: %v", i, err)
	}
}

func TestNewHDPInitialState(t *testing.T) {
	cfg := testConfig()
	m := newTestHDP(t, cfg)

	r, c := m.lambda.Dims()
	assert.Equal(t, cfg.T, r)
	assert.Equal(t, cfg.W, c)
	assert.Equal(t, []float64{1, 1, 1, 1}, m.sticks.RawRowView(0))
	assert.Equal(t, []float64{4, 3, 2, 1}, m.sticks.RawRowView(1))
	for t2 := 0; t2 < cfg.T; t2 += 1 {
		assert.InDelta(t, floats.Sum(m.lambda.RawRowView(t2)), m.lambdaSum[t2], 1e-9)
		for _, x := range m.lambda.RawRowView(t2) {
			assert.Greater(t, x, -cfg.Eta)
		}
	}
	assert.True(t, m.UpToDate())
	assert.Equal(t, []float64{0}, m.lazy.r)
}

func TestNewHDPSeeded(t *testing.T) {
	a := newTestHDP(t, testConfig())
	b := newTestHDP(t, testConfig())
	assert.Equal(t, denseData(a.lambda), denseData(b.lambda))

	cfg := testConfig()
	cfg.Seed = 7
	c := newTestHDP(t, cfg)
	assert.NotEqual(t, denseData(a.lambda), denseData(c.lambda))
}

func TestProcessDocumentsEndToEnd(t *testing.T) {
	cfg := testConfig()
	m := newTestHDP(t, cfg)
	docs := testDocs(t)
	before := takeSnapshot(m)

	score, err := m.ProcessDocuments(docs, 0.0001, WithoutReordering())
	require.NoError(t, err)

	assert.False(t, math.IsNaN(score.Score) || math.IsInf(score.Score, 0))
	total := 0
	for _, doc := range docs {
		total += doc.Total()
	}
	assert.Equal(t, total, score.Count)
	assert.Equal(t, 1, m.UpdateCount())

	r, c := m.lambda.Dims()
	assert.Equal(t, cfg.T, r)
	assert.Equal(t, cfg.W, c)

	rho := m.LearningRate()
	assert.InDelta(t, math.Pow(2, -0.6), rho, 1e-12)

	// touched columns gain mass on top of the decayed value
	words, _ := batchVocabulary(docs)
	for t2 := 0; t2 < cfg.T; t2 += 1 {
		for _, w := range words {
			old := before.lambda[t2*cfg.W+w]
			assert.Greater(t, m.lambda.At(t2, w), (1-rho)*old)
		}
	}

	// the topic-word statistics of a batch sum to its token count
	expected := (1-rho)*floats.Sum(before.lambdaSum) +
		rho*float64(cfg.D)*float64(total)/float64(len(docs))
	assert.InDelta(t, expected, floats.Sum(m.lambdaSum), 1e-6)

	// untouched columns are decayed lazily
	assert.Equal(t, before.lambda[4], m.lambda.At(0, 4))
	assert.False(t, m.UpToDate())
	m.UpdateExpectations()
	assert.InDelta(t, (1-rho)*before.lambda[4], m.lambda.At(0, 4), 1e-9)
	for t2 := 0; t2 < cfg.T; t2 += 1 {
		assert.InDelta(t, floats.Sum(m.lambda.RawRowView(t2)), m.lambdaSum[t2], 1e-6)
	}
}

func TestProcessDocumentsInferOnlyDoesNotMutate(t *testing.T) {
	cfg := testConfig()
	cfg.AddingNoise = true
	m := newTestHDP(t, cfg)
	docs := testDocs(t)

	// leave some columns stale first
	_, err := m.ProcessDocuments(docs[:1], 0.0001)
	require.NoError(t, err)
	before := takeSnapshot(m)

	score, err := m.ProcessDocuments(docs, 0.0001, InferOnly())
	require.NoError(t, err)
	assert.NotZero(t, score.Count)

	assert.Equal(t, before, takeSnapshot(m))
}

func TestProcessDocumentsUnseen(t *testing.T) {
	m := newTestHDP(t, testConfig())
	docs := testDocs(t)

	score, err := m.ProcessDocuments(docs, 0.0001, WithUnseen(1))
	require.NoError(t, err)

	assert.Equal(t, docs[1].Total(), score.UnseenCount)
	assert.NotZero(t, score.UnseenScore)
	assert.Less(t, score.UnseenCount, score.Count)
}

func TestProcessDocumentsRejectsInvalidInput(t *testing.T) {
	m := newTestHDP(t, testConfig())
	before := takeSnapshot(m)

	_, err := m.ProcessDocuments(nil, 0.0001)
	assert.True(t, errors.Is(err, ErrEmptyBatch))

	docs := testDocs(t)
	docs = append(docs, &corpus.Document{Words: []int{3, 20}, Counts: []int{1, 1}})
	_, err = m.ProcessDocuments(docs, 0.0001)
	assert.True(t, errors.Is(err, ErrInvalidDocument))
	assert.True(t, errors.Is(err, corpus.ErrWordOutOfRange))

	_, err = m.ProcessDocuments([]*corpus.Document{{Words: []int{1}, Counts: []int{1, 2}}}, 0.0001)
	assert.True(t, errors.Is(err, ErrInvalidDocument))

	_, err = m.ProcessDocuments([]*corpus.Document{{}}, 0.0001)
	assert.True(t, errors.Is(err, ErrInvalidDocument))

	assert.Equal(t, before, takeSnapshot(m))
}

func TestProcessDocumentsNonFiniteLeavesStateUntouched(t *testing.T) {
	m := newTestHDP(t, testConfig())
	docs := testDocs(t)

	_, err := m.ProcessDocuments(docs[:1], 0.0001)
	require.NoError(t, err)

	// an overflowed pseudocount on a word of the second document
	m.lambda.Set(0, 5, math.Inf(1))
	before := takeSnapshot(m)

	_, err = m.ProcessDocuments(docs, 0.0001)
	assert.True(t, errors.Is(err, ErrNonFinite))
	assert.Equal(t, before, takeSnapshot(m))

	_, err = m.ProcessDocuments(docs, 0.0001, InferOnly())
	assert.True(t, errors.Is(err, ErrNonFinite))
	assert.Equal(t, before, takeSnapshot(m))
}

func TestExportTopics(t *testing.T) {
	cfg := testConfig()
	m := newTestHDP(t, cfg)
	_, err := m.ProcessDocuments(testDocs(t), 0.0001)
	require.NoError(t, err)

	topics := m.ExportTopics()

	assert.True(t, m.UpToDate())
	assert.Equal(t, cfg.T, len(topics))
	for t2, row := range topics {
		assert.Equal(t, cfg.W, len(row))
		for w, x := range row {
			assert.Equal(t, m.lambda.At(t2, w)+cfg.Eta, x)
		}
	}
}

func TestToFiniteApproximation(t *testing.T) {
	cfg := testConfig()
	cfg.Alpha = 2.5
	m := newTestHDP(t, cfg)
	for i := 0; i < 3; i += 1 {
		_, err := m.ProcessDocuments(testDocs(t), 0.0001)
		require.NoError(t, err)
	}

	alpha, beta := m.ToFiniteApproximation()

	assert.Equal(t, cfg.T, len(alpha))
	assert.LessOrEqual(t, floats.Sum(alpha), cfg.Alpha+1e-9)
	r, c := beta.Dims()
	assert.Equal(t, cfg.T, r)
	assert.Equal(t, cfg.W, c)
	for t2 := 0; t2 < r; t2 += 1 {
		assert.InDelta(t, 1.0, floats.Sum(beta.RawRowView(t2)), 1e-9)
	}
}

func TestProcessDocumentsConcurrentCallers(t *testing.T) {
	m := newTestHDP(t, testConfig())
	docs := testDocs(t)

	done := make(chan error, 8)
	for i := 0; i < 4; i += 1 {
		go func() {
			_, err := m.ProcessDocuments(docs, 0.0001)
			done <- err
		}()
		go func() {
			_, _, err := m.Evaluate(docs, EvalFull, 0)
			done <- err
		}()
	}
	for i := 0; i < 8; i += 1 {
		assert.NoError(t, <-done)
	}
	assert.Equal(t, 4, m.UpdateCount())
	assert.Equal(t, 5, len(m.lazy.r))
}
