package model

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ckingdev/online-hdp/corpus"
	"github.com/ckingdev/online-hdp/matrix"
)

// HDP is an online variational hierarchical Dirichlet process topic
// model with a truncated stick-breaking representation. It follows the
// convention of the HDP paper: gamma is the first level concentration,
// alpha the second level one and eta the topic Dirichlet.
//
// Methods are safe for concurrent use. Updates are serialized, read
// only calls may overlap each other.
type HDP struct {
	mu  sync.RWMutex
	cfg Config
	src rand.Source

	sticks    *mat.Dense // 2 x (T-1) top level stick pseudocounts
	varphiSS  []float64  // running top level stick statistics
	lambda    *mat.Dense // T x W topic-word pseudocounts
	lambdaSum []float64  // row sums of lambda
	elogbeta  *mat.Dense // T x W, exact only for up to date columns
	lazy      *lazySchedule

	updateCount   int
	numDocsParsed int
	rhot          float64
	upToDate      bool
}

// NewHDP validates cfg and initializes the global state with random
// topics scaled to the expected corpus density.
func NewHDP(cfg Config) (*HDP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	topics, vocab := cfg.T, cfg.W

	m := &HDP{
		cfg:      cfg,
		src:      rand.NewPCG(cfg.Seed, cfg.Seed),
		sticks:   mat.NewDense(2, topics-1, nil),
		varphiSS: make([]float64, topics),
		lambda:   mat.NewDense(topics, vocab, nil),
		lazy:     newLazySchedule(vocab),
		upToDate: true,
	}

	// uniform sticks at the beginning
	for i := 0; i < topics-1; i += 1 {
		m.sticks.Set(0, i, 1.0)
		m.sticks.Set(1, i, float64(topics-1-i))
	}

	gamma := distuv.Gamma{Alpha: 1.0, Beta: 1.0, Src: m.src}
	scale := float64(cfg.D) * 100.0 / float64(topics*vocab)
	for t := 0; t < topics; t += 1 {
		row := m.lambda.RawRowView(t)
		for w := range row {
			row[w] = gamma.Rand()*scale - cfg.Eta
		}
	}
	m.lambdaSum = matrix.RowSums(m.lambda)
	m.elogbeta = m.elogbetaOf(m.lambda)

	return m, nil
}

// BatchScore holds the approximate log likelihood of a mini-batch and
// its token count, with the unseen documents also reported separately.
type BatchScore struct {
	Score       float64
	Count       int
	UnseenScore float64
	UnseenCount int
}

type processOptions struct {
	unseen           map[int]bool
	update           bool
	optimizeOrdering bool
}

type ProcessOption func(*processOptions)

// WithUnseen marks the documents at the given batch positions as unseen;
// their score is also reported in BatchScore.UnseenScore.
func WithUnseen(ids ...int) ProcessOption {
	return func(o *processOptions) {
		for _, id := range ids {
			o.unseen[id] = true
		}
	}
}

// InferOnly scores the batch without touching the global state.
func InferOnly() ProcessOption {
	return func(o *processOptions) { o.update = false }
}

// WithoutReordering keeps the topic order after the update.
func WithoutReordering() ProcessOption {
	return func(o *processOptions) { o.optimizeOrdering = false }
}

type docResult struct {
	likelihood float64
	stats      *docStats
}

// ProcessDocuments runs the E-step on a mini-batch and, unless InferOnly
// is given, folds the result into the global state. varConverge is the
// relative ELBO change at which a document's fixed point iteration stops.
func (m *HDP) ProcessDocuments(docs []*corpus.Document, varConverge float64,
	opts ...ProcessOption) (BatchScore, error) {
	o := processOptions{unseen: map[int]bool{}, update: true, optimizeOrdering: true}
	for _, opt := range opts {
		opt(&o)
	}
	if err := m.validateBatch(docs); err != nil {
		return BatchScore{}, err
	}

	if o.update {
		m.mu.Lock()
		defer m.mu.Unlock()
	} else {
		m.mu.RLock()
		defer m.mu.RUnlock()
	}

	parsed := m.numDocsParsed + len(docs)
	addingNoise := o.update && m.shouldAddNoise(parsed, len(docs))

	var words []int
	var ids map[int]int
	if addingNoise {
		words = m.allWords()
		ids = make(map[int]int, len(words))
		for _, w := range words {
			ids[w] = w
		}
	} else {
		words, ids = batchVocabulary(docs)
	}

	// lazy updates on the necessary columns of lambda
	lambda := m.correctedLambda(words)
	elogbeta := m.elogbetaOf(lambda)
	view := &batchView{
		elogbeta:   elogbeta,
		elogsticks: ExpectLogSticks(m.sticks),
		ids:        ids,
	}

	results, err := m.eSteps(docs, view, varConverge)
	if err != nil {
		return BatchScore{}, err
	}

	var score BatchScore
	ss := NewSuffStats(m.cfg.T, len(words), len(docs))
	for i, res := range results {
		score.Score += res.likelihood
		score.Count += docs[i].Total()
		if o.unseen[i] {
			score.UnseenScore += res.likelihood
			score.UnseenCount += docs[i].Total()
		}
		ss.add(res.stats)
	}

	if !o.update {
		return score, nil
	}

	if addingNoise {
		m.addNoise(ss)
	}
	m.numDocsParsed = parsed
	m.commitColumns(words, lambda, elogbeta)
	m.updateLambda(ss, words, o.optimizeOrdering)

	return score, nil
}

// eSteps runs the document E-steps in parallel. Each document gets its
// own result slot so that merging stays in document order.
func (m *HDP) eSteps(docs []*corpus.Document, view *batchView,
	varConverge float64) ([]docResult, error) {
	results := make([]docResult, len(docs))

	var g errgroup.Group
	g.SetLimit(max(1, m.cfg.Workers))
	for i, doc := range docs {
		g.Go(func() error {
			likelihood, stats, err := m.docEStep(doc, view, varConverge)
			if err != nil {
				return fmt.Errorf("document %d: %w", i, err)
			}
			results[i] = docResult{likelihood: likelihood, stats: stats}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *HDP) validateBatch(docs []*corpus.Document) error {
	if len(docs) == 0 {
		return ErrEmptyBatch
	}
	for i, doc := range docs {
		if err := m.validateDocument(doc); err != nil {
			return fmt.Errorf("document %d: %w", i, err)
		}
	}
	return nil
}

func (m *HDP) validateDocument(doc *corpus.Document) error {
	if doc == nil || doc.Length() == 0 {
		return fmt.Errorf("%w: empty document", ErrInvalidDocument)
	}
	if err := doc.Validate(m.cfg.W); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return nil
}

// batchVocabulary lists the distinct words of a mini-batch in order of
// first appearance, with their batch-local ids.
func batchVocabulary(docs []*corpus.Document) ([]int, map[int]int) {
	var words []int
	ids := make(map[int]int)
	for _, doc := range docs {
		for _, w := range doc.Words {
			if _, ok := ids[w]; !ok {
				ids[w] = len(words)
				words = append(words, w)
			}
		}
	}
	return words, ids
}

// ExportTopics returns lambda + eta, one row of W pseudocounts per topic.
func (m *HDP) ExportTopics() [][]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.upToDate {
		m.updateExpectations()
	}

	topics := make([][]float64, m.cfg.T)
	for t := range topics {
		topics[t] = append([]float64(nil), m.lambda.RawRowView(t)...)
		floats.AddConst(m.cfg.Eta, topics[t])
	}
	return topics
}

// ToFiniteApproximation projects the truncated HDP onto an LDA model with
// T topics: alpha holds the expected top level stick weights times the
// second level concentration, beta the expected topic-word
// distributions.
func (m *HDP) ToFiniteApproximation() ([]float64, *mat.Dense) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.upToDate {
		m.updateExpectations()
	}

	alpha := stickWeights(m.sticks)
	floats.Scale(m.cfg.Alpha, alpha)
	return alpha, m.topicWordDistribution(m.lambda)
}

// topicWordDistribution normalizes up to date lambda columns into
// E[beta] = (lambda + eta) / (W*eta + lambdaSum).
func (m *HDP) topicWordDistribution(lambda *mat.Dense) *mat.Dense {
	eta := m.cfg.Eta
	_, c := lambda.Dims()
	beta := mat.NewDense(m.cfg.T, c, nil)
	for t := 0; t < m.cfg.T; t += 1 {
		norm := float64(m.cfg.W)*eta + m.lambdaSum[t]
		src, dst := lambda.RawRowView(t), beta.RawRowView(t)
		for j := range dst {
			dst[j] = (src[j] + eta) / norm
		}
	}
	return beta
}

func (m *HDP) Config() Config {
	return m.cfg
}

func (m *HDP) UpdateCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updateCount
}

// LearningRate is the rho used by the latest update.
func (m *HDP) LearningRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rhot
}

// UpToDate reports whether every lambda column is exact.
func (m *HDP) UpToDate() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upToDate
}
