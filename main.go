package main

import (
	"flag"
	"math"
	"math/rand/v2"
	"strings"

	log "github.com/golang/glog"
	"gonum.org/v1/gonum/mat"

	"github.com/ckingdev/online-hdp/corpus"
	"github.com/ckingdev/online-hdp/model"
	"github.com/ckingdev/online-hdp/sstable"
)

var (
	input     = flag.String("input_file", "", "input training file")
	testInput = flag.String("test_file", "", "held-out documents scored after every pass")
	output    = flag.String("output", "hdp", "prefix of the saved model files")

	topLevel    = flag.Int("T", 300, "top level truncation")
	secondLevel = flag.Int("K", 20, "second level truncation")
	corpusSize  = flag.Int("D", 0, "number of documents in the corpus, 0 to use the training set size")
	vocabSize   = flag.Int("W", 0, "vocabulary size, 0 to derive it from the data")
	eta         = flag.Float64("eta", 0.01, "topic Dirichlet")
	alpha       = flag.Float64("alpha", 1.0, "second level concentration")
	gamma       = flag.Float64("gamma", 1.0, "first level concentration")
	kappa       = flag.Float64("kappa", 0.5001, "learning rate decay, in (0.5, 1]")
	tau         = flag.Float64("tau", 1.0, "slow down parameter")
	scale       = flag.Float64("scale", 1.0, "learning rate scale")
	rhoBound    = flag.Float64("rho_bound", 0.0, "learning rate floor")
	addingNoise = flag.Bool("adding_noise", false, "periodically blend noise into the topic statistics")

	batchSize   = flag.Int("batch_size", 100, "documents per mini-batch")
	passes      = flag.Int("iter", 1, "number of passes over the training data")
	varConverge = flag.Float64("var_converge", 0.0001, "relative ELBO change that stops a document E-step")
	maxIter     = flag.Int("max_iter", 100, "iteration cap of the per document solvers")
	workers     = flag.Int("workers", 0, "parallel document E-steps, 0 for GOMAXPROCS")
	seed        = flag.Uint64("seed", 999931111, "random seed")
	evalMode    = flag.String("eval_mode", "ratio", "held-out scoring: full, ratio or interleaved")
	splitRatio  = flag.Float64("split_ratio", model.DefaultSplitRatio, "fitted share of each held-out document in ratio mode")
)

func parseEvalMode(s string) model.EvalMode {
	switch strings.ToLower(s) {
	case "full":
		return model.EvalFull
	case "interleaved":
		return model.EvalInterleaved
	case "ratio":
		return model.EvalRatio
	}
	log.Exitf("unknown eval mode %q", s)
	return model.EvalFull
}

func main() {
	flag.Parse()
	defer log.Flush()

	// read training data
	data := &corpus.Corpus{VocabSize: *vocabSize}
	if err := data.Load(*input); err != nil {
		log.Exitf("load %s: %v", *input, err)
	}
	var test *corpus.Corpus
	if *testInput != "" {
		test = &corpus.Corpus{VocabSize: data.VocabSize}
		if err := test.Load(*testInput); err != nil {
			log.Exitf("load %s: %v", *testInput, err)
		}
		data.VocabSize = max(data.VocabSize, test.VocabSize)
	}
	mode := parseEvalMode(*evalMode)

	cfg := model.DefaultConfig(data.VocabSize, len(data.Docs))
	if *corpusSize > 0 {
		cfg.D = *corpusSize
	}
	cfg.T, cfg.K = *topLevel, *secondLevel
	cfg.Eta, cfg.Alpha, cfg.Gamma = *eta, *alpha, *gamma
	cfg.Kappa, cfg.Tau, cfg.Scale, cfg.RhoBound = *kappa, *tau, *scale, *rhoBound
	cfg.AddingNoise = *addingNoise
	cfg.MaxIter = *maxIter
	cfg.Seed = *seed
	if *workers > 0 {
		cfg.Workers = *workers
	}

	// init model
	m, err := model.NewHDP(cfg)
	if err != nil {
		log.Exitf("%v", err)
	}

	rng := rand.New(rand.NewPCG(*seed, *seed+1))
	docs := append([]*corpus.Document(nil), data.Docs...)
	for pass := 0; pass < *passes; pass += 1 {
		rng.Shuffle(len(docs), func(i, j int) { docs[i], docs[j] = docs[j], docs[i] })
		shuffled := &corpus.Corpus{VocabSize: data.VocabSize, Docs: docs}

		for b, batch := range shuffled.Batches(*batchSize) {
			score, err := m.ProcessDocuments(batch, *varConverge)
			if err != nil {
				log.Exitf("pass %d, batch %d: %v", pass, b, err)
			}
			log.Infof("pass %3d, batch %5d, score %f, count %d, rho %f",
				pass, b, score.Score, score.Count, m.LearningRate())
		}

		if test != nil {
			score, count, err := m.Evaluate(test.Docs, mode, *splitRatio)
			if err != nil {
				log.Exitf("evaluate: %v", err)
			}
			log.Infof("pass %3d, held-out %s score %f, count %d, perplexity %f",
				pass, mode, score, count, math.Exp(-score/float64(count)))
		}
	}

	if err := save(m, *output); err != nil {
		log.Exitf("save %s: %v", *output, err)
	}
}

// save writes the topics and the finite LDA projection of the model.
func save(m *model.HDP, prefix string) error {
	topics := m.ExportTopics()
	flat := make([]float64, 0, len(topics)*len(topics[0]))
	for _, row := range topics {
		flat = append(flat, row...)
	}
	if err := sstable.Serialize(mat.NewDense(len(topics), len(topics[0]), flat), prefix+".topics"); err != nil {
		return err
	}

	alpha, beta := m.ToFiniteApproximation()
	if err := sstable.Serialize(mat.NewDense(1, len(alpha), alpha), prefix+".alpha"); err != nil {
		return err
	}
	return sstable.Serialize(beta, prefix+".beta")
}
