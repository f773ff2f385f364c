package model

import (
	"fmt"
	"math"
	"runtime"
)

const (
	// noise injection cadence and strength
	minAddingNoisePoint = 10
	minAddingNoiseRatio = 1
	mu0                 = 0.3

	// threshold on mean absolute change of gamma in the evaluator
	meanChangeThresh = 0.00001
	// floor added before logarithms and divisions
	epsilon = 1e-100

	// number of cold-start iterations that skip the stick priors
	coldStartIters = 3
	// initial ELBO sentinel, forces at least two iterations
	initialLikelihood = -1e100
	// relative ELBO drop tolerated without a warning
	decreaseTolerance = -0.000001
)

type Config struct {
	T int // top level truncation
	K int // second level truncation
	D int // estimated number of documents in the corpus
	W int // vocabulary size

	Eta   float64 // topic Dirichlet
	Alpha float64 // second level concentration
	Gamma float64 // first level concentration

	Kappa    float64 // learning rate decay, in (0.5, 1]
	Tau      float64 // slow down parameter
	Scale    float64
	RhoBound float64 // learning rate floor

	AddingNoise bool

	MaxIter int // per document E-step iteration cap
	Workers int // parallel E-steps per mini-batch
	Seed    uint64
}

// DefaultConfig returns the usual online HDP settings for a vocabulary
// of w words and a corpus of d documents.
func DefaultConfig(w, d int) Config {
	return Config{
		T:       300,
		K:       20,
		D:       d,
		W:       w,
		Eta:     0.01,
		Alpha:   1.0,
		Gamma:   1.0,
		Kappa:   0.5001,
		Tau:     1.0,
		Scale:   1.0,
		MaxIter: 100,
		Workers: runtime.GOMAXPROCS(0),
		Seed:    999931111,
	}
}

// Validate reports the first hyperparameter that is out of range.
func (c Config) Validate() error {
	switch {
	case c.T < 2:
		return fmt.Errorf("%w: T = %d, less than 2", ErrInvalidConfig, c.T)
	case c.K < 2:
		return fmt.Errorf("%w: K = %d, less than 2", ErrInvalidConfig, c.K)
	case c.D <= 0:
		return fmt.Errorf("%w: D = %d, not positive", ErrInvalidConfig, c.D)
	case c.W <= 0:
		return fmt.Errorf("%w: W = %d, not positive", ErrInvalidConfig, c.W)
	case !(c.Eta > 0):
		return fmt.Errorf("%w: eta = %f, not positive", ErrInvalidConfig, c.Eta)
	case !(c.Alpha > 0):
		return fmt.Errorf("%w: alpha = %f, not positive", ErrInvalidConfig, c.Alpha)
	case !(c.Gamma > 0):
		return fmt.Errorf("%w: gamma = %f, not positive", ErrInvalidConfig, c.Gamma)
	case !(c.Kappa > 0.5 && c.Kappa <= 1):
		return fmt.Errorf("%w: kappa = %f, not in (0.5, 1]", ErrInvalidConfig, c.Kappa)
	case !(c.Tau >= 0):
		return fmt.Errorf("%w: tau = %f, negative", ErrInvalidConfig, c.Tau)
	case !(c.Scale > 0):
		return fmt.Errorf("%w: scale = %f, not positive", ErrInvalidConfig, c.Scale)
	case !(c.RhoBound >= 0 && c.RhoBound < 1):
		return fmt.Errorf("%w: rho bound = %f, not in [0, 1)", ErrInvalidConfig, c.RhoBound)
	case c.MaxIter <= 0:
		return fmt.Errorf("%w: max iter = %d, not positive", ErrInvalidConfig, c.MaxIter)
	}
	// log(1 - rho) must stay finite; rho is largest on the first update.
	if rho := c.Scale * math.Pow(c.Tau+1, -c.Kappa); rho >= 1 {
		return fmt.Errorf("%w: first learning rate %f is not below 1", ErrInvalidConfig, rho)
	}
	return nil
}

// learning rate after t updates
func (c Config) rho(t int) float64 {
	rho := c.Scale * math.Pow(c.Tau+1+float64(t), -c.Kappa)
	if rho < c.RhoBound {
		rho = c.RhoBound
	}
	return rho
}
