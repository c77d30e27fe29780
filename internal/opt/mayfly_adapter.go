package opt

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MayflyAdapter wraps the external Mayfly library to conform to the
// Optimizer interface. It is derivative-free, so it only evaluates the
// objective's value; it is useful for seeding a Newton run with a global
// search when the starting point is poor.
//
// The external library supports only a single scalar bound pair for all
// dimensions, so the adapter searches the unit hypercube and maps each
// coordinate affinely onto its own [lower_i, upper_i] interval before
// evaluating the objective.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer adapter.
func NewMayfly(maxIters, popSize int, seed int64) Optimizer {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Run executes the Mayfly optimization using the external library.
func (m *MayflyAdapter) Run(obj Objective, x0, lower, upper []float64) (*Result, error) {
	n := obj.Dim()
	if len(lower) != n || len(upper) != n {
		return nil, fmt.Errorf("mayfly bounds have %d/%d entries, want %d", len(lower), len(upper), n)
	}
	span := make([]float64, n)
	for i := range span {
		if !(upper[i] > lower[i]) {
			return nil, fmt.Errorf("mayfly bounds for dimension %d are empty: [%g, %g]",
				i, lower[i], upper[i])
		}
		span[i] = upper[i] - lower[i]
	}

	// The library is single-threaded, so one scratch vector suffices.
	x := make([]float64, n)
	denorm := func(z []float64) []float64 {
		for i := range x {
			x[i] = lower[i] + z[i]*span[i]
		}
		return x
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(z []float64) float64 {
		return obj.Value(denorm(z))
	}
	config.ProblemSize = n
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = 0
	config.UpperBound = 1

	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, fmt.Errorf("mayfly optimization failed: %w", err)
	}

	best := make([]float64, n)
	copy(best, denorm(result.GlobalBest.Position))

	return &Result{
		X:          best,
		Value:      result.GlobalBest.Cost,
		Iterations: m.maxIters,
		Converged:  false,
		Status:     "iteration budget exhausted",
	}, nil
}
