package opt

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// NewtonAdapter wraps gonum's optimize package with a Newton method, using
// the objective's exact gradient and Hessian.
type NewtonAdapter struct {
	maxIters  int
	gradTol   float64
	patience  int
	threshold float64
}

// NewNewton creates a Newton optimizer adapter. maxIters caps the major
// iterations; gradTol is the gradient-norm convergence threshold.
func NewNewton(maxIters int, gradTol float64) Optimizer {
	return &NewtonAdapter{
		maxIters:  maxIters,
		gradTol:   gradTol,
		patience:  20,
		threshold: 1e-10,
	}
}

// evalCache avoids recomputing the objective when gonum asks for the value,
// gradient, and Hessian of the same point through separate callbacks.
type evalCache struct {
	obj  Objective
	x    []float64
	val  float64
	grad []float64
	hess *mat.SymDense
}

func newEvalCache(obj Objective) *evalCache {
	n := obj.Dim()
	return &evalCache{
		obj:  obj,
		grad: make([]float64, n),
		hess: mat.NewSymDense(n, nil),
	}
}

func (c *evalCache) at(x []float64) {
	if c.x != nil && floats.Equal(c.x, x) {
		return
	}
	if c.x == nil {
		c.x = make([]float64, len(x))
	}
	copy(c.x, x)
	c.val = c.obj.ValueGradHess(x, c.grad, c.hess)
}

// Run executes the Newton optimization. Hitting the iteration budget is
// reported as a non-converged result, not an error; failures inside the
// line search or a Hessian factorization are returned as errors.
func (n *NewtonAdapter) Run(obj Objective, x0, lower, upper []float64) (*Result, error) {
	cache := newEvalCache(obj)
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			cache.at(x)
			return cache.val
		},
		Grad: func(grad, x []float64) {
			cache.at(x)
			copy(grad, cache.grad)
		},
		Hess: func(hess *mat.SymDense, x []float64) {
			cache.at(x)
			hess.CopySym(cache.hess)
		},
	}

	settings := &optimize.Settings{
		MajorIterations:   n.maxIters,
		GradientThreshold: n.gradTol,
		Converger: &optimize.FunctionConverge{
			Relative:   n.threshold,
			Iterations: n.patience,
		},
	}

	res, err := optimize.Minimize(problem, x0, settings, &optimize.Newton{})
	if err != nil && (res == nil || res.Status != optimize.IterationLimit) {
		return nil, fmt.Errorf("newton optimization failed: %w", err)
	}

	return &Result{
		X:          res.X,
		Value:      res.F,
		Iterations: res.Stats.MajorIterations,
		Converged:  res.Status != optimize.IterationLimit,
		Status:     res.Status.String(),
	}, nil
}
