package opt

import "gonum.org/v1/gonum/mat"

// Objective supplies the value, gradient, and Hessian of a scalar function
// to be minimized. Derivative-free optimizers call only Value.
type Objective interface {
	// Dim returns the dimensionality of the parameter space.
	Dim() int

	// Value evaluates the objective at x.
	Value(x []float64) float64

	// ValueGradHess evaluates the objective at x and writes the gradient
	// into grad and the Hessian into hess. Both must be sized to Dim().
	ValueGradHess(x []float64, grad []float64, hess *mat.SymDense) float64
}

// Result holds the outcome of an optimization run.
type Result struct {
	// X is the best parameter vector found.
	X []float64

	// Value is the objective value at X.
	Value float64

	// Iterations is the number of major iterations performed.
	Iterations int

	// Converged reports whether a convergence criterion was met, as
	// opposed to the iteration budget running out.
	Converged bool

	// Status describes the terminal state in words.
	Status string
}

// Optimizer runs a minimization of an objective from a starting point.
// lower and upper bound the search space for optimizers that need bounds;
// gradient-based optimizers may ignore them. Numerical failures inside the
// optimizer are returned as errors, never substituted.
type Optimizer interface {
	Run(obj Objective, x0, lower, upper []float64) (*Result, error)
}
