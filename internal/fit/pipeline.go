package fit

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/navyTensor/celeste/internal/opt"
)

// Recorder receives the ELBO and the packed active-source parameters after
// each objective evaluation. Implementations persist traces or checkpoints.
type Recorder interface {
	Record(evaluation int, elbo float64, params []float64) error
}

// Config controls the ELBO maximization loop.
type Config struct {
	// Workers is the number of parallel ELBO workers (0 or 1 means
	// single-threaded).
	Workers int

	// Tracker configures stall detection and history recording.
	Tracker TrackerConfig

	// Recorder, if non-nil, is invoked after every objective evaluation.
	Recorder Recorder

	// Prior overrides the default prior when non-nil.
	Prior *Prior
}

// FitResult summarizes one maximization run.
type FitResult struct {
	Elbo        float64
	InitialElbo float64
	Evaluations int
	Iterations  int
	Converged   bool
	Status      string
	History     []float64
}

// elboObjective adapts an Evaluator to the minimization interface expected
// by the optimizers: it packs the active sources' parameters into a flat
// vector and negates the ELBO. Evaluation failures are logged and mapped to
// +Inf so the line search backs off; failures inside the optimizer itself
// are surfaced by the optimizer.
type elboObjective struct {
	ea      *ElboArgs
	ev      *Evaluator
	tracker *Tracker
	rec     Recorder
	evals   int
}

func (o *elboObjective) Dim() int {
	return ParamsPerSource * len(o.ea.ActiveSources)
}

func (o *elboObjective) Value(x []float64) float64 {
	o.unpack(x)
	el, err := o.ev.Elbo()
	if err != nil {
		slog.Warn("ELBO evaluation failed", "error", err)
		return math.Inf(1)
	}
	o.observe(el.V, x)
	return -el.V
}

func (o *elboObjective) ValueGradHess(x []float64, grad []float64, hess *mat.SymDense) float64 {
	o.unpack(x)
	el, err := o.ev.Elbo()
	if err != nil {
		slog.Warn("ELBO evaluation failed", "error", err)
		for i := range grad {
			grad[i] = 0
		}
		hess.Zero()
		return math.Inf(1)
	}
	n := el.Dim()
	for i := 0; i < n; i++ {
		grad[i] = -el.Grad.AtVec(i)
		for j := i; j < n; j++ {
			hess.SetSym(i, j, -el.Hess.At(i, j))
		}
	}
	o.observe(el.V, x)
	return -el.V
}

func (o *elboObjective) observe(elbo float64, x []float64) {
	o.evals++
	o.tracker.Update(elbo)
	if o.rec != nil {
		if err := o.rec.Record(o.evals, elbo, x); err != nil {
			slog.Warn("Recorder failed", "evaluation", o.evals, "error", err)
		}
	}
}

// unpack writes the packed parameter vector back into the problem state's
// active sources.
func (o *elboObjective) unpack(x []float64) {
	for i, s := range o.ea.ActiveSources {
		copy(o.ea.VP[s], x[i*ParamsPerSource:(i+1)*ParamsPerSource])
	}
}

// pack flattens the active sources' current parameters.
func (o *elboObjective) pack() []float64 {
	x := make([]float64, o.Dim())
	for i, s := range o.ea.ActiveSources {
		copy(x[i*ParamsPerSource:], o.ea.VP[s])
	}
	return x
}

// MaximizeElbo drives the optimizer to maximize the ELBO over the active
// sources' variational parameters, mutating ea.VP in place. Hitting the
// iteration budget is reported through FitResult.Converged, not as an
// error; numerical failures inside the optimizer are returned.
func MaximizeElbo(ea *ElboArgs, optimizer opt.Optimizer, cfg Config) (*FitResult, error) {
	if len(ea.ActiveSources) == 0 {
		return nil, invalidInputf("no active sources to optimize")
	}
	if cfg.Tracker == (TrackerConfig{}) {
		cfg.Tracker = DefaultTrackerConfig()
	}

	ev := NewEvaluator(ea, cfg.Workers)
	if cfg.Prior != nil {
		ev.SetPrior(cfg.Prior)
	}
	obj := &elboObjective{
		ea:      ea,
		ev:      ev,
		tracker: NewTracker(cfg.Tracker),
		rec:     cfg.Recorder,
	}

	x0 := obj.pack()
	initial, err := ev.Elbo()
	if err != nil {
		return nil, fmt.Errorf("ELBO evaluation at the starting point failed: %w", err)
	}
	initialElbo := initial.V
	slog.Info("Starting ELBO maximization",
		"sources", ea.S,
		"active_sources", len(ea.ActiveSources),
		"images", ea.N,
		"active_pixels", len(ea.ActivePixels),
		"initial_elbo", initialElbo,
	)

	lower, upper := packedBounds(ea)
	res, err := optimizer.Run(obj, x0, lower, upper)
	if err != nil {
		return nil, err
	}
	obj.unpack(res.X)

	slog.Info("ELBO maximization complete",
		"initial_elbo", initialElbo,
		"final_elbo", -res.Value,
		"iterations", res.Iterations,
		"converged", res.Converged,
		"status", res.Status,
	)

	return &FitResult{
		Elbo:        -res.Value,
		InitialElbo: initialElbo,
		Evaluations: obj.evals,
		Iterations:  res.Iterations,
		Converged:   res.Converged,
		Status:      res.Status,
		History:     obj.tracker.History(),
	}, nil
}

// packedBounds builds per-parameter search bounds for the active sources,
// used by derivative-free optimizers.
func packedBounds(ea *ElboArgs) (lower, upper []float64) {
	n := ParamsPerSource * len(ea.ActiveSources)
	lower = make([]float64, n)
	upper = make([]float64, n)
	var maxH, maxW int
	for _, img := range ea.Images {
		if img.H > maxH {
			maxH = img.H
		}
		if img.W > maxW {
			maxW = img.W
		}
	}
	for i := range ea.ActiveSources {
		off := i * ParamsPerSource
		lo := lower[off : off+ParamsPerSource]
		hi := upper[off : off+ParamsPerSource]

		hi[ParamU0] = float64(maxH)
		hi[ParamU1] = float64(maxW)
		lo[ParamA], hi[ParamA] = 1e-4, 1-1e-4
		for t := 0; t < NumTypes; t++ {
			lo[ParamR1(t)], hi[ParamR1(t)] = -5, 15
			lo[ParamR2(t)], hi[ParamR2(t)] = 1e-4, 5
			for k := 0; k < NumColors; k++ {
				lo[ParamC1(k, t)], hi[ParamC1(k, t)] = -5, 5
				lo[ParamC2(k, t)], hi[ParamC2(k, t)] = 1e-4, 5
			}
		}
		lo[ParamEDev], hi[ParamEDev] = 1e-4, 1-1e-4
		lo[ParamEAxis], hi[ParamEAxis] = 0.05, 1
		lo[ParamEAngle], hi[ParamEAngle] = -math.Pi, math.Pi
		lo[ParamEScale], hi[ParamEScale] = 0.1, float64(maxH+maxW)
	}
	return lower, upper
}
