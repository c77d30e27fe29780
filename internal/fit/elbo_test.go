package fit

import (
	"math"
	"testing"

	"github.com/navyTensor/celeste/internal/sensitive"
)

// smallProblem builds a two-source, two-band problem on 6x6 images with both
// sources inside the field.
func smallProblem(t *testing.T, active []int) *ElboArgs {
	t.Helper()
	psf := testPSF(2)
	images := []*Image{
		testImage(0, 6, 6, psf),
		testImage(2, 6, 6, psf),
	}
	vp, tsm, patches, all := testProblem(images, 2)
	vp[0][ParamU0], vp[0][ParamU1] = 2.0, 2.5
	vp[1][ParamU0], vp[1][ParamU1] = 4.0, 3.5
	if active == nil {
		active = all
	}
	ea, err := NewElboArgs(images, vp, tsm, patches, active)
	if err != nil {
		t.Fatalf("NewElboArgs: %v", err)
	}
	return ea
}

func TestElboSinglePixelSingleComponent(t *testing.T) {
	// Smallest valid problem: one image holding one 1x1 tile, one source,
	// a one-component PSF. Must evaluate to a finite ELBO with a full
	// per-source gradient and no error.
	psf := testPSF(1)
	images := []*Image{testImage(0, 1, 1, psf)}
	vp, tsm, patches, active := testProblem(images, 1)
	vp[0][ParamU0], vp[0][ParamU1] = 0.0, 0.0

	ea, err := NewElboArgs(images, vp, tsm, patches, active, WithPsfK(1))
	if err != nil {
		t.Fatalf("NewElboArgs: %v", err)
	}
	if got := len(ea.ActivePixels); got != 1 {
		t.Fatalf("active pixel count = %d, want 1", got)
	}

	el, err := ComputeElbo(ea)
	if err != nil {
		t.Fatalf("ComputeElbo: %v", err)
	}
	if math.IsNaN(el.V) || math.IsInf(el.V, 0) {
		t.Errorf("ELBO = %g, want finite", el.V)
	}
	if el.Dim() != ParamsPerSource {
		t.Fatalf("gradient has %d entries, want %d", el.Dim(), ParamsPerSource)
	}
	for i := 0; i < el.Dim(); i++ {
		if g := el.Grad.AtVec(i); math.IsNaN(g) || math.IsInf(g, 0) {
			t.Errorf("gradient entry %d = %g, want finite", i, g)
		}
	}
}

func TestElboSkyOnly(t *testing.T) {
	// With no sources mapped to any tile the expected intensity is the sky
	// level, and the likelihood reduces to a per-pixel Poisson log density.
	psf := testPSF(2)
	images := []*Image{testImage(0, 3, 3, psf)}
	vp, tsm, patches, active := testProblem(images, 1)
	for n := range tsm {
		for ti := range tsm[n] {
			tsm[n][ti] = nil
		}
	}
	ea, err := NewElboArgs(images, vp, tsm, patches, active)
	if err != nil {
		t.Fatalf("NewElboArgs: %v", err)
	}

	el, err := ComputeElbo(ea)
	if err != nil {
		t.Fatalf("ComputeElbo: %v", err)
	}

	const obs, eps = 100.0, 30.0
	lg, _ := math.Lgamma(obs + 1)
	loglik := 9 * (obs*math.Log(eps) - eps - lg)

	kl := evalKL(vp[0], DefaultPrior())
	want := loglik - kl.V
	if math.Abs(el.V-want) > 1e-9*math.Abs(want) {
		t.Errorf("sky-only ELBO = %g, want %g", el.V, want)
	}
}

func TestElboHessianSymmetric(t *testing.T) {
	ea := smallProblem(t, nil)
	el, err := ComputeElbo(ea)
	if err != nil {
		t.Fatalf("ComputeElbo: %v", err)
	}
	n := el.Dim()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if el.Hess.At(i, j) != el.Hess.At(j, i) {
				t.Fatalf("Hessian asymmetric at (%d,%d): %g vs %g",
					i, j, el.Hess.At(i, j), el.Hess.At(j, i))
			}
		}
	}
}

func TestElboDeterministicAcrossWorkers(t *testing.T) {
	ea := smallProblem(t, nil)
	one, err := NewEvaluator(ea, 1).Elbo()
	if err != nil {
		t.Fatalf("single-threaded: %v", err)
	}
	v1 := one.V

	four, err := NewEvaluator(ea, 4).Elbo()
	if err != nil {
		t.Fatalf("parallel: %v", err)
	}
	if math.Abs(four.V-v1) > 1e-9*math.Abs(v1) {
		t.Errorf("workers=4 ELBO %g differs from workers=1 %g", four.V, v1)
	}

	again, err := NewEvaluator(ea, 4).Elbo()
	if err != nil {
		t.Fatalf("parallel repeat: %v", err)
	}
	if again.V != four.V {
		t.Errorf("repeated evaluation differs: %g vs %g", again.V, four.V)
	}
}

func TestElboCullingCutoff(t *testing.T) {
	ea := smallProblem(t, nil)
	full, err := ComputeElbo(ea)
	if err != nil {
		t.Fatalf("ComputeElbo: %v", err)
	}

	// A generous cutoff discards only contributions below the double
	// precision noise floor.
	eaWide := smallProblem(t, nil)
	eaWide.NumAllowedSD = 8
	wide, err := ComputeElbo(eaWide)
	if err != nil {
		t.Fatalf("ComputeElbo with cutoff: %v", err)
	}
	if math.Abs(wide.V-full.V) > 1e-9*math.Abs(full.V) {
		t.Errorf("cutoff at 8 sd changed ELBO: %g vs %g", wide.V, full.V)
	}
	n := full.Dim()
	for i := 0; i < n; i++ {
		g0, g1 := full.Grad.AtVec(i), wide.Grad.AtVec(i)
		if math.Abs(g1-g0) > 1e-6*math.Max(1, math.Abs(g0)) {
			t.Errorf("cutoff gradient entry %d: %g vs %g", i, g1, g0)
		}
	}

	// An aggressive cutoff removes real flux.
	eaTight := smallProblem(t, nil)
	eaTight.NumAllowedSD = 0.5
	tight, err := ComputeElbo(eaTight)
	if err != nil {
		t.Fatalf("ComputeElbo with tight cutoff: %v", err)
	}
	if tight.V == full.V {
		t.Error("cutoff at 0.5 sd left the ELBO unchanged")
	}
}

func TestElboActiveSourceIsolation(t *testing.T) {
	// The likelihood gradient of one source's block must not depend on
	// whether other sources are tracked, only on their parameter values.
	both, err := ComputeElbo(smallProblem(t, []int{0, 1}))
	if err != nil {
		t.Fatalf("both active: %v", err)
	}
	only, err := ComputeElbo(smallProblem(t, []int{0}))
	if err != nil {
		t.Fatalf("one active: %v", err)
	}

	for i := 0; i < ParamsPerSource; i++ {
		g0, g1 := both.Grad.AtVec(i), only.Grad.AtVec(i)
		if math.Abs(g1-g0) > 1e-9*math.Max(1, math.Abs(g0)) {
			t.Errorf("gradient entry %d: %g with both active, %g alone", i, g0, g1)
		}
		for j := 0; j < ParamsPerSource; j++ {
			h0, h1 := both.Hess.At(i, j), only.Hess.At(i, j)
			if math.Abs(h1-h0) > 1e-9*math.Max(1, math.Abs(h0)) {
				t.Errorf("Hessian entry (%d,%d): %g with both active, %g alone", i, j, h0, h1)
			}
		}
	}

	// The values differ by exactly the second source's KL term.
	kl := evalKL(smallProblem(t, nil).VP[1], DefaultPrior())
	if diff := only.V - both.V; math.Abs(diff-kl.V) > 1e-9*math.Max(1, math.Abs(kl.V)) {
		t.Errorf("value difference = %g, want KL of source 1 = %g", diff, kl.V)
	}
}

func TestElboGradientFiniteDifference(t *testing.T) {
	ea := smallProblem(t, nil)
	el, err := ComputeElbo(ea)
	if err != nil {
		t.Fatalf("ComputeElbo: %v", err)
	}
	grad := make([]float64, el.Dim())
	for i := range grad {
		grad[i] = el.Grad.AtVec(i)
	}

	valueAt := func() float64 {
		v, err := ComputeElbo(ea)
		if err != nil {
			t.Fatalf("ComputeElbo: %v", err)
		}
		return v.V
	}

	const h = 1e-6
	for slot, s := range ea.ActiveSources {
		for p := 0; p < ParamsPerSource; p++ {
			orig := ea.VP[s][p]
			ea.VP[s][p] = orig + h
			hi := valueAt()
			ea.VP[s][p] = orig - h
			lo := valueAt()
			ea.VP[s][p] = orig

			want := (hi - lo) / (2 * h)
			got := grad[slot*ParamsPerSource+p]
			if math.Abs(got-want) > 1e-3*math.Max(1, math.Abs(want)) {
				t.Errorf("source %d param %d: grad = %g, finite difference %g", s, p, got, want)
			}
		}
	}
}

func TestElboHessianFiniteDifference(t *testing.T) {
	ea := smallProblem(t, nil)
	el, err := ComputeElbo(ea)
	if err != nil {
		t.Fatalf("ComputeElbo: %v", err)
	}

	gradAt := func() *sensitive.Float {
		v, err := ComputeElbo(ea)
		if err != nil {
			t.Fatalf("ComputeElbo: %v", err)
		}
		return v
	}

	// Probe a cross-section of the parameter space: location, type, flux,
	// color, and shape entries of both sources.
	probe := []int{
		ParamU0, ParamA, ParamR1(Star), ParamR2(Galaxy), ParamC1(1, Star),
		ParamEDev, ParamEAxis, ParamEScale,
		ParamsPerSource + ParamU1, ParamsPerSource + ParamR1(Galaxy),
	}

	const h = 1e-5
	for _, j := range probe {
		s := ea.ActiveSources[j/ParamsPerSource]
		p := j % ParamsPerSource

		orig := ea.VP[s][p]
		ea.VP[s][p] = orig + h
		hi := gradAt()
		hiGrad := make([]float64, hi.Dim())
		for i := range hiGrad {
			hiGrad[i] = hi.Grad.AtVec(i)
		}
		ea.VP[s][p] = orig - h
		lo := gradAt()
		ea.VP[s][p] = orig

		for _, i := range probe {
			want := (hiGrad[i] - lo.Grad.AtVec(i)) / (2 * h)
			got := el.Hess.At(i, j)
			if math.Abs(got-want) > 5e-3*math.Max(1, math.Abs(want)) {
				t.Errorf("Hess[%d][%d] = %g, finite difference %g", i, j, got, want)
			}
		}
	}
}
