package fit

import (
	"fmt"
	"math"
	"sync"

	"github.com/navyTensor/celeste/internal/bvn"
	"github.com/navyTensor/celeste/internal/sensitive"
)

// Evaluator computes the ELBO of a problem state with its exact gradient and
// Hessian over the active sources' parameters. All working storage is
// allocated once and reused across optimizer iterations. An Evaluator is not
// safe for concurrent use; it manages its own worker parallelism internally.
type Evaluator struct {
	ea      *ElboArgs
	prior   *Prior
	workers int

	slot []int // source index -> active slot, or -1
	srcs []*sourceState
	vars []*evalVars
	elbo *sensitive.Float
}

// sourceState holds one source's per-evaluation precomputed quantities: its
// brightness moments, its galaxy shape derivatives, and the PSF and galaxy
// mixture components per image.
type sourceState struct {
	sb    *SourceBrightness
	shape bvn.ShapeDerivs
	star  [][]bvn.Component  // [image][psf component]
	gal   [][]galaxyComponent // [image][prototype x psf component]
}

// galaxyComponent is one Gaussian of a galaxy's convolved mixture: the
// component itself, the prototype variance scaling the shape covariance, and
// the sign of its de Vaucouleurs weight derivative.
type galaxyComponent struct {
	comp bvn.Component
	nu   float64
	dev  float64 // +1 for de Vaucouleurs prototypes, -1 for exponential
}

// evalVars is per-worker scratch. Global containers span all active sources;
// the rest are single-source locals.
type evalVars struct {
	elbo, eg, varG *sensitive.Float

	fs0, fs1, egs, vargs *sensitive.Float
	t0, t1, sq           *sensitive.Float
	aStar, aGal          *sensitive.Float

	bd           bvn.Derivs
	sd           bvn.StarDerivs
	gdExp, gdDev bvn.GalDerivs
}

func newEvalVars(p, s int) *evalVars {
	return &evalVars{
		elbo:  sensitive.NewFloat(p, s),
		eg:    sensitive.NewFloat(p, s),
		varG:  sensitive.NewFloat(p, s),
		fs0:   sensitive.NewFloat(p, 1),
		fs1:   sensitive.NewFloat(p, 1),
		egs:   sensitive.NewFloat(p, 1),
		vargs: sensitive.NewFloat(p, 1),
		t0:    sensitive.NewFloat(p, 1),
		t1:    sensitive.NewFloat(p, 1),
		sq:    sensitive.NewFloat(p, 1),
		aStar: sensitive.NewFloat(p, 1),
		aGal:  sensitive.NewFloat(p, 1),
	}
}

// NewEvaluator prepares an evaluator for ea using the given number of
// parallel workers (values below 1 mean single-threaded). Worker results are
// merged in a fixed chunk order, so a given worker count is deterministic.
func NewEvaluator(ea *ElboArgs, workers int) *Evaluator {
	if workers < 1 {
		workers = 1
	}
	ev := &Evaluator{
		ea:      ea,
		prior:   DefaultPrior(),
		workers: workers,
		slot:    make([]int, ea.S),
		srcs:    make([]*sourceState, ea.S),
		vars:    make([]*evalVars, workers),
		elbo:    sensitive.NewFloat(ParamsPerSource, len(ea.ActiveSources)),
	}
	for s := range ev.slot {
		ev.slot[s] = -1
	}
	for i, s := range ea.ActiveSources {
		ev.slot[s] = i
	}
	for s := 0; s < ea.S; s++ {
		st := &sourceState{
			star: make([][]bvn.Component, ea.N),
			gal:  make([][]galaxyComponent, ea.N),
		}
		nGal := (len(bvn.ExpProfile) + len(bvn.DevProfile)) * ea.PsfK
		for n := 0; n < ea.N; n++ {
			st.star[n] = make([]bvn.Component, ea.PsfK)
			st.gal[n] = make([]galaxyComponent, 0, nGal)
		}
		ev.srcs[s] = st
	}
	for w := range ev.vars {
		ev.vars[w] = newEvalVars(ParamsPerSource, len(ea.ActiveSources))
	}
	return ev
}

// SetPrior replaces the prior used by the KL term.
func (ev *Evaluator) SetPrior(p *Prior) { ev.prior = p }

// ComputeElbo evaluates the ELBO of ea once, single-threaded. The returned
// container is freshly allocated and safe to retain.
func ComputeElbo(ea *ElboArgs) (*sensitive.Float, error) {
	el, err := NewEvaluator(ea, 1).Elbo()
	if err != nil {
		return nil, err
	}
	out := sensitive.NewFloat(el.P, el.S)
	out.CopyFrom(el)
	return out, nil
}

// Elbo evaluates the ELBO at the current variational parameters. The
// returned container is owned by the evaluator and overwritten by the next
// call. Errors indicate numerical failure (a shape covariance that is no
// longer positive definite, or a non-positive expected intensity).
func (ev *Evaluator) Elbo() (*sensitive.Float, error) {
	if err := ev.prepareSources(); err != nil {
		return nil, err
	}

	// Expected log-likelihood over the active pixels, chunked across
	// workers and merged in chunk order.
	ev.elbo.Clear()
	if ev.workers == 1 {
		if err := ev.accumRange(ev.vars[0], ev.ea.ActivePixels); err != nil {
			return nil, err
		}
		ev.elbo.Add(ev.vars[0].elbo)
	} else {
		chunks := splitPixels(ev.ea.ActivePixels, ev.workers)
		errs := make([]error, len(chunks))
		var wg sync.WaitGroup
		for w := range chunks {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				errs[w] = ev.accumRange(ev.vars[w], chunks[w])
			}(w)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
		for w := range chunks {
			ev.elbo.Add(ev.vars[w].elbo)
		}
	}

	// Subtract the per-source KL terms.
	v := ev.vars[0]
	for slot, s := range ev.ea.ActiveSources {
		v.egs.Clear()
		accumKL(ev.ea.VP[s], ev.prior, v.t0, v.t1, v.egs)
		ev.elbo.AddSourceScaled(v.egs, slot, -1)
	}
	return ev.elbo, nil
}

// prepareSources rebuilds the per-source mixture components and brightness
// moments for the current variational parameters.
func (ev *Evaluator) prepareSources() error {
	ea := ev.ea
	for s := 0; s < ea.S; s++ {
		vs := ea.VP[s]
		st := ev.srcs[s]
		if st.sb == nil {
			st.sb = NewSourceBrightness(vs)
		} else {
			st.sb.Set(vs)
		}

		shape := bvn.GalaxyShape{Axis: vs[ParamEAxis], Angle: vs[ParamEAngle], Scale: vs[ParamEScale]}
		shape.Cov(&st.shape)

		u := [2]float64{vs[ParamU0], vs[ParamU1]}
		for n, img := range ea.Images {
			for k, psf := range img.PSF {
				mean := [2]float64{u[0] + psf.Mean[0], u[1] + psf.Mean[1]}
				comp, err := bvn.NewComponent(psf.Weight, mean, psf.Cov)
				if err != nil {
					return fmt.Errorf("source %d image %d psf %d: %w", s, n, k, err)
				}
				st.star[n][k] = comp
			}

			st.gal[n] = st.gal[n][:0]
			for _, family := range [2]struct {
				protos []bvn.Prototype
				dev    float64
			}{{bvn.ExpProfile, -1}, {bvn.DevProfile, +1}} {
				for _, proto := range family.protos {
					for _, psf := range img.PSF {
						cov := [3]float64{
							psf.Cov[0] + proto.Var*st.shape.S[0],
							psf.Cov[1] + proto.Var*st.shape.S[1],
							psf.Cov[2] + proto.Var*st.shape.S[2],
						}
						mean := [2]float64{u[0] + psf.Mean[0], u[1] + psf.Mean[1]}
						comp, err := bvn.NewComponent(psf.Weight*proto.Weight, mean, cov)
						if err != nil {
							return fmt.Errorf("source %d image %d galaxy component: %w", s, n, err)
						}
						st.gal[n] = append(st.gal[n], galaxyComponent{
							comp: comp,
							nu:   proto.Var,
							dev:  family.dev,
						})
					}
				}
			}
		}
	}
	return nil
}

// splitPixels partitions the worklist into at most n contiguous chunks.
func splitPixels(pixels []ActivePixel, n int) [][]ActivePixel {
	if n > len(pixels) {
		n = len(pixels)
	}
	if n < 1 {
		n = 1
	}
	chunks := make([][]ActivePixel, 0, n)
	size := (len(pixels) + n - 1) / n
	for lo := 0; lo < len(pixels); lo += size {
		hi := lo + size
		if hi > len(pixels) {
			hi = len(pixels)
		}
		chunks = append(chunks, pixels[lo:hi])
	}
	return chunks
}

// accumRange accumulates the expected log-likelihood of a pixel range into
// v.elbo.
func (ev *Evaluator) accumRange(v *evalVars, pixels []ActivePixel) error {
	ea := ev.ea
	v.elbo.Clear()
	for _, p := range pixels {
		img := ea.Images[p.N]
		tile := &img.Tiles[p.Tile]
		x1 := float64(tile.H0 + p.H)
		x2 := float64(tile.W0 + p.W)
		obs := tile.Pixels.At(p.H, p.W)
		eps := tile.Epsilon.At(p.H, p.W)

		v.eg.Clear()
		v.eg.V = eps
		v.varG.Clear()

		for _, s := range ea.TileSourceMap[p.N][p.Tile] {
			if !ea.Patches[s][p.N].Contains(x1, x2) {
				continue
			}
			if slot := ev.slot[s]; slot >= 0 {
				ev.accumActiveSource(v, s, slot, p.N, img, x1, x2)
			} else {
				ev.accumPassiveSource(v, s, p.N, img, x1, x2)
			}
		}

		if !(v.eg.V > 0) {
			return fmt.Errorf("non-positive expected intensity %g at image %d tile %d pixel (%d,%d)",
				v.eg.V, p.N, p.Tile, p.H, p.W)
		}

		// E[log Poisson(x | G)] with the delta-method correction
		// E[log G] ~ log E[G] - Var G / (2 E[G]^2).
		u := v.eg.V
		w := v.varG.V
		lg, _ := math.Lgamma(obs + 1)
		val := obs*(math.Log(u)-w/(2*u*u)) - u - lg
		gd := [2]float64{obs*(1/u+w/(u*u*u)) - 1, -obs / (2 * u * u)}
		gh := [3]float64{obs * (-1/(u*u) - 3*w/(u*u*u*u)), obs / (u * u * u), 0}
		v.elbo.AccumCombine(v.eg, v.varG, val, gd, gh)
	}
	return nil
}

// accumActiveSource adds one tracked source's contribution to the pixel's
// expected intensity and variance, with full derivatives.
func (ev *Evaluator) accumActiveSource(v *evalVars, s, slot, n int, img *Image, x1, x2 float64) {
	ea := ev.ea
	st := ev.srcs[s]
	vs := ea.VP[s]
	maxSD := ea.NumAllowedSD
	b := img.Band

	// Point-source mixture density, derivatives in location.
	v.sd.Clear()
	for k := range st.star[n] {
		if st.star[n][k].Eval(x1, x2, maxSD, &v.bd) {
			bvn.AccumStar(&v.bd, &v.sd)
		}
	}
	v.fs0.Clear()
	v.fs0.V = v.sd.F
	for i := 0; i < 2; i++ {
		v.fs0.Grad.SetVec(i, v.sd.D[i])
		for j := i; j < 2; j++ {
			v.fs0.Hess.SetSym(i, j, v.sd.H[i][j])
		}
	}

	// Galaxy mixture density, derivatives in location and shape, with the
	// two profile families kept apart for the de Vaucouleurs weight.
	v.gdExp.Clear()
	v.gdDev.Clear()
	for i := range st.gal[n] {
		gc := &st.gal[n][i]
		if gc.comp.Eval(x1, x2, maxSD, &v.bd) {
			if gc.dev > 0 {
				bvn.AccumGalaxy(&v.bd, gc.nu, &st.shape, &v.gdDev)
			} else {
				bvn.AccumGalaxy(&v.bd, gc.nu, &st.shape, &v.gdExp)
			}
		}
	}
	eDev := vs[ParamEDev]
	v.fs1.Clear()
	addGalaxyFamily(v.fs1, &v.gdExp, 1-eDev, -1)
	addGalaxyFamily(v.fs1, &v.gdDev, eDev, +1)

	// Type mixture weights as tracked values.
	a := vs[ParamA]
	v.aStar.Clear()
	v.aStar.V = 1 - a
	v.aStar.Grad.SetVec(ParamA, -1)
	v.aGal.Clear()
	v.aGal.V = a
	v.aGal.Grad.SetVec(ParamA, 1)

	// E[G_s] = (1-a) E[l_star] fs0 + a E[l_gal] fs1.
	v.egs.Clear()
	v.t0.CopyFrom(v.fs0)
	v.t0.Mul(st.sb.EL[Star][b])
	v.t0.Mul(v.aStar)
	v.egs.Add(v.t0)
	v.t1.CopyFrom(v.fs1)
	v.t1.Mul(st.sb.EL[Galaxy][b])
	v.t1.Mul(v.aGal)
	v.egs.Add(v.t1)

	// Var G_s = E[G_s^2] - E[G_s]^2 over both the lognormal flux and the
	// Bernoulli type indicator.
	v.vargs.Clear()
	v.t0.CopyFrom(v.fs0)
	v.t0.Mul(v.fs0)
	v.t0.Mul(st.sb.ELL[Star][b])
	v.t0.Mul(v.aStar)
	v.vargs.Add(v.t0)
	v.t1.CopyFrom(v.fs1)
	v.t1.Mul(v.fs1)
	v.t1.Mul(st.sb.ELL[Galaxy][b])
	v.t1.Mul(v.aGal)
	v.vargs.Add(v.t1)
	v.sq.CopyFrom(v.egs)
	v.sq.Mul(v.egs)
	v.vargs.AddScaled(v.sq, -1)

	v.eg.AddSourceScaled(v.egs, slot, img.Iota)
	v.varG.AddSourceScaled(v.vargs, slot, img.Iota*img.Iota)
}

// accumPassiveSource adds an inactive source's contribution by value only;
// its derivatives are not tracked.
func (ev *Evaluator) accumPassiveSource(v *evalVars, s, n int, img *Image, x1, x2 float64) {
	ea := ev.ea
	st := ev.srcs[s]
	vs := ea.VP[s]
	maxSD := ea.NumAllowedSD
	b := img.Band

	var fs0 float64
	for k := range st.star[n] {
		fs0 += st.star[n][k].Density(x1, x2, maxSD)
	}
	var fs1 float64
	eDev := vs[ParamEDev]
	for i := range st.gal[n] {
		gc := &st.gal[n][i]
		w := eDev
		if gc.dev < 0 {
			w = 1 - eDev
		}
		fs1 += w * gc.comp.Density(x1, x2, maxSD)
	}

	a := vs[ParamA]
	g := (1-a)*st.sb.EL[Star][b].V*fs0 + a*st.sb.EL[Galaxy][b].V*fs1
	g2 := (1-a)*st.sb.ELL[Star][b].V*fs0*fs0 + a*st.sb.ELL[Galaxy][b].V*fs1*fs1
	v.eg.V += img.Iota * g
	v.varG.V += img.Iota * img.Iota * (g2 - g*g)
}

// addGalaxyFamily folds one profile family's accumulated derivatives into a
// single-source container, applying the family's de Vaucouleurs weight w and
// the sign dir of its derivative with respect to that weight.
func addGalaxyFamily(dst *sensitive.Float, gd *bvn.GalDerivs, w, dir float64) {
	dst.V += w * gd.F
	for i := 0; i < 5; i++ {
		gi := galParamIdx[i]
		dst.Grad.SetVec(gi, dst.Grad.AtVec(gi)+w*gd.D[i])
		for j := i; j < 5; j++ {
			gj := galParamIdx[j]
			dst.Hess.SetSym(gi, gj, dst.Hess.At(gi, gj)+w*gd.H[i][j])
		}
		dst.Hess.SetSym(gi, ParamEDev, dst.Hess.At(gi, ParamEDev)+dir*gd.D[i])
	}
	dst.Grad.SetVec(ParamEDev, dst.Grad.AtVec(ParamEDev)+dir*gd.F)
}
