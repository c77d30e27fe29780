package fit

import (
	"math"

	"github.com/navyTensor/celeste/internal/sensitive"
)

// accumKL adds the KL divergence between one source's variational posterior
// and the prior into dst, with exact second derivatives in the source's
// parameters. inner and wt are caller-owned scratch; dst is not cleared.
//
// The mixture probability a must be interior to (0,1) and the variational
// variances positive; keeping iterates inside the feasible region is the
// parameter-transform layer's job.
func accumKL(vs []float64, prior *Prior, inner, wt, dst *sensitive.Float) {
	a := vs[ParamA]

	// Bernoulli term for the star/galaxy indicator.
	dst.V += a*math.Log(a/prior.A) + (1-a)*math.Log((1-a)/(1-prior.A))
	g := math.Log(a/prior.A) - math.Log((1-a)/(1-prior.A))
	dst.Grad.SetVec(ParamA, dst.Grad.AtVec(ParamA)+g)
	dst.Hess.SetSym(ParamA, ParamA, dst.Hess.At(ParamA, ParamA)+1/a+1/(1-a))

	// Flux and color terms, weighted by the probability of each type.
	for t := 0; t < NumTypes; t++ {
		wt.Clear()
		if t == Star {
			wt.V = 1 - a
			wt.Grad.SetVec(ParamA, -1)
		} else {
			wt.V = a
			wt.Grad.SetVec(ParamA, 1)
		}

		inner.Clear()
		accumNormalKL(inner, ParamR1(t), ParamR2(t),
			vs[ParamR1(t)], vs[ParamR2(t)], prior.RMean[t], prior.RVar[t])
		for k := 0; k < NumColors; k++ {
			accumNormalKL(inner, ParamC1(k, t), ParamC2(k, t),
				vs[ParamC1(k, t)], vs[ParamC2(k, t)], prior.CMean[t][k], prior.CVar[t][k])
		}
		inner.Mul(wt)
		dst.Add(inner)
	}
}

// accumNormalKL adds KL(N(m,v) || N(m0,v0)) into f, where im and iv are the
// parameter indices of the variational mean m and variance v.
func accumNormalKL(f *sensitive.Float, im, iv int, m, v, m0, v0 float64) {
	f.V += 0.5 * ((v+(m-m0)*(m-m0))/v0 - 1 - math.Log(v/v0))
	f.Grad.SetVec(im, f.Grad.AtVec(im)+(m-m0)/v0)
	f.Grad.SetVec(iv, f.Grad.AtVec(iv)+0.5*(1/v0-1/v))
	f.Hess.SetSym(im, im, f.Hess.At(im, im)+1/v0)
	f.Hess.SetSym(iv, iv, f.Hess.At(iv, iv)+0.5/(v*v))
}
