package fit

import (
	"math"

	"github.com/navyTensor/celeste/internal/sensitive"
)

// SourceBrightness holds one source's expected per-band flux E[l_b] and
// second moment E[l_b^2], per source type, with exact derivatives in the
// source's brightness parameters. Under the lognormal variational posterior
// both moments are exponentials of linear forms in the parameters, so their
// Hessians are rank-one.
type SourceBrightness struct {
	EL  [NumTypes][NumBands]*sensitive.Float
	ELL [NumTypes][NumBands]*sensitive.Float
}

// NewSourceBrightness allocates a brightness container and fills it for the
// given parameter vector.
func NewSourceBrightness(vs []float64) *SourceBrightness {
	sb := &SourceBrightness{}
	for t := 0; t < NumTypes; t++ {
		for b := 0; b < NumBands; b++ {
			sb.EL[t][b] = sensitive.NewFloat(ParamsPerSource, 1)
			sb.ELL[t][b] = sensitive.NewFloat(ParamsPerSource, 1)
		}
	}
	sb.Set(vs)
	return sb
}

// Set recomputes the brightness moments for vs, reusing the container's
// storage.
func (sb *SourceBrightness) Set(vs []float64) {
	var coeff [ParamsPerSource]float64
	for t := 0; t < NumTypes; t++ {
		for b := 0; b < NumBands; b++ {
			// mu and v are the mean and variance of the log flux of
			// band b: the reference-band lognormal plus the signed
			// color terms along the band chain.
			mu := vs[ParamR1(t)]
			v := vs[ParamR2(t)]
			for k := 0; k < NumColors; k++ {
				w := colorCoeff[b][k]
				mu += w * vs[ParamC1(k, t)]
				v += math.Abs(w) * vs[ParamC2(k, t)]
			}

			// E[l] = exp(mu + v/2): coefficient of each parameter in
			// the exponent's linear form.
			for i := range coeff {
				coeff[i] = 0
			}
			coeff[ParamR1(t)] = 1
			coeff[ParamR2(t)] = 0.5
			for k := 0; k < NumColors; k++ {
				w := colorCoeff[b][k]
				coeff[ParamC1(k, t)] = w
				coeff[ParamC2(k, t)] = math.Abs(w) / 2
			}
			setExpLinear(sb.EL[t][b], math.Exp(mu+v/2), coeff)

			// E[l^2] = exp(2mu + 2v).
			for i := range coeff {
				coeff[i] *= 2
			}
			coeff[ParamR2(t)] = 2
			for k := 0; k < NumColors; k++ {
				coeff[ParamC2(k, t)] = 2 * math.Abs(colorCoeff[b][k])
			}
			setExpLinear(sb.ELL[t][b], math.Exp(2*mu+2*v), coeff)
		}
	}
}

// setExpLinear fills dst with the sensitivities of val = exp(c'x):
// gradient val*c, Hessian val*c*c'.
func setExpLinear(dst *sensitive.Float, val float64, coeff [ParamsPerSource]float64) {
	dst.Clear()
	dst.V = val
	for i := 0; i < ParamsPerSource; i++ {
		if coeff[i] == 0 {
			continue
		}
		dst.Grad.SetVec(i, val*coeff[i])
		for j := i; j < ParamsPerSource; j++ {
			if coeff[j] != 0 {
				dst.Hess.SetSym(i, j, val*coeff[i]*coeff[j])
			}
		}
	}
}
