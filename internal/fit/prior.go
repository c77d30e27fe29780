package fit

import "math"

// Prior is the fixed prior over one source's latent variables. A is the
// prior probability that a source is a galaxy; RMean/RVar parameterize a
// normal prior on the log reference-band flux per type, CMean/CVar normal
// priors on each color per type. The galaxy shape carries no prior.
type Prior struct {
	A     float64
	RMean [NumTypes]float64
	RVar  [NumTypes]float64
	CMean [NumTypes][NumColors]float64
	CVar  [NumTypes][NumColors]float64
}

// Flux of each band relative to the reference band for the dominant prior
// component, per type. The color prior means are the adjacent log ratios of
// these tables.
var (
	starRelativeFlux   = [NumBands]float64{0.1330, 0.5308, 1, 1.3179, 1.5417}
	galaxyRelativeFlux = [NumBands]float64{0.4013, 0.4990, 1, 1.4031, 1.7750}
)

// DefaultPrior returns the prior used when the caller supplies none.
func DefaultPrior() *Prior {
	p := &Prior{
		A:     0.28,
		RMean: [NumTypes]float64{math.Log(40), math.Log(10)},
		RVar:  [NumTypes]float64{4, 4},
	}
	for k := 0; k < NumColors; k++ {
		p.CMean[Star][k] = math.Log(starRelativeFlux[k+1] / starRelativeFlux[k])
		p.CMean[Galaxy][k] = math.Log(galaxyRelativeFlux[k+1] / galaxyRelativeFlux[k])
		p.CVar[Star][k] = 1
		p.CVar[Galaxy][k] = 1
	}
	return p
}
