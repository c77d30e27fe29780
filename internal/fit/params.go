package fit

// Five photometric bands; band 2 (0-based) carries the reference flux and
// the four colors are log flux ratios between adjacent bands.
const (
	NumBands  = 5
	NumColors = NumBands - 1
	RefBand   = 2
)

// Source types of the star/galaxy mixture.
const (
	Star = iota
	Galaxy
	NumTypes
)

// Layout of one source's variational parameter vector. Location and the
// galaxy mixture probability come first, then the lognormal flux and color
// parameters per type, then the galaxy shape block.
const (
	ParamU0 = 0 // row position, pixels
	ParamU1 = 1 // column position, pixels
	ParamA  = 2 // probability the source is a galaxy

	paramR1Base = 3
	paramR2Base = 5
	paramC1Base = 7
	paramC2Base = 15

	ParamEDev   = 23 // de Vaucouleurs mixture weight
	ParamEAxis  = 24 // minor/major axis ratio
	ParamEAngle = 25 // position angle, radians
	ParamEScale = 26 // half-light radius, pixels

	ParamsPerSource = 27
)

// ParamR1 returns the index of the variational mean of the log reference
// flux for source type t.
func ParamR1(t int) int { return paramR1Base + t }

// ParamR2 returns the index of the variational variance of the log
// reference flux for source type t.
func ParamR2(t int) int { return paramR2Base + t }

// ParamC1 returns the index of the variational mean of color k for type t.
func ParamC1(k, t int) int { return paramC1Base + t*NumColors + k }

// ParamC2 returns the index of the variational variance of color k for
// type t.
func ParamC2(k, t int) int { return paramC2Base + t*NumColors + k }

// colorCoeff[b][k] is the coefficient of color k in the log flux of band b
// relative to the reference band.
var colorCoeff = [NumBands][NumColors]float64{
	{-1, -1, 0, 0},
	{0, -1, 0, 0},
	{0, 0, 0, 0},
	{0, 0, 1, 0},
	{0, 0, 1, 1},
}

// galParamIdx maps the (u1, u2, axis, angle, scale) derivative order used by
// the bivariate-normal transforms onto the parameter vector.
var galParamIdx = [5]int{ParamU0, ParamU1, ParamEAxis, ParamEAngle, ParamEScale}
