package bvn

import "math"

// GalaxyShape is the elliptical shape of a galaxy profile: minor/major axis
// ratio in (0,1], position angle in radians, and radial scale in pixels.
type GalaxyShape struct {
	Axis  float64
	Angle float64
	Scale float64
}

// ShapeDerivs carries the covariance entries of a galaxy's unit shape
// matrix, scale^2 * R(angle) diag(1, axis^2) R(angle)', together with their
// first and second derivatives with respect to (Axis, Angle, Scale). Entry
// order is S11, S12, S22; parameter order is axis, angle, scale.
type ShapeDerivs struct {
	S [3]float64
	J [3][3]float64
	H [3][3][3]float64
}

// Cov fills sd with the shape covariance and its derivatives.
func (g GalaxyShape) Cov(sd *ShapeDerivs) {
	rho, phi, sig := g.Axis, g.Angle, g.Scale
	c, s := math.Cos(phi), math.Sin(phi)
	c2, s2, cs := c*c, s*s, c*s
	rho2 := rho * rho
	sig2 := sig * sig

	sd.S[0] = sig2 * (c2 + rho2*s2)
	sd.S[1] = sig2 * cs * (1 - rho2)
	sd.S[2] = sig2 * (s2 + rho2*c2)

	// First derivatives.
	sd.J[0] = [3]float64{2 * sig2 * rho * s2, 2 * sig2 * cs * (rho2 - 1), 2 * sd.S[0] / sig}
	sd.J[1] = [3]float64{-2 * sig2 * rho * cs, sig2 * (1 - rho2) * (c2 - s2), 2 * sd.S[1] / sig}
	sd.J[2] = [3]float64{2 * sig2 * rho * c2, 2 * sig2 * cs * (1 - rho2), 2 * sd.S[2] / sig}

	// Second derivatives of S11.
	sd.H[0][0] = [3]float64{2 * sig2 * s2, 4 * sig2 * rho * cs, 4 * sig * rho * s2}
	sd.H[0][1] = [3]float64{4 * sig2 * rho * cs, 2 * sig2 * (rho2 - 1) * (c2 - s2), 4 * sig * cs * (rho2 - 1)}
	sd.H[0][2] = [3]float64{4 * sig * rho * s2, 4 * sig * cs * (rho2 - 1), 2 * (c2 + rho2*s2)}

	// Second derivatives of S12.
	sd.H[1][0] = [3]float64{-2 * sig2 * cs, -2 * sig2 * rho * (c2 - s2), -4 * sig * rho * cs}
	sd.H[1][1] = [3]float64{-2 * sig2 * rho * (c2 - s2), -4 * sig2 * (1 - rho2) * cs, 2 * sig * (1 - rho2) * (c2 - s2)}
	sd.H[1][2] = [3]float64{-4 * sig * rho * cs, 2 * sig * (1 - rho2) * (c2 - s2), 2 * cs * (1 - rho2)}

	// Second derivatives of S22.
	sd.H[2][0] = [3]float64{2 * sig2 * c2, -4 * sig2 * rho * cs, 4 * sig * rho * c2}
	sd.H[2][1] = [3]float64{-4 * sig2 * rho * cs, 2 * sig2 * (1 - rho2) * (c2 - s2), 4 * sig * cs * (1 - rho2)}
	sd.H[2][2] = [3]float64{4 * sig * rho * c2, 4 * sig * cs * (1 - rho2), 2 * (s2 + rho2*c2)}
}

// Prototype is one Gaussian in a fixed mixture-of-Gaussians approximation of
// a galaxy radial profile. Var is in units of the squared radial scale.
type Prototype struct {
	Weight float64
	Var    float64
}

// ExpProfile and DevProfile are mixture-of-Gaussians approximations of the
// exponential and de Vaucouleurs radial profiles, normalized to unit total
// flux at unit half-light radius.
var (
	ExpProfile = normalize([]Prototype{
		{2.34853813e-03, 1.20078965e-03},
		{3.07995260e-02, 8.84526493e-03},
		{2.23364214e-01, 3.91463084e-02},
		{1.17949102e+00, 1.39976817e-01},
		{4.33873750e+00, 4.60962500e-01},
		{5.99820770e+00, 1.50159566e+00},
	})

	DevProfile = normalize([]Prototype{
		{4.26347652e-02, 2.23759216e-04},
		{2.40127183e-01, 1.00220099e-03},
		{6.85907632e-01, 4.18731126e-03},
		{1.51937350e+00, 1.69432589e-02},
		{2.83627243e+00, 6.84850479e-02},
		{4.46467501e+00, 2.87207080e-01},
		{5.72440830e+00, 1.33320254e+00},
		{5.60989349e+00, 8.40215071e+00},
	})
)

func normalize(ps []Prototype) []Prototype {
	var total float64
	for _, p := range ps {
		total += p.Weight
	}
	out := make([]Prototype, len(ps))
	for i, p := range ps {
		out[i] = Prototype{Weight: p.Weight / total, Var: p.Var}
	}
	return out
}
