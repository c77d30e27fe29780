package bvn

import (
	"fmt"
	"math"
)

const log2pi = 1.8378770664093453

// Component is a single weighted bivariate normal, stored in the form needed
// for repeated density evaluation: the precision matrix and the log of the
// weighted normalizing constant. Covariance entries are kept so that
// components can be convolved (covariances add).
type Component struct {
	Weight float64
	Mean   [2]float64
	Cov    [3]float64 // upper triangle: S11, S12, S22

	prec [3]float64 // upper triangle of Cov^-1
	logZ float64    // log(Weight) - log(2pi) - 0.5*log|Cov|
}

// NewComponent builds a component from a weight, mean, and covariance given
// as the upper triangle (S11, S12, S22). It fails if the covariance is not
// positive definite or the weight is not positive.
func NewComponent(weight float64, mean [2]float64, cov [3]float64) (Component, error) {
	if !(weight > 0) {
		return Component{}, fmt.Errorf("bvn: weight must be positive, got %g", weight)
	}
	det := cov[0]*cov[2] - cov[1]*cov[1]
	if !(cov[0] > 0) || !(det > 0) {
		return Component{}, fmt.Errorf("bvn: covariance [%g %g; %g %g] is not positive definite",
			cov[0], cov[1], cov[1], cov[2])
	}
	return Component{
		Weight: weight,
		Mean:   mean,
		Cov:    cov,
		prec:   [3]float64{cov[2] / det, -cov[1] / det, cov[0] / det},
		logZ:   math.Log(weight) - log2pi - 0.5*math.Log(det),
	}, nil
}

// Derivs holds the density f of a component at a point together with the
// first and second derivatives of log f with respect to the component mean
// (entries 0-1) and the covariance entries S11, S12, S22 (entries 2-4).
type Derivs struct {
	F    float64
	DLog [5]float64
	HLog [5][5]float64
}

// Density evaluates only the weighted density at (x1, x2), returning 0 when
// the point lies more than maxSD standard deviations (Mahalanobis distance)
// from the mean. This is the cheap path for sources whose derivatives are
// not being tracked.
func (c *Component) Density(x1, x2, maxSD float64) float64 {
	z1 := x1 - c.Mean[0]
	z2 := x2 - c.Mean[1]
	q1 := c.prec[0]*z1 + c.prec[1]*z2
	q2 := c.prec[1]*z1 + c.prec[2]*z2
	dist2 := z1*q1 + z2*q2
	if dist2 > maxSD*maxSD {
		return 0
	}
	return math.Exp(c.logZ - 0.5*dist2)
}

// Eval evaluates the density and its log-derivatives at (x1, x2). It returns
// false, leaving d untouched, when the point is culled by the maxSD cutoff;
// a culled component contributes exact zeros to value, gradient, and
// Hessian alike.
func (c *Component) Eval(x1, x2, maxSD float64, d *Derivs) bool {
	z1 := x1 - c.Mean[0]
	z2 := x2 - c.Mean[1]
	p11, p12, p22 := c.prec[0], c.prec[1], c.prec[2]
	q1 := p11*z1 + p12*z2
	q2 := p12*z1 + p22*z2
	dist2 := z1*q1 + z2*q2
	if dist2 > maxSD*maxSD {
		return false
	}

	d.F = math.Exp(c.logZ - 0.5*dist2)

	// d log f / d mean = Cov^-1 (x - mean) = q.
	d.DLog[0] = q1
	d.DLog[1] = q2
	// d log f / d S_ab = 0.5*(q q' - Cov^-1)_ab, with the off-diagonal
	// entry doubled because S12 appears twice in the matrix.
	d.DLog[2] = 0.5 * (q1*q1 - p11)
	d.DLog[3] = q1*q2 - p12
	d.DLog[4] = 0.5 * (q2*q2 - p22)

	// Mean-mean block: -Cov^-1.
	d.HLog[0][0] = -p11
	d.HLog[0][1] = -p12
	d.HLog[1][1] = -p22

	// Mean-covariance block: -(Cov^-1 E_ab q), E_ab the symmetric basis
	// matrix of entry ab.
	d.HLog[0][2] = -p11 * q1
	d.HLog[1][2] = -p12 * q1
	d.HLog[0][3] = -(p11*q2 + p12*q1)
	d.HLog[1][3] = -(p12*q2 + p22*q1)
	d.HLog[0][4] = -p12 * q2
	d.HLog[1][4] = -p22 * q2

	// Covariance-covariance block:
	// -q' E_ab Cov^-1 E_cd q + 0.5*tr(Cov^-1 E_cd Cov^-1 E_ab).
	d.HLog[2][2] = -p11*q1*q1 + 0.5*p11*p11
	d.HLog[2][3] = -q1*(p11*q2+p12*q1) + p11*p12
	d.HLog[2][4] = -p12*q1*q2 + 0.5*p12*p12
	d.HLog[3][3] = -(p11*q2*q2 + 2*p12*q1*q2 + p22*q1*q1) + (p11*p22 + p12*p12)
	d.HLog[3][4] = -q2*(p12*q2+p22*q1) + p12*p22
	d.HLog[4][4] = -p22*q2*q2 + 0.5*p22*p22

	// Mirror the upper triangle.
	for i := 0; i < 5; i++ {
		for j := 0; j < i; j++ {
			d.HLog[i][j] = d.HLog[j][i]
		}
	}
	return true
}
