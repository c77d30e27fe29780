package bvn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

func TestAccumStarMatchesFiniteDifference(t *testing.T) {
	psfMean := [2]float64{0.1, -0.2}
	psfCov := [3]float64{1.4, 0.2, 1.1}
	x1, x2 := 2.3, 1.7
	u0 := []float64{2.0, 1.0}

	f := func(u []float64) float64 {
		c, err := NewComponent(0.7, [2]float64{u[0] + psfMean[0], u[1] + psfMean[1]}, psfCov)
		require.NoError(t, err)
		return c.Density(x1, x2, math.Inf(1))
	}

	c, err := NewComponent(0.7, [2]float64{u0[0] + psfMean[0], u0[1] + psfMean[1]}, psfCov)
	require.NoError(t, err)
	var d Derivs
	require.True(t, c.Eval(x1, x2, math.Inf(1), &d))
	var sd StarDerivs
	AccumStar(&d, &sd)

	relDelta(t, f(u0), sd.F, 1e-12)

	grad := fd.Gradient(nil, f, u0, &fd.Settings{Formula: fd.Central})
	for i := 0; i < 2; i++ {
		relDelta(t, grad[i], sd.D[i], gradTol)
	}

	hess := mat.NewSymDense(2, nil)
	fd.Hessian(hess, f, u0, nil)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			relDelta(t, hess.At(i, j), sd.H[i][j], hessTol)
		}
	}
}

func TestAccumStarSumsComponents(t *testing.T) {
	c1, err := NewComponent(0.6, [2]float64{0, 0}, [3]float64{1, 0, 1})
	require.NoError(t, err)
	c2, err := NewComponent(0.4, [2]float64{0, 0}, [3]float64{4, 0, 4})
	require.NoError(t, err)

	var d Derivs
	var sd StarDerivs
	require.True(t, c1.Eval(0.5, 0.5, math.Inf(1), &d))
	AccumStar(&d, &sd)
	require.True(t, c2.Eval(0.5, 0.5, math.Inf(1), &d))
	AccumStar(&d, &sd)

	want := c1.Density(0.5, 0.5, math.Inf(1)) + c2.Density(0.5, 0.5, math.Inf(1))
	relDelta(t, want, sd.F, 1e-12)
}

func TestAccumGalaxyMatchesFiniteDifference(t *testing.T) {
	const (
		weight = 0.35
		nu     = 0.46
	)
	psfMean := [2]float64{-0.05, 0.12}
	psfCov := [3]float64{1.3, -0.1, 1.6}
	x1, x2 := 3.1, 2.4

	// Parameters: u1, u2, axis, angle, scale.
	p0 := []float64{2.5, 2.0, 0.55, 0.9, 2.2}

	f := func(p []float64) float64 {
		var sd ShapeDerivs
		GalaxyShape{Axis: p[2], Angle: p[3], Scale: p[4]}.Cov(&sd)
		cov := [3]float64{
			psfCov[0] + nu*sd.S[0],
			psfCov[1] + nu*sd.S[1],
			psfCov[2] + nu*sd.S[2],
		}
		c, err := NewComponent(weight, [2]float64{p[0] + psfMean[0], p[1] + psfMean[1]}, cov)
		require.NoError(t, err)
		return c.Density(x1, x2, math.Inf(1))
	}

	var shape ShapeDerivs
	GalaxyShape{Axis: p0[2], Angle: p0[3], Scale: p0[4]}.Cov(&shape)
	cov := [3]float64{
		psfCov[0] + nu*shape.S[0],
		psfCov[1] + nu*shape.S[1],
		psfCov[2] + nu*shape.S[2],
	}
	c, err := NewComponent(weight, [2]float64{p0[0] + psfMean[0], p0[1] + psfMean[1]}, cov)
	require.NoError(t, err)

	var d Derivs
	require.True(t, c.Eval(x1, x2, math.Inf(1), &d))
	var gd GalDerivs
	AccumGalaxy(&d, nu, &shape, &gd)

	relDelta(t, f(p0), gd.F, 1e-12)

	grad := fd.Gradient(nil, f, p0, &fd.Settings{Formula: fd.Central})
	for i := 0; i < 5; i++ {
		relDelta(t, grad[i], gd.D[i], gradTol)
	}

	hess := mat.NewSymDense(5, nil)
	fd.Hessian(hess, f, p0, nil)
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			relDelta(t, hess.At(i, j), gd.H[i][j], hessTol)
		}
	}
}
