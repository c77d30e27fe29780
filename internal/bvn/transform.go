package bvn

// StarDerivs accumulates a point source's mixture density at a pixel with
// derivatives of f (not log f) with respect to the source location.
type StarDerivs struct {
	F float64
	D [2]float64
	H [2][2]float64
}

// Clear zeroes the accumulator.
func (sd *StarDerivs) Clear() { *sd = StarDerivs{} }

// AccumStar adds one evaluated PSF component to the accumulator. The source
// location enters only through the component mean, so the chain rule is the
// identity and the log-derivatives convert directly:
//
//	df = f*dlogf, Hf = f*(dlogf dlogf' + Hlogf)
func AccumStar(d *Derivs, out *StarDerivs) {
	out.F += d.F
	for i := 0; i < 2; i++ {
		out.D[i] += d.F * d.DLog[i]
		for j := 0; j < 2; j++ {
			out.H[i][j] += d.F * (d.DLog[i]*d.DLog[j] + d.HLog[i][j])
		}
	}
}

// GalDerivs accumulates a galaxy component's density with derivatives of f
// with respect to (u1, u2, axis, angle, scale).
type GalDerivs struct {
	F float64
	D [5]float64
	H [5][5]float64
}

// Clear zeroes the accumulator.
func (gd *GalDerivs) Clear() { *gd = GalDerivs{} }

// AccumGalaxy transforms one evaluated galaxy component from (mean, Sigma)
// space to (location, shape) space and adds it to the accumulator. The
// component covariance is Sigma_psf + nu*S(shape), so the Jacobian of the
// covariance entries with respect to the shape parameters is nu*sd.J and the
// per-entry Hessians are nu*sd.H.
func AccumGalaxy(d *Derivs, nu float64, sd *ShapeDerivs, out *GalDerivs) {
	var glog [5]float64
	var hlog [5][5]float64

	glog[0] = d.DLog[0]
	glog[1] = d.DLog[1]
	for i := 0; i < 3; i++ {
		for e := 0; e < 3; e++ {
			glog[2+i] += d.DLog[2+e] * nu * sd.J[e][i]
		}
	}

	hlog[0][0] = d.HLog[0][0]
	hlog[0][1] = d.HLog[0][1]
	hlog[1][1] = d.HLog[1][1]
	for a := 0; a < 2; a++ {
		for i := 0; i < 3; i++ {
			var h float64
			for e := 0; e < 3; e++ {
				h += d.HLog[a][2+e] * nu * sd.J[e][i]
			}
			hlog[a][2+i] = h
		}
	}
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			var h float64
			for e := 0; e < 3; e++ {
				for ee := 0; ee < 3; ee++ {
					h += d.HLog[2+e][2+ee] * nu * nu * sd.J[e][i] * sd.J[ee][j]
				}
				h += d.DLog[2+e] * nu * sd.H[e][i][j]
			}
			hlog[2+i][2+j] = h
		}
	}
	for i := 0; i < 5; i++ {
		for j := 0; j < i; j++ {
			hlog[i][j] = hlog[j][i]
		}
	}

	out.F += d.F
	for i := 0; i < 5; i++ {
		out.D[i] += d.F * glog[i]
		for j := 0; j < 5; j++ {
			out.H[i][j] += d.F * (glog[i]*glog[j] + hlog[i][j])
		}
	}
}
