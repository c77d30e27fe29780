package sensitive

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Float tracks a scalar value together with its exact gradient and Hessian
// with respect to the parameters of a set of source slots. The gradient is
// laid out slot-major: entry s*P+p is the derivative with respect to
// parameter p of slot s. The Hessian is symmetric by construction.
type Float struct {
	P int // parameters per slot
	S int // number of slots

	V    float64
	Grad *mat.VecDense
	Hess *mat.SymDense
}

// NewFloat creates a zero-valued sensitivity container for s slots of p
// parameters each.
func NewFloat(p, s int) *Float {
	n := p * s
	return &Float{
		P:    p,
		S:    s,
		Grad: mat.NewVecDense(n, nil),
		Hess: mat.NewSymDense(n, nil),
	}
}

// Dim returns the total number of tracked parameters.
func (f *Float) Dim() int { return f.P * f.S }

// Clear resets value, gradient, and Hessian to zero so the container can be
// reused across optimizer iterations without reallocation.
func (f *Float) Clear() {
	f.V = 0
	f.Grad.Zero()
	f.Hess.Zero()
}

// CopyFrom overwrites f with the contents of o.
func (f *Float) CopyFrom(o *Float) {
	f.checkShape(o)
	f.V = o.V
	f.Grad.CopyVec(o.Grad)
	f.Hess.CopySym(o.Hess)
}

// Add accumulates o into f. Dimensions must match.
func (f *Float) Add(o *Float) {
	f.checkShape(o)
	f.V += o.V
	f.Grad.AddVec(f.Grad, o.Grad)
	f.Hess.AddSym(f.Hess, o.Hess)
}

// AddScaled accumulates c*o into f. Dimensions must match.
func (f *Float) AddScaled(o *Float, c float64) {
	f.checkShape(o)
	f.V += c * o.V
	f.Grad.AddScaledVec(f.Grad, c, o.Grad)
	floats.AddScaled(f.Hess.RawSymmetric().Data, c, o.Hess.RawSymmetric().Data)
}

// Scale multiplies f by the constant c.
func (f *Float) Scale(c float64) {
	f.V *= c
	f.Grad.ScaleVec(c, f.Grad)
	floats.Scale(c, f.Hess.RawSymmetric().Data)
}

// Mul replaces f with the product f*o, propagating derivatives by the
// product rule to second order:
//
//	H(fg) = f*Hg + g*Hf + df dg' + dg df'
func (f *Float) Mul(o *Float) {
	f.checkShape(o)
	n := f.Dim()
	// The Hessian update reads the pre-update values and gradients, so it
	// must happen before either is overwritten.
	for i := 0; i < n; i++ {
		dfi := f.Grad.AtVec(i)
		doi := o.Grad.AtVec(i)
		for j := i; j < n; j++ {
			h := f.V*o.Hess.At(i, j) + o.V*f.Hess.At(i, j) +
				dfi*o.Grad.AtVec(j) + doi*f.Grad.AtVec(j)
			f.Hess.SetSym(i, j, h)
		}
	}
	for i := 0; i < n; i++ {
		f.Grad.SetVec(i, f.V*o.Grad.AtVec(i)+o.V*f.Grad.AtVec(i))
	}
	f.V *= o.V
}

// AddSourceScaled accumulates c times a single-slot container into the given
// slot of f. The local container must have the same per-slot parameter count
// and exactly one slot; its cross-slot second derivatives are zero, so only
// the diagonal block is touched.
func (f *Float) AddSourceScaled(local *Float, slot int, c float64) {
	if local.P != f.P || local.S != 1 {
		panic(fmt.Sprintf("sensitive: local container is %dx%d slots, want %dx1", local.P, local.S, f.P))
	}
	if slot < 0 || slot >= f.S {
		panic(fmt.Sprintf("sensitive: slot %d out of range [0,%d)", slot, f.S))
	}
	off := slot * f.P
	f.V += c * local.V
	for i := 0; i < f.P; i++ {
		f.Grad.SetVec(off+i, f.Grad.AtVec(off+i)+c*local.Grad.AtVec(i))
		for j := i; j < f.P; j++ {
			f.Hess.SetSym(off+i, off+j, f.Hess.At(off+i, off+j)+c*local.Hess.At(i, j))
		}
	}
}

// AccumCombine accumulates a scalar function g(u,v) of two tracked values
// into f, applying the chain rule to second order. val is g evaluated at
// (u.V, v.V), gd holds dg/du and dg/dv, and gh holds d2g/du2, d2g/dudv,
// d2g/dv2. f must not alias u or v.
func (f *Float) AccumCombine(u, v *Float, val float64, gd [2]float64, gh [3]float64) {
	f.checkShape(u)
	f.checkShape(v)
	n := f.Dim()
	f.V += val
	for i := 0; i < n; i++ {
		dui := u.Grad.AtVec(i)
		dvi := v.Grad.AtVec(i)
		for j := i; j < n; j++ {
			duj := u.Grad.AtVec(j)
			dvj := v.Grad.AtVec(j)
			h := gd[0]*u.Hess.At(i, j) + gd[1]*v.Hess.At(i, j) +
				gh[0]*dui*duj + gh[1]*(dui*dvj+dvi*duj) + gh[2]*dvi*dvj
			f.Hess.SetSym(i, j, f.Hess.At(i, j)+h)
		}
		f.Grad.SetVec(i, f.Grad.AtVec(i)+gd[0]*dui+gd[1]*dvi)
	}
}

func (f *Float) checkShape(o *Float) {
	if f.P != o.P || f.S != o.S {
		panic(fmt.Sprintf("sensitive: shape mismatch: %dx%d vs %dx%d", f.P, f.S, o.P, o.S))
	}
}
