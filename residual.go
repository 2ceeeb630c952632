package goimpfit

import (
	"math"
)

// Penalty is the value of every residual component for an infeasible candidate.
const Penalty = 1e6

// Residual maps a parameter vector to data - model errors, interleaved as
// [Re e0, Im e0, Re e1, Im e1, ...]. It holds its own circuit and data, so
// separate fits never share state.
type Residual struct {
	circuit  *Circuit
	data     Spectrum
	feasible func(x []float64) bool
}

// NewResidual builds the residual for c against data. The reference topology
// gets the ReferenceFeasible guard; other circuits have no bounds.
func NewResidual(c *Circuit, data Spectrum) *Residual {
	r := &Residual{circuit: c, data: data}
	if IsReference(c) {
		r.feasible = ReferenceFeasible
	}
	return r
}

// WithBounds returns a copy of r guarded by feasible instead of the default.
// A nil feasible disables the guard.
func (r *Residual) WithBounds(feasible func(x []float64) bool) *Residual {
	cp := *r
	cp.feasible = feasible
	return &cp
}

// Size is the length of the residual vector, twice the number of samples.
func (r *Residual) Size() int { return 2 * r.data.Len() }

// Feasible reports whether x passes the guard, if any.
func (r *Residual) Feasible(x []float64) bool {
	return r.feasible == nil || r.feasible(x)
}

// Eval writes the residual of x into dst, which must have length Size.
// Infeasible candidates, and candidates for which the model is not finite,
// produce a vector filled with Penalty. Eval is safe for concurrent use.
func (r *Residual) Eval(dst, x []float64) {
	if len(dst) != r.Size() {
		panic("residual: destination length mismatch")
	}
	if !r.Feasible(x) {
		fill(dst, Penalty)
		return
	}
	model, err := r.circuit.Impedance(x, r.data.Freqs)
	if err != nil {
		panic(err)
	}
	for i, z := range r.data.Z {
		e := z - model[i]
		dst[2*i] = real(e)
		dst[2*i+1] = imag(e)
		if math.IsNaN(dst[2*i]) || math.IsNaN(dst[2*i+1]) || math.IsInf(dst[2*i], 0) || math.IsInf(dst[2*i+1], 0) {
			fill(dst, Penalty)
			return
		}
	}
}

// Values allocates and returns the residual of x.
func (r *Residual) Values(x []float64) []float64 {
	dst := make([]float64, r.Size())
	r.Eval(dst, x)
	return dst
}

// ReferenceFeasible is the bound for the reference topology: all six
// parameters strictly positive and the CPE exponent below 1.
func ReferenceFeasible(x []float64) bool {
	if len(x) != 6 {
		return false
	}
	for _, v := range x {
		if !(v > 0) {
			return false
		}
	}
	return x[5] < 1
}

func fill(dst []float64, v float64) {
	for i := range dst {
		dst[i] = v
	}
}
