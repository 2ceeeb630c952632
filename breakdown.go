package goimpfit

import (
	"math"
	"math/cmplx"
	"strconv"
)

// ElementContribution is the impedance of one element on its own.
type ElementContribution struct {
	Name      string
	Kind      Kind
	Params    []float64
	Impedance []complex128
}

// Breakdown evaluates every element of the circuit separately at params.
// Non-finite samples are replaced by zero so the result can be serialised.
func (c *Circuit) Breakdown(params []float64, freqs []float64) ([]ElementContribution, error) {
	if len(params) != c.numParams {
		return nil, &ParamCountError{Want: c.numParams, Got: len(params)}
	}
	seen := make(map[Kind]int)
	res := make([]ElementContribution, 0, len(c.leaves))
	off := 0
	for _, l := range c.leaves {
		k := l.Kind.Arity()
		p := params[off : off+k]
		off += k

		z := elements[l.Kind].fn(p, freqs)
		for i, v := range z {
			z[i] = sanitize(v)
		}
		res = append(res, ElementContribution{
			Name:      string(rune(l.Kind)) + strconv.Itoa(seen[l.Kind]),
			Kind:      l.Kind,
			Params:    append([]float64(nil), p...),
			Impedance: z,
		})
		seen[l.Kind]++
	}
	return res, nil
}

func sanitize(v complex128) complex128 {
	if cmplx.IsNaN(v) || cmplx.IsInf(v) {
		re, im := real(v), imag(v)
		if math.IsNaN(re) || math.IsInf(re, 0) {
			re = 0
		}
		if math.IsNaN(im) || math.IsInf(im, 0) {
			im = 0
		}
		return complex(re, im)
	}
	return v
}
