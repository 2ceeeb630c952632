package goimpfit

import (
	"math"
	"math/cmplx"
)

// Kind identifies a circuit element by its topology letter.
type Kind byte

const (
	Resistor            Kind = 'R'
	Capacitor           Kind = 'C'
	CPE                 Kind = 'E' // constant phase element
	Warburg             Kind = 'W' // finite length Warburg
	Gerischer           Kind = 'G'
	SemiInfiniteWarburg Kind = 'Q' // 45 degree Warburg
)

// elementFunc returns the impedance of one element for every frequency.
type elementFunc func(p []float64, freqs []float64) []complex128

type elementSpec struct {
	name   string
	labels []string // per-parameter suffixes, nil for single parameter elements
	fn     elementFunc
}

var elements = map[Kind]elementSpec{
	Resistor:            {name: "resistor", fn: resistor},
	Capacitor:           {name: "capacitor", fn: capacitor},
	CPE:                 {name: "constant phase element", labels: []string{"Q", "alpha"}, fn: cpe},
	Warburg:             {name: "finite length Warburg", labels: []string{"A", "tau"}, fn: warburg},
	Gerischer:           {name: "Gerischer", labels: []string{"A", "tau"}, fn: gerischer},
	SemiInfiniteWarburg: {name: "semi-infinite Warburg", fn: semiInfiniteWarburg},
}

// Arity returns the number of parameters the element consumes, or 0 for an unknown kind.
func (k Kind) Arity() int {
	e, ok := elements[k]
	if !ok {
		return 0
	}
	if len(e.labels) == 0 {
		return 1
	}
	return len(e.labels)
}

// Valid reports whether k is a known element kind.
func (k Kind) Valid() bool {
	_, ok := elements[k]
	return ok
}

func (k Kind) String() string {
	if e, ok := elements[k]; ok {
		return e.name
	}
	return "unknown(" + string(rune(k)) + ")"
}

// ElementImpedance evaluates a single element kind at the given parameters.
func ElementImpedance(k Kind, p []float64, freqs []float64) ([]complex128, error) {
	e, ok := elements[k]
	if !ok {
		return nil, ErrUnknownElement
	}
	if len(p) != k.Arity() {
		return nil, &ParamCountError{Want: k.Arity(), Got: len(p)}
	}
	return e.fn(p, freqs), nil
}

func resistor(p []float64, freqs []float64) []complex128 {
	z := make([]complex128, len(freqs))
	for i := range freqs {
		z[i] = complex(p[0], 0)
	}
	return z
}

// 1/(jwC)
func capacitor(p []float64, freqs []float64) []complex128 {
	z := make([]complex128, len(freqs))
	for i, f := range freqs {
		w := 2 * math.Pi * f
		z[i] = complex(0, -1/(w*p[0]))
	}
	return z
}

// 1/(Q (jw)^alpha), with (jw)^alpha taken in polar form.
func cpe(p []float64, freqs []float64) []complex128 {
	q, alpha := p[0], p[1]
	z := make([]complex128, len(freqs))
	for i, f := range freqs {
		w := 2 * math.Pi * f
		z[i] = cmplx.Rect(1/(q*math.Pow(w, alpha)), -alpha*math.Pi/2)
	}
	return z
}

// A tanh(s) / (s - tanh(s)), s = sqrt(jw tau)
func warburg(p []float64, freqs []float64) []complex128 {
	a, tau := p[0], p[1]
	z := make([]complex128, len(freqs))
	for i, f := range freqs {
		s := cmplx.Sqrt(complex(0, 2*math.Pi*f*tau))
		t := stableTanh(s)
		var d complex128
		if cmplx.Abs(s) < 1e-3 {
			// s - tanh(s) cancels catastrophically near zero, use its series
			s2 := s * s
			d = s * s2 * (1.0/3 - s2*(2.0/15-s2*17.0/315))
		} else {
			d = s - t
		}
		z[i] = complex(a, 0) * t / d
	}
	return z
}

// 1/(A sqrt(tau + jw))
func gerischer(p []float64, freqs []float64) []complex128 {
	a, tau := p[0], p[1]
	z := make([]complex128, len(freqs))
	for i, f := range freqs {
		z[i] = 1 / (complex(a, 0) * cmplx.Sqrt(complex(tau, 2*math.Pi*f)))
	}
	return z
}

// (1-j) / (A sqrt(f))
func semiInfiniteWarburg(p []float64, freqs []float64) []complex128 {
	z := make([]complex128, len(freqs))
	for i, f := range freqs {
		z[i] = complex(1, -1) / complex(p[0]*math.Sqrt(f), 0)
	}
	return z
}

// stableTanh evaluates tanh without overflowing for arguments with a large
// real part, where cmplx.Tanh divides two infinite cosh terms.
func stableTanh(z complex128) complex128 {
	x := real(z)
	switch {
	case math.Abs(x) < 1:
		return cmplx.Tanh(z)
	case x > 0:
		e := cmplx.Exp(-2 * z)
		return (1 - e) / (1 + e)
	default:
		e := cmplx.Exp(2 * z)
		return -(1 - e) / (1 + e)
	}
}
