package goimpfit

import (
	"math"
)

// ReferenceTopology is the circuit the initial guess heuristic and the
// feasibility bounds were designed for: a series resistance in front of a
// CPE in parallel with a charge-transfer resistance plus finite Warburg.
// Parameter order is [R1, R2, W.A, W.tau, E.Q, E.alpha].
const ReferenceTopology = "s(R1,p(s(R1,W2),E2))"

var reference = MustParse(ReferenceTopology)

// IsReference reports whether c has the shape of ReferenceTopology.
func IsReference(c *Circuit) bool {
	return c.SameShape(reference)
}

// InitialGuess derives starting values for the reference topology from the
// spectrum and takes the rest from p0:
//
//	R1 = Re(Z) at the highest frequency
//	R2 = mean(Re(Z)) - R1
//	Q  = 1/(f* R1), f* the frequency above 1 Hz with the largest |phase|
//
// It does not generalise to other circuits. A derived value that is not
// positive and finite keeps the caller's value.
func InitialGuess(data Spectrum, p0 []float64) ([]float64, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	if len(p0) != reference.NumParams() {
		return nil, &ParamCountError{Want: reference.NumParams(), Got: len(p0)}
	}

	guess := append([]float64(nil), p0...)

	hf := 0
	meanRe := 0.0
	for i, f := range data.Freqs {
		if f > data.Freqs[hf] {
			hf = i
		}
		meanRe += real(data.Z[i])
	}
	meanRe /= float64(data.Len())

	r1 := real(data.Z[hf])
	r2 := meanRe - r1
	c1 := 1 / (phasePeakFreq(data) * r1)

	for i, v := range map[int]float64{0: r1, 1: r2, 4: c1} {
		if v > 0 && !math.IsInf(v, 0) {
			guess[i] = v
		}
	}
	return guess, nil
}

// phasePeakFreq returns the frequency above 1 Hz where |atan2(Im, Re)| peaks,
// preferring the higher frequency on ties. All samples are searched when
// none lies above 1 Hz.
func phasePeakFreq(data Spectrum) float64 {
	best, bestPhase := -1, -1.0
	for pass := 0; pass < 2 && best < 0; pass++ {
		for i, f := range data.Freqs {
			if pass == 0 && f <= 1 {
				continue
			}
			ph := math.Abs(math.Atan2(imag(data.Z[i]), real(data.Z[i])))
			if ph > bestPhase || (ph == bestPhase && f > data.Freqs[best]) {
				best, bestPhase = i, ph
			}
		}
	}
	return data.Freqs[best]
}
