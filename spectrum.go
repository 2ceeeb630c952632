package goimpfit

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Spectrum is an impedance sweep: one complex sample per frequency (Hz).
type Spectrum struct {
	Freqs []float64
	Z     []complex128
}

// NewSpectrum builds a spectrum from measured columns. The measured imaginary
// part is stored negated, so the impedance is re - j*imMeasured.
func NewSpectrum(freqs, re, imMeasured []float64) (Spectrum, error) {
	if len(freqs) != len(re) || len(freqs) != len(imMeasured) {
		return Spectrum{}, fmt.Errorf("%w: column lengths %d, %d, %d differ", ErrInvalidData, len(freqs), len(re), len(imMeasured))
	}
	s := Spectrum{
		Freqs: append([]float64(nil), freqs...),
		Z:     make([]complex128, len(freqs)),
	}
	for i := range freqs {
		s.Z[i] = complex(re[i], -imMeasured[i])
	}
	return s, s.Validate()
}

// Len returns the number of samples.
func (s Spectrum) Len() int { return len(s.Freqs) }

// Validate checks the sweep is non-empty, aligned, with positive finite
// frequencies and finite impedance.
func (s Spectrum) Validate() error {
	if len(s.Freqs) == 0 {
		return fmt.Errorf("%w: no frequency data provided", ErrInvalidData)
	}
	if len(s.Freqs) != len(s.Z) {
		return fmt.Errorf("%w: frequency and impedance data length mismatch: %d vs %d", ErrInvalidData, len(s.Freqs), len(s.Z))
	}
	for i, f := range s.Freqs {
		if !(f > 0) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: frequency %v at index %d is not a positive number", ErrInvalidData, f, i)
		}
		if cmplx.IsNaN(s.Z[i]) || cmplx.IsInf(s.Z[i]) {
			return fmt.Errorf("%w: impedance %v at index %d is not finite", ErrInvalidData, s.Z[i], i)
		}
	}
	return nil
}

// Trim drops low samples from the start and high samples from the end.
func (s Spectrum) Trim(low, high int) (Spectrum, error) {
	if low < 0 || high < 0 || low+high >= len(s.Freqs) {
		return Spectrum{}, fmt.Errorf("%w: cannot cut %d+%d points from %d", ErrInvalidData, low, high, len(s.Freqs))
	}
	end := len(s.Freqs) - high
	return Spectrum{
		Freqs: append([]float64(nil), s.Freqs[low:end]...),
		Z:     append([]complex128(nil), s.Z[low:end]...),
	}, nil
}

// Real returns the real parts.
func (s Spectrum) Real() []float64 {
	res := make([]float64, len(s.Z))
	for i, z := range s.Z {
		res[i] = real(z)
	}
	return res
}

// Imag returns the imaginary parts as stored (already negated for measured data).
func (s Spectrum) Imag() []float64 {
	res := make([]float64, len(s.Z))
	for i, z := range s.Z {
		res[i] = imag(z)
	}
	return res
}
