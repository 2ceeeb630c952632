package goimpfit

import (
	"math"
	"math/rand/v2"
)

// NoiseOptions controls the perturbation applied by Synthesize.
type NoiseOptions struct {
	// Level is the relative noise applied to every point, 0 for none.
	Level float64
	// NoisyPoints is the number of randomly chosen points perturbed by OutlierLevel.
	NoisyPoints  int
	OutlierLevel float64
	Seed         uint64
}

// Synthesize evaluates the circuit at params and optionally perturbs the
// result. Each real and imaginary part is drawn uniformly from
// [v - |v|*level, v + |v|*level].
func Synthesize(c *Circuit, freqs []float64, params []float64, opts NoiseOptions) ([]complex128, error) {
	z, err := c.Impedance(params, freqs)
	if err != nil {
		return nil, err
	}
	if opts.Level == 0 && opts.NoisyPoints == 0 {
		return z, nil
	}

	rnd := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	if opts.Level > 0 {
		for i := range z {
			z[i] = noise(rnd, z[i], opts.Level)
		}
	}
	for i := 0; i < opts.NoisyPoints && len(z) > 0; i++ {
		idx := rnd.IntN(len(z))
		z[idx] = noise(rnd, z[idx], opts.OutlierLevel)
	}
	return z, nil
}

func noise(rnd *rand.Rand, v complex128, nl float64) complex128 {
	re, im := real(v), imag(v)
	zrMax := math.Abs(re) * nl
	ziMax := math.Abs(im) * nl
	return complex(
		re-zrMax+rnd.Float64()*2*zrMax,
		im-ziMax+rnd.Float64()*2*ziMax,
	)
}
