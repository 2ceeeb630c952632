package goimpfit

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func synthetic(t *testing.T, code string, params []float64) Spectrum {
	t.Helper()
	freqs := logFreqs(0.1, 1e5, 5)
	z, err := Synthesize(MustParse(code), freqs, params, NoiseOptions{})
	require.NoError(t, err)
	return Spectrum{Freqs: freqs, Z: z}
}

func TestFit(t *testing.T) {
	t.Run("should recover a parallel RC", func(t *testing.T) {
		truth := []float64{100, 1e-5}
		data := synthetic(t, "p(R1,C1)", truth)

		res, err := FitCode("p(R1,C1)", data, []float64{80, 1.3e-5}, Options{})
		require.NoError(t, err)
		assert.Equal(t, OK, res.Status)
		assert.Equal(t, LevenbergMarquardt, res.Method)
		assert.Equal(t, []string{"R0", "C0"}, res.Names)
		for i, want := range truth {
			assert.InEpsilon(t, want, res.Params[i], 1e-6)
			assert.Less(t, res.StdErrors[i], 1e-6*want)
		}
		assert.Less(t, res.SSR, 1e-12)
		assert.Len(t, res.Fitted, data.Len())
		assert.Positive(t, res.FuncEvals)
	})

	t.Run("should recover a Randles-like circuit", func(t *testing.T) {
		truth := []float64{10, 100, 1e-5}
		data := synthetic(t, "s(R1,p(R1,C1))", truth)

		res, err := FitCode("s(R1,p(R1,C1))", data, []float64{12, 80, 8e-6}, Options{})
		require.NoError(t, err)
		for i, want := range truth {
			assert.InEpsilon(t, want, res.Params[i], 1e-6)
		}
		assert.Equal(t, []float64{12, 80, 8e-6}, res.Initial)
	})

	t.Run("should recover a parallel RC with Nelder-Mead", func(t *testing.T) {
		truth := []float64{100, 1e-5}
		data := synthetic(t, "p(R1,C1)", truth)

		res, err := FitCode("p(R1,C1)", data, []float64{90, 1.1e-5}, Options{Method: NelderMead})
		require.NoError(t, err)
		assert.Equal(t, NelderMead, res.Method)
		for i, want := range truth {
			assert.InEpsilon(t, want, res.Params[i], 1e-4)
		}
	})

	t.Run("should fit the sum of an unidentifiable series pair", func(t *testing.T) {
		data := synthetic(t, "s(R1,R1)", []float64{10, 20})

		res, err := FitCode("s(R1,R1)", data, []float64{5, 5}, Options{})
		require.NoError(t, err)
		assert.InDelta(t, 30, res.Params[0]+res.Params[1], 1e-6)
		for _, z := range res.Fitted {
			assert.InDelta(t, 30, real(z), 1e-6)
		}
		// the Jacobian columns are equal, so there is no covariance
		assert.Equal(t, []float64{0, 0}, res.StdErrors)
	})

	t.Run("should recover the reference topology", func(t *testing.T) {
		c := MustParse(ReferenceTopology)
		truth := []float64{10, 50, 20, 0.5, 1e-4, 0.85}
		data := referenceSpectrum(t, truth)

		res, err := Fit(c, data, []float64{1, 1, 10, 1, 1, 0.8}, Options{})
		require.NoError(t, err)
		assert.True(t, ReferenceFeasible(res.Params), "%v", res.Params)
		for i, want := range truth {
			assert.InEpsilon(t, want, res.Params[i], 1e-6, res.Names[i])
			assert.Less(t, res.StdErrors[i], 1e-6*want, res.Names[i])
		}

		r := NewResidual(c, data)
		init := r.Values(res.Initial)
		assert.LessOrEqual(t, res.SSR, floats.Dot(init, init))
		assert.NotEqual(t, []float64{1, 1, 10, 1, 1, 0.8}, res.Initial, "initial guess should replace R1, R2 and Q")
	})

	t.Run("should start from p0 when the guess is skipped", func(t *testing.T) {
		data := referenceSpectrum(t, []float64{10, 50, 20, 0.5, 1e-4, 0.85})
		p0 := []float64{9, 45, 20, 0.5, 1e-4, 0.85}
		stay := fixedSolver{x: []float64{1, 1, 1, 1, 1, 1}}
		res, err := Fit(MustParse(ReferenceTopology), data, p0, Options{SkipGuess: true, Solver: stay})
		require.NoError(t, err)
		assert.Equal(t, p0, res.Initial)
		for i := range p0 {
			assert.InEpsilon(t, p0[i], res.Params[i], 1e-15)
		}
	})

	t.Run("should check the parameter count before the data", func(t *testing.T) {
		_, err := FitCode("s(R1,R1)", Spectrum{}, []float64{1}, Options{})
		assert.ErrorIs(t, err, ErrParameterCount)
		assert.False(t, errors.Is(err, ErrInvalidData))
	})

	t.Run("should reject bad data and methods", func(t *testing.T) {
		_, err := FitCode("R1", Spectrum{Freqs: []float64{0}, Z: []complex128{1}}, []float64{1}, Options{})
		assert.ErrorIs(t, err, ErrInvalidData)

		data := synthetic(t, "R1", []float64{1})
		_, err = FitCode("R1", data, []float64{1}, Options{Method: "simplex"})
		assert.Error(t, err)

		_, err = FitCode("R9(", data, []float64{1}, Options{})
		assert.ErrorIs(t, err, ErrMalformedTopology)
	})

	t.Run("should report an exhausted evaluation budget", func(t *testing.T) {
		data := synthetic(t, "p(R1,C1)", []float64{100, 1e-5})
		tol := DefaultTolerances()
		tol.MaxFuncEvals = 3
		_, err := FitCode("p(R1,C1)", data, []float64{10, 1e-3}, Options{Tolerances: &tol})
		require.ErrorIs(t, err, ErrNonConvergence)
		var se *SolverError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, StatusEvalLimit, se.Status)
	})

	t.Run("should report an exhausted iteration budget", func(t *testing.T) {
		data := synthetic(t, "p(R1,C1)", []float64{100, 1e-5})
		tol := DefaultTolerances()
		tol.MaxIterations = 1
		res, err := FitCode("p(R1,C1)", data, []float64{10, 1e-3}, Options{Tolerances: &tol})
		require.ErrorIs(t, err, ErrNonConvergence)
		assert.Nil(t, res)
		var se *SolverError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, StatusIterLimit, se.Status)
		assert.Equal(t, string(LevenbergMarquardt), se.Method)
	})

	t.Run("should fail when the solution stays infeasible", func(t *testing.T) {
		data := referenceSpectrum(t, []float64{10, 50, 20, 0.5, 1e-4, 0.85})
		// alpha above 1 survives the initial guess
		res, err := Fit(MustParse(ReferenceTopology), data, []float64{1, 1, 10, 1, 1, 1.2}, Options{})
		require.ErrorIs(t, err, ErrNonConvergence)
		assert.Nil(t, res)
		var se *SolverError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, StatusInfeasible, se.Status)
	})

	t.Run("should use a custom solver", func(t *testing.T) {
		data := synthetic(t, "R1", []float64{7})
		res, err := FitCode("R1", data, []float64{1}, Options{Solver: fixedSolver{x: []float64{7}}})
		require.NoError(t, err)
		assert.InDelta(t, 7, res.Params[0], 1e-12)
		assert.Equal(t, "fixed", res.Status)
	})
}

// fixedSolver returns x in scaled units, where 1 is the starting point.
type fixedSolver struct{ x []float64 }

func (s fixedSolver) Solve(p Problem, _ Tolerances) (Solution, error) {
	return Solution{X: s.x, Status: "fixed"}, nil
}

func TestFitConcurrent(t *testing.T) {
	t.Run("should fit different circuits in parallel", func(t *testing.T) {
		cases := []struct {
			code  string
			truth []float64
			p0    []float64
		}{
			{"p(R1,C1)", []float64{100, 1e-5}, []float64{80, 1.3e-5}},
			{"s(R1,p(R1,C1))", []float64{10, 100, 1e-5}, []float64{12, 80, 8e-6}},
			{"s(R1,C1)", []float64{20, 1e-4}, []float64{25, 0.8e-4}},
		}

		var wg sync.WaitGroup
		results := make([]*Result, 3*len(cases))
		errs := make([]error, len(results))
		for i := range results {
			tc := cases[i%len(cases)]
			data := synthetic(t, tc.code, tc.truth)
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errs[i] = FitCode(tc.code, data, tc.p0, Options{})
			}()
		}
		wg.Wait()

		for i, res := range results {
			tc := cases[i%len(cases)]
			require.NoError(t, errs[i], tc.code)
			assert.Equal(t, tc.code, res.Code)
			for j, want := range tc.truth {
				assert.InEpsilon(t, want, res.Params[j], 1e-6, tc.code)
			}
		}
	})
}

func TestChiSq(t *testing.T) {
	observed := []complex128{complex(3, 4)}
	calculated := []complex128{0}

	assert.InDelta(t, 25, ChiSq(observed, calculated, UNITY), 1e-12)
	assert.InDelta(t, 1, ChiSq(observed, calculated, MODULUS), 1e-12)
	assert.Equal(t, 0.0, ChiSq(nil, nil, MODULUS))
	assert.Panics(t, func() { ChiSq(observed, nil, UNITY) })
}

func TestFittedPairs(t *testing.T) {
	res := &Result{Freqs: []float64{1, 2}, Fitted: []complex128{complex(1, -1), complex(2, -2)}}
	assert.Equal(t, [][3]float64{{1, 1, -1}, {2, 2, -2}}, res.FittedPairs())
}
