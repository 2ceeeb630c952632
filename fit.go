package goimpfit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

type Weighting int

const (
	MODULUS Weighting = iota
	UNITY
)

// Options configures Fit. The zero value fits with Levenberg-Marquardt and
// DefaultTolerances.
type Options struct {
	Method Method
	// Solver overrides Method when set.
	Solver     Solver
	Tolerances *Tolerances
	// Weighting applies to the reported ChiSq only, the fit itself is unweighted.
	Weighting Weighting
	// SkipGuess keeps p0 as the starting point even for the reference topology.
	SkipGuess bool
}

// Result is the outcome of one fit.
type Result struct {
	Code      string
	Names     []string
	Initial   []float64
	Params    []float64
	StdErrors []float64
	Freqs     []float64
	Fitted    []complex128
	// SSR is the sum of squared residual components at Params.
	SSR        float64
	ChiSq      float64
	Method     Method
	Status     string
	Iterations int
	FuncEvals  int
}

// FitCode parses code and fits it, see Fit.
func FitCode(code string, data Spectrum, p0 []float64, opts Options) (*Result, error) {
	c, err := Parse(code)
	if err != nil {
		return nil, err
	}
	return Fit(c, data, p0, opts)
}

// Fit fits circuit c to data starting from p0.
//
// For the reference topology the starting point comes from InitialGuess and
// candidates are held inside ReferenceFeasible; other circuits start from p0
// unbounded. Standard errors are sqrt(|s² C_ii|) with C = (JᵀJ)⁻¹ and
// s² = SSR/(N - P), N the number of frequencies. They are 0 where C is
// singular or N <= P. Solver failures, including a solution left outside
// the feasible region, are returned as *SolverError.
func Fit(c *Circuit, data Spectrum, p0 []float64, opts Options) (*Result, error) {
	if len(p0) != c.NumParams() {
		return nil, &ParamCountError{Want: c.NumParams(), Got: len(p0)}
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}

	solver := opts.Solver
	method := opts.Method
	if method == "" {
		method = LevenbergMarquardt
	}
	if solver == nil {
		var err error
		if solver, err = NewSolver(method); err != nil {
			return nil, err
		}
	}
	tol := DefaultTolerances()
	if opts.Tolerances != nil {
		tol = *opts.Tolerances
	}

	init := append([]float64(nil), p0...)
	if IsReference(c) && !opts.SkipGuess {
		var err error
		if init, err = InitialGuess(data, p0); err != nil {
			return nil, err
		}
	}

	residual := NewResidual(c, data)

	// solve for u = x/scale so that ohms and farads take comparable steps
	scale := make([]float64, len(init))
	u0 := make([]float64, len(init))
	for i, v := range init {
		scale[i] = math.Abs(v)
		if scale[i] == 0 || math.IsInf(scale[i], 0) || math.IsNaN(scale[i]) {
			scale[i] = 1
		}
		u0[i] = v / scale[i]
	}
	scaled := func(dst, u []float64) {
		x := make([]float64, len(u))
		floats.MulTo(x, u, scale)
		residual.Eval(dst, x)
	}

	sol, err := solver.Solve(Problem{Func: scaled, Size: residual.Size(), Init: u0}, tol)
	if err != nil {
		return nil, fmt.Errorf("fit %s: %w", c.Code(), err)
	}

	params := make([]float64, len(sol.X))
	floats.MulTo(params, sol.X, scale)
	if !residual.Feasible(params) {
		return nil, fmt.Errorf("fit %s: %w", c.Code(),
			&SolverError{Method: string(method), Status: StatusInfeasible})
	}

	r := residual.Values(params)
	ssr := floats.Dot(r, r)

	fitted, err := c.Impedance(params, data.Freqs)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Code:       c.Code(),
		Names:      c.ParameterNames(),
		Initial:    init,
		Params:     params,
		StdErrors:  make([]float64, len(params)),
		Freqs:      append([]float64(nil), data.Freqs...),
		Fitted:     fitted,
		SSR:        ssr,
		ChiSq:      ChiSq(data.Z, fitted, opts.Weighting),
		Method:     method,
		Status:     sol.Status,
		Iterations: sol.Iterations,
		FuncEvals:  sol.FuncEvals,
	}

	dof := data.Len() - len(params)
	if sol.Cov == nil || dof <= 0 {
		return res, nil
	}
	sSq := ssr / float64(dof)
	for i := range params {
		v := math.Sqrt(math.Abs(sSq * sol.Cov.At(i, i) * scale[i] * scale[i]))
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			res.StdErrors[i] = v
		}
	}
	return res, nil
}

// FittedPairs returns the fitted curve as (f, Re, Im) triples.
func (r *Result) FittedPairs() [][3]float64 {
	res := make([][3]float64, len(r.Fitted))
	for i, z := range r.Fitted {
		res[i] = [3]float64{r.Freqs[i], real(z), imag(z)}
	}
	return res
}

// ChiSq is the mean squared distance between observed and calculated
// impedance, each term divided by |observed|² under MODULUS weighting.
func ChiSq(observed, calculated []complex128, weighting Weighting) float64 {
	if len(observed) != len(calculated) {
		panic("solver chiSq: slice length mismatch")
	}
	if len(observed) == 0 {
		return 0
	}
	chiSq := 0.0
	for i, o := range observed {
		d := o - calculated[i]
		d2 := real(d)*real(d) + imag(d)*imag(d)
		if weighting == MODULUS {
			if w := real(o)*real(o) + imag(o)*imag(o); w > 0 {
				d2 /= w
			}
		}
		chiSq += d2
	}
	return chiSq / float64(len(observed))
}
