package goimpfit

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Method names a least-squares strategy.
type Method string

const (
	LevenbergMarquardt Method = "lm"
	NelderMead         Method = "nelder-mead"
	LBFGS              Method = "lbfgs"
)

// Methods lists every supported method, the default first.
var Methods = []Method{LevenbergMarquardt, NelderMead, LBFGS}

// Status constants reported in Solution.Status.
const (
	OK                = "OK"
	StatusEvalLimit   = "function evaluation limit reached"
	StatusIterLimit   = "iteration limit reached"
	StatusNonFinite   = "non-finite parameters"
	StatusSolverPanic = "solver panic"
	StatusFailed      = "solver failed"
	StatusInfeasible  = "infeasible solution"
)

// Tolerances bound the solver run.
type Tolerances struct {
	MaxIterations int
	MaxFuncEvals  int
	// ObjectiveTol stops once the sum of squared residuals drops below it.
	ObjectiveTol float64
	// GradTol and StepTol are the LM gradient and relative step criteria.
	GradTol float64
	StepTol float64
}

// DefaultTolerances mirrors a tight leastsq setup: ftol 1e-13, 100000 evaluations.
func DefaultTolerances() Tolerances {
	return Tolerances{
		MaxIterations: 100000,
		MaxFuncEvals:  100000,
		ObjectiveTol:  1e-26,
		GradTol:       1e-13,
		StepTol:       1e-13,
	}
}

// Problem is a least-squares problem: minimise the squared norm of Func.
// Func must be safe for concurrent use.
type Problem struct {
	Func func(dst, x []float64)
	Size int
	Init []float64
}

// Solution is what a Solver returns on success.
type Solution struct {
	X []float64
	// Cov is (JᵀJ)⁻¹ at X, nil when the Jacobian is rank deficient.
	Cov        *mat.SymDense
	Status     string
	Iterations int
	FuncEvals  int
}

// Solver is the nonlinear least-squares capability used by Fit.
type Solver interface {
	Solve(p Problem, tol Tolerances) (Solution, error)
}

// NewSolver returns the solver for m.
func NewSolver(m Method) (Solver, error) {
	switch m {
	case LevenbergMarquardt, "":
		return LMSolver{}, nil
	case NelderMead:
		return OptimizeSolver{Method: NelderMead}, nil
	case LBFGS:
		return OptimizeSolver{Method: LBFGS}, nil
	}
	return nil, fmt.Errorf("unknown optimization method %q", m)
}

// LMSolver runs Levenberg-Marquardt with a numeric Jacobian.
type LMSolver struct {
	// Tau scales the initial damping, 1e-3 when zero.
	Tau float64
}

func (s LMSolver) Solve(p Problem, tol Tolerances) (sol Solution, err error) {
	var evals atomic.Int64
	var exhausted atomic.Bool
	fnc := func(dst, x []float64) {
		if n := evals.Add(1); tol.MaxFuncEvals > 0 && n > int64(tol.MaxFuncEvals) {
			// repel further steps until LM gives up, reported below
			exhausted.Store(true)
			fill(dst, Penalty)
			return
		}
		p.Func(dst, x)
	}

	jac := lm.NumJac{Func: fnc}

	tau := s.Tau
	if tau == 0 {
		tau = 1e-3
	}
	problem := lm.LMProblem{
		Dim:        len(p.Init),
		Size:       p.Size,
		Func:       fnc,
		Jac:        jac.Jac,
		InitParams: append([]float64(nil), p.Init...),
		Tau:        tau,
		Eps1:       tol.GradTol,
		Eps2:       tol.StepTol,
	}

	// lm panics on singular normal equations
	defer func() {
		if r := recover(); r != nil {
			sol = Solution{}
			status := StatusSolverPanic
			if exhausted.Load() {
				status = StatusEvalLimit
			}
			err = &SolverError{Method: string(LevenbergMarquardt), Status: status, Err: fmt.Errorf("%v", r)}
		}
	}()

	res, err := lm.LM(problem, &lm.Settings{Iterations: tol.MaxIterations, ObjectiveTol: tol.ObjectiveTol})
	if exhausted.Load() {
		return Solution{}, &SolverError{Method: string(LevenbergMarquardt), Status: StatusEvalLimit,
			Err: fmt.Errorf("%d evaluations", tol.MaxFuncEvals)}
	}
	if err != nil {
		return Solution{}, &SolverError{Method: string(LevenbergMarquardt), Status: StatusFailed, Err: err}
	}
	if res.Status == optimize.IterationLimit {
		return Solution{}, &SolverError{Method: string(LevenbergMarquardt), Status: StatusIterLimit,
			Err: fmt.Errorf("%d iterations", tol.MaxIterations)}
	}
	if !allFinite(res.X) {
		return Solution{}, &SolverError{Method: string(LevenbergMarquardt), Status: StatusNonFinite}
	}

	return Solution{
		X:         res.X,
		Cov:       normalCovariance(p.Func, res.X, p.Size),
		Status:    OK,
		FuncEvals: int(evals.Load()),
	}, nil
}

// OptimizeSolver minimises the sum of squared residuals with a gonum
// optimize method. It is slower than LM but does not need the residual to be
// smooth.
type OptimizeSolver struct {
	Method Method
}

func (s OptimizeSolver) Solve(p Problem, tol Tolerances) (Solution, error) {
	buf := func() []float64 { return make([]float64, p.Size) }
	objective := func(x []float64) float64 {
		r := buf()
		p.Func(r, x)
		return floats.Dot(r, r)
	}

	problem := optimize.Problem{Func: objective}

	var method optimize.Method
	switch s.Method {
	case NelderMead:
		method = &optimize.NelderMead{}
	case LBFGS:
		problem.Grad = func(grad, x []float64) {
			fd.Gradient(grad, objective, x, &fd.Settings{Formula: fd.Central})
		}
		method = &optimize.LBFGS{}
	default:
		return Solution{}, fmt.Errorf("optimize solver: unsupported method %q", s.Method)
	}

	settings := &optimize.Settings{
		MajorIterations: tol.MaxIterations,
		FuncEvaluations: tol.MaxFuncEvals,
		Converger: &optimize.FunctionConverge{
			Absolute:   tol.ObjectiveTol,
			Relative:   tol.GradTol,
			Iterations: 200,
		},
	}

	res, err := optimize.Minimize(problem, p.Init, settings, method)
	if err != nil {
		return Solution{}, &SolverError{Method: string(s.Method), Status: StatusFailed, Err: err}
	}
	switch res.Status {
	case optimize.IterationLimit:
		return Solution{}, &SolverError{Method: string(s.Method), Status: StatusIterLimit}
	case optimize.FunctionEvaluationLimit:
		return Solution{}, &SolverError{Method: string(s.Method), Status: StatusEvalLimit}
	case optimize.Failure:
		return Solution{}, &SolverError{Method: string(s.Method), Status: res.Status.String()}
	}
	if !allFinite(res.X) {
		return Solution{}, &SolverError{Method: string(s.Method), Status: StatusNonFinite}
	}

	return Solution{
		X:          res.X,
		Cov:        normalCovariance(p.Func, res.X, p.Size),
		Status:     OK,
		Iterations: res.MajorIterations,
		FuncEvals:  res.FuncEvaluations,
	}, nil
}

// maxCond is the condition number above which JᵀJ is treated as singular.
const maxCond = 1e13

// normalCovariance returns (JᵀJ)⁻¹ with J the central-difference Jacobian of
// f at x, or nil when JᵀJ is singular or too badly conditioned to invert.
func normalCovariance(f func(dst, x []float64), x []float64, size int) *mat.SymDense {
	j := mat.NewDense(size, len(x), nil)
	fd.Jacobian(j, f, x, &fd.JacobianSettings{Formula: fd.Central})

	var jtj mat.SymDense
	jtj.SymOuterK(1, j.T())

	var chol mat.Cholesky
	if ok := chol.Factorize(&jtj); !ok {
		return nil
	}
	if c := chol.Cond(); math.IsInf(c, 0) || math.IsNaN(c) || c > maxCond {
		return nil
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil
	}
	return &cov
}

func allFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return len(x) > 0
}
