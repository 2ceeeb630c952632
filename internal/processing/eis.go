package processing

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/kacperjurak/goimpfit"
	"github.com/kacperjurak/goimpfit/pkg/config"
	"github.com/kacperjurak/goimpfit/pkg/models"
	"github.com/kacperjurak/goimpfit/pkg/worker"
)

// EISProcessor fits spectra against the configured circuit.
type EISProcessor struct {
	cfg     *config.Config
	circuit *goimpfit.Circuit
}

// NewEISProcessor parses the configured circuit once. The processor holds no
// mutable state, so one instance serves concurrent fits.
func NewEISProcessor(cfg *config.Config) (*EISProcessor, error) {
	c, err := goimpfit.Parse(cfg.Code)
	if err != nil {
		return nil, err
	}
	if len(cfg.InitValues) != c.NumParams() {
		return nil, fmt.Errorf("initial values for %s: %w", c.Code(),
			&goimpfit.ParamCountError{Want: c.NumParams(), Got: len(cfg.InitValues)})
	}
	return &EISProcessor{cfg: cfg, circuit: c}, nil
}

// Circuit returns the parsed circuit.
func (p *EISProcessor) Circuit() *goimpfit.Circuit { return p.circuit }

// Process trims the spectrum and fits it with the configured method.
func (p *EISProcessor) Process(data goimpfit.Spectrum) (*goimpfit.Result, error) {
	if p.cfg.CutLow > 0 || p.cfg.CutHigh > 0 {
		var err error
		if data, err = data.Trim(int(p.cfg.CutLow), int(p.cfg.CutHigh)); err != nil {
			return nil, err
		}
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}

	if !p.cfg.Quiet {
		log.Printf("Processing %d frequency points, circuit %s", data.Len(), p.circuit.Code())
	}

	if p.cfg.OptimMethod == "all" {
		return p.runAllOptimizationMethods(data)
	}
	return p.runSingleOptimizationMethod(data, goimpfit.Method(p.cfg.OptimMethod))
}

func (p *EISProcessor) runSingleOptimizationMethod(data goimpfit.Spectrum, method goimpfit.Method) (*goimpfit.Result, error) {
	tol := p.cfg.Tolerances()
	opts := goimpfit.Options{
		Method:     method,
		Tolerances: &tol,
		Weighting:  p.cfg.Weighting(),
		SkipGuess:  p.cfg.SkipGuess,
	}

	startTime := time.Now()
	res, err := goimpfit.Fit(p.circuit, data, p.cfg.InitValues, opts)
	duration := time.Since(startTime)

	if err != nil {
		log.Printf("EIS processing FAILED - Method: %s, Error: %v", method, err)
		return nil, err
	}

	if !p.cfg.Quiet {
		log.Printf("Method: %s, ChiSq=%.12e, Params=%v, StdErr=%v, Status=%s", method, res.ChiSq, res.Params, res.StdErrors, res.Status)
		log.Printf("Processing time: %v", duration)
	}
	return res, nil
}

// runAllOptimizationMethods fits with every method and keeps the lowest SSR.
func (p *EISProcessor) runAllOptimizationMethods(data goimpfit.Spectrum) (*goimpfit.Result, error) {
	var (
		best    *goimpfit.Result
		bestSSR = math.Inf(1)
		errs    []error
	)

	log.Printf("Running all optimization methods for comparison...")

	for _, method := range goimpfit.Methods {
		res, err := p.runSingleOptimizationMethod(data, method)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.SSR < bestSSR {
			best, bestSSR = res, res.SSR
			log.Printf("New best method: %s with SSR: %.12e", method, res.SSR)
		}
	}

	if best == nil {
		return nil, fmt.Errorf("all optimization methods failed: %w", errors.Join(errs...))
	}
	log.Printf("Best overall result: method=%s chi-square=%.12e", best.Method, best.ChiSq)
	return best, nil
}

// Report builds the serialisable report with the per-element breakdown.
func (p *EISProcessor) Report(id string, res *goimpfit.Result, took time.Duration) (models.FitReport, error) {
	elements, err := p.circuit.Breakdown(res.Params, res.Freqs)
	if err != nil {
		return models.FitReport{}, err
	}
	return models.NewFitReport(id, res, elements, took), nil
}

// ProcessorFunc adapts Process to the worker pool.
func (p *EISProcessor) ProcessorFunc() worker.ProcessorFunc {
	return func(item models.WorkItem) (*goimpfit.Result, error) {
		res, err := p.Process(item.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", item.Source, err)
		}
		return res, nil
	}
}
