package models

import (
	"math"
	"time"

	"github.com/kacperjurak/goimpfit"
)

// DataPoint is one (frequency, Re, Im) sample.
type DataPoint struct {
	Frequency float64 `json:"frequency"`
	Real      float64 `json:"real"`
	Imag      float64 `json:"imag"`
}

// Parameter is one fitted value with its standard error.
type Parameter struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Error float64 `json:"error"`
}

// ElementImpedance represents impedance data for a circuit element
type ElementImpedance struct {
	Name       string      `json:"name"`
	Params     []float64   `json:"params"`
	Impedances []DataPoint `json:"impedances"`
}

// FitReport is the serialisable outcome of a fit.
type FitReport struct {
	ID             string             `json:"id"`
	Source         string             `json:"source,omitempty"`
	Circuit        string             `json:"circuit"`
	Method         string             `json:"method"`
	Status         string             `json:"status"`
	Parameters     []Parameter        `json:"parameters"`
	Initial        []float64          `json:"initial"`
	ChiSquare      float64            `json:"chi_square"`
	SSR            float64            `json:"ssr"`
	FuncEvals      int                `json:"func_evals"`
	Fit            []DataPoint        `json:"fit"`
	Elements       []ElementImpedance `json:"elements,omitempty"`
	ProcessingTime time.Duration      `json:"processing_time_ns"`
}

// WorkItem represents a single spectrum to fit
type WorkItem struct {
	ID        int
	RequestID string
	Source    string
	Data      goimpfit.Spectrum
}

// WorkResult contains the result of fitting one WorkItem
type WorkResult struct {
	ID             int
	RequestID      string
	Source         string
	Result         *goimpfit.Result
	Err            error
	ProcessingTime time.Duration
}

// Success reports whether the fit produced parameters.
func (r WorkResult) Success() bool { return r.Err == nil && r.Result != nil }

// SpectrumTiming tracks performance metrics for individual spectrum processing
type SpectrumTiming struct {
	Iteration      int           `json:"iteration"`
	ProcessingTime time.Duration `json:"processing_time_ns"`
	ChiSquare      float64       `json:"chi_square"`
	Success        bool          `json:"success"`
	CircuitCode    string        `json:"circuit_code"`
}

// NewFitReport flattens a fit result and its element breakdown.
func NewFitReport(id string, res *goimpfit.Result, elements []goimpfit.ElementContribution, took time.Duration) FitReport {
	report := FitReport{
		ID:             id,
		Circuit:        res.Code,
		Method:         string(res.Method),
		Status:         res.Status,
		Parameters:     make([]Parameter, len(res.Params)),
		Initial:        res.Initial,
		ChiSquare:      sanitizeFloat(res.ChiSq),
		SSR:            sanitizeFloat(res.SSR),
		FuncEvals:      res.FuncEvals,
		Fit:            Points(res.Freqs, res.Fitted),
		ProcessingTime: took,
	}
	for i, v := range res.Params {
		report.Parameters[i] = Parameter{Name: res.Names[i], Value: v, Error: res.StdErrors[i]}
	}
	for _, e := range elements {
		report.Elements = append(report.Elements, ElementImpedance{
			Name:       e.Name,
			Params:     e.Params,
			Impedances: Points(res.Freqs, e.Impedance),
		})
	}
	return report
}

// Points pairs frequencies with complex samples.
func Points(freqs []float64, z []complex128) []DataPoint {
	pts := make([]DataPoint, len(z))
	for i, v := range z {
		pts[i] = DataPoint{Frequency: freqs[i], Real: sanitizeFloat(real(v)), Imag: sanitizeFloat(imag(v))}
	}
	return pts
}

// sanitizeFloat cleans float64 values for JSON compatibility
func sanitizeFloat(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0.0
	}
	return value
}
