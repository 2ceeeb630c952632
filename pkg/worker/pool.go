package worker

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/kacperjurak/goimpfit"
	"github.com/kacperjurak/goimpfit/pkg/models"
	"github.com/kacperjurak/goimpfit/pkg/profiling"
)

// ProcessorFunc fits one spectrum. It must not share mutable state between
// calls: the pool runs several at once.
type ProcessorFunc func(item models.WorkItem) (*goimpfit.Result, error)

// Options holds configuration for creating a new worker pool
type Options struct {
	Workers   int
	Processor ProcessorFunc
	// Profile logs time and allocation of every fit.
	Profile bool
}

// Pool fits batches of spectra with a bounded number of goroutines.
type Pool struct {
	workers   int
	processor ProcessorFunc
	profile   bool
}

// New creates a new worker pool with specified configuration
func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	return &Pool{
		workers:   opts.Workers,
		processor: opts.Processor,
		profile:   opts.Profile,
	}
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int { return p.workers }

// Run processes every item and returns results in item order. A failed fit is
// recorded in its WorkResult and does not stop the batch; only cancellation
// of ctx does, in which case unprocessed items carry ctx.Err().
func (p *Pool) Run(ctx context.Context, items []models.WorkItem) ([]models.WorkResult, error) {
	results := make([]models.WorkResult, len(items))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	log.Printf("🔧 Worker pool processing %d spectra with %d workers", len(items), p.workers)

	for i, item := range items {
		results[i] = models.WorkResult{ID: item.ID, RequestID: item.RequestID, Source: item.Source}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return err
			}
			results[i] = p.processJob(i%p.workers, item)
			return nil
		})
	}

	err := g.Wait()
	return results, err
}

// processJob runs the processor for one item and records its timing.
func (p *Pool) processJob(slot int, job models.WorkItem) models.WorkResult {
	probe := profiling.NewFitProbe(job.Source)
	res, err := p.processor(job)
	metrics := probe.Finish()
	if p.profile {
		metrics.Log(slot)
	}

	return models.WorkResult{
		ID:             job.ID,
		RequestID:      job.RequestID,
		Source:         job.Source,
		Result:         res,
		Err:            err,
		ProcessingTime: metrics.Duration,
	}
}

// Timings summarises results for the timing CSV.
func Timings(results []models.WorkResult, code string) []models.SpectrumTiming {
	timings := make([]models.SpectrumTiming, len(results))
	for i, r := range results {
		timings[i] = models.SpectrumTiming{
			Iteration:      r.ID,
			ProcessingTime: r.ProcessingTime,
			Success:        r.Success(),
			CircuitCode:    code,
		}
		if r.Result != nil {
			timings[i].ChiSquare = r.Result.ChiSq
		}
	}
	return timings
}
