package profiling

import (
	"log"
	"runtime"
	"time"
)

// FitProbe measures wall time and allocation of a single fit.
type FitProbe struct {
	startTime   time.Time
	startMemory uint64
	name        string
}

// Metrics is what a probe measured.
type Metrics struct {
	Name       string
	Duration   time.Duration
	TotalAlloc uint64
}

// NewFitProbe starts measuring.
func NewFitProbe(name string) *FitProbe {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &FitProbe{
		startTime:   time.Now(),
		startMemory: m.TotalAlloc,
		name:        name,
	}
}

// Finish stops measuring. TotalAlloc is process wide, so concurrent fits
// inflate each other's figure.
func (fp *FitProbe) Finish() Metrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Metrics{
		Name:       fp.name,
		Duration:   time.Since(fp.startTime),
		TotalAlloc: m.TotalAlloc - fp.startMemory,
	}
}

// Log prints the metrics in one line.
func (m Metrics) Log(workerID int) {
	log.Printf("🔍 Worker[%d] %s: %.3fms, allocated: %.2fMB, goroutines: %d",
		workerID, m.Name, float64(m.Duration.Nanoseconds())/1000000.0, bToMb(m.TotalAlloc), runtime.NumGoroutine())
}

// LogMemStats logs current memory statistics
func LogMemStats() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	log.Printf("📊 Memory: Alloc=%.2fMB, TotalAlloc=%.2fMB, Sys=%.2fMB, GC=%d, Goroutines=%d",
		bToMb(m.Alloc), bToMb(m.TotalAlloc), bToMb(m.Sys), m.NumGC, runtime.NumGoroutine())
}
