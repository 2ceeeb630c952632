package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kacperjurak/goimpfit"
	"github.com/kacperjurak/goimpfit/pkg/models"
)

func items(n int) []models.WorkItem {
	out := make([]models.WorkItem, n)
	for i := range out {
		out[i] = models.WorkItem{ID: i, RequestID: "req", Source: string(rune('a' + i))}
	}
	return out
}

func TestPool(t *testing.T) {
	t.Run("should default the worker count", func(t *testing.T) {
		assert.Equal(t, 5, New(Options{}).Workers())
		assert.Equal(t, 2, New(Options{Workers: 2}).Workers())
	})

	t.Run("should return results in item order", func(t *testing.T) {
		pool := New(Options{Workers: 3, Processor: func(item models.WorkItem) (*goimpfit.Result, error) {
			time.Sleep(time.Duration(10-item.ID) * time.Millisecond)
			return &goimpfit.Result{ChiSq: float64(item.ID)}, nil
		}})

		results, err := pool.Run(context.Background(), items(10))
		require.NoError(t, err)
		require.Len(t, results, 10)
		for i, r := range results {
			assert.Equal(t, i, r.ID)
			assert.Equal(t, string(rune('a'+i)), r.Source)
			assert.True(t, r.Success())
			assert.Equal(t, float64(i), r.Result.ChiSq)
			assert.Positive(t, r.ProcessingTime)
		}
	})

	t.Run("should record failures without stopping the batch", func(t *testing.T) {
		boom := errors.New("boom")
		pool := New(Options{Workers: 2, Profile: true, Processor: func(item models.WorkItem) (*goimpfit.Result, error) {
			if item.ID == 1 {
				return nil, boom
			}
			return &goimpfit.Result{}, nil
		}})

		results, err := pool.Run(context.Background(), items(4))
		require.NoError(t, err)
		assert.ErrorIs(t, results[1].Err, boom)
		assert.False(t, results[1].Success())
		assert.True(t, results[3].Success())

		timings := Timings(results, "R1")
		assert.False(t, timings[1].Success)
		assert.True(t, timings[0].Success)
		assert.Equal(t, "R1", timings[2].CircuitCode)
	})

	t.Run("should bound concurrency", func(t *testing.T) {
		var running, peak atomic.Int32
		pool := New(Options{Workers: 2, Processor: func(models.WorkItem) (*goimpfit.Result, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return &goimpfit.Result{}, nil
		}})

		_, err := pool.Run(context.Background(), items(8))
		require.NoError(t, err)
		assert.LessOrEqual(t, peak.Load(), int32(2))
	})

	t.Run("should stop on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		var calls atomic.Int32
		pool := New(Options{Workers: 1, Processor: func(models.WorkItem) (*goimpfit.Result, error) {
			calls.Add(1)
			return &goimpfit.Result{}, nil
		}})

		results, err := pool.Run(ctx, items(3))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, calls.Load())
		for _, r := range results {
			assert.ErrorIs(t, r.Err, context.Canceled)
		}
	})
}
