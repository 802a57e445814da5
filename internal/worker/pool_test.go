package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	counter *atomic.Int32
	delay   time.Duration
	err     error
}

type countingResult struct {
	err error
}

func (r *countingResult) GetError() error { return r.err }

func (j *countingJob) Execute(ctx context.Context) Result {
	if j.delay > 0 {
		select {
		case <-ctx.Done():
			return &countingResult{err: ctx.Err()}
		case <-time.After(j.delay):
		}
	}
	j.counter.Add(1)
	return &countingResult{err: j.err}
}

func TestPoolExecutesAllJobs(t *testing.T) {
	var counter atomic.Int32

	pool := NewPool(3)
	pool.Start()
	for i := 0; i < 10; i++ {
		pool.Submit(&countingJob{counter: &counter})
	}

	results := pool.Wait()

	assert.Equal(t, int32(10), counter.Load())
	assert.Len(t, results, 10)
	for _, res := range results {
		assert.NoError(t, res.GetError())
	}
}

func TestPoolCollectsErrors(t *testing.T) {
	var counter atomic.Int32

	pool := NewPool(2)
	pool.Start()
	pool.Submit(&countingJob{counter: &counter})
	pool.Submit(&countingJob{counter: &counter, err: errors.New("boom")})

	results := pool.Wait()
	require.Len(t, results, 2)

	failed := 0
	for _, res := range results {
		if res.GetError() != nil {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestPoolShutdownStopsWorkers(t *testing.T) {
	var counter atomic.Int32

	pool := NewPool(1)
	pool.Start()
	pool.Submit(&countingJob{counter: &counter, delay: 10 * time.Second})

	done := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return")
	}
	assert.Equal(t, int32(0), counter.Load(), "cancelled job must not complete")
}

func TestPoolDefaultsToOneWorker(t *testing.T) {
	pool := NewPool(0)
	assert.Equal(t, 1, pool.workers)
}
