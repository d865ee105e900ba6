package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(4, 16)
	defer p.Close()

	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		require.True(t, p.Submit(func(ctx context.Context) {
			defer wg.Done()
			n.Add(1)
		}))
	}
	wg.Wait()
	assert.EqualValues(t, 16, n.Load())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2, 32)
	defer p.Close()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		p.Submit(func(ctx context.Context) {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestSubmitRejectsWhenFull(t *testing.T) {
	p := NewPool(1, 1)
	defer p.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.Submit(func(ctx context.Context) {
		close(started)
		<-block
	}))
	<-started

	assert.True(t, p.Submit(func(ctx context.Context) {}))
	assert.False(t, p.Submit(func(ctx context.Context) {}))
	assert.Equal(t, 1, p.Queued())
	close(block)
}

func TestCloseCancelsAndRejects(t *testing.T) {
	p := NewPool(1, 1)

	cancelled := make(chan struct{})
	started := make(chan struct{})
	p.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	<-started

	p.Close()
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("running task was not cancelled")
	}
	assert.False(t, p.Submit(func(ctx context.Context) {}))
	p.Close()
}
