package workqueue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialKeepsOrder(t *testing.T) {
	q := NewSequential()
	defer q.Close()

	var (
		mu  sync.Mutex
		got []int
		wg  sync.WaitGroup
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		require.True(t, q.Enqueue(func() {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	wg.Wait()

	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.Len(t, got, 100)
}

func TestSequentialRunsOneAtATime(t *testing.T) {
	q := NewSequential()
	defer q.Close()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		q.Enqueue(func() {
			defer wg.Done()
			n := running.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestSequentialSurvivesPanic(t *testing.T) {
	q := NewSequential()
	defer q.Close()

	panics := make(chan any, 1)
	q.OnPanic = func(v any) { panics <- v }

	done := make(chan struct{})
	q.Enqueue(func() { panic("boom") })
	q.Enqueue(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queue stopped after a panic")
	}
	assert.Equal(t, "boom", <-panics)
}

func TestSequentialCloseWaitsAndRejects(t *testing.T) {
	q := NewSequential()

	started := make(chan struct{})
	release := make(chan struct{})
	var finished, dropped atomic.Bool
	q.Enqueue(func() {
		close(started)
		<-release
		finished.Store(true)
	})
	q.Enqueue(func() { dropped.Store(true) })
	<-started

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while an item was running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-closed

	assert.True(t, finished.Load())
	assert.False(t, dropped.Load(), "pending work must be dropped on Close")
	assert.False(t, q.Enqueue(func() {}))
	q.Close()
}
