package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueCoalescesToLastJob(t *testing.T) {
	q := New(time.Hour, nil, nil)

	var mu sync.Mutex
	var ran []int
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, q.Enqueue("app", func(context.Context) {
			mu.Lock()
			ran = append(ran, i)
			mu.Unlock()
		}))
	}
	assert.Equal(t, 1, q.Pending())

	q.Close()
	assert.Equal(t, []int{4}, ran)
	assert.Equal(t, 0, q.Pending())
}

func TestDebounceRunsAfterQuietPeriod(t *testing.T) {
	q := New(10*time.Millisecond, nil, nil)
	defer q.Close()

	done := make(chan struct{})
	require.NoError(t, q.Enqueue("app", func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run after debounce")
	}
}

func TestSameKeyNeverOverlaps(t *testing.T) {
	q := New(time.Millisecond, nil, nil)

	var active, maxActive int32
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	job := func(context.Context) {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		started <- struct{}{}
		<-release
		atomic.AddInt32(&active, -1)
	}

	require.NoError(t, q.Enqueue("app", job))
	<-started
	require.NoError(t, q.Enqueue("app", job))

	// The second job must wait for the first.
	select {
	case <-started:
		t.Fatal("second job started while first was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	q.Close()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
	assert.Len(t, started, 1)
}

func TestDifferentKeysRunConcurrently(t *testing.T) {
	q := New(time.Millisecond, nil, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	both := make(chan struct{})
	go func() {
		wg.Wait()
		close(both)
	}()

	job := func(context.Context) {
		wg.Done()
		select {
		case <-both:
		case <-time.After(2 * time.Second):
		}
	}
	require.NoError(t, q.Enqueue("a", job))
	require.NoError(t, q.Enqueue("b", job))

	select {
	case <-both:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs for different keys did not overlap")
	}
	q.Close()
}

func TestEnqueueAfterClose(t *testing.T) {
	q := New(time.Millisecond, nil, nil)
	q.Close()
	assert.ErrorIs(t, q.Enqueue("app", func(context.Context) {}), ErrClosed)
}

func TestPanickingJobDoesNotWedgeKey(t *testing.T) {
	q := New(time.Hour, nil, nil)
	require.NoError(t, q.Enqueue("app", func(context.Context) { panic("boom") }))
	q.Close()

	q = New(time.Millisecond, nil, nil)
	var ran atomic.Bool
	require.NoError(t, q.Enqueue("app", func(context.Context) { panic("boom") }))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue("app", func(context.Context) { ran.Store(true) }))
	q.Close()
	assert.True(t, ran.Load())
}
