package lakestore

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProcessingQueueDrainsAndTerminates(t *testing.T) {
	q := newProcessingQueue[int]()
	q.add(1)

	var processed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, ok := q.poll()
				if !ok {
					return
				}
				processed.Add(1)
				// each item under 100 fans out two more
				if item < 100 {
					q.add(item * 2)
					q.add(item*2 + 1)
				}
				q.unregister()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("workers did not terminate")
	}

	// items form the binary tree rooted at 1 whose internal nodes are
	// < 100: nodes 1..199
	assert.Equal(t, int64(199), processed.Load())
}

func TestProcessingQueueEmptyTerminatesImmediately(t *testing.T) {
	q := newProcessingQueue[string]()
	results := make(chan bool, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, ok := q.poll()
			results <- ok
		}()
	}
	for i := 0; i < 4; i++ {
		select {
		case ok := <-results:
			assert.False(t, ok)
		case <-time.After(5 * time.Second):
			t.Fatal("poll on an empty idle queue must return immediately")
		}
	}
}

func TestProcessingQueueLastWorkerWakesWaiters(t *testing.T) {
	q := newProcessingQueue[int]()
	q.add(42)

	// One worker holds the item while others block in poll; when the
	// holder unregisters, the blocked workers must all wake and exit.
	item, ok := q.poll()
	assert.True(t, ok)
	assert.Equal(t, 42, item)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.poll()
			assert.False(t, ok)
		}()
	}

	time.Sleep(50 * time.Millisecond) // let the workers block
	q.unregister()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("blocked pollers were not woken by the last unregister")
	}
}
