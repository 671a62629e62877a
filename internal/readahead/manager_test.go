package readahead

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves a deterministic byte pattern and lets tests gate when
// remote reads complete.
type fakeReader struct {
	name    string
	length  int64
	mu      sync.Mutex
	reads   int
	failAll bool
	gate    chan struct{} // if non-nil, reads block until the gate closes
}

func (f *fakeReader) ReadRemote(offset int64, p []byte) (int, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()
	if f.failAll {
		return 0, errors.New("remote read failed")
	}
	if offset >= f.length {
		return 0, nil
	}
	n := len(p)
	if remaining := f.length - offset; int64(n) > remaining {
		n = int(remaining)
	}
	for i := 0; i < n; i++ {
		p[i] = patternByte(offset + int64(i))
	}
	return n, nil
}

func (f *fakeReader) Path() string { return f.name }

func (f *fakeReader) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func patternByte(offset int64) byte {
	return byte(offset % 251)
}

// accounted returns the total number of slabs tracked across the free
// stack and the three lists.
func accounted(m *Manager) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.freeList) + len(m.queue) + len(m.inProgress) + len(m.completed)
}

func waitForCompleted(t *testing.T, m *Manager, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		n := len(m.completed)
		m.mu.Unlock()
		if n >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d completed buffers", want)
}

func TestGetBlockAfterReadAhead(t *testing.T) {
	m := NewManager(4, 1024, 2)
	r := &fakeReader{name: "/f1", length: 10 * 1024}

	m.QueueReadAhead(r, 0, 1024)
	waitForCompleted(t, m, 1)

	p := make([]byte, 512)
	n := m.GetBlock(r, 256, p)
	require.Equal(t, 512, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, patternByte(256+int64(i)), p[i], "byte %d", i)
	}

	assert.Equal(t, 4, accounted(m), "slab accounting invariant")
}

func TestGetBlockMissReturnsZero(t *testing.T) {
	m := NewManager(4, 1024, 2)
	r := &fakeReader{name: "/f2", length: 10 * 1024}

	p := make([]byte, 100)
	assert.Equal(t, 0, m.GetBlock(r, 0, p))
}

func TestGetBlockWaitsForInProgress(t *testing.T) {
	gate := make(chan struct{})
	m := NewManager(4, 1024, 1)
	r := &fakeReader{name: "/f3", length: 10 * 1024, gate: gate}

	m.QueueReadAhead(r, 0, 1024)

	// Wait until the single worker has picked the request up.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		inProgress := len(m.inProgress)
		m.mu.Unlock()
		if inProgress == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	results := make(chan int, 1)
	go func() {
		p := make([]byte, 1024)
		results <- m.GetBlock(r, 0, p)
	}()

	select {
	case <-results:
		t.Fatal("GetBlock should block while the read is in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case n := <-results:
		assert.Equal(t, 1024, n)
	case <-time.After(2 * time.Second):
		t.Fatal("GetBlock did not return after the read completed")
	}
}

func TestGetBlockCancelsQueuedRequest(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	m := NewManager(4, 1024, 1)
	blocker := &fakeReader{name: "/blocker", length: 10 * 1024, gate: gate}
	r := &fakeReader{name: "/f4", length: 10 * 1024}

	// Occupy the single worker, then queue a request that stays queued.
	m.QueueReadAhead(blocker, 0, 1024)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		busy := len(m.inProgress) == 1
		m.mu.Unlock()
		if busy {
			break
		}
		time.Sleep(time.Millisecond)
	}
	m.QueueReadAhead(r, 0, 1024)

	p := make([]byte, 1024)
	n := m.GetBlock(r, 0, p)
	assert.Equal(t, 0, n, "queued request is canceled, caller reads itself")
	assert.Equal(t, 0, r.readCount(), "canceled request never reached the reader")

	m.mu.Lock()
	queued := len(m.queue)
	m.mu.Unlock()
	assert.Equal(t, 0, queued)
}

func TestOverlappingQueueIsIgnored(t *testing.T) {
	m := NewManager(4, 1024, 2)
	r := &fakeReader{name: "/f5", length: 10 * 1024}

	m.QueueReadAhead(r, 0, 1024)
	waitForCompleted(t, m, 1)
	// Overlaps the completed buffer: must not consume another slab.
	m.QueueReadAhead(r, 512, 1024)

	m.mu.Lock()
	free, completed := len(m.freeList), len(m.completed)
	m.mu.Unlock()
	assert.Equal(t, 3, free)
	assert.Equal(t, 1, completed)
}

func TestEvictionPrefersConsumedBuffers(t *testing.T) {
	m := NewManager(2, 1024, 2)
	r := &fakeReader{name: "/f6", length: 100 * 1024}

	m.QueueReadAhead(r, 0, 1024)
	m.QueueReadAhead(r, 1024, 1024)
	waitForCompleted(t, m, 2)

	// Fully consume the first buffer.
	p := make([]byte, 1024)
	require.Equal(t, 1024, m.GetBlock(r, 0, p))

	// Pool is exhausted; this queue must evict the consumed buffer.
	m.QueueReadAhead(r, 4096, 1024)
	waitForCompleted(t, m, 2)

	m.mu.Lock()
	offsets := map[int64]bool{}
	for _, buf := range m.completed {
		offsets[buf.offset] = true
	}
	m.mu.Unlock()
	assert.False(t, offsets[0], "consumed buffer should have been evicted")
	assert.True(t, offsets[1024])
	assert.True(t, offsets[4096])
	assert.Equal(t, 2, accounted(m))
}

func TestEvictionSkipsYoungUnconsumedBuffers(t *testing.T) {
	m := NewManager(1, 1024, 1)
	r := &fakeReader{name: "/f7", length: 100 * 1024}

	m.QueueReadAhead(r, 0, 1024)
	waitForCompleted(t, m, 1)

	// The only buffer is young and unconsumed: nothing can be evicted, so
	// the new request is silently skipped.
	m.QueueReadAhead(r, 8192, 1024)
	m.mu.Lock()
	queued := len(m.queue)
	completed := len(m.completed)
	m.mu.Unlock()
	assert.Equal(t, 0, queued)
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, accounted(m))
}

func TestFailedReadReturnsSlab(t *testing.T) {
	m := NewManager(2, 1024, 1)
	r := &fakeReader{name: "/f8", length: 10 * 1024, failAll: true}

	m.QueueReadAhead(r, 0, 1024)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		free := len(m.freeList)
		m.mu.Unlock()
		if free == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	m.mu.Lock()
	free := len(m.freeList)
	m.mu.Unlock()
	assert.Equal(t, 2, free, "failed read returns its slab to the pool")

	p := make([]byte, 100)
	assert.Equal(t, 0, m.GetBlock(r, 0, p), "failed read is a cache miss")
}

func TestAccountingInvariantUnderLoad(t *testing.T) {
	m := NewManager(8, 512, 4)
	readers := make([]*fakeReader, 4)
	for i := range readers {
		readers[i] = &fakeReader{name: fmt.Sprintf("/load%d", i), length: 1 << 20}
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(r *fakeReader) {
			defer wg.Done()
			p := make([]byte, 512)
			for off := int64(0); off < 64*512; off += 512 {
				m.QueueReadAhead(r, off, 512)
				m.GetBlock(r, off, p)
			}
		}(readers[i])
	}
	wg.Wait()

	assert.Equal(t, 8, accounted(m))
}
