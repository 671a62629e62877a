package readahead

import (
	"sync"
	"time"

	"github.com/openlake/lakestore/internal/logger"
)

// RemoteReader is the view the prefetcher has of a file reader. The manager
// references readers only through this interface and never outlives its
// use of a slab: if the owning reader is closed, a worker still completes
// the read, the buffer sits in the completed list, and eviction reclaims
// the slab.
type RemoteReader interface {
	// ReadRemote reads from the file at the given offset into p, going
	// straight to the server. Implementations use their speculative
	// (no-retry) read path here: a prefetch that fails is simply dropped,
	// and the reader's own demand read picks up the slack.
	ReadRemote(offset int64, p []byte) (int, error)

	// Path identifies the file for logging.
	Path() string
}

const (
	// DefaultBufferCount is the number of slabs in the shared pool.
	DefaultBufferCount = 16
	// DefaultBlockSize is the size of each slab.
	DefaultBlockSize = 4 * 1024 * 1024
	// DefaultWorkerCount is the number of prefetch workers.
	DefaultWorkerCount = 8

	// thresholdAge is how old an unconsumed completed buffer must be
	// before it becomes eligible for eviction.
	thresholdAge = 3 * time.Second
)

// Manager owns the slab pool, the worker pool and the three buffer lists.
// One mutex covers the free stack, all three lists and the condition
// variable that wakes workers; per-buffer completion is signaled with a
// separate channel so no one waits while holding the lock.
type Manager struct {
	mu   sync.Mutex
	cond *sync.Cond

	slabs      [][]byte
	freeList   []int // indices into slabs that are available
	queue      []*readBuffer
	inProgress []*readBuffer
	completed  []*readBuffer

	blockSize int
}

var (
	defaultManager *Manager
	defaultOnce    sync.Once
)

// Default returns the process-wide manager, constructing it with the
// default pool sizes on first use.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = NewManager(DefaultBufferCount, DefaultBlockSize, DefaultWorkerCount)
	})
	return defaultManager
}

// NewManager constructs a manager with its own slab and worker pools. The
// workers are barrier-initialized: none picks up work until construction is
// complete.
func NewManager(bufferCount, blockSize, workerCount int) *Manager {
	m := &Manager{
		slabs:     make([][]byte, bufferCount),
		freeList:  make([]int, 0, bufferCount),
		blockSize: blockSize,
	}
	m.cond = sync.NewCond(&m.mu)
	for i := range m.slabs {
		// slabs are allocated once and recycled; they never shrink back
		m.slabs[i] = make([]byte, blockSize)
		m.freeList = append(m.freeList, i)
	}

	unleash := make(chan struct{})
	for i := 0; i < workerCount; i++ {
		go m.worker(unleash)
	}
	close(unleash)
	return m
}

// BlockSize returns the slab size used by this manager.
func (m *Manager) BlockSize() int {
	return m.blockSize
}

// QueueReadAhead queues a read-ahead for the given reader and offset. If an
// overlapping request is already tracked in any list, or no slab can be
// obtained even after attempting eviction, the request is silently skipped:
// read-ahead is best effort.
func (m *Manager) QueueReadAhead(reader RemoteReader, offset int64, length int) {
	if length <= 0 {
		return
	}
	if length > m.blockSize {
		length = m.blockSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isAlreadyQueued(reader, offset) {
		return
	}
	if len(m.freeList) == 0 && !m.tryEvict() {
		return
	}

	slabIndex := m.freeList[len(m.freeList)-1]
	m.freeList = m.freeList[:len(m.freeList)-1]

	buf := &readBuffer{
		reader:          reader,
		offset:          offset,
		requestedLength: length,
		data:            m.slabs[slabIndex],
		slabIndex:       slabIndex,
		status:          StatusNotAvailable,
		done:            make(chan struct{}),
	}
	m.queue = append(m.queue, buf)
	m.cond.Broadcast()

	if logger.TraceEnabled() {
		logger.Trace("queued readahead for %s offset %d length %d slab %d",
			reader.Path(), offset, length, slabIndex)
	}
}

// GetBlock copies any bytes already available for (reader, position) into
// p, saving a remote read. If a matching buffer is still being read, the
// call blocks on that buffer's completion signal. If the matching request
// is still sitting unstarted in the queue, it is canceled and 0 is
// returned: the caller's own synchronous read will be faster than waiting
// behind the queue for an indeterminate time. Returns the number of bytes
// copied; 0 signals a cache miss.
func (m *Manager) GetBlock(reader RemoteReader, position int64, p []byte) int {
	// Scoped so the two critical sections share no state; the wait happens
	// between them, off the lock.
	{
		m.mu.Lock()
		m.cancelFromQueue(reader, position)
		inProgress := getFromList(m.inProgress, reader, position)
		m.mu.Unlock()

		if inProgress != nil {
			// Safe to wait outside the lock: a buffer leaves inProgress
			// only in DoneReading, which closes done after the removal.
			<-inProgress.done
		}
	}

	m.mu.Lock()
	n := m.copyFromCompleted(reader, position, p)
	m.mu.Unlock()

	if n > 0 && logger.TraceEnabled() {
		logger.Trace("readahead cache hit for %s position %d length %d",
			reader.Path(), position, n)
	}
	return n
}

// isAlreadyQueued reports whether any tracked buffer overlaps the
// requested offset, in any of the three lists. The overlap test accepts a
// buffer whose requested range covers the offset even while it is still
// being read; this deliberately doubles as the "already queued" check
// without distinguishing partial overlap from exact match.
func (m *Manager) isAlreadyQueued(reader RemoteReader, offset int64) bool {
	return getFromList(m.queue, reader, offset) != nil ||
		getFromList(m.inProgress, reader, offset) != nil ||
		getFromList(m.completed, reader, offset) != nil
}

func getFromList(list []*readBuffer, reader RemoteReader, offset int64) *readBuffer {
	for _, buf := range list {
		if buf.reader != reader {
			continue
		}
		if buf.status == StatusAvailable {
			if offset >= buf.offset && offset < buf.offset+int64(buf.length) {
				return buf
			}
		} else if offset >= buf.offset && offset < buf.offset+int64(buf.requestedLength) {
			return buf
		}
	}
	return nil
}

func removeFromList(list []*readBuffer, buf *readBuffer) []*readBuffer {
	for i, b := range list {
		if b == buf {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// cancelFromQueue removes a matching not-yet-started request from the
// queue and returns its slab to the free stack. Caller holds the lock.
func (m *Manager) cancelFromQueue(reader RemoteReader, offset int64) {
	buf := getFromList(m.queue, reader, offset)
	if buf == nil {
		return
	}
	m.queue = removeFromList(m.queue, buf)
	m.freeList = append(m.freeList, buf.slabIndex)
	m.cond.Broadcast()
}

// copyFromCompleted copies up to len(p) bytes from a completed buffer
// covering position, updating the consumption flags used by eviction.
// Caller holds the lock.
func (m *Manager) copyFromCompleted(reader RemoteReader, position int64, p []byte) int {
	buf := getFromList(m.completed, reader, position)
	if buf == nil || position >= buf.offset+int64(buf.length) {
		return 0
	}
	cursor := int(position - buf.offset)
	n := copy(p, buf.data[cursor:buf.length])
	if cursor == 0 {
		buf.firstByteConsumed = true
	}
	if cursor+n == buf.length {
		buf.lastByteConsumed = true
	}
	buf.anyByteConsumed = true
	return n
}

// tryEvict reclaims one slab from the completed list, if any buffer is
// eligible. Fully-consumed buffers go first (approximated as first and last
// byte consumed), then partially-consumed ones, then the oldest unconsumed
// buffer provided it is older than the age threshold. Caller holds the
// lock.
func (m *Manager) tryEvict() bool {
	if len(m.completed) == 0 {
		return false
	}

	for _, buf := range m.completed {
		if buf.firstByteConsumed && buf.lastByteConsumed {
			return m.evict(buf)
		}
	}

	for _, buf := range m.completed {
		if buf.anyByteConsumed {
			return m.evict(buf)
		}
	}

	var oldest *readBuffer
	for _, buf := range m.completed {
		if oldest == nil || buf.birthday.Before(oldest.birthday) {
			oldest = buf
		}
	}
	if oldest != nil && time.Since(oldest.birthday) > thresholdAge {
		return m.evict(oldest)
	}

	return false
}

func (m *Manager) evict(buf *readBuffer) bool {
	m.completed = removeFromList(m.completed, buf)
	m.freeList = append(m.freeList, buf.slabIndex)
	if logger.TraceEnabled() {
		logger.Trace("evicted slab %d (file %s offset %d length %d)",
			buf.slabIndex, buf.reader.Path(), buf.offset, buf.length)
	}
	return true
}

// getNextBlockToRead blocks until the queue is non-empty, then moves the
// front of the queue to the in-progress list and returns it.
func (m *Manager) getNextBlockToRead() *readBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queue) == 0 {
		m.cond.Wait()
	}
	buf := m.queue[0]
	m.queue = m.queue[1:]
	buf.status = StatusReading
	m.inProgress = append(m.inProgress, buf)
	return buf
}

// doneReading posts a worker's result: on success the buffer moves to the
// completed list, otherwise its slab goes straight back to the free stack.
// The completion signal fires outside the lock, after the list updates are
// published.
func (m *Manager) doneReading(buf *readBuffer, status Status, bytesRead int) {
	m.mu.Lock()
	m.inProgress = removeFromList(m.inProgress, buf)
	if status == StatusAvailable && bytesRead > 0 {
		buf.status = StatusAvailable
		buf.birthday = time.Now()
		buf.length = bytesRead
		m.completed = append(m.completed, buf)
	} else {
		buf.status = StatusFailed
		m.freeList = append(m.freeList, buf.slabIndex)
	}
	m.mu.Unlock()

	close(buf.done)
}

// worker loops forever: take a block, read it from the remote file, post
// the result. Workers block only on the queue condition variable and on
// the remote read itself.
func (m *Manager) worker(unleash <-chan struct{}) {
	<-unleash
	for {
		buf := m.getNextBlockToRead()
		n, err := buf.reader.ReadRemote(buf.offset, buf.data[:buf.requestedLength])
		if err != nil {
			logger.Debug("readahead for %s offset %d failed: %v",
				buf.reader.Path(), buf.offset, err)
			m.doneReading(buf, StatusFailed, 0)
			continue
		}
		m.doneReading(buf, StatusAvailable, n)
	}
}
