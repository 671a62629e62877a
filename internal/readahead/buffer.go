// Package readahead implements the process-wide prefetch subsystem shared
// by all buffered file readers. It owns a fixed pool of reusable page
// slabs, a bounded pool of worker goroutines, and three disjoint lists
// (queued, in-progress, completed) that together form a small cache with an
// age- and consumption-aware eviction policy.
package readahead

import "time"

// Status of a read buffer as it moves through its lifecycle. A buffer moves
// through NotAvailable -> Reading -> (Available | Failed) exactly once.
type Status int

const (
	// StatusNotAvailable: the buffer is waiting in the queue.
	StatusNotAvailable Status = iota
	// StatusReading: a worker is filling the buffer; it is in the
	// in-progress list.
	StatusReading
	// StatusAvailable: data is in the buffer; it is in the completed list.
	StatusAvailable
	// StatusFailed: the read completed but failed.
	StatusFailed
)

// readBuffer tracks one read-ahead through its lifecycle. The slab itself
// is assigned from the manager's fixed pool, so buffers are recycled rather
// than allocated per request.
type readBuffer struct {
	reader          RemoteReader
	offset          int64 // offset within the file
	length          int   // actual length, set after the buffer is filled
	requestedLength int   // requested length of the read
	data            []byte
	slabIndex       int
	status          Status

	// done is the buffer's completion signal: closed exactly once, when
	// the buffer is filled or failed, so a waiting reader gets unblocked
	// without holding the manager lock.
	done chan struct{}

	// eviction bookkeeping
	birthday          time.Time // when the buffer became available to read
	firstByteConsumed bool
	lastByteConsumed  bool
	anyByteConsumed   bool
}
