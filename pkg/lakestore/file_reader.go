package lakestore

import (
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/openlake/lakestore/internal/core"
	"github.com/openlake/lakestore/internal/logger"
	"github.com/openlake/lakestore/internal/readahead"
	"github.com/openlake/lakestore/pkg/lakestore/retry"
)

const (
	defaultReadAheadQueueDepth = 4
	defaultReadBufferSize      = 4 * 1024 * 1024
)

// FileReader reads data from an open file. It is a buffering reader: data
// is fetched from the server in bulk (4 MiB by default) and user reads are
// satisfied from the buffer, with look-ahead fetches delegated to the
// shared prefetch subsystem.
//
// The reader holds an immutable snapshot of the file's length taken at
// open time; appends made by other writers afterwards are not reflected.
//
// Not safe for concurrent use: a reader belongs to exactly one caller.
type FileReader struct {
	path      string
	client    *Client
	entry     *DirectoryEntry
	sessionID string

	blocksize           int
	buffer              []byte // allocated on first use
	readAheadQueueDepth int

	fCursor int64 // file offset of the next byte to fetch from the server
	bCursor int   // index of the next byte to deliver from the buffer
	limit   int   // end of valid bytes in the buffer

	closed   bool
	prefetch *prefetchAdapter
}

// prefetchAdapter is the identity under which this reader is known to the
// shared prefetcher. Keeping it a separate type avoids exporting the
// prefetch entry points on FileReader itself.
type prefetchAdapter struct {
	r *FileReader
}

func (p *prefetchAdapter) ReadRemote(offset int64, buf []byte) (int, error) {
	return p.r.readRemote(offset, buf, true)
}

func (p *prefetchAdapter) Path() string {
	return p.r.path
}

func newFileReader(c *Client, path string, entry *DirectoryEntry) *FileReader {
	depth := c.readAheadDepth()
	if depth < 0 {
		depth = defaultReadAheadQueueDepth
	}
	r := &FileReader{
		path:                path,
		client:              c,
		entry:               entry,
		sessionID:           uuid.New().String(),
		blocksize:           defaultReadBufferSize,
		readAheadQueueDepth: depth,
	}
	r.prefetch = &prefetchAdapter{r}
	logger.Trace("file reader created for client %d file %s", c.clientID, path)
	return r
}

// Read reads up to len(p) bytes into p, filling the internal buffer from
// the server when it runs dry. Returns io.EOF at end of file.
func (r *FileReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, fmt.Errorf("read on closed reader for %s: %w", r.path, ErrStreamClosed)
	}
	if len(p) == 0 {
		return 0, nil
	}

	if r.bCursor == r.limit {
		n, err := r.readFromService()
		if err != nil {
			return 0, err
		}
		if n < 0 {
			return 0, io.EOF
		}
	}

	n := copy(p, r.buffer[r.bCursor:r.limit])
	r.bCursor += n
	return n, nil
}

// readFromService fills the buffer with up to blocksize bytes from the
// server. Returns the number of bytes read, or -1 at end of file.
func (r *FileReader) readFromService() (int64, error) {
	if r.bCursor < r.limit {
		return 0, nil // still unread data in the buffer, do not overwrite
	}
	if r.fCursor >= r.entry.Length {
		return -1, nil // at or past end of file
	}

	if r.entry.Length <= int64(r.blocksize) {
		return r.slurpFullFile()
	}

	// throw away existing buffered data
	r.bCursor = 0
	r.limit = 0
	if r.buffer == nil {
		r.buffer = make([]byte, r.blocksize)
	}

	n, err := r.readInternal(r.fCursor, r.buffer[:r.blocksize], false)
	if err != nil {
		return 0, err
	}
	r.limit += n
	r.fCursor += int64(n)
	return int64(n), nil
}

// slurpFullFile reads the whole file into the buffer in one go. Used when
// the file fits in a single block, where per-block cursor management is
// pure overhead.
func (r *FileReader) slurpFullFile() (int64, error) {
	if r.buffer == nil {
		r.blocksize = int(r.entry.Length)
		r.buffer = make([]byte, r.blocksize)
	}

	// Preserve the logical position: the app may have seeked before the
	// first read.
	r.bCursor = int(r.Pos())
	r.limit = 0
	r.fCursor = 0

	loopCount := 0
	for r.fCursor < r.entry.Length {
		n, err := r.readInternal(r.fCursor, r.buffer[r.limit:r.blocksize], true)
		if err != nil {
			return 0, err
		}
		r.limit += n
		r.fCursor += int64(n)

		loopCount++
		if loopCount >= 10 {
			return 0, fmt.Errorf("too many attempts reading whole file %s", r.path)
		}
	}
	return r.fCursor, nil
}

// ReadAt reads len(p) bytes from the given position without moving the
// reader's sequential cursor. Positioned reads always go to the server or
// the prefetch cache, never to this reader's own buffer. Implements
// io.ReaderAt: short reads return an error, io.EOF at end of file.
func (r *FileReader) ReadAt(p []byte, position int64) (int, error) {
	if r.closed {
		return 0, fmt.Errorf("read on closed reader for %s: %w", r.path, ErrStreamClosed)
	}
	total := 0
	for total < len(p) {
		n, err := r.readInternal(position+int64(total), p[total:], true)
		if err != nil {
			return total, err
		}
		if n == 0 { // end of file
			return total, io.EOF
		}
		total += n
	}
	return total, nil
}

// readInternal reads from the given position, going through the prefetch
// subsystem unless bypassed. bypassReadAhead is set for positioned reads
// and for the whole-file slurp, which manage their own access patterns.
func (r *FileReader) readInternal(position int64, p []byte, bypassReadAhead bool) (int, error) {
	if bypassReadAhead || r.readAheadQueueDepth == 0 || r.client.disableReadAheads.Load() {
		n, err := r.readRemote(position, p, false)
		if n < 0 {
			return 0, err
		}
		return n, err
	}

	manager := readahead.Default()

	// Queue look-aheads from the current position, one block each.
	numReadAheads := r.readAheadQueueDepth
	nextOffset := position
	for numReadAheads > 0 && nextOffset < r.entry.Length {
		nextSize := min(int64(r.blocksize), r.entry.Length-nextOffset)
		manager.QueueReadAhead(r.prefetch, nextOffset, int(nextSize))
		nextOffset += nextSize
		numReadAheads--
	}

	// Serve from the prefetch cache if it covers the position.
	if n := manager.GetBlock(r.prefetch, position, p); n > 0 {
		return n, nil
	}

	// Cache miss: do our own read.
	n, err := r.readRemote(position, p, false)
	if n < 0 {
		return 0, err
	}
	return n, err
}

// readRemote performs one server read. Speculative reads (the prefetch
// path) use the no-retry policy; if the server rejects speculation
// outright, prefetching is disabled for the client's lifetime and the
// demand path takes over. Returns -1 when position is at or past end of
// file.
func (r *FileReader) readRemote(position int64, p []byte, speculative bool) (int, error) {
	if position < 0 {
		return 0, fmt.Errorf("attempting to read from negative offset")
	}
	if position >= r.entry.Length {
		return -1, nil
	}
	if len(p) == 0 {
		return 0, nil
	}

	var policy retry.Policy
	if speculative {
		policy = retry.NewNoRetry()
	} else {
		policy = r.client.exponentialPolicy()
	}
	opts := r.client.defaultRequestOptions(policy)
	var resp core.OperationResponse
	stream := r.client.coreOpen(r.path, position, len(p), r.sessionID, opts, &resp)
	if speculative && !resp.Successful && resp.HTTPStatus == 400 &&
		resp.RemoteExceptionName == "SpeculativeReadNotSupported" {
		r.client.disableReadAheads.Store(true)
		return 0, nil
	}
	if !resp.Successful {
		return 0, r.client.errorFromResponse(&resp, "Error reading from file "+r.path)
	}
	if resp.ContentLength == 0 && !resp.Chunked {
		stream.Close()
		return 0, nil // got nothing
	}
	defer stream.Close()

	total := 0
	for total < len(p) {
		n, err := stream.Read(p[total:])
		total += n
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, fmt.Errorf("error reading data from response stream for file %s: %w", r.path, err)
		}
	}
	// Consume any remainder so the connection can be reused.
	io.Copy(io.Discard, stream)
	return total, nil
}

// Seek sets the position of the next Read. Seeking outside [0, length]
// fails; seeking to the exact end is allowed and the next Read returns
// io.EOF. A seek inside the currently buffered window only moves the
// buffer cursor.
func (r *FileReader) Seek(offset int64, whence int) (int64, error) {
	if r.closed {
		return 0, fmt.Errorf("seek on closed reader for %s: %w", r.path, ErrStreamClosed)
	}
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.Pos() + offset
	case io.SeekEnd:
		target = r.entry.Length + offset
	default:
		return 0, fmt.Errorf("invalid whence value %d", whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("cannot seek to before the beginning of file")
	}
	if target > r.entry.Length {
		return 0, fmt.Errorf("cannot seek past end of file")
	}

	if target >= r.fCursor-int64(r.limit) && target <= r.fCursor {
		// within the valid buffer window: adjust the buffer cursor only
		r.bCursor = int(target - (r.fCursor - int64(r.limit)))
		return target, nil
	}

	// next read fetches from here
	r.fCursor = target
	r.limit = 0
	r.bCursor = 0
	return target, nil
}

// Skip advances the position by n bytes, clamped to the file bounds, and
// returns how far it actually moved.
func (r *FileReader) Skip(n int64) (int64, error) {
	if r.closed {
		return 0, fmt.Errorf("skip on closed reader for %s: %w", r.path, ErrStreamClosed)
	}
	current := r.Pos()
	target := current + n
	if target < 0 {
		target = 0
	}
	if target > r.entry.Length {
		target = r.entry.Length
	}
	if _, err := r.Seek(target, io.SeekStart); err != nil {
		return 0, err
	}
	return target - current, nil
}

// Available returns the number of bytes that can be read without another
// server call.
func (r *FileReader) Available() (int, error) {
	if r.closed {
		return 0, fmt.Errorf("available on closed reader for %s: %w", r.path, ErrStreamClosed)
	}
	return r.limit - r.bCursor, nil
}

// Length returns the file length as of the time the reader was opened.
func (r *FileReader) Length() (int64, error) {
	if r.closed {
		return 0, fmt.Errorf("length on closed reader for %s: %w", r.path, ErrStreamClosed)
	}
	return r.entry.Length, nil
}

// Pos returns the logical position of the next sequential read.
func (r *FileReader) Pos() int64 {
	return r.fCursor - int64(r.limit) + int64(r.bCursor)
}

// Unbuffer discards the buffered data without changing the logical
// position; the next read fetches from the server.
func (r *FileReader) Unbuffer() {
	r.fCursor = r.Pos()
	r.limit = 0
	r.bCursor = 0
}

// SetBufferSize changes the size of the internal read buffer. The
// buffered data is discarded; the logical position is preserved.
func (r *FileReader) SetBufferSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("buffer size cannot be zero or less: %d", size)
	}
	if size == r.blocksize {
		return nil
	}
	r.Unbuffer()
	r.blocksize = size
	r.buffer = nil
	return nil
}

// SetReadAheadQueueDepth overrides the number of look-ahead requests this
// reader queues; 0 disables prefetch for the reader.
func (r *FileReader) SetReadAheadQueueDepth(depth int) error {
	if depth < 0 {
		return fmt.Errorf("queue depth has to be 0 or more")
	}
	r.readAheadQueueDepth = depth
	return nil
}

// Close invalidates the reader. Close is idempotent.
func (r *FileReader) Close() error {
	r.closed = true
	r.buffer = nil
	return nil
}

// Path returns the file path this reader was opened for.
func (r *FileReader) Path() string {
	return r.path
}
