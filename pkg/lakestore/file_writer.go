package lakestore

import (
	"fmt"

	"github.com/openlake/lakestore/internal/core"
	"github.com/openlake/lakestore/internal/logger"
)

const defaultWriteBufferSize = 4 * 1024 * 1024

// FileWriter adds data to a LakeStore file. It is a buffering writer:
// user writes accumulate into a block-sized buffer (4 MiB by default) and
// are shipped to the server in aligned chunks, each append issued at an
// explicit server-side offset under a client-generated lease.
//
// Not safe for concurrent use: a writer belongs to exactly one caller.
type FileWriter struct {
	path   string
	client *Client

	// leaseID is both the session ID and the lease ID for every append
	// from this writer; the lease grants exclusive append access until
	// released by the close-marked append.
	leaseID string

	blocksize int
	buffer    []byte // allocated on first use
	cursor    int    // client-side write cursor within the buffer

	// remoteCursor is the acknowledged remote offset: the server-side
	// file length up to which this writer's appends have been accepted.
	remoteCursor int64

	closed                   bool
	lastFlushUpdatedMetadata bool
}

func newFileWriterForCreate(c *Client, path, leaseID string) *FileWriter {
	logger.Trace("file writer created for client %d file %s (create)", c.clientID, path)
	return &FileWriter{
		path:      path,
		client:    c,
		leaseID:   leaseID,
		blocksize: defaultWriteBufferSize,
	}
}

func newFileWriterForAppend(c *Client, path, leaseID string) (*FileWriter, error) {
	w := &FileWriter{
		path:      path,
		client:    c,
		leaseID:   leaseID,
		blocksize: defaultWriteBufferSize,
	}

	// A zero-length append with the metadata-sync flag settles the
	// server-side length, then the status read tells us where to resume.
	if !w.zeroLengthAppend(-1) {
		return nil, fmt.Errorf("error doing zero-length append for append writer for file %s", path)
	}
	entry, err := c.GetDirectoryEntry(path)
	if err != nil {
		return nil, fmt.Errorf("failure getting directory entry during append writer creation for file %s: %w", path, err)
	}
	w.remoteCursor = entry.Length
	logger.Trace("file writer created for client %d file %s (append at %d)",
		c.clientID, path, w.remoteCursor)
	return w, nil
}

// Write buffers p for upload. A write larger than the block size is split
// at block boundaries so every append aligns with the upload chunk;
// record boundaries are preserved at the final segment.
func (w *FileWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write on closed writer for %s: %w", w.path, ErrStreamClosed)
	}
	if len(p) == 0 {
		return 0, nil
	}

	if w.buffer == nil {
		w.buffer = make([]byte, w.blocksize)
	}

	written := 0
	rest := p
	for len(rest) > w.blocksize {
		if err := w.flush(syncFlagData); err != nil {
			return written, err
		}
		w.addToBuffer(rest[:w.blocksize])
		written += w.blocksize
		rest = rest[w.blocksize:]
	}

	// if the remainder would overflow the buffer, flush first
	if len(rest) > len(w.buffer)-w.cursor {
		if err := w.flush(syncFlagData); err != nil {
			return written, err
		}
	}
	w.addToBuffer(rest)
	written += len(rest)
	return written, nil
}

func (w *FileWriter) addToBuffer(p []byte) {
	copy(w.buffer[w.cursor:], p)
	w.cursor += len(p)
}

// Flush uploads any buffered data and asks the server to sync the file
// metadata (length, modification time).
func (w *FileWriter) Flush() error {
	return w.flush(syncFlagMetadata)
}

func (w *FileWriter) flush(flag syncFlag) error {
	// Some callers flush after close; stay silent like the close itself.
	if w.closed {
		return nil
	}
	if w.cursor == 0 && flag == syncFlagData {
		return nil // nothing to flush
	}
	if w.cursor == 0 && w.lastFlushUpdatedMetadata && flag == syncFlagMetadata {
		// the last flush already synced metadata and nothing new is
		// buffered; suppress the no-op round trip
		return nil
	}
	if w.buffer == nil {
		w.buffer = make([]byte, w.blocksize)
	}

	if logger.TraceEnabled() {
		logger.Trace("flush %d bytes at offset %d for client %d file %s flag %s",
			w.cursor, w.remoteCursor, w.client.clientID, w.path, flag)
	}

	opts := w.client.defaultRequestOptions(w.client.exponentialPolicy())
	var resp core.OperationResponse
	w.client.coreAppend(w.path, w.remoteCursor, w.buffer[:w.cursor],
		w.leaseID, w.leaseID, flag, opts, &resp)

	if !resp.Successful {
		if resp.NumRetries > 0 && resp.HTTPStatus == 400 &&
			resp.RemoteExceptionName == "BadOffsetException" {
			// A retried append can fail with a bad offset when the first
			// try looked like a transport failure to us but succeeded on
			// the back end. Probe with a zero-length append at the offset
			// we expect: if the server agrees, the payload did land and
			// the error is swallowed.
			expectedRemoteLength := w.remoteCursor + int64(w.cursor)
			if w.zeroLengthAppend(expectedRemoteLength) {
				logger.Debug("zero-length append succeeded at expected offset %d, "+
					"ignoring BadOffsetException for lease %s file %s",
					expectedRemoteLength, w.leaseID, w.path)
				w.remoteCursor += int64(w.cursor)
				w.cursor = 0
				w.lastFlushUpdatedMetadata = false
				return nil
			}
			logger.Debug("probe append failed at expected offset %d for lease %s file %s",
				expectedRemoteLength, w.leaseID, w.path)
		}
		return w.client.errorFromResponse(&resp, "Error appending to file "+w.path)
	}

	w.remoteCursor += int64(w.cursor)
	w.cursor = 0
	w.lastFlushUpdatedMetadata = flag == syncFlagMetadata || flag == syncFlagClose
	return nil
}

// zeroLengthAppend issues an empty append with the metadata-sync flag at
// the given offset (or the server's current length when offset is
// negative), reporting whether the server accepted it.
func (w *FileWriter) zeroLengthAppend(offset int64) bool {
	opts := w.client.defaultRequestOptions(w.client.exponentialPolicy())
	var resp core.OperationResponse
	w.client.coreAppend(w.path, offset, nil, w.leaseID, w.leaseID, syncFlagMetadata, opts, &resp)
	return resp.Successful
}

// SetBufferSize changes the size of the write buffer, flushing any
// buffered data first.
func (w *FileWriter) SetBufferSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("buffer size cannot be zero or less: %d", size)
	}
	if size == w.blocksize {
		return nil
	}
	if w.cursor != 0 {
		if err := w.flush(syncFlagData); err != nil {
			return err
		}
	}
	w.blocksize = size
	w.buffer = nil
	return nil
}

// Close flushes buffered data with the close-marked append, which syncs
// metadata and releases the lease. Close is idempotent; calls after the
// first are silent no-ops.
func (w *FileWriter) Close() error {
	if w.closed {
		return nil
	}
	if err := w.flush(syncFlagClose); err != nil {
		return err
	}
	w.closed = true
	w.buffer = nil
	logger.Trace("writer closed for client %d file %s", w.client.clientID, w.path)
	return nil
}

// Path returns the file path this writer was opened for.
func (w *FileWriter) Path() string {
	return w.path
}
