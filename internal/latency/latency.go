// Package latency keeps track of client-perceived request latencies, to be
// piggybacked on subsequent REST requests. Every request records its outcome
// here; before sending a request, the engine drains a few of the oldest
// entries into an outgoing header so the server gets visibility into
// latencies as the client saw them.
//
// The ledger is opportunistic telemetry, not ground truth: writes are
// non-blocking and silently dropped on overflow, and ordering between
// readers and writers is not guaranteed.
package latency

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Entry schema, comma separated:
//  1. client request id, with ".retry" attempt suffix
//  2. latency in milliseconds
//  3. error code (empty if the request succeeded)
//  4. operation
//  5. request+response body size (zero if not available)
//  6. client instance number within this process
//
// Multiple entries go on a single request, semicolon separated, capped at
// three to bound the growth of the HTTP request size.

const (
	capacity   = 256
	maxPerLine = 3
)

var (
	queue    = make(chan string, capacity)
	disabled atomic.Bool
)

// Disable turns off latency reporting for the lifetime of the process and
// purges anything already queued. This is one-way; there is no re-enable.
func Disable() {
	disabled.Store(true)
	// Drain whatever is there. A concurrent writer may leave a stale entry
	// behind, which is harmless: Record checks the flag before writing and
	// Drain checks it before reading.
	for {
		select {
		case <-queue:
		default:
			return
		}
	}
}

// Record adds a successful call's latency line. Non-blocking; drops the
// entry if the queue is full.
func Record(clientRequestID string, retry int, latencyMs int64, operation string, size int64, clientID int64) {
	record(clientRequestID, retry, latencyMs, "", operation, size, clientID)
}

// RecordError adds a failed call's latency line, with the error code that
// the client observed.
func RecordError(clientRequestID string, retry int, latencyMs int64, errorCode string, operation string, size int64, clientID int64) {
	record(clientRequestID, retry, latencyMs, errorCode, operation, size, clientID)
}

func record(clientRequestID string, retry int, latencyMs int64, errorCode string, operation string, size int64, clientID int64) {
	if disabled.Load() {
		return
	}
	line := fmt.Sprintf("%s.%d,%d,%s,%s,%d,%d",
		clientRequestID, retry, latencyMs, errorCode, operation, size, clientID)
	select {
	case queue <- line:
	default:
		// queue full, silently discard
	}
}

// Drain removes up to three of the oldest entries and returns them joined
// with semicolons, ready for the outgoing header. Returns "" if there is
// nothing to report.
func Drain() string {
	if disabled.Load() {
		return ""
	}
	var parts []string
	for len(parts) < maxPerLine {
		select {
		case line := <-queue:
			parts = append(parts, line)
		default:
			return strings.Join(parts, ";")
		}
	}
	return strings.Join(parts, ";")
}
