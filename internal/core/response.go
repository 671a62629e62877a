package core

import (
	"io"
	"time"
)

// OperationResponse carries all information from making one server call.
// Callers must check Successful before using any other field.
type OperationResponse struct {
	// Successful is whether the request succeeded.
	Successful bool

	// OpCode is the name of the remote operation.
	OpCode string

	// HTTPStatus is the HTTP response code, 0 if the failure happened
	// before a response was received.
	HTTPStatus int

	// HTTPMessage is the status text that came with the HTTP response.
	HTTPMessage string

	// ResponseStream is the HTTP body for operations that return data.
	// For OPEN it is the raw data stream, handed to the caller without
	// buffering; for JSON operations the caller parses and closes it.
	ResponseStream io.ReadCloser

	// RequestID is the server request ID.
	RequestID string

	// CommittedBlockOffset is the server-acknowledged byte position after
	// a successful append, -1 when not reported.
	CommittedBlockOffset int64

	// NumRetries is the number of retries attempted before returning.
	NumRetries int

	// LastCallLatency is the latency of the last attempt.
	LastCallLatency time.Duration

	// TokenAcquisitionLatency is the time taken to get the token for the
	// last attempt. Should mostly be small.
	TokenAcquisitionLatency time.Duration

	// ContentLength is the Content-Length of the response body, when the
	// response was not chunked. Callers should look at both this and
	// Chunked to decide whether the server returned any data.
	ContentLength int64

	// Chunked indicates the response body used chunked transfer encoding.
	Chunked bool

	// RemoteExceptionName is the exception name reported by the server
	// when the call failed server-side.
	RemoteExceptionName string

	// RemoteExceptionMessage is the server's exception message.
	RemoteExceptionMessage string

	// RemoteExceptionClassName is the server's exception class name,
	// stored verbatim and interpreted only to decide the error type.
	RemoteExceptionClassName string

	// Err is any error encountered while processing the request or
	// response on the client side.
	Err error

	// Message is an error message for failures originating inside the SDK.
	Message string

	// ExceptionHistory is a semicolon-separated record of failures
	// encountered but not surfaced by this call, accumulated across
	// retries.
	ExceptionHistory string
}

// Reset clears the response for the next attempt. ExceptionHistory is
// deliberately preserved across attempts.
func (r *OperationResponse) Reset() {
	history := r.ExceptionHistory
	*r = OperationResponse{
		Successful:           true,
		CommittedBlockOffset: -1,
		ExceptionHistory:     history,
	}
}

// AppendExceptionHistory records a compact description of a failed attempt.
func (r *OperationResponse) AppendExceptionHistory(desc string) {
	if r.ExceptionHistory == "" {
		r.ExceptionHistory = desc
	} else {
		r.ExceptionHistory += "; " + desc
	}
}
