package lakestore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openlake/lakestore/internal/core"
)

// Sentinel errors matched from the server's remote exception class when
// the client is configured to surface remote exceptions. Use errors.Is to
// test for them.
var (
	ErrFileNotFound      = errors.New("file or directory not found")
	ErrFileAlreadyExists = errors.New("file or directory already exists")
	ErrAccessDenied      = errors.New("access denied")
	ErrBadOffset         = errors.New("append offset does not match remote file length")
	ErrStreamClosed      = errors.New("stream is closed")
)

// Error is the structured error returned by client methods when a server
// call fails. It carries everything known about the failed call.
type Error struct {
	// Message is the primary, human-oriented description.
	Message string

	// HTTPStatus is the HTTP response code; 0 for transport-only failures.
	HTTPStatus int

	// HTTPMessage is the HTTP status text.
	HTTPMessage string

	// RequestID is the server request ID, when one was received.
	RequestID string

	// NumRetries is the number of retries attempted before the call failed.
	NumRetries int

	// LastCallLatency is the latency of the last attempt.
	LastCallLatency time.Duration

	// ContentLength of the response, if the response carried one.
	ContentLength int64

	// RemoteExceptionName, RemoteExceptionMessage and
	// RemoteExceptionClassName are the server's structured error fields.
	RemoteExceptionName      string
	RemoteExceptionMessage   string
	RemoteExceptionClassName string

	// Err is the underlying cause: a transport error, or one of the
	// sentinel errors when remote-exception surfacing is enabled.
	Err error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// remoteClassToSentinel maps a remote exception class name to the sentinel
// error representing it, when the class denotes a well-known I/O failure.
// The class name is interpreted only to pick the error kind.
func remoteClassToSentinel(className string) error {
	short := className
	if i := strings.LastIndex(className, "."); i >= 0 {
		short = className[i+1:]
	}
	switch short {
	case "FileNotFoundException":
		return ErrFileNotFound
	case "FileAlreadyExistsException":
		return ErrFileAlreadyExists
	case "AccessControlException", "AclException":
		return ErrAccessDenied
	case "BadOffsetException":
		return ErrBadOffset
	default:
		return nil
	}
}

// errorFromResponse converts a failed OperationResponse into an *Error,
// following the client's remote-exception surfacing setting.
func (c *Client) errorFromResponse(resp *core.OperationResponse, defaultMessage string) error {
	suffix := fmt.Sprintf(" [ServerRequestId:%s]", resp.RequestID)

	msg := defaultMessage
	if resp.Message != "" {
		msg = defaultMessage + ": " + resp.Message
	}
	if resp.Err != nil {
		msg = fmt.Sprintf("%s\nOperation %s failed with error: %v", msg, resp.OpCode, resp.Err)
	} else if resp.HTTPStatus > 0 {
		msg = fmt.Sprintf("%s\nOperation %s failed with HTTP%d : %s",
			msg, resp.OpCode, resp.HTTPStatus, resp.RemoteExceptionName)
	}
	msg = fmt.Sprintf("%s\nLast encountered exception thrown after %d tries.",
		msg, resp.NumRetries+1)
	if resp.ExceptionHistory != "" {
		msg += " [" + resp.ExceptionHistory + "]"
	}
	msg += suffix

	err := &Error{
		Message:                  msg,
		HTTPStatus:               resp.HTTPStatus,
		HTTPMessage:              resp.HTTPMessage,
		RequestID:                resp.RequestID,
		NumRetries:               resp.NumRetries,
		LastCallLatency:          resp.LastCallLatency,
		ContentLength:            resp.ContentLength,
		RemoteExceptionName:      resp.RemoteExceptionName,
		RemoteExceptionMessage:   resp.RemoteExceptionMessage,
		RemoteExceptionClassName: resp.RemoteExceptionClassName,
		Err:                      resp.Err,
	}

	if c.surfaceRemoteExceptionsEnabled() && resp.RemoteExceptionClassName != "" {
		if sentinel := remoteClassToSentinel(resp.RemoteExceptionClassName); sentinel != nil {
			err.Err = sentinel
		}
	}
	return err
}
