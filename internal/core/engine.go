package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/openlake/lakestore/internal/latency"
	"github.com/openlake/lakestore/internal/logger"
	"github.com/openlake/lakestore/pkg/lakestore/retry"
	"github.com/openlake/lakestore/pkg/metrics"
)

// TokenSource supplies the Authorization header value for a request. It may
// block (a refresh can involve a network round trip) and must not be called
// with any other lock held.
type TokenSource interface {
	AuthorizationValue() (string, error)
}

// Requester executes REST operations against one store account. It holds
// the per-client identity and transport knobs; retry policy and timeout are
// per-request via RequestOptions.
type Requester struct {
	// Account is the fully qualified domain name (optionally with port)
	// of the store account.
	Account string

	// Tokens supplies the Authorization header value.
	Tokens TokenSource

	// UserAgent is sent on every request.
	UserAgent string

	// Proto is "https", or "http" when insecure transport is enabled for
	// test use.
	Proto string

	// PathPrefix is prepended to every operation path. Already URL-encoded,
	// absolute, and without a trailing slash; empty if the client is not
	// scoped.
	PathPrefix string

	// ClientID is the unique number of the owning client within this
	// process, reported in latency ledger entries.
	ClientID int64

	// HTTPClient is the underlying transport. Per-attempt timeouts are
	// applied with request contexts, so the client itself carries none.
	HTTPClient *http.Client

	// Metrics records operation outcomes; never nil.
	Metrics metrics.ClientMetrics
}

// RequestOptions control the behavior of one server call.
type RequestOptions struct {
	// Timeout applies per attempt, to the whole of the connect and read
	// phases of that attempt.
	Timeout time.Duration

	// RequestID is the client request ID; a UUID is generated when empty.
	// Retried attempts reuse it with an attempt-number suffix.
	RequestID string

	// RetryPolicy decides whether failed attempts are retried.
	RetryPolicy retry.Policy
}

// errAuth marks token-acquisition failures: these surface immediately and
// are never offered to the retry policy.
type errAuth struct{ err error }

func (e errAuth) Error() string { return e.err.Error() }
func (e errAuth) Unwrap() error { return e.err }

// IsAuthError reports whether err came from token acquisition.
func IsAuthError(err error) bool {
	_, ok := err.(errAuth)
	return ok
}

// Call runs one operation through the invocation pipeline: acquire token,
// build URL, execute, parse, record latency, and consult the retry policy
// until it refuses. The outcome is left in resp.
func (r *Requester) Call(op Operation, path string, qp *QueryParams, requestBody []byte, opts *RequestOptions, resp *OperationResponse) {
	if opts.RetryPolicy == nil {
		opts.RetryPolicy = retry.NewNoRetry()
	}
	if opts.RequestID == "" {
		opts.RequestID = uuid.New().String()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if qp == nil {
		qp = &QueryParams{}
	}

	retryCount := 0
	for {
		resp.Reset()
		resp.OpCode = op.Name
		r.singleCall(op, path, qp, requestBody, opts, resp, retryCount)

		bodySize := int64(len(requestBody)) + resp.ContentLength
		latencyMs := resp.LastCallLatency.Milliseconds()
		if resp.Successful {
			latency.Record(opts.RequestID, retryCount, latencyMs, op.Name, bodySize, r.ClientID)
			break
		}

		errorCode := "NetworkError"
		if resp.HTTPStatus > 0 {
			errorCode = "HTTP" + strconv.Itoa(resp.HTTPStatus)
		}
		latency.RecordError(opts.RequestID, retryCount, latencyMs, errorCode, op.Name, bodySize, r.ClientID)
		resp.AppendExceptionHistory(attemptDescription(resp))

		if IsAuthError(resp.Err) {
			// Token acquisition failed; surface the provider's error
			// without consulting the retry policy.
			break
		}
		if !opts.RetryPolicy.ShouldRetry(resp.HTTPStatus, resp.Err) {
			break
		}
		retryCount++
		logger.Debug("retrying %s %s (attempt %d)", op.Name, path, retryCount+1)
	}
	resp.NumRetries = retryCount
	r.Metrics.RecordOperation(op.Name, resp.HTTPStatus, retryCount, resp.LastCallLatency)
	r.Metrics.RecordPayloadBytes(op.Name, int64(len(requestBody)))
}

// attemptDescription summarizes a failed attempt for the exception history.
func attemptDescription(resp *OperationResponse) string {
	if resp.HTTPStatus > 0 {
		if resp.RemoteExceptionName != "" {
			return fmt.Sprintf("HTTP%d(%s)", resp.HTTPStatus, resp.RemoteExceptionName)
		}
		return fmt.Sprintf("HTTP%d", resp.HTTPStatus)
	}
	if resp.Err != nil {
		return fmt.Sprintf("%v", resp.Err)
	}
	return "unknown failure"
}

// attemptRequestID renders the Client-Request-Id for one attempt: the bare
// UUID for the first attempt, then the same prefix with an incrementing
// suffix so retried attempts remain correlatable but distinct.
func attemptRequestID(requestID string, retryCount int) string {
	if retryCount == 0 {
		return requestID
	}
	return requestID + "." + strconv.Itoa(retryCount)
}

func (r *Requester) singleCall(op Operation, path string, qp *QueryParams, requestBody []byte, opts *RequestOptions, resp *OperationResponse, retryCount int) {
	tokenStart := time.Now()
	authValue, err := r.Tokens.AuthorizationValue()
	resp.TokenAcquisitionLatency = time.Since(tokenStart)
	if err != nil {
		resp.Successful = false
		resp.Message = "Error fetching access token"
		resp.Err = errAuth{err}
		return
	}

	urlString := r.buildURL(op, path, qp)

	// The attempt context must outlive this function when the body stream
	// is handed to the caller; it is then canceled by the stream's Close.
	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	handedOff := false
	defer func() {
		if !handedOff {
			cancel()
		}
	}()

	var bodyReader io.Reader
	if op.RequiresBody {
		bodyReader = bytes.NewReader(requestBody)
	}
	req, err := http.NewRequestWithContext(ctx, op.Method, urlString, bodyReader)
	if err != nil {
		resp.Successful = false
		resp.Message = "Error building HTTP request"
		resp.Err = err
		return
	}
	if op.RequiresBody {
		req.ContentLength = int64(len(requestBody))
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	req.Header.Set("Authorization", authValue)
	req.Header.Set("User-Agent", r.UserAgent)
	req.Header.Set("x-ms-client-request-id", attemptRequestID(opts.RequestID, retryCount))
	if entries := latency.Drain(); entries != "" {
		req.Header.Set("x-ms-adl-client-latency", entries)
	}

	start := time.Now()
	res, err := r.HTTPClient.Do(req)
	if err != nil {
		resp.LastCallLatency = time.Since(start)
		resp.Successful = false
		resp.Message = "Error sending request"
		resp.Err = err
		return
	}

	resp.HTTPStatus = res.StatusCode
	resp.HTTPMessage = http.StatusText(res.StatusCode)
	resp.RequestID = res.Header.Get("x-ms-request-id")
	resp.ContentLength = max(res.ContentLength, 0)
	for _, enc := range res.TransferEncoding {
		if enc == "chunked" {
			resp.Chunked = true
		}
	}
	if v := res.Header.Get("x-ms-committed-block-offset"); v != "" {
		if offset, err := strconv.ParseInt(v, 10, 64); err == nil {
			resp.CommittedBlockOffset = offset
		}
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		resp.Successful = true
		if op.ReturnsBody {
			// Hand the body stream to the caller; for OPEN this is the
			// data stream itself and must not be buffered here.
			resp.ResponseStream = &cancelOnClose{ReadCloser: res.Body, cancel: cancel}
			handedOff = true
		} else {
			drainAndClose(res.Body)
		}
		resp.LastCallLatency = time.Since(start)
		return
	}

	resp.Successful = false
	r.parseRemoteException(res, resp)
	resp.LastCallLatency = time.Since(start)
}

func (r *Requester) buildURL(op Operation, path string, qp *QueryParams) string {
	encodedPath := (&url.URL{Path: path}).EscapedPath()
	return fmt.Sprintf("%s://%s%s%s%s?%s",
		r.Proto, r.Account, op.NamespacePrefix(), r.PathPrefix, encodedPath,
		qp.Serialize(op))
}

// remoteExceptionEnvelope is the server's structured error body. The class
// name is stored verbatim; it is only ever interpreted to decide the error
// type, never treated as code.
type remoteExceptionEnvelope struct {
	RemoteException struct {
		Exception     string `json:"exception"`
		Message       string `json:"message"`
		JavaClassName string `json:"javaClassName"`
	} `json:"RemoteException"`
}

func (r *Requester) parseRemoteException(res *http.Response, resp *OperationResponse) {
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil || len(body) == 0 {
		return
	}
	var envelope remoteExceptionEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return // not a structured error; the HTTP status is all we have
	}
	resp.RemoteExceptionName = envelope.RemoteException.Exception
	resp.RemoteExceptionMessage = envelope.RemoteException.Message
	resp.RemoteExceptionClassName = envelope.RemoteException.JavaClassName
}

// drainAndClose consumes the remainder of a response body so the
// underlying connection can be reused.
func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	body.Close()
}

// cancelOnClose ties the attempt context's lifetime to the response body
// handed to the caller.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
