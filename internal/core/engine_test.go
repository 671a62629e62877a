package core

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlake/lakestore/pkg/lakestore/retry"
	"github.com/openlake/lakestore/pkg/metrics"
)

type staticTokens struct{ value string }

func (s staticTokens) AuthorizationValue() (string, error) { return s.value, nil }

type failingTokens struct{}

func (failingTokens) AuthorizationValue() (string, error) {
	return "", errors.New("identity service unreachable")
}

func newTestRequester(srv *httptest.Server) *Requester {
	u, _ := url.Parse(srv.URL)
	return &Requester{
		Account:    u.Host,
		Tokens:     staticTokens{"Bearer test-token"},
		UserAgent:  "lakestore-go-sdk/test",
		Proto:      "http",
		ClientID:   1,
		HTTPClient: srv.Client(),
		Metrics:    metrics.NoopClientMetrics(),
	}
}

func TestCallBuildsRequest(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		w.Header().Set("x-ms-request-id", "srv-123")
		w.Write([]byte(`{"boolean": true}`))
	}))
	defer srv.Close()

	r := newTestRequester(srv)
	qp := &QueryParams{}
	qp.Add("recursive", "true")

	var resp OperationResponse
	r.Call(OpDelete, "/a dir/file+1", qp, nil, &RequestOptions{
		RetryPolicy: retry.NewExponentialBackoff(),
	}, &resp)

	require.True(t, resp.Successful)
	assert.Equal(t, "srv-123", resp.RequestID)
	assert.Equal(t, 200, resp.HTTPStatus)
	assert.Equal(t, 0, resp.NumRetries)

	assert.Equal(t, "DELETE", got.Method)
	assert.Equal(t, "/webhdfs/v1/a%20dir/file+1", got.URL.EscapedPath(),
		"space percent-encoded, '+' preserved literally")
	assert.Equal(t, "op=DELETE&recursive=true&api-version="+APIVersion, got.URL.RawQuery)
	assert.Equal(t, "Bearer test-token", got.Header.Get("Authorization"))
	assert.Equal(t, "lakestore-go-sdk/test", got.Header.Get("User-Agent"))
	assert.NotEmpty(t, got.Header.Get("x-ms-client-request-id"))

	require.NotNil(t, resp.ResponseStream)
	body, err := io.ReadAll(resp.ResponseStream)
	require.NoError(t, err)
	assert.JSONEq(t, `{"boolean": true}`, string(body))
	resp.ResponseStream.Close()
}

func TestCallPathPrefix(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	r := newTestRequester(srv)
	r.PathPrefix = "/tenants/alpha"

	var resp OperationResponse
	r.Call(OpGetFileStatus, "/data/x.txt", nil, nil, &RequestOptions{}, &resp)
	require.True(t, resp.Successful)
	assert.Equal(t, "/webhdfs/v1/tenants/alpha/data/x.txt", gotPath)
}

func TestCallExtensionNamespace(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer srv.Close()

	r := newTestRequester(srv)
	var resp OperationResponse
	r.Call(OpSetExpiry, "/f", nil, nil, &RequestOptions{}, &resp)
	require.True(t, resp.Successful)
	assert.Equal(t, "/webhdfsext/f", gotPath)
}

func TestCallRetriesAndCountsAttempts(t *testing.T) {
	var attempts atomic.Int32
	var requestIDs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestIDs = append(requestIDs, r.Header.Get("x-ms-client-request-id"))
		if attempts.Add(1) < 3 {
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	r := newTestRequester(srv)
	var resp OperationResponse
	r.Call(OpGetFileStatus, "/f", nil, nil, &RequestOptions{
		RetryPolicy: retry.NewExponentialBackoffWith(4, time.Millisecond, 2),
	}, &resp)

	require.True(t, resp.Successful)
	assert.Equal(t, 2, resp.NumRetries)
	assert.Equal(t, int32(3), attempts.Load())

	// Same UUID prefix on every attempt, with an incrementing suffix.
	require.Len(t, requestIDs, 3)
	assert.Equal(t, requestIDs[0]+".1", requestIDs[1])
	assert.Equal(t, requestIDs[0]+".2", requestIDs[2])
}

func TestCallRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := newTestRequester(srv)
	var resp OperationResponse
	r.Call(OpGetFileStatus, "/f", nil, nil, &RequestOptions{
		RetryPolicy: retry.NewExponentialBackoffWith(4, time.Millisecond, 2),
	}, &resp)

	require.False(t, resp.Successful)
	assert.Equal(t, 503, resp.HTTPStatus)
	assert.Equal(t, 4, resp.NumRetries)
	assert.Contains(t, resp.ExceptionHistory, "HTTP503")
}

func TestCallParsesRemoteException(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ms-request-id", "srv-9")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"RemoteException":{"exception":"FileNotFoundException",` +
			`"message":"File /f does not exist.",` +
			`"javaClassName":"java.io.FileNotFoundException"}}`))
	}))
	defer srv.Close()

	r := newTestRequester(srv)
	var resp OperationResponse
	r.Call(OpGetFileStatus, "/f", nil, nil, &RequestOptions{
		RetryPolicy: retry.NewExponentialBackoff(),
	}, &resp)

	require.False(t, resp.Successful)
	assert.Equal(t, 404, resp.HTTPStatus)
	assert.Equal(t, 0, resp.NumRetries, "404 is not retryable")
	assert.Equal(t, "FileNotFoundException", resp.RemoteExceptionName)
	assert.Equal(t, "File /f does not exist.", resp.RemoteExceptionMessage)
	assert.Equal(t, "java.io.FileNotFoundException", resp.RemoteExceptionClassName)
	assert.Equal(t, "srv-9", resp.RequestID)
}

func TestCallTokenFailureNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should never reach the server")
	}))
	defer srv.Close()

	r := newTestRequester(srv)
	r.Tokens = failingTokens{}

	var resp OperationResponse
	r.Call(OpGetFileStatus, "/f", nil, nil, &RequestOptions{
		RetryPolicy: retry.NewExponentialBackoffWith(4, time.Millisecond, 2),
	}, &resp)

	require.False(t, resp.Successful)
	assert.Equal(t, 0, resp.NumRetries)
	assert.True(t, IsAuthError(resp.Err))
	assert.Contains(t, resp.Err.Error(), "identity service unreachable")
}

func TestCallTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing is listening anymore

	r := newTestRequester(srv)
	r.HTTPClient = &http.Client{}
	var resp OperationResponse
	r.Call(OpGetFileStatus, "/f", nil, nil, &RequestOptions{
		RetryPolicy: retry.NewNoRetry(),
	}, &resp)

	require.False(t, resp.Successful)
	assert.Equal(t, 0, resp.HTTPStatus)
	require.Error(t, resp.Err)
}

func TestCallSendsBody(t *testing.T) {
	var gotBody []byte
	var gotContentLength int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentLength = r.ContentLength
	}))
	defer srv.Close()

	r := newTestRequester(srv)
	var resp OperationResponse
	r.Call(OpAppend, "/f", nil, []byte("payload"), &RequestOptions{}, &resp)
	require.True(t, resp.Successful)
	assert.Equal(t, []byte("payload"), gotBody)
	assert.Equal(t, int64(7), gotContentLength)

	// Zero-length marker append still ships an empty body.
	resp = OperationResponse{}
	r.Call(OpAppend, "/f", nil, nil, &RequestOptions{}, &resp)
	require.True(t, resp.Successful)
	assert.Equal(t, int64(0), gotContentLength)
}

func TestQueryParamsOrdering(t *testing.T) {
	qp := &QueryParams{}
	qp.Add("listSize", "4000")
	qp.Add("listAfter", "name with space")
	got := qp.Serialize(OpListStatus)
	assert.Equal(t,
		"op=LISTSTATUS&listSize=4000&listAfter=name%20with%20space&api-version="+APIVersion,
		got)
}
