package lakestore

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// mockResponse is one canned server response.
type mockResponse struct {
	status int
	body   string
}

// recordedRequest captures what the SDK actually sent.
type recordedRequest struct {
	method string
	path   string
	query  url.Values
	body   []byte
	header http.Header
}

// mockServer hands out canned responses in FIFO order and records every
// request. When the queue is empty it answers 200 with an empty JSON
// object.
type mockServer struct {
	mu        sync.Mutex
	responses []mockResponse
	requests  []recordedRequest
	server    *httptest.Server
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		m.mu.Lock()
		m.requests = append(m.requests, recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			body:   body,
			header: r.Header.Clone(),
		})
		resp := mockResponse{status: 200, body: "{}"}
		if len(m.responses) > 0 {
			resp = m.responses[0]
			m.responses = m.responses[1:]
		}
		m.mu.Unlock()

		w.WriteHeader(resp.status)
		if resp.body != "" {
			w.Write([]byte(resp.body))
		}
	}))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockServer) enqueue(status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{status: status, body: body})
}

func (m *mockServer) recorded() []recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]recordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *mockServer) lastRequest(t *testing.T) recordedRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.requests, "no requests recorded")
	return m.requests[len(m.requests)-1]
}

// newTestClient wires a client to the mock server over plain http, with
// fast retries so failure tests stay quick.
func newTestClient(t *testing.T, m *mockServer) *Client {
	t.Helper()
	u, err := url.Parse(m.server.URL)
	require.NoError(t, err)

	client, err := NewClientWithToken(u.Host, "testDummyToken")
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.InsecureTransport = true
	opts.Backoff.InitialInterval = 1 // effectively no backoff wait
	opts.Backoff.Factor = 2
	require.NoError(t, client.SetOptions(opts))
	return client
}
