// Package lakestore is the client SDK for LakeStore, a hierarchical
// append-only blob store exposed over an HTTPS REST surface. The Client is
// the entry point: it creates buffered readers and writers for file data,
// enumerates and mutates directory trees, manipulates POSIX-style ACLs and
// aggregates directory statistics.
package lakestore

import (
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openlake/lakestore/internal/core"
	"github.com/openlake/lakestore/internal/latency"
	"github.com/openlake/lakestore/internal/logger"
	"github.com/openlake/lakestore/pkg/lakestore/oauth2"
	"github.com/openlake/lakestore/pkg/lakestore/retry"
	"github.com/openlake/lakestore/pkg/metrics"
)

const sdkVersion = "1.4.0"

var clientIDCounter atomic.Int64

var baseUserAgent = fmt.Sprintf("LakeStoreGoSDK-%s/%s-%s/%s",
	sdkVersion, runtime.GOOS, runtime.GOARCH, runtime.Version())

// Client is a client to one LakeStore account. It is safe for concurrent
// use; the streams it hands out are not (each stream belongs to a single
// caller).
type Client struct {
	accountFQDN string
	clientID    int64
	httpClient  *http.Client
	metrics     metrics.ClientMetrics

	// tokenProvider is non-nil when the client refreshes its own tokens;
	// otherwise accessToken holds a caller-managed bearer value.
	tokenProvider oauth2.TokenProvider

	mu          sync.Mutex // guards the mutable options below
	accessToken string     // full "Bearer ..." value when tokenProvider is nil
	userAgent   string
	proto       string
	pathPrefix  string // URL-encoded, no trailing slash, "" when unscoped
	timeout     time.Duration

	readAheadQueueDepth     int // negative: reader default applies
	surfaceRemoteExceptions bool
	sslChannelMode          SSLChannelMode

	maxRetries    int
	retryInterval time.Duration
	retryFactor   int

	// disableReadAheads is flipped when the server reports that
	// speculative reads are unsupported; it stays set for the lifetime of
	// the client.
	disableReadAheads atomic.Bool
}

func newClient(accountFQDN string, provider oauth2.TokenProvider, accessToken string) *Client {
	c := &Client{
		accountFQDN:         accountFQDN,
		clientID:            clientIDCounter.Add(1),
		httpClient:          &http.Client{},
		metrics:             metrics.NewClientMetrics(),
		tokenProvider:       provider,
		accessToken:         accessToken,
		userAgent:           baseUserAgent,
		proto:               "https",
		timeout:             60 * time.Second,
		readAheadQueueDepth: -1,
		maxRetries:          4,
		retryInterval:       1000 * time.Millisecond,
		retryFactor:         4,
	}
	logger.Debug("client %d created for account %s (sdk %s)", c.clientID, accountFQDN, sdkVersion)
	return c
}

// NewClient creates a client for the given account using a token provider
// for authentication.
//
// accountFQDN is the fully qualified domain name of the account, for
// example "contoso.lakestore.example.com", optionally with a port.
func NewClient(accountFQDN string, provider oauth2.TokenProvider) (*Client, error) {
	if strings.TrimSpace(accountFQDN) == "" {
		return nil, fmt.Errorf("account name is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("token provider is required")
	}
	return newClient(accountFQDN, provider, ""), nil
}

// NewClientWithToken creates a client using a fixed access token managed
// by the caller. Use UpdateToken to replace the token when it expires.
func NewClientWithToken(accountFQDN, accessToken string) (*Client, error) {
	if strings.TrimSpace(accountFQDN) == "" {
		return nil, fmt.Errorf("account name is required")
	}
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}
	return newClient(accountFQDN, nil, "Bearer "+accessToken), nil
}

// UpdateToken replaces the access token on a client constructed with
// NewClientWithToken. Useful when the client lives longer than one token.
func (c *Client) UpdateToken(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = "Bearer " + accessToken
	logger.Debug("token updated for client %d", c.clientID)
}

// AuthorizationValue returns the Authorization header value for the next
// request. Implements the request engine's token source.
func (c *Client) AuthorizationValue() (string, error) {
	if c.tokenProvider != nil {
		token, err := c.tokenProvider.GetToken()
		if err != nil {
			return "", err
		}
		return "Bearer " + token.AccessToken, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, nil
}

// SetOptions applies configuration to the client. Options touching
// identity (path prefix) validate eagerly and return an error without
// applying anything else.
func (c *Client) SetOptions(o Options) error {
	encodedPrefix := ""
	if o.FilePathPrefix != "" {
		var err error
		encodedPrefix, err = encodePathPrefix(o.FilePathPrefix)
		if err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if encodedPrefix != "" {
		c.pathPrefix = encodedPrefix
	}
	if o.InsecureTransport {
		c.proto = "http"
	}
	if o.SurfaceRemoteExceptions {
		c.surfaceRemoteExceptions = true
	}
	if o.UserAgentSuffix != "" {
		c.userAgent = baseUserAgent + "/" + o.UserAgentSuffix
	}
	if o.ReadAheadQueueDepth >= 0 {
		c.readAheadQueueDepth = o.ReadAheadQueueDepth
	}
	if o.DefaultTimeout > 0 {
		c.timeout = o.DefaultTimeout
	}
	c.sslChannelMode = o.SSLChannelMode
	if o.Backoff.MaxRetries > 0 {
		c.maxRetries = o.Backoff.MaxRetries
	}
	if o.Backoff.InitialInterval > 0 {
		c.retryInterval = o.Backoff.InitialInterval
	}
	if o.Backoff.Factor > 0 {
		c.retryFactor = o.Backoff.Factor
	}
	return nil
}

// encodePathPrefix normalizes and URL-encodes a file path prefix: it must
// not contain empty segments, gains a leading slash if missing, and loses
// any trailing slash.
func encodePathPrefix(prefix string) (string, error) {
	if prefix == "/" {
		return "", nil // no prefix
	}
	if strings.Contains(prefix, "//") {
		return "", fmt.Errorf("prefix cannot contain empty path element: %s", prefix)
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return (&url.URL{Path: prefix}).EscapedPath(), nil
}

// DisableLatencyTelemetry turns off the client-latency piggybacking for
// the whole process. This is one-way.
func (c *Client) DisableLatencyTelemetry() {
	latency.Disable()
}

// SSLChannelMode returns the configured TLS channel mode.
func (c *Client) SSLChannelMode() SSLChannelMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sslChannelMode
}

// DefaultTimeout returns the per-attempt timeout used for server calls.
func (c *Client) DefaultTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// ClientID returns the unique number of this client within the process.
func (c *Client) ClientID() int64 {
	return c.clientID
}

// requester snapshots the client state into a request engine instance.
// Taking a snapshot per call keeps option reads race-free without locking
// inside the engine.
func (c *Client) requester() *core.Requester {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &core.Requester{
		Account:    c.accountFQDN,
		Tokens:     c,
		UserAgent:  c.userAgent,
		Proto:      c.proto,
		PathPrefix: c.pathPrefix,
		ClientID:   c.clientID,
		HTTPClient: c.httpClient,
		Metrics:    c.metrics,
	}
}

func (c *Client) exponentialPolicy() retry.Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return retry.NewExponentialBackoffWith(c.maxRetries, c.retryInterval, c.retryFactor)
}

func (c *Client) defaultRequestOptions(policy retry.Policy) *core.RequestOptions {
	return &core.RequestOptions{
		Timeout:     c.DefaultTimeout(),
		RetryPolicy: policy,
	}
}

func (c *Client) readAheadDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readAheadQueueDepth
}

func (c *Client) surfaceRemoteExceptionsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surfaceRemoteExceptions
}

// validatePath checks the path rules shared by every operation: absolute,
// and no empty segments.
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path must be absolute: %s", path)
	}
	if path != "/" && strings.Contains(path, "//") {
		return fmt.Errorf("path cannot contain empty segments: %s", path)
	}
	return nil
}
