package lakestore

import (
	"time"
)

// SSLChannelMode selects the TLS implementation used by the transport
// collaborator for HTTPS calls.
type SSLChannelMode int

const (
	// SSLChannelModeDefault tries the OpenSSL-backed channel and falls
	// back to the platform default if it is unavailable.
	SSLChannelModeDefault SSLChannelMode = iota
	// SSLChannelModeOpenSSL requires the OpenSSL-backed channel.
	SSLChannelModeOpenSSL
	// SSLChannelModeDefaultTLS always uses the platform default channel.
	SSLChannelModeDefaultTLS
)

// Options configure the behavior of a Client. Apply them with
// Client.SetOptions. The zero value of each field means "leave unchanged",
// except where noted; build from DefaultOptions to be explicit.
type Options struct {
	// UserAgentSuffix is appended to the SDK's built-in User-Agent.
	UserAgentSuffix string

	// InsecureTransport switches the scheme to plain http. Only for
	// testing against mock or fake servers; the real service speaks
	// https only.
	InsecureTransport bool

	// SurfaceRemoteExceptions maps the server's remote exception class to
	// a typed sentinel error (see ErrFileNotFound and friends) instead of
	// only recording it in the Error fields.
	SurfaceRemoteExceptions bool

	// FilePathPrefix scopes the client to a subtree: the prefix is
	// prepended to every path used with this client. Must be absolute
	// and contain no empty segments.
	FilePathPrefix string

	// ReadAheadQueueDepth is the number of read-aheads queued ahead of
	// the sequential cursor by file readers. 0 disables prefetch; a
	// negative value keeps the built-in default.
	ReadAheadQueueDepth int

	// DefaultTimeout is the per-attempt timeout for server calls. Zero
	// keeps the current value.
	DefaultTimeout time.Duration

	// SSLChannelMode selects the TLS channel implementation. It is always
	// applied: the zero value selects SSLChannelModeDefault.
	SSLChannelMode SSLChannelMode

	// Backoff tunes the exponential-backoff retry policy used by
	// idempotent operations. Zero fields keep the defaults.
	Backoff BackoffOptions
}

// BackoffOptions tune the exponential-backoff retry policy.
type BackoffOptions struct {
	MaxRetries      int
	InitialInterval time.Duration
	Factor          int
}

// DefaultOptions returns an Options with every field set to "keep the
// default".
func DefaultOptions() Options {
	return Options{
		ReadAheadQueueDepth: -1,
	}
}
