// Package config loads LakeStore SDK configuration from YAML files and
// environment variables and turns it into client options and a token
// provider.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (LAKESTORE_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/openlake/lakestore/pkg/lakestore"
	"github.com/openlake/lakestore/pkg/lakestore/oauth2"
)

// Config is the complete SDK configuration: the account to talk to, how to
// authenticate, and the client tuning knobs.
type Config struct {
	// Account is the fully qualified domain name of the store account,
	// optionally with a port.
	Account string `mapstructure:"account" validate:"required"`

	// Auth selects and parameterizes the token provider.
	Auth AuthConfig `mapstructure:"auth"`

	// Client tunes the SDK client.
	Client ClientConfig `mapstructure:"client"`

	// Logging controls SDK log output.
	Logging LoggingConfig `mapstructure:"logging"`
}

// AuthConfig selects one of the supported authentication methods. Only the
// fields of the selected method are used.
type AuthConfig struct {
	// Method is one of: clientcredentials, refreshtoken, devicecode,
	// machineidentity, statictoken.
	Method string `mapstructure:"method" validate:"required,oneof=clientcredentials refreshtoken devicecode machineidentity statictoken"`

	// TokenEndpoint is the OAuth 2.0 token endpoint. Required for the
	// clientcredentials, refreshtoken and devicecode methods.
	TokenEndpoint string `mapstructure:"token_endpoint" validate:"omitempty,url"`

	// DeviceCodeEndpoint is the device-code issuance endpoint, for the
	// devicecode method.
	DeviceCodeEndpoint string `mapstructure:"device_code_endpoint" validate:"omitempty,url"`

	// IdentityEndpoint is the local identity-service endpoint, for the
	// machineidentity method.
	IdentityEndpoint string `mapstructure:"identity_endpoint" validate:"omitempty,url"`

	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	AccessToken  string `mapstructure:"access_token"`
}

// ClientConfig carries the recognized client options.
type ClientConfig struct {
	// FilePathPrefix scopes the client to a subtree. Must be absolute
	// with no empty segments.
	FilePathPrefix string `mapstructure:"file_path_prefix" validate:"omitempty,startswith=/,excludes=//"`

	// InsecureTransport switches to plain http, for tests only.
	InsecureTransport bool `mapstructure:"insecure_transport"`

	// SurfaceRemoteExceptions maps server exception classes to typed
	// sentinel errors.
	SurfaceRemoteExceptions bool `mapstructure:"surface_remote_exceptions"`

	// UserAgentSuffix is appended to the built-in user agent.
	UserAgentSuffix string `mapstructure:"user_agent_suffix"`

	// ReadAheadQueueDepth controls reader prefetch; 0 disables it, -1
	// keeps the built-in default.
	ReadAheadQueueDepth int `mapstructure:"read_ahead_queue_depth" validate:"gte=-1"`

	// DefaultTimeoutMS is the per-attempt request timeout.
	DefaultTimeoutMS int `mapstructure:"default_timeout_ms" validate:"gte=0"`

	// SSLChannelMode is one of: default, openssl, defaulttls.
	SSLChannelMode string `mapstructure:"ssl_channel_mode" validate:"omitempty,oneof=default openssl defaulttls"`

	// Backoff tunes the exponential retry policy.
	Backoff BackoffConfig `mapstructure:"backoff"`
}

// BackoffConfig tunes the exponential-backoff retry policy.
type BackoffConfig struct {
	MaxRetries        int `mapstructure:"max_retries" validate:"gte=0,lte=100"`
	InitialIntervalMS int `mapstructure:"initial_interval_ms" validate:"gte=0"`
	Factor            int `mapstructure:"factor" validate:"gte=0,lte=64"`
}

// LoggingConfig controls SDK log output.
type LoggingConfig struct {
	// Level is one of: trace, debug, info, warn, error.
	Level string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error"`
}

// Load reads configuration from the given file (optional; pass "" to use
// environment variables and defaults only), validates it, and returns it.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("auth.method", "statictoken")
	v.SetDefault("client.read_ahead_queue_depth", -1)
	v.SetDefault("client.ssl_channel_mode", "default")
	v.SetDefault("logging.level", "info")

	v.SetEnvPrefix("LAKESTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the structural rules plus the cross-field requirements
// of the selected auth method.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch c.Auth.Method {
	case "clientcredentials":
		if c.Auth.TokenEndpoint == "" || c.Auth.ClientID == "" || c.Auth.ClientSecret == "" {
			return fmt.Errorf("clientcredentials auth requires token_endpoint, client_id and client_secret")
		}
	case "refreshtoken":
		if c.Auth.TokenEndpoint == "" || c.Auth.RefreshToken == "" {
			return fmt.Errorf("refreshtoken auth requires token_endpoint and refresh_token")
		}
	case "devicecode":
		if c.Auth.TokenEndpoint == "" || c.Auth.DeviceCodeEndpoint == "" || c.Auth.ClientID == "" {
			return fmt.Errorf("devicecode auth requires token_endpoint, device_code_endpoint and client_id")
		}
	case "machineidentity":
		if c.Auth.IdentityEndpoint == "" {
			return fmt.Errorf("machineidentity auth requires identity_endpoint")
		}
	case "statictoken":
		if c.Auth.AccessToken == "" {
			return fmt.Errorf("statictoken auth requires access_token")
		}
	}
	return nil
}

// TokenProvider builds the token provider selected by the auth section.
// The devicecode method performs its interactive login here.
func (c *Config) TokenProvider() (oauth2.TokenProvider, error) {
	switch c.Auth.Method {
	case "clientcredentials":
		return oauth2.NewClientCredsTokenProvider(
			c.Auth.TokenEndpoint, c.Auth.ClientID, c.Auth.ClientSecret), nil
	case "refreshtoken":
		return oauth2.NewRefreshTokenProvider(
			c.Auth.TokenEndpoint, c.Auth.ClientID, c.Auth.RefreshToken), nil
	case "devicecode":
		return oauth2.NewDeviceCodeTokenProvider(
			c.Auth.DeviceCodeEndpoint, c.Auth.TokenEndpoint, c.Auth.ClientID, nil)
	case "machineidentity":
		return oauth2.NewMachineIdentityTokenProvider(
			c.Auth.IdentityEndpoint, c.Auth.ClientID), nil
	case "statictoken":
		return oauth2.NewStaticTokenProvider(c.Auth.AccessToken), nil
	default:
		return nil, fmt.Errorf("unknown auth method %q", c.Auth.Method)
	}
}

// ClientOptions converts the client section into lakestore.Options.
func (c *Config) ClientOptions() lakestore.Options {
	opts := lakestore.DefaultOptions()
	opts.FilePathPrefix = c.Client.FilePathPrefix
	opts.InsecureTransport = c.Client.InsecureTransport
	opts.SurfaceRemoteExceptions = c.Client.SurfaceRemoteExceptions
	opts.UserAgentSuffix = c.Client.UserAgentSuffix
	opts.ReadAheadQueueDepth = c.Client.ReadAheadQueueDepth
	if c.Client.DefaultTimeoutMS > 0 {
		opts.DefaultTimeout = time.Duration(c.Client.DefaultTimeoutMS) * time.Millisecond
	}
	switch c.Client.SSLChannelMode {
	case "openssl":
		opts.SSLChannelMode = lakestore.SSLChannelModeOpenSSL
	case "defaulttls":
		opts.SSLChannelMode = lakestore.SSLChannelModeDefaultTLS
	default:
		opts.SSLChannelMode = lakestore.SSLChannelModeDefault
	}
	opts.Backoff = lakestore.BackoffOptions{
		MaxRetries:      c.Client.Backoff.MaxRetries,
		InitialInterval: time.Duration(c.Client.Backoff.InitialIntervalMS) * time.Millisecond,
		Factor:          c.Client.Backoff.Factor,
	}
	return opts
}

// NewClient builds a fully configured client from this configuration.
func (c *Config) NewClient() (*lakestore.Client, error) {
	provider, err := c.TokenProvider()
	if err != nil {
		return nil, err
	}
	client, err := lakestore.NewClient(c.Account, provider)
	if err != nil {
		return nil, err
	}
	if err := client.SetOptions(c.ClientOptions()); err != nil {
		return nil, err
	}
	return client, nil
}
