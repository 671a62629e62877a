package oauth2

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/openlake/lakestore/internal/logger"
)

// StaticTokenProvider wraps a fixed access token. Useful for tests and for
// callers that manage token refresh themselves.
type StaticTokenProvider struct {
	token Token
}

func NewStaticTokenProvider(accessToken string) *StaticTokenProvider {
	return &StaticTokenProvider{token: Token{
		AccessToken: accessToken,
		// far-future expiry so the token is never considered expiring
		Expiry: time.Now().Add(24 * 365 * time.Hour),
	}}
}

func (p *StaticTokenProvider) GetToken() (*Token, error) {
	return &p.token, nil
}

// ClientCredsTokenProvider fetches tokens using a service principal's
// client ID and secret.
type ClientCredsTokenProvider struct {
	cachingProvider
}

func NewClientCredsTokenProvider(tokenEndpoint, clientID, clientSecret string) *ClientCredsTokenProvider {
	p := &ClientCredsTokenProvider{}
	p.refresh = func() (*Token, error) {
		logger.Debug("refreshing client-credential based token")
		return GetTokenUsingClientCreds(tokenEndpoint, clientID, clientSecret)
	}
	return p
}

// RefreshTokenProvider fetches tokens using a previously issued refresh
// token.
type RefreshTokenProvider struct {
	cachingProvider
}

func NewRefreshTokenProvider(tokenEndpoint, clientID, refreshToken string) *RefreshTokenProvider {
	p := &RefreshTokenProvider{}
	p.refresh = func() (*Token, error) {
		logger.Debug("refreshing refresh-token based token")
		return GetTokenUsingRefreshToken(tokenEndpoint, clientID, refreshToken)
	}
	return p
}

// MachineIdentityTokenProvider fetches tokens from the local machine
// identity service available on managed compute instances.
type MachineIdentityTokenProvider struct {
	cachingProvider
}

func NewMachineIdentityTokenProvider(identityEndpoint, clientID string) *MachineIdentityTokenProvider {
	p := &MachineIdentityTokenProvider{}
	p.refresh = func() (*Token, error) {
		logger.Debug("refreshing token from machine identity service")
		return GetTokenFromMachineIdentity(identityEndpoint, clientID)
	}
	return p
}

// DeviceCodeInfo describes a pending device-code login: the code the user
// must enter and where to enter it.
type DeviceCodeInfo struct {
	UserCode        string
	VerificationURL string
	Message         string
	DeviceCode      string
	PollingInterval time.Duration
	Expiry          time.Time
}

// DeviceCodeCallback presents the device-code login prompt to the user.
// The default implementation prints the endpoint's message to stdout.
type DeviceCodeCallback func(info DeviceCodeInfo)

func defaultDeviceCodeCallback(info DeviceCodeInfo) {
	fmt.Println(info.Message)
}

// DeviceCodeTokenProvider drives an interactive device-code login once,
// then keeps refreshing with the refresh token it obtained.
type DeviceCodeTokenProvider struct {
	cachingProvider
}

// NewDeviceCodeTokenProvider performs the interactive login eagerly so that
// the user prompt happens at construction, not in the middle of the first
// store operation.
func NewDeviceCodeTokenProvider(deviceCodeEndpoint, tokenEndpoint, clientID string, callback DeviceCodeCallback) (*DeviceCodeTokenProvider, error) {
	if callback == nil {
		callback = defaultDeviceCodeCallback
	}

	first, err := getTokenUsingDeviceCode(deviceCodeEndpoint, tokenEndpoint, clientID, callback)
	if err != nil {
		return nil, err
	}

	p := &DeviceCodeTokenProvider{}
	p.token = first
	refreshToken := first.RefreshToken
	p.refresh = func() (*Token, error) {
		logger.Debug("refreshing device-code based token")
		t, err := GetTokenUsingRefreshToken(tokenEndpoint, clientID, refreshToken)
		if err != nil {
			return nil, err
		}
		if t.RefreshToken != "" {
			refreshToken = t.RefreshToken
		}
		return t, nil
	}
	return p, nil
}

func getTokenUsingDeviceCode(deviceCodeEndpoint, tokenEndpoint, clientID string, callback DeviceCodeCallback) (*Token, error) {
	info, err := getDeviceCodeInfo(deviceCodeEndpoint, clientID)
	if err != nil {
		return nil, err
	}
	logger.Debug("obtained device code, prompting user to log in")
	callback(info)
	return pollForDeviceCodeToken(tokenEndpoint, clientID, info)
}

func getDeviceCodeInfo(deviceCodeEndpoint, clientID string) (DeviceCodeInfo, error) {
	form := url.Values{}
	form.Set("client_id", clientID)

	res, err := httpClient.PostForm(deviceCodeEndpoint, form)
	if err != nil {
		return DeviceCodeInfo{}, fmt.Errorf("failed to reach device code endpoint: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return DeviceCodeInfo{}, err
	}
	if res.StatusCode != http.StatusOK {
		return DeviceCodeInfo{}, fmt.Errorf("failed to obtain device code, http response: %d", res.StatusCode)
	}

	var dc struct {
		UserCode        string          `json:"user_code"`
		DeviceCode      string          `json:"device_code"`
		VerificationURL string          `json:"verification_url"`
		Message         string          `json:"message"`
		Interval        json.RawMessage `json:"interval"`
		ExpiresIn       json.RawMessage `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &dc); err != nil {
		return DeviceCodeInfo{}, fmt.Errorf("malformed device code response: %w", err)
	}
	interval := rawSeconds(dc.Interval)
	if interval <= 0 {
		interval = 5
	}
	return DeviceCodeInfo{
		UserCode:        dc.UserCode,
		DeviceCode:      dc.DeviceCode,
		VerificationURL: dc.VerificationURL,
		Message:         dc.Message,
		PollingInterval: time.Duration(interval) * time.Second,
		Expiry:          time.Now().Add(time.Duration(rawSeconds(dc.ExpiresIn)) * time.Second),
	}, nil
}

// rawSeconds parses a duration-in-seconds field that identity services send
// either as a JSON number or a quoted string. Returns 0 on anything else.
func rawSeconds(raw json.RawMessage) int64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func pollForDeviceCodeToken(tokenEndpoint, clientID string, info DeviceCodeInfo) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "device_code")
	form.Set("client_id", clientID)
	form.Set("code", info.DeviceCode)

	for time.Now().Before(info.Expiry) {
		time.Sleep(info.PollingInterval)

		req, err := http.NewRequest(http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		res, err := httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to reach token endpoint: %w", err)
		}
		body, readErr := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		res.Body.Close()
		if readErr != nil {
			return nil, readErr
		}

		var tr tokenResponse
		if err := json.Unmarshal(body, &tr); err != nil {
			return nil, fmt.Errorf("malformed token response: %w", err)
		}

		if res.StatusCode == http.StatusOK && tr.AccessToken != "" {
			seconds, err := tr.expiresIn()
			if err != nil {
				return nil, fmt.Errorf("malformed expires_in in token response: %w", err)
			}
			return &Token{
				AccessToken:  tr.AccessToken,
				RefreshToken: tr.RefreshToken,
				Expiry:       time.Now().Add(time.Duration(seconds) * time.Second),
			}, nil
		}
		if tr.Error == "authorization_pending" {
			continue // user has not finished logging in yet
		}
		return nil, fmt.Errorf("device code login failed: %s (%s)", tr.Error, tr.ErrorDesc)
	}
	return nil, fmt.Errorf("device code login timed out waiting for user")
}
