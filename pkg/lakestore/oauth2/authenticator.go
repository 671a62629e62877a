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

// Convenience functions to obtain tokens from an OAuth 2.0 token endpoint.
// Using them is not required - any token source can back a TokenProvider.

var httpClient = &http.Client{Timeout: 30 * time.Second}

// tokenResponse is the standard OAuth 2.0 token endpoint response. expires_in
// is a string in some identity services, a number in others; RawMessage
// absorbs both.
type tokenResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresIn    json.RawMessage `json:"expires_in"`
	Error        string          `json:"error"`
	ErrorDesc    string          `json:"error_description"`
}

func (r *tokenResponse) expiresIn() (int64, error) {
	if len(r.ExpiresIn) == 0 {
		return 0, nil
	}
	s := strings.Trim(string(r.ExpiresIn), `"`)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// GetTokenUsingClientCreds obtains a token from the token endpoint using a
// service principal's client ID and secret.
func GetTokenUsingClientCreds(tokenEndpoint, clientID, clientSecret string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	return tokenCall(tokenEndpoint, form, nil)
}

// GetTokenUsingRefreshToken obtains a token from the token endpoint using a
// previously issued refresh token.
func GetTokenUsingRefreshToken(tokenEndpoint, clientID, refreshToken string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	if clientID != "" {
		form.Set("client_id", clientID)
	}
	return tokenCall(tokenEndpoint, form, nil)
}

// GetTokenFromMachineIdentity obtains a token from the local machine
// identity service (available on managed compute instances). The call is a
// GET with a Metadata header, per the identity-service contract.
func GetTokenFromMachineIdentity(identityEndpoint, clientID string) (*Token, error) {
	u, err := url.Parse(identityEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid identity endpoint %q: %w", identityEndpoint, err)
	}
	q := u.Query()
	q.Set("api-version", "2018-02-01")
	if clientID != "" {
		q.Set("client_id", clientID)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Metadata", "true")
	return doTokenRequest(req)
}

func tokenCall(tokenEndpoint string, form url.Values, extraHeaders map[string]string) (*Token, error) {
	req, err := http.NewRequest(http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}
	return doTokenRequest(req)
}

func doTokenRequest(req *http.Request) (*Token, error) {
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach token endpoint: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to acquire token, http response: %d %s",
			res.StatusCode, http.StatusText(res.StatusCode))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("malformed token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response contained no access token")
	}

	seconds, err := tr.expiresIn()
	if err != nil {
		return nil, fmt.Errorf("malformed expires_in in token response: %w", err)
	}

	t := &Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(seconds) * time.Second),
	}
	logger.Debug("acquired token, expires at %s", t.Expiry.Format(time.RFC3339))
	return t, nil
}
