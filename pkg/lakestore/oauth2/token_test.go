package oauth2

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenAboutToExpire(t *testing.T) {
	var nilToken *Token
	assert.True(t, nilToken.AboutToExpire())
	assert.True(t, (&Token{}).AboutToExpire(), "empty token counts as expired")
	assert.True(t, (&Token{AccessToken: "x"}).AboutToExpire(), "zero expiry counts as expired")
	assert.True(t, (&Token{
		AccessToken: "x",
		Expiry:      time.Now().Add(time.Minute),
	}).AboutToExpire(), "inside the five minute window")
	assert.False(t, (&Token{
		AccessToken: "x",
		Expiry:      time.Now().Add(time.Hour),
	}).AboutToExpire())
}

func TestClientCredsProviderCachesToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "my-app", r.Form.Get("client_id"))
		assert.Equal(t, "hunter2", r.Form.Get("client_secret"))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"expires_in":   "3600",
		})
	}))
	defer srv.Close()

	p := NewClientCredsTokenProvider(srv.URL, "my-app", "hunter2")

	tok, err := p.GetToken()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.AccessToken)

	// Second call must come from the cache.
	_, err = p.GetToken()
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProviderRefreshSerialized(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		if m := maxInFlight.Load(); n > m {
			maxInFlight.Store(n)
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok",
			"expires_in":   60, // stays inside the expiry window: refresh every call
		})
	}))
	defer srv.Close()

	p := NewClientCredsTokenProvider(srv.URL, "app", "secret")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.GetToken()
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load(), "at most one refresh in flight")
}

func TestRefreshTokenProviderForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "rt-0", r.Form.Get("refresh_token"))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "tok-2",
			"refresh_token": "rt-1",
			"expires_in":    "3600",
		})
	}))
	defer srv.Close()

	p := NewRefreshTokenProvider(srv.URL, "app", "rt-0")
	tok, err := p.GetToken()
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok.AccessToken)
	assert.Equal(t, "rt-1", tok.RefreshToken)
}

func TestTokenEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewClientCredsTokenProvider(srv.URL, "app", "wrong")
	_, err := p.GetToken()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestStaticTokenProvider(t *testing.T) {
	p := NewStaticTokenProvider("abc")
	tok, err := p.GetToken()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)
	assert.False(t, tok.AboutToExpire())
}
