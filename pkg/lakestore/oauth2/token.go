// Package oauth2 contains the token model and token providers used to
// authenticate LakeStore requests. A provider caches the last token it
// fetched and refreshes it when the token is within five minutes of expiry;
// refresh is serialized per provider instance so at most one refresh is in
// flight at a time.
package oauth2

import (
	"sync"
	"time"

	"github.com/openlake/lakestore/internal/logger"
)

// expiryWindow is how close to expiry a token may get before it is
// considered "about to expire". The allowance covers clock skew plus the
// time a refresh takes.
const expiryWindow = 5 * time.Minute

// Token is a bearer token for the store's REST surface.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// AboutToExpire reports whether the token expires within the refresh
// window. A zero expiry is treated as already expired.
func (t *Token) AboutToExpire() bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	if t.Expiry.IsZero() {
		return true
	}
	return t.Expiry.Before(time.Now().Add(expiryWindow))
}

// TokenProvider returns a currently-valid token on demand.
//
// GetToken may block (it can involve a network round trip) and must not be
// called with other locks held.
type TokenProvider interface {
	GetToken() (*Token, error)
}

// cachingProvider implements the shared cache-and-refresh behavior. The
// concrete providers only supply the refresh function.
type cachingProvider struct {
	mu      sync.Mutex
	token   *Token
	refresh func() (*Token, error)
}

func (p *cachingProvider) GetToken() (*Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token.AboutToExpire() {
		logger.Debug("token missing or expiring, refreshing")
		t, err := p.refresh()
		if err != nil {
			return nil, err
		}
		p.token = t
	}
	return p.token, nil
}
