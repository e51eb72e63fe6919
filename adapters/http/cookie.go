package authhttp

import (
	"context"
	"net/http"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// SessionCookieName carries the opaque session token issued by the backend or
// the identity provider.
const SessionCookieName = "loginkit.token"

// cookieTokenStore realizes the orchestrator's TokenStore as a session cookie
// on the current response.
type cookieTokenStore struct {
	w http.ResponseWriter
	r *http.Request
}

func newCookieTokenStore(w http.ResponseWriter, r *http.Request) *cookieTokenStore {
	return &cookieTokenStore{w: w, r: r}
}

func (c *cookieTokenStore) Put(ctx context.Context, token string) error {
	_ = ctx
	cookie := &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   requestScheme(c.r) == "https",
	}
	// The token is opaque to us, but when it happens to be a JWT its expiry
	// bounds the cookie lifetime. Otherwise a session cookie is fine.
	if exp, ok := tokenExpiry(token); ok {
		if ttl := time.Until(exp); ttl > 0 {
			cookie.MaxAge = int(ttl.Seconds())
		}
	}
	http.SetCookie(c.w, cookie)
	return nil
}

func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
