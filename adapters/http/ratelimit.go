package authhttp

import (
	"net/http"
	"strings"
	"time"

	memorylimiter "github.com/open-rails/loginkit/ratelimit/memory"
)

// RateLimiter is a minimal interface used by the login endpoints.
type RateLimiter interface {
	AllowNamed(bucket string, key string) (bool, error)
}

// ClientIPFunc extracts the client IP used as the rate-limit key and recorded
// on sign-in events.
type ClientIPFunc func(r *http.Request) string

// Rate limit bucket names.
const (
	RLPasswordLogin = "password_login"
	RLSSOStart      = "sso_start"
	RLPKCECallback  = "pkce_callback"
)

// DefaultRateLimits returns the built-in per-endpoint limits, enforced per
// client IP. Hosts can override via WithRateLimiter.
func DefaultRateLimits() map[string]Limit {
	return map[string]Limit{
		"default":       {Limit: 120, Window: time.Minute},
		RLPasswordLogin: {Limit: 20, Window: time.Hour},
		RLSSOStart:      {Limit: 30, Window: 10 * time.Minute},
		RLPKCECallback:  {Limit: 60, Window: 10 * time.Minute},
	}
}

// Limit configures a named rate limit bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

func ToMemoryLimits(in map[string]Limit) map[string]memorylimiter.Limit {
	out := make(map[string]memorylimiter.Limit, len(in))
	for k, v := range in {
		out[k] = memorylimiter.Limit{Limit: v.Limit, Window: v.Window}
	}
	return out
}

// allow applies a per-IP limit using the provided bucket name. It fails open
// on limiter error.
func (s *Service) allow(r *http.Request, bucket string) bool {
	if s == nil || s.rl == nil {
		return true
	}
	ipFn := s.clientIP
	if ipFn == nil {
		ipFn = defaultClientIP
	}
	ip := ipFn(r)
	if strings.TrimSpace(ip) == "" {
		return true
	}
	key := "login:" + bucket + ":ip:" + ip
	ok, err := s.rl.AllowNamed(bucket, key)
	if err != nil {
		return true
	}
	return ok
}
