package core

import (
	"context"
	"encoding/json"
	"time"
)

type EphemeralMode string

const (
	EphemeralMemory EphemeralMode = "memory"
	EphemeralRedis  EphemeralMode = "redis"
)

// EphemeralStore is a minimal key-value interface used for short-lived login
// state. Implementations should honor TTL on Set and treat missing keys as
// (found=false, err=nil).
type EphemeralStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

const keyPKCESession = "login:pkce:state:"

// DefaultPKCESessionTTL bounds how long an unclaimed PKCE session survives in
// storage. An abandoned authorization redirect simply expires.
const DefaultPKCESessionTTL = 10 * time.Minute

// PKCESession is the per-attempt secret material that must survive the full
// browser navigation to the provider and back. It is persisted keyed by its
// state nonce and claimed exactly once on callback.
//
// The verifier is never sent to the authorization endpoint; it leaves this
// struct only as the code_verifier of the token exchange.
type PKCESession struct {
	AttemptID   string    `json:"attempt_id"`
	State       string    `json:"state"`
	Verifier    string    `json:"verifier"`
	Nonce       string    `json:"nonce"`
	RedirectURI string    `json:"redirect_uri"`
	ReturnURL   string    `json:"return_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// PKCEStore persists PKCESessions across the redirect boundary.
type PKCEStore struct {
	store EphemeralStore
	ttl   time.Duration
}

// NewPKCEStore wraps an EphemeralStore. A non-positive ttl falls back to
// DefaultPKCESessionTTL.
func NewPKCEStore(store EphemeralStore, ttl time.Duration) *PKCEStore {
	if ttl <= 0 {
		ttl = DefaultPKCESessionTTL
	}
	return &PKCEStore{store: store, ttl: ttl}
}

func (p *PKCEStore) Put(ctx context.Context, state string, sess PKCESession) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, keyPKCESession+state, b, p.ttl)
}

// Claim reads and deletes the session stored under state. The delete happens
// before the caller sees the session, so a replayed callback can never reuse
// the same verifier.
func (p *PKCEStore) Claim(ctx context.Context, state string) (PKCESession, bool, error) {
	var sess PKCESession
	b, ok, err := p.store.Get(ctx, keyPKCESession+state)
	if err != nil || !ok {
		return sess, false, err
	}
	_ = p.store.Del(ctx, keyPKCESession+state)
	if err := json.Unmarshal(b, &sess); err != nil {
		return PKCESession{}, false, err
	}
	return sess, true, nil
}

// Discard removes the session stored under state, if any.
func (p *PKCEStore) Discard(ctx context.Context, state string) {
	_ = p.store.Del(ctx, keyPKCESession+state)
}
