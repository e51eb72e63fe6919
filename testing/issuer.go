// Package testing provides a fake OIDC provider for exercising the PKCE
// exchange end to end: discovery, JWKS, and a token endpoint that actually
// checks the S256 challenge against the presented verifier.
package testing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/open-rails/loginkit/core"
)

// TestIssuer is an in-process OIDC provider. Register a pending authorization
// with IssueCode, then let the exchanger redeem it at the token endpoint.
type TestIssuer struct {
	srv      *httptest.Server
	clientID string
	signKey  jwk.Key
	jwks     jwk.Set

	mu    sync.Mutex
	codes map[string]pendingCode
}

type pendingCode struct {
	challenge   string
	nonce       string
	redirectURI string
	subject     string
}

func NewTestIssuer(clientID string) *TestIssuer {
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	key, err := jwk.FromRaw(raw)
	if err != nil {
		panic(err)
	}
	_ = key.Set(jwk.KeyIDKey, "test-kid")
	_ = key.Set(jwk.AlgorithmKey, jwa.RS256)

	pub, err := key.PublicKey()
	if err != nil {
		panic(err)
	}
	set := jwk.NewSet()
	_ = set.AddKey(pub)

	i := &TestIssuer{
		clientID: clientID,
		signKey:  key,
		jwks:     set,
		codes:    make(map[string]pendingCode),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", i.handleDiscovery)
	mux.HandleFunc("/keys", i.handleJWKS)
	mux.HandleFunc("/oauth/token", i.handleToken)
	i.srv = httptest.NewServer(mux)
	return i
}

func (i *TestIssuer) URL() string          { return i.srv.URL }
func (i *TestIssuer) Client() *http.Client { return i.srv.Client() }
func (i *TestIssuer) Close()               { i.srv.Close() }

// OIDCConfig returns a settings entry pointing at this issuer.
func (i *TestIssuer) OIDCConfig() core.OIDCConfig {
	return core.OIDCConfig{
		Name:                     "Test IdP",
		Issuer:                   i.srv.URL,
		ClientID:                 i.clientID,
		Scopes:                   []string{"openid", "profile", "email"},
		EnablePKCEAuthentication: true,
	}
}

// IssueCode registers a pending authorization as if the user had just
// consented, and returns the authorization code the provider would redirect
// back with.
func (i *TestIssuer) IssueCode(subject, challenge, nonce, redirectURI string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	code := fmt.Sprintf("code-%d", len(i.codes)+1)
	i.codes[code] = pendingCode{challenge: challenge, nonce: nonce, redirectURI: redirectURI, subject: subject}
	return code
}

func (i *TestIssuer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                i.srv.URL,
		"authorization_endpoint":                i.srv.URL + "/oauth/authorize",
		"token_endpoint":                        i.srv.URL + "/oauth/token",
		"jwks_uri":                              i.srv.URL + "/keys",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"grant_types_supported":                 []string{"authorization_code"},
		"scopes_supported":                      []string{"openid", "profile", "email"},
		"code_challenge_methods_supported":      []string{"S256"},
	})
}

func (i *TestIssuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(i.jwks)
}

func (i *TestIssuer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request", "malformed form body")
		return
	}
	if r.PostForm.Get("grant_type") != "authorization_code" {
		tokenError(w, "unsupported_grant_type", "only authorization_code is supported")
		return
	}
	// oauth2 clients probe Basic auth before falling back to form params.
	clientID := r.PostForm.Get("client_id")
	if user, _, ok := r.BasicAuth(); ok && clientID == "" {
		clientID = user
	}
	if clientID != i.clientID {
		tokenError(w, "invalid_client", "unknown client "+clientID)
		return
	}

	i.mu.Lock()
	pending, ok := i.codes[r.PostForm.Get("code")]
	delete(i.codes, r.PostForm.Get("code"))
	i.mu.Unlock()
	if !ok {
		tokenError(w, "invalid_grant", "unknown or replayed authorization code")
		return
	}
	if uri := r.PostForm.Get("redirect_uri"); uri != pending.redirectURI {
		tokenError(w, "invalid_grant", "redirect_uri mismatch")
		return
	}

	// RFC 7636 S256 check: the verifier presented now must hash to the
	// challenge presented at authorization time.
	verifier := r.PostForm.Get("code_verifier")
	sum := sha256.Sum256([]byte(verifier))
	if verifier == "" || base64.RawURLEncoding.EncodeToString(sum[:]) != pending.challenge {
		tokenError(w, "invalid_grant", "PKCE verification failed")
		return
	}

	now := time.Now()
	tok, err := jwt.NewBuilder().
		Issuer(i.srv.URL).
		Subject(pending.subject).
		Audience([]string{i.clientID}).
		IssuedAt(now).
		Expiration(now.Add(time.Hour)).
		Claim("nonce", pending.nonce).
		Build()
	if err != nil {
		tokenError(w, "server_error", err.Error())
		return
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, i.signKey))
	if err != nil {
		tokenError(w, "server_error", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "test-access-token",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     string(signed),
	})
}

func tokenError(w http.ResponseWriter, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}
