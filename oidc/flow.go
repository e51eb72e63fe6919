// Package oidckit wires the login orchestrator to a standards-compliant
// OIDC provider using the zitadel relying-party helpers.
package oidckit

import (
	"context"
	"net/http"

	"github.com/zitadel/oidc/v2/pkg/client/rp"

	"github.com/open-rails/loginkit/core"
)

// DefaultScopes are requested when the settings document names none.
var DefaultScopes = []string{"openid", "profile", "email"}

// Flow builds authorization URLs and redeems authorization codes for a
// public (secret-less) client. It implements core.AuthCodeFlow.
type Flow struct {
	httpClient *http.Client
}

// Option configures a Flow.
type Option func(*Flow)

// WithHTTPClient sets the HTTP client used for discovery, JWKS fetches and
// the token exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Flow) { f.httpClient = c }
}

func NewFlow(opts ...Option) *Flow {
	f := &Flow{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// rp initializes a relying party from issuer discovery. The client secret is
// always empty: the browser-native flow is a public client and PKCE replaces
// the secret.
func (f *Flow) rp(cfg core.OIDCConfig, redirectURI string) (rp.RelyingParty, error) {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	var opts []rp.Option
	if f.httpClient != nil {
		opts = append(opts, rp.WithHTTPClient(f.httpClient))
	}
	return rp.NewRelyingPartyOIDC(cfg.Issuer, cfg.ClientID, "", redirectURI, scopes, opts...)
}

// AuthURL returns the provider's authorization URL carrying the S256 code
// challenge, state and nonce. The verifier never appears here.
func (f *Flow) AuthURL(ctx context.Context, cfg core.OIDCConfig, req core.AuthRequest) (string, error) {
	rpClient, err := f.rp(cfg, req.RedirectURI)
	if err != nil {
		return "", err
	}
	method := req.Method
	if method == "" {
		method = "S256"
	}
	opts := []rp.AuthURLOpt{
		rp.WithCodeChallenge(req.CodeChallenge),
		rp.AuthURLOpt(rp.WithURLParam("code_challenge_method", method)),
		rp.AuthURLOpt(rp.WithURLParam("nonce", req.Nonce)),
	}
	return rp.AuthURL(req.State, rpClient, opts...), nil
}
