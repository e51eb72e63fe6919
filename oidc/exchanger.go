package oidckit

import (
	"context"
	"errors"

	"github.com/zitadel/oidc/v2/pkg/client/rp"
	"github.com/zitadel/oidc/v2/pkg/oidc"
	"golang.org/x/oauth2"

	"github.com/open-rails/loginkit/core"
)

// Exchange redeems an authorization code with the retained PKCE verifier and
// returns the raw ID token, verified against the per-attempt nonce. The
// orchestrator hands the token to its store without interpreting it further.
func (f *Flow) Exchange(ctx context.Context, cfg core.OIDCConfig, req core.ExchangeRequest) (string, error) {
	rpClient, err := f.rp(cfg, req.RedirectURI)
	if err != nil {
		return "", core.WrapError(core.KindTransport, "could not reach the identity provider: "+err.Error(), err)
	}

	if f.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	}

	// The RP client's built-in verifier doesn't know about our per-request
	// nonce, so exchange via OAuth2 directly and verify the ID token with a
	// nonce-aware verifier afterwards.
	oauthConfig := rpClient.OAuthConfig()
	token, err := oauthConfig.Exchange(ctx, req.Code, oauth2.SetAuthURLParam("code_verifier", req.Verifier))
	if err != nil {
		return "", core.WrapError(core.KindExchange, exchangeErrorMessage(err), err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", core.NewError(core.KindExchange, "token response carries no id_token")
	}

	verifier := rp.NewIDTokenVerifier(
		rpClient.IDTokenVerifier().Issuer(),
		rpClient.IDTokenVerifier().ClientID(),
		rpClient.IDTokenVerifier().KeySet(),
		rp.WithNonce(func(context.Context) string { return req.Nonce }),
	)
	if _, err := rp.VerifyIDToken[*oidc.IDTokenClaims](ctx, rawIDToken, verifier); err != nil {
		return "", core.WrapError(core.KindExchange, "id_token verification failed: "+err.Error(), err)
	}
	return rawIDToken, nil
}

// exchangeErrorMessage surfaces the provider's error_description when the
// token endpoint rejected the code/verifier pair.
func exchangeErrorMessage(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorDescription != "" {
			return "token exchange rejected: " + re.ErrorDescription
		}
		if re.ErrorCode != "" {
			return "token exchange rejected: " + re.ErrorCode
		}
	}
	return "token exchange failed: " + err.Error()
}
