package core

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	memorystore "github.com/open-rails/loginkit/storage/memory"
)

const testOrigin = "https://app.example"

type fakeSettings struct {
	doc   *AuthSettings
	err   error
	calls int
}

func (f *fakeSettings) AuthSettings(ctx context.Context) (*AuthSettings, error) {
	f.calls++
	return f.doc, f.err
}

type fakeCreds struct {
	token    string
	err      error
	gotUser  string
	gotPass  string
	attempts int
}

func (f *fakeCreds) Login(ctx context.Context, username, password string) (string, error) {
	f.attempts++
	f.gotUser, f.gotPass = username, password
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type fakeTokens struct {
	stored []string
	err    error
}

func (f *fakeTokens) Put(ctx context.Context, token string) error {
	if f.err != nil {
		return f.err
	}
	f.stored = append(f.stored, token)
	return nil
}

type fakeFlow struct {
	authErr   error
	idToken   string
	exchErr   error
	authReq   AuthRequest
	exchReq   ExchangeRequest
	exchCalls int
}

func (f *fakeFlow) AuthURL(ctx context.Context, cfg OIDCConfig, req AuthRequest) (string, error) {
	f.authReq = req
	if f.authErr != nil {
		return "", f.authErr
	}
	return cfg.Issuer + "/authorize?state=" + req.State, nil
}

func (f *fakeFlow) Exchange(ctx context.Context, cfg OIDCConfig, req ExchangeRequest) (string, error) {
	f.exchCalls++
	f.exchReq = req
	if f.exchErr != nil {
		return "", f.exchErr
	}
	return f.idToken, nil
}

type fakeSignins struct {
	events []SigninEvent
}

func (f *fakeSignins) RecordSignin(ctx context.Context, ev SigninEvent) {
	f.events = append(f.events, ev)
}

func passwordSettings() *AuthSettings { return &AuthSettings{} }

func pkceSettings() *AuthSettings {
	return &AuthSettings{
		OIDCConfig: &OIDCConfig{
			Name:                     "Okta",
			Issuer:                   "https://idp.example",
			ClientID:                 "client-1",
			EnablePKCEAuthentication: true,
		},
	}
}

func dexSettings() *AuthSettings {
	return &AuthSettings{
		DexConfig: &DexConfig{Connectors: []Connector{{Name: "GitHub", Type: "github"}}},
	}
}

func activate(t *testing.T, o *Orchestrator, query url.Values) {
	t.Helper()
	require.NoError(t, o.Activate(context.Background(), testOrigin, query))
}

func TestActivateTransitionsToReady(t *testing.T) {
	o := New(Config{}, Deps{Settings: &fakeSettings{doc: passwordSettings()}})
	require.Equal(t, StateIdle, o.CurrentState())

	activate(t, o, url.Values{"return_url": {"/settings"}})
	require.Equal(t, StateReady, o.CurrentState())
	require.Equal(t, PathPasswordOnly, o.LoginPath())
	require.False(t, o.HasSSOError())
}

func TestActivateDisabledWhenNothingIsAvailable(t *testing.T) {
	doc := &AuthSettings{UserLoginsDisabled: true}
	o := New(Config{}, Deps{Settings: &fakeSettings{doc: doc}})

	activate(t, o, url.Values{})
	require.Equal(t, StateDisabled, o.CurrentState())
	require.Equal(t, PathDisabled, o.LoginPath())
}

func TestActivateReadsSSOErrorFlag(t *testing.T) {
	o := New(Config{}, Deps{Settings: &fakeSettings{doc: passwordSettings()}})
	activate(t, o, url.Values{"has_sso_error": {"true"}})
	require.True(t, o.HasSSOError())
}

func TestSubmitPasswordSuccess(t *testing.T) {
	creds := &fakeCreds{token: "session-token"}
	tokens := &fakeTokens{}
	signins := &fakeSignins{}
	o := New(Config{}, Deps{
		Settings:    &fakeSettings{doc: passwordSettings()},
		Credentials: creds,
		Tokens:      tokens,
		Signins:     signins,
	})
	activate(t, o, url.Values{"return_url": {"/settings?tab=accounts"}, "has_sso_error": {"true"}})

	dest, err := o.SubmitPassword(context.Background(), "admin", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "/settings?tab=accounts", dest)
	require.Equal(t, StateAuthenticated, o.CurrentState())
	require.Equal(t, []string{"session-token"}, tokens.stored)
	require.Equal(t, "admin", creds.gotUser)

	// A fresh submission invalidates the stale SSO failure banner.
	require.False(t, o.HasSSOError())

	require.Len(t, signins.events, 1)
	require.True(t, signins.events[0].Succeeded)
	require.Equal(t, SigninMethodPassword, signins.events[0].Method)
	require.Equal(t, "admin", signins.events[0].Username)
}

func TestSigninEventCarriesSourceIP(t *testing.T) {
	signins := &fakeSignins{}
	o := New(Config{}, Deps{
		Settings:    &fakeSettings{doc: passwordSettings()},
		Credentials: &fakeCreds{token: "session-token"},
		Tokens:      &fakeTokens{},
		Signins:     signins,
	}).WithSourceIP("10.0.0.9")
	activate(t, o, url.Values{})

	_, err := o.SubmitPassword(context.Background(), "admin", "hunter2")
	require.NoError(t, err)
	require.Len(t, signins.events, 1)
	require.Equal(t, "10.0.0.9", signins.events[0].SourceIP)
}

func TestSubmitPasswordRejectsEmptyInput(t *testing.T) {
	creds := &fakeCreds{}
	o := New(Config{}, Deps{Settings: &fakeSettings{doc: passwordSettings()}, Credentials: creds})
	activate(t, o, url.Values{})

	_, err := o.SubmitPassword(context.Background(), "  ", "")
	require.True(t, IsKind(err, KindValidation))
	require.Zero(t, creds.attempts, "an empty pair must never reach the wire")
	require.Equal(t, StateReady, o.CurrentState())
}

func TestSubmitPasswordCredentialFailure(t *testing.T) {
	creds := &fakeCreds{err: NewError(KindCredential, "invalid username or password")}
	signins := &fakeSignins{}
	o := New(Config{}, Deps{
		Settings:    &fakeSettings{doc: passwordSettings()},
		Credentials: creds,
		Tokens:      &fakeTokens{},
		Signins:     signins,
	})
	activate(t, o, url.Values{})

	_, err := o.SubmitPassword(context.Background(), "admin", "wrong")
	require.True(t, IsKind(err, KindCredential))
	require.EqualError(t, err, "invalid username or password")
	require.Equal(t, StateFailed, o.CurrentState())
	require.Equal(t, KindCredential, o.LastError().Kind)

	require.Len(t, signins.events, 1)
	require.False(t, signins.events[0].Succeeded)
	require.Equal(t, KindCredential, signins.events[0].ErrorKind)
}

func TestSubmitPasswordAllowsRetryAfterFailure(t *testing.T) {
	creds := &fakeCreds{err: errors.New("connection refused")}
	o := New(Config{}, Deps{
		Settings:    &fakeSettings{doc: passwordSettings()},
		Credentials: creds,
		Tokens:      &fakeTokens{},
	})
	activate(t, o, url.Values{})

	_, err := o.SubmitPassword(context.Background(), "admin", "hunter2")
	require.True(t, IsKind(err, KindTransport))

	creds.err = nil
	creds.token = "session-token"
	dest, err := o.SubmitPassword(context.Background(), "admin", "hunter2")
	require.NoError(t, err)
	require.Equal(t, DefaultDestination, dest)
	require.Nil(t, o.LastError())
}

func TestSubmitPasswordBeforeActivate(t *testing.T) {
	o := New(Config{}, Deps{Settings: &fakeSettings{doc: passwordSettings()}, Credentials: &fakeCreds{}})
	_, err := o.SubmitPassword(context.Background(), "admin", "hunter2")
	require.ErrorIs(t, err, ErrNotReady)
}

func TestSubmitPasswordRejectsConcurrentAttempt(t *testing.T) {
	o := New(Config{}, Deps{Settings: &fakeSettings{doc: passwordSettings()}, Credentials: &fakeCreds{}})
	activate(t, o, url.Values{})

	o.mu.Lock()
	o.inFlight = true
	o.mu.Unlock()

	_, err := o.SubmitPassword(context.Background(), "admin", "hunter2")
	require.ErrorIs(t, err, ErrAttemptInProgress)
}

func TestBeginSSOServerMediated(t *testing.T) {
	o := New(Config{}, Deps{Settings: &fakeSettings{doc: dexSettings()}})
	activate(t, o, url.Values{"return_url": {"/settings"}})

	dest, err := o.BeginSSO(context.Background())
	require.NoError(t, err)
	require.Equal(t, "/auth/login?return_url=%2Fsettings", dest)
}

func TestBeginSSOServerMediatedRejectsForeignReturnURL(t *testing.T) {
	o := New(Config{}, Deps{Settings: &fakeSettings{doc: dexSettings()}})
	activate(t, o, url.Values{"return_url": {"https://evil.example/phish"}})

	dest, err := o.BeginSSO(context.Background())
	require.NoError(t, err)
	// The backend only ever sees an already-validated destination.
	require.Equal(t, "/auth/login?return_url=%2Fapplications", dest)
}

func TestBeginSSOWithoutConfiguration(t *testing.T) {
	o := New(Config{}, Deps{Settings: &fakeSettings{doc: passwordSettings()}})
	activate(t, o, url.Values{})

	_, err := o.BeginSSO(context.Background())
	require.True(t, IsKind(err, KindValidation))
}

func TestBeginSSOPKCEStoresClaimableSession(t *testing.T) {
	store := memorystore.NewKV()
	flow := &fakeFlow{}
	o := New(Config{}, Deps{
		Settings:  &fakeSettings{doc: pkceSettings()},
		Flow:      flow,
		Ephemeral: store,
	})
	activate(t, o, url.Values{"return_url": {"/settings"}})

	authURL, err := o.BeginSSO(context.Background())
	require.NoError(t, err)
	require.Contains(t, authURL, "https://idp.example/authorize?state=")

	req := flow.authReq
	require.NotEmpty(t, req.State)
	require.NotEmpty(t, req.Nonce)
	require.NotEmpty(t, req.CodeChallenge)
	require.Equal(t, "S256", req.Method)
	require.Equal(t, testOrigin+"/pkce/verify", req.RedirectURI)

	sess, ok, err := NewPKCEStore(store, 0).Claim(context.Background(), req.State)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, sess.Verifier)
	require.Equal(t, req.State, sess.State)
	require.Equal(t, req.Nonce, sess.Nonce)
	require.Equal(t, "/settings", sess.ReturnURL)
	require.Equal(t, req.RedirectURI, sess.RedirectURI)
}

func TestCompletePKCESuccessOnFreshOrchestrator(t *testing.T) {
	store := memorystore.NewKV()
	flow := &fakeFlow{idToken: "id-token"}
	settings := &fakeSettings{doc: pkceSettings()}

	first := New(Config{}, Deps{Settings: settings, Flow: flow, Ephemeral: store})
	activate(t, first, url.Values{"return_url": {"/settings"}})
	_, err := first.BeginSSO(context.Background())
	require.NoError(t, err)
	state := flow.authReq.State

	// The provider redirect lands on a fresh process; only the store survives.
	tokens := &fakeTokens{}
	signins := &fakeSignins{}
	second := New(Config{}, Deps{
		Settings:  settings,
		Tokens:    tokens,
		Flow:      flow,
		Ephemeral: store,
		Signins:   signins,
	}).WithOrigin(testOrigin)

	dest, err := second.CompletePKCE(context.Background(), url.Values{
		"state": {state},
		"code":  {"auth-code"},
	})
	require.NoError(t, err)
	require.Equal(t, "/settings", dest)
	require.Equal(t, StateAuthenticated, second.CurrentState())
	require.Equal(t, []string{"id-token"}, tokens.stored)

	require.Equal(t, "auth-code", flow.exchReq.Code)
	require.NotEmpty(t, flow.exchReq.Verifier)
	require.Equal(t, flow.authReq.Nonce, flow.exchReq.Nonce)

	require.Len(t, signins.events, 1)
	require.True(t, signins.events[0].Succeeded)
	require.Equal(t, SigninMethodPKCE, signins.events[0].Method)

	// The session was claimed; a replayed callback finds nothing.
	_, ok, err := NewPKCEStore(store, 0).Claim(context.Background(), state)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompletePKCEAcceptsSameOriginReturnURL(t *testing.T) {
	store := memorystore.NewKV()
	flow := &fakeFlow{idToken: "id-token"}
	settings := &fakeSettings{doc: pkceSettings()}

	first := New(Config{}, Deps{Settings: settings, Flow: flow, Ephemeral: store})
	activate(t, first, url.Values{"return_url": {testOrigin + "/settings?tab=health"}})
	_, err := first.BeginSSO(context.Background())
	require.NoError(t, err)

	second := New(Config{}, Deps{
		Settings:  settings,
		Tokens:    &fakeTokens{},
		Flow:      flow,
		Ephemeral: store,
	}).WithOrigin(testOrigin)

	dest, err := second.CompletePKCE(context.Background(), url.Values{
		"state": {flow.authReq.State},
		"code":  {"auth-code"},
	})
	require.NoError(t, err)
	// An absolute same-origin return URL survives the callback, it does not
	// downgrade to the default destination.
	require.Equal(t, "/settings?tab=health", dest)
}

func TestCompletePKCETamperedSessionState(t *testing.T) {
	store := memorystore.NewKV()
	flow := &fakeFlow{idToken: "id-token"}
	o := New(Config{}, Deps{
		Settings:  &fakeSettings{doc: pkceSettings()},
		Tokens:    &fakeTokens{},
		Flow:      flow,
		Ephemeral: store,
	})

	// A store entry whose recorded state does not match the key it was filed
	// under must not pass the callback's binding check.
	sess := PKCESession{State: "state-b", Verifier: "v", Nonce: "n"}
	require.NoError(t, NewPKCEStore(store, 0).Put(context.Background(), "state-a", sess))

	_, err := o.CompletePKCE(context.Background(), url.Values{
		"state": {"state-a"},
		"code":  {"auth-code"},
	})
	require.True(t, IsKind(err, KindStateMismatch))
	require.Zero(t, flow.exchCalls)
}

func TestCompletePKCEUnknownState(t *testing.T) {
	store := memorystore.NewKV()
	flow := &fakeFlow{}
	o := New(Config{}, Deps{
		Settings:  &fakeSettings{doc: pkceSettings()},
		Tokens:    &fakeTokens{},
		Flow:      flow,
		Ephemeral: store,
	})

	_, err := o.CompletePKCE(context.Background(), url.Values{
		"state": {"never-issued"},
		"code":  {"auth-code"},
	})
	require.True(t, IsKind(err, KindStateMismatch))
	require.Equal(t, StateFailed, o.CurrentState())
	require.Zero(t, flow.exchCalls, "an unknown state must abort before any exchange")
}

func TestCompletePKCEProviderErrorDiscardsSession(t *testing.T) {
	store := memorystore.NewKV()
	flow := &fakeFlow{}
	o := New(Config{}, Deps{
		Settings:  &fakeSettings{doc: pkceSettings()},
		Tokens:    &fakeTokens{},
		Flow:      flow,
		Ephemeral: store,
	})
	activate(t, o, url.Values{})
	_, err := o.BeginSSO(context.Background())
	require.NoError(t, err)
	state := flow.authReq.State

	_, err = o.CompletePKCE(context.Background(), url.Values{
		"state": {state},
		"error": {"access_denied"},
	})
	require.True(t, IsKind(err, KindStateMismatch))
	require.Zero(t, flow.exchCalls)

	// Claimed on entry: the verifier cannot be replayed after the rejection.
	_, ok, err := NewPKCEStore(store, 0).Claim(context.Background(), state)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompletePKCEExchangeFailure(t *testing.T) {
	store := memorystore.NewKV()
	flow := &fakeFlow{exchErr: NewError(KindExchange, "token exchange rejected: invalid_grant")}
	signins := &fakeSignins{}
	o := New(Config{}, Deps{
		Settings:  &fakeSettings{doc: pkceSettings()},
		Tokens:    &fakeTokens{},
		Flow:      flow,
		Ephemeral: store,
		Signins:   signins,
	})
	activate(t, o, url.Values{})
	_, err := o.BeginSSO(context.Background())
	require.NoError(t, err)
	state := flow.authReq.State

	_, err = o.CompletePKCE(context.Background(), url.Values{
		"state": {state},
		"code":  {"auth-code"},
	})
	require.True(t, IsKind(err, KindExchange))
	require.EqualError(t, err, "token exchange rejected: invalid_grant")
	require.Equal(t, StateFailed, o.CurrentState())

	require.Len(t, signins.events, 1)
	require.False(t, signins.events[0].Succeeded)
	require.Equal(t, KindExchange, signins.events[0].ErrorKind)
}
