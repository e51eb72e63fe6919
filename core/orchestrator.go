package core

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/open-rails/loginkit/pkce"
)

// State names a position in the login state machine.
type State string

const (
	StateIdle                State = "idle"
	StateReady               State = "ready"
	StatePasswordAttempt     State = "password_attempt"
	StateRedirectingToServer State = "redirecting_to_server"
	StatePKCEAuthorizing     State = "pkce_authorizing"
	StatePKCEExchanging      State = "pkce_exchanging"
	StateAuthenticated       State = "authenticated"
	StateFailed              State = "failed"
	StateDisabled            State = "disabled"
)

// SettingsSource supplies the backend's advertised auth settings. The call is
// idempotent and may be cached by the implementation.
type SettingsSource interface {
	AuthSettings(ctx context.Context) (*AuthSettings, error)
}

// CredentialTransport performs the username/password login against the
// backend and returns the opaque session token.
type CredentialTransport interface {
	Login(ctx context.Context, username, password string) (string, error)
}

// TokenStore persists the credential that authenticates subsequent requests.
// The orchestrator never interprets the token's contents.
type TokenStore interface {
	Put(ctx context.Context, token string) error
}

// AuthRequest carries everything an authorization URL needs. Only the
// challenge crosses this boundary; the verifier stays with the orchestrator.
type AuthRequest struct {
	State         string
	Nonce         string
	CodeChallenge string
	// Method is the code challenge method the challenge was derived with.
	Method      string
	RedirectURI string
}

// ExchangeRequest carries the material for one authorization-code exchange.
type ExchangeRequest struct {
	Code        string
	Verifier    string
	Nonce       string
	RedirectURI string
}

// AuthCodeFlow abstracts the identity provider: building the authorization
// URL and redeeming the returned code.
type AuthCodeFlow interface {
	AuthURL(ctx context.Context, cfg OIDCConfig, req AuthRequest) (string, error)
	Exchange(ctx context.Context, cfg OIDCConfig, req ExchangeRequest) (string, error)
}

// Deps are the orchestrator's collaborators. Settings, Credentials and Tokens
// are required; Flow and Ephemeral only for PKCE; Signins is optional.
type Deps struct {
	Settings    SettingsSource
	Credentials CredentialTransport
	Tokens      TokenStore
	Flow        AuthCodeFlow
	Ephemeral   EphemeralStore
	Signins     SigninLogger
}

// Orchestrator is the single authoritative decision-maker for how a user gets
// authenticated and where they end up. One instance drives one login flow;
// instances do not survive the PKCE navigation, so the PKCESession handoff
// goes through the ephemeral store instead of memory.
type Orchestrator struct {
	cfg      Config
	settings SettingsSource
	creds    CredentialTransport
	tokens   TokenStore
	flow     AuthCodeFlow
	pkce     *PKCEStore
	signins  SigninLogger
	redirect RedirectResolver

	mu        sync.Mutex
	state     State
	doc       *AuthSettings
	lastErr   *Error
	returnURL string
	origin    string
	ssoError  bool
	inFlight  bool
	sourceIP  string
}

// New builds an Orchestrator in the Idle state.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		cfg:      cfg,
		settings: deps.Settings,
		creds:    deps.Credentials,
		tokens:   deps.Tokens,
		flow:     deps.Flow,
		signins:  deps.Signins,
		redirect: RedirectResolver{Default: cfg.DefaultDestination},
		state:    StateIdle,
	}
	if deps.Ephemeral != nil {
		o.pkce = NewPKCEStore(deps.Ephemeral, cfg.PKCESessionTTL)
	}
	return o
}

// WithSourceIP attaches the client IP recorded on sign-in events.
func (o *Orchestrator) WithSourceIP(ip string) *Orchestrator {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sourceIP = ip
	return o
}

// WithOrigin sets the current origin used to validate return URLs. Activate
// sets it too; this covers flows that re-enter without an Activate, like the
// PKCE callback.
func (o *Orchestrator) WithOrigin(origin string) *Orchestrator {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.origin = origin
	return o
}

// Activate loads settings and reads the login page's query-string contract
// (return_url, has_sso_error). It transitions Idle to Ready, or to Disabled
// when neither login path is available.
func (o *Orchestrator) Activate(ctx context.Context, currentOrigin string, query url.Values) error {
	doc, err := o.settings.AuthSettings(ctx)
	if err != nil {
		return WrapError(KindTransport, "could not load auth settings: "+err.Error(), err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.doc = doc
	o.origin = currentOrigin
	o.returnURL = query.Get("return_url")
	o.ssoError = query.Get("has_sso_error") == "true"
	if DetermineLoginPath(doc) == PathDisabled {
		o.state = StateDisabled
	} else {
		o.state = StateReady
	}
	return nil
}

// LoginPath reports which login paths the loaded settings allow. Before
// Activate it reports Disabled, which also disables submissions.
func (o *Orchestrator) LoginPath() LoginPath {
	o.mu.Lock()
	defer o.mu.Unlock()
	return DetermineLoginPath(o.doc)
}

// CurrentState returns the orchestrator's state machine position.
func (o *Orchestrator) CurrentState() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastError returns the classified failure of the most recent attempt, or nil.
func (o *Orchestrator) LastError() *Error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// HasSSOError reports whether the login page was entered with
// has_sso_error=true. The presentation layer shows a generic failure banner
// without re-triggering the flow.
func (o *Orchestrator) HasSSOError() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ssoError
}

// Settings returns the loaded settings document, or nil before Activate.
func (o *Orchestrator) Settings() *AuthSettings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.doc
}

// ResolvePostLoginDestination validates returnURL and returns a destination
// safe to redirect to. Unvalidated strings are never redirected to directly.
func (o *Orchestrator) ResolvePostLoginDestination(returnURL string) string {
	o.mu.Lock()
	origin := o.origin
	o.mu.Unlock()
	return o.redirect.Resolve(returnURL, origin)
}

// beginAttempt moves Ready (or Failed, for a resubmission) into the given
// in-flight state. Concurrent attempts are rejected, never interleaved.
func (o *Orchestrator) beginAttempt(to State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return ErrAttemptInProgress
	}
	if o.state != StateReady && o.state != StateFailed {
		return ErrNotReady
	}
	o.inFlight = true
	o.lastErr = nil
	o.state = to
	return nil
}

// clearInFlight runs deferred on every attempt exit path, including panics.
func (o *Orchestrator) clearInFlight() {
	o.mu.Lock()
	o.inFlight = false
	o.mu.Unlock()
}

func (o *Orchestrator) finish(to State, lerr *Error) {
	o.mu.Lock()
	o.state = to
	o.lastErr = lerr
	o.mu.Unlock()
}

// SubmitPassword runs the username/password path. On success it returns the
// validated post-login destination.
func (o *Orchestrator) SubmitPassword(ctx context.Context, username, password string) (string, error) {
	// The form validates before submitting; reject anyway so an empty pair
	// never reaches the wire.
	if strings.TrimSpace(username) == "" || password == "" {
		return "", NewError(KindValidation, "username and password are required")
	}
	if err := o.beginAttempt(StatePasswordAttempt); err != nil {
		return "", err
	}
	defer o.clearInFlight()

	o.mu.Lock()
	o.ssoError = false // a fresh submission invalidates any stale SSO failure
	returnURL, origin := o.returnURL, o.origin
	o.mu.Unlock()

	token, err := o.creds.Login(ctx, username, password)
	if err != nil {
		lerr := classifyTransport(err)
		o.finish(StateFailed, lerr)
		o.logSignin(ctx, SigninMethodPassword, username, lerr)
		return "", lerr
	}
	if err := o.tokens.Put(ctx, token); err != nil {
		lerr := WrapError(KindTransport, "could not persist session: "+err.Error(), err)
		o.finish(StateFailed, lerr)
		o.logSignin(ctx, SigninMethodPassword, username, lerr)
		return "", lerr
	}
	o.finish(StateAuthenticated, nil)
	o.logSignin(ctx, SigninMethodPassword, username, nil)
	return o.redirect.Resolve(returnURL, origin), nil
}

// BeginSSO starts the SSO path and returns the URL the browser must navigate
// to. With PKCE enabled that is the provider's authorization endpoint and the
// orchestrator parks in PKCEAuthorizing; otherwise it is the backend's
// server-mediated login URL and RedirectingToServer is terminal here.
func (o *Orchestrator) BeginSSO(ctx context.Context) (string, error) {
	o.mu.Lock()
	doc, returnURL, origin := o.doc, o.returnURL, o.origin
	o.mu.Unlock()
	if !doc.SSOConfigured() {
		return "", NewError(KindValidation, "single sign-on is not configured")
	}

	if !doc.PKCEEnabled() {
		// The backend runs the rest of the OAuth dance; it only ever sees an
		// already-validated return URL.
		if err := o.beginAttempt(StateRedirectingToServer); err != nil {
			return "", err
		}
		defer o.clearInFlight()
		dest := o.redirect.Resolve(returnURL, origin)
		return o.cfg.ServerLoginPath + "?return_url=" + url.QueryEscape(dest), nil
	}

	if o.flow == nil || o.pkce == nil {
		return "", NewError(KindValidation, "PKCE login is not wired up")
	}
	if err := o.beginAttempt(StatePKCEAuthorizing); err != nil {
		return "", err
	}
	defer o.clearInFlight()

	verifier, err := pkce.Generate()
	if err != nil {
		lerr := WrapError(KindTransport, "could not generate PKCE material: "+err.Error(), err)
		o.finish(StateFailed, lerr)
		return "", lerr
	}
	state, err := pkce.GenerateState()
	if err != nil {
		lerr := WrapError(KindTransport, "could not generate state: "+err.Error(), err)
		o.finish(StateFailed, lerr)
		return "", lerr
	}
	nonce, err := pkce.GenerateNonce()
	if err != nil {
		lerr := WrapError(KindTransport, "could not generate nonce: "+err.Error(), err)
		o.finish(StateFailed, lerr)
		return "", lerr
	}

	redirectURI := strings.TrimRight(origin, "/") + o.cfg.CallbackPath
	sess := PKCESession{
		AttemptID:   uuid.New().String(),
		State:       state.String(),
		Verifier:    verifier.String(),
		Nonce:       nonce.String(),
		RedirectURI: redirectURI,
		ReturnURL:   returnURL,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.pkce.Put(ctx, state.String(), sess); err != nil {
		lerr := WrapError(KindTransport, "could not persist login state: "+err.Error(), err)
		o.finish(StateFailed, lerr)
		return "", lerr
	}

	authURL, err := o.flow.AuthURL(ctx, *doc.OIDCConfig, AuthRequest{
		State:         state.String(),
		Nonce:         nonce.String(),
		CodeChallenge: verifier.Challenge(),
		Method:        verifier.Method(),
		RedirectURI:   redirectURI,
	})
	if err != nil {
		o.pkce.Discard(ctx, state.String())
		lerr := WrapError(KindTransport, "could not reach the identity provider: "+err.Error(), err)
		o.finish(StateFailed, lerr)
		return "", lerr
	}
	return authURL, nil
}

// CompletePKCE handles re-entry from the provider redirect. It claims the
// stored PKCESession by the callback's state, redeems the code with the
// retained verifier, stores the token and returns the validated destination.
// The session is destroyed no matter how the attempt ends.
func (o *Orchestrator) CompletePKCE(ctx context.Context, params url.Values) (string, error) {
	if o.flow == nil || o.pkce == nil {
		return "", NewError(KindValidation, "PKCE login is not wired up")
	}
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return "", ErrAttemptInProgress
	}
	o.inFlight = true
	o.lastErr = nil
	o.state = StatePKCEExchanging
	origin := o.origin
	o.mu.Unlock()
	defer o.clearInFlight()

	fail := func(lerr *Error) (string, error) {
		o.finish(StateFailed, lerr)
		o.logSignin(ctx, SigninMethodPKCE, "", lerr)
		return "", lerr
	}

	// Claim first: the destructive read guarantees the verifier cannot
	// outlive this attempt, and an unknown state aborts before any exchange.
	state := params.Get("state")
	sess, ok, err := o.pkce.Claim(ctx, state)
	if err != nil {
		return fail(WrapError(KindTransport, "could not read login state: "+err.Error(), err))
	}
	if state == "" || !ok {
		return fail(NewError(KindStateMismatch, "unexpected authorization response"))
	}
	// The claim was a key lookup; confirm in constant time that the stored
	// session really was bound to this state value.
	expected := pkce.State(sess.State)
	if err := expected.Validate(state); err != nil {
		return fail(NewError(KindStateMismatch, "unexpected authorization response"))
	}
	if errParam := params.Get("error"); errParam != "" {
		return fail(NewError(KindStateMismatch, "the identity provider rejected the login"))
	}
	code := params.Get("code")
	if code == "" {
		return fail(NewError(KindStateMismatch, "authorization response carries no code"))
	}

	doc, err := o.ensureSettings(ctx)
	if err != nil {
		return fail(WrapError(KindTransport, "could not load auth settings: "+err.Error(), err))
	}
	if doc.OIDCConfig == nil {
		return fail(NewError(KindExchange, "no OIDC provider is configured"))
	}

	token, err := o.flow.Exchange(ctx, *doc.OIDCConfig, ExchangeRequest{
		Code:        code,
		Verifier:    sess.Verifier,
		Nonce:       sess.Nonce,
		RedirectURI: sess.RedirectURI,
	})
	if err != nil {
		return fail(WrapError(KindExchange, exchangeMessage(err), err))
	}
	if err := o.tokens.Put(ctx, token); err != nil {
		return fail(WrapError(KindTransport, "could not persist session: "+err.Error(), err))
	}
	o.finish(StateAuthenticated, nil)
	o.logSignin(ctx, SigninMethodPKCE, "", nil)
	return o.redirect.Resolve(sess.ReturnURL, origin), nil
}

func (o *Orchestrator) ensureSettings(ctx context.Context) (*AuthSettings, error) {
	o.mu.Lock()
	doc := o.doc
	o.mu.Unlock()
	if doc != nil {
		return doc, nil
	}
	doc, err := o.settings.AuthSettings(ctx)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.doc = doc
	o.mu.Unlock()
	return doc, nil
}

// classifyTransport maps a CredentialTransport failure onto an error kind.
// Already-classified errors pass through; anything else means the backend was
// unreachable.
func classifyTransport(err error) *Error {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr
	}
	return WrapError(KindTransport, err.Error(), err)
}

// exchangeMessage prefers the provider's error_description when the token
// endpoint rejected the code.
func exchangeMessage(err error) string {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Message
	}
	return "token exchange failed: " + err.Error()
}
