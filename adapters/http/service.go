// Package authhttp mounts the login orchestrator behind net/http. It is the
// presentation boundary: the form posts here, SSO buttons navigate here, and
// the provider redirects back here.
package authhttp

import (
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/open-rails/loginkit/backend"
	"github.com/open-rails/loginkit/core"
	oidckit "github.com/open-rails/loginkit/oidc"
	memorylimiter "github.com/open-rails/loginkit/ratelimit/memory"
	memorystore "github.com/open-rails/loginkit/storage/memory"
	redisstore "github.com/open-rails/loginkit/storage/redis"
)

// Service wires the orchestrator's collaborators and mounts the login
// endpoints. A fresh orchestrator is built per request: the PKCE redirect
// boundary means no orchestrator instance survives between them anyway.
type Service struct {
	cfg       core.Config
	settings  core.SettingsSource
	creds     core.CredentialTransport
	flow      core.AuthCodeFlow
	ephemeral core.EphemeralStore
	mode      core.EphemeralMode
	signins   core.SigninLogger
	rl        RateLimiter
	clientIP  ClientIPFunc

	// loginPage is where a failed PKCE callback sends the browser, carrying
	// has_sso_error=true.
	loginPage string
}

// NewService builds a Service talking to the application backend at
// backendURL. Defaults: in-memory ephemeral store, in-memory rate limiter,
// discovery-driven OIDC flow.
func NewService(cfg core.Config, backendURL string) *Service {
	cl := backend.NewClient(backendURL)
	return &Service{
		cfg:       cfg,
		settings:  cl,
		creds:     cl,
		flow:      oidckit.NewFlow(),
		ephemeral: memorystore.NewKV(),
		mode:      core.EphemeralMemory,
		rl:        memorylimiter.New(ToMemoryLimits(DefaultRateLimits())),
		clientIP:  defaultClientIP,
		loginPage: "/login",
	}
}

// WithBackend overrides the settings source and credential transport.
func (s *Service) WithBackend(settings core.SettingsSource, creds core.CredentialTransport) *Service {
	s.settings = settings
	s.creds = creds
	return s
}

// WithFlow overrides the identity provider wiring.
func (s *Service) WithFlow(flow core.AuthCodeFlow) *Service { s.flow = flow; return s }

// WithRedis switches the PKCE session handoff to Redis so any gateway replica
// can serve the callback.
func (s *Service) WithRedis(rd *redis.Client) *Service {
	if rd != nil {
		s.ephemeral = redisstore.NewKV(rd)
		s.mode = core.EphemeralRedis
	}
	return s
}

func (s *Service) WithEphemeralStore(store core.EphemeralStore, mode core.EphemeralMode) *Service {
	s.ephemeral = store
	s.mode = mode
	return s
}

func (s *Service) WithSigninLogger(l core.SigninLogger) *Service { s.signins = l; return s }

func (s *Service) WithRateLimiter(rl RateLimiter) *Service { s.rl = rl; return s }
func (s *Service) DisableRateLimiter() *Service            { s.rl = nil; return s }

func (s *Service) WithClientIPFunc(fn ClientIPFunc) *Service {
	if fn == nil {
		fn = defaultClientIP
	}
	s.clientIP = fn
	return s
}

// WithLoginPage overrides where a failed SSO callback lands.
func (s *Service) WithLoginPage(path string) *Service { s.loginPage = path; return s }

// EphemeralMode reports which store backs the PKCE session handoff.
func (s *Service) EphemeralMode() core.EphemeralMode {
	if s.mode == "" {
		return core.EphemeralMemory
	}
	return s.mode
}

func (s *Service) orchestrator(w http.ResponseWriter, r *http.Request) *core.Orchestrator {
	deps := core.Deps{
		Settings:    s.settings,
		Credentials: s.creds,
		Tokens:      newCookieTokenStore(w, r),
		Flow:        s.flow,
		Ephemeral:   s.ephemeral,
		Signins:     s.signins,
	}
	return core.New(s.cfg, deps).WithSourceIP(s.clientIP(r))
}

// Handler returns the login endpoint mux:
//
//	GET  /api/loginpath  — login path + SSO label for the presentation layer
//	POST /api/session    — username/password submission
//	GET  /auth/sso       — SSO entry point (authorize redirect or server hop)
//	GET  /pkce/verify    — provider callback (path follows cfg.CallbackPath)
func (s *Service) Handler() http.Handler {
	cfg := s.cfg
	callback := cfg.CallbackPath
	if callback == "" {
		callback = "/pkce/verify"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/loginpath", s.handleLoginPathGET)
	mux.HandleFunc("POST /api/session", s.handleSessionPOST)
	mux.HandleFunc("GET /auth/sso", s.handleSSOStartGET)
	mux.HandleFunc("GET "+callback, s.handlePKCECallbackGET)
	return mux
}
