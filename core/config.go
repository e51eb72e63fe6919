package core

import "time"

// Config tunes a login Orchestrator. The zero value is usable.
type Config struct {
	// DefaultDestination is where a successful login lands when no return URL
	// was requested (default "/applications").
	DefaultDestination string
	// ServerLoginPath is the backend endpoint that drives the server-mediated
	// (non-PKCE) SSO round trip (default "/auth/login").
	ServerLoginPath string
	// CallbackPath is the path on the current origin that the provider
	// redirects back to after a PKCE authorization (default "/pkce/verify").
	CallbackPath string
	// PKCESessionTTL bounds the lifetime of a stored PKCE session
	// (default DefaultPKCESessionTTL).
	PKCESessionTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultDestination == "" {
		c.DefaultDestination = DefaultDestination
	}
	if c.ServerLoginPath == "" {
		c.ServerLoginPath = "/auth/login"
	}
	if c.CallbackPath == "" {
		c.CallbackPath = "/pkce/verify"
	}
	if c.PKCESessionTTL <= 0 {
		c.PKCESessionTTL = DefaultPKCESessionTTL
	}
	return c
}
