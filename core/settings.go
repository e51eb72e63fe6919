package core

// Connector is a named upstream identity source exposed by a Dex broker
// (e.g. LDAP, GitHub).
type Connector struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// DexConfig carries the Dex connectors advertised by the backend.
type DexConfig struct {
	Connectors []Connector `json:"connectors"`
}

// OIDCConfig describes a directly configured OIDC provider.
type OIDCConfig struct {
	Name     string   `json:"name"`
	Issuer   string   `json:"issuer"`
	ClientID string   `json:"clientID"`
	Scopes   []string `json:"scopes"`
	// EnablePKCEAuthentication selects the browser-native PKCE flow instead of
	// the server-mediated redirect flow.
	EnablePKCEAuthentication bool `json:"enablePKCEAuthentication"`
}

// AuthSettings is the settings document advertised by the backend. It is
// read-only to the orchestrator.
type AuthSettings struct {
	URL                string      `json:"url,omitempty"`
	UserLoginsDisabled bool        `json:"userLoginsDisabled"`
	DexConfig          *DexConfig  `json:"dexConfig,omitempty"`
	OIDCConfig         *OIDCConfig `json:"oidcConfig,omitempty"`
}

// SSOConfigured reports whether any SSO entry point exists: a direct OIDC
// provider, or at least one Dex connector.
func (s *AuthSettings) SSOConfigured() bool {
	if s == nil {
		return false
	}
	if s.OIDCConfig != nil {
		return true
	}
	return s.DexConfig != nil && len(s.DexConfig.Connectors) > 0
}

// PKCEEnabled reports whether the SSO path uses browser-native PKCE.
// OIDCConfig takes priority over Dex, which never uses client-side PKCE.
func (s *AuthSettings) PKCEEnabled() bool {
	return s != nil && s.OIDCConfig != nil && s.OIDCConfig.EnablePKCEAuthentication
}

// SSOLabel returns the button label for the SSO entry point. A directly
// configured provider or a single Dex connector is named; multiple connectors
// fall back to a generic label because the concrete choice happens on the
// server-rendered login page.
func (s *AuthSettings) SSOLabel() string {
	switch {
	case s == nil:
		return ""
	case s.OIDCConfig != nil && s.OIDCConfig.Name != "":
		return "Log in via " + s.OIDCConfig.Name
	case s.DexConfig != nil && len(s.DexConfig.Connectors) == 1:
		return "Log in via " + s.DexConfig.Connectors[0].Name
	case s.SSOConfigured():
		return "SSO Login"
	default:
		return ""
	}
}

// LoginPath enumerates which login paths the settings document allows.
type LoginPath string

const (
	PathPasswordOnly LoginPath = "password"
	PathSSOOnly      LoginPath = "sso"
	PathBoth         LoginPath = "both"
	// PathDisabled is terminal and user-visible with no retry: neither
	// password login nor SSO is available.
	PathDisabled LoginPath = "disabled"
)

// DetermineLoginPath decides which login paths apply for the given settings.
func DetermineLoginPath(s *AuthSettings) LoginPath {
	sso := s.SSOConfigured()
	password := s != nil && !s.UserLoginsDisabled
	switch {
	case sso && password:
		return PathBoth
	case sso:
		return PathSSOOnly
	case password:
		return PathPasswordOnly
	default:
		return PathDisabled
	}
}
