package authhttp

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/open-rails/loginkit/core"
)

func (s *Service) handleLoginPathGET(w http.ResponseWriter, r *http.Request) {
	orch := s.orchestrator(w, r)
	if err := orch.Activate(r.Context(), requestOrigin(r), r.URL.Query()); err != nil {
		serverErr(w, "settings_unavailable")
		return
	}
	doc := orch.Settings()
	writeJSON(w, http.StatusOK, map[string]any{
		"loginPath":   orch.LoginPath(),
		"ssoLabel":    doc.SSOLabel(),
		"pkce":        doc.PKCEEnabled(),
		"hasSSOError": orch.HasSSOError(),
	})
}

func (s *Service) handleSessionPOST(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLPasswordLogin) {
		tooMany(w)
		return
	}

	var req struct {
		Username  string `json:"username"`
		Password  string `json:"password"`
		ReturnURL string `json:"return_url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid_request")
		return
	}

	query := url.Values{}
	if req.ReturnURL != "" {
		query.Set("return_url", req.ReturnURL)
	}
	orch := s.orchestrator(w, r)
	if err := orch.Activate(r.Context(), requestOrigin(r), query); err != nil {
		serverErr(w, "settings_unavailable")
		return
	}
	if path := orch.LoginPath(); path == core.PathDisabled || path == core.PathSSOOnly {
		forbidden(w, "password_logins_disabled")
		return
	}

	dest, err := orch.SubmitPassword(r.Context(), req.Username, req.Password)
	if err != nil {
		writeLoginError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"destination": dest})
}

func (s *Service) handleSSOStartGET(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLSSOStart) {
		tooMany(w)
		return
	}

	orch := s.orchestrator(w, r)
	if err := orch.Activate(r.Context(), requestOrigin(r), r.URL.Query()); err != nil {
		serverErr(w, "settings_unavailable")
		return
	}
	target, err := orch.BeginSSO(r.Context())
	if err != nil {
		writeLoginError(w, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Service) handlePKCECallbackGET(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLPKCECallback) {
		tooMany(w)
		return
	}

	// No Activate on this re-entry, so the origin for return URL validation
	// comes from the request itself.
	orch := s.orchestrator(w, r).WithOrigin(requestOrigin(r))
	dest, err := orch.CompletePKCE(r.Context(), r.URL.Query())
	if err != nil {
		// The login page shows a generic failure banner; details stay out of
		// the query string.
		http.Redirect(w, r, s.loginPage+"?has_sso_error=true", http.StatusFound)
		return
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

// writeLoginError maps classified login failures onto HTTP statuses. The
// message travels verbatim; the UI shows it as a single line.
func writeLoginError(w http.ResponseWriter, err error) {
	var lerr *core.Error
	if !errors.As(err, &lerr) {
		if errors.Is(err, core.ErrAttemptInProgress) || errors.Is(err, core.ErrNotReady) {
			sendErr(w, http.StatusConflict, err.Error())
			return
		}
		serverErr(w, "login_failed")
		return
	}
	switch lerr.Kind {
	case core.KindValidation:
		sendErr(w, http.StatusBadRequest, lerr.Message)
	case core.KindCredential:
		sendErr(w, http.StatusUnauthorized, lerr.Message)
	case core.KindStateMismatch:
		sendErr(w, http.StatusForbidden, lerr.Message)
	case core.KindExchange:
		sendErr(w, http.StatusUnauthorized, lerr.Message)
	default:
		sendErr(w, http.StatusServiceUnavailable, lerr.Message)
	}
}
