package authhttp

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
)

func decodeJSON(r *http.Request, dst any) error {
	if r == nil || r.Body == nil {
		return errors.New("missing_body")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Reject trailing garbage.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid_json")
	}
	return nil
}

func requestScheme(r *http.Request) string {
	if s := r.Header.Get("X-Forwarded-Proto"); s != "" {
		return s
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// requestOrigin derives the current origin the way the redirect resolver and
// the PKCE redirect URI need it: scheme://host, honoring forwarding headers.
func requestOrigin(r *http.Request) string {
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return requestScheme(r) + "://" + host
}

func defaultClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	// Conservative: prefer RemoteAddr (works for local/dev and typical
	// reverse proxy setups when a trusted layer overwrites it).
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
