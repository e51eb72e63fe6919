package core

import (
	"net/url"
	"strings"
)

// DefaultDestination is where a fresh login lands when no return URL was
// requested or the requested one was rejected.
const DefaultDestination = "/applications"

// RedirectResolver validates caller-supplied return URLs against open-redirect
// rules. The zero value uses DefaultDestination.
type RedirectResolver struct {
	// Default overrides DefaultDestination when non-empty.
	Default string
}

func (r RedirectResolver) defaultDestination() string {
	if r.Default != "" {
		return r.Default
	}
	return DefaultDestination
}

// Resolve validates returnURL against currentOrigin and returns a destination
// that is safe to redirect to. The rules:
//
//   - empty input resolves to the default destination;
//   - a path-only relative reference (no scheme, no host) is accepted;
//   - an absolute URL is accepted only when its scheme and host exactly match
//     currentOrigin;
//   - anything else resolves to the default destination.
//
// Path and query survive verbatim on acceptance. Fragments are dropped: the
// provider redirect does not forward them, so they cannot be trusted to
// survive the round trip.
func (r RedirectResolver) Resolve(returnURL, currentOrigin string) string {
	returnURL = strings.TrimSpace(returnURL)
	if returnURL == "" {
		return r.defaultDestination()
	}
	u, err := url.Parse(returnURL)
	if err != nil {
		return r.defaultDestination()
	}
	if u.Scheme != "" || u.Host != "" {
		origin, err := url.Parse(currentOrigin)
		if err != nil || origin.Scheme == "" || origin.Host == "" {
			return r.defaultDestination()
		}
		if u.Scheme != origin.Scheme || u.Host != origin.Host {
			return r.defaultDestination()
		}
	}
	// Opaque URLs (e.g. "mailto:x") have no path to land on.
	if u.Opaque != "" {
		return r.defaultDestination()
	}
	dest := u.EscapedPath()
	if dest == "" {
		dest = "/"
	}
	if u.RawQuery != "" {
		dest += "?" + u.RawQuery
	}
	return dest
}
