package webhook

import (
	"net/http"
	"strings"
)

// DefaultAllowedOrigins are the storefront origins allowed to poll for commands.
var DefaultAllowedOrigins = []string{
	"https://staging12.milestonetrucks.com",
	"https://milestonetrucks.com",
	"https://www.milestonetrucks.com",
}

// CORSPolicy describes the cross-origin headers of a route.
type CORSPolicy struct {
	// AllowedOrigins is an allowlist. Empty means any origin ("*").
	AllowedOrigins   []string
	Methods          []string
	Headers          []string
	AllowCredentials bool
}

// PollCORS is the policy of the command poll routes: an origin allowlist
// with credentials.
func PollCORS(origins []string) *CORSPolicy {
	if len(origins) == 0 {
		origins = DefaultAllowedOrigins
	}
	return &CORSPolicy{
		AllowedOrigins:   origins,
		Methods:          []string{http.MethodGet, http.MethodOptions},
		Headers:          []string{"Content-Type", "Accept"},
		AllowCredentials: true,
	}
}

// OpenCORS allows any origin for the given methods.
func OpenCORS(methods ...string) *CORSPolicy {
	return &CORSPolicy{
		Methods: append(methods, http.MethodOptions),
		Headers: []string{"Content-Type"},
	}
}

// HeadersFor returns the response headers for a request from origin. An
// origin outside the allowlist is answered with the first allowed origin, so
// browsers reject the response.
func (p *CORSPolicy) HeadersFor(origin string) map[string]string {
	allowOrigin := "*"
	if len(p.AllowedOrigins) > 0 {
		allowOrigin = p.AllowedOrigins[0]
		for _, o := range p.AllowedOrigins {
			if o == origin {
				allowOrigin = origin
				break
			}
		}
	}

	headers := map[string]string{
		"Access-Control-Allow-Origin":  allowOrigin,
		"Access-Control-Allow-Methods": strings.Join(p.Methods, ", "),
		"Access-Control-Allow-Headers": strings.Join(p.Headers, ", "),
	}
	if p.AllowCredentials {
		headers["Access-Control-Allow-Credentials"] = "true"
	}
	if allowOrigin != "*" {
		headers["Vary"] = "Origin"
	}
	return headers
}

func (p *CORSPolicy) apply(w http.ResponseWriter, r *http.Request) {
	for k, v := range p.HeadersFor(r.Header.Get("Origin")) {
		w.Header().Set(k, v)
	}
}
