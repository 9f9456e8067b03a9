// Package middleware provides HTTP middleware components for the reports API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// reportHeaders are the response headers a browser dashboard may read.
var reportHeaders = []string{correlationIDHeader, "X-Reports-Version"}

// CORSConfig supplies the CORS policy; api.CORSConfig implements it.
type CORSConfig interface {
	GetAllowedOrigins() []string
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
	GetMaxAge() int
}

// corsPolicy is a CORSConfig resolved into header values once, at startup.
type corsPolicy struct {
	anyOrigin bool
	origins   map[string]struct{}
	methods   string
	headers   string
	exposed   string
	maxAge    string
}

func newCORSPolicy(config CORSConfig) corsPolicy {
	policy := corsPolicy{
		origins: make(map[string]struct{}),
		methods: strings.Join(config.GetAllowedMethods(), ", "),
		headers: strings.Join(config.GetAllowedHeaders(), ", "),
		exposed: strings.Join(reportHeaders, ", "),
	}

	for _, origin := range config.GetAllowedOrigins() {
		if origin == "*" {
			policy.anyOrigin = true

			continue
		}

		policy.origins[origin] = struct{}{}
	}

	if maxAge := config.GetMaxAge(); maxAge > 0 {
		policy.maxAge = strconv.Itoa(maxAge)
	}

	return policy
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, if any.
func (p corsPolicy) allowOrigin(origin string) (string, bool) {
	if p.anyOrigin {
		return "*", true
	}

	if _, ok := p.origins[origin]; ok && origin != "" {
		return origin, true
	}

	return "", false
}

// CORS lets browser dashboards on other origins call the reports API.
//
// Preflight requests (OPTIONS with Access-Control-Request-Method) are answered here with
// 204 and never reach the routes; an origin outside the policy gets no allow headers, so
// the browser blocks the actual request. Any other request passes through with the
// origin and exposed headers set.
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	policy := newCORSPolicy(config)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if !policy.anyOrigin {
				h.Add("Vary", "Origin")
			}

			allowed, ok := policy.allowOrigin(r.Header.Get("Origin"))
			if ok {
				h.Set("Access-Control-Allow-Origin", allowed)
				h.Set("Access-Control-Expose-Headers", policy.exposed)
			}

			if !isPreflight(r) {
				next.ServeHTTP(w, r)

				return
			}

			if ok {
				setIfNotEmpty(h, "Access-Control-Allow-Methods", policy.methods)
				setIfNotEmpty(h, "Access-Control-Allow-Headers", policy.headers)
				setIfNotEmpty(h, "Access-Control-Max-Age", policy.maxAge)
			}

			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

func setIfNotEmpty(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}
