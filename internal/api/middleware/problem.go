package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

const problemTypeBaseURL = "https://reports.example.com/problems/%d"

var (
	// publicEndpoints holds paths that bypass rate limiting (health probes).
	publicEndpoints   = map[string]bool{} //nolint: gochecknoglobals
	publicEndpointsMu sync.RWMutex        //nolint: gochecknoglobals
)

// RegisterPublicEndpoint registers a path that bypasses rate limiting.
// Only health probes should be registered.
//
// Example:
//
//	middleware.RegisterPublicEndpoint("/ping")
func RegisterPublicEndpoint(endpoint string) {
	publicEndpointsMu.Lock()
	defer publicEndpointsMu.Unlock()

	publicEndpoints[endpoint] = true
}

// IsPublicEndpoint reports whether path was registered with RegisterPublicEndpoint.
func IsPublicEndpoint(path string) bool {
	publicEndpointsMu.RLock()
	defer publicEndpointsMu.RUnlock()

	return publicEndpoints[path]
}

// ProblemType returns the RFC 7807 problem type URI for an HTTP status.
func ProblemType(status int) string {
	return fmt.Sprintf(problemTypeBaseURL, status)
}

// writeRFC7807Error writes a problem+json body for middleware-generated errors.
func writeRFC7807Error(
	w http.ResponseWriter,
	r *http.Request,
	statusCode int,
	detail,
	correlationID string,
) error {
	title := http.StatusText(statusCode)
	if title == "" {
		title = "Request Failed"
	}

	problem := map[string]any{
		"type":          ProblemType(statusCode),
		"title":         title,
		"status":        statusCode,
		"detail":        detail,
		"instance":      r.URL.Path,
		"correlationId": correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(problem)
}
