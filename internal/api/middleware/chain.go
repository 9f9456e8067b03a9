package middleware

import (
	"log/slog"
	"net/http"
)

// Option wraps a handler with one middleware.
type Option func(http.Handler) http.Handler

// Chain is an ordered middleware stack. The first entry is the outermost: it sees the
// request first and the response last.
type Chain []Option

// Then wraps handler with every middleware in the chain. Nil entries are skipped.
func (c Chain) Then(handler http.Handler) http.Handler {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i] != nil {
			handler = c[i](handler)
		}
	}

	return handler
}

// Apply wraps handler with options, the first option outermost.
func Apply(handler http.Handler, options ...Option) http.Handler {
	return Chain(options).Then(handler)
}

// StackConfig holds what the reports API middleware stack is built from.
type StackConfig struct {
	Logger *slog.Logger
	// Limiter is optional; nil disables rate limiting.
	Limiter RateLimiter
	// CORS is optional; nil sends no CORS headers.
	CORS CORSConfig
}

// Stack returns the reports API middleware in serving order:
//
//  1. CorrelationID, so every response carries one, panics and 429s included
//  2. Recovery, around everything below it
//  3. RateLimit, so upload bodies of rejected clients are never read
//  4. RequestLogger, for admitted requests only
//  5. CORS
func Stack(cfg StackConfig) Chain {
	chain := Chain{CorrelationID(), Recovery(cfg.Logger)}

	if cfg.Limiter != nil {
		chain = append(chain, RateLimit(cfg.Limiter, cfg.Logger))
	}

	chain = append(chain, RequestLogger(cfg.Logger))

	if cfg.CORS != nil {
		chain = append(chain, CORS(cfg.CORS))
	}

	return chain
}
