package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

const panicDetail = "An unexpected error occurred while processing the request"

// Recovery turns a panicking handler into a 500 problem response.
//
// The log entry names the matched route and, for dataset routes, the dataset type. If
// the handler had already started its response, the status can no longer change, so the
// panic is only logged. http.ErrAbortHandler is re-raised for net/http to handle.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := &trackingWriter{ResponseWriter: w}

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}

				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				correlationID := GetCorrelationID(r.Context())

				logger.Error("HTTP request panic recovered",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("route", r.Pattern),
					slog.String("dataset_type", r.PathValue("type")),
					slog.Bool("response_started", tw.started),
					slog.String("correlation_id", correlationID),
					slog.Any("panic", rec),
					slog.String("stack_trace", string(debug.Stack())),
				)

				if tw.started {
					return
				}

				if err := writeRFC7807Error(w, r, http.StatusInternalServerError, panicDetail, correlationID); err != nil {
					logger.Error("Failed to encode error response",
						slog.Any("error", err),
						slog.String("correlation_id", correlationID))
				}
			}()

			next.ServeHTTP(tw, r)
		})
	}
}

// trackingWriter records whether a response has been started.
type trackingWriter struct {
	http.ResponseWriter
	started bool
}

func (tw *trackingWriter) WriteHeader(code int) {
	tw.started = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *trackingWriter) Write(b []byte) (int, error) {
	tw.started = true

	return tw.ResponseWriter.Write(b)
}

func (tw *trackingWriter) Unwrap() http.ResponseWriter {
	return tw.ResponseWriter
}
