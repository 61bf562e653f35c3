package middleware

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/relaynode/relaynode/pkg/errors"
	"github.com/relaynode/relaynode/pkg/utils"
)

// Middleware is a function that wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Chain combines multiple middlewares into a single middleware
func Chain(middlewares ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

type traceIDKey struct{}

// TraceID returns the request trace id injected by Logger.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// Logger middleware logs HTTP requests using slog
func Logger() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" {
				traceID = utils.NewTraceID()
			}
			r = r.WithContext(context.WithValue(r.Context(), traceIDKey{}, traceID))
			w.Header().Set("X-Trace-ID", traceID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			fields := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote", r.RemoteAddr),
				slog.Int("status", wrapped.statusCode),
				slog.String("duration", time.Since(start).String()),
				slog.Int64("bytes", wrapped.bytesWritten),
				slog.String("trace_id", traceID),
			}

			// Choose log level based solely on status code
			if wrapped.statusCode >= http.StatusInternalServerError {
				slog.Error("request", fields...)
			} else if wrapped.statusCode >= http.StatusBadRequest {
				slog.Warn("request", fields...)
			} else {
				slog.Info("request", fields...)
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection behind Logger.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		rw.statusCode = http.StatusSwitchingProtocols
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported by underlying ResponseWriter")
}

// Recovery middleware recovers from panics and returns proper error responses
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("panic recovered",
						slog.Any("error", rec),
						slog.String("stack", string(debug.Stack())),
						slog.String("trace_id", TraceID(r.Context())))

					switch e := rec.(type) {
					case *errors.APIError:
						errors.WriteErrorResponse(w, e)
					case error:
						errors.WriteErrorResponse(w, errors.NewInternalError(e.Error()))
					default:
						errors.WriteErrorResponse(w, errors.NewInternalError("Unknown error occurred"))
					}
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// RequireClientCert rejects requests that did not present a verified client
// certificate. The TLS listener already enforces this during the handshake;
// the check keeps plain-HTTP wiring mistakes from exposing the API.
func RequireClientCert() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS == nil || len(r.TLS.VerifiedChains) == 0 {
				errors.WriteErrorResponse(w, errors.NewForbiddenError("Client certificate required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AllowHosts only lets through requests whose peer address is listed.
// "localhost" matches any loopback address.
func AllowHosts(hosts []string) Middleware {
	allowed := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		if h = strings.TrimSpace(h); h != "" {
			allowed[h] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hostAllowed(allowed, r.RemoteAddr) {
				slog.Warn("rejected non-local request", slog.String("remote", r.RemoteAddr))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Only local requests are allowed"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hostAllowed(allowed map[string]struct{}, remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if _, ok := allowed[host]; ok {
		return true
	}
	if _, ok := allowed["localhost"]; ok {
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			return true
		}
	}
	return false
}
