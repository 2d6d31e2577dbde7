package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aptiscout/aptiscout/internal/common"
)

// responseWriter wraps http.ResponseWriter to capture status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// recoveryMiddleware catches panics and returns 500, matching the invariant
// error kind (an uncaught panic is exactly the "internal assertion failed" case).
func recoveryMiddleware(logger *common.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().
						Str("panic", fmt.Sprintf("%v", rec)).
						Str("path", r.URL.Path).
						Msg("Panic recovered in HTTP handler")
					WriteProblem(w, r, http.StatusInternalServerError, common.KindInvariant, "internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware adds CORS headers for the front-end UI consumer (out of scope
// for this package, but still a thin collaborator of this REST surface).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Correlation-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// correlationIDMiddleware extracts or generates a correlation ID and echoes it
// back as X-Correlation-ID; every response's stable request_id is sourced
// from this header.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corrID := r.Header.Get("X-Request-ID")
		if corrID == "" {
			corrID = r.Header.Get("X-Correlation-ID")
		}
		if corrID == "" {
			corrID = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", corrID)
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests, tagging the logger with the
// correlation ID the same way the engine tags per-job log lines.
func loggingMiddleware(logger *common.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			dur := time.Since(start)
			corrID := w.Header().Get("X-Correlation-ID")

			event := logger.Trace()
			if rw.statusCode >= 500 {
				event = logger.Error()
			} else if rw.statusCode >= 400 {
				event = logger.Info()
			}

			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("query", r.URL.RawQuery).
				Int("status", rw.statusCode).
				Int("bytes", rw.bytesWritten).
				Dur("duration", dur).
				Str("correlation_id", corrID).
				Msg("HTTP request")
		})
	}
}

// adminClaimsKey is the context key for an authenticated admin's claims.
type adminClaimsKeyType struct{}

var adminClaimsKey = adminClaimsKeyType{}

// AdminSubject returns the authenticated admin subject from context, if any.
func AdminSubject(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(adminClaimsKey).(string)
	return v, ok
}

// requiresAdminAuth reports whether a request hits a SourceConfig admin write
// path, which requires a bearer token (SourceConfig is mutated only through
// the admin write path).
func requiresAdminAuth(method, path string) bool {
	if !strings.HasPrefix(path, "/api/scraping/sources") {
		return false
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// adminAuthMiddleware validates a JWT bearer token on SourceConfig admin write
// paths (SourceConfig is mutated only through the admin write path).
// Read paths and every other route are unauthenticated at this layer.
func adminAuthMiddleware(config *common.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !requiresAdminAuth(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				w.Header().Set("WWW-Authenticate", "Bearer")
				WriteProblem(w, r, http.StatusUnauthorized, common.KindValidation, "missing bearer token", nil)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			sub, err := validateAdminJWT(tokenString, config.Auth.JWTSecret)
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				WriteProblem(w, r, http.StatusUnauthorized, common.KindValidation, "invalid or expired token", nil)
				return
			}

			r = r.WithContext(context.WithValue(r.Context(), adminClaimsKey, sub))
			next.ServeHTTP(w, r)
		})
	}
}

// validateAdminJWT parses and validates an admin bearer token, returning its subject.
func validateAdminJWT(tokenString, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("missing subject")
	}
	return sub, nil
}

// signAdminJWT mints a new admin bearer token for `subject`; handleLogin
// issues it after a successful password check.
func signAdminJWT(subject string, config *common.Config) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"jti": uuid.New().String(),
		"sub": subject,
		"iss": "aptiscout",
		"iat": now.Unix(),
		"exp": now.Add(config.Auth.GetTokenExpiry()).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.Auth.JWTSecret))
}

// applyMiddleware wraps a handler with the middleware stack. Applied in
// reverse order (last applied = first executed).
func applyMiddleware(handler http.Handler, logger *common.Logger, config *common.Config) http.Handler {
	handler = loggingMiddleware(logger)(handler)
	handler = adminAuthMiddleware(config)(handler)
	handler = correlationIDMiddleware(handler)
	handler = corsMiddleware(handler)
	handler = recoveryMiddleware(logger)(handler)
	return handler
}
