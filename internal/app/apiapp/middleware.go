package apiapp

import (
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	identitysvc "github.com/avoronin/peek/backend/internal/services/identity"
	httperrors "github.com/avoronin/peek/backend/internal/transport/http/errors"
)

func ApplyMiddlewares(r chiRouter, log *zap.Logger) {
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(requestLogger(log))
}

// IdentityMiddleware validates the external issuer's bearer token and
// threads the caller identity into the request context.
func IdentityMiddleware(tokens *identitysvc.TokenManager, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokens == nil {
				httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{
					Code:    "AUTH_UNAVAILABLE",
					Message: "token validation is unavailable",
				})
				return
			}

			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{
					Code:    "UNAUTHORIZED",
					Message: "missing bearer token",
				})
				return
			}

			claims, err := tokens.Parse(token)
			if err != nil {
				if log != nil {
					log.Debug("identity middleware validation failed", zap.Error(err))
				}
				httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{
					Code:    "UNAUTHORIZED",
					Message: "invalid access token",
				})
				return
			}

			ctx := identitysvc.WithIdentity(r.Context(), identitysvc.Identity{
				UserID: claims.UserID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SweepAuthMiddleware guards the operational sweep trigger with a shared
// token. An empty configured token disables the endpoint entirely.
func SweepAuthMiddleware(sweepToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sweepToken == "" {
				httperrors.Write(w, http.StatusNotFound, httperrors.APIError{
					Code:    "NOT_FOUND",
					Message: "not found",
				})
				return
			}

			provided := strings.TrimSpace(r.Header.Get("X-Sweep-Token"))
			if provided == "" {
				provided, _ = extractBearerToken(r.Header.Get("Authorization"))
			}
			if provided != sweepToken {
				httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{
					Code:    "UNAUTHORIZED",
					Message: "invalid sweep token",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(value string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(value), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			if log != nil {
				log.Info("http_request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Duration("duration", time.Since(start)),
				)
			}
		})
	}
}

type chiRouter interface {
	Use(middlewares ...func(http.Handler) http.Handler)
}
