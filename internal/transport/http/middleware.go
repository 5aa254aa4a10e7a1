// Copyright 2026 The Psico SAS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/psicosas/psicosas/internal/audit"
	"github.com/psicosas/psicosas/internal/observability/logger"
	"github.com/psicosas/psicosas/internal/schemactx"
	"github.com/psicosas/psicosas/internal/session"
)

// Tenant Addressing Principles:
// 1. The request hostname is the only input to tenant resolution
// 2. Tokens are bound to the schema that issued them
// 3. A tenant request is never elevated to the control plane
//
// Anti-Patterns (FORBIDDEN):
// - Tenant selection via headers, query parameters or cookies
// - Reusing a token on another clinic's hostname

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.DebugContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Host(r.Host),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Host(r.Host),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start)),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// AuthMiddleware verifies the bearer token against the schema bound to the
// request and adds the principal to the context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		raw, ok := bearerToken(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		schema := schemactx.Schema(ctx)
		p, err := h.sessions.Verify(raw, schema)
		if err != nil {
			if errors.Is(err, session.ErrSchemaMismatch) {
				slog.WarnContext(ctx, "token presented to another tenant",
					logger.Schema(schema),
					logger.Host(r.Host),
					logger.RemoteAddr(getIPAddress(r)),
				)
			}
			respondError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		// Tenant context comes from the hostname only.
		if r.Header.Get("X-Tenant-ID") != "" {
			slog.WarnContext(ctx, "tenant header spoofing attempt detected on authenticated route",
				logger.UserID(p.UserID),
				logger.Schema(schema),
			)
			respondError(w, http.StatusBadRequest, "X-Tenant-ID header is not allowed; the tenant is derived from the hostname")
			return
		}

		ctx = session.WithPrincipal(ctx, p)
		ctx = audit.WithActor(ctx, p.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects principals whose role is not listed.
func (h *Handler) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := session.PrincipalFromContext(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if !slices.Contains(roles, p.Role) {
				h.auditLogger.Log(r.Context(), audit.Event{
					Type:      audit.TypeAccessDenied,
					Schema:    schemactx.Schema(r.Context()),
					ActorID:   p.UserID,
					Resource:  r.Method + " " + r.URL.Path,
					Outcome:   audit.OutcomeDenied,
					IPAddress: getIPAddress(r),
					UserAgent: r.UserAgent(),
					Metadata:  map[string]any{"role": p.Role},
				})
				respondError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
