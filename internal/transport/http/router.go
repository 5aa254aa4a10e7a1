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
	"net/http"

	"github.com/NYTimes/gziphandler"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/psicosas/psicosas/internal/identity"
	"github.com/psicosas/psicosas/internal/schemactx"
)

// NewRouter builds the request pipeline: shared middleware followed by the
// tenant dispatcher over the two route tables.
func NewRouter(h *Handler, resolver Resolver, switcher *schemactx.Switch, rateLimiter *RateLimiter) http.Handler {
	tr := NewTenantRouter(resolver, switcher, NewControlPlaneTable(h), NewTenantTable(h), h.publicName)

	mws := chi.Chain(
		middleware.RequestID,
		middleware.Recoverer,
		func(handler http.Handler) http.Handler {
			return otelhttp.NewHandler(handler, "http_request",
				otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
					return r.Method + " " + r.URL.Path
				}),
			)
		},
		LoggingMiddleware(),
	)
	if h.metrics != nil {
		mws = append(mws, h.metrics.Middleware)
	}
	if rateLimiter != nil {
		mws = append(mws, RateLimitMiddleware(rateLimiter))
	}
	return mws.Handler(tr)
}

// NewControlPlaneTable builds the routes served on public-schema hostnames.
func NewControlPlaneTable(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	if h.metrics != nil {
		r.Use(h.metrics.RouteRecorder)
		r.Handle("/metrics", h.metrics.Handler())
	}
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/health", h.HealthCheck)
	r.Get("/admin/", h.AdminIndex)
	r.Get("/debug/tenant", h.DebugTenant)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.Login(identity.KindPlatform))

		// Staff only
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			r.Use(h.RequireRole(identity.RoleStaff))

			r.Get("/auth/me", h.Me(identity.KindPlatform))

			r.Route("/clinics", func(r chi.Router) {
				r.Get("/", h.ListClinics)
				r.Post("/", h.CreateClinic)
				r.Route("/{clinicID}", func(r chi.Router) {
					r.Get("/", h.GetClinic)
					r.Delete("/", h.DeleteClinic)
					r.Get("/stats", h.GetClinicStats)
					r.Post("/domains", h.AddDomain)
				})
			})
			r.Delete("/domains/{domain}", h.RemoveDomain)
			r.Get("/admin/stats", h.GlobalStats)
		})
	})

	return r
}

// NewTenantTable builds the routes served on clinic hostnames.
func NewTenantTable(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	if h.metrics != nil {
		r.Use(h.metrics.RouteRecorder)
	}
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/health", h.HealthCheck)
	r.Get("/admin/", h.AdminIndex)
	r.Get("/debug/tenant", h.DebugTenant)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.Login(identity.KindClinic))

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/auth/me", h.Me(identity.KindClinic))

			// Clinic administrators only
			r.Route("/backup", func(r chi.Router) {
				r.Use(h.RequireRole(identity.RoleAdmin))
				r.With(gziphandler.GzipHandler).Post("/create", h.CreateBackup)
				r.Post("/restore", h.RestoreBackup)
				r.Get("/info", h.BackupInfo)
			})
		})
	})

	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "not found")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}
