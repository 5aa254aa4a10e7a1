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
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/psicosas/psicosas/internal/apperror"
	"github.com/psicosas/psicosas/internal/observability/logger"
	"github.com/psicosas/psicosas/internal/observability/metrics"
	"github.com/psicosas/psicosas/internal/schemactx"
	"github.com/psicosas/psicosas/internal/tenant"
)

// Resolver maps a request hostname to its tenant.
type Resolver interface {
	Resolve(ctx context.Context, host string) (*tenant.Tenant, error)
}

// AdminSite holds the admin-site labels for one request.
type AdminSite struct {
	Header     string `json:"site_header"`
	Title      string `json:"site_title"`
	IndexTitle string `json:"index_title"`
}

func adminSiteFor(t *tenant.Tenant, public bool, publicName string) AdminSite {
	if public {
		return AdminSite{
			Header:     "Administración Global de " + publicName,
			Title:      "Admin Global",
			IndexTitle: "Gestión de Clínicas",
		}
	}
	return AdminSite{
		Header:     "Administración de " + t.Name,
		Title:      "Admin Clínica",
		IndexTitle: "Panel de Control",
	}
}

// TenantRouter resolves the request hostname, binds the tenant schema for
// the lifetime of the request and dispatches to the matching route table.
// Both tables are built once; the selection lives only in the request
// context.
type TenantRouter struct {
	resolver     Resolver
	switcher     *schemactx.Switch
	controlPlane http.Handler
	clinic       http.Handler
	publicName   string
}

// NewTenantRouter creates the per-request dispatcher.
func NewTenantRouter(resolver Resolver, switcher *schemactx.Switch, controlPlane, clinic http.Handler, publicName string) *TenantRouter {
	return &TenantRouter{
		resolver:     resolver,
		switcher:     switcher,
		controlPlane: controlPlane,
		clinic:       clinic,
		publicName:   publicName,
	}
}

func (tr *TenantRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	t, err := tr.resolver.Resolve(ctx, r.Host)
	if err != nil {
		if apperror.Is(err, apperror.CodeNotFound) {
			slog.InfoContext(ctx, "no tenant for host", logger.Host(r.Host), logger.RemoteAddr(getIPAddress(r)))
			respondError(w, http.StatusNotFound, "not found")
			return
		}
		slog.ErrorContext(ctx, "tenant resolution failed", logger.Host(r.Host), logger.Error(err))
		respondError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}

	ctx, release := tr.switcher.ActivateTenant(ctx, t)
	defer release()

	public := t.SchemaName == tr.switcher.PublicSchema()
	table, name := tr.clinic, TableTenant
	if public {
		table, name = tr.controlPlane, TableControlPlane
	}
	ctx = context.WithValue(ctx, routeTableKey, name)
	metrics.SetTable(ctx, name)
	ctx = context.WithValue(ctx, adminSiteKey, adminSiteFor(t, public, tr.publicName))

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("tenant.schema", t.SchemaName),
		attribute.String("tenant.route_table", name),
	)
	slog.DebugContext(ctx, "tenant bound",
		logger.Host(r.Host),
		logger.Schema(t.SchemaName),
		logger.TenantID(t.ID),
		logger.RouteTable(name),
	)

	table.ServeHTTP(w, r.WithContext(ctx))
}

// AdminIndex returns the admin-site labels of the bound tenant.
// @Summary Admin site settings
// @Tags System
// @Produce json
// @Success 200 {object} AdminSite
// @Router /admin/ [get]
func (h *Handler) AdminIndex(w http.ResponseWriter, r *http.Request) {
	site, ok := GetAdminSite(r.Context())
	if !ok {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"site":        site,
		"schema_name": schemactx.Schema(r.Context()),
		"route_table": GetRouteTable(r.Context()),
	})
}
