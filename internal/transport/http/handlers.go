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

// @title Psico SAS API
// @version 1.0
// @description Multi-tenant clinic platform. The request hostname selects the tenant.
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/psicosas/psicosas/internal/apperror"
	"github.com/psicosas/psicosas/internal/audit"
	"github.com/psicosas/psicosas/internal/backup"
	"github.com/psicosas/psicosas/internal/identity"
	"github.com/psicosas/psicosas/internal/observability/logger"
	"github.com/psicosas/psicosas/internal/observability/metrics"
	"github.com/psicosas/psicosas/internal/schemactx"
	"github.com/psicosas/psicosas/internal/session"
	"github.com/psicosas/psicosas/internal/tenant"
)

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the handlers call.
type Deps struct {
	Tenants          *tenant.Service
	ClinicAccounts   *identity.Service
	PlatformAccounts *identity.Service
	Sessions         *session.Manager
	Backups          *backup.Operator
	AuditLogger      audit.Logger
	Metrics          *metrics.HTTPMetrics
	DB               Pinger
	PublicName       string
	MaxUploadBytes   int64
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	tenantService    *tenant.Service
	clinicAccounts   *identity.Service
	platformAccounts *identity.Service
	sessions         *session.Manager
	backups          *backup.Operator
	auditLogger      audit.Logger
	metrics          *metrics.HTTPMetrics
	db               Pinger
	publicName       string
	maxUploadBytes   int64
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	if d.AuditLogger == nil {
		d.AuditLogger = audit.NewSlogLogger(nil)
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 256 << 20
	}
	if d.PublicName == "" {
		d.PublicName = "Psico SAS"
	}
	return &Handler{
		tenantService:    d.Tenants,
		clinicAccounts:   d.ClinicAccounts,
		platformAccounts: d.PlatformAccounts,
		sessions:         d.Sessions,
		backups:          d.Backups,
		auditLogger:      d.AuditLogger,
		metrics:          d.Metrics,
		db:               d.DB,
		publicName:       d.PublicName,
		maxUploadBytes:   d.MaxUploadBytes,
	}
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks if the service is up and running
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{
		"status":  "healthy",
		"service": "psicosas",
		"table":   GetRouteTable(r.Context()),
	}
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			slog.ErrorContext(r.Context(), "health check failed", logger.Error(err))
			body["status"] = "unhealthy"
			respondJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	respondJSON(w, http.StatusOK, body)
}

// DebugTenant reports the tenant bound to the request.
// @Summary Current tenant
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /debug/tenant [get]
func (h *Handler) DebugTenant(w http.ResponseWriter, r *http.Request) {
	b, _ := schemactx.FromContext(r.Context())
	respondJSON(w, http.StatusOK, map[string]string{
		"host":        tenant.NormalizeHost(r.Host),
		"schema_name": schemactx.Schema(r.Context()),
		"tenant_name": b.TenantName,
		"route_table": GetRouteTable(r.Context()),
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

var statusByCode = map[string]int{
	apperror.CodeNotFound:         http.StatusNotFound,
	apperror.CodeValidation:       http.StatusBadRequest,
	apperror.CodeConflict:         http.StatusConflict,
	apperror.CodeForbidden:        http.StatusForbidden,
	apperror.CodePermissionDenied: http.StatusForbidden,
	apperror.CodeUnknownTenant:    http.StatusNotFound,
	apperror.CodeExternalTool:     http.StatusBadGateway,
	apperror.CodeTransaction:      http.StatusInternalServerError,
	apperror.CodeInternal:         http.StatusInternalServerError,
}

// statusOf maps an error code to its HTTP status.
func statusOf(err error) int {
	if s, ok := statusByCode[apperror.CodeOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// respondAppError writes a coded error. Server-side failures only carry
// their text when detailed is set.
func respondAppError(w http.ResponseWriter, r *http.Request, err error, detailed bool) {
	status := statusOf(err)
	code := apperror.CodeOf(err)
	body := map[string]string{"error": apperror.MessageOf(err), "code": code}

	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			logger.Path(r.URL.Path),
			logger.Schema(schemactx.Schema(r.Context())),
			logger.ErrorType(code),
			logger.Error(err),
		)
		if detailed {
			body["detail"] = err.Error()
		} else {
			body["error"] = "internal server error"
		}
	}
	respondJSON(w, status, body)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
