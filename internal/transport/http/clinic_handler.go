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

	"github.com/go-chi/chi/v5"
)

// CreateClinicRequest represents clinic creation data
type CreateClinicRequest struct {
	Name       string `json:"name" example:"Clínica Norte"`
	SchemaName string `json:"schema_name" example:"clinic_norte"`
	Domain     string `json:"domain" example:"norte.psico.example"`
}

// AddDomainRequest represents an additional hostname for a clinic
type AddDomainRequest struct {
	Domain    string `json:"domain" example:"norte.ngrok.example"`
	IsPrimary bool   `json:"is_primary"`
}

// ListClinics lists every clinic
// @Summary List clinics
// @Tags Clinics
// @Produce json
// @Security BearerAuth
// @Success 200 {array} tenant.Tenant
// @Router /clinics [get]
func (h *Handler) ListClinics(w http.ResponseWriter, r *http.Request) {
	clinics, err := h.tenantService.List(r.Context())
	if err != nil {
		respondAppError(w, r, err, false)
		return
	}
	respondJSON(w, http.StatusOK, clinics)
}

// CreateClinic provisions a clinic with its schema and primary domain
// @Summary Create clinic
// @Tags Clinics
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateClinicRequest true "Clinic Data"
// @Success 201 {object} tenant.Tenant
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /clinics [post]
func (h *Handler) CreateClinic(w http.ResponseWriter, r *http.Request) {
	var req CreateClinicRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := h.tenantService.Create(r.Context(), req.Name, req.SchemaName, req.Domain)
	if err != nil {
		respondAppError(w, r, err, false)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

// GetClinic returns one clinic
// @Summary Get clinic
// @Tags Clinics
// @Produce json
// @Security BearerAuth
// @Param clinicID path string true "Clinic ID"
// @Success 200 {object} tenant.Tenant
// @Failure 404 {object} map[string]string
// @Router /clinics/{clinicID} [get]
func (h *Handler) GetClinic(w http.ResponseWriter, r *http.Request) {
	t, err := h.tenantService.Get(r.Context(), chi.URLParam(r, "clinicID"))
	if err != nil {
		respondAppError(w, r, err, false)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// DeleteClinic removes a clinic, its domains and its schema
// @Summary Delete clinic
// @Tags Clinics
// @Security BearerAuth
// @Param clinicID path string true "Clinic ID"
// @Success 204
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /clinics/{clinicID} [delete]
func (h *Handler) DeleteClinic(w http.ResponseWriter, r *http.Request) {
	if err := h.tenantService.Delete(r.Context(), chi.URLParam(r, "clinicID")); err != nil {
		respondAppError(w, r, err, false)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddDomain binds another hostname to a clinic
// @Summary Add domain
// @Tags Clinics
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param clinicID path string true "Clinic ID"
// @Param request body AddDomainRequest true "Domain"
// @Success 201 {object} tenant.Domain
// @Failure 409 {object} map[string]string
// @Router /clinics/{clinicID}/domains [post]
func (h *Handler) AddDomain(w http.ResponseWriter, r *http.Request) {
	var req AddDomainRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := h.tenantService.AddDomain(r.Context(), chi.URLParam(r, "clinicID"), req.Domain, req.IsPrimary)
	if err != nil {
		respondAppError(w, r, err, false)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

// RemoveDomain unbinds a non-primary hostname
// @Summary Remove domain
// @Tags Clinics
// @Security BearerAuth
// @Param domain path string true "Hostname"
// @Success 204
// @Failure 400 {object} map[string]string
// @Router /domains/{domain} [delete]
func (h *Handler) RemoveDomain(w http.ResponseWriter, r *http.Request) {
	if err := h.tenantService.RemoveDomain(r.Context(), chi.URLParam(r, "domain")); err != nil {
		respondAppError(w, r, err, false)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GlobalStats reports statistics across every clinic
// @Summary Global statistics
// @Tags Stats
// @Produce json
// @Security BearerAuth
// @Success 200 {object} tenant.GlobalStats
// @Router /admin/stats [get]
func (h *Handler) GlobalStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tenantService.Stats(r.Context())
	if err != nil {
		respondAppError(w, r, err, false)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// GetClinicStats reports statistics of one clinic
// @Summary Clinic statistics
// @Tags Stats
// @Produce json
// @Security BearerAuth
// @Param clinicID path string true "Clinic ID"
// @Success 200 {object} tenant.ClinicStats
// @Failure 404 {object} map[string]string
// @Router /clinics/{clinicID}/stats [get]
func (h *Handler) GetClinicStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tenantService.ClinicStats(r.Context(), chi.URLParam(r, "clinicID"))
	if err != nil {
		respondAppError(w, r, err, false)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
