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

package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/psicosas/psicosas/internal/apperror"
	"github.com/psicosas/psicosas/internal/audit"
	"github.com/psicosas/psicosas/internal/observability/logger"
)

const maxTenantNameLength = 100

// Service is the tenant directory: hostname resolution and clinic lifecycle.
type Service struct {
	repo         Repository
	stats        StatsRepository
	auditLogger  audit.Logger
	cache        DomainCache
	cacheTTL     time.Duration
	publicSchema string
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables read-through caching of Resolve.
func WithCache(c DomainCache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithPublicSchema overrides the control-plane schema name.
func WithPublicSchema(schema string) Option {
	return func(s *Service) {
		if schema != "" {
			s.publicSchema = schema
		}
	}
}

// NewService creates a new tenant service
func NewService(repo Repository, stats StatsRepository, auditLogger audit.Logger, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		stats:        stats,
		auditLogger:  auditLogger,
		publicSchema: PublicSchema,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PublicSchema returns the control-plane schema name.
func (s *Service) PublicSchema() string {
	return s.publicSchema
}

// IsPublic reports whether t is the control-plane tenant.
func (s *Service) IsPublic(t *Tenant) bool {
	return t != nil && t.SchemaName == s.publicSchema
}

// Resolve maps a request hostname to its tenant. Matching is exact after
// normalization; there is no wildcard or suffix matching.
func (s *Service) Resolve(ctx context.Context, host string) (*Tenant, error) {
	h := NormalizeHost(host)
	if h == "" {
		return nil, apperror.NotFound("no tenant for host")
	}

	if s.cache != nil {
		if t, ok := s.cache.Get(ctx, h); ok {
			return t, nil
		}
	}

	t, err := s.repo.GetByDomain(ctx, h)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return nil, apperror.Wrap(apperror.CodeNotFound, "no tenant for host", err)
		}
		return nil, fmt.Errorf("failed to resolve host: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, h, t, s.cacheTTL)
	}
	return t, nil
}

// Create provisions a clinic: tenant row, primary domain and schema with its
// tables. Nothing is left behind on failure.
func (s *Service) Create(ctx context.Context, name, schemaName, primaryDomain string) (*Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.Validation("clinic name is required")
	}
	if len(name) > maxTenantNameLength {
		return nil, apperror.Validation("clinic name must be at most %d characters", maxTenantNameLength)
	}

	schema, err := ValidateSchemaName(schemaName)
	if err != nil {
		return nil, err
	}
	if schema == s.publicSchema {
		return nil, apperror.Validation("schema name %q is reserved", schema)
	}

	domain, err := ValidateDomain(primaryDomain)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetBySchema(ctx, schema); err == nil {
		return nil, apperror.Validation("schema %q is already in use", schema)
	} else if !errors.Is(err, ErrTenantNotFound) {
		return nil, fmt.Errorf("failed to check schema: %w", err)
	}

	if _, err := s.repo.GetDomain(ctx, domain); err == nil {
		return nil, apperror.Conflict("domain %q is already bound to a clinic", domain)
	} else if !errors.Is(err, ErrDomainNotFound) {
		return nil, fmt.Errorf("failed to check domain: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate tenant id: %w", err)
	}

	now := time.Now().UTC()
	t := &Tenant{
		ID:         id.String(),
		Name:       name,
		SchemaName: schema,
		CreatedAt:  now,
	}
	primary := Domain{Domain: domain, TenantID: t.ID, IsPrimary: true, CreatedAt: now}

	if err := s.repo.Create(ctx, t, primary); err != nil {
		switch {
		case errors.Is(err, ErrDomainTaken):
			return nil, apperror.Wrap(apperror.CodeConflict, fmt.Sprintf("domain %q is already bound to a clinic", domain), err)
		case errors.Is(err, ErrSchemaTaken):
			return nil, apperror.Wrap(apperror.CodeValidation, fmt.Sprintf("schema %q is already in use", schema), err)
		}
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	t.Domains = []Domain{primary}

	s.invalidate(ctx, domain)
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantCreated,
		TenantID: t.ID,
		Schema:   schema,
		Resource: name,
		Outcome:  audit.OutcomeSuccess,
		Metadata: map[string]any{"domain": domain},
	})
	slog.InfoContext(ctx, "tenant created", logger.TenantID(t.ID), logger.Schema(schema), logger.Domain(domain))

	return t, nil
}

// Delete removes a clinic with its domains and schema. The control-plane
// tenant cannot be deleted.
func (s *Service) Delete(ctx context.Context, tenantID string) error {
	t, err := s.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if s.IsPublic(t) {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeAccessDenied,
			TenantID: t.ID,
			Schema:   t.SchemaName,
			Resource: "tenant.delete",
			Outcome:  audit.OutcomeDenied,
		})
		return apperror.Forbidden("the public tenant cannot be deleted")
	}

	if err := s.repo.Delete(ctx, t); err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return apperror.Wrap(apperror.CodeNotFound, "clinic not found", err)
		}
		return fmt.Errorf("failed to delete tenant: %w", err)
	}

	s.invalidate(ctx, t.DomainNames()...)
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantDeleted,
		TenantID: t.ID,
		Schema:   t.SchemaName,
		Resource: t.Name,
		Outcome:  audit.OutcomeSuccess,
		Metadata: map[string]any{"domains": t.DomainNames()},
	})
	slog.InfoContext(ctx, "tenant deleted", logger.TenantID(t.ID), logger.Schema(t.SchemaName))
	return nil
}

// Get retrieves a tenant by ID
func (s *Service) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	if tenantID == "" {
		return nil, apperror.Validation("clinic id is required")
	}
	t, err := s.repo.GetByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return nil, apperror.Wrap(apperror.CodeNotFound, "clinic not found", err)
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// BySchema returns the tenant owning schema. An unknown schema is an
// unknown_tenant error.
func (s *Service) BySchema(ctx context.Context, schema string) (*Tenant, error) {
	t, err := s.repo.GetBySchema(ctx, schema)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return nil, apperror.UnknownTenant(schema)
		}
		return nil, fmt.Errorf("failed to look up schema: %w", err)
	}
	return t, nil
}

// Exists reports whether a tenant owns schema.
func (s *Service) Exists(ctx context.Context, schema string) (bool, error) {
	_, err := s.repo.GetBySchema(ctx, schema)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrTenantNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to look up schema: %w", err)
	}
}

// List returns every clinic, excluding the control-plane tenant.
func (s *Service) List(ctx context.Context) ([]*Tenant, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	out := make([]*Tenant, 0, len(all))
	for _, t := range all {
		if !s.IsPublic(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// AddDomain binds another hostname to a tenant. A primary domain replaces the
// tenant's previous primary.
func (s *Service) AddDomain(ctx context.Context, tenantID, domain string, primary bool) (*Domain, error) {
	t, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	host, err := ValidateDomain(domain)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetDomain(ctx, host); err == nil {
		return nil, apperror.Conflict("domain %q is already bound to a clinic", host)
	} else if !errors.Is(err, ErrDomainNotFound) {
		return nil, fmt.Errorf("failed to check domain: %w", err)
	}

	d := Domain{Domain: host, TenantID: t.ID, IsPrimary: primary, CreatedAt: time.Now().UTC()}
	if err := s.repo.AddDomain(ctx, d); err != nil {
		if errors.Is(err, ErrDomainTaken) {
			return nil, apperror.Wrap(apperror.CodeConflict, fmt.Sprintf("domain %q is already bound to a clinic", host), err)
		}
		return nil, fmt.Errorf("failed to add domain: %w", err)
	}

	s.invalidate(ctx, append(t.DomainNames(), host)...)
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeDomainAdded,
		TenantID: t.ID,
		Schema:   t.SchemaName,
		Resource: host,
		Outcome:  audit.OutcomeSuccess,
		Metadata: map[string]any{"is_primary": primary},
	})
	return &d, nil
}

// RemoveDomain unbinds a non-primary hostname.
func (s *Service) RemoveDomain(ctx context.Context, domain string) error {
	host := NormalizeHost(domain)
	d, err := s.repo.GetDomain(ctx, host)
	if err != nil {
		if errors.Is(err, ErrDomainNotFound) {
			return apperror.Wrap(apperror.CodeNotFound, "domain not found", err)
		}
		return fmt.Errorf("failed to get domain: %w", err)
	}
	if d.IsPrimary {
		return apperror.Validation("domain %q is the primary domain of its clinic and cannot be removed", host)
	}

	if err := s.repo.RemoveDomain(ctx, host); err != nil {
		if errors.Is(err, ErrDomainNotFound) {
			return apperror.Wrap(apperror.CodeNotFound, "domain not found", err)
		}
		return fmt.Errorf("failed to remove domain: %w", err)
	}

	s.invalidate(ctx, host)
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeDomainRemoved,
		TenantID: d.TenantID,
		Resource: host,
		Outcome:  audit.OutcomeSuccess,
	})
	return nil
}

// Stats returns global statistics across clinics. A clinic whose counters
// cannot be read is reported with an error instead of failing the whole call.
func (s *Service) Stats(ctx context.Context) (*GlobalStats, error) {
	clinics, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	domains, err := s.repo.CountDomains(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count domains: %w", err)
	}

	out := &GlobalStats{
		TotalClinics: len(clinics),
		TotalDomains: domains,
		Clinics:      make([]ClinicSummary, 0, len(clinics)),
		GeneratedAt:  time.Now().UTC(),
	}
	for _, t := range clinics {
		row := ClinicSummary{
			ID:            t.ID,
			Name:          t.Name,
			SchemaName:    t.SchemaName,
			CreatedAt:     t.CreatedAt,
			Domains:       t.DomainNames(),
			PrimaryDomain: t.PrimaryDomain(),
		}
		c, err := s.stats.ClinicCounts(ctx, t.SchemaName)
		if err != nil {
			slog.ErrorContext(ctx, "failed to read clinic counters", logger.Schema(t.SchemaName), logger.Error(err))
			row.Error = "statistics unavailable"
		} else {
			u := userStats(c)
			row.TotalUsers = u.Total
			row.Patients = u.Patients
			row.Professionals = u.Professionals
			row.Admins = u.Admins
			out.TotalUsersGlobal += u.Total
		}
		out.Clinics = append(out.Clinics, row)
	}
	return out, nil
}

// ClinicStats returns the detailed statistics of one clinic.
func (s *Service) ClinicStats(ctx context.Context, tenantID string) (*ClinicStats, error) {
	t, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if s.IsPublic(t) {
		return nil, apperror.Forbidden("the public tenant has no clinic statistics")
	}
	c, err := s.stats.ClinicCounts(ctx, t.SchemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to read clinic statistics: %w", err)
	}
	return &ClinicStats{
		Clinic:       t,
		Users:        userStats(c),
		Appointments: appointmentStats(c),
		Professionals: ProfessionalStats{
			TotalProfiles: c.ProfessionalProfiles,
			Verified:      c.VerifiedProfiles,
		},
	}, nil
}

func (s *Service) invalidate(ctx context.Context, hosts ...string) {
	if s.cache != nil && len(hosts) > 0 {
		s.cache.Invalidate(ctx, hosts...)
	}
}
