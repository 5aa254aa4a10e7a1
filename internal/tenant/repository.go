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
	"time"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrDomainNotFound = errors.New("domain not found")
	ErrDomainTaken    = errors.New("domain already bound to a tenant")
	ErrSchemaTaken    = errors.New("schema already in use")
)

// Repository defines the interface for tenant storage. Lookups return tenants
// with their domains loaded.
type Repository interface {
	// Create inserts the tenant and its primary domain and provisions its
	// schema, all in one transaction.
	Create(ctx context.Context, t *Tenant, primary Domain) error
	// Delete removes the tenant's domains, drops its schema and removes the
	// tenant row, all in one transaction.
	Delete(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetBySchema(ctx context.Context, schema string) (*Tenant, error)
	GetByDomain(ctx context.Context, domain string) (*Tenant, error)
	List(ctx context.Context) ([]*Tenant, error)

	GetDomain(ctx context.Context, domain string) (*Domain, error)
	// AddDomain binds a hostname. A primary domain demotes the tenant's
	// previous primary in the same transaction.
	AddDomain(ctx context.Context, d Domain) error
	RemoveDomain(ctx context.Context, domain string) error
	CountDomains(ctx context.Context) (int, error)
}

// StatsRepository reads per-clinic counters from a tenant schema.
type StatsRepository interface {
	ClinicCounts(ctx context.Context, schema string) (*Counts, error)
}

// DomainCache caches hostname resolution. Implementations must be safe for
// concurrent use; a miss or an error is reported as ok == false.
type DomainCache interface {
	Get(ctx context.Context, host string) (*Tenant, bool)
	Set(ctx context.Context, host string, t *Tenant, ttl time.Duration)
	Invalidate(ctx context.Context, hosts ...string)
}
