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

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/psicosas/psicosas/internal/tenant"
)

// pg error code for CREATE SCHEMA on an existing name
const duplicateSchema = "42P06"

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Create inserts the clinic and its primary domain, then creates and
// provisions the schema. Everything happens in one transaction.
func (r *TenantRepository) Create(ctx context.Context, t *tenant.Tenant, primary tenant.Domain) error {
	return r.db.InControlPlane(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO clinics (id, name, schema_name, created_at)
			VALUES ($1, $2, $3, $4)
		`, t.ID, t.Name, t.SchemaName, t.CreatedAt)
		if err != nil {
			if isUniqueViolation(err, "clinics_schema_name_key") {
				return tenant.ErrSchemaTaken
			}
			return fmt.Errorf("failed to insert clinic: %w", err)
		}

		if err := insertDomain(ctx, tx, primary); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, "CREATE SCHEMA "+quoteIdent(t.SchemaName)); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == duplicateSchema {
				return tenant.ErrSchemaTaken
			}
			return fmt.Errorf("failed to create schema: %w", err)
		}

		if err := setSearchPath(ctx, tx, t.SchemaName); err != nil {
			return err
		}
		if err := applyTenantSchema(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, "GRANT ALL ON SCHEMA "+quoteIdent(t.SchemaName)+" TO CURRENT_USER"); err != nil {
			return fmt.Errorf("failed to grant schema: %w", err)
		}
		return nil
	})
}

// Delete removes the clinic's domains, drops its schema and deletes the
// clinic row, in that order and in one transaction.
func (r *TenantRepository) Delete(ctx context.Context, t *tenant.Tenant) error {
	return r.db.InControlPlane(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM domains WHERE tenant_id = $1", t.ID); err != nil {
			return fmt.Errorf("failed to delete domains: %w", err)
		}
		if _, err := tx.Exec(ctx, "DROP SCHEMA IF EXISTS "+quoteIdent(t.SchemaName)+" CASCADE"); err != nil {
			return fmt.Errorf("failed to drop schema: %w", err)
		}
		tag, err := tx.Exec(ctx, "DELETE FROM clinics WHERE id = $1", t.ID)
		if err != nil {
			return fmt.Errorf("failed to delete clinic: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return tenant.ErrTenantNotFound
		}
		return nil
	})
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	return r.getOne(ctx, "c.id::text = $1", id)
}

// GetBySchema retrieves a tenant by schema name
func (r *TenantRepository) GetBySchema(ctx context.Context, schema string) (*tenant.Tenant, error) {
	return r.getOne(ctx, "c.schema_name = $1", schema)
}

// GetByDomain retrieves the tenant bound to an exact hostname
func (r *TenantRepository) GetByDomain(ctx context.Context, domain string) (*tenant.Tenant, error) {
	return r.getOne(ctx, "c.id = (SELECT tenant_id FROM domains WHERE domain = $1)", domain)
}

func (r *TenantRepository) getOne(ctx context.Context, where string, arg any) (*tenant.Tenant, error) {
	var out *tenant.Tenant
	err := r.db.InControlPlane(ctx, func(tx pgx.Tx) error {
		var t tenant.Tenant
		err := tx.QueryRow(ctx, `
			SELECT c.id::text, c.name, c.schema_name, c.created_at
			FROM clinics c
			WHERE `+where, arg).Scan(&t.ID, &t.Name, &t.SchemaName, &t.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return tenant.ErrTenantNotFound
			}
			return fmt.Errorf("failed to get clinic: %w", err)
		}
		domains, err := listDomains(ctx, tx, "WHERE tenant_id::text = $1", t.ID)
		if err != nil {
			return err
		}
		t.Domains = domains
		out = &t
		return nil
	})
	return out, err
}

// List returns every tenant, including the control-plane one, with domains.
func (r *TenantRepository) List(ctx context.Context) ([]*tenant.Tenant, error) {
	var out []*tenant.Tenant
	err := r.db.InControlPlane(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id::text, name, schema_name, created_at
			FROM clinics
			ORDER BY created_at, name
		`)
		if err != nil {
			return fmt.Errorf("failed to list clinics: %w", err)
		}
		list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*tenant.Tenant, error) {
			var t tenant.Tenant
			err := row.Scan(&t.ID, &t.Name, &t.SchemaName, &t.CreatedAt)
			return &t, err
		})
		if err != nil {
			return fmt.Errorf("failed to scan clinics: %w", err)
		}

		domains, err := listDomains(ctx, tx, "")
		if err != nil {
			return err
		}
		byTenant := make(map[string][]tenant.Domain, len(list))
		for _, d := range domains {
			byTenant[d.TenantID] = append(byTenant[d.TenantID], d)
		}
		for _, t := range list {
			t.Domains = byTenant[t.ID]
		}
		out = list
		return nil
	})
	return out, err
}

// GetDomain retrieves a domain binding
func (r *TenantRepository) GetDomain(ctx context.Context, domain string) (*tenant.Domain, error) {
	var out *tenant.Domain
	err := r.db.InControlPlane(ctx, func(tx pgx.Tx) error {
		domains, err := listDomains(ctx, tx, "WHERE domain = $1", domain)
		if err != nil {
			return err
		}
		if len(domains) == 0 {
			return tenant.ErrDomainNotFound
		}
		out = &domains[0]
		return nil
	})
	return out, err
}

// AddDomain binds a hostname; a new primary demotes the previous one.
func (r *TenantRepository) AddDomain(ctx context.Context, d tenant.Domain) error {
	return r.db.InControlPlane(ctx, func(tx pgx.Tx) error {
		if d.IsPrimary {
			if _, err := tx.Exec(ctx, `
				UPDATE domains SET is_primary = false
				WHERE tenant_id = $1 AND is_primary
			`, d.TenantID); err != nil {
				return fmt.Errorf("failed to demote primary domain: %w", err)
			}
		}
		return insertDomain(ctx, tx, d)
	})
}

// RemoveDomain unbinds a non-primary hostname
func (r *TenantRepository) RemoveDomain(ctx context.Context, domain string) error {
	return r.db.InControlPlane(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "DELETE FROM domains WHERE domain = $1 AND NOT is_primary", domain)
		if err != nil {
			return fmt.Errorf("failed to delete domain: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return tenant.ErrDomainNotFound
		}
		return nil
	})
}

// CountDomains counts every domain binding, control plane included.
func (r *TenantRepository) CountDomains(ctx context.Context) (int, error) {
	var n int
	err := r.db.InControlPlane(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, "SELECT count(*) FROM domains").Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count domains: %w", err)
	}
	return n, nil
}

// EnsureControlPlane creates the control-plane tenant when missing and binds
// the given hostnames to it. Existing bindings are left alone.
func (r *TenantRepository) EnsureControlPlane(ctx context.Context, t *tenant.Tenant, domains []string) error {
	return r.db.InControlPlane(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO clinics (id, name, schema_name, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (schema_name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id::text, created_at
		`, t.ID, t.Name, t.SchemaName, t.CreatedAt).Scan(&t.ID, &t.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert public clinic: %w", err)
		}

		for i, host := range domains {
			if _, err := tx.Exec(ctx, `
				INSERT INTO domains (domain, tenant_id, is_primary)
				SELECT $1, $2, $3
				WHERE NOT EXISTS (SELECT 1 FROM domains WHERE tenant_id = $2 AND is_primary AND $3)
				ON CONFLICT (domain) DO NOTHING
			`, host, t.ID, i == 0); err != nil {
				return fmt.Errorf("failed to bind public domain %s: %w", host, err)
			}
		}
		return nil
	})
}

func insertDomain(ctx context.Context, tx pgx.Tx, d tenant.Domain) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO domains (domain, tenant_id, is_primary, created_at)
		VALUES ($1, $2, $3, $4)
	`, d.Domain, d.TenantID, d.IsPrimary, d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "domains_pkey") {
			return tenant.ErrDomainTaken
		}
		return fmt.Errorf("failed to insert domain: %w", err)
	}
	return nil
}

func listDomains(ctx context.Context, tx pgx.Tx, where string, args ...any) ([]tenant.Domain, error) {
	rows, err := tx.Query(ctx, `
		SELECT domain, tenant_id::text, is_primary, created_at
		FROM domains `+where+`
		ORDER BY is_primary DESC, domain`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	domains, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (tenant.Domain, error) {
		var d tenant.Domain
		err := row.Scan(&d.Domain, &d.TenantID, &d.IsPrimary, &d.CreatedAt)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan domains: %w", err)
	}
	return domains, nil
}
