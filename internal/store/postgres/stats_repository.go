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
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/psicosas/psicosas/internal/tenant"
)

// StatsRepository implements tenant.StatsRepository
type StatsRepository struct {
	db *DB
}

// NewStatsRepository creates a new stats repository
func NewStatsRepository(db *DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// ClinicCounts reads the counters of one clinic schema in a read-only
// transaction.
func (r *StatsRepository) ClinicCounts(ctx context.Context, schema string) (*tenant.Counts, error) {
	c := &tenant.Counts{
		UsersByType:          map[string]int{},
		AppointmentsByStatus: map[string]int{},
	}
	opts := pgx.TxOptions{AccessMode: pgx.ReadOnly}
	err := r.db.WithSchema(ctx, schema, opts, func(tx pgx.Tx) error {
		if err := groupCounts(ctx, tx, "SELECT user_type, count(*) FROM users GROUP BY user_type", c.UsersByType); err != nil {
			return err
		}
		if err := groupCounts(ctx, tx, "SELECT status, count(*) FROM appointments GROUP BY status", c.AppointmentsByStatus); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `
			SELECT count(*), count(*) FILTER (WHERE is_verified)
			FROM professional_profiles
		`).Scan(&c.ProfessionalProfiles, &c.VerifiedProfiles)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read counters of %s: %w", schema, err)
	}
	return c, nil
}

func groupCounts(ctx context.Context, tx pgx.Tx, query string, into map[string]int) error {
	rows, err := tx.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}
