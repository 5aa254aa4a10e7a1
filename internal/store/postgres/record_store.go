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
	"encoding/json"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/psicosas/psicosas/internal/apperror"
)

// TenantTables lists the clinic tables parent-first. Restores delete in the
// reverse order and insert in this order.
var TenantTables = []string{
	"users",
	"professional_profiles",
	"appointments",
	"clinical_histories",
	"chat_conversations",
	"chat_messages",
	"payments",
	"audit_log_entries",
}

// tables whose primary key is an identity column
var identityTables = map[string]bool{
	"professional_profiles": true,
	"appointments":          true,
	"clinical_histories":    true,
	"chat_conversations":    true,
	"chat_messages":         true,
	"payments":              true,
	"audit_log_entries":     true,
}

// RecordStore exports and replaces the rows of the clinic schema bound to
// the request context.
type RecordStore struct {
	db *DB
}

// NewRecordStore creates a new record store
func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

// Tables returns the clinic tables parent-first.
func (s *RecordStore) Tables() []string {
	return slices.Clone(TenantTables)
}

// Export reads every clinic table as JSON objects inside one repeatable-read
// snapshot.
func (s *RecordStore) Export(ctx context.Context) (map[string][]json.RawMessage, error) {
	out := make(map[string][]json.RawMessage, len(TenantTables))
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

	err := s.withBoundSchema(ctx, opts, func(tx pgx.Tx) error {
		for _, table := range TenantTables {
			rows, err := tx.Query(ctx, fmt.Sprintf(
				"SELECT row_to_json(t)::text FROM %s AS t ORDER BY t.id", quoteIdent(table)))
			if err != nil {
				return fmt.Errorf("failed to export %s: %w", table, err)
			}
			records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (json.RawMessage, error) {
				var raw string
				err := row.Scan(&raw)
				return json.RawMessage(raw), err
			})
			if err != nil {
				return fmt.Errorf("failed to scan %s: %w", table, err)
			}
			if records == nil {
				records = []json.RawMessage{}
			}
			out[table] = records
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Replace rebuilds the clinic tables from data in one transaction: child
// tables are emptied before parents, administrator accounts are kept, rows
// are inserted parent-first skipping conflicts, and identity sequences are
// moved past the restored ids. It returns the inserted row count per table.
func (s *RecordStore) Replace(ctx context.Context, data map[string][]json.RawMessage) (map[string]int64, error) {
	for table := range data {
		if !slices.Contains(TenantTables, table) {
			return nil, fmt.Errorf("unknown table %q", table)
		}
	}

	restored := make(map[string]int64, len(data))
	err := s.withBoundSchema(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for i := len(TenantTables) - 1; i >= 0; i-- {
			table := TenantTables[i]
			q := "DELETE FROM " + quoteIdent(table)
			if table == "users" {
				q += " WHERE NOT (user_type = 'admin' OR is_superuser)"
			}
			if _, err := tx.Exec(ctx, q); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		if err := checkPreservedEmails(ctx, tx, data["users"]); err != nil {
			return err
		}

		for _, table := range TenantTables {
			rows := data[table]
			if len(rows) == 0 {
				continue
			}
			n, err := insertRecords(ctx, tx, table, rows)
			if err != nil {
				return err
			}
			restored[table] = n
		}

		for _, table := range TenantTables {
			if !identityTables[table] {
				continue
			}
			if err := resetSequence(ctx, tx, table); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return restored, nil
}

// Counts returns the row count of every clinic table.
func (s *RecordStore) Counts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(TenantTables))
	err := s.withBoundSchema(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		for _, table := range TenantTables {
			var n int64
			if err := tx.QueryRow(ctx, "SELECT count(*) FROM "+quoteIdent(table)).Scan(&n); err != nil {
				return fmt.Errorf("failed to count %s: %w", table, err)
			}
			out[table] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RecordStore) withBoundSchema(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	schema, err := boundSchema(ctx)
	if err != nil {
		return err
	}
	return s.db.WithSchema(ctx, schema, opts, fn)
}

type userKey struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// checkPreservedEmails fails when a backup user shares its email with a
// kept administrator under another id. Such a row would be skipped on
// conflict and its dependents would then break on foreign keys.
func checkPreservedEmails(ctx context.Context, tx pgx.Tx, users []json.RawMessage) error {
	if len(users) == 0 {
		return nil
	}
	rows, err := tx.Query(ctx, "SELECT id::text, email FROM users")
	if err != nil {
		return fmt.Errorf("failed to read preserved users: %w", err)
	}
	kept, err := pgx.CollectRows(rows, pgx.RowToStructByPos[userKey])
	if err != nil {
		return fmt.Errorf("failed to scan preserved users: %w", err)
	}
	return emailCollision(kept, users)
}

func emailCollision(kept []userKey, users []json.RawMessage) error {
	owner := make(map[string]string, len(kept))
	for _, k := range kept {
		owner[k.Email] = k.ID
	}
	for i, raw := range users {
		var u userKey
		if err := json.Unmarshal(raw, &u); err != nil {
			return apperror.Validation("users row %d is not a JSON object", i)
		}
		if id, ok := owner[u.Email]; ok && id != u.ID {
			return apperror.Validation("backup user %s has the email of a preserved administrator with another id", u.Email)
		}
	}
	return nil
}

func insertRecords(ctx context.Context, tx pgx.Tx, table string, rows []json.RawMessage) (int64, error) {
	ident := quoteIdent(table)
	query := fmt.Sprintf(
		"INSERT INTO %s SELECT * FROM json_populate_record(NULL::%s, $1::json) ON CONFLICT DO NOTHING",
		ident, ident)

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(query, string(row))
	}
	results := tx.SendBatch(ctx, batch)

	var inserted int64
	for i := range rows {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, fmt.Errorf("failed to insert row %d of %s: %w", i, table, err)
		}
		inserted += tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return inserted, nil
}

func resetSequence(ctx context.Context, tx pgx.Tx, table string) error {
	ident := quoteIdent(table)
	_, err := tx.Exec(ctx, fmt.Sprintf(`
		SELECT setval(seq::regclass, COALESCE((SELECT max(id) FROM %s), 0) + 1, false)
		FROM (SELECT pg_get_serial_sequence($1, 'id') AS seq) s
		WHERE seq IS NOT NULL`, ident), ident)
	if err != nil {
		return fmt.Errorf("failed to reset sequence of %s: %w", table, err)
	}
	return nil
}
