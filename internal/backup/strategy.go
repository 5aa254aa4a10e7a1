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

package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Strategy produces an artifact for one schema.
type Strategy interface {
	Name() string
	Backup(ctx context.Context, schema string) (*Artifact, *StrategyFailure)
}

// PgDumpStrategy exports a schema as plain SQL with pg_dump.
type PgDumpStrategy struct {
	runner  Runner
	path    string
	conn    ConnInfo
	timeout time.Duration
	signer  *Signer
	now     func() time.Time
}

// NewPgDumpStrategy creates a pg_dump strategy. Dumps are signed with signer
// so they can be restored later.
func NewPgDumpStrategy(runner Runner, path string, conn ConnInfo, timeout time.Duration, signer *Signer) *PgDumpStrategy {
	return &PgDumpStrategy{runner: runner, path: path, conn: conn, timeout: timeout, signer: signer, now: time.Now}
}

func (s *PgDumpStrategy) Name() string { return StrategyPgDump }

func (s *PgDumpStrategy) Backup(ctx context.Context, schema string) (*Artifact, *StrategyFailure) {
	if !s.signer.Enabled() {
		return nil, &StrategyFailure{Strategy: s.Name(), Kind: KindNotConfigured, Err: errors.New("no backup signing key configured")}
	}
	args := append(s.conn.args(),
		"--schema", schema,
		"--format", "p",
		"--inserts",
		"--no-owner",
		"--no-privileges",
	)
	createdAt := s.now().UTC()
	res, err := s.runner.Run(ctx, Command{Path: s.path, Args: args, Env: s.conn.env(), Timeout: s.timeout})
	if err != nil {
		return nil, classify(s.Name(), res, err)
	}

	out := res.Stdout
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, &StrategyFailure{Strategy: s.Name(), Kind: KindInvalidOutput, Err: errors.New("empty dump"), Stderr: tail(res.Stderr, 2048)}
	}
	m := createSchemaRe.FindSubmatch(out)
	if m == nil || string(m[1]) != schema {
		return nil, &StrategyFailure{Strategy: s.Name(), Kind: KindInvalidOutput, Err: fmt.Errorf("dump does not create schema %s", schema)}
	}

	if err := checkMetaCommands(out); err != nil {
		return nil, &StrategyFailure{Strategy: s.Name(), Kind: KindInvalidOutput, Err: err}
	}

	return &Artifact{
		Format:     FormatSQL,
		SchemaName: schema,
		CreatedAt:  createdAt,
		Strategy:   s.Name(),
		Body:       signSQL(s.signer, schema, createdAt, out),
	}, nil
}

// RecordStore reads and rewrites the rows of the clinic schema bound to ctx.
type RecordStore interface {
	// Tables lists the clinic tables parent-first.
	Tables() []string
	Export(ctx context.Context) (map[string][]json.RawMessage, error)
	// Replace rebuilds the tables from data in one transaction and returns
	// the inserted row count per table.
	Replace(ctx context.Context, data map[string][]json.RawMessage) (map[string]int64, error)
	Counts(ctx context.Context) (map[string]int64, error)
}

// RecordStrategy exports every clinic table as JSON through the database
// connection. It needs no external tool.
type RecordStrategy struct {
	store RecordStore
	now   func() time.Time
}

// NewRecordStrategy creates a record export strategy.
func NewRecordStrategy(store RecordStore) *RecordStrategy {
	return &RecordStrategy{store: store, now: time.Now}
}

func (s *RecordStrategy) Name() string { return StrategyRecords }

func (s *RecordStrategy) Backup(ctx context.Context, schema string) (*Artifact, *StrategyFailure) {
	createdAt := s.now().UTC()
	data, err := s.store.Export(ctx)
	if err != nil {
		return nil, &StrategyFailure{Strategy: s.Name(), Kind: KindExportFailed, Err: err}
	}

	body, err := json.MarshalIndent(Document{
		SchemaName:   schema,
		CreatedAt:    createdAt,
		BackupMethod: "json_export",
		Format:       string(FormatJSON),
		Data:         data,
	}, "", "  ")
	if err != nil {
		return nil, &StrategyFailure{Strategy: s.Name(), Kind: KindExportFailed, Err: err}
	}
	return &Artifact{
		Format:     FormatJSON,
		SchemaName: schema,
		CreatedAt:  createdAt,
		Strategy:   s.Name(),
		Body:       body,
	}, nil
}
