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
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/multierr"

	"github.com/psicosas/psicosas/internal/apperror"
	"github.com/psicosas/psicosas/internal/audit"
	"github.com/psicosas/psicosas/internal/identity"
	"github.com/psicosas/psicosas/internal/observability/logger"
	"github.com/psicosas/psicosas/internal/observability/metrics"
	"github.com/psicosas/psicosas/internal/schemactx"
	"github.com/psicosas/psicosas/internal/tenant"
)

var tracer = otel.Tracer("github.com/psicosas/psicosas/internal/backup")

// Actor is the caller of a backup operation.
type Actor struct {
	ID   string
	Role string
}

// Upload is an artifact submitted for restore.
type Upload struct {
	Filename string
	Body     []byte
}

// RestoreOptions tunes the schema match policy.
type RestoreOptions struct {
	// AllowCrossSchema accepts a JSON artifact taken from another schema.
	// SQL artifacts are always bound to their source schema.
	AllowCrossSchema bool
}

// RestoreResult describes a completed restore.
type RestoreResult struct {
	Schema       string           `json:"schema"`
	SourceSchema string           `json:"source_schema"`
	Format       Format           `json:"format"`
	Filename     string           `json:"filename"`
	Tables       map[string]int64 `json:"tables"`
	TotalRows    int64            `json:"total_rows"`
	Duration     time.Duration    `json:"-"`
}

// Config holds the operator settings.
type Config struct {
	PgDumpPath   string
	PsqlPath     string
	Conn         ConnInfo
	ToolTimeout  time.Duration
	PublicSchema string
	// SigningKey authenticates SQL artifacts. Without it pg_dump is skipped
	// and SQL uploads are rejected.
	SigningKey string
}

// Operator creates and restores clinic backups. The target schema always
// comes from the binding on the request context.
type Operator struct {
	cfg         Config
	runner      Runner
	strategies  []Strategy
	restorer    *SQLRestorer
	signer      *Signer
	records     RecordStore
	auditLogger audit.Logger
	instruments *metrics.Instruments
}

// NewOperator wires the pg_dump strategy with the record export fallback.
// instruments may be nil.
func NewOperator(cfg Config, runner Runner, records RecordStore, auditLogger audit.Logger, instruments *metrics.Instruments) *Operator {
	if cfg.PublicSchema == "" {
		cfg.PublicSchema = tenant.PublicSchema
	}
	signer := NewSigner(cfg.SigningKey)
	return &Operator{
		cfg:    cfg,
		runner: runner,
		strategies: []Strategy{
			NewPgDumpStrategy(runner, cfg.PgDumpPath, cfg.Conn, cfg.ToolTimeout, signer),
			NewRecordStrategy(records),
		},
		restorer:    NewSQLRestorer(runner, cfg.PsqlPath, cfg.Conn, cfg.ToolTimeout),
		signer:      signer,
		records:     records,
		auditLogger: auditLogger,
		instruments: instruments,
	}
}

// CreateBackup exports the bound clinic schema, trying each strategy in
// order until one succeeds.
func (o *Operator) CreateBackup(ctx context.Context, actor Actor) (*Artifact, error) {
	ctx, span := tracer.Start(ctx, "backup.create")
	defer span.End()
	start := time.Now()

	b, err := o.authorize(ctx, actor, "backup.create")
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("schema", b.Schema))

	var failures error
	for _, s := range o.strategies {
		art, f := s.Backup(ctx, b.Schema)
		if f != nil {
			failures = multierr.Append(failures, f)
			slog.WarnContext(ctx, "backup strategy failed",
				logger.Schema(b.Schema),
				logger.Strategy(f.Strategy),
				slog.String("failure_kind", string(f.Kind)),
				logger.Error(f),
			)
			continue
		}

		meta := map[string]any{
			"strategy": art.Strategy,
			"filename": art.Filename(),
			"bytes":    len(art.Body),
		}
		if failures != nil {
			meta["fallback_reasons"] = failureKinds(failures)
		}
		o.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeBackupCreated,
			TenantID: b.TenantID,
			Schema:   b.Schema,
			ActorID:  actor.ID,
			Resource: "backup.create",
			Outcome:  audit.OutcomeSuccess,
			Metadata: meta,
		})
		o.instruments.BackupRecorded(ctx, "create", art.Strategy, audit.OutcomeSuccess, time.Since(start).Seconds())
		slog.InfoContext(ctx, "backup created", logger.Schema(b.Schema), logger.Strategy(art.Strategy), logger.Filename(art.Filename()))
		span.SetAttributes(attribute.String("strategy", art.Strategy))
		return art, nil
	}

	o.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeBackupFailed,
		TenantID: b.TenantID,
		Schema:   b.Schema,
		ActorID:  actor.ID,
		Resource: "backup.create",
		Outcome:  audit.OutcomeFailure,
		Metadata: map[string]any{"failures": failureKinds(failures)},
	})
	o.instruments.BackupRecorded(ctx, "create", "none", audit.OutcomeFailure, time.Since(start).Seconds())
	span.SetStatus(codes.Error, failures.Error())
	return nil, apperror.Wrap(apperror.CodeExternalTool, "backup failed: no strategy succeeded", failures)
}

// RestoreBackup rebuilds the bound clinic schema from an uploaded artifact.
// Every check runs before anything is modified.
func (o *Operator) RestoreBackup(ctx context.Context, upload Upload, actor Actor, opts RestoreOptions) (*RestoreResult, error) {
	ctx, span := tracer.Start(ctx, "backup.restore")
	defer span.End()
	start := time.Now()

	b, err := o.authorize(ctx, actor, "backup.restore")
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("schema", b.Schema))

	res, err := o.restore(ctx, b, upload, opts)
	strategy := "unknown"
	if res != nil {
		strategy = string(res.Format)
	}
	if err != nil {
		o.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeRestoreFailed,
			TenantID: b.TenantID,
			Schema:   b.Schema,
			ActorID:  actor.ID,
			Resource: "backup.restore",
			Outcome:  audit.OutcomeFailure,
			Metadata: map[string]any{"filename": upload.Filename, "error_code": apperror.CodeOf(err)},
		})
		o.instruments.BackupRecorded(ctx, "restore", strategy, audit.OutcomeFailure, time.Since(start).Seconds())
		slog.ErrorContext(ctx, "restore failed", logger.Schema(b.Schema), logger.Filename(upload.Filename), logger.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res.Duration = time.Since(start)
	o.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRestoreCompleted,
		TenantID: b.TenantID,
		Schema:   b.Schema,
		ActorID:  actor.ID,
		Resource: "backup.restore",
		Outcome:  audit.OutcomeSuccess,
		Metadata: map[string]any{
			"filename":      upload.Filename,
			"format":        string(res.Format),
			"source_schema": res.SourceSchema,
			"total_rows":    res.TotalRows,
		},
	})
	o.instruments.BackupRecorded(ctx, "restore", strategy, audit.OutcomeSuccess, res.Duration.Seconds())
	slog.InfoContext(ctx, "restore completed", logger.Schema(b.Schema), logger.Filename(upload.Filename), logger.Rows(res.TotalRows))
	return res, nil
}

func (o *Operator) restore(ctx context.Context, b schemactx.Binding, upload Upload, opts RestoreOptions) (*RestoreResult, error) {
	format, err := FormatFromFilename(upload.Filename)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(upload.Body)) == 0 {
		return nil, apperror.Validation("backup file is empty")
	}
	res := &RestoreResult{Schema: b.Schema, Format: format, Filename: upload.Filename}

	switch format {
	case FormatSQL:
		dump, err := ParseSQL(upload.Body, o.signer)
		if err != nil {
			return res, err
		}
		res.SourceSchema = dump.SchemaName
		if dump.SchemaName != b.Schema {
			return res, apperror.Forbidden("backup of schema %q cannot be restored into %q: SQL backups only restore into their source schema", dump.SchemaName, b.Schema)
		}
		if err := o.restorer.Restore(ctx, b.Schema, dump.Body); err != nil {
			return res, err
		}
		counts, err := o.records.Counts(ctx)
		if err != nil {
			slog.WarnContext(ctx, "restored schema could not be counted", logger.Schema(b.Schema), logger.Error(err))
			counts = map[string]int64{}
		}
		res.Tables = counts

	case FormatJSON:
		doc, err := ParseJSON(upload.Body, o.records.Tables())
		if err != nil {
			return res, err
		}
		res.SourceSchema = doc.SchemaName
		if doc.SchemaName != b.Schema && !opts.AllowCrossSchema {
			return res, apperror.Forbidden("backup of schema %q cannot be restored into %q without allow_cross_schema", doc.SchemaName, b.Schema)
		}
		restored, err := o.records.Replace(ctx, doc.Data)
		if apperror.Is(err, apperror.CodeValidation) {
			return res, err
		}
		if err != nil {
			return res, apperror.Wrap(apperror.CodeTransaction, "restore failed and was rolled back", err)
		}
		res.Tables = restored
	}

	for _, n := range res.Tables {
		res.TotalRows += n
	}
	return res, nil
}

// authorize checks role and target schema and returns the binding.
func (o *Operator) authorize(ctx context.Context, actor Actor, op string) (schemactx.Binding, error) {
	b, ok := schemactx.FromContext(ctx)
	if !ok {
		b = schemactx.Binding{Schema: o.cfg.PublicSchema}
	}

	var err error
	switch {
	case actor.Role != identity.RoleAdmin:
		err = apperror.PermissionDenied("only clinic administrators can manage backups")
	case b.Schema == o.cfg.PublicSchema:
		err = apperror.Forbidden("backups are not available for the public schema")
	default:
		return b, nil
	}

	o.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAccessDenied,
		TenantID: b.TenantID,
		Schema:   b.Schema,
		ActorID:  actor.ID,
		Resource: op,
		Outcome:  audit.OutcomeDenied,
		Metadata: map[string]any{"role": actor.Role},
	})
	return b, err
}

// ToolInfo describes one external tool.
type ToolInfo struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
}

// TableInfo is the row count of one clinic table.
type TableInfo struct {
	Name string `json:"name"`
	Rows int64  `json:"rows"`
}

// Info reports what a backup of the bound schema would involve.
type Info struct {
	Schema      string        `json:"schema"`
	Strategies  []string      `json:"strategies"`
	Tools       []ToolInfo    `json:"tools"`
	ToolTimeout time.Duration `json:"tool_timeout"`
	Tables      []TableInfo   `json:"tables"`
	TotalRows   int64         `json:"total_rows"`
}

// Info reports tool availability and the row counts of the bound schema.
// Counts are omitted for the public schema.
func (o *Operator) Info(ctx context.Context) (*Info, error) {
	info := &Info{ToolTimeout: o.cfg.ToolTimeout}
	for _, s := range o.strategies {
		info.Strategies = append(info.Strategies, s.Name())
	}
	for _, t := range []struct{ name, path string }{
		{"pg_dump", o.cfg.PgDumpPath},
		{"psql", o.cfg.PsqlPath},
	} {
		info.Tools = append(info.Tools, o.toolInfo(ctx, t.name, t.path))
	}

	b, ok := schemactx.FromContext(ctx)
	if !ok || b.Schema == o.cfg.PublicSchema {
		info.Schema = o.cfg.PublicSchema
		return info, nil
	}
	info.Schema = b.Schema

	counts, err := o.records.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count clinic tables: %w", err)
	}
	for _, table := range o.records.Tables() {
		info.Tables = append(info.Tables, TableInfo{Name: table, Rows: counts[table]})
		info.TotalRows += counts[table]
	}
	return info, nil
}

func (o *Operator) toolInfo(ctx context.Context, name, path string) ToolInfo {
	ti := ToolInfo{Name: name, Path: path}
	resolved, err := o.runner.LookPath(path)
	if err != nil {
		return ti
	}
	ti.Path = resolved
	ti.Available = true
	res, err := o.runner.Run(ctx, Command{Path: resolved, Args: []string{"--version"}, Timeout: 5 * time.Second})
	if err == nil {
		ti.Version = string(bytes.TrimSpace(res.Stdout))
	}
	return ti
}

func failureKinds(err error) []string {
	var kinds []string
	for _, e := range multierr.Errors(err) {
		if f, ok := e.(*StrategyFailure); ok {
			kinds = append(kinds, f.Strategy+":"+string(f.Kind))
		}
	}
	sort.Strings(kinds)
	return kinds
}
