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

package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/psicosas/psicosas/internal/audit"
	"github.com/psicosas/psicosas/internal/backup"
	"github.com/psicosas/psicosas/internal/config"
	"github.com/psicosas/psicosas/internal/identity"
	"github.com/psicosas/psicosas/internal/observability/logger"
	"github.com/psicosas/psicosas/internal/observability/metrics"
	"github.com/psicosas/psicosas/internal/schemactx"
	"github.com/psicosas/psicosas/internal/session"
	"github.com/psicosas/psicosas/internal/store/postgres"
	"github.com/psicosas/psicosas/internal/store/redis"
	"github.com/psicosas/psicosas/internal/tenant"
)

// app holds the services shared by every command.
type app struct {
	db               *postgres.DB
	rdb              *goredis.Client
	tenantRepo       *postgres.TenantRepository
	tenants          *tenant.Service
	switcher         *schemactx.Switch
	clinicAccounts   *identity.Service
	platformAccounts *identity.Service
	sessions         *session.Manager
	backups          *backup.Operator
	auditLogger      audit.Logger
	instruments      *metrics.Instruments
}

func openDB(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		PublicSchema: cfg.Tenancy.PublicSchema,
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "connected to database", "host", cfg.Database.Host, "database", cfg.Database.Database)
	return db, nil
}

// newApp connects to the stores and wires the services. instruments may be nil.
func newApp(ctx context.Context, cfg *config.Config, instruments *metrics.Instruments) (*app, error) {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		db:          db,
		tenantRepo:  postgres.NewTenantRepository(db),
		auditLogger: audit.NewSlogLogger(nil),
		instruments: instruments,
	}

	opts := []tenant.Option{tenant.WithPublicSchema(cfg.Tenancy.PublicSchema)}
	if cfg.Redis.Enabled() {
		rdb, err := redis.NewClient(ctx, redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		a.rdb = rdb
		opts = append(opts, tenant.WithCache(redis.NewDomainCache(rdb), cfg.Tenancy.DomainCacheTTL))
		slog.InfoContext(ctx, "domain cache enabled", "addr", cfg.Redis.Addr)
	}

	a.tenants = tenant.NewService(a.tenantRepo, postgres.NewStatsRepository(db), a.auditLogger, opts...)
	a.switcher = schemactx.New(a.tenants, cfg.Tenancy.PublicSchema, instruments)

	hasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	a.clinicAccounts = identity.NewService(identity.KindClinic, postgres.NewClinicUserRepository(db), hasher, a.auditLogger)
	a.platformAccounts = identity.NewService(identity.KindPlatform, postgres.NewPlatformUserRepository(db), hasher, a.auditLogger)
	a.sessions = session.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)

	a.backups = backup.NewOperator(backup.Config{
		PgDumpPath: cfg.Backup.PgDumpPath,
		PsqlPath:   cfg.Backup.PsqlPath,
		Conn: backup.ConnInfo{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
		},
		ToolTimeout:  cfg.Backup.ToolTimeout,
		PublicSchema: cfg.Tenancy.PublicSchema,
		SigningKey:   cfg.Backup.SigningKey,
	}, backup.ExecRunner{}, postgres.NewRecordStore(db), a.auditLogger, instruments)

	return a, nil
}

// bind activates schema for the duration of fn.
func (a *app) bind(ctx context.Context, schema string, fn func(ctx context.Context) error) error {
	bound, release, err := a.switcher.Activate(ctx, schema)
	if err != nil {
		return err
	}
	defer release()
	return fn(bound)
}

func (a *app) Close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			slog.Warn("failed to close redis client", logger.Error(err))
		}
	}
	a.db.Close()
}
