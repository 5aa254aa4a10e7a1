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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that configuration loads defaults and environment overrides.
// Scope: Unit Test
// Expected: Defaults apply when unset; env values override; list values are trimmed.
// Test Case ID: CFG-01
func TestLoad_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("PUBLIC_DOMAINS", " localhost , admin.psico.test ,")
	t.Setenv("BACKUP_TOOL_TIMEOUT", "45s")
	t.Setenv("PG_DUMP_PATH", "/usr/lib/postgresql/17/bin/pg_dump")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "public", cfg.Tenancy.PublicSchema)
	assert.Equal(t, []string{"localhost", "admin.psico.test"}, cfg.Tenancy.PublicDomains)
	assert.Equal(t, 45*time.Second, cfg.Backup.ToolTimeout)
	assert.Equal(t, "/usr/lib/postgresql/17/bin/pg_dump", cfg.Backup.PgDumpPath)
	assert.Equal(t, "psql", cfg.Backup.PsqlPath)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, "jwt-secret", cfg.Backup.SigningKey)
	assert.Equal(t, 1.0, cfg.Observability.TraceSampleRatio)

	t.Setenv("BACKUP_SIGNING_KEY", "backup-key")
	t.Setenv("OTEL_TRACES_SAMPLE_RATIO", "0.2")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "backup-key", cfg.Backup.SigningKey)
	assert.Equal(t, 0.2, cfg.Observability.TraceSampleRatio)
}

// TestPurpose: Validates that required secrets are enforced.
// Scope: Unit Test
// Expected: Load fails without DB_PASSWORD or JWT_SECRET.
// Test Case ID: CFG-02
func TestLoad_RequiresSecrets(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("JWT_SECRET", "jwt-secret")
	_, err := Load()
	assert.ErrorContains(t, err, "DB_PASSWORD")

	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("JWT_SECRET", "")
	_, err = Load()
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestParseDuration_InvalidFallsBack(t *testing.T) {
	t.Setenv("SOME_TIMEOUT", "not-a-duration")
	assert.Equal(t, 3*time.Second, parseDuration("SOME_TIMEOUT", "3s"))
}
