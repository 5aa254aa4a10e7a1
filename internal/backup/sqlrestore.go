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
	"errors"
	"strings"
	"time"

	"github.com/psicosas/psicosas/internal/apperror"
)

// SQLRestorer replays a SQL artifact with psql. The schema is dropped,
// recreated and refilled inside one --single-transaction run, so a failure at
// any statement leaves the schema as it was.
type SQLRestorer struct {
	runner  Runner
	path    string
	conn    ConnInfo
	timeout time.Duration
}

// NewSQLRestorer creates a psql based restorer.
func NewSQLRestorer(runner Runner, path string, conn ConnInfo, timeout time.Duration) *SQLRestorer {
	return &SQLRestorer{runner: runner, path: path, conn: conn, timeout: timeout}
}

// Restore rebuilds schema from dump. dump must come from ParseSQL.
func (r *SQLRestorer) Restore(ctx context.Context, schema string, dump []byte) error {
	if err := checkMetaCommands(dump); err != nil {
		return err
	}
	args := append(r.conn.args(),
		"--no-psqlrc",
		"--quiet",
		"--single-transaction",
		"--set", "ON_ERROR_STOP=1",
	)
	script := restoreScript(schema, r.conn.User, dump)

	res, err := r.runner.Run(ctx, Command{
		Path:    r.path,
		Args:    args,
		Env:     r.conn.env(),
		Stdin:   bytes.NewReader(script),
		Timeout: r.timeout,
	})
	if err == nil {
		return nil
	}

	f := classify("psql", res, err)
	switch {
	case errors.Is(err, ErrToolUnavailable):
		return apperror.Wrap(apperror.CodeExternalTool, "psql is not available", f)
	case errors.Is(err, ErrTimeout):
		return apperror.Wrap(apperror.CodeTransaction, "restore timed out and was rolled back", f)
	}
	msg := "restore failed and was rolled back"
	if s := strings.TrimSpace(f.Stderr); s != "" {
		msg += ": " + s
	}
	return apperror.Wrap(apperror.CodeTransaction, msg, f)
}

func restoreScript(schema, owner string, dump []byte) []byte {
	ident := quoteIdent(schema)
	var b bytes.Buffer
	b.WriteString("DROP SCHEMA IF EXISTS " + ident + " CASCADE;\n")
	b.WriteString("CREATE SCHEMA " + ident + ";\n")
	b.Write(rewriteForRestore(dump))
	b.WriteString("\nGRANT ALL ON SCHEMA " + ident + " TO " + quoteIdent(owner) + ";\n")
	return b.Bytes()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
