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
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/psicosas/psicosas/internal/apperror"
)

// Format is the artifact encoding, which is also its file extension.
type Format string

const (
	FormatSQL  Format = "sql"
	FormatJSON Format = "json"
)

// Strategy names recorded in artifacts and audit events.
const (
	StrategyPgDump  = "pg_dump"
	StrategyRecords = "records"
)

const (
	headerPrefix    = "-- psicosas-backup "
	filenameTimeFmt = "20060102T150405Z"
)

var createSchemaRe = regexp.MustCompile(`(?m)^CREATE SCHEMA (?:IF NOT EXISTS )?"?([a-z][a-z0-9_]*)"?;\s*$`)

// Artifact is a serialized backup of one clinic schema.
type Artifact struct {
	Format     Format
	SchemaName string
	CreatedAt  time.Time
	Strategy   string
	Body       []byte
}

// Filename returns backup-<schema>-<timestamp>.<ext>.
func (a *Artifact) Filename() string {
	return fmt.Sprintf("backup-%s-%s.%s", a.SchemaName, a.CreatedAt.UTC().Format(filenameTimeFmt), a.Format)
}

// ContentType returns the MIME type of the body.
func (a *Artifact) ContentType() string {
	if a.Format == FormatJSON {
		return "application/json"
	}
	return "application/sql"
}

// FormatFromFilename derives the artifact format from the upload name.
func FormatFromFilename(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".sql":
		return FormatSQL, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", apperror.Validation("unsupported backup file %q: expected .sql or .json", filepath.Base(name))
	}
}

// Signer authenticates SQL artifacts with HMAC-SHA256 over the declared
// schema, the creation time and the dump body. psql replays every statement
// of a restored dump, so only dumps produced with the same key are accepted.
type Signer struct {
	key []byte
}

// NewSigner returns a Signer for key. An empty key disables SQL artifacts.
func NewSigner(key string) *Signer {
	return &Signer{key: []byte(key)}
}

// Enabled reports whether a signing key is configured.
func (s *Signer) Enabled() bool {
	return s != nil && len(s.key) > 0
}

func (s *Signer) sum(schema, createdAt string, body []byte) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(schema))
	mac.Write([]byte{0})
	mac.Write([]byte(createdAt))
	mac.Write([]byte{0})
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign returns the hex signature of a dump.
func (s *Signer) Sign(schema, createdAt string, body []byte) string {
	return hex.EncodeToString(s.sum(schema, createdAt, body))
}

// Verify checks sig in constant time.
func (s *Signer) Verify(schema, createdAt string, body []byte, sig string) bool {
	if !s.Enabled() {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil || len(want) != sha256.Size {
		return false
	}
	return hmac.Equal(want, s.sum(schema, createdAt, body))
}

// signSQL prefixes dump with a signed header line.
func signSQL(signer *Signer, schema string, createdAt time.Time, dump []byte) []byte {
	ts := createdAt.UTC().Format(time.RFC3339)
	header := fmt.Sprintf("%sschema=%s created_at=%s format=%s sig=%s\n",
		headerPrefix, schema, ts, FormatSQL, signer.Sign(schema, ts, dump))
	body := make([]byte, 0, len(header)+len(dump))
	body = append(body, header...)
	return append(body, dump...)
}

// SQLDump is a parsed SQL artifact.
type SQLDump struct {
	SchemaName string
	CreatedAt  time.Time
	// Body is the dump without the header line.
	Body []byte
}

// ParseSQL authenticates a SQL artifact and reads its declared schema.
// Unsigned or altered dumps and dumps carrying psql meta-commands are
// rejected before anything is executed.
func ParseSQL(body []byte, signer *Signer) (*SQLDump, error) {
	if !signer.Enabled() {
		return nil, apperror.Validation("SQL restore is disabled: no backup signing key is configured")
	}

	firstLine, rest, _ := bytes.Cut(body, []byte("\n"))
	line := strings.TrimSpace(string(firstLine))
	if !strings.HasPrefix(line, headerPrefix) {
		return nil, apperror.Validation("backup file is not a signed SQL backup")
	}

	var createdAt, sig string
	d := &SQLDump{Body: rest}
	for _, field := range strings.Fields(strings.TrimPrefix(line, headerPrefix)) {
		key, value, _ := strings.Cut(field, "=")
		switch key {
		case "schema":
			d.SchemaName = value
		case "created_at":
			createdAt = value
		case "sig":
			sig = value
		}
	}
	if d.SchemaName == "" {
		return nil, apperror.Validation("backup file does not declare its schema")
	}
	if !signer.Verify(d.SchemaName, createdAt, rest, sig) {
		return nil, apperror.Validation("backup file signature is missing or invalid")
	}
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		d.CreatedAt = ts
	}

	if m := createSchemaRe.FindSubmatch(d.Body); m != nil && string(m[1]) != d.SchemaName {
		return nil, apperror.Validation("backup header declares schema %q but the dump creates %q", d.SchemaName, m[1])
	}
	if err := checkMetaCommands(d.Body); err != nil {
		return nil, err
	}
	return d, nil
}

// allowedMetaCommands are emitted by pg_dump itself.
var allowedMetaCommands = map[string]bool{`\restrict`: true, `\unrestrict`: true}

// checkMetaCommands rejects psql backslash commands such as \! or \connect.
func checkMetaCommands(dump []byte) error {
	for n, rest := 1, dump; len(rest) > 0; n++ {
		var line []byte
		line, rest, _ = bytes.Cut(rest, []byte("\n"))
		trimmed := bytes.TrimLeft(line, " \t")
		if len(trimmed) == 0 || trimmed[0] != '\\' {
			continue
		}
		cmd, _, _ := strings.Cut(string(trimmed), " ")
		if !allowedMetaCommands[strings.TrimRight(cmd, "\r")] {
			return apperror.Validation("backup file contains psql meta-command %q on line %d", cmd, n)
		}
	}
	return nil
}

// rewriteForRestore drops the dump's own CREATE SCHEMA in favour of the
// restore preamble.
func rewriteForRestore(body []byte) []byte {
	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "CREATE SCHEMA ") && !strings.HasPrefix(line, "CREATE SCHEMA IF NOT EXISTS ") {
			line = "CREATE SCHEMA IF NOT EXISTS " + strings.TrimPrefix(line, "CREATE SCHEMA ")
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.Bytes()
}

// Document is the JSON artifact layout.
type Document struct {
	SchemaName   string                       `json:"schema_name"`
	CreatedAt    time.Time                    `json:"created_at"`
	BackupMethod string                       `json:"backup_method"`
	Format       string                       `json:"format"`
	Data         map[string][]json.RawMessage `json:"data"`
}

// ParseJSON decodes and checks a JSON artifact. Table names are validated
// against tables.
func ParseJSON(body []byte, tables []string) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperror.Wrap(apperror.CodeValidation, "backup file is not valid JSON", err)
	}
	if doc.SchemaName == "" {
		return nil, apperror.Validation("backup file does not declare its schema")
	}
	if doc.Format != "" && doc.Format != string(FormatJSON) {
		return nil, apperror.Validation("backup file declares format %q", doc.Format)
	}
	if doc.Data == nil {
		return nil, apperror.Validation("backup file has no data section")
	}
	known := make(map[string]bool, len(tables))
	for _, t := range tables {
		known[t] = true
	}
	for table := range doc.Data {
		if !known[table] {
			return nil, apperror.Validation("backup file contains unknown table %q", table)
		}
	}
	return &doc, nil
}
