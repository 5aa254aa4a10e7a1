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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that records reach every enabled sink of the fanout.
// Scope: Unit Test
// Expected: Both buffers receive the record; a disabled sink is skipped.
// Test Case ID: LOG-01
func TestFanoutHandler_DeliversToEnabledHandlers(t *testing.T) {
	var infoBuf, errBuf bytes.Buffer
	h := NewFanoutHandler(
		slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&errBuf, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	l := slog.New(h)

	l.Info("tenant_resolved", Schema("clinic_a"))
	assert.Contains(t, infoBuf.String(), `"schema":"clinic_a"`)
	assert.Empty(t, errBuf.String())

	l.Error("restore_failed", Error(errors.New("boom")))
	assert.Contains(t, errBuf.String(), `"error":"boom"`)
}

func TestTraceContextHandler_NoSpanAddsNothing(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(&TraceContextHandler{Handler: slog.NewJSONHandler(&buf, nil)})
	l.InfoContext(context.Background(), "hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.NotContains(t, rec, "trace_id")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
