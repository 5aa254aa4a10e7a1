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

package audit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Event types
const (
	TypeTenantCreated    = "tenant_created"
	TypeTenantDeleted    = "tenant_deleted"
	TypeDomainAdded      = "domain_added"
	TypeDomainRemoved    = "domain_removed"
	TypeBackupCreated    = "backup_created"
	TypeBackupFailed     = "backup_failed"
	TypeRestoreCompleted = "restore_completed"
	TypeRestoreFailed    = "restore_failed"
	TypeAccessDenied     = "access_denied"
	TypeLoginSuccess     = "login_success"
	TypeLoginFailed      = "login_failed"
	TypeUserCreated      = "user_created"
)

// Outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// Event represents an auditable action
type Event struct {
	Type      string
	TenantID  string
	Schema    string
	ActorID   string
	Resource  string
	Outcome   string
	Metadata  map[string]any
	Timestamp time.Time
	IPAddress string
	UserAgent string
}

type actorKey struct{}

// WithActor attaches the acting account to ctx. Events logged with an empty
// ActorID pick it up.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext returns the actor stored by WithActor, or "system".
func ActorFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(actorKey{}).(string); ok && id != "" {
		return id
	}
	return "system"
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger implements Logger using slog
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates an audit logger writing through l, or through the
// default logger when l is nil.
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: l}
}

// Log records an audit event
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	event = withDefaults(ctx, event)

	attrs := []any{
		slog.String("audit_type", event.Type),
		slog.String("tenant_id", event.TenantID),
		slog.String("schema", event.Schema),
		slog.String("actor_id", event.ActorID),
		slog.String("resource", event.Resource),
		slog.String("outcome", event.Outcome),
		slog.Time("timestamp", event.Timestamp),
	}

	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}

	if len(event.Metadata) > 0 {
		group := make([]any, 0, len(event.Metadata))
		for k, v := range event.Metadata {
			if isSecret(k) {
				v = "[REDACTED]"
			}
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}

	lg := l.logger
	if lg == nil {
		lg = slog.Default()
	}
	lg.InfoContext(ctx, "AUDIT_EVENT", append(attrs, slog.String("component", "audit"))...)
}

// MemoryLogger keeps events in memory. It backs tests and the CLI dry runs.
type MemoryLogger struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemoryLogger) Log(ctx context.Context, event Event) {
	event = withDefaults(ctx, event)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns a copy of the recorded events.
func (m *MemoryLogger) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Last returns the most recent event, or the zero Event.
func (m *MemoryLogger) Last() Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return Event{}
	}
	return m.events[len(m.events)-1]
}

func withDefaults(ctx context.Context, event Event) Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ActorID == "" {
		event.ActorID = ActorFromContext(ctx)
	}
	return event
}

var secretMarkers = []string{"password", "secret", "token", "key", "hash", "credential", "authorization"}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, s := range secretMarkers {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
