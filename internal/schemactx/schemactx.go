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

// Package schemactx binds a tenant schema to a request context.
//
// A binding is a frame stored in context.Context; nested activations push a
// frame whose parent is the enclosing one. Nothing is kept in package state,
// so concurrent requests can never observe each other's schema.
package schemactx

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/psicosas/psicosas/internal/apperror"
	"github.com/psicosas/psicosas/internal/observability/logger"
	"github.com/psicosas/psicosas/internal/observability/metrics"
	"github.com/psicosas/psicosas/internal/tenant"
)

// Binding is the tenant a context is confined to.
type Binding struct {
	Schema     string
	TenantID   string
	TenantName string
}

type frame struct {
	Binding
	parent   *frame
	released atomic.Bool
}

type ctxKey struct{}

// Registry looks tenants up by schema. An unknown schema must yield an
// apperror with code unknown_tenant.
type Registry interface {
	BySchema(ctx context.Context, schema string) (*tenant.Tenant, error)
}

// Release ends a binding. Calling it more than once is a no-op.
type Release func()

// Switch activates and deactivates schema bindings.
type Switch struct {
	registry     Registry
	publicSchema string
	instruments  *metrics.Instruments
}

// New creates a Switch. instruments may be nil.
func New(registry Registry, publicSchema string, instruments *metrics.Instruments) *Switch {
	if publicSchema == "" {
		publicSchema = tenant.PublicSchema
	}
	return &Switch{registry: registry, publicSchema: publicSchema, instruments: instruments}
}

// PublicSchema returns the schema used when nothing is bound.
func (s *Switch) PublicSchema() string {
	return s.publicSchema
}

// Activate binds schema to the returned context. On error ctx is returned
// unchanged and nothing is recorded.
func (s *Switch) Activate(ctx context.Context, schema string) (context.Context, Release, error) {
	t, err := s.registry.BySchema(ctx, schema)
	if err != nil {
		if apperror.Is(err, apperror.CodeUnknownTenant) {
			return ctx, noop, err
		}
		return ctx, noop, apperror.Wrap(apperror.CodeUnknownTenant, "unknown tenant schema "+schema, err)
	}
	nctx, release := s.ActivateTenant(ctx, t)
	return nctx, release, nil
}

// ActivateTenant binds an already resolved tenant.
func (s *Switch) ActivateTenant(ctx context.Context, t *tenant.Tenant) (context.Context, Release) {
	f := &frame{
		Binding: Binding{Schema: t.SchemaName, TenantID: t.ID, TenantName: t.Name},
		parent:  current(ctx),
	}
	s.instruments.BindingOpened(ctx, f.Schema)
	slog.DebugContext(ctx, "schema activated", logger.Schema(f.Schema), logger.TenantID(f.TenantID))

	var once sync.Once
	release := func() {
		once.Do(func() {
			f.released.Store(true)
			s.instruments.BindingClosed(context.WithoutCancel(ctx), f.Schema)
			slog.DebugContext(ctx, "schema deactivated", logger.Schema(f.Schema))
		})
	}
	return context.WithValue(ctx, ctxKey{}, f), release
}

// Deactivate returns a context bound to the frame enclosing the current one,
// or to no schema when there is none.
func (s *Switch) Deactivate(ctx context.Context) context.Context {
	f := current(ctx)
	if f == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, live(f.parent))
}

// Current returns the bound schema, or the public schema when unbound.
func (s *Switch) Current(ctx context.Context) string {
	if b, ok := FromContext(ctx); ok {
		return b.Schema
	}
	return s.publicSchema
}

// FromContext returns the innermost live binding.
func FromContext(ctx context.Context) (Binding, bool) {
	f := current(ctx)
	if f == nil {
		return Binding{}, false
	}
	return f.Binding, true
}

// Schema returns the bound schema or "".
func Schema(ctx context.Context) string {
	b, _ := FromContext(ctx)
	return b.Schema
}

func current(ctx context.Context) *frame {
	f, _ := ctx.Value(ctxKey{}).(*frame)
	return live(f)
}

// live skips frames that were already released.
func live(f *frame) *frame {
	for f != nil && f.released.Load() {
		f = f.parent
	}
	return f
}

func noop() {}
