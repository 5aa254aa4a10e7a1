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

package schemactx

import (
	"context"
	"sync"
	"testing"

	"github.com/psicosas/psicosas/internal/apperror"
	"github.com/psicosas/psicosas/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRegistry map[string]*tenant.Tenant

func (r staticRegistry) BySchema(_ context.Context, schema string) (*tenant.Tenant, error) {
	if t, ok := r[schema]; ok {
		return t, nil
	}
	return nil, apperror.UnknownTenant(schema)
}

func newSwitch() *Switch {
	return New(staticRegistry{
		"public":   {ID: "t-0", Name: "Psico SAS", SchemaName: "public"},
		"clinic_a": {ID: "t-a", Name: "Clinic A", SchemaName: "clinic_a"},
		"clinic_b": {ID: "t-b", Name: "Clinic B", SchemaName: "clinic_b"},
	}, "public", nil)
}

// TestPurpose: Validates activation, nesting and release of schema bindings.
// Scope: Unit Test
// Security: Multi-tenant boundary enforcement
// Expected: Nested bindings shadow the outer one; release restores the parent.
// Test Case ID: SCX-01
func TestSwitch_NestedActivation(t *testing.T) {
	s := newSwitch()
	ctx := context.Background()
	assert.Equal(t, "public", s.Current(ctx))

	ctxA, releaseA, err := s.Activate(ctx, "clinic_a")
	require.NoError(t, err)
	assert.Equal(t, "clinic_a", s.Current(ctxA))

	ctxB, releaseB, err := s.Activate(ctxA, "clinic_b")
	require.NoError(t, err)
	b, ok := FromContext(ctxB)
	require.True(t, ok)
	assert.Equal(t, Binding{Schema: "clinic_b", TenantID: "t-b", TenantName: "Clinic B"}, b)

	releaseB()
	releaseB()
	assert.Equal(t, "clinic_a", s.Current(ctxB))

	releaseA()
	assert.Equal(t, "public", s.Current(ctxB))
	assert.Equal(t, "", Schema(ctxA))
}

// TestPurpose: Validates that an unknown schema is rejected without partial activation.
// Scope: Unit Test
// Expected: unknown_tenant error and the original context is returned.
// Test Case ID: SCX-02
func TestSwitch_UnknownSchema(t *testing.T) {
	s := newSwitch()
	ctxA, releaseA, err := s.Activate(context.Background(), "clinic_a")
	require.NoError(t, err)
	defer releaseA()

	got, release, err := s.Activate(ctxA, "ghost")
	assert.Equal(t, apperror.CodeUnknownTenant, apperror.CodeOf(err))
	assert.Equal(t, ctxA, got)
	assert.NotPanics(t, func() { release() })
	assert.Equal(t, "clinic_a", s.Current(got))
}

func TestSwitch_Deactivate(t *testing.T) {
	s := newSwitch()
	ctxA, releaseA, _ := s.Activate(context.Background(), "clinic_a")
	defer releaseA()
	ctxB, releaseB, _ := s.Activate(ctxA, "clinic_b")
	defer releaseB()

	assert.Equal(t, "clinic_a", s.Current(s.Deactivate(ctxB)))
	assert.Equal(t, "public", s.Current(s.Deactivate(ctxA)))
	assert.Equal(t, "public", s.Current(s.Deactivate(context.Background())))
}

// TestPurpose: Validates that concurrent bindings never observe each other.
// Scope: Unit Test
// Security: Multi-tenant boundary enforcement
// Expected: Every goroutine sees only its own schema.
// Test Case ID: SCX-03
func TestSwitch_ConcurrentIsolation(t *testing.T) {
	s := newSwitch()
	var wg sync.WaitGroup
	errs := make(chan string, 200)

	for i := 0; i < 200; i++ {
		schema := "clinic_a"
		if i%2 == 1 {
			schema = "clinic_b"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, release, err := s.Activate(context.Background(), schema)
			if err != nil {
				errs <- err.Error()
				return
			}
			defer release()
			if got := s.Current(ctx); got != schema {
				errs <- got
			}
		}()
	}
	wg.Wait()
	close(errs)
	assert.Empty(t, errs)
}
