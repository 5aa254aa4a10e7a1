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

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter
}

// New creates a new meter instance
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{meter: otel.Meter("noop")}, nil
	}
	return &Meter{meter: otel.Meter(serviceName)}, nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// CreateUpDownCounter creates a new up/down counter metric
func (m *Meter) CreateUpDownCounter(name, description string) (metric.Int64UpDownCounter, error) {
	counter, err := m.meter.Int64UpDownCounter(name, metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("failed to create up/down counter %s: %w", name, err)
	}
	return counter, nil
}

// Instruments groups the domain instruments recorded by the tenancy and
// backup components. A nil *Instruments records nothing.
type Instruments struct {
	ActiveBindings   metric.Int64UpDownCounter
	BackupOperations metric.Int64Counter
	BackupDuration   metric.Float64Histogram
}

// NewInstruments registers the domain instruments on m.
func NewInstruments(m *Meter) (*Instruments, error) {
	active, err := m.CreateUpDownCounter("psicosas.schema.active_bindings", "Schema bindings currently active")
	if err != nil {
		return nil, err
	}
	ops, err := m.CreateCounter("psicosas.backup.operations", "Backup and restore operations by kind, strategy and outcome")
	if err != nil {
		return nil, err
	}
	dur, err := m.CreateHistogram("psicosas.backup.duration", "Backup and restore duration", "s")
	if err != nil {
		return nil, err
	}
	return &Instruments{ActiveBindings: active, BackupOperations: ops, BackupDuration: dur}, nil
}

// BindingOpened records a schema activation.
func (i *Instruments) BindingOpened(ctx context.Context, schema string) {
	if i == nil {
		return
	}
	i.ActiveBindings.Add(ctx, 1, metric.WithAttributes(attribute.String("schema", schema)))
}

// BindingClosed records a schema deactivation.
func (i *Instruments) BindingClosed(ctx context.Context, schema string) {
	if i == nil {
		return
	}
	i.ActiveBindings.Add(ctx, -1, metric.WithAttributes(attribute.String("schema", schema)))
}

// BackupRecorded records one backup or restore operation.
func (i *Instruments) BackupRecorded(ctx context.Context, op, strategy, outcome string, seconds float64) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("strategy", strategy),
		attribute.String("outcome", outcome),
	)
	i.BackupOperations.Add(ctx, 1, attrs)
	i.BackupDuration.Record(ctx, seconds, attrs)
}
