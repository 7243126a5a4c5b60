// Copyright 2026 The OpenTrusty Authors
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
	"go.opentelemetry.io/otel/metric/noop"
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
		return &Meter{meter: noop.NewMeterProvider().Meter(serviceName)}, nil
	}

	// The global provider is configured by the process; without one the
	// instruments are no-ops.
	return &Meter{meter: otel.Meter(serviceName)}, nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
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

// Outcome labels for tenant resolution.
const (
	OutcomeResolved = "resolved"
	OutcomeUnknown  = "unknown_domain"
	OutcomeError    = "error"
)

// Instruments groups the tenancy instruments recorded by the request pipeline
// and the schema manager.
type Instruments struct {
	Resolutions           metric.Int64Counter
	CrossTenantRejections metric.Int64Counter
	ProvisionDuration     metric.Float64Histogram
}

// Instruments creates the tenancy instrument set on this meter.
func (m *Meter) Instruments() (*Instruments, error) {
	resolutions, err := m.CreateCounter("tenancy.resolutions", "Tenant resolutions by outcome")
	if err != nil {
		return nil, err
	}
	rejections, err := m.CreateCounter("tenancy.cross_tenant_rejections", "Requests rejected for presenting another tenant's token")
	if err != nil {
		return nil, err
	}
	provision, err := m.CreateHistogram("tenancy.provision.duration", "Namespace provisioning duration", "s")
	if err != nil {
		return nil, err
	}
	return &Instruments{
		Resolutions:           resolutions,
		CrossTenantRejections: rejections,
		ProvisionDuration:     provision,
	}, nil
}

// NoopInstruments returns instruments that record nothing.
func NoopInstruments() *Instruments {
	ins, _ := (&Meter{meter: noop.NewMeterProvider().Meter("noop")}).Instruments()
	return ins
}

// RecordResolution counts one resolution attempt.
func (i *Instruments) RecordResolution(ctx context.Context, outcome string) {
	i.Resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCrossTenant counts one rejected cross-tenant token.
func (i *Instruments) RecordCrossTenant(ctx context.Context, namespace string) {
	i.CrossTenantRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("namespace", namespace)))
}
