// Copyright 2026 The EventDuniya Authors
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Config holds metrics configuration
type Config struct {
	Enabled        bool
	ServiceVersion string
	// Endpoint overrides OTEL_EXPORTER_OTLP_METRICS_ENDPOINT when set.
	Endpoint string
	// Interval between OTLP pushes; zero keeps the SDK default.
	Interval time.Duration
	// Reader replaces the periodic OTLP reader.
	Reader sdkmetric.Reader
}

// Meter wraps OpenTelemetry meter and the provider exporting it
type Meter struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
}

// New creates the meter. When enabled an SDK meter provider is installed
// globally and pushes to the OTLP endpoint.
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{meter: noop.NewMeterProvider().Meter(serviceName)}, nil
	}

	reader := cfg.Reader
	if reader == nil {
		var opts []otlpmetrichttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpointURL(cfg.Endpoint))
		}
		exporter, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		var readerOpts []sdkmetric.PeriodicReaderOption
		if cfg.Interval > 0 {
			readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
		}
		reader = sdkmetric.NewPeriodicReader(exporter, readerOpts...)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		)),
	)
	otel.SetMeterProvider(provider)

	return &Meter{meter: provider.Meter(serviceName), provider: provider}, nil
}

// Shutdown flushes and stops the exporter. It is a no-op when disabled.
func (m *Meter) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
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

// Refresh outcomes
const (
	OutcomeSucceeded = "succeeded"
	OutcomeNoSession = "no_session"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
)

// SessionInstruments is the instrument set recorded by the session manager.
// A nil *SessionInstruments records nothing.
type SessionInstruments struct {
	refreshAttempts metric.Int64Counter
	transitions     metric.Int64Counter
	refreshDuration metric.Float64Histogram
}

// SessionInstruments creates the session instrument set on m
func (m *Meter) SessionInstruments() (*SessionInstruments, error) {
	attempts, err := m.CreateCounter("session.refresh.attempts", "Silent refresh attempts by outcome")
	if err != nil {
		return nil, err
	}
	transitions, err := m.CreateCounter("session.transitions", "Session state transitions by kind")
	if err != nil {
		return nil, err
	}
	duration, err := m.CreateHistogram("session.refresh.duration", "Silent refresh round trip", "s")
	if err != nil {
		return nil, err
	}
	return &SessionInstruments{
		refreshAttempts: attempts,
		transitions:     transitions,
		refreshDuration: duration,
	}, nil
}

// RecordRefresh records one finished refresh attempt
func (i *SessionInstruments) RecordRefresh(ctx context.Context, outcome string, elapsed time.Duration) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	i.refreshAttempts.Add(ctx, 1, attrs)
	i.refreshDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordTransition records a session state transition
func (i *SessionInstruments) RecordTransition(ctx context.Context, kind string) {
	if i == nil {
		return
	}
	i.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
