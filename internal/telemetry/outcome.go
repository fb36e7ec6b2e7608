// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// RecordJobOutcome counts a finished job on the global meter provider and
// tags the current span with its status.
func RecordJobOutcome(ctx context.Context, status, source string) {
	meter := otel.GetMeterProvider().Meter("vidlint/job")
	total, err := meter.Int64Counter("vidlint.jobs.finished", metric.WithDescription("Finished analysis jobs"))
	if err == nil {
		total.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("source", source),
		))
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(JobStatusKey, status))
}
