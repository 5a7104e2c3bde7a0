// Package telemetry configures OpenTelemetry context propagation so run
// notifications carry trace and baggage headers to downstream consumers.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
)

// RunIDKey is the baggage member that names the run an event belongs to.
const RunIDKey = "q2bs.run_id"

var once sync.Once

// Init installs the W3C trace-context and baggage propagators globally.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		)
	})
}

// WithRunID returns ctx with runID added to its baggage. An empty runID
// leaves ctx untouched.
func WithRunID(ctx context.Context, runID string) context.Context {
	if runID == "" {
		return ctx
	}
	member, err := baggage.NewMemberRaw(RunIDKey, runID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}
