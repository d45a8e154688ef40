package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitWithoutEndpointStillIssuesTraceIDs(t *testing.T) {
	shutdown, err := Init("raffle-test", "")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	if !span.SpanContext().HasTraceID() {
		t.Error("span has no trace id")
	}
}
