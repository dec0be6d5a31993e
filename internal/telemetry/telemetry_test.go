package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/benaskins/gateboot/internal/config"
)

func TestSetupNoneIsNoop(t *testing.T) {
	p, err := Setup(context.Background(), config.Telemetry{Traces: "none"}, nil)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "noop")
	span.End()
	if span.SpanContext().IsValid() {
		t.Error("expected an invalid span context from the no-op provider")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestSetupStdoutWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := Setup(context.Background(), config.Telemetry{Traces: "stdout"}, &buf)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "supervisor.poll")
	span.AddEvent("health.attempt")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"Name":"supervisor.poll"`, "health.attempt", "gateboot"} {
		if !strings.Contains(out, want) {
			t.Errorf("trace output missing %q:\n%s", want, out)
		}
	}
}

func TestSetupOTLPDoesNotDial(t *testing.T) {
	// Nothing listens here; construction must still succeed.
	p, err := Setup(context.Background(), config.Telemetry{Traces: "otlp", Endpoint: "127.0.0.1:1", Insecure: true}, nil)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown with no spans: %v", err)
	}
}

func TestSetupRejectsUnknownExporter(t *testing.T) {
	if _, err := Setup(context.Background(), config.Telemetry{Traces: "zipkin"}, nil); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}
