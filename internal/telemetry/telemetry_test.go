package telemetry

import (
	"context"
	"testing"

	"reversetunnel/internal/config"
)

func TestInitTracerDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracer(config.Telemetry{Enabled: false}, "svc", "n1")
	if err != nil {
		t.Fatalf("InitTracer(disabled) failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown returned error: %v", err)
	}
}

func TestInitTracerEnabledStdout(t *testing.T) {
	shutdown, err := InitTracer(config.Telemetry{Enabled: true, Exporter: "stdout"}, "svc", "n1")
	if err != nil {
		t.Fatalf("InitTracer(enabled) failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown returned error: %v", err)
	}
}

func TestTracerReturnsNonNil(t *testing.T) {
	if Tracer("test") == nil {
		t.Error("Tracer(\"test\") returned nil")
	}
}
