package telemetry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TraceConfig{Exporter: "none"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupTracingRejectsBadConfig(t *testing.T) {
	if _, err := SetupTracing(context.Background(), TraceConfig{Exporter: "zipkin"}, zerolog.Nop()); err == nil {
		t.Fatal("expected unsupported exporter error")
	}
	if _, err := SetupTracing(context.Background(), TraceConfig{Exporter: "otlp"}, zerolog.Nop()); err == nil {
		t.Fatal("expected missing endpoint error")
	}
}

func TestSamplerRatio(t *testing.T) {
	cases := map[float64]string{
		0:    sdktrace.ParentBased(sdktrace.AlwaysSample()).Description(),
		1:    sdktrace.ParentBased(sdktrace.AlwaysSample()).Description(),
		0.25: sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25)).Description(),
	}
	for ratio, want := range cases {
		if got := sampler(ratio).Description(); got != want {
			t.Fatalf("ratio %v: got %q want %q", ratio, got, want)
		}
	}
}

func TestSetupTracingStdout(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TraceConfig{
		ServiceName: "stylegen-test",
		Environment: "test",
		Exporter:    "stdout",
		SampleRatio: 0.5,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
