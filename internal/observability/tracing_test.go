package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/signalsfoundry/macsched/internal/logging"
)

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := Tracer().Start(context.Background(), "frame")
	if span.SpanContext().IsValid() {
		t.Fatalf("expected noop span when tracing is disabled")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "macsched-test",
		Writer:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() {
		_, _ = InitTracing(context.Background(), TracingConfig{}, nil)
	})

	_, span := Tracer().Start(context.Background(), "frame")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	if !strings.Contains(buf.String(), `"Name":"frame"`) {
		t.Fatalf("expected exported span in stdout output, got %q", buf.String())
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func TestFrameSamplerKeepsEveryNthFrame(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:    true,
		Exporter:   "stdout",
		FrameEvery: 4,
		Writer:     &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() {
		_, _ = InitTracing(context.Background(), TracingConfig{}, nil)
	})

	sampled := 0
	for frame := uint64(0); frame < 12; frame++ {
		_, span := StartFrame(context.Background(), frame)
		if span.SpanContext().IsSampled() {
			sampled++
			if frame%4 != 0 {
				t.Fatalf("frame %d sampled, want only multiples of 4", frame)
			}
		}
		span.End()
	}
	if sampled != 3 {
		t.Fatalf("sampled %d frame spans, want 3", sampled)
	}

	_, other := Tracer().Start(context.Background(), "rpc")
	if !other.SpanContext().IsSampled() {
		t.Fatalf("non-frame spans should follow the ratio sampler")
	}
	other.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	if got := strings.Count(buf.String(), `"Name":"frame"`); got != 3 {
		t.Fatalf("exported %d frame spans, want 3", got)
	}
}
