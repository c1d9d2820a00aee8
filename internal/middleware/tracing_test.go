package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordedSpans installs an in-memory tracer provider for the test and
// returns the recorder capturing ended spans.
func recordedSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return recorder
}

func TestTracing_SpanPerRequest(t *testing.T) {
	recorder := recordedSpans(t)

	handler := Tracing("whalefeed-api")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/feed", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].Name(); got != "GET /feed" {
		t.Errorf("expected span name %q, got %q", "GET /feed", got)
	}
}

func TestTracing_IDsVisibleToHandler(t *testing.T) {
	recorder := recordedSpans(t)

	var traceID, spanID string
	handler := Tracing("whalefeed-api")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = GetTraceID(r)
		spanID = GetSpanID(r)
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/telemetry/events", nil))

	if traceID == "" || spanID == "" {
		t.Fatalf("expected trace and span IDs, got trace=%q span=%q", traceID, spanID)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	sc := spans[0].SpanContext()
	if sc.TraceID().String() != traceID {
		t.Errorf("trace ID mismatch: span has %s, handler saw %s", sc.TraceID(), traceID)
	}
	if sc.SpanID().String() != spanID {
		t.Errorf("span ID mismatch: span has %s, handler saw %s", sc.SpanID(), spanID)
	}
}

func TestTracing_SpanNames(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/feed", "GET /feed"},
		{http.MethodPost, "/telemetry/events", "POST /telemetry/events"},
		{http.MethodGet, "/opportunities/op-123", "GET /opportunities/op-123"},
		{http.MethodPost, "/internal/rank/refresh", "POST /internal/rank/refresh"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			recorder := recordedSpans(t)

			handler := Tracing("whalefeed-api")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			if got := spans[0].Name(); got != tt.want {
				t.Errorf("expected span name %q, got %q", tt.want, got)
			}
		})
	}
}

func TestTraceAndSpanIDs_Untraced(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/feed", nil)

	if got := GetTraceID(req); got != "" {
		t.Errorf("expected empty trace ID, got %q", got)
	}
	if got := GetSpanID(req); got != "" {
		t.Errorf("expected empty span ID, got %q", got)
	}
}
