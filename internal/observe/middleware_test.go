package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates both metrics and tracing infrastructure for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

func serve(h http.Handler, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func attrValue(set attribute.Set, key string) (attribute.Value, bool) {
	return set.Value(attribute.Key(key))
}

func TestMiddleware_SetsTraceID(t *testing.T) {
	m, _, _ := testSetup(t)

	var captured string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = TraceID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rec := serve(h, "/state", nil)

	if len(captured) != 32 {
		t.Fatalf("trace ID = %q, want 32 hex chars", captured)
	}
	if got := rec.Header().Get("X-Trace-ID"); got != captured {
		t.Errorf("X-Trace-ID = %q, want %q", got, captured)
	}
}

func TestMiddleware_SpanNameAndSessionState(t *testing.T) {
	m, _, exp := testSetup(t)

	h := Middleware(m,
		WithRoutes("/state", "/healthz"),
		WithSessionState(func() string { return "connected" }),
	)(http.HandlerFunc(okHandler))
	serve(h, "/healthz", nil)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "GET /healthz" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "GET /healthz")
	}
	got := attribute.NewSet(spans[0].Attributes...)
	if v, ok := attrValue(got, "wolfa.session.status"); !ok || v.AsString() != "connected" {
		t.Errorf("wolfa.session.status = %v, want connected", v.Emit())
	}
	if v, ok := attrValue(got, "http.route"); !ok || v.AsString() != "/healthz" {
		t.Errorf("http.route = %v, want /healthz", v.Emit())
	}
}

func TestMiddleware_RouteLabels(t *testing.T) {
	tests := []struct {
		name   string
		routes []string
		path   string
		want   string
	}{
		{name: "known route", routes: []string{"/state"}, path: "/state", want: "/state"},
		{name: "unknown path collapses", routes: []string{"/state"}, path: "/wp-admin", want: unmatchedRoute},
		{name: "no allow-list keeps path", path: "/anything", want: "/anything"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reader, _ := testSetup(t)
			h := Middleware(m, WithRoutes(tt.routes...))(http.HandlerFunc(okHandler))
			serve(h, tt.path, nil)

			dp := durationPoint(t, reader)
			if v, ok := attrValue(dp.Attributes, "route"); !ok || v.AsString() != tt.want {
				t.Errorf("route = %q, want %q", v.AsString(), tt.want)
			}
			if v, ok := attrValue(dp.Attributes, "method"); !ok || v.AsString() != http.MethodGet {
				t.Errorf("method = %q, want GET", v.AsString())
			}
			if dp.Count != 1 {
				t.Errorf("count = %d, want 1", dp.Count)
			}
		})
	}
}

func TestMiddleware_CapturesStatusCode(t *testing.T) {
	m, reader, exp := testSetup(t)

	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	rec := serve(h, "/readyz", nil)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("response status = %d, want 503", rec.Code)
	}
	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	set := attribute.NewSet(spans[0].Attributes...)
	if v, ok := attrValue(set, "http.response.status_code"); !ok || v.AsInt64() != 503 {
		t.Errorf("http.response.status_code = %v, want 503", v.Emit())
	}
	dp := durationPoint(t, reader)
	if v, ok := attrValue(dp.Attributes, "status"); !ok || v.AsInt64() != 503 {
		t.Errorf("status label = %v, want 503", v.Emit())
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)
	const want = "4bf92f3577b34da6a3ce929d0e0e4736"

	var captured string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = TraceID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rec := serve(h, "/state", map[string]string{
		"traceparent": "00-" + want + "-00f067aa0ba902b7-01",
	})

	if captured != want {
		t.Errorf("trace ID = %q, want %q", captured, want)
	}
	if got := rec.Header().Get("X-Trace-ID"); got != want {
		t.Errorf("X-Trace-ID = %q, want %q", got, want)
	}
}

func durationPoint(t *testing.T, reader *sdkmetric.ManualReader) metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "wolfa.http.request.duration")
	if met == nil {
		t.Fatal("wolfa.http.request.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("no histogram data points")
	}
	return hist.DataPoints[0]
}
