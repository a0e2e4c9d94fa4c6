package observe

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests for paths outside the known routes so that
// requests for random URLs cannot grow the metric label set.
const unmatchedRoute = "unmatched"

// statusRecorder wraps [http.ResponseWriter] to capture the status code
// written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

type middlewareConfig struct {
	routes []string
	state  func() string
}

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middlewareConfig)

// WithRoutes sets the paths recorded under their own route label. Any other
// path is recorded as "unmatched". Without this option every path is
// recorded as is.
func WithRoutes(paths ...string) MiddlewareOption {
	return func(c *middlewareConfig) { c.routes = append(c.routes, paths...) }
}

// WithSessionState attaches the voice session status returned by fn to every
// request span and log line.
func WithSessionState(fn func() string) MiddlewareOption {
	return func(c *middlewareConfig) { c.state = fn }
}

// Middleware returns an [http.Handler] wrapper for the control endpoints.
// It extracts W3C trace context, opens a server span, echoes the trace ID in
// X-Trace-ID, records the request duration per route and logs the request at
// debug level.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	var cfg middlewareConfig
	for _, o := range opts {
		o(&cfg)
	}
	prop := propagation.TraceContext{}

	route := func(path string) string {
		if cfg.routes == nil || slices.Contains(cfg.routes, path) {
			return path
		}
		return unmatchedRoute
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rt := route(r.URL.Path)

			attrs := []attribute.KeyValue{
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPRoute(rt),
			}
			var state string
			if cfg.state != nil {
				state = cfg.state()
				attrs = append(attrs, attribute.String("wolfa.session.status", state))
			}

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+rt,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			tid := TraceID(ctx)
			if tid != "" {
				w.Header().Set("X-Trace-ID", tid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", rt),
					attribute.Int("status", rec.statusCode),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

			logAttrs := []slog.Attr{
				slog.String("trace_id", tid),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
			}
			if state != "" {
				logAttrs = append(logAttrs, slog.String("session_status", state))
			}
			slog.LogAttrs(ctx, slog.LevelDebug, "http: request completed", logAttrs...)
		})
	}
}
