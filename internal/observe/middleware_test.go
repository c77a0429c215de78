package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumentedRouter mirrors the web server layout: the middleware on the
// root router and the session routes under an /api subrouter.
func instrumentedRouter(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := installTracer(t)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	r := chi.NewRouter()
	r.Use(Middleware(m))
	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions/{id}/history", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"turns":[]}`))
		})
		r.Post("/chat", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	})
	return r, reader, exp
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	h, reader, exp := instrumentedRouter(t)

	for _, id := range []string{"3f9a", "b71c", "e002"} {
		if rec := serve(h, http.MethodGet, "/api/sessions/"+id+"/history"); rec.Code != http.StatusOK {
			t.Fatalf("GET history %s = %d", id, rec.Code)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "arbiter.http.request.duration")
	if met == nil {
		t.Fatal("arbiter.http.request.duration not recorded")
	}
	points := met.Data.(metricdata.Histogram[float64]).DataPoints
	if len(points) != 1 {
		t.Fatalf("data points = %d, want one series for all session ids", len(points))
	}
	route, _ := points[0].Attributes.Value("route")
	if route.AsString() != "/api/sessions/{id}/history" {
		t.Errorf("route = %q", route.AsString())
	}
	if _, ok := points[0].Attributes.Value("path"); ok {
		t.Error("raw path must not be a metric attribute")
	}
	if points[0].Count != 3 {
		t.Errorf("count = %d, want 3", points[0].Count)
	}

	spans := exp.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("spans = %d, want 3", len(spans))
	}
	for i, want := range []string{"3f9a", "b71c", "e002"} {
		if spans[i].Name != "HTTP GET /api/sessions/{id}/history" {
			t.Errorf("span name = %q", spans[i].Name)
		}
		var session string
		for _, kv := range spans[i].Attributes {
			if kv.Key == SessionKey {
				session = kv.Value.AsString()
			}
		}
		if session != want {
			t.Errorf("span %d %s = %q, want %q", i, SessionKey, session, want)
		}
	}
}

func TestMiddleware_StatusAndUnmatched(t *testing.T) {
	h, reader, exp := instrumentedRouter(t)

	tests := []struct {
		method, path string
		wantStatus   int
		wantName     string
	}{
		{http.MethodPost, "/api/chat", http.StatusServiceUnavailable, "HTTP POST /api/chat"},
		{http.MethodGet, "/nowhere/" + strings.Repeat("x", 8), http.StatusNotFound, "HTTP GET " + UnmatchedRoute},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			exp.Reset()
			rec := serve(h, tt.method, tt.path)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			cid := rec.Header().Get(CorrelationHeader)
			if len(cid) != 32 {
				t.Errorf("%s = %q, want a trace ID", CorrelationHeader, cid)
			}
			spans := exp.GetSpans()
			if len(spans) != 1 || spans[0].Name != tt.wantName {
				t.Fatalf("spans = %+v, want one named %q", spans, tt.wantName)
			}
			if spans[0].SpanContext.TraceID().String() != cid {
				t.Errorf("span trace ID %s does not match header %s", spans[0].SpanContext.TraceID(), cid)
			}
		})
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	statuses := map[int64]bool{}
	for _, dp := range findMetric(rm, "arbiter.http.request.duration").Data.(metricdata.Histogram[float64]).DataPoints {
		s, _ := dp.Attributes.Value("status")
		statuses[s.AsInt64()] = true
	}
	if !statuses[503] || !statuses[404] {
		t.Errorf("recorded statuses = %v, want 503 and 404", statuses)
	}
}

func TestMiddleware_JoinsIncomingTrace(t *testing.T) {
	h, _, exp := instrumentedRouter(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/abc/history", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(CorrelationHeader); got != traceID {
		t.Errorf("%s = %q, want the incoming trace ID", CorrelationHeader, got)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Parent.SpanID().String() != "00f067aa0ba902b7" {
		t.Fatalf("span does not continue the incoming trace: %+v", spans)
	}
}
