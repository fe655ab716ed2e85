package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// healthMux mimics the routes of the health server.
func healthMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return mux
}

func TestMiddleware_Routes(t *testing.T) {
	tests := []struct {
		path       string
		wantRoute  string
		wantStatus int
	}{
		{"/healthz", "GET /healthz", http.StatusOK},
		{"/readyz", "GET /readyz", http.StatusServiceUnavailable},
		{"/lessons/es/a1/lesson-01", unmatchedRoute, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			m, reader := newTestMetrics(t)
			exp := useTestTracer(t)
			handler := Middleware(m)(healthMux())

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			if want := "health " + tt.wantRoute; spans[0].Name != want {
				t.Errorf("span name = %q, want %q", spans[0].Name, want)
			}
			var gotStatus int64
			for _, kv := range spans[0].Attributes {
				if kv.Key == "http.response.status_code" {
					gotStatus = kv.Value.AsInt64()
				}
			}
			if gotStatus != int64(tt.wantStatus) {
				t.Errorf("span status attribute = %d, want %d", gotStatus, tt.wantStatus)
			}

			met := findMetric(collect(t, reader), "lingocast.http.request.duration")
			if met == nil {
				t.Fatal("duration histogram not recorded")
			}
			hist := met.Data.(metricdata.Histogram[float64])
			if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
				t.Fatalf("data points = %+v", hist.DataPoints)
			}
			route, _ := hist.DataPoints[0].Attributes.Value(attribute.Key("route"))
			if route.AsString() != tt.wantRoute {
				t.Errorf("route attribute = %q, want %q", route.AsString(), tt.wantRoute)
			}
		})
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	m, _ := newTestMetrics(t)
	useTestTracer(t)

	var seen string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))

	t.Run("new trace", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
		if len(seen) != 32 || seen == traceID {
			t.Errorf("correlation ID = %q, want a fresh trace ID", seen)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != seen {
			t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
		}
	})

	t.Run("continued trace", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/status", nil)
		req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if seen != traceID {
			t.Errorf("correlation ID = %q, want %q", seen, traceID)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
			t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
		}
	})
}

func TestResponseRecorder(t *testing.T) {
	rec := &responseRecorder{ResponseWriter: httptest.NewRecorder()}
	if rec.code() != http.StatusOK {
		t.Errorf("code before any write = %d, want 200", rec.code())
	}
	rec.Write([]byte("abc"))
	rec.WriteHeader(http.StatusTeapot)
	if rec.code() != http.StatusOK || rec.bytes != 3 {
		t.Errorf("code = %d, bytes = %d, want 200 and 3", rec.code(), rec.bytes)
	}
}
