package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/lingocast/internal/observe"
	"github.com/MrWong99/lingocast/pkg/blobstore/memory"
	"github.com/MrWong99/lingocast/pkg/types"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New(nil)

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz(t *testing.T) {
	pass := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "blobstore", Check: pass}, {Name: "synthesizer", Check: pass}},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"blobstore": "ok", "synthesizer": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{{Name: "blobstore", Check: fail}, {Name: "synthesizer", Check: pass}},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"blobstore": "fail: connection refused", "synthesizer": "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			New(nil, tt.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decode(t, rec)
			for name, want := range tt.wantChecks {
				if body.Checks[name] != want {
					t.Errorf("%s check = %q, want %q", name, body.Checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(nil, Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestStoreChecker(t *testing.T) {
	c := StoreChecker(memory.New())
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check on empty store: %v", err)
	}
}

func TestStatus(t *testing.T) {
	var p Progress
	p.Set(types.Scope{Language: "es", Level: "a1"}, "generating")
	p.Set(types.Scope{Language: "el", Level: "a2"}, "repairing")
	p.Set(types.Scope{Language: "es", Level: "a1"}, "done")

	rec := httptest.NewRecorder()
	New(&p).Status(rec, httptest.NewRequest("GET", "/status", nil))

	body := decode(t, rec)
	if len(body.Scopes) != 2 || body.Scopes["es/a1"] != "done" || body.Scopes["el/a2"] != "repairing" {
		t.Errorf("scopes = %v", body.Scopes)
	}
}

func TestMux_Routes(t *testing.T) {
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("# lingocast\n"))
	})
	mux := Mux(New(nil, StoreChecker(memory.New())), m, metrics)

	for _, path := range []string{"/healthz", "/readyz", "/status", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestServe_StopsWithContext(t *testing.T) {
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}

	// Reserve a free port, then release it for Serve.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, Mux(New(nil), m, nil)) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
