package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitProvider_ExportsToPrivateRegistry(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	ctx := context.Background()
	tel, err := InitProvider(ctx, ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer tel.Shutdown(ctx)

	tel.Metrics.RecordResolve(ctx, SourceVocab)
	Count(ctx, tel.Metrics.LessonsAssembled, "es/a1", 3)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"lingocast_resolve_hits", "lingocast_lessons_assembled", `scope="es/a1"`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape output lacks %q", want)
		}
	}
	if strings.Contains(string(body), "go_goroutines") {
		t.Error("runtime collectors registered without RuntimeCollectors")
	}

	// A second provider must not clash with the first one's registry.
	second, err := InitProvider(ctx, ProviderConfig{RuntimeCollectors: true})
	if err != nil {
		t.Fatalf("second InitProvider: %v", err)
	}
	if err := second.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
