package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/lingocast/internal/observe"
)

const shutdownTimeout = 5 * time.Second

// Mux returns the routes of h plus GET /metrics served by metrics, wrapped
// in the tracing and request-duration middleware. A nil metrics handler
// leaves /metrics unrouted.
func Mux(h *Handler, m *observe.Metrics, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return observe.Middleware(m)(mux)
}

// Serve listens on addr and serves handler until ctx is done, then shuts the
// server down gracefully. It returns nil after a clean shutdown.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("health: listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("health endpoint listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("health: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("health: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health: serve: %w", err)
	}
	return nil
}
