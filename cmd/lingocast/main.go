// Command lingocast renders spoken-language lesson audio from scripts,
// reusing stored vocabulary clips, and repairs corrupt clips in place.
//
// Usage:
//
//	lingocast [-config path] <command> [flags]
//
// Run "lingocast help" for the list of commands.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/lingocast/internal/app"
	"github.com/MrWong99/lingocast/internal/config"
	"github.com/MrWong99/lingocast/internal/health"
	"github.com/MrWong99/lingocast/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	global := flag.NewFlagSet("lingocast", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "config.yaml", "path to the YAML configuration file")
	global.Usage = func() { usage(stderr, global) }
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if global.NArg() == 0 || global.Arg(0) == "help" {
		usage(stderr, global)
		if global.NArg() == 0 {
			return exitUsage
		}
		return exitOK
	}

	cmd, ok := lookupCommand(global.Arg(0))
	if !ok {
		fmt.Fprintf(stderr, "lingocast: unknown command %q\n\n", global.Arg(0))
		usage(stderr, global)
		return exitUsage
	}
	fs := flag.NewFlagSet("lingocast "+cmd.name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	exec := cmd.setup(fs)
	if err := fs.Parse(global.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "lingocast: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(stderr, "lingocast: %v\n", err)
		}
		return exitFailure
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(stderr, cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(logger)
	slog.Info("lingocast starting", "version", version, "command", cmd.name, "config", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion:    version,
		RuntimeCollectors: cfg.Server.ListenAddr != "",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return exitFailure
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := tel.Metrics

	// ── Application ───────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	progress := &health.Progress{}
	a, err := app.New(ctx, cfg, reg,
		app.WithMetrics(metrics),
		app.WithProgress(progress),
		app.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return exitFailure
	}
	defer a.Close()

	if cfg.Server.ListenAddr != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			h := health.New(progress, a.Checkers()...)
			mux := health.Mux(h, metrics, tel.Handler())
			if err := health.Serve(srvCtx, cfg.Server.ListenAddr, mux); err != nil {
				slog.Error("health endpoint stopped", "err", err)
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	start := time.Now()
	err = exec(ctx, a, stdout)
	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "lingocast %s: %v\n", cmd.name, err)
		fs.Usage()
		return exitUsage
	case errors.Is(err, context.Canceled):
		slog.Warn("interrupted", "command", cmd.name, "elapsed", time.Since(start).Round(time.Millisecond))
		return exitFailure
	case err != nil:
		slog.Error("command failed", "command", cmd.name, "err", err)
		return exitFailure
	}
	slog.Info("command finished", "command", cmd.name, "elapsed", time.Since(start).Round(time.Millisecond))
	return exitOK
}

func usage(w io.Writer, global *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: lingocast [-config path] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Global flags:")
	global.PrintDefaults()
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level config.LogLevel, format config.LogFormat) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
