// Package app wires the lingocast subsystems into runnable commands.
//
// New builds the blob store, synthesizer and audio toolkit named in the
// config through a [config.Registry]. Tests inject doubles with the With*
// options instead. Every command runs independent scopes in parallel, bounded
// by generation.parallel_scopes; work inside one scope is sequential.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lingocast/internal/assemble"
	"github.com/MrWong99/lingocast/internal/catalog"
	"github.com/MrWong99/lingocast/internal/config"
	"github.com/MrWong99/lingocast/internal/corruption"
	"github.com/MrWong99/lingocast/internal/health"
	"github.com/MrWong99/lingocast/internal/lesson"
	"github.com/MrWong99/lingocast/internal/observe"
	"github.com/MrWong99/lingocast/internal/reconstruct"
	"github.com/MrWong99/lingocast/internal/resilience"
	"github.com/MrWong99/lingocast/internal/resolve"
	"github.com/MrWong99/lingocast/internal/vocab"
	"github.com/MrWong99/lingocast/pkg/audio"
	"github.com/MrWong99/lingocast/pkg/blobstore"
	"github.com/MrWong99/lingocast/pkg/provider/tts"
	"github.com/MrWong99/lingocast/pkg/types"
)

// ErrUnknownScope is returned when a requested scope is not configured.
var ErrUnknownScope = errors.New("app: scope not configured")

// ErrUnknownFile is returned by Reconstruct for a file the scope's
// vocabulary does not contain.
var ErrUnknownFile = errors.New("app: vocabulary file not found")

// App owns the shared dependencies of every command.
type App struct {
	cfg *config.Config

	blobs     blobstore.Store
	synth     tts.Synthesizer
	synthName string
	backends  []backend
	toolkit   audio.Toolkit
	metrics   *observe.Metrics
	progress  *health.Progress
	log       *slog.Logger

	closers  []func()
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBlobStore injects a blob store instead of opening storage.backend.
func WithBlobStore(s blobstore.Store) Option {
	return func(a *App) { a.blobs = s }
}

// WithSynthesizer injects a synthesizer instead of creating the configured
// ones. name labels metrics and voices.
func WithSynthesizer(name string, s tts.Synthesizer) Option {
	return func(a *App) {
		a.synthName = name
		a.synth = s
		a.backends = []backend{{name: name, synth: s}}
	}
}

// WithToolkit injects an audio toolkit instead of creating audio.backend.
func WithToolkit(tk audio.Toolkit) Option {
	return func(a *App) { a.toolkit = tk }
}

// WithMetrics sets the metric instruments. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithProgress records scope phases into p, typically the one served on /status.
func WithProgress(p *health.Progress) Option {
	return func(a *App) { a.progress = p }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// New creates an App from cfg. reg may be nil when every dependency is
// injected through options.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.progress == nil {
		a.progress = &health.Progress{}
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.blobs == nil {
		store, closeFn, err := registry(reg).CreateStore(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("app: open %s storage: %w", cfg.Storage.Backend, err)
		}
		a.blobs = store
		a.closers = append(a.closers, closeFn)
		a.log.Info("storage opened", "backend", cfg.Storage.Backend)
	}
	if a.toolkit == nil {
		tk, err := registry(reg).CreateToolkit(cfg.Audio)
		if err != nil {
			return nil, fmt.Errorf("app: create %s audio toolkit: %w", cfg.Audio.Backend, err)
		}
		a.toolkit = tk
	}
	if a.synth == nil {
		if err := a.initSynthesizer(registry(reg)); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func registry(reg *config.Registry) *config.Registry {
	if reg == nil {
		return config.NewRegistry()
	}
	return reg
}

// initSynthesizer creates the primary synthesizer and, when fallbacks are
// configured, puts all of them behind a [resilience.Failover].
func (a *App) initSynthesizer(reg *config.Registry) error {
	primary, err := reg.CreateSynthesizer(a.cfg.Synthesizer)
	if err != nil {
		return fmt.Errorf("app: create synthesizer %q: %w", a.cfg.Synthesizer.Name, err)
	}
	a.synthName = a.cfg.Synthesizer.Name
	a.synth = primary
	a.backends = append(a.backends, backend{name: a.synthName, synth: primary})
	if len(a.cfg.Fallbacks) == 0 {
		a.log.Info("synthesizer created", "name", a.synthName, "model", a.cfg.Synthesizer.Model)
		return nil
	}

	group := resilience.NewFailover(primary, a.synthName, resilience.FailoverConfig{Logger: a.log})
	for _, entry := range a.cfg.Fallbacks {
		s, err := reg.CreateSynthesizer(entry)
		if err != nil {
			return fmt.Errorf("app: create fallback synthesizer %q: %w", entry.Name, err)
		}
		group.Add(entry.Name, s)
		a.backends = append(a.backends, backend{name: entry.Name, synth: s})
	}
	a.synth = group
	a.log.Info("synthesizer created", "chain", group.Names())
	return nil
}

// Blobs returns the blob store.
func (a *App) Blobs() blobstore.Store { return a.blobs }

// Checkers returns the readiness probes of the App's dependencies.
func (a *App) Checkers() []health.Checker {
	checks := []health.Checker{health.StoreChecker(a.blobs)}
	if f, ok := a.synth.(*resilience.Failover); ok {
		checks = append(checks, health.Checker{Name: "synthesizer", Check: func(context.Context) error {
			for _, st := range f.States() {
				if st != resilience.StateOpen {
					return nil
				}
			}
			return errors.New("every synthesizer circuit is open")
		}})
	}
	return checks
}

// Close releases storage connections. It is safe to call more than once.
func (a *App) Close() {
	a.stopOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
	})
}

// Scopes returns the configured scopes matching filter ("language/level").
// An empty filter selects all of them.
func (a *App) Scopes(filter string) ([]config.ScopeConfig, error) {
	if filter == "" {
		return slices.Clone(a.cfg.Scopes), nil
	}
	want, err := types.ParseScope(filter)
	if err != nil {
		return nil, err
	}
	for _, sc := range a.cfg.Scopes {
		if sc.Scope() == want {
			return []config.ScopeConfig{sc}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownScope, want)
}

func (a *App) voice(sc config.ScopeConfig) tts.VoiceProfile {
	return tts.VoiceProfile{ID: sc.Voice, Provider: a.synthName, SpeedFactor: sc.SpeedFactor}
}

func (a *App) loadVocab(ctx context.Context, scope types.Scope) (*vocab.Store, error) {
	return vocab.Load(ctx, a.blobs, scope, vocab.WithExtension(a.toolkit.Extension()), vocab.WithLogger(a.log))
}

// forEachScope runs fn for every scope, at most generation.parallel_scopes
// at a time. A failing scope does not stop the others; all errors are
// joined.
func (a *App) forEachScope(ctx context.Context, scopes []config.ScopeConfig, phase string, fn func(ctx context.Context, i int, sc config.ScopeConfig) error) error {
	var g errgroup.Group
	g.SetLimit(max(a.cfg.Generation.ParallelScopes, 1))
	errs := make([]error, len(scopes))
	for i, sc := range scopes {
		g.Go(func() error {
			scope := sc.Scope()
			a.progress.Set(scope, phase)
			ctx, span := observe.StartSpan(ctx, "scope."+phase)
			err := fn(ctx, i, sc)
			observe.EndSpan(span, err)
			if err != nil {
				a.progress.Set(scope, "failed")
				observe.Logger(ctx, a.log).Error("scope stopped", "scope", scope, "phase", phase, "err", err)
				errs[i] = fmt.Errorf("%s: %w", scope, err)
				return nil
			}
			a.progress.Set(scope, "done")
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Generate builds the lessons of every scope. force regenerates lessons
// that already have a timing manifest, in addition to generation.force.
func (a *App) Generate(ctx context.Context, scopes []config.ScopeConfig, force bool) ([]lesson.Report, error) {
	reports := make([]lesson.Report, len(scopes))
	err := a.forEachScope(ctx, scopes, "generating", func(ctx context.Context, i int, sc config.ScopeConfig) error {
		b := a.newBatch(force || a.cfg.Generation.Force)
		rep, err := b.Run(ctx, sc.Scope(), a.voice(sc))
		reports[i] = rep
		return err
	})
	return reports, err
}

func (a *App) retryConfig() resilience.RetryConfig {
	syn := a.cfg.Synthesis
	return resilience.RetryConfig{
		MaxAttempts: syn.MaxAttempts,
		BaseDelay:   syn.RetryBaseDelay,
		MaxDelay:    syn.RetryMaxDelay,
		Logger:      a.log,
	}
}

func (a *App) newBatch(force bool) *lesson.Batch {
	syn := a.cfg.Synthesis
	engineOpts := []resolve.Option{
		resolve.WithThrottle(syn.Throttle),
		resolve.WithRetry(a.retryConfig()),
		resolve.WithCacheProvenance(syn.TrackCacheProvenance),
		resolve.WithProviderName(a.synthName),
	}
	var assemblerOpts []assemble.Option
	if ms := a.cfg.Audio.LeadingSilenceMs; ms != nil {
		assemblerOpts = append(assemblerOpts, assemble.WithLeadingSilence(*ms))
	}
	return lesson.NewBatch(a.blobs, a.synth, a.toolkit,
		lesson.WithForce(force),
		lesson.WithEngineOptions(engineOpts...),
		lesson.WithAssemblerOptions(assemblerOpts...),
		lesson.WithMetrics(a.metrics),
		lesson.WithLogger(a.log),
	)
}

// ScanReport is the outcome of scanning one scope.
type ScanReport struct {
	Scope types.Scope
	// Verdicts holds the per-entry result when repair is disabled.
	Verdicts []corruption.Verdict
	// Repair and Reconstruct are set when repair is enabled.
	Repair      corruption.Report
	Reconstruct reconstruct.Report
}

// Corrupt returns how many entries the scan flagged.
func (r ScanReport) Corrupt() int {
	if r.Verdicts == nil {
		return r.Repair.Corrupt
	}
	n := 0
	for _, v := range r.Verdicts {
		if v.Corrupt {
			n++
		}
	}
	return n
}

func (a *App) newDetector() *corruption.Detector {
	return corruption.NewDetector(a.toolkit,
		corruption.WithMinBytes(a.cfg.Corruption.MinBytes),
		corruption.WithSilenceThreshold(a.cfg.Corruption.SilenceThresholdDB),
		corruption.WithDetectorLogger(a.log),
	)
}

func (a *App) newReconstructor() *reconstruct.Reconstructor {
	return reconstruct.New(a.blobs, a.toolkit, reconstruct.WithMetrics(a.metrics), reconstruct.WithLogger(a.log))
}

// Scan checks the vocabulary audio of every scope. With repair it
// re-synthesises corrupt entries in place and then patches every lesson that
// uses a repaired entry. Entries stay patch_pending, and are patched again by
// the next scan, until every such lesson has received the repair.
func (a *App) Scan(ctx context.Context, scopes []config.ScopeConfig, repair bool) ([]ScanReport, error) {
	reports := make([]ScanReport, len(scopes))
	err := a.forEachScope(ctx, scopes, "scanning", func(ctx context.Context, i int, sc config.ScopeConfig) error {
		scope := sc.Scope()
		reports[i].Scope = scope
		store, err := a.loadVocab(ctx, scope)
		if err != nil {
			return err
		}
		detector := a.newDetector()

		if !repair {
			verdicts, err := detector.Scan(ctx, store)
			if err != nil {
				return err
			}
			reports[i].Verdicts = verdicts
			for _, v := range verdicts {
				if v.Corrupt {
					a.log.Warn("corrupt vocabulary audio", "scope", scope, "file", v.Entry.File, "reason", v.Reason)
				}
			}
			return nil
		}

		repairer := corruption.NewRepairer(a.synth, detector,
			corruption.WithCooldown(a.cfg.Corruption.RepairCooldown),
			corruption.WithRepairRetry(a.retryConfig()),
			corruption.WithRepairMetrics(a.metrics),
			corruption.WithRepairLogger(a.log),
		)
		rep, err := repairer.Run(ctx, store, a.voice(sc))
		reports[i].Repair = rep
		if err != nil {
			return err
		}
		fixed := slices.Concat(rep.Repaired, rep.Pending)
		if len(fixed) == 0 {
			return nil
		}

		a.progress.Set(scope, "reconstructing")
		fixes := make([]reconstruct.Fix, len(fixed))
		files := make([]string, len(fixed))
		for j, r := range fixed {
			fixes[j] = reconstruct.Fix{File: r.File, RepairedAt: r.RepairedAt}
			files[j] = r.File
		}
		recon, err := a.newReconstructor().ReconstructFixes(ctx, scope, fixes)
		reports[i].Reconstruct = recon
		if err != nil {
			return err
		}
		return a.settlePatched(ctx, store, files, recon)
	})
	return reports, err
}

// settlePatched marks the patch_pending entries among files ok once no
// lesson still needs them, and saves the vocabulary.
func (a *App) settlePatched(ctx context.Context, store *vocab.Store, files []string, rep reconstruct.Report) error {
	unpatched := rep.Unpatched()
	for _, f := range files {
		e, ok := store.Lookup(f)
		if !ok || e.Status != vocab.StatusPatchPending {
			continue
		}
		if _, ok := unpatched[f]; ok {
			a.log.Warn("repaired entry not yet in every lesson", "scope", store.Scope(), "file", f)
			continue
		}
		if err := store.SetStatus(f, vocab.StatusOK); err != nil {
			return err
		}
	}
	return store.Save(ctx)
}

// Reconstruct patches the lessons of scope that use any of files, without
// re-checking or re-synthesising the entries. Curators use it after
// replacing vocabulary audio by hand. Entries still pending from a repair
// only patch lessons that have not received it yet.
func (a *App) Reconstruct(ctx context.Context, scope types.Scope, files []string) (reconstruct.Report, error) {
	store, err := a.loadVocab(ctx, scope)
	if err != nil {
		return reconstruct.Report{Scope: scope}, err
	}
	var unknown []error
	fixes := make([]reconstruct.Fix, 0, len(files))
	for _, f := range files {
		e, ok := store.Lookup(f)
		if !ok {
			unknown = append(unknown, fmt.Errorf("%w: %s in %s", ErrUnknownFile, f, scope))
			continue
		}
		fix := reconstruct.Fix{File: f}
		if e.Status == vocab.StatusPatchPending {
			fix.RepairedAt = e.UpdatedAt
		}
		fixes = append(fixes, fix)
	}
	if err := errors.Join(unknown...); err != nil {
		return reconstruct.Report{Scope: scope}, err
	}

	a.progress.Set(scope, "reconstructing")
	rep, err := a.newReconstructor().ReconstructFixes(ctx, scope, fixes)
	if err == nil {
		err = a.settlePatched(ctx, store, files, rep)
	}
	if err != nil {
		a.progress.Set(scope, "failed")
		return rep, err
	}
	a.progress.Set(scope, "done")
	return rep, nil
}

// Catalog rebuilds and writes catalog.json.
func (a *App) Catalog(ctx context.Context) (*catalog.Catalog, error) {
	b := catalog.NewBuilder(a.blobs, catalog.WithLogger(a.log))
	c, err := b.Build(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.Write(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// LintReport lists the near-duplicate vocabulary keys of one scope.
type LintReport struct {
	Scope    types.Scope
	Findings []vocab.Finding
}

// Lint reports near-duplicate vocabulary keys of every scope.
func (a *App) Lint(ctx context.Context, scopes []config.ScopeConfig) ([]LintReport, error) {
	reports := make([]LintReport, len(scopes))
	err := a.forEachScope(ctx, scopes, "linting", func(ctx context.Context, i int, sc config.ScopeConfig) error {
		reports[i].Scope = sc.Scope()
		store, err := a.loadVocab(ctx, sc.Scope())
		if err != nil {
			return err
		}
		reports[i].Findings = vocab.Lint(store.Entries())
		return nil
	})
	return reports, err
}
