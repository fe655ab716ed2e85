package corruption

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/lingocast/internal/observe"
	"github.com/MrWong99/lingocast/internal/resilience"
	"github.com/MrWong99/lingocast/internal/vocab"
	"github.com/MrWong99/lingocast/pkg/provider/tts"
)

// DefaultCooldown is the pause between two repair attempts.
const DefaultCooldown = 2 * time.Second

// Repaired describes an entry whose replaced audio lessons still need. It
// is the input of the reconstructor.
type Repaired struct {
	Text       string
	File       string
	AudioPath  string
	RepairedAt time.Time
}

// Report summarises one scan-and-repair run over a scope.
type Report struct {
	Checked  int
	Corrupt  int
	Repaired []Repaired
	// Pending lists entries repaired by an earlier scan whose lessons were
	// not all patched.
	Pending []Repaired
	// Failed lists the files that are still corrupt.
	Failed []string
	// Recovered lists flagged files whose audio now passes the check.
	Recovered []string
}

// RepairerOption is a functional option for NewRepairer.
type RepairerOption func(*Repairer)

// WithCooldown sets the pause between repair attempts.
func WithCooldown(d time.Duration) RepairerOption {
	return func(r *Repairer) {
		r.cooldown = d
	}
}

// WithRepairRetry sets the retry policy of the one synthesis attempt each
// corrupt entry gets per scan. Retryable defaults to tts.IsTransient.
func WithRepairRetry(cfg resilience.RetryConfig) RepairerOption {
	return func(r *Repairer) {
		r.retry = cfg
	}
}

// WithRepairMetrics sets the metric instruments. Defaults to
// observe.DefaultMetrics().
func WithRepairMetrics(m *observe.Metrics) RepairerOption {
	return func(r *Repairer) {
		r.metrics = m
	}
}

// WithRepairLogger sets the logger. Defaults to slog.Default().
func WithRepairLogger(l *slog.Logger) RepairerOption {
	return func(r *Repairer) {
		r.log = l
	}
}

// Repairer re-synthesises corrupt vocabulary entries under their original
// filename.
type Repairer struct {
	synth    tts.Synthesizer
	detector *Detector
	cooldown time.Duration
	retry    resilience.RetryConfig
	metrics  *observe.Metrics
	log      *slog.Logger
	sleep    func(context.Context, time.Duration) error
}

// NewRepairer creates a Repairer that re-checks its output with detector.
func NewRepairer(synth tts.Synthesizer, detector *Detector, opts ...RepairerOption) *Repairer {
	r := &Repairer{
		synth:    synth,
		detector: detector,
		cooldown: DefaultCooldown,
		log:      slog.Default(),
		sleep:    resilience.Sleep,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	if r.retry.Retryable == nil {
		r.retry.Retryable = tts.IsTransient
	}
	if r.retry.Logger == nil {
		r.retry.Logger = r.log
	}
	if r.retry.Name == "" {
		r.retry.Name = "repair"
	}
	return r
}

// Run scans store and attempts one repair per corrupt entry, waiting the
// cooldown between attempts. Entries are re-synthesised with voice, using
// the entry's own voice ID when it has one. Repaired entries are marked
// patch_pending until the caller has patched every lesson using them;
// entries still corrupt afterwards are marked repair_failed for the next
// scan. The manifest is saved once at the end, also when ctx is cancelled
// part way.
func (r *Repairer) Run(ctx context.Context, store *vocab.Store, voice tts.VoiceProfile) (rep Report, err error) {
	scope := store.Scope()
	verdicts, err := r.detector.Scan(ctx, store)
	if err != nil {
		return Report{}, err
	}
	rep.Checked = len(verdicts)

	defer func() {
		if serr := store.Save(context.WithoutCancel(ctx)); serr != nil && err == nil {
			err = serr
		}
	}()

	attempts := 0
	for _, v := range verdicts {
		if !v.Corrupt {
			switch v.Entry.Status {
			case vocab.StatusPatchPending:
				rep.Pending = append(rep.Pending, repaired(store, v.Entry))
			case vocab.StatusCorrupt, vocab.StatusRepairFailed:
				r.log.Info("flagged vocabulary entry passes the check again", "scope", scope, "file", v.Entry.File)
				if err := store.SetStatus(v.Entry.File, vocab.StatusOK); err != nil {
					return rep, err
				}
				rep.Recovered = append(rep.Recovered, v.Entry.File)
			}
			continue
		}

		rep.Corrupt++
		observe.Count(ctx, r.metrics.CorruptionDetected, scope.String(), 1)
		r.log.Warn("corrupt vocabulary audio", "scope", scope, "file", v.Entry.File, "text", v.Entry.Text, "reason", v.Reason)
		if err := store.SetStatus(v.Entry.File, vocab.StatusCorrupt); err != nil {
			return rep, err
		}

		if attempts > 0 {
			if err := r.sleep(ctx, r.cooldown); err != nil {
				return rep, err
			}
		}
		attempts++

		ok, err := r.repair(ctx, store, v.Entry, voice)
		if err != nil {
			return rep, err
		}
		if !ok {
			rep.Failed = append(rep.Failed, v.Entry.File)
			continue
		}
		e, _ := store.Lookup(v.Entry.File)
		rep.Repaired = append(rep.Repaired, repaired(store, e))
		observe.Count(ctx, r.metrics.CorruptionRepaired, scope.String(), 1)
	}
	return rep, nil
}

// repair makes one attempt for e. It returns an error only when ctx is done
// or the store rejects the update; synthesis failures count as a failed
// repair.
func (r *Repairer) repair(ctx context.Context, store *vocab.Store, e vocab.Entry, voice tts.VoiceProfile) (bool, error) {
	log := r.log.With("scope", store.Scope(), "file", e.File)
	markFailed := func() (bool, error) {
		return false, store.SetStatus(e.File, vocab.StatusRepairFailed)
	}

	if e.Voice != "" {
		voice.ID = e.Voice
	}
	clip, err := resilience.Retry(ctx, r.retry, func(ctx context.Context) ([]byte, error) {
		clip, err := r.synth.Synthesize(ctx, e.Text, voice)
		if err == nil && len(clip) == 0 {
			err = tts.ErrEmptyAudio
		}
		return clip, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Warn("repair synthesis failed", "transient", tts.IsTransient(err), "err", err)
		return markFailed()
	}
	if corrupt, reason := r.detector.Check(ctx, clip); corrupt {
		log.Warn("repaired audio is still corrupt", "reason", reason)
		return markFailed()
	}
	if err := store.Replace(ctx, e.File, clip); err != nil {
		log.Warn("writing repaired audio failed", "err", err)
		return markFailed()
	}
	if err := store.SetStatus(e.File, vocab.StatusPatchPending); err != nil {
		return false, fmt.Errorf("corruption: %w", err)
	}
	log.Info("vocabulary entry repaired")
	return true, nil
}

func repaired(store *vocab.Store, e vocab.Entry) Repaired {
	return Repaired{
		Text:       e.Text,
		File:       e.File,
		AudioPath:  store.AudioPath(e.File),
		RepairedAt: e.UpdatedAt,
	}
}
