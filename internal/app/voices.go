package app

import (
	"context"
	"fmt"
	"slices"

	"github.com/MrWong99/lingocast/internal/config"
	"github.com/MrWong99/lingocast/pkg/provider/tts"
)

type backend struct {
	name  string
	synth tts.Synthesizer
}

// VoiceReport is the voice catalogue of one synthesizer.
type VoiceReport struct {
	Synthesizer string

	// Unsupported is set when the synthesizer cannot list its voices.
	Unsupported bool

	Voices []tts.VoiceProfile

	// Missing lists the scopes whose configured voice is not in Voices.
	Missing []string

	Err error
}

// Voices lists the voices of every configured synthesizer and checks the
// voices of scopes against them. A synthesizer that fails to list its
// voices is reported, not returned as an error.
func (a *App) Voices(ctx context.Context, scopes []config.ScopeConfig) ([]VoiceReport, error) {
	reports := make([]VoiceReport, 0, len(a.backends))
	for _, b := range a.backends {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep := VoiceReport{Synthesizer: b.name}
		lister, ok := b.synth.(tts.VoiceLister)
		if !ok {
			rep.Unsupported = true
			reports = append(reports, rep)
			continue
		}
		rep.Voices, rep.Err = lister.ListVoices(ctx)
		if rep.Err != nil {
			a.log.Warn("listing voices failed", "synthesizer", b.name, "err", rep.Err)
			reports = append(reports, rep)
			continue
		}
		for _, sc := range scopes {
			if !slices.ContainsFunc(rep.Voices, func(v tts.VoiceProfile) bool { return v.ID == sc.Voice }) {
				rep.Missing = append(rep.Missing, fmt.Sprintf("%s: %s", sc.Scope(), sc.Voice))
			}
		}
		reports = append(reports, rep)
	}
	return reports, nil
}
