// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer to return controlled audio per text and to verify how many
// synthesis calls a component made, and with which voice.
//
// Example:
//
//	s := &mock.Synthesizer{
//	    Audio: map[string][]byte{"Hello": audiomock.Clip(900, "hello")},
//	}
//	clip, _ := s.Synthesize(ctx, "Hello", tts.VoiceProfile{ID: "alloy"})
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/lingocast/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice tts.VoiceProfile
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Audio maps input text to the clip returned for it.
	Audio map[string][]byte

	// Func, if set, is consulted for texts missing from Audio.
	Func func(text string, voice tts.VoiceProfile) ([]byte, error)

	// Errors is a queue of errors returned by successive calls before any
	// audio is produced. Each call pops one entry; nil entries fall through to
	// normal behaviour.
	Errors []error

	// Err, if non-nil, is returned by every call once Errors is drained.
	Err error

	// --- Call records ---

	// Calls records every call to Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize implements tts.Synthesizer. Texts with no configured response
// yield a deterministic placeholder clip ("audio:<voice>:<text>").
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, SynthesizeCall{Text: text, Voice: voice})
	var queued error
	if len(s.Errors) > 0 {
		queued = s.Errors[0]
		s.Errors = s.Errors[1:]
	}
	err := s.Err
	audio, ok := s.Audio[text]
	fn := s.Func
	s.mu.Unlock()

	if e := ctx.Err(); e != nil {
		return nil, e
	}
	if queued != nil {
		return nil, queued
	}
	if err != nil {
		return nil, err
	}
	if ok {
		return audio, nil
	}
	if fn != nil {
		return fn(text, voice)
	}
	return fmt.Appendf(nil, "audio:%s:%s", voice.ID, text), nil
}

// CallCount returns the number of Synthesize calls so far.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Texts returns the text of every call in order.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Calls))
	for i, c := range s.Calls {
		out[i] = c.Text
	}
	return out
}
