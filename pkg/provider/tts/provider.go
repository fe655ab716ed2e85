// Package tts defines the Synthesizer capability for text-to-speech backends.
//
// A synthesizer turns one complete phrase of text into one encoded audio clip
// (WAV unless a backend documents otherwise). Lesson audio is built offline in
// batches, so the interface is request/response rather than streaming; the
// caller throttles and retries around it.
//
// Errors returned by implementations distinguish transient failures (rate
// limits, network hiccups, server overload) from fatal ones (bad credentials,
// unknown voice, rejected input). Use [IsTransient] to decide whether a retry
// can help.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
)

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize renders text with the given voice and returns the encoded
	// clip. An empty clip with a nil error is never returned.
	//
	// Errors that may succeed on retry wrap [ErrTransient].
	Synthesize(ctx context.Context, text string, voice VoiceProfile) ([]byte, error)
}

// VoiceLister is implemented by synthesizers that can enumerate their voice
// catalogue. It is optional and used only by tooling.
type VoiceLister interface {
	// ListVoices returns all voice profiles currently available.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
