package tts

// VoiceProfile describes the voice a phrase is rendered with.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier. It is persisted with every
	// vocabulary entry so repairs re-synthesise with the original voice.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 0 or 1.0 = default).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string
}
