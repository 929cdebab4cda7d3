// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider converts text into raw audio bytes in the format the
// telephony leg expects (8 kHz G.711 µ-law for phone calls). Every provider
// supports one-shot synthesis; providers that can stream audio as text arrives
// additionally implement [StreamingProvider].
package tts

import "context"

// VoiceProfile identifies a synthesis voice at a provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name, when known.
	Name string

	// Provider names the backing service ("elevenlabs", "mock").
	Provider string

	// Metadata carries provider-specific voice attributes (accent, gender,
	// category) for selection UIs and logs.
	Metadata map[string]string
}

// Provider is the minimum abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text into a complete audio clip and returns the raw
	// audio bytes. The encoding and sample rate are fixed by provider
	// configuration.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) ([]byte, error)
}

// FillerProvider is the optional capability for synthesizing filler phrases
// on a faster, warmer voice path. Fillers are pre-rendered at session start,
// so latency matters less than a natural "thinking out loud" delivery.
type FillerProvider interface {
	Provider

	// SynthesizeFiller renders a short filler phrase. Implementations may use
	// a different model or voice settings than Synthesize.
	SynthesizeFiller(ctx context.Context, text string, voice VoiceProfile) ([]byte, error)
}

// StreamingProvider is the optional streaming capability. The orchestrator
// prefers it for agent replies so playback can begin before the full reply
// is synthesized.
type StreamingProvider interface {
	Provider

	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel emitting raw audio chunks as they are produced. The
	// audio channel is closed after the text channel closes and all pending
	// audio has been flushed, or when ctx is cancelled.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)
}
