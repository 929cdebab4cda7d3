// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., Deepgram) and exposes a
// uniform interface. Every provider supports batch transcription; providers
// that can hold a live recognition session additionally implement
// [StreamingProvider]. The call orchestrator feature-detects streaming at
// session start and adapts its debounce interval accordingly: with partials
// the upstream service has already done voice-activity detection, so the
// orchestrator can commit an utterance much sooner.
//
// Implementations must be safe for concurrent use. Audio input and result
// output channels are goroutine-safe by construction.
package stt

import "context"

// Result is a single transcription result, partial or final.
type Result struct {
	// Text is the transcribed text. May be empty for silence.
	Text string

	// IsFinal reports whether the provider has committed to this result.
	// Partials are low-latency guesses and may be revised.
	IsFinal bool

	// Confidence is the provider's confidence in [0, 1], when available.
	Confidence float64
}

// StreamConfig describes the audio format and recognition hints for a new
// streaming session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Telephony media is 8000.
	SampleRate int

	// Encoding names the wire encoding of the audio ("mulaw", "linear16").
	Encoding string

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// Empty lets the provider auto-detect, if supported.
	Language string
}

// StreamHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed; failing to do
// so may leak goroutines and network connections inside the provider.
// All methods must be safe for concurrent use.
type StreamHandle interface {
	// SendAudio delivers a chunk of raw audio bytes in the encoding agreed in
	// StreamConfig. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel emitting interim results. The
	// channel is closed when the session ends.
	Partials() <-chan Result

	// Finals returns a read-only channel emitting committed results. The
	// channel is closed when the session ends.
	Finals() <-chan Result

	// Close terminates the session, flushes pending audio, and releases all
	// resources. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the minimum abstraction over any STT backend.
type Provider interface {
	// Transcribe performs batch recognition over a complete audio clip and
	// returns a single final result.
	Transcribe(ctx context.Context, audio []byte, cfg StreamConfig) (Result, error)
}

// StreamingProvider is the optional streaming capability. Sessions that
// receive a StreamingProvider run with live partials and the short debounce
// interval.
type StreamingProvider interface {
	Provider

	// StartStream opens a live recognition session. The returned handle is
	// ready to accept audio immediately. The caller owns the handle and must
	// call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (StreamHandle, error)
}
