package resilience

import (
	"context"

	"github.com/voicewire/voicewire/pkg/provider/stt"
)

// STTFallback implements [stt.StreamingProvider] with automatic failover across
// multiple STT backends. Streaming sessions fail over only at session start; an
// established session that dies is reopened by the caller, which lands on the
// next healthy backend.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.StreamingProvider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe sends the clip to the first healthy provider.
func (f *STTFallback) Transcribe(ctx context.Context, audio []byte, cfg stt.StreamConfig) (stt.Result, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.Result, error) {
		return p.Transcribe(ctx, audio, cfg)
	})
}

// StartStream opens a session with the first healthy streaming-capable
// provider. Entries that only support batch transcription are skipped.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.StreamHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.StreamHandle, error) {
		sp, ok := p.(stt.StreamingProvider)
		if !ok {
			return nil, errNotStreaming
		}
		return sp.StartStream(ctx, cfg)
	})
}

// CanStream reports whether any entry in the group supports streaming.
func (f *STTFallback) CanStream() bool {
	for _, e := range f.group.entries {
		if _, ok := e.value.(stt.StreamingProvider); ok {
			return true
		}
	}
	return false
}

var errNotStreaming = errNotStreamingType{}

type errNotStreamingType struct{}

func (errNotStreamingType) Error() string { return "provider does not support streaming" }
