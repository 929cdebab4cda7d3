// Package mock provides a scriptable tts.Provider for tests.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voicewire/voicewire/pkg/provider/tts"
)

// Provider is a mock streaming TTS provider. By default every synthesized
// text yields BytesPerChar audio bytes, so tests can reason about playback
// duration deterministically.
type Provider struct {
	// BytesPerChar controls how much audio each input character produces.
	// Zero means 8 (one millisecond of 8 kHz µ-law per character).
	BytesPerChar int

	// Delay, when non-zero, is slept per synthesis call to simulate provider
	// latency.
	Delay time.Duration

	// Err, when non-nil, is returned by Synthesize and SynthesizeStream.
	Err error

	// FailAfter, when positive, fails synthesis once that many calls have
	// succeeded.
	FailAfter int

	mu          sync.Mutex
	calls       int
	texts       []string
	fillerTexts []string
}

var (
	_ tts.StreamingProvider = (*Provider)(nil)
	_ tts.FillerProvider    = (*Provider)(nil)
)

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, _ tts.VoiceProfile) ([]byte, error) {
	if err := p.failCheck(); err != nil {
		return nil, err
	}
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.record(text)
	return p.audioFor(text), nil
}

// SynthesizeFiller implements tts.FillerProvider. It behaves like Synthesize
// but records the call separately so tests can assert which voice path ran.
func (p *Provider) SynthesizeFiller(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	p.mu.Lock()
	p.fillerTexts = append(p.fillerTexts, text)
	p.mu.Unlock()
	return p.Synthesize(ctx, text, voice)
}

// SynthesizeStream implements tts.StreamingProvider. Each text fragment is
// converted to one audio chunk.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, _ tts.VoiceProfile) (<-chan []byte, error) {
	if err := p.failCheck(); err != nil {
		return nil, err
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for {
			select {
			case s, ok := <-text:
				if !ok {
					return
				}
				if p.Delay > 0 {
					select {
					case <-time.After(p.Delay):
					case <-ctx.Done():
						return
					}
				}
				p.record(s)
				select {
				case out <- p.audioFor(s):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Texts returns every text passed to the provider so far.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.texts))
	copy(out, p.texts)
	return out
}

// FillerTexts returns every text synthesized through the filler voice path.
func (p *Provider) FillerTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.fillerTexts))
	copy(out, p.fillerTexts)
	return out
}

// failCheck applies the scripted failure modes, counting one synthesis call.
func (p *Provider) failCheck() error {
	if p.Err != nil {
		return p.Err
	}
	if p.FailAfter > 0 {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.calls++
		if p.calls > p.FailAfter {
			return errors.New("mock: synthesis failed")
		}
	}
	return nil
}

func (p *Provider) record(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
}

func (p *Provider) audioFor(text string) []byte {
	per := p.BytesPerChar
	if per == 0 {
		per = 8
	}
	n := len(text) * per
	if n == 0 {
		n = per
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = 0xFF // µ-law silence
	}
	return buf
}
