// Package mock provides scriptable stt.Provider and stt.StreamHandle
// implementations for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/voicewire/voicewire/pkg/provider/stt"
)

// Provider is a mock streaming STT provider. Each StartStream call returns a
// fresh *Stream that the test can drive directly via EmitPartial/EmitFinal.
type Provider struct {
	// BatchResult is returned by Transcribe when BatchErr is nil.
	BatchResult stt.Result

	// BatchErr, when non-nil, is returned by Transcribe.
	BatchErr error

	// StreamErr, when non-nil, is returned by StartStream.
	StreamErr error

	mu      sync.Mutex
	streams []*Stream
}

var _ stt.StreamingProvider = (*Provider)(nil)

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(_ context.Context, _ []byte, _ stt.StreamConfig) (stt.Result, error) {
	if p.BatchErr != nil {
		return stt.Result{}, p.BatchErr
	}
	return p.BatchResult, nil
}

// StartStream implements stt.StreamingProvider.
func (p *Provider) StartStream(_ context.Context, _ stt.StreamConfig) (stt.StreamHandle, error) {
	if p.StreamErr != nil {
		return nil, p.StreamErr
	}
	s := NewStream()
	p.mu.Lock()
	p.streams = append(p.streams, s)
	p.mu.Unlock()
	return s, nil
}

// Streams returns all stream handles opened so far.
func (p *Provider) Streams() []*Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Stream, len(p.streams))
	copy(out, p.streams)
	return out
}

// Stream is a test-drivable stt.StreamHandle.
type Stream struct {
	partials chan stt.Result
	finals   chan stt.Result

	mu       sync.Mutex
	received [][]byte
	closed   bool
}

var _ stt.StreamHandle = (*Stream)(nil)

// NewStream creates an open Stream with buffered result channels.
func NewStream() *Stream {
	return &Stream{
		partials: make(chan stt.Result, 64),
		finals:   make(chan stt.Result, 64),
	}
}

// SendAudio records the chunk for later inspection.
func (s *Stream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock stt: stream is closed")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.received = append(s.received, cp)
	return nil
}

// Partials implements stt.StreamHandle.
func (s *Stream) Partials() <-chan stt.Result { return s.partials }

// Finals implements stt.StreamHandle.
func (s *Stream) Finals() <-chan stt.Result { return s.finals }

// Close implements stt.StreamHandle.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.partials)
		close(s.finals)
	}
	return nil
}

// EmitPartial pushes an interim result to the session consumer.
func (s *Stream) EmitPartial(text string) {
	s.partials <- stt.Result{Text: text, Confidence: 0.5}
}

// EmitFinal pushes a committed result to the session consumer.
func (s *Stream) EmitFinal(text string) {
	s.finals <- stt.Result{Text: text, IsFinal: true, Confidence: 0.95}
}

// Received returns all audio chunks sent to the stream.
func (s *Stream) Received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.received))
	copy(out, s.received)
	return out
}
