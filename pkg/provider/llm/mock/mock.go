// Package mock provides a scriptable llm.Provider for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voicewire/voicewire/pkg/provider/llm"
)

// Provider is a mock llm.Provider. Configure the exported fields before use;
// call records are appended under an internal lock and can be inspected with
// Requests.
type Provider struct {
	// Chunks is the scripted token stream returned by StreamCompletion.
	// When empty, a single "stop" chunk is emitted.
	Chunks []llm.Chunk

	// ChunkDelay, when non-zero, is slept between emitted chunks to simulate
	// generation latency.
	ChunkDelay time.Duration

	// Response is returned by Complete when Err is nil.
	Response llm.CompletionResponse

	// Err, when non-nil, is returned by both StreamCompletion and Complete.
	Err error

	mu       sync.Mutex
	requests []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.record(req)
	if p.Err != nil {
		return nil, p.Err
	}

	script := p.Chunks
	if len(script) == 0 {
		script = []llm.Chunk{{FinishReason: "stop"}}
	}

	ch := make(chan llm.Chunk, len(script))
	go func() {
		defer close(ch)
		for _, c := range script {
			if p.ChunkDelay > 0 {
				select {
				case <-time.After(p.ChunkDelay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.record(req)
	if p.Err != nil {
		return nil, p.Err
	}
	resp := p.Response
	return &resp, nil
}

// Requests returns a copy of all requests seen so far.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *Provider) record(req llm.CompletionRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
}

// StreamText is a convenience helper that builds a chunk script from words,
// ending with a "stop" chunk.
func StreamText(words ...string) []llm.Chunk {
	chunks := make([]llm.Chunk, 0, len(words)+1)
	for _, w := range words {
		chunks = append(chunks, llm.Chunk{Text: w})
	}
	return append(chunks, llm.Chunk{FinishReason: "stop"})
}
