// Package thoughts runs the background reflection loop for a call.
//
// While the caller and agent talk, a Runner periodically sends the transcript
// so far to the LLM and asks it to jot down private notes: what the caller
// wants, what has been resolved, what to keep in mind. The notes feed back
// into the system prompt of later turns, so the agent stays oriented on long
// calls without re-reading the whole history.
//
// Reflection requests run outside the turn pipeline and never block it. A
// failed reflection is logged and skipped; the next tick tries again.
package thoughts

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voicewire/voicewire/internal/prompt"
	"github.com/voicewire/voicewire/pkg/provider/llm"
)

// TranscriptFunc returns the transcript rendered so far, one line per
// utterance. An empty string means nothing has been said yet.
type TranscriptFunc func() string

// Runner periodically reflects on a call's transcript.
type Runner struct {
	provider   llm.Provider
	transcript TranscriptFunc
	interval   time.Duration
	maxNotes   int
	logger     *slog.Logger
	onNote     func(note string)

	mu    sync.Mutex
	notes []string
	// lastLen skips reflections when the transcript has not grown.
	lastLen int
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxNotes caps how many reflections are retained; older ones are
// dropped first. The default is 5.
func WithMaxNotes(n int) Option {
	return func(r *Runner) { r.maxNotes = n }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithNoteFunc registers a callback invoked with each recorded note, after it
// has been retained. Sessions use it to persist reflections alongside the
// call's other artifacts.
func WithNoteFunc(fn func(note string)) Option {
	return func(r *Runner) { r.onNote = fn }
}

// NewRunner creates a reflection runner. interval must be positive.
func NewRunner(provider llm.Provider, transcript TranscriptFunc, interval time.Duration, opts ...Option) *Runner {
	r := &Runner{
		provider:   provider,
		transcript: transcript,
		interval:   interval,
		maxNotes:   5,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reflects on the transcript every interval until ctx is cancelled.
// Intended to be launched as a goroutine alongside the call session.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReflectOnce(ctx)
		}
	}
}

// ReflectOnce performs a single reflection if the transcript has grown since
// the last one. It returns the new note, or "" if nothing was produced.
func (r *Runner) ReflectOnce(ctx context.Context) string {
	transcript := r.transcript()
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return ""
	}

	r.mu.Lock()
	grown := len(transcript) > r.lastLen
	r.mu.Unlock()
	if !grown {
		return ""
	}

	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "user", Content: prompt.ComposeReflection(transcript)},
		},
	})
	if err != nil {
		r.logger.Warn("reflection request failed", "err", err)
		return ""
	}

	note := strings.TrimSpace(resp.Content)
	if note == "" {
		return ""
	}

	r.mu.Lock()
	r.lastLen = len(transcript)
	r.notes = append(r.notes, note)
	if len(r.notes) > r.maxNotes {
		r.notes = r.notes[len(r.notes)-r.maxNotes:]
	}
	r.mu.Unlock()

	if r.onNote != nil {
		r.onNote(note)
	}
	r.logger.Debug("reflection recorded", "note", note)
	return note
}

// Notes returns a copy of the retained reflections, oldest first.
func (r *Runner) Notes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.notes))
	copy(out, r.notes)
	return out
}
