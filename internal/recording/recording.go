// Package recording captures per-call artifacts: raw caller and agent audio,
// the turn-by-turn transcript, and the agent's background reflections.
//
// Each call gets its own directory under the configured root:
//
//	<root>/<call-id>/
//	    caller.ulaw      raw 8 kHz µ-law caller audio
//	    agent.ulaw       raw 8 kHz µ-law agent audio
//	    transcript.json  ordered transcript entries
//	    thoughts.json    background reflections, when enabled
//
// Audio is appended as it flows; the JSON files are written on Close.
package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one transcript line.
type Entry struct {
	// Role is "caller" or "agent".
	Role string `json:"role"`

	// Text is the spoken text. For interrupted agent speech this is what was
	// actually delivered, not the full generated reply.
	Text string `json:"text"`

	// At is when the line was committed.
	At time.Time `json:"at"`

	// Interrupted marks agent lines cut off by a barge-in.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Thought is one background reflection.
type Thought struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Recorder captures the artifacts of a single call. All methods are safe for
// concurrent use. A nil *Recorder is valid and discards everything, so call
// sites need no recording-enabled checks.
type Recorder struct {
	dir string

	mu         sync.Mutex
	callerFile *os.File
	agentFile  *os.File
	entries    []Entry
	thoughts   []Thought
	closed     bool
}

// New creates the call directory under root and opens the audio files.
func New(root, callID string) (*Recorder, error) {
	dir := filepath.Join(root, callID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recording: create %q: %w", dir, err)
	}

	callerFile, err := os.Create(filepath.Join(dir, "caller.ulaw"))
	if err != nil {
		return nil, fmt.Errorf("recording: create caller audio: %w", err)
	}
	agentFile, err := os.Create(filepath.Join(dir, "agent.ulaw"))
	if err != nil {
		callerFile.Close()
		return nil, fmt.Errorf("recording: create agent audio: %w", err)
	}

	return &Recorder{
		dir:        dir,
		callerFile: callerFile,
		agentFile:  agentFile,
	}, nil
}

// Dir returns the call's artifact directory.
func (r *Recorder) Dir() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// WriteCallerAudio appends a caller audio chunk.
func (r *Recorder) WriteCallerAudio(chunk []byte) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	_, _ = r.callerFile.Write(chunk)
}

// WriteAgentAudio appends an agent audio chunk.
func (r *Recorder) WriteAgentAudio(chunk []byte) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	_, _ = r.agentFile.Write(chunk)
}

// AddEntry appends a transcript line.
func (r *Recorder) AddEntry(e Entry) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.entries = append(r.entries, e)
}

// AddThought appends a background reflection.
func (r *Recorder) AddThought(t Thought) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.thoughts = append(r.thoughts, t)
}

// Thoughts returns a copy of the reflections recorded so far.
func (r *Recorder) Thoughts() []Thought {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Thought, len(r.thoughts))
	copy(out, r.thoughts)
	return out
}

// Close flushes the JSON artifacts and closes the audio files. Safe to call
// more than once.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(r.callerFile.Close())
	record(r.agentFile.Close())
	record(writeJSON(filepath.Join(r.dir, "transcript.json"), r.entries))
	if len(r.thoughts) > 0 {
		record(writeJSON(filepath.Join(r.dir, "thoughts.json"), r.thoughts))
	}

	if firstErr != nil {
		return fmt.Errorf("recording: close: %w", firstErr)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
