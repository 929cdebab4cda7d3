package call

import (
	"strings"
	"sync"
	"time"
)

// continuationMinChars is the minimum partial length that counts as the
// caller resuming speech rather than STT noise.
const continuationMinChars = 5

// aggregator merges partial and final STT results into consolidated
// utterances. Finals accumulate in pending until the session's debounce
// timer fires and takes them; partials are tracked for duplicate
// suppression, continuation detection, and barge-in salvage.
type aggregator struct {
	mu             sync.Mutex
	pending        []string
	speechEnd      time.Time
	lastPartial    string
	bargeInPartial string
}

// AddFinal appends a final transcript to pending. Empty or whitespace text
// is ignored and does not disturb pending. Returns whether text was added.
func (a *aggregator) AddFinal(text string, at time.Time) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append(a.pending, text)
	a.speechEnd = at
	a.lastPartial = ""
	return true
}

// Prepend pushes text in front of pending. Used when a cancelled turn's
// utterance must merge with the speech that interrupted it, and for the
// deferred greeting transcription.
func (a *aggregator) Prepend(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append([]string{text}, a.pending...)
}

// Take consolidates and clears pending, returning the merged utterance and
// the arrival time of the last contributing final.
func (a *aggregator) Take() (string, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	text := strings.Join(a.pending, " ")
	end := a.speechEnd
	a.pending = nil
	a.speechEnd = time.Time{}
	return text, end
}

// HasPending reports whether any finals are waiting.
func (a *aggregator) HasPending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending) > 0
}

// NotePartial records an interim transcript. It returns true when the
// partial is fresh material: non-trivial length and not a repeat of the
// previous partial.
func (a *aggregator) NotePartial(text string) bool {
	text = strings.TrimSpace(text)
	a.mu.Lock()
	defer a.mu.Unlock()
	if text == a.lastPartial {
		return false
	}
	a.lastPartial = text
	return len(text) >= continuationMinChars
}

// NoteBargeInPartial stores a partial heard during agent playback so that
// the caller's words survive a hangup before STT finalises. The slot only
// grows: a shorter or divergent partial never replaces a longer one.
func (a *aggregator) NoteBargeInPartial(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(text) > len(a.bargeInPartial) && strings.HasPrefix(text, a.bargeInPartial) {
		a.bargeInPartial = text
	}
}

// TakeBargeInPartial returns and clears the salvage slot.
func (a *aggregator) TakeBargeInPartial() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	text := a.bargeInPartial
	a.bargeInPartial = ""
	return text
}
