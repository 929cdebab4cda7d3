package call

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Phase is the lifecycle stage of a single user-to-agent turn.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAggregating
	PhaseGenerating
	PhaseSpeaking
	PhaseCancelled
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAggregating:
		return "aggregating"
	case PhaseGenerating:
		return "generating"
	case PhaseSpeaking:
		return "speaking"
	case PhaseCancelled:
		return "cancelled"
	case PhaseDone:
		return "done"
	}
	return "unknown"
}

// turn is the ephemeral state of one exchange. The cancel and playback flags
// are atomics because they are read at every step of the synthesis pipeline
// while other goroutines (barge-in, continuation) set them.
type turn struct {
	id       int
	userText string

	shouldCancel    atomic.Bool
	playbackStarted atomic.Bool
	// continuation distinguishes a cheap pre-playback cancellation from a
	// barge-in when the turn winds down.
	continuation atomic.Bool
	// failed marks a provider error; the turn ends silently and the session
	// stays live.
	failed atomic.Bool

	mu        sync.Mutex
	phase     Phase
	delivered []string
	clock     turnClock
}

// addDelivered records a sentence whose audio reached the carrier.
func (t *turn) addDelivered(sentence string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delivered = append(t.delivered, sentence)
}

// deliveredText returns the agent speech the caller actually heard.
func (t *turn) deliveredText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.delivered, " ")
}

func newTurn(id int, userText string) *turn {
	return &turn{id: id, userText: userText, phase: PhaseGenerating}
}

// Phase returns the current phase.
func (t *turn) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// setPhase advances the phase. Cancelled and Done are terminal in that order:
// a cancelled turn may still move to Done, nothing else.
func (t *turn) setPhase(p Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase == PhaseDone {
		return
	}
	if t.phase == PhaseCancelled && p != PhaseDone {
		return
	}
	t.phase = p
}

// Cancel marks the turn for cooperative cancellation. continuation selects
// the cheap path taken before playback has started.
func (t *turn) Cancel(continuation bool) {
	if continuation {
		t.continuation.Store(true)
	}
	t.shouldCancel.Store(true)
	t.setPhase(PhaseCancelled)
}

// Cancelled reports whether the turn should stop producing output.
func (t *turn) Cancelled() bool {
	return t.shouldCancel.Load()
}

// markFirstAudio flags that the caller has started hearing this turn.
// Returns true only on the first call.
func (t *turn) markFirstAudio() bool {
	if t.playbackStarted.CompareAndSwap(false, true) {
		t.setPhase(PhaseSpeaking)
		return true
	}
	return false
}

// PlaybackStarted reports whether any audio for this turn reached the
// carrier.
func (t *turn) PlaybackStarted() bool {
	return t.playbackStarted.Load()
}
