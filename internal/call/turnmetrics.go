package call

import (
	"sync"
	"time"
)

// turnClock collects the wall-clock milestones of one turn. All fields are
// written by the turn pipeline; zero means the stage never happened.
type turnClock struct {
	mu sync.Mutex

	// speechEnd is when the last contributing final transcript arrived.
	speechEnd time.Time
	// committed is when the debounced utterance was handed to the turn loop.
	committed time.Time

	llmStart      time.Time
	llmFirstToken time.Time

	ttsStart      time.Time
	ttsFirstAudio time.Time

	fillerAt      time.Time
	playbackStart time.Time
	playbackEnd   time.Time
}

func (c *turnClock) set(field *time.Time, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if field.IsZero() {
		*field = at
	}
}

// LatencyBreakdown is the per-turn latency report derived at turn end.
type LatencyBreakdown struct {
	// STT is end of caller speech to committed utterance.
	STT time.Duration

	// LLM is request start to first streamed token.
	LLM time.Duration

	// TTS is first complete sentence to first synthesized audio.
	TTS time.Duration

	// Total is end of caller speech to end of agent playback.
	Total time.Duration

	// TimeToFirstAudio is end of caller speech to the first audio the caller
	// heard, filler included.
	TimeToFirstAudio time.Duration
}

// breakdown derives the latency report. Stages that never happened
// contribute zero.
func (c *turnClock) breakdown() LatencyBreakdown {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b LatencyBreakdown
	if !c.speechEnd.IsZero() {
		if !c.committed.IsZero() {
			b.STT = c.committed.Sub(c.speechEnd)
		}
		if !c.playbackEnd.IsZero() {
			b.Total = c.playbackEnd.Sub(c.speechEnd)
		}
		firstAudio := c.playbackStart
		if !c.fillerAt.IsZero() && (firstAudio.IsZero() || c.fillerAt.Before(firstAudio)) {
			firstAudio = c.fillerAt
		}
		if !firstAudio.IsZero() {
			b.TimeToFirstAudio = firstAudio.Sub(c.speechEnd)
		}
	}
	if !c.llmStart.IsZero() && !c.llmFirstToken.IsZero() {
		b.LLM = c.llmFirstToken.Sub(c.llmStart)
	}
	if !c.ttsStart.IsZero() && !c.ttsFirstAudio.IsZero() {
		b.TTS = c.ttsFirstAudio.Sub(c.ttsStart)
	}
	return b
}

// bottleneckThresholds are the per-stage latency targets. The slowest stage
// over its target is labelled the turn's bottleneck.
var bottleneckThresholds = map[string]time.Duration{
	"stt": 500 * time.Millisecond,
	"llm": 1 * time.Second,
	"tts": 1 * time.Second,
}

// bottleneck returns "stt", "llm", "tts", or "none".
func (b LatencyBreakdown) bottleneck() string {
	worst := "none"
	var worstOver time.Duration
	for stage, d := range map[string]time.Duration{
		"stt": b.STT,
		"llm": b.LLM,
		"tts": b.TTS,
	} {
		over := d - bottleneckThresholds[stage]
		if over > 0 && over > worstOver {
			worst = stage
			worstOver = over
		}
	}
	return worst
}

// sessionStats keeps rolling aggregates over a session's completed turns.
type sessionStats struct {
	mu        sync.Mutex
	turns     int
	totalTTFA time.Duration
	peakTTFA  time.Duration
}

func (s *sessionStats) record(b LatencyBreakdown) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns++
	s.totalTTFA += b.TimeToFirstAudio
	if b.TimeToFirstAudio > s.peakTTFA {
		s.peakTTFA = b.TimeToFirstAudio
	}
}

// Summary returns the turn count, mean TTFA, and peak TTFA.
func (s *sessionStats) Summary() (turns int, avgTTFA, peakTTFA time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turns > 0 {
		avgTTFA = s.totalTTFA / time.Duration(s.turns)
	}
	return s.turns, avgTTFA, s.peakTTFA
}
