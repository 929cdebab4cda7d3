package call

import (
	"testing"
	"time"
)

func TestBreakdown_AllStages(t *testing.T) {
	base := time.Now()
	c := &turnClock{
		speechEnd:     base,
		committed:     base.Add(150 * time.Millisecond),
		llmStart:      base.Add(160 * time.Millisecond),
		llmFirstToken: base.Add(560 * time.Millisecond),
		ttsStart:      base.Add(600 * time.Millisecond),
		ttsFirstAudio: base.Add(800 * time.Millisecond),
		playbackStart: base.Add(800 * time.Millisecond),
		playbackEnd:   base.Add(3 * time.Second),
	}

	b := c.breakdown()
	if b.STT != 150*time.Millisecond {
		t.Errorf("STT = %v", b.STT)
	}
	if b.LLM != 400*time.Millisecond {
		t.Errorf("LLM = %v", b.LLM)
	}
	if b.TTS != 200*time.Millisecond {
		t.Errorf("TTS = %v", b.TTS)
	}
	if b.Total != 3*time.Second {
		t.Errorf("Total = %v", b.Total)
	}
	if b.TimeToFirstAudio != 800*time.Millisecond {
		t.Errorf("TTFA = %v", b.TimeToFirstAudio)
	}
}

func TestBreakdown_FillerAnchorsTTFA(t *testing.T) {
	base := time.Now()
	c := &turnClock{
		speechEnd:     base,
		fillerAt:      base.Add(300 * time.Millisecond),
		playbackStart: base.Add(2 * time.Second),
	}
	b := c.breakdown()
	if b.TimeToFirstAudio != 300*time.Millisecond {
		t.Errorf("TTFA = %v, want filler time", b.TimeToFirstAudio)
	}
}

func TestBreakdown_MissingStagesAreZero(t *testing.T) {
	c := &turnClock{speechEnd: time.Now()}
	b := c.breakdown()
	if b.STT != 0 || b.LLM != 0 || b.TTS != 0 || b.Total != 0 || b.TimeToFirstAudio != 0 {
		t.Errorf("breakdown of empty clock = %+v", b)
	}
}

func TestClockSet_FirstWriteWins(t *testing.T) {
	c := &turnClock{}
	first := time.Now()
	c.set(&c.llmFirstToken, first)
	c.set(&c.llmFirstToken, first.Add(time.Second))
	if !c.llmFirstToken.Equal(first) {
		t.Error("set should not overwrite an existing timestamp")
	}
}

func TestBottleneck(t *testing.T) {
	tests := []struct {
		name string
		b    LatencyBreakdown
		want string
	}{
		{"all under target", LatencyBreakdown{STT: 100 * time.Millisecond, LLM: 500 * time.Millisecond, TTS: 200 * time.Millisecond}, "none"},
		{"slow llm", LatencyBreakdown{STT: 100 * time.Millisecond, LLM: 3 * time.Second, TTS: 200 * time.Millisecond}, "llm"},
		{"slow stt", LatencyBreakdown{STT: 2 * time.Second, LLM: 500 * time.Millisecond}, "stt"},
		{"worst overage wins", LatencyBreakdown{STT: time.Second, LLM: 4 * time.Second, TTS: 2 * time.Second}, "llm"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.b.bottleneck(); got != tc.want {
				t.Errorf("bottleneck = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSessionStats(t *testing.T) {
	var s sessionStats
	s.record(LatencyBreakdown{TimeToFirstAudio: 100 * time.Millisecond})
	s.record(LatencyBreakdown{TimeToFirstAudio: 300 * time.Millisecond})

	turns, avg, peak := s.Summary()
	if turns != 2 {
		t.Errorf("turns = %d", turns)
	}
	if avg != 200*time.Millisecond {
		t.Errorf("avg = %v", avg)
	}
	if peak != 300*time.Millisecond {
		t.Errorf("peak = %v", peak)
	}
}
