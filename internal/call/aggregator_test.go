package call

import (
	"testing"
	"time"
)

func TestAggregator_FinalsMergeInOrder(t *testing.T) {
	var a aggregator
	now := time.Now()
	a.AddFinal("what's the price", now)
	a.AddFinal("for the basic plan", now.Add(time.Second))

	text, speechEnd := a.Take()
	if text != "what's the price for the basic plan" {
		t.Errorf("Take = %q", text)
	}
	if !speechEnd.Equal(now.Add(time.Second)) {
		t.Errorf("speechEnd = %v", speechEnd)
	}
	if a.HasPending() {
		t.Error("Take should clear pending")
	}
}

func TestAggregator_EmptyFinalIgnored(t *testing.T) {
	var a aggregator
	now := time.Now()
	a.AddFinal("hello", now)
	if a.AddFinal("   ", now.Add(time.Second)) {
		t.Error("whitespace final should report not-added")
	}
	text, speechEnd := a.Take()
	if text != "hello" {
		t.Errorf("Take = %q", text)
	}
	if !speechEnd.Equal(now) {
		t.Error("whitespace final must not disturb speechEnd")
	}
}

func TestAggregator_PrependMergesCancelledTurn(t *testing.T) {
	var a aggregator
	a.AddFinal("for the basic plan", time.Now())
	a.Prepend("what's the price")
	text, _ := a.Take()
	if text != "what's the price for the basic plan" {
		t.Errorf("Take = %q", text)
	}
}

func TestAggregator_PartialDuplicateSuppressed(t *testing.T) {
	var a aggregator
	if !a.NotePartial("what's the price") {
		t.Error("first partial should be fresh")
	}
	if a.NotePartial("what's the price") {
		t.Error("identical repeat should be suppressed")
	}
	if !a.NotePartial("what's the price for the basic plan") {
		t.Error("grown partial should be fresh")
	}
}

func TestAggregator_ShortPartialNotFresh(t *testing.T) {
	var a aggregator
	if a.NotePartial("hm") {
		t.Error("sub-minimum partial should not count as fresh material")
	}
}

func TestAggregator_BargeInPartialGrowsMonotonically(t *testing.T) {
	var a aggregator
	a.NoteBargeInPartial("actually")
	a.NoteBargeInPartial("actually I just")
	a.NoteBargeInPartial("act") // shorter, ignored
	a.NoteBargeInPartial("something else entirely longer") // divergent, ignored

	if got := a.TakeBargeInPartial(); got != "actually I just" {
		t.Errorf("salvaged partial = %q", got)
	}
	if got := a.TakeBargeInPartial(); got != "" {
		t.Errorf("second take = %q, want empty", got)
	}
}
