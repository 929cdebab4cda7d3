package thoughts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voicewire/voicewire/pkg/provider/llm"
	llmmock "github.com/voicewire/voicewire/pkg/provider/llm/mock"
)

func TestReflectOnce_RecordsNote(t *testing.T) {
	provider := &llmmock.Provider{
		Response: llm.CompletionResponse{Content: "Caller wants a refund."},
	}
	transcript := "caller: I want a refund\nagent: let me check"
	r := NewRunner(provider, func() string { return transcript }, time.Minute)

	note := r.ReflectOnce(context.Background())
	if note != "Caller wants a refund." {
		t.Errorf("note = %q", note)
	}
	if got := r.Notes(); len(got) != 1 || got[0] != "Caller wants a refund." {
		t.Errorf("Notes() = %v", got)
	}

	reqs := provider.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if len(reqs[0].Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(reqs[0].Messages))
	}
}

func TestReflectOnce_NotifiesNoteFunc(t *testing.T) {
	provider := &llmmock.Provider{
		Response: llm.CompletionResponse{Content: "Caller wants a refund."},
	}
	var seen []string
	r := NewRunner(provider, func() string { return "caller: I want a refund" }, time.Minute,
		WithNoteFunc(func(note string) { seen = append(seen, note) }))

	r.ReflectOnce(context.Background())
	r.ReflectOnce(context.Background()) // unchanged transcript, no second note

	if len(seen) != 1 || seen[0] != "Caller wants a refund." {
		t.Errorf("note callback saw %v", seen)
	}
}

func TestReflectOnce_SkipsEmptyTranscript(t *testing.T) {
	provider := &llmmock.Provider{
		Response: llm.CompletionResponse{Content: "note"},
	}
	r := NewRunner(provider, func() string { return "  " }, time.Minute)

	if note := r.ReflectOnce(context.Background()); note != "" {
		t.Errorf("note = %q, want empty", note)
	}
	if len(provider.Requests()) != 0 {
		t.Error("no request should be made for an empty transcript")
	}
}

func TestReflectOnce_SkipsUnchangedTranscript(t *testing.T) {
	provider := &llmmock.Provider{
		Response: llm.CompletionResponse{Content: "note"},
	}
	r := NewRunner(provider, func() string { return "caller: hi" }, time.Minute)

	r.ReflectOnce(context.Background())
	r.ReflectOnce(context.Background())

	if n := len(provider.Requests()); n != 1 {
		t.Errorf("requests = %d, want 1 (transcript did not grow)", n)
	}
}

func TestReflectOnce_ErrorIsSkipped(t *testing.T) {
	provider := &llmmock.Provider{Err: errors.New("llm down")}
	r := NewRunner(provider, func() string { return "caller: hi" }, time.Minute)

	if note := r.ReflectOnce(context.Background()); note != "" {
		t.Errorf("note = %q, want empty on error", note)
	}
	if len(r.Notes()) != 0 {
		t.Error("no note should be recorded on error")
	}
}

func TestNotes_CappedAtMax(t *testing.T) {
	provider := &llmmock.Provider{
		Response: llm.CompletionResponse{Content: "note"},
	}
	transcript := ""
	r := NewRunner(provider, func() string { return transcript }, time.Minute, WithMaxNotes(2))

	for i := 0; i < 4; i++ {
		transcript += "caller: more\n"
		r.ReflectOnce(context.Background())
	}

	if got := r.Notes(); len(got) != 2 {
		t.Errorf("retained notes = %d, want 2", len(got))
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	provider := &llmmock.Provider{
		Response: llm.CompletionResponse{Content: "note"},
	}
	r := NewRunner(provider, func() string { return "caller: hi" }, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if len(r.Notes()) == 0 {
		t.Error("expected at least one reflection from the ticker loop")
	}
}
