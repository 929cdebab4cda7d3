package call

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/filler"
	"github.com/voicewire/voicewire/internal/observe"
	"github.com/voicewire/voicewire/internal/recording"
	"github.com/voicewire/voicewire/pkg/provider/llm"
	llmmock "github.com/voicewire/voicewire/pkg/provider/llm/mock"
	"github.com/voicewire/voicewire/pkg/provider/stt"
	sttmock "github.com/voicewire/voicewire/pkg/provider/stt/mock"
	"github.com/voicewire/voicewire/pkg/provider/tts"
	ttsmock "github.com/voicewire/voicewire/pkg/provider/tts/mock"
	"github.com/voicewire/voicewire/pkg/telephony"
	telmock "github.com/voicewire/voicewire/pkg/telephony/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastTurn returns timing knobs scaled down for tests. FillerDelay is pushed
// out so fillers only fire in tests that want them.
func fastTurn() config.TurnConfig {
	return config.TurnConfig{
		DebounceShort:   20 * time.Millisecond,
		DebounceLong:    60 * time.Millisecond,
		BargeInGrace:    10 * time.Millisecond,
		EnergyThreshold: 0.1,
		FillerDelay:     time.Hour,
		FillerCooldown:  time.Hour,
		PendingTimeout:  10 * time.Second,
		SentenceMin:     5,
		SentenceMax:     200,
		EchoThreshold:   0.82,
	}
}

func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

type harness struct {
	call *telmock.Call
	stt  *sttmock.Provider
	llm  llm.Provider
	tts  *ttsmock.Provider
	sess *Session
	done chan error
}

// start launches a session over mock providers and returns once Run is live.
func start(t *testing.T, opts Options, llmp llm.Provider, sttp stt.Provider, ttsp *ttsmock.Provider) *harness {
	t.Helper()
	if opts.Turn == (config.TurnConfig{}) {
		opts.Turn = fastTurn()
	}
	if opts.Metrics == nil {
		opts.Metrics = testMetrics(t)
	}
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}

	c := telmock.NewCall(telephony.CallInfo{CallID: "CA-test", From: "+15550001111"})
	h := &harness{
		call: c,
		llm:  llmp,
		tts:  ttsp,
		sess: NewSession(c, Pipeline{STT: sttp, LLM: llmp, TTS: ttsp}, opts),
		done: make(chan error, 1),
	}
	if m, ok := sttp.(*sttmock.Provider); ok {
		h.stt = m
	}
	go func() { h.done <- h.sess.Run(context.Background()) }()
	return h
}

// stream waits for the session's STT stream to open and returns it.
func (h *harness) stream(t *testing.T) *sttmock.Stream {
	t.Helper()
	waitFor(t, time.Second, "stt stream", func() bool { return len(h.stt.Streams()) > 0 })
	return h.stt.Streams()[0]
}

func (h *harness) end(t *testing.T) {
	t.Helper()
	h.call.End()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after call end")
	}
}

func TestSession_HappyPath(t *testing.T) {
	llmp := &llmmock.Provider{Chunks: llmmock.StreamText("Our plans start at thirty dollars.")}
	h := start(t, Options{}, llmp, &sttmock.Provider{}, &ttsmock.Provider{})
	defer h.end(t)

	s := h.stream(t)
	s.EmitPartial("what's the")
	s.EmitFinal("What's the price?")

	waitFor(t, 2*time.Second, "agent reply", func() bool {
		return len(h.sess.History()) == 2
	})

	hist := h.sess.History()
	if hist[0].role != "user" || hist[0].text != "What's the price?" {
		t.Errorf("history[0] = %+v", hist[0])
	}
	if hist[1].role != "agent" || hist[1].text != "Our plans start at thirty dollars." {
		t.Errorf("history[1] = %+v", hist[1])
	}
	if hist[1].interrupted {
		t.Error("uninterrupted reply marked interrupted")
	}
	if h.call.SentBytes() == 0 {
		t.Error("no audio reached the carrier")
	}
	if turns, _, _ := h.sess.Stats(); turns != 1 {
		t.Errorf("turns = %d, want 1", turns)
	}
	if n := len(llmp.Requests()); n != 1 {
		t.Errorf("llm requests = %d, want 1", n)
	}
}

func TestSession_FillerWhileLLMSlow(t *testing.T) {
	llmp := &llmmock.Provider{
		Chunks:     llmmock.StreamText("Sure, one second."),
		ChunkDelay: 300 * time.Millisecond,
	}
	turn := fastTurn()
	turn.FillerDelay = 50 * time.Millisecond
	h := start(t, Options{Turn: turn}, llmp, &sttmock.Provider{}, &ttsmock.Provider{})
	defer h.end(t)

	h.stream(t).EmitFinal("are you there")

	waitFor(t, time.Second, "filler audio", func() bool {
		return len(h.call.Sent()) > 0
	})
	// The first audio the caller hears is the first cached filler phrase,
	// played before any LLM token arrived.
	first := h.call.Sent()[0]
	if want := len("One moment.") * 8; len(first) != want {
		t.Errorf("first chunk = %d bytes, want filler (%d)", len(first), want)
	}

	waitFor(t, 2*time.Second, "agent reply", func() bool {
		return len(h.sess.History()) == 2
	})
}

func TestSession_FillerMatchesQuestionIntent(t *testing.T) {
	llmp := &llmmock.Provider{
		Chunks:     llmmock.StreamText("Plans start at ten dollars."),
		ChunkDelay: 300 * time.Millisecond,
	}
	turn := fastTurn()
	turn.FillerDelay = 0 // play the filler as soon as the utterance is accepted
	h := start(t, Options{Turn: turn}, llmp, &sttmock.Provider{}, &ttsmock.Provider{})
	defer h.end(t)

	h.stream(t).EmitFinal("What's the price?")

	waitFor(t, time.Second, "filler audio", func() bool {
		return len(h.call.Sent()) > 0
	})
	first := h.call.Sent()[0]
	if want := len("Good question.") * 8; len(first) != want {
		t.Errorf("first chunk = %d bytes, want clarification filler (%d)", len(first), want)
	}

	waitFor(t, 2*time.Second, "agent reply", func() bool {
		return len(h.sess.History()) == 2
	})
}

// testBanks prewarms filler and acknowledgment banks on their own provider,
// the way the manager does at startup.
func testBanks(t *testing.T) (*filler.Bank, *filler.Bank) {
	t.Helper()
	bankTTS := &ttsmock.Provider{}
	voice := tts.VoiceProfile{ID: "v1"}
	fillers, err := filler.Prewarm(context.Background(), bankTTS, voice, filler.DefaultLibrary(), time.Hour)
	if err != nil {
		t.Fatalf("Prewarm: %v", err)
	}
	acks, err := filler.PrewarmPhrases(context.Background(), bankTTS, voice, []string{"Uh-huh."}, time.Second)
	if err != nil {
		t.Fatalf("PrewarmPhrases: %v", err)
	}
	return fillers, acks
}

func TestSession_SharedBanksSkipCallSetupSynthesis(t *testing.T) {
	fillers, acks := testBanks(t)
	llmp := &llmmock.Provider{
		Chunks:     llmmock.StreamText("Plans start at ten dollars."),
		ChunkDelay: 300 * time.Millisecond,
	}
	turn := fastTurn()
	turn.FillerDelay = 0
	callTTS := &ttsmock.Provider{}
	h := start(t, Options{Turn: turn, Fillers: fillers, Acks: acks}, llmp, &sttmock.Provider{}, callTTS)
	defer h.end(t)

	s := h.stream(t)
	if n := len(callTTS.Texts()); n != 0 {
		t.Fatalf("call setup synthesized %d phrases; the shared banks carry them all", n)
	}

	// Bank audio still reaches the caller.
	s.EmitFinal("What's the price?")
	waitFor(t, time.Second, "filler audio", func() bool {
		return len(h.call.Sent()) > 0
	})
	first := h.call.Sent()[0]
	if want := len("Good question.") * 8; len(first) != want {
		t.Errorf("first chunk = %d bytes, want bank filler (%d)", len(first), want)
	}
}

func TestSession_ThoughtsPersistedToRecording(t *testing.T) {
	dir := t.TempDir()
	rec, err := recording.New(dir, "CA-thoughts")
	if err != nil {
		t.Fatalf("recording.New: %v", err)
	}
	llmp := &llmmock.Provider{
		Chunks:   llmmock.StreamText("Plans start at ten dollars."),
		Response: llm.CompletionResponse{Content: "Caller is price sensitive."},
	}
	h := start(t, Options{Recorder: rec, ThoughtsInterval: 20 * time.Millisecond},
		llmp, &sttmock.Provider{}, &ttsmock.Provider{})

	h.stream(t).EmitFinal("What's the price?")
	waitFor(t, 2*time.Second, "agent reply", func() bool {
		return len(h.sess.History()) == 2
	})
	waitFor(t, 2*time.Second, "reflection", func() bool {
		return len(rec.Thoughts()) > 0
	})
	h.end(t)

	data, err := os.ReadFile(filepath.Join(dir, "CA-thoughts", "thoughts.json"))
	if err != nil {
		t.Fatalf("thoughts artifact missing: %v", err)
	}
	var notes []recording.Thought
	if err := json.Unmarshal(data, &notes); err != nil {
		t.Fatalf("unmarshal thoughts: %v", err)
	}
	if len(notes) == 0 || notes[0].Text != "Caller is price sensitive." {
		t.Errorf("thoughts = %+v", notes)
	}
}

func TestSession_TTSFailureMidTurnClearsEgress(t *testing.T) {
	fillers, acks := testBanks(t)
	llmp := &llmmock.Provider{
		Chunks: llmmock.StreamText("First sentence here. ", "Second sentence here."),
	}
	// The second sentence's synthesis fails while the first is still playing.
	ttsp := &ttsmock.Provider{BytesPerChar: 400, FailAfter: 1}
	h := start(t, Options{Fillers: fillers, Acks: acks}, llmp, &sttmock.Provider{}, ttsp)
	defer h.end(t)

	h.stream(t).EmitFinal("Tell me about plans")
	waitFor(t, 2*time.Second, "playback to start", func() bool {
		return h.call.SentBytes() > 0
	})
	waitFor(t, 2*time.Second, "egress clear after tts failure", func() bool {
		return h.call.ClearCount() == 1
	})
	if h.sess.tl.Active(time.Now()) {
		t.Error("playback estimate still active after cleanup")
	}
}

func TestSession_ContinuationMergesUtterances(t *testing.T) {
	llmp := &llmmock.Provider{
		Chunks:     llmmock.StreamText("The basic plan is ten dollars."),
		ChunkDelay: 300 * time.Millisecond,
	}
	h := start(t, Options{}, llmp, &sttmock.Provider{}, &ttsmock.Provider{})
	defer h.end(t)

	s := h.stream(t)
	s.EmitFinal("What's the price")
	waitFor(t, time.Second, "first turn to start", func() bool {
		return len(llmp.Requests()) == 1
	})

	// Caller resumes before any audio played: cheap cancellation plus an
	// acknowledgment, then the utterances merge into one turn.
	s.EmitPartial("what's the price for the basic plan")
	waitFor(t, time.Second, "acknowledgment", func() bool {
		return len(h.call.Sent()) > 0
	})
	if want := len("Uh-huh.") * 8; len(h.call.Sent()[0]) != want {
		t.Errorf("ack chunk = %d bytes, want %d", len(h.call.Sent()[0]), want)
	}

	s.EmitFinal("for the basic plan")
	waitFor(t, 3*time.Second, "merged turn", func() bool {
		return len(llmp.Requests()) == 2
	})

	reqs := llmp.Requests()
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	if last.Content != "What's the price for the basic plan" {
		t.Errorf("merged utterance = %q", last.Content)
	}

	var userEntries []string
	for _, e := range h.sess.History() {
		if e.role == "user" {
			userEntries = append(userEntries, e.text)
		}
	}
	if len(userEntries) != 1 || userEntries[0] != "What's the price for the basic plan" {
		t.Errorf("user history = %v, want single merged entry", userEntries)
	}
}

func TestSession_TranscriptBargeIn(t *testing.T) {
	llmp := &llmmock.Provider{
		Chunks: llmmock.StreamText("We have three plans available today, let me walk you through each one."),
	}
	// 400 bytes per character keeps the playback estimate open for seconds.
	ttsp := &ttsmock.Provider{BytesPerChar: 400}
	h := start(t, Options{}, llmp, &sttmock.Provider{}, ttsp)
	defer h.end(t)

	s := h.stream(t)
	s.EmitFinal("Tell me about plans")
	waitFor(t, 2*time.Second, "playback to start", func() bool {
		return h.call.SentBytes() > 0
	})

	s.EmitFinal("Actually, I just need support.")
	waitFor(t, time.Second, "egress clear", func() bool {
		return h.call.ClearCount() == 1
	})
	waitFor(t, 2*time.Second, "new turn from interrupting text", func() bool {
		return len(llmp.Requests()) == 2
	})

	last := llmp.Requests()[1].Messages
	if got := last[len(last)-1].Content; got != "Actually, I just need support." {
		t.Errorf("interrupting utterance = %q", got)
	}

	var agentInterrupted bool
	for _, e := range h.sess.History() {
		if e.role == "agent" && e.interrupted {
			agentInterrupted = true
		}
	}
	if !agentInterrupted {
		t.Error("cut-off agent reply should be marked interrupted")
	}
}

func TestSession_EnergyBargeIn(t *testing.T) {
	llmp := &llmmock.Provider{
		Chunks: llmmock.StreamText("We have three plans available today, let me walk you through each one."),
	}
	ttsp := &ttsmock.Provider{BytesPerChar: 400}
	h := start(t, Options{}, llmp, &sttmock.Provider{}, ttsp)
	defer h.end(t)

	s := h.stream(t)
	s.EmitFinal("Tell me about plans")
	waitFor(t, 2*time.Second, "playback to start", func() bool {
		return h.call.SentBytes() > 0
	})
	time.Sleep(30 * time.Millisecond) // past the grace window

	// 0x00 decodes to a near-full-scale µ-law sample: loud caller speech.
	h.call.PushAudio(bytes.Repeat([]byte{0x00}, 160))

	waitFor(t, time.Second, "energy barge-in", func() bool {
		return h.call.ClearCount() == 1
	})
}

func TestSession_GreetingDefersCallerSpeech(t *testing.T) {
	llmp := &llmmock.Provider{Chunks: llmmock.StreamText("Happy to help with that.")}
	// 80 bytes per character makes the greeting play for roughly half a second.
	ttsp := &ttsmock.Provider{BytesPerChar: 80}
	greeting := "Thanks for calling Acme, how can I assist you today?"
	h := start(t, Options{Greeting: greeting}, llmp, &sttmock.Provider{}, ttsp)
	defer h.end(t)

	s := h.stream(t)
	waitFor(t, 2*time.Second, "greeting audio", func() bool {
		return h.call.SentBytes() > 0
	})

	s.EmitFinal("Hello?")
	time.Sleep(100 * time.Millisecond)
	if n := len(llmp.Requests()); n != 0 {
		t.Fatalf("turn started during greeting: %d llm requests", n)
	}
	if h.call.ClearCount() != 0 {
		t.Fatal("greeting was cut off")
	}

	// Wait out the greeting playback, then speak again.
	time.Sleep(600 * time.Millisecond)
	s.EmitFinal("Yes, I want info.")

	waitFor(t, 2*time.Second, "merged post-greeting turn", func() bool {
		return len(llmp.Requests()) == 1
	})
	msgs := llmp.Requests()[0].Messages
	if got := msgs[len(msgs)-1].Content; got != "Hello? Yes, I want info." {
		t.Errorf("post-greeting utterance = %q", got)
	}
	if msgs[0].Role != "assistant" || msgs[0].Content != greeting {
		t.Errorf("greeting missing from history: %+v", msgs[0])
	}
}

func TestSession_EchoDropped(t *testing.T) {
	llmp := &llmmock.Provider{Chunks: llmmock.StreamText("Our plans start at thirty dollars.")}
	h := start(t, Options{}, llmp, &sttmock.Provider{}, &ttsmock.Provider{})
	defer h.end(t)

	s := h.stream(t)
	s.EmitFinal("What's the price?")
	waitFor(t, 2*time.Second, "agent reply", func() bool {
		return len(h.sess.History()) == 2
	})

	// The agent's own words come back through STT.
	s.EmitFinal("our plans start at thirty dollars.")
	time.Sleep(150 * time.Millisecond)

	if n := len(llmp.Requests()); n != 1 {
		t.Errorf("echo started a new turn: %d llm requests", n)
	}
	if n := len(h.sess.History()); n != 2 {
		t.Errorf("echo entered history: %d entries", n)
	}
}

// flakyLLM fails its first stream request and succeeds afterwards.
type flakyLLM struct {
	inner llmmock.Provider

	mu    sync.Mutex
	calls int
}

func (f *flakyLLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n == 1 {
		return nil, errors.New("llm unavailable")
	}
	return f.inner.StreamCompletion(ctx, req)
}

func (f *flakyLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return f.inner.Complete(ctx, req)
}

func (f *flakyLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSession_LLMFailureLeavesSessionLive(t *testing.T) {
	llmp := &flakyLLM{inner: llmmock.Provider{Chunks: llmmock.StreamText("Happy to help.")}}
	h := start(t, Options{}, llmp, &sttmock.Provider{}, &ttsmock.Provider{})
	defer h.end(t)

	s := h.stream(t)
	s.EmitFinal("hi there friend")
	waitFor(t, 2*time.Second, "failed turn", func() bool {
		return llmp.callCount() == 1
	})
	time.Sleep(50 * time.Millisecond)
	if h.call.SentBytes() != 0 {
		t.Error("failed turn should produce no audio")
	}

	s.EmitFinal("can you help me")
	waitFor(t, 2*time.Second, "recovered turn", func() bool {
		for _, e := range h.sess.History() {
			if e.role == "agent" {
				return true
			}
		}
		return false
	})

	var roles []string
	for _, e := range h.sess.History() {
		roles = append(roles, e.role)
	}
	if strings.Join(roles, ",") != "user,user,agent" {
		t.Errorf("history roles = %v", roles)
	}
}

// batchSTT implements only the non-streaming provider interface.
type batchSTT struct {
	result stt.Result
}

func (b *batchSTT) Transcribe(context.Context, []byte, stt.StreamConfig) (stt.Result, error) {
	return b.result, nil
}

func TestSession_BatchSTTFallsBackToEnergyWindowing(t *testing.T) {
	llmp := &llmmock.Provider{Chunks: llmmock.StreamText("Hi yourself.")}
	sttp := &batchSTT{result: stt.Result{Text: "hello there", IsFinal: true, Confidence: 0.9}}
	h := start(t, Options{}, llmp, sttp, &ttsmock.Provider{})
	defer h.end(t)

	loud := bytes.Repeat([]byte{0x00}, 160)
	quiet := bytes.Repeat([]byte{0xFF}, 160)
	for i := 0; i < 5; i++ {
		h.call.PushAudio(loud)
	}
	time.Sleep(80 * time.Millisecond) // past the long debounce
	h.call.PushAudio(quiet)

	waitFor(t, 2*time.Second, "batch transcription turn", func() bool {
		return len(llmp.Requests()) == 1
	})
	msgs := llmp.Requests()[0].Messages
	if got := msgs[len(msgs)-1].Content; got != "hello there" {
		t.Errorf("batch utterance = %q", got)
	}
}

func TestSession_StalePendingUtteranceDiscarded(t *testing.T) {
	llmp := &llmmock.Provider{Chunks: llmmock.StreamText("Too late.")}
	h := start(t, Options{}, llmp, &sttmock.Provider{}, &ttsmock.Provider{})
	defer h.end(t)

	h.sess.utterances <- utterance{
		text:        "buffered long ago",
		speechEnd:   time.Now().Add(-time.Minute),
		committedAt: time.Now().Add(-time.Minute),
	}

	time.Sleep(150 * time.Millisecond)
	if n := len(llmp.Requests()); n != 0 {
		t.Errorf("stale utterance started a turn: %d llm requests", n)
	}
	if n := len(h.sess.History()); n != 0 {
		t.Errorf("stale utterance entered history: %d entries", n)
	}
}

func TestSession_DuplicatePartialsSingleContinuation(t *testing.T) {
	llmp := &llmmock.Provider{
		Chunks:     llmmock.StreamText("The basic plan is ten dollars."),
		ChunkDelay: 300 * time.Millisecond,
	}
	h := start(t, Options{}, llmp, &sttmock.Provider{}, &ttsmock.Provider{})
	defer h.end(t)

	s := h.stream(t)
	s.EmitFinal("What's the price")
	waitFor(t, time.Second, "turn start", func() bool {
		return len(llmp.Requests()) == 1
	})

	s.EmitPartial("what's the price for the basic plan")
	s.EmitPartial("what's the price for the basic plan")
	waitFor(t, time.Second, "acknowledgment", func() bool {
		return len(h.call.Sent()) > 0
	})
	time.Sleep(50 * time.Millisecond)

	if n := len(h.call.Sent()); n != 1 {
		t.Errorf("duplicate partial produced extra output: %d chunks", n)
	}
}
