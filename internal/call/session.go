// Package call contains the per-call orchestrator: the turn-taking state
// machine that mediates between the caller's audio, the STT, LLM, and TTS
// providers, and the telephony transport.
//
// One [Session] exists per live phone call. Inside a session, at most one
// turn is generating or speaking at any instant. The session runs a small set
// of goroutines connected by channels: an audio pump feeding STT and the
// energy-based barge-in detector, a transcript loop debouncing STT results
// into consolidated utterances, and a turn loop driving the LLM-to-TTS
// pipeline for each utterance. Sessions share nothing with each other.
package call

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/filler"
	"github.com/voicewire/voicewire/internal/observe"
	"github.com/voicewire/voicewire/internal/prompt"
	"github.com/voicewire/voicewire/internal/recording"
	"github.com/voicewire/voicewire/internal/thoughts"
	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/provider/llm"
	"github.com/voicewire/voicewire/pkg/provider/stt"
	"github.com/voicewire/voicewire/pkg/provider/tts"
	"github.com/voicewire/voicewire/pkg/telephony"
)

// ackCooldown spaces out "uh-huh" style acknowledgments on continuations.
const ackCooldown = 3 * time.Second

// minPlaybackTranscript is the shortest transcript (in runes) accepted while
// agent audio is playing; shorter results are discarded as corrupt.
const minPlaybackTranscript = 3

// defaultAckPhrases are used when no acknowledgment phrases are configured.
var defaultAckPhrases = []string{"Uh-huh.", "Right."}

// Pipeline bundles the three model providers a session talks to. STT and TTS
// may additionally implement their streaming interfaces; the session detects
// that at start and picks the code path accordingly.
type Pipeline struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
}

// Options configures a Session.
type Options struct {
	// Turn holds the timing knobs. Zero values get production defaults.
	Turn config.TurnConfig

	// Persona is the agent's system-prompt identity.
	Persona string

	// Greeting is spoken as soon as the call connects. Empty disables it.
	Greeting string

	// Voice is the TTS voice used for all agent speech.
	Voice tts.VoiceProfile

	// Language is the STT recognition language.
	Language string

	// FillerPhrases override the generic filler list when non-empty. Only
	// consulted when no shared Fillers bank is supplied.
	FillerPhrases []string

	// CallerName, when known, unlocks the personalised filler templates.
	CallerName string

	// AckPhrases are played on a continuation. Empty uses a built-in set.
	// Only consulted when no shared Acks bank is supplied.
	AckPhrases []string

	// Fillers is the filler bank prewarmed once at startup and shared across
	// calls. Nil makes the session synthesize its own at call setup.
	Fillers *filler.Bank

	// Acks is the shared acknowledgment bank. Nil behaves like Fillers.
	Acks *filler.Bank

	// ThoughtsInterval enables the background reflection loop when positive.
	ThoughtsInterval time.Duration

	// Metrics defaults to the process-wide instance.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Recorder captures call artifacts. Nil disables recording.
	Recorder *recording.Recorder
}

// utterance is one consolidated caller statement handed to the turn loop.
type utterance struct {
	text        string
	speechEnd   time.Time
	committedAt time.Time
}

// historyEntry is one line of conversation history.
type historyEntry struct {
	role        string // "user" or "agent"
	text        string
	at          time.Time
	interrupted bool
}

// Session orchestrates one phone call.
type Session struct {
	call telephony.Call
	pipe Pipeline
	opts Options

	logger  *slog.Logger
	metrics *observe.Metrics
	rec     *recording.Recorder

	agg      aggregator
	tl       timeline
	echo     *echoRegister
	fillers  *filler.Cache
	acks     *filler.Cache
	stats    sessionStats
	reflect  *thoughts.Runner
	handle   stt.StreamHandle
	canceled context.CancelFunc

	utterances chan utterance

	mu          sync.Mutex
	history     []historyEntry
	cur         *turn
	nextTurnID  int
	greeting    bool
	greetingBuf []string
	seenPartial bool
}

// NewSession creates a session for an accepted call. Run must be called to
// start it.
func NewSession(c telephony.Call, pipe Pipeline, opts Options) *Session {
	opts.Turn.ApplyDefaults()
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	info := c.Info()
	return &Session{
		call:       c,
		pipe:       pipe,
		opts:       opts,
		logger:     opts.Logger.With("call_id", info.CallID),
		metrics:    opts.Metrics,
		rec:        opts.Recorder,
		echo:       newEchoRegister(opts.Turn.EchoThreshold),
		utterances: make(chan utterance, 4),
		greeting:   opts.Greeting != "",
	}
}

// Run drives the call until the caller hangs up or ctx is cancelled. It
// always returns after the call has ended and all session goroutines have
// stopped.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.canceled = cancel

	s.prepareSpeech(ctx)

	if sp, ok := s.pipe.STT.(stt.StreamingProvider); ok {
		handle, err := sp.StartStream(ctx, s.streamConfig())
		if err != nil {
			s.metrics.RecordProviderError(ctx, "stt", "stream")
			return fmt.Errorf("call: start stt stream: %w", err)
		}
		s.handle = handle
		defer handle.Close()
	}

	if s.opts.ThoughtsInterval > 0 {
		s.reflect = thoughts.NewRunner(s.pipe.LLM, s.Transcript, s.opts.ThoughtsInterval,
			thoughts.WithLogger(s.logger),
			thoughts.WithNoteFunc(func(note string) {
				s.rec.AddThought(recording.Thought{Text: note, At: time.Now()})
			}))
		go s.reflect.Run(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.audioPump(gctx) })
	g.Go(func() error { return s.eventLoop(gctx) })
	if s.handle != nil {
		g.Go(func() error { return s.transcriptLoop(gctx) })
	}
	g.Go(func() error { return s.turnLoop(gctx) })

	err := g.Wait()
	s.flushDeferredSpeech()
	if closeErr := s.rec.Close(); closeErr != nil {
		s.logger.Warn("closing recorder", "err", closeErr)
	}
	turns, avg, peak := s.stats.Summary()
	s.logger.Info("call ended", "turns", turns, "avg_ttfa", avg, "peak_ttfa", peak)
	return err
}

// Transcript renders the conversation history, one line per utterance.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sb strings.Builder
	for _, e := range s.history {
		role := "caller"
		if e.role == "agent" {
			role = "agent"
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(e.text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// History returns a copy of the conversation history.
func (s *Session) History() []historyEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]historyEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Stats returns the session's rolling turn statistics.
func (s *Session) Stats() (turns int, avgTTFA, peakTTFA time.Duration) {
	return s.stats.Summary()
}

// ---- startup ----

// prepareSpeech builds the session's filler and acknowledgment caches. With
// shared banks this is instant: only the caller-name templates need
// synthesis, and that runs alongside the greeting. Without banks the session
// synthesizes its own lists here; failures degrade the session rather than
// failing it.
func (s *Session) prepareSpeech(ctx context.Context) {
	fillerBank := s.opts.Fillers
	if fillerBank == nil {
		lib := filler.DefaultLibrary()
		if len(s.opts.FillerPhrases) > 0 {
			lib.Generic = s.opts.FillerPhrases
		}
		var err error
		fillerBank, err = filler.Prewarm(ctx, s.pipe.TTS, s.opts.Voice, lib, s.opts.Turn.FillerCooldown)
		if err != nil {
			s.logger.Warn("filler prewarm failed, fillers disabled", "err", err)
		}
	}
	if fillerBank != nil {
		s.fillers = fillerBank.NewCache()
		if s.opts.CallerName != "" {
			go s.fillers.Personalize(ctx, s.pipe.TTS, s.opts.Voice, s.opts.CallerName)
		}
	}

	ackBank := s.opts.Acks
	if ackBank == nil {
		phrases := s.opts.AckPhrases
		if len(phrases) == 0 {
			phrases = defaultAckPhrases
		}
		var err error
		ackBank, err = filler.PrewarmPhrases(ctx, s.pipe.TTS, s.opts.Voice, phrases, ackCooldown)
		if err != nil {
			s.logger.Warn("acknowledgment prewarm failed, acks disabled", "err", err)
		}
	}
	if ackBank != nil {
		s.acks = ackBank.NewCache()
	}
}

func (s *Session) streamConfig() stt.StreamConfig {
	lang := s.opts.Language
	if lang == "" {
		lang = "en-US"
	}
	return stt.StreamConfig{SampleRate: 8000, Encoding: "mulaw", Language: lang}
}

// ---- inbound audio ----

// audioPump consumes caller audio: records it, feeds STT, and runs the
// energy-based barge-in check on every frame. With a batch-only STT provider
// it additionally buffers speech and transcribes on silence.
func (s *Session) audioPump(ctx context.Context) error {
	var (
		batchBuf  []byte
		lastVoice time.Time
		inFlight  sync.WaitGroup
	)
	defer inFlight.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-s.call.Audio():
			if !ok {
				s.canceled()
				return nil
			}
			now := time.Now()
			s.rec.WriteCallerAudio(frame)

			rms := audio.RMSULaw(frame)
			loud := rms > s.opts.Turn.EnergyThreshold
			if loud {
				lastVoice = now
			}

			if loud && s.tl.Active(now) && !s.isGreeting() &&
				now.Sub(s.tl.Start()) > s.opts.Turn.BargeInGrace {
				s.triggerBargeIn(ctx, "energy")
			}

			if s.handle != nil {
				if err := s.handle.SendAudio(frame); err != nil {
					s.logger.Warn("stt stream write failed", "err", err)
				}
				continue
			}

			// Batch mode: collect speech, transcribe after silence.
			if loud || len(batchBuf) > 0 {
				batchBuf = append(batchBuf, frame...)
			}
			if len(batchBuf) > 0 && !loud && now.Sub(lastVoice) > s.opts.Turn.DebounceLong {
				buf := batchBuf
				batchBuf = nil
				inFlight.Add(1)
				go func() {
					defer inFlight.Done()
					s.transcribeBatch(ctx, buf)
				}()
			}
		}
	}
}

func (s *Session) transcribeBatch(ctx context.Context, buf []byte) {
	res, err := s.pipe.STT.Transcribe(ctx, buf, s.streamConfig())
	if err != nil {
		s.metrics.RecordProviderError(ctx, "stt", "batch")
		s.logger.Warn("batch transcription failed", "err", err)
		return
	}
	s.metrics.RecordProviderRequest(ctx, "stt", "batch", "ok")
	s.onFinal(ctx, res.Text, time.Now())
	s.commitPending(time.Now())
}

// eventLoop consumes non-media carrier events.
func (s *Session) eventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.call.Events():
			if !ok {
				s.canceled()
				return nil
			}
			switch ev.Kind {
			case telephony.EventStop:
				s.logger.Info("carrier ended media stream")
				s.canceled()
				return nil
			case telephony.EventMark:
				s.logger.Debug("mark played out", "name", ev.Name)
			case telephony.EventDTMF:
				s.logger.Info("dtmf received", "digit", ev.Name)
			}
		}
	}
}

// ---- transcripts ----

// transcriptLoop consumes streaming STT results and drives the debounce
// timer that turns finals into consolidated utterances.
func (s *Session) transcriptLoop(ctx context.Context) error {
	debounce := time.NewTimer(time.Hour)
	if !debounce.Stop() {
		<-debounce.C
	}
	armed := false

	arm := func() {
		if armed && !debounce.Stop() {
			select {
			case <-debounce.C:
			default:
			}
		}
		debounce.Reset(s.debounceInterval())
		armed = true
	}

	partials := s.handle.Partials()
	finals := s.handle.Finals()
	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			s.onPartial(ctx, r.Text)
		case r, ok := <-finals:
			if !ok {
				s.canceled()
				return nil
			}
			if s.onFinal(ctx, r.Text, time.Now()) {
				arm()
			}
		case <-debounce.C:
			armed = false
			s.commitPending(time.Now())
		}
	}
}

// debounceInterval adapts to the STT provider: short when live partials show
// that voice activity detection happens upstream, long otherwise.
func (s *Session) debounceInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seenPartial {
		return s.opts.Turn.DebounceShort
	}
	return s.opts.Turn.DebounceLong
}

// onFinal handles a final transcript. Returns whether the debounce timer
// should be (re)armed.
func (s *Session) onFinal(ctx context.Context, text string, now time.Time) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		s.metrics.TranscriptionErrors.Add(ctx, 1)
		return false
	}
	// Clipped fragments during playback are recognition junk, not speech.
	if len([]rune(text)) < minPlaybackTranscript && s.tl.Active(now) {
		s.metrics.TranscriptionErrors.Add(ctx, 1)
		s.logger.Debug("transcript dropped as corrupt fragment", "text", text)
		return false
	}
	if s.echo.IsEcho(text, now) {
		s.metrics.EchoDrops.Add(ctx, 1)
		s.logger.Debug("transcript dropped as echo", "text", text)
		return false
	}

	// A final during active playback is the strongest interruption signal.
	if s.tl.Active(now) && !s.isGreeting() {
		s.triggerBargeIn(ctx, "transcript")
	}

	return s.agg.AddFinal(text, now)
}

// onPartial handles an interim transcript: continuation detection before
// playback, barge-in salvage during playback.
func (s *Session) onPartial(ctx context.Context, text string) {
	s.mu.Lock()
	s.seenPartial = true
	s.mu.Unlock()

	fresh := s.agg.NotePartial(text)
	if !fresh {
		return
	}

	cur := s.current()
	if cur == nil {
		return
	}
	if cur.PlaybackStarted() {
		s.agg.NoteBargeInPartial(text)
		return
	}
	if cur.Phase() == PhaseGenerating && cur.continuation.CompareAndSwap(false, true) {
		s.onContinuation(ctx, cur)
	}
}

// onContinuation cancels the current turn cheaply: the pending response is
// dropped before any audio played, the turn's utterance is pushed back into
// the aggregator to merge with the caller's resumed speech, and a short
// acknowledgment tells the caller the agent is still listening.
func (s *Session) onContinuation(ctx context.Context, cur *turn) {
	s.logger.Debug("continuation detected, cancelling pending response", "turn", cur.id)
	cur.Cancel(true)
	s.dropLastUserEntry(cur.userText)
	s.agg.Prepend(cur.userText)

	if s.acks != nil {
		if phrase, aud, ok := s.acks.Next(filler.Generic, time.Now()); ok {
			s.logger.Debug("acknowledgment", "phrase", phrase)
			if err := s.call.SendAudio(ctx, aud); err != nil {
				s.logger.Warn("acknowledgment send failed", "err", err)
			}
		}
	}
}

// commitPending hands the consolidated utterance to the turn loop. During
// the greeting the text is deferred instead: callers talk over greetings
// without meaning to interrupt.
func (s *Session) commitPending(now time.Time) {
	if !s.agg.HasPending() {
		return
	}
	text, speechEnd := s.agg.Take()
	if strings.TrimSpace(text) == "" {
		return
	}

	s.mu.Lock()
	if s.greeting {
		s.greetingBuf = append(s.greetingBuf, text)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.utterances <- utterance{text: text, speechEnd: speechEnd, committedAt: now}:
	default:
		s.logger.Warn("utterance queue full, dropping", "text", text)
	}
}

// ---- turn loop ----

func (s *Session) turnLoop(ctx context.Context) error {
	s.playGreeting(ctx)

	for {
		select {
		case <-ctx.Done():
			s.salvageBargeInPartial()
			return nil
		case u := <-s.utterances:
			if wait := time.Since(u.committedAt); wait > s.opts.Turn.PendingTimeout {
				s.logger.Info("discarding stale pending utterance",
					"text", u.text, "waited", wait)
				s.metrics.RecordTurn(ctx, "abandoned")
				continue
			}
			s.runTurn(ctx, u)
		}
	}
}

// salvageBargeInPartial commits the last partial heard during playback so a
// caller hanging up mid-interruption still leaves their words in the record.
func (s *Session) salvageBargeInPartial() {
	if text := s.agg.TakeBargeInPartial(); text != "" {
		s.appendHistory(historyEntry{role: "user", text: text, at: time.Now()})
	}
}

// playGreeting speaks the configured greeting with barge-in disabled, then
// releases any caller speech deferred while it played.
func (s *Session) playGreeting(ctx context.Context) {
	if s.opts.Greeting == "" {
		s.endGreeting()
		return
	}

	aud, err := s.pipe.TTS.Synthesize(ctx, s.opts.Greeting, s.opts.Voice)
	if err != nil {
		s.metrics.RecordProviderError(ctx, "tts", "synthesize")
		s.logger.Warn("greeting synthesis failed", "err", err)
		s.endGreeting()
		return
	}

	now := time.Now()
	s.tl.Append(len(aud), now)
	s.rec.WriteAgentAudio(aud)
	if err := s.call.SendAudio(ctx, aud); err != nil {
		s.logger.Warn("greeting send failed", "err", err)
	}
	s.echo.Add(s.opts.Greeting, now)
	s.appendHistory(historyEntry{role: "agent", text: s.opts.Greeting, at: now})
	s.rec.AddEntry(recording.Entry{Role: "agent", Text: s.opts.Greeting, At: now})

	s.waitPlayback(ctx, nil)
	s.endGreeting()
}

// flushDeferredSpeech preserves caller speech that was buffered during the
// greeting when the call ends before the greeting finishes. The text never
// reached a turn, so it would otherwise be absent from the transcript.
func (s *Session) flushDeferredSpeech() {
	s.mu.Lock()
	deferred := strings.Join(s.greetingBuf, " ")
	s.greetingBuf = nil
	s.mu.Unlock()
	if deferred == "" {
		return
	}
	now := time.Now()
	s.appendHistory(historyEntry{role: "user", text: deferred, at: now})
	s.rec.AddEntry(recording.Entry{Role: "user", Text: deferred, At: now})
}

func (s *Session) endGreeting() {
	s.mu.Lock()
	deferred := strings.Join(s.greetingBuf, " ")
	s.greetingBuf = nil
	s.greeting = false
	s.mu.Unlock()
	if deferred != "" {
		s.agg.Prepend(deferred)
	}
}

func (s *Session) isGreeting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.greeting
}

// runTurn executes one user-to-agent exchange: LLM streaming, sentence
// segmentation, serialized TTS, and paced emission, with cooperative
// cancellation observed at every stage.
func (s *Session) runTurn(ctx context.Context, u utterance) {
	s.mu.Lock()
	s.nextTurnID++
	t := newTurn(s.nextTurnID, u.text)
	s.cur = t
	s.mu.Unlock()
	defer s.finishTurn(ctx, t)

	t.clock.speechEnd = u.speechEnd
	t.clock.committed = u.committedAt
	s.tl.Reset()

	now := time.Now()
	s.appendHistory(historyEntry{role: "user", text: u.text, at: now})
	s.rec.AddEntry(recording.Entry{Role: "user", Text: u.text, At: now})
	s.logger.Info("turn started", "turn", t.id, "text", u.text)

	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()

	fillerStop := make(chan struct{})
	defer close(fillerStop)
	go s.scheduleFiller(turnCtx, t, filler.Classify(t.id, u.text), fillerStop)

	req := llm.CompletionRequest{
		SystemPrompt: s.composePrompt(),
		Messages:     s.historyMessages(),
	}

	t.clock.set(&t.clock.llmStart, time.Now())
	chunks, err := s.pipe.LLM.StreamCompletion(turnCtx, req)
	if err != nil {
		s.metrics.RecordProviderError(ctx, "llm", "stream")
		s.logger.Error("llm stream failed, abandoning turn", "turn", t.id, "err", err)
		t.failed.Store(true)
		return
	}
	s.metrics.RecordProviderRequest(ctx, "llm", "stream", "ok")

	sentences := make(chan string, 8)
	playbackDone := make(chan struct{})
	go s.playbackWorker(turnCtx, t, sentences, playbackDone)

	seg := newSegmenter(s.opts.Turn.SentenceMin, s.opts.Turn.SentenceMax)
	sawToken := false
	for ch := range chunks {
		if t.Cancelled() {
			cancelTurn()
			break
		}
		if ch.FinishReason == "error" {
			s.metrics.RecordProviderError(ctx, "llm", "stream")
			s.logger.Error("llm stream errored mid-turn", "turn", t.id, "detail", ch.Text)
			t.failed.Store(true)
			break
		}
		if ch.Text == "" {
			continue
		}
		if !sawToken {
			sawToken = true
			t.clock.set(&t.clock.llmFirstToken, time.Now())
		}
		for _, sentence := range seg.Push(ch.Text) {
			select {
			case sentences <- sentence:
			case <-turnCtx.Done():
			}
		}
	}
	if rest := seg.Flush(); rest != "" && !t.Cancelled() && !t.failed.Load() {
		select {
		case sentences <- rest:
		case <-turnCtx.Done():
		}
	}
	close(sentences)
	<-playbackDone

	if !t.Cancelled() {
		s.waitPlayback(ctx, t)
	}
}

// finishTurn records the turn's outcome, metrics, and history, and clears
// the current-turn slot. It runs on every exit path of runTurn.
func (s *Session) finishTurn(ctx context.Context, t *turn) {
	t.clock.set(&t.clock.playbackEnd, time.Now())
	t.setPhase(PhaseDone)

	delivered := t.deliveredText()
	outcome := "completed"
	switch {
	case t.failed.Load() || (delivered == "" && !t.Cancelled()):
		outcome = "abandoned"
	case t.Cancelled():
		outcome = "interrupted"
	}

	if delivered != "" {
		now := time.Now()
		interrupted := t.Cancelled() && t.PlaybackStarted()
		s.appendHistory(historyEntry{role: "agent", text: delivered, at: now, interrupted: interrupted})
		s.rec.AddEntry(recording.Entry{Role: "agent", Text: delivered, At: now, Interrupted: interrupted})
	}

	b := t.clock.breakdown()
	s.stats.record(b)
	if b.TimeToFirstAudio > 0 {
		s.metrics.TimeToFirstAudio.Record(ctx, b.TimeToFirstAudio.Seconds())
	}
	if b.STT > 0 {
		s.metrics.STTWaitDuration.Record(ctx, b.STT.Seconds())
	}
	if b.LLM > 0 {
		s.metrics.LLMFirstTokenDuration.Record(ctx, b.LLM.Seconds())
	}
	if b.TTS > 0 {
		s.metrics.TTSFirstAudioDuration.Record(ctx, b.TTS.Seconds())
	}
	if b.Total > 0 {
		s.metrics.TurnDuration.Record(ctx, b.Total.Seconds())
	}
	if stage := b.bottleneck(); stage != "none" {
		s.metrics.RecordBottleneck(ctx, stage)
	}
	s.metrics.RecordTurn(ctx, outcome)
	s.logger.Info("turn finished", "turn", t.id, "outcome", outcome,
		"ttfa", b.TimeToFirstAudio, "total", b.Total)

	s.mu.Lock()
	if s.cur == t {
		s.cur = nil
	}
	s.mu.Unlock()
}

// scheduleFiller plays a cached filler phrase matched to the turn, masking
// generation latency. With a zero FillerDelay it fires as soon as the
// utterance is accepted; a configured delay turns it into a slow-response
// fallback instead.
func (s *Session) scheduleFiller(ctx context.Context, t *turn, cat filler.Category, stop <-chan struct{}) {
	if s.fillers == nil {
		return
	}
	if d := s.opts.Turn.FillerDelay; d > 0 {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-time.After(d):
		}
	}
	if t.Cancelled() || t.PlaybackStarted() {
		return
	}
	now := time.Now()
	phrase, aud, ok := s.fillers.Next(cat, now)
	if !ok {
		return
	}
	s.logger.Debug("filler", "turn", t.id, "category", cat.String(), "phrase", phrase)
	t.clock.set(&t.clock.fillerAt, now)
	t.markFirstAudio()
	s.tl.Append(len(aud), now)
	s.rec.WriteAgentAudio(aud)
	if err := s.call.SendAudio(ctx, aud); err != nil {
		s.logger.Warn("filler send failed", "err", err)
	}
	s.echo.Add(phrase, now)
	s.metrics.Fillers.Add(ctx, 1)
}

// playbackWorker drains the sentence queue, synthesizing and emitting one
// sentence at a time. Cancellation drains the remaining queue without
// synthesizing.
func (s *Session) playbackWorker(ctx context.Context, t *turn, sentences <-chan string, done chan<- struct{}) {
	defer close(done)
	streamer, canStream := s.pipe.TTS.(tts.StreamingProvider)

	for sentence := range sentences {
		if t.Cancelled() {
			continue
		}
		t.clock.set(&t.clock.ttsStart, time.Now())

		var (
			chunks <-chan []byte
			err    error
		)
		if canStream {
			in := make(chan string, 1)
			in <- sentence
			close(in)
			chunks, err = streamer.SynthesizeStream(ctx, in, s.opts.Voice)
		} else {
			var aud []byte
			aud, err = s.pipe.TTS.Synthesize(ctx, sentence, s.opts.Voice)
			if err == nil {
				one := make(chan []byte, 1)
				one <- aud
				close(one)
				chunks = one
			}
		}
		if err != nil {
			s.metrics.RecordProviderError(ctx, "tts", "synthesize")
			s.logger.Error("tts failed, abandoning rest of turn", "turn", t.id, "err", err)
			t.failed.Store(true)
			t.shouldCancel.Store(true)
			// Audio from earlier sentences may still be queued at the
			// carrier; cut it off the way a barge-in does.
			if s.tl.Active(time.Now()) {
				s.tl.Reset()
				if err := s.call.ClearEgress(ctx); err != nil {
					s.logger.Warn("clearing egress buffer failed", "err", err)
				}
			}
			continue
		}
		s.metrics.RecordProviderRequest(ctx, "tts", "synthesize", "ok")

		delivered := false
		for chunk := range chunks {
			if t.Cancelled() {
				continue
			}
			s.emitAudio(ctx, t, chunk)
			delivered = true
		}
		if delivered {
			s.echo.Add(sentence, time.Now())
			t.addDelivered(sentence)
		}
	}
}

// emitAudio hands one audio chunk to the carrier and updates the playback
// timeline.
func (s *Session) emitAudio(ctx context.Context, t *turn, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	now := time.Now()
	if t.markFirstAudio() {
		s.logger.Debug("first audio for turn", "turn", t.id)
	}
	t.clock.set(&t.clock.ttsFirstAudio, now)
	t.clock.set(&t.clock.playbackStart, now)
	s.tl.Append(len(chunk), now)
	s.rec.WriteAgentAudio(chunk)
	if err := s.call.SendAudio(ctx, chunk); err != nil {
		s.logger.Warn("audio send failed", "err", err)
	}
}

// waitPlayback blocks until the playback estimate passes, the turn is
// cancelled, or ctx ends. t may be nil for the greeting.
func (s *Session) waitPlayback(ctx context.Context, t *turn) {
	for {
		now := time.Now()
		remaining := s.tl.End().Sub(now)
		if remaining <= 0 {
			return
		}
		if t != nil && t.Cancelled() {
			return
		}
		step := remaining
		if step > 50*time.Millisecond {
			step = 50 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(step):
		}
	}
}

// ---- barge-in ----

// triggerBargeIn cuts off agent playback: mark the turn cancelled, zero the
// playback estimate, and clear the carrier's egress buffer so the caller
// stops hearing the agent within one network round-trip.
func (s *Session) triggerBargeIn(ctx context.Context, trigger string) {
	// Greeting playback has no turn; callers of this function already skip
	// the greeting window.
	cur := s.current()
	if cur == nil || cur.Cancelled() {
		return
	}
	if !s.tl.Active(time.Now()) {
		return
	}

	s.logger.Info("barge-in", "turn", cur.id, "trigger", trigger)
	cur.Cancel(false)
	s.tl.Reset()
	if err := s.call.ClearEgress(ctx); err != nil {
		s.logger.Warn("clearing egress buffer failed", "err", err)
	}
	s.metrics.RecordBargeIn(ctx, trigger)
}

// ---- helpers ----

func (s *Session) current() *turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *Session) appendHistory(e historyEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, e)
}

// dropLastUserEntry removes the most recent history entry if it is the user
// text of a turn cancelled by a continuation; the merged utterance will be
// re-appended when the merged turn runs.
func (s *Session) dropLastUserEntry(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.history)
	if n > 0 && s.history[n-1].role == "user" && s.history[n-1].text == text {
		s.history = s.history[:n-1]
	}
}

func (s *Session) composePrompt() string {
	var reflections []string
	if s.reflect != nil {
		reflections = s.reflect.Notes()
	}
	return prompt.Compose(s.opts.Persona, prompt.CallContext{
		CallerNumber: s.call.Info().From,
		Reflections:  reflections,
	})
}

func (s *Session) historyMessages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, 0, len(s.history))
	for _, e := range s.history {
		role := "user"
		if e.role == "agent" {
			role = "assistant"
		}
		out = append(out, llm.Message{Role: role, Content: e.text})
	}
	return out
}
