package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/voicewire/voicewire/internal/filler"
	"github.com/voicewire/voicewire/internal/observe"
	"github.com/voicewire/voicewire/internal/recording"
	"github.com/voicewire/voicewire/pkg/telephony"
)

// Manager adapts accepted carrier calls into running sessions and tracks the
// live set. Its HandleCall method is the telephony transport's call handler.
type Manager struct {
	pipe         Pipeline
	session      Options
	recordingDir string
	logger       *slog.Logger
	metrics      *observe.Metrics

	fillerBank *filler.Bank
	ackBank    *filler.Bank

	mu       sync.Mutex
	sessions map[string]*Session
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Pipeline is shared by all sessions.
	Pipeline Pipeline

	// Session is the per-session option template.
	Session Options

	// RecordingDir, when non-empty, enables per-call recording under it.
	RecordingDir string
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Session.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Session.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Manager{
		pipe:         cfg.Pipeline,
		session:      cfg.Session,
		recordingDir: cfg.RecordingDir,
		logger:       logger,
		metrics:      metrics,
		sessions:     make(map[string]*Session),
	}
}

// Prewarm synthesizes the shared filler and acknowledgment audio once for
// the whole process, before any call is accepted. Sessions reuse the result,
// so call setup never waits on synthesis. Failures disable the affected
// phrases rather than erroring.
func (m *Manager) Prewarm(ctx context.Context) {
	lib := filler.DefaultLibrary()
	if len(m.session.FillerPhrases) > 0 {
		lib.Generic = m.session.FillerPhrases
	}
	bank, err := filler.Prewarm(ctx, m.pipe.TTS, m.session.Voice, lib, m.session.Turn.FillerCooldown)
	if err != nil {
		m.logger.Warn("filler prewarm failed, fillers disabled", "err", err)
	} else {
		m.fillerBank = bank
	}

	phrases := m.session.AckPhrases
	if len(phrases) == 0 {
		phrases = defaultAckPhrases
	}
	acks, err := filler.PrewarmPhrases(ctx, m.pipe.TTS, m.session.Voice, phrases, ackCooldown)
	if err != nil {
		m.logger.Warn("acknowledgment prewarm failed, acks disabled", "err", err)
	} else {
		m.ackBank = acks
	}
}

// HandleCall runs a session for one accepted call and blocks until the call
// ends. It satisfies the telephony transport's call handler signature.
func (m *Manager) HandleCall(ctx context.Context, c telephony.Call) {
	id := c.Info().CallID
	if id == "" {
		id = uuid.NewString()
	}

	opts := m.session
	opts.Fillers = m.fillerBank
	opts.Acks = m.ackBank
	if m.recordingDir != "" {
		rec, err := recording.New(m.recordingDir, id)
		if err != nil {
			m.logger.Warn("recording unavailable for call", "call_id", id, "err", err)
		} else {
			opts.Recorder = rec
		}
	}

	sess := NewSession(c, m.pipe, opts)
	m.register(id, sess)
	m.metrics.ActiveCalls.Add(ctx, 1)
	defer func() {
		m.metrics.ActiveCalls.Add(ctx, -1)
		m.unregister(id)
	}()

	if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("session ended with error", "call_id", id, "err", err)
	}
}

// Session looks up a live session by call id.
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) register(id string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		m.logger.Warn("duplicate call id, replacing session", "call_id", id)
	}
	m.sessions[id] = s
}

func (m *Manager) unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}
