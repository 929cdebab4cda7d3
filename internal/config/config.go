// Package config provides the configuration schema, loader, and provider
// registry for the Voicewire call orchestrator.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// durationValue parses YAML scalars like "150ms" into a time.Duration.
// yaml.v3 has no native duration support.
type durationValue time.Duration

func (d *durationValue) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"150ms\", got %q", value.Value)
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = durationValue(parsed)
	return nil
}

// LogLevel controls log verbosity for the Voicewire server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Voicewire.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telephony TelephonyConfig `yaml:"telephony"`
	Providers ProvidersConfig `yaml:"providers"`
	Agent     AgentConfig     `yaml:"agent"`
	Turn      TurnConfig      `yaml:"turn"`
	Recording RecordingConfig `yaml:"recording"`
	Thoughts  ThoughtsConfig  `yaml:"thoughts"`
}

// ServerConfig holds network and logging settings for the Voicewire server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// PublicURL is the externally reachable base URL Twilio uses to reach the
	// webhook and media stream endpoints (e.g., "https://voice.example.com").
	PublicURL string `yaml:"public_url"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// TelephonyConfig holds carrier credentials.
type TelephonyConfig struct {
	// Provider selects the carrier integration. Currently "twilio".
	Provider string `yaml:"provider"`

	// AccountSID is the Twilio account identifier.
	AccountSID string `yaml:"account_sid"`

	// AuthToken is the Twilio API auth token.
	AuthToken string `yaml:"auth_token"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`

	// Fallbacks list alternative providers tried, in order, when the primary
	// fails. Failover happens between turns, never mid-turn.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// Supports ${ENV_VAR} expansion.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// AgentConfig describes the agent persona and voice for calls.
type AgentConfig struct {
	// SystemPrompt is the persona and instructions injected into every LLM
	// request.
	SystemPrompt string `yaml:"system_prompt"`

	// Greeting is spoken as soon as the call connects. Empty disables the
	// greeting.
	Greeting string `yaml:"greeting"`

	// VoiceID is the provider-specific TTS voice identifier.
	VoiceID string `yaml:"voice_id"`

	// Language is the BCP-47 recognition language (e.g., "en-US").
	Language string `yaml:"language"`

	// Fillers are short phrases played while the caller waits on a slow
	// response. Empty uses a built-in set.
	Fillers []string `yaml:"fillers"`
}

// TurnConfig holds the turn-taking timing knobs. Zero values fall back to the
// defaults applied by [ApplyDefaults].
type TurnConfig struct {
	// DebounceShort is the silence window before committing an utterance when
	// the STT provider delivers live partials.
	DebounceShort time.Duration `yaml:"debounce_short"`

	// DebounceLong is the silence window used without live partials.
	DebounceLong time.Duration `yaml:"debounce_long"`

	// BargeInGrace is the span after agent playback starts during which
	// energy-based interruption detection is suppressed. Transcript-based
	// detection is always active.
	BargeInGrace time.Duration `yaml:"barge_in_grace"`

	// EnergyThreshold is the minimum RMS level (0..1) of caller audio that
	// counts as speech during agent playback.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// FillerDelay postpones the per-turn filler phrase. Zero plays it as soon
	// as the utterance is accepted, masking LLM latency from the first moment.
	FillerDelay time.Duration `yaml:"filler_delay"`

	// FillerCooldown is the minimum spacing between filler phrases.
	FillerCooldown time.Duration `yaml:"filler_cooldown"`

	// PendingTimeout discards a buffered caller utterance that could not be
	// scheduled within this span.
	PendingTimeout time.Duration `yaml:"pending_timeout"`

	// SentenceMin is the minimum segment length in characters before a
	// sentence boundary is honoured.
	SentenceMin int `yaml:"sentence_min"`

	// SentenceMax force-splits a segment that reaches this length without a
	// boundary.
	SentenceMax int `yaml:"sentence_max"`

	// EchoThreshold is the Jaro-Winkler similarity above which a caller
	// transcript is discarded as an echo of agent speech.
	EchoThreshold float64 `yaml:"echo_threshold"`
}

// UnmarshalYAML decodes the timing knobs, accepting human-readable duration
// strings.
func (t *TurnConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		DebounceShort   durationValue `yaml:"debounce_short"`
		DebounceLong    durationValue `yaml:"debounce_long"`
		BargeInGrace    durationValue `yaml:"barge_in_grace"`
		EnergyThreshold float64       `yaml:"energy_threshold"`
		FillerDelay     durationValue `yaml:"filler_delay"`
		FillerCooldown  durationValue `yaml:"filler_cooldown"`
		PendingTimeout  durationValue `yaml:"pending_timeout"`
		SentenceMin     int           `yaml:"sentence_min"`
		SentenceMax     int           `yaml:"sentence_max"`
		EchoThreshold   float64       `yaml:"echo_threshold"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*t = TurnConfig{
		DebounceShort:   time.Duration(raw.DebounceShort),
		DebounceLong:    time.Duration(raw.DebounceLong),
		BargeInGrace:    time.Duration(raw.BargeInGrace),
		EnergyThreshold: raw.EnergyThreshold,
		FillerDelay:     time.Duration(raw.FillerDelay),
		FillerCooldown:  time.Duration(raw.FillerCooldown),
		PendingTimeout:  time.Duration(raw.PendingTimeout),
		SentenceMin:     raw.SentenceMin,
		SentenceMax:     raw.SentenceMax,
		EchoThreshold:   raw.EchoThreshold,
	}
	return nil
}

// ApplyDefaults fills zero-valued timing knobs with production defaults.
func (t *TurnConfig) ApplyDefaults() {
	if t.DebounceShort == 0 {
		t.DebounceShort = 150 * time.Millisecond
	}
	if t.DebounceLong == 0 {
		t.DebounceLong = 800 * time.Millisecond
	}
	if t.BargeInGrace == 0 {
		t.BargeInGrace = 1500 * time.Millisecond
	}
	if t.EnergyThreshold == 0 {
		t.EnergyThreshold = 0.1
	}
	if t.FillerCooldown == 0 {
		t.FillerCooldown = 5 * time.Second
	}
	if t.PendingTimeout == 0 {
		t.PendingTimeout = 10 * time.Second
	}
	if t.SentenceMin == 0 {
		t.SentenceMin = 60
	}
	if t.SentenceMax == 0 {
		t.SentenceMax = 200
	}
	if t.EchoThreshold == 0 {
		t.EchoThreshold = 0.82
	}
}

// RecordingConfig controls per-call audio and transcript capture.
type RecordingConfig struct {
	// Enabled turns recording on.
	Enabled bool `yaml:"enabled"`

	// Dir is the directory that receives one subdirectory per call.
	Dir string `yaml:"dir"`
}

// ThoughtsConfig controls the background reflection loop that periodically
// summarises the conversation for the agent's own context.
type ThoughtsConfig struct {
	// Enabled turns the reflection loop on.
	Enabled bool `yaml:"enabled"`

	// Interval is how often a reflection is generated during a call.
	Interval time.Duration `yaml:"interval"`
}

// UnmarshalYAML decodes the thoughts block, accepting a human-readable
// interval string.
func (tc *ThoughtsConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Enabled  bool          `yaml:"enabled"`
		Interval durationValue `yaml:"interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	tc.Enabled = raw.Enabled
	tc.Interval = time.Duration(raw.Interval)
	return nil
}
