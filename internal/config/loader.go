package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":       {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"},
	"stt":       {"deepgram"},
	"tts":       {"elevenlabs"},
	"telephony": {"twilio"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. ${ENV_VAR} references in the file are expanded from the process
// environment before parsing.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg, err := LoadFromReader(strings.NewReader(os.ExpandEnv(string(raw))))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Turn.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.PublicURL != "" && !strings.HasPrefix(cfg.Server.PublicURL, "http") {
		errs = append(errs, fmt.Errorf("server.public_url %q must start with http:// or https://", cfg.Server.PublicURL))
	}

	// Telephony
	if cfg.Telephony.Provider != "" {
		validateProviderName("telephony", cfg.Telephony.Provider)
		if cfg.Telephony.AccountSID == "" || cfg.Telephony.AuthToken == "" {
			errs = append(errs, fmt.Errorf("telephony.account_sid and telephony.auth_token are required when a telephony provider is configured"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for _, e := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", e.Name)
	}
	for _, e := range cfg.Providers.STTFallbacks {
		validateProviderName("stt", e.Name)
	}
	for _, e := range cfg.Providers.TTSFallbacks {
		validateProviderName("tts", e.Name)
	}

	// A voice agent without all three stages cannot hold a conversation.
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; calls will not receive responses")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; caller speech will not be transcribed")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; responses will not be spoken")
	}

	// Turn timing sanity.
	if cfg.Turn.DebounceShort > cfg.Turn.DebounceLong {
		errs = append(errs, fmt.Errorf("turn.debounce_short (%v) must not exceed turn.debounce_long (%v)", cfg.Turn.DebounceShort, cfg.Turn.DebounceLong))
	}
	if cfg.Turn.SentenceMin > cfg.Turn.SentenceMax {
		errs = append(errs, fmt.Errorf("turn.sentence_min (%d) must not exceed turn.sentence_max (%d)", cfg.Turn.SentenceMin, cfg.Turn.SentenceMax))
	}
	if cfg.Turn.EchoThreshold < 0 || cfg.Turn.EchoThreshold > 1 {
		errs = append(errs, fmt.Errorf("turn.echo_threshold %.2f is out of range [0, 1]", cfg.Turn.EchoThreshold))
	}
	if cfg.Turn.EnergyThreshold < 0 || cfg.Turn.EnergyThreshold > 1 {
		errs = append(errs, fmt.Errorf("turn.energy_threshold %.2f is out of range [0, 1]", cfg.Turn.EnergyThreshold))
	}

	// Recording
	if cfg.Recording.Enabled && cfg.Recording.Dir == "" {
		errs = append(errs, fmt.Errorf("recording.dir is required when recording is enabled"))
	}

	// Thoughts
	if cfg.Thoughts.Enabled && cfg.Thoughts.Interval <= 0 {
		errs = append(errs, fmt.Errorf("thoughts.interval must be positive when thoughts are enabled"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
