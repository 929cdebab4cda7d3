// Package filler manages the short phrases played to a caller while the
// response pipeline is still working.
//
// The fixed phrase lists are synthesized once at process startup into a
// shared [Bank]; each call draws from its own [Cache] view over that bank, so
// injecting a phrase costs no provider round-trip at the moment the caller is
// already waiting, and call setup costs no synthesis at all. Only the
// caller-name templates need per-call work. Fillers are picked per turn by
// conversation stage and a light keyword read of the caller's words;
// acknowledgments share the same machinery with a single list and a shorter
// cooldown.
package filler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voicewire/voicewire/pkg/provider/tts"
)

// Category selects which phrase list a filler is drawn from.
type Category int

const (
	// Generic suits any pause.
	Generic Category = iota
	// Transition suits a topic already in motion.
	Transition
	// Clarification suits a caller question.
	Clarification
)

func (c Category) String() string {
	switch c {
	case Transition:
		return "transition"
	case Clarification:
		return "clarification"
	}
	return "generic"
}

// Library holds the phrase lists loaded at startup. Personalized entries are
// templates with a {name} placeholder; they join the generic pool once the
// caller's name is known.
type Library struct {
	Generic       []string
	Transition    []string
	Clarification []string
	Personalized  []string
}

// DefaultLibrary returns the built-in phrase sets.
func DefaultLibrary() Library {
	return Library{
		Generic:       []string{"One moment.", "Just a second.", "Let me see."},
		Transition:    []string{"So, about that.", "Okay, so.", "Right."},
		Clarification: []string{"Good question.", "Let me check that.", "Hmm, let me think."},
		Personalized:  []string{"One moment, {name}.", "Good question, {name}."},
	}
}

// clarificationHints mark an utterance as a question worth a thinking-style
// filler.
var clarificationHints = []string{
	"what", "how", "why", "when", "where", "which",
	"can you", "could you", "do you", "price", "cost", "?",
}

// Classify picks a filler category for a turn: keyword intent first,
// conversation stage (turn count) as the tiebreaker, generic as the fallback.
func Classify(turnCount int, utterance string) Category {
	u := strings.ToLower(utterance)
	for _, hint := range clarificationHints {
		if strings.Contains(u, hint) {
			return Clarification
		}
	}
	if turnCount <= 1 {
		return Generic
	}
	return Transition
}

type entry struct {
	phrase string
	audio  []byte
}

// synthFunc picks the provider's dedicated filler voice path when it has one.
func synthFunc(provider tts.Provider) func(context.Context, string, tts.VoiceProfile) ([]byte, error) {
	if fp, ok := provider.(tts.FillerProvider); ok {
		return fp.SynthesizeFiller
	}
	return provider.Synthesize
}

// Bank holds filler audio synthesized once at startup and shared by every
// call. Immutable after Prewarm.
type Bank struct {
	cooldown  time.Duration
	entries   map[Category][]entry
	templates []string
}

// Prewarm synthesizes every fixed phrase in lib up front and returns a shared
// Bank. Personalized {name} templates stay as text; [Cache.Personalize]
// synthesizes them per call once the caller's name is known. Providers
// implementing [tts.FillerProvider] get their filler voice path. Phrases that
// fail to synthesize are skipped with a warning; an error is returned only if
// no phrase could be prepared.
func Prewarm(ctx context.Context, provider tts.Provider, voice tts.VoiceProfile, lib Library, cooldown time.Duration) (*Bank, error) {
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	synth := synthFunc(provider)

	b := &Bank{
		cooldown:  cooldown,
		entries:   make(map[Category][]entry),
		templates: lib.Personalized,
	}
	total := 0
	for cat, phrases := range map[Category][]string{
		Generic:       lib.Generic,
		Transition:    lib.Transition,
		Clarification: lib.Clarification,
	} {
		for _, p := range phrases {
			audio, err := synth(ctx, p, voice)
			if err != nil {
				slog.Warn("filler synthesis failed, skipping phrase", "phrase", p, "err", err)
				continue
			}
			b.entries[cat] = append(b.entries[cat], entry{phrase: p, audio: audio})
			total++
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("filler: no phrases could be synthesized")
	}
	return b, nil
}

// PrewarmPhrases builds a single-list bank, used for acknowledgments and
// config-supplied phrase overrides.
func PrewarmPhrases(ctx context.Context, provider tts.Provider, voice tts.VoiceProfile, phrases []string, cooldown time.Duration) (*Bank, error) {
	return Prewarm(ctx, provider, voice, Library{Generic: phrases}, cooldown)
}

// Len returns the number of usable phrases in the bank.
func (b *Bank) Len() int {
	n := 0
	for _, list := range b.entries {
		n += len(list)
	}
	return n
}

// NewCache returns a per-call view over the bank. The synthesized audio is
// shared; the rotation cursors, cooldown stamp, and any personalized entries
// belong to the call.
func (b *Bank) NewCache() *Cache {
	entries := make(map[Category][]entry, len(b.entries))
	for cat, list := range b.entries {
		entries[cat] = append([]entry(nil), list...)
	}
	return &Cache{
		cooldown:  b.cooldown,
		templates: b.templates,
		entries:   entries,
		next:      make(map[Category]int),
	}
}

// Cache serves one call's filler phrases from the shared bank.
type Cache struct {
	cooldown  time.Duration
	templates []string

	mu       sync.Mutex
	entries  map[Category][]entry
	next     map[Category]int
	lastUsed time.Time
}

// Personalize synthesizes the bank's {name} templates for this caller and
// adds them to the generic pool. Safe to run concurrently with Next, so a
// session can kick it off alongside the greeting. Failures skip the phrase.
func (c *Cache) Personalize(ctx context.Context, provider tts.Provider, voice tts.VoiceProfile, name string) {
	if name == "" {
		return
	}
	synth := synthFunc(provider)
	for _, tpl := range c.templates {
		p := strings.ReplaceAll(tpl, "{name}", name)
		audio, err := synth(ctx, p, voice)
		if err != nil {
			slog.Warn("filler synthesis failed, skipping phrase", "phrase", p, "err", err)
			continue
		}
		c.mu.Lock()
		c.entries[Generic] = append(c.entries[Generic], entry{phrase: p, audio: audio})
		c.mu.Unlock()
	}
}

// Next returns the next phrase and its audio for the category, rotating
// through the cached set. A category with no usable phrases falls back to
// generic. Returns ok=false while the cooldown from the previous phrase has
// not elapsed.
func (c *Cache) Next(cat Category, now time.Time) (phrase string, audio []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastUsed.IsZero() && now.Sub(c.lastUsed) < c.cooldown {
		return "", nil, false
	}
	if len(c.entries[cat]) == 0 {
		cat = Generic
	}
	list := c.entries[cat]
	if len(list) == 0 {
		return "", nil, false
	}

	e := list[c.next[cat]%len(list)]
	c.next[cat]++
	c.lastUsed = now
	return e.phrase, e.audio, true
}

// Len returns the number of usable cached phrases across all categories.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, list := range c.entries {
		n += len(list)
	}
	return n
}
