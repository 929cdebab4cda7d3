package call

import (
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
)

// echoWindow bounds how long an agent utterance stays eligible for echo
// matching. Loopback echo through the carrier arrives well inside this.
const echoWindow = 10 * time.Second

// echoRegisterCap bounds the register size independently of the time window.
const echoRegisterCap = 16

// echoRegister holds normalised recent agent utterances so that caller-side
// transcripts of the agent's own speech can be rejected.
//
// A transcript is considered an echo when, against any entry inside the
// window, it is a substring or superstring of the entry, or its Jaro-Winkler
// similarity meets the configured threshold.
type echoRegister struct {
	threshold float64

	mu      sync.Mutex
	entries []echoEntry
}

type echoEntry struct {
	text string
	at   time.Time
}

func newEchoRegister(threshold float64) *echoRegister {
	return &echoRegister{threshold: threshold}
}

// Add records an agent utterance at the given emission time.
func (r *echoRegister) Add(text string, at time.Time) {
	norm := normalizeUtterance(text)
	if norm == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, echoEntry{text: norm, at: at})
	if len(r.entries) > echoRegisterCap {
		r.entries = r.entries[len(r.entries)-echoRegisterCap:]
	}
}

// IsEcho reports whether the transcript matches a recent agent utterance.
func (r *echoRegister) IsEcho(transcript string, now time.Time) bool {
	norm := normalizeUtterance(transcript)
	if norm == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if now.Sub(e.at) > echoWindow {
			continue
		}
		if strings.Contains(e.text, norm) || strings.Contains(norm, e.text) {
			return true
		}
		if matchr.JaroWinkler(norm, e.text, false) >= r.threshold {
			return true
		}
	}
	return false
}

// normalizeUtterance lower-cases text and strips everything but letters,
// digits, and single spaces.
func normalizeUtterance(text string) string {
	var sb strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
			sb.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				sb.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(sb.String())
}
