package call

import (
	"sync"
	"time"
)

// ulawBytesPerSecond is the wire rate of 8 kHz G.711 µ-law audio.
const ulawBytesPerSecond = 8000

// timeline tracks when the audio queued toward the caller will finish
// playing. The carrier buffers outbound chunks, so the only way to know
// whether the agent is audibly speaking is to keep a running estimate:
// each chunk extends the end time by its wire duration, starting from now
// if the previous estimate has already passed.
//
// The estimate never undershoots the true last-byte time, which keeps
// barge-in detection conservative.
type timeline struct {
	mu    sync.Mutex
	end   time.Time
	start time.Time
	bytes int
}

// Append accounts for a chunk handed to the carrier and returns the new
// estimated end of playback.
func (t *timeline) Append(chunkBytes int, now time.Time) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	base := t.end
	if base.Before(now) {
		base = now
	}
	if t.bytes == 0 {
		t.start = now
	}
	t.bytes += chunkBytes
	t.end = base.Add(time.Duration(chunkBytes) * time.Second / ulawBytesPerSecond)
	return t.end
}

// Active reports whether queued audio is still estimated to be playing.
func (t *timeline) Active(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.end.After(now)
}

// Start returns when the current playback run began, or the zero time if
// nothing has been appended since the last Reset.
func (t *timeline) Start() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.start
}

// End returns the current estimated end of playback.
func (t *timeline) End() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.end
}

// Bytes returns the total bytes accounted since the last Reset.
func (t *timeline) Bytes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}

// Reset zeroes the estimate. Called on barge-in after the carrier's egress
// buffer is cleared, and at the start of each turn.
func (t *timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.end = time.Time{}
	t.start = time.Time{}
	t.bytes = 0
}
