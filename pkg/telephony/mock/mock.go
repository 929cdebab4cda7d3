// Package mock provides a test-drivable telephony.Call.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/voicewire/voicewire/pkg/telephony"
)

// Call is a mock telephony.Call. Tests push caller audio with PushAudio and
// events with PushEvent, and inspect what the orchestrator sent via Sent,
// Marks, and ClearCount.
type Call struct {
	CallInfo telephony.CallInfo

	audio  chan []byte
	events chan telephony.Event

	mu         sync.Mutex
	sent       [][]byte
	marks      []string
	clearCount int
	hungUp     bool
	closed     bool
}

var _ telephony.Call = (*Call)(nil)

// NewCall creates an open mock call with buffered channels.
func NewCall(info telephony.CallInfo) *Call {
	return &Call{
		CallInfo: info,
		audio:    make(chan []byte, 256),
		events:   make(chan telephony.Event, 16),
	}
}

// Info implements telephony.Call.
func (c *Call) Info() telephony.CallInfo { return c.CallInfo }

// Audio implements telephony.Call.
func (c *Call) Audio() <-chan []byte { return c.audio }

// Events implements telephony.Call.
func (c *Call) Events() <-chan telephony.Event { return c.events }

// SendAudio implements telephony.Call.
func (c *Call) SendAudio(_ context.Context, chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hungUp {
		return errors.New("mock telephony: call has ended")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	c.sent = append(c.sent, cp)
	return nil
}

// SendMark implements telephony.Call.
func (c *Call) SendMark(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hungUp {
		return errors.New("mock telephony: call has ended")
	}
	c.marks = append(c.marks, name)
	return nil
}

// ClearEgress implements telephony.Call.
func (c *Call) ClearEgress(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearCount++
	return nil
}

// Hangup implements telephony.Call.
func (c *Call) Hangup(_ context.Context) error {
	c.mu.Lock()
	hung := c.hungUp
	c.hungUp = true
	c.mu.Unlock()
	if !hung {
		c.End()
	}
	return nil
}

// PushAudio delivers a caller audio chunk to the orchestrator.
func (c *Call) PushAudio(chunk []byte) {
	c.audio <- chunk
}

// PushEvent delivers a non-media event to the orchestrator.
func (c *Call) PushEvent(ev telephony.Event) {
	c.events <- ev
}

// End closes the audio and event channels, simulating a remote hangup.
// Safe to call more than once.
func (c *Call) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.audio)
		close(c.events)
	}
}

// Sent returns all outbound audio chunks written so far.
func (c *Call) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentBytes returns the total number of outbound audio bytes written.
func (c *Call) SentBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, chunk := range c.sent {
		n += len(chunk)
	}
	return n
}

// Marks returns all mark names sent so far.
func (c *Call) Marks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.marks))
	copy(out, c.marks)
	return out
}

// ClearCount returns how many times ClearEgress was called.
func (c *Call) ClearCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clearCount
}

// HungUp reports whether Hangup was called.
func (c *Call) HungUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hungUp
}
