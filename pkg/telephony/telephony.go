// Package telephony defines the transport abstraction between the orchestrator
// and a phone carrier.
//
// A carrier integration (e.g., Twilio Media Streams) accepts a bidirectional
// media connection per call and exposes it as a [Call]: inbound caller audio
// arrives on a channel, outbound agent audio is written with SendAudio, and
// control operations (clear the egress buffer, hang up) map onto whatever the
// carrier's wire protocol offers. All audio is 8 kHz G.711 µ-law.
package telephony

import "context"

// CallInfo identifies an active call leg.
type CallInfo struct {
	// CallID is the carrier's call identifier (Twilio CallSid).
	CallID string

	// StreamID is the carrier's media stream identifier, when distinct from
	// the call ID (Twilio StreamSid).
	StreamID string

	// From is the caller's number in E.164 form, when known.
	From string

	// To is the dialed number in E.164 form, when known.
	To string
}

// EventKind enumerates non-media events a call can surface.
type EventKind int

const (
	// EventStop signals the carrier ended the media stream (caller hung up
	// or the call was terminated remotely).
	EventStop EventKind = iota

	// EventMark signals a previously sent mark has played out to the caller.
	EventMark

	// EventDTMF signals the caller pressed a key.
	EventDTMF
)

// Event is a non-media event on a call.
type Event struct {
	Kind EventKind

	// Name is the mark name for EventMark, or the digit for EventDTMF.
	Name string
}

// Call is an active bidirectional media connection for one phone call.
//
// The Audio and Events channels are closed when the call ends. All methods
// must be safe for concurrent use.
type Call interface {
	// Info returns the call's identifiers. Valid once the carrier's start
	// event has been received.
	Info() CallInfo

	// Audio returns the inbound caller audio stream as µ-law chunks,
	// typically 20 ms (160 bytes) each.
	Audio() <-chan []byte

	// Events returns the non-media event stream.
	Events() <-chan Event

	// SendAudio queues a µ-law chunk for playback to the caller.
	SendAudio(ctx context.Context, chunk []byte) error

	// SendMark asks the carrier to emit an EventMark once all audio queued
	// before it has played out.
	SendMark(ctx context.Context, name string) error

	// ClearEgress discards all audio queued at the carrier that has not yet
	// played. Used to cut off the agent mid-sentence on an interruption.
	ClearEgress(ctx context.Context) error

	// Hangup terminates the call and closes the media connection.
	Hangup(ctx context.Context) error
}
