package twilio

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// wireMessage is the envelope for every Twilio Media Streams WebSocket message,
// both directions.
type wireMessage struct {
	Event     string     `json:"event"`
	StreamSid string     `json:"streamSid,omitempty"`
	Media     *wireMedia `json:"media,omitempty"`
	Start     *wireStart `json:"start,omitempty"`
	Mark      *wireMark  `json:"mark,omitempty"`
	DTMF      *wireDTMF  `json:"dtmf,omitempty"`
}

// wireMedia carries one base64-encoded µ-law audio chunk.
type wireMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// wireStart is the metadata Twilio sends when the media stream opens.
type wireStart struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	AccountSid       string            `json:"accountSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type wireMark struct {
	Name string `json:"name"`
}

type wireDTMF struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// buildMediaMessage serializes an outbound µ-law chunk as a media event.
func buildMediaMessage(streamSid string, chunk []byte) ([]byte, error) {
	msg := wireMessage{
		Event:     "media",
		StreamSid: streamSid,
		Media:     &wireMedia{Payload: base64.StdEncoding.EncodeToString(chunk)},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("twilio: marshal media message: %w", err)
	}
	return data, nil
}

// buildClearMessage serializes a clear event, which discards all audio queued
// at Twilio that has not yet played to the caller.
func buildClearMessage(streamSid string) ([]byte, error) {
	data, err := json.Marshal(wireMessage{Event: "clear", StreamSid: streamSid})
	if err != nil {
		return nil, fmt.Errorf("twilio: marshal clear message: %w", err)
	}
	return data, nil
}

// buildMarkMessage serializes a mark event. Twilio echoes the mark back once
// every media message sent before it has played out.
func buildMarkMessage(streamSid, name string) ([]byte, error) {
	msg := wireMessage{
		Event:     "mark",
		StreamSid: streamSid,
		Mark:      &wireMark{Name: name},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("twilio: marshal mark message: %w", err)
	}
	return data, nil
}

// parseMessage decodes an inbound WebSocket message. For media events the
// base64 payload is decoded into raw µ-law bytes.
func parseMessage(data []byte) (*wireMessage, []byte, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, nil, fmt.Errorf("twilio: unmarshal message: %w", err)
	}

	if msg.Event == "media" {
		if msg.Media == nil {
			return nil, nil, fmt.Errorf("twilio: media event missing media object")
		}
		audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			return nil, nil, fmt.Errorf("twilio: decode media payload: %w", err)
		}
		return &msg, audio, nil
	}

	return &msg, nil, nil
}
