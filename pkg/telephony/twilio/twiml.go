package twilio

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
)

// TwiML document types for the inbound-call webhook response.

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Say     string        `xml:"Say,omitempty"`
	Hangup  *struct{}     `xml:"Hangup,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter,omitempty"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ConnectStreamTwiML renders the TwiML that bridges an answered call into the
// media stream WebSocket at streamURL. The caller and callee numbers are
// passed through as custom parameters so the stream start event carries them.
func ConnectStreamTwiML(streamURL, from, to string) ([]byte, error) {
	doc := twimlResponse{
		Connect: &twimlConnect{
			Stream: twimlStream{
				URL: streamURL,
				Parameters: []twimlParameter{
					{Name: "from", Value: from},
					{Name: "to", Value: to},
				},
			},
		},
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("twilio: marshal TwiML: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// RejectTwiML renders a TwiML document that speaks a short message and hangs
// up, for calls the service cannot accept.
func RejectTwiML(message string) ([]byte, error) {
	doc := twimlResponse{
		Say:    message,
		Hangup: &struct{}{},
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("twilio: marshal TwiML: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// InboundWebhookHandler returns the http.Handler for Twilio's inbound-call
// webhook. Every answered call is bridged into the media stream at streamURL.
func InboundWebhookHandler(streamURL string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		from := r.PostFormValue("From")
		to := r.PostFormValue("To")

		body, err := ConnectStreamTwiML(streamURL, from, to)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write(body)
	})
}

// jsonDecode decodes a JSON body. Split out so REST response handling stays
// terse at the call sites.
func jsonDecode(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
