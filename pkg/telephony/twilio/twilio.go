// Package twilio implements the telephony transport over Twilio Media
// Streams.
//
// Twilio connects a WebSocket to this process for every call that executes a
// <Connect><Stream> TwiML verb. The [Transport] accepts those connections,
// decodes the start/media/stop/mark/dtmf events, and hands each call to the
// registered handler as a telephony.Call. Outbound audio is base64 µ-law
// media messages; interruptions use the clear event, which drops Twilio's
// entire unplayed egress buffer.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voicewire/voicewire/pkg/telephony"
)

const restEndpointFmt = "https://api.twilio.com/2010-04-01/Accounts/%s/Calls.json"

// CallHandler receives each accepted call on its own goroutine. The call's
// channels close when the WebSocket does; the handler should return then.
type CallHandler func(ctx context.Context, call telephony.Call)

// Option is a functional option for configuring the Transport.
type Option func(*Transport)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithHTTPClient replaces the HTTP client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		t.httpClient = c
	}
}

// Transport accepts Twilio Media Streams connections and originates outbound
// calls via the Twilio REST API.
type Transport struct {
	accountSID string
	authToken  string
	handler    CallHandler
	logger     *slog.Logger
	httpClient *http.Client
}

// NewTransport creates a Transport. handler is invoked once per accepted
// media stream, after Twilio's start event has been received.
func NewTransport(accountSID, authToken string, handler CallHandler, opts ...Option) (*Transport, error) {
	if accountSID == "" || authToken == "" {
		return nil, errors.New("twilio: accountSID and authToken must not be empty")
	}
	if handler == nil {
		return nil, errors.New("twilio: handler must not be nil")
	}
	t := &Transport{
		accountSID: accountSID,
		authToken:  authToken,
		handler:    handler,
		logger:     slog.Default(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// MediaStreamHandler returns the http.Handler that upgrades Twilio's media
// stream WebSocket connections. Mount it at the path referenced by the
// <Stream url="..."> TwiML.
func (t *Transport) MediaStreamHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.logger.Error("media stream accept failed", "err", err)
			return
		}
		t.serveStream(r.Context(), conn)
	})
}

// serveStream runs one media stream connection to completion.
func (t *Transport) serveStream(ctx context.Context, conn *websocket.Conn) {
	call := newStreamCall(conn, t.logger)
	defer call.shutdown()

	// Twilio sends "connected" then "start" before any media. Wait for start
	// so the handler always sees populated call info.
	if err := call.awaitStart(ctx); err != nil {
		t.logger.Error("media stream start not received", "err", err)
		return
	}

	info := call.Info()
	t.logger.Info("media stream started",
		"call_id", info.CallID,
		"stream_id", info.StreamID,
		"from", info.From,
	)

	go call.readLoop(ctx)
	t.handler(ctx, call)
}

// Dial originates an outbound call via the Twilio REST API. twimlURL is the
// webhook Twilio fetches for call instructions once the callee answers.
// Returns the new call SID.
func (t *Transport) Dial(ctx context.Context, from, to, twimlURL string) (string, error) {
	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Url", twimlURL)

	endpoint := fmt.Sprintf(restEndpointFmt, t.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("twilio: build dial request: %w", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio: dial: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("twilio: dial: unexpected status %d", resp.StatusCode)
	}

	var created struct {
		Sid string `json:"sid"`
	}
	if err := jsonDecode(resp.Body, &created); err != nil {
		return "", fmt.Errorf("twilio: dial: decode response: %w", err)
	}
	return created.Sid, nil
}

// ---- streamCall ----

// streamCall is one live media stream. It implements telephony.Call.
type streamCall struct {
	conn   *websocket.Conn
	logger *slog.Logger

	audio  chan []byte
	events chan telephony.Event

	infoMu sync.RWMutex
	info   telephony.CallInfo

	started chan struct{}

	writeMu sync.Mutex

	done chan struct{}
	once sync.Once
}

var _ telephony.Call = (*streamCall)(nil)

func newStreamCall(conn *websocket.Conn, logger *slog.Logger) *streamCall {
	return &streamCall{
		conn:    conn,
		logger:  logger,
		audio:   make(chan []byte, 256),
		events:  make(chan telephony.Event, 16),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// awaitStart reads messages until Twilio's start event arrives.
func (c *streamCall) awaitStart(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		msg, _, err := parseMessage(data)
		if err != nil {
			c.logger.Warn("unparseable media stream message", "err", err)
			continue
		}
		switch msg.Event {
		case "start":
			c.setInfoFromStart(msg)
			close(c.started)
			return nil
		case "stop":
			return errors.New("stream stopped before start event")
		}
	}
}

func (c *streamCall) setInfoFromStart(msg *wireMessage) {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	c.info.StreamID = msg.StreamSid
	if msg.Start != nil {
		c.info.CallID = msg.Start.CallSid
		if c.info.StreamID == "" {
			c.info.StreamID = msg.Start.StreamSid
		}
		c.info.From = msg.Start.CustomParameters["from"]
		c.info.To = msg.Start.CustomParameters["to"]
	}
}

// readLoop decodes inbound messages into the audio and event channels until
// the connection closes or a stop event arrives. It is the sole sender on
// both channels and closes them on exit; shutdown must not.
func (c *streamCall) readLoop(ctx context.Context) {
	defer func() {
		c.shutdown()
		close(c.audio)
		close(c.events)
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		msg, payload, err := parseMessage(data)
		if err != nil {
			c.logger.Warn("unparseable media stream message", "err", err)
			continue
		}

		switch msg.Event {
		case "media":
			select {
			case c.audio <- payload:
			case <-c.done:
				return
			default:
				// Caller audio arrives in real time; dropping a late chunk is
				// better than stalling the socket reader.
			}
		case "mark":
			if msg.Mark != nil {
				c.deliverEvent(telephony.Event{Kind: telephony.EventMark, Name: msg.Mark.Name})
			}
		case "dtmf":
			if msg.DTMF != nil {
				c.deliverEvent(telephony.Event{Kind: telephony.EventDTMF, Name: msg.DTMF.Digit})
			}
		case "stop":
			c.deliverEvent(telephony.Event{Kind: telephony.EventStop})
			return
		}
	}
}

func (c *streamCall) deliverEvent(ev telephony.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// shutdown marks the call ended and closes the socket. Safe to call more
// than once. The audio and event channels stay open until readLoop, their
// only sender, exits; closing them here would race its sends.
func (c *streamCall) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close(websocket.StatusNormalClosure, "call ended")
	})
}

// Info implements telephony.Call.
func (c *streamCall) Info() telephony.CallInfo {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()
	return c.info
}

// Audio implements telephony.Call.
func (c *streamCall) Audio() <-chan []byte { return c.audio }

// Events implements telephony.Call.
func (c *streamCall) Events() <-chan telephony.Event { return c.events }

// SendAudio implements telephony.Call.
func (c *streamCall) SendAudio(ctx context.Context, chunk []byte) error {
	data, err := buildMediaMessage(c.Info().StreamID, chunk)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

// SendMark implements telephony.Call.
func (c *streamCall) SendMark(ctx context.Context, name string) error {
	data, err := buildMarkMessage(c.Info().StreamID, name)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

// ClearEgress implements telephony.Call.
func (c *streamCall) ClearEgress(ctx context.Context) error {
	data, err := buildClearMessage(c.Info().StreamID)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

// Hangup implements telephony.Call.
func (c *streamCall) Hangup(_ context.Context) error {
	c.shutdown()
	return nil
}

func (c *streamCall) write(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return errors.New("twilio: call has ended")
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("twilio: write: %w", err)
	}
	return nil
}
