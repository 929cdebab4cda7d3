package twilio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voicewire/voicewire/pkg/telephony"
)

func quietLogger() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testMessages(t *testing.T) (start, media []byte) {
	t.Helper()
	start, err := json.Marshal(wireMessage{
		Event:     "start",
		StreamSid: "MZ1",
		Start:     &wireStart{StreamSid: "MZ1", CallSid: "CA1"},
	})
	if err != nil {
		t.Fatalf("marshal start: %v", err)
	}
	media, err = json.Marshal(wireMessage{
		Event: "media",
		Media: &wireMedia{Payload: base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xFF}, 160))},
	})
	if err != nil {
		t.Fatalf("marshal media: %v", err)
	}
	return start, media
}

// The handler returning while the carrier is still delivering frames must
// tear the stream down cleanly; the reader owns the channel lifecycle.
func TestMediaStream_HandlerExitDuringMediaFlood(t *testing.T) {
	handled := make(chan struct{}, 1)
	tr, err := NewTransport("AC1", "token", func(ctx context.Context, call telephony.Call) {
		// Return as soon as the first frame lands, mid-flood.
		select {
		case <-call.Audio():
		case <-time.After(time.Second):
		}
		handled <- struct{}{}
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}

	srv := httptest.NewServer(tr.MediaStreamHandler())
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	startMsg, mediaMsg := testMessages(t)
	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		if err != nil {
			cancel()
			t.Fatalf("dial %d: %v", i, err)
		}
		if err := conn.Write(ctx, websocket.MessageText, startMsg); err != nil {
			t.Fatalf("write start %d: %v", i, err)
		}
		for j := 0; j < 500; j++ {
			if err := conn.Write(ctx, websocket.MessageText, mediaMsg); err != nil {
				// Server closed the socket after the handler returned.
				break
			}
		}
		select {
		case <-handled:
		case <-time.After(2 * time.Second):
			t.Fatalf("handler did not finish on iteration %d", i)
		}
		conn.Close(websocket.StatusNormalClosure, "")
		cancel()
	}
}

func TestMediaStream_ChannelsCloseOnDisconnect(t *testing.T) {
	drained := make(chan struct{})
	tr, err := NewTransport("AC1", "token", func(ctx context.Context, call telephony.Call) {
		for range call.Audio() {
		}
		close(drained)
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}

	srv := httptest.NewServer(tr.MediaStreamHandler())
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	startMsg, mediaMsg := testMessages(t)
	if err := conn.Write(ctx, websocket.MessageText, startMsg); err != nil {
		t.Fatalf("write start: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, mediaMsg); err != nil {
		t.Fatalf("write media: %v", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("audio channel did not close after the socket dropped")
	}
}
