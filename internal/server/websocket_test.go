package server

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
)

func TestSendDisconnectsClientThatStopsReading(t *testing.T) {
	// No writePump: nothing drains the buffer.
	c := newClient(nil, zerolog.Nop())

	for i := 0; i < sendBuffer; i++ {
		if err := c.Send(protocol.StdoutChunk([]byte("x"))); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	if err := c.Send(protocol.StdoutChunk([]byte("x"))); !errors.Is(err, errSlowClient) {
		t.Fatalf("err = %v, want errSlowClient", err)
	}
	select {
	case <-c.done:
	default:
		t.Fatal("a client with a full buffer should be closed")
	}
	if err := c.Send(protocol.Exited(0)); !errors.Is(err, errClientClosed) {
		t.Errorf("err = %v, want errClientClosed", err)
	}
}

func TestCloseQueuesSessionClosedFrame(t *testing.T) {
	c := newClient(nil, zerolog.Nop())

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if len(c.send) != 1 {
		t.Fatalf("queued %d frames, want 1", len(c.send))
	}
	var f protocol.Outbound
	if err := json.Unmarshal(<-c.send, &f); err != nil {
		t.Fatal(err)
	}
	if !f.Error || f.Message != MessageSessionClosed {
		t.Errorf("frame = %+v", f)
	}
}
