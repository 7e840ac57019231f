package client

import (
	"context"
	"sync"
	"testing"

	"github.com/collabhub/server/internal/wire"
)

type recordingWriter struct {
	mu     sync.Mutex
	frames [][]byte
}

func (w *recordingWriter) WriteMessage(ctx context.Context, frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, append([]byte{}, frame...))
	return nil
}

func TestSendOrderMatchesCallOrder(t *testing.T) {
	w := &recordingWriter{}
	c := New("c1", w)
	defer c.Destroy()

	const n = 50

	// Send's ordering contract is relative to call order on one goroutine.
	for i := 0; i < n; i++ {
		msg := wire.NewDocMessage("d", false, wire.DocBody{PayloadType: wire.DocUpdate, Update: []byte{byte(i)}})
		frame, err := msg.Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := c.SendRaw(frame); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.frames) != n {
		t.Fatalf("expected %d frames written, got %d", n, len(w.frames))
	}
	for i, frame := range w.frames {
		decoded, err := wire.Decode(frame)
		if err != nil {
			t.Fatalf("decode frame %d: %v", i, err)
		}
		if int(decoded.Doc.Update[0]) != i {
			t.Fatalf("frame %d out of order: got payload %d", i, decoded.Doc.Update[0])
		}
	}
}

func TestDestroyIsIdempotentAndFiresCallback(t *testing.T) {
	w := &recordingWriter{}
	c := New("c1", w)

	fired := 0
	c.OnDestroy(func(clientID string) { fired++ })

	c.Destroy()
	c.Destroy()

	if fired != 1 {
		t.Fatalf("expected destroy callback exactly once, got %d", fired)
	}
	if err := c.Send(wire.NewAckMessage(false, "m")); err != ErrDestroyed {
		t.Fatalf("expected ErrDestroyed after destroy, got %v", err)
	}
}

func TestJoinedSessionsTracking(t *testing.T) {
	w := &recordingWriter{}
	c := New("c1", w)
	defer c.Destroy()

	c.JoinSession("room/doc1")
	c.JoinSession("room/doc2")
	c.LeaveSession("room/doc1")

	joined := c.JoinedSessions()
	if len(joined) != 1 || joined[0] != "room/doc2" {
		t.Fatalf("unexpected joined sessions: %v", joined)
	}
}
