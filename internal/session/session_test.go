package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/collabhub/server/internal/client"
	"github.com/collabhub/server/internal/identity"
	"github.com/collabhub/server/internal/pubsub"
	"github.com/collabhub/server/internal/store"
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

func (w *recordingWriter) decoded() []*wire.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*wire.Message, 0, len(w.frames))
	for _, f := range w.frames {
		m, err := wire.Decode(f)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

func newTestSession(t *testing.T, documentID, nodeID string, bus PubSub) *Session {
	t.Helper()
	s := New(documentID, store.NewMemoryStore(), bus, nodeID, WithCleanupDelay(30*time.Millisecond))
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s
}

func TestSyncStep1RepliesWithStep2AndStep1(t *testing.T) {
	s := newTestSession(t, "room/doc1", "node-a", pubsub.New())
	w := &recordingWriter{}
	cl := client.New("c1", w)
	defer cl.Destroy()
	s.AddClient(cl)

	msg := wire.NewDocMessage(s.DocumentID, false, wire.DocBody{PayloadType: wire.DocSyncStep1, SV: []byte{}})
	if err := s.Apply(context.Background(), msg, cl); err != nil {
		t.Fatalf("apply: %v", err)
	}

	decoded := w.decoded()
	if len(decoded) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(decoded))
	}
	if decoded[0].Doc.PayloadType != wire.DocSyncStep2 {
		t.Fatalf("expected first reply sync-step-2, got %v", decoded[0].Doc.PayloadType)
	}
	if decoded[1].Doc.PayloadType != wire.DocSyncStep1 {
		t.Fatalf("expected second reply sync-step-1, got %v", decoded[1].Doc.PayloadType)
	}
}

func TestDocUpdateBroadcastsToOtherClientsOnly(t *testing.T) {
	s := newTestSession(t, "room/doc1", "node-a", pubsub.New())

	wA, wB := &recordingWriter{}, &recordingWriter{}
	clA, clB := client.New("a", wA), client.New("b", wB)
	defer clA.Destroy()
	defer clB.Destroy()
	s.AddClient(clA)
	s.AddClient(clB)

	update := wire.NewDocMessage(s.DocumentID, false, wire.DocBody{PayloadType: wire.DocUpdate, Update: []byte("hello")})
	if err := s.Apply(context.Background(), update, clA); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if len(wA.decoded()) != 0 {
		t.Fatalf("origin client should not receive its own update back")
	}
	recv := wB.decoded()
	if len(recv) != 1 || string(recv[0].Doc.Update) != "hello" {
		t.Fatalf("expected other client to receive the update, got %+v", recv)
	}
}

func TestReplicationSuppressesSameNodeLoop(t *testing.T) {
	bus := pubsub.New()
	s := newTestSession(t, "room/doc1", "node-a", bus)
	w := &recordingWriter{}
	cl := client.New("c1", w)
	defer cl.Destroy()
	s.AddClient(cl)

	update := wire.NewDocMessage(s.DocumentID, false, wire.DocBody{PayloadType: wire.DocUpdate, Update: []byte("x")})
	if err := s.Apply(context.Background(), update, cl); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Apply already published to the bus under node-a; since this session
	// subscribed with the same node id, it must not re-deliver to itself.
	if len(w.decoded()) != 0 {
		t.Fatalf("expected no self-delivered replication messages, got %d", len(w.decoded()))
	}
}

func TestReplicationFromOtherNodeReachesLocalClients(t *testing.T) {
	bus := pubsub.New()
	sA := newTestSession(t, "room/doc1", "node-a", bus)
	sB := newTestSession(t, "room/doc1", "node-b", bus)

	wB := &recordingWriter{}
	clB := client.New("b1", wB)
	defer clB.Destroy()
	sB.AddClient(clB)

	update := wire.NewDocMessage(sA.DocumentID, false, wire.DocBody{PayloadType: wire.DocUpdate, Update: []byte("y")})
	if err := sA.Apply(context.Background(), update, nil); err != nil {
		t.Fatalf("apply on node a: %v", err)
	}

	recv := wB.decoded()
	if len(recv) != 1 || string(recv[0].Doc.Update) != "y" {
		t.Fatalf("expected node b's client to receive the replicated update, got %+v", recv)
	}
}

func TestReplicationSignatureVerifiesAcrossNodes(t *testing.T) {
	bus := pubsub.New()
	idA, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity a: %v", err)
	}
	idB, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity b: %v", err)
	}

	peerKeysForB := identity.NewPeerKeyStore()
	peerKeysForB.Register(idA.NodeID, idA.PublicKey)

	sA := New("room/doc1", store.NewMemoryStore(), bus, idA.NodeID, WithIdentity(idA))
	if err := sA.Load(context.Background()); err != nil {
		t.Fatalf("load a: %v", err)
	}
	sB := New("room/doc1", store.NewMemoryStore(), bus, idB.NodeID, WithIdentity(idB), WithPeerKeys(peerKeysForB))
	if err := sB.Load(context.Background()); err != nil {
		t.Fatalf("load b: %v", err)
	}

	wB := &recordingWriter{}
	clB := client.New("b1", wB)
	defer clB.Destroy()
	sB.AddClient(clB)

	update := wire.NewDocMessage(sA.DocumentID, false, wire.DocBody{PayloadType: wire.DocUpdate, Update: []byte("signed")})
	if err := sA.Apply(context.Background(), update, nil); err != nil {
		t.Fatalf("apply on node a: %v", err)
	}

	recv := wB.decoded()
	if len(recv) != 1 || string(recv[0].Doc.Update) != "signed" {
		t.Fatalf("expected node b to accept a's signed replication, got %+v", recv)
	}
}

func TestReplicationRejectsUnknownSigner(t *testing.T) {
	bus := pubsub.New()
	idA, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity a: %v", err)
	}
	idB, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity b: %v", err)
	}

	// node-b trusts nobody, so it must drop a's signed replication outright.
	sA := New("room/doc1", store.NewMemoryStore(), bus, idA.NodeID, WithIdentity(idA))
	if err := sA.Load(context.Background()); err != nil {
		t.Fatalf("load a: %v", err)
	}
	sB := New("room/doc1", store.NewMemoryStore(), bus, idB.NodeID, WithPeerKeys(identity.NewPeerKeyStore()))
	if err := sB.Load(context.Background()); err != nil {
		t.Fatalf("load b: %v", err)
	}

	wB := &recordingWriter{}
	clB := client.New("b1", wB)
	defer clB.Destroy()
	sB.AddClient(clB)

	update := wire.NewDocMessage(sA.DocumentID, false, wire.DocBody{PayloadType: wire.DocUpdate, Update: []byte("untrusted")})
	if err := sA.Apply(context.Background(), update, nil); err != nil {
		t.Fatalf("apply on node a: %v", err)
	}

	if len(wB.decoded()) != 0 {
		t.Fatalf("expected node b to drop replication from an unregistered signer, got %d", len(wB.decoded()))
	}
}

func TestDedupRejectsDuplicateReplicationDeliveries(t *testing.T) {
	bus := pubsub.New()
	sB := newTestSession(t, "room/doc1", "node-b", bus)
	wB := &recordingWriter{}
	clB := client.New("b1", wB)
	defer clB.Destroy()
	sB.AddClient(clB)

	msg := wire.NewDocMessage(sB.DocumentID, false, wire.DocBody{PayloadType: wire.DocUpdate, Update: []byte("z")})
	frame, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if err := bus.Publish(context.Background(), "doc:room/doc1", frame, "node-a"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(context.Background(), "doc:room/doc1", frame, "node-a"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(wB.decoded()) != 1 {
		t.Fatalf("expected exactly one delivery after dedup, got %d", len(wB.decoded()))
	}
}

func TestRemoveClientSchedulesDisposeAndAddClientCancelsIt(t *testing.T) {
	s := newTestSession(t, "room/doc1", "node-a", pubsub.New())
	w := &recordingWriter{}
	cl := client.New("c1", w)
	s.AddClient(cl)
	s.RemoveClient(cl.ID)

	if !s.DisposeScheduled() {
		t.Fatalf("expected dispose timer to be armed once the session is empty")
	}

	cl2 := client.New("c2", &recordingWriter{})
	defer cl2.Destroy()
	s.AddClient(cl2)

	if s.DisposeScheduled() {
		t.Fatalf("expected dispose timer to be cancelled once a client rejoins")
	}
}

func TestDisposeFiresAfterCleanupDelayWithNoRejoin(t *testing.T) {
	disposed := make(chan string, 1)
	s := New("room/doc1", store.NewMemoryStore(), pubsub.New(), "node-a",
		WithCleanupDelay(20*time.Millisecond),
		WithDisposeCallback(func(documentID string) { disposed <- documentID }),
	)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	cl := client.New("c1", &recordingWriter{})
	s.AddClient(cl)
	s.RemoveClient(cl.ID)

	select {
	case doc := <-disposed:
		if doc != "room/doc1" {
			t.Fatalf("unexpected document id %q", doc)
		}
	case <-time.After(time.Second):
		t.Fatal("dispose callback never fired")
	}
}

func TestWriteFiresDocumentWriteOnEveryCall(t *testing.T) {
	st := store.NewMemoryStore()
	s := New("room/doc1", st, pubsub.New(), "node-a")
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	// MemoryStore's metadata has zero thresholds by default, so size events
	// never fire; this test only exercises document-write always firing.
	var writes int
	s.On(EventDocumentWrite, func(payload any) { writes++ })

	if err := s.Write(context.Background(), []byte("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write(context.Background(), []byte("def")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if writes != 2 {
		t.Fatalf("expected 2 document-write events, got %d", writes)
	}
}

func TestRPCUnknownMethodReturns501(t *testing.T) {
	s := newTestSession(t, "room/doc1", "node-a", pubsub.New())
	w := &recordingWriter{}
	cl := client.New("c1", w)
	defer cl.Destroy()
	s.AddClient(cl)

	req := wire.NewRPCMessage(s.DocumentID, false, wire.RPCBody{Method: "missing", RequestType: wire.RPCRequest})
	if err := s.Apply(context.Background(), req, cl); err != nil {
		t.Fatalf("apply: %v", err)
	}

	recv := w.decoded()
	if len(recv) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(recv))
	}
	if recv[0].RPC.Success || recv[0].RPC.StatusCode != wire.StatusCodeUnknownMethod {
		t.Fatalf("expected unknown-method error response, got %+v", recv[0].RPC)
	}
}

func TestRPCHandlerSuccessAndFailure(t *testing.T) {
	registry := NewRPCRegistry()
	registry.Register("echo", RPCRegistration{
		Handler: func(ctx context.Context, rc RPCContext, payload []byte) ([]byte, error) {
			return payload, nil
		},
	})
	registry.Register("boom", RPCRegistration{
		Handler: func(ctx context.Context, rc RPCContext, payload []byte) ([]byte, error) {
			return nil, &RPCError{StatusCode: 422, Message: "bad input"}
		},
	})

	s := New("room/doc1", store.NewMemoryStore(), pubsub.New(), "node-a", WithRPCRegistry(registry))
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	w := &recordingWriter{}
	cl := client.New("c1", w)
	defer cl.Destroy()
	s.AddClient(cl)

	echoReq := wire.NewRPCMessage(s.DocumentID, false, wire.RPCBody{Method: "echo", RequestType: wire.RPCRequest, Payload: []byte("ping")})
	if err := s.Apply(context.Background(), echoReq, cl); err != nil {
		t.Fatalf("apply echo: %v", err)
	}
	boomReq := wire.NewRPCMessage(s.DocumentID, false, wire.RPCBody{Method: "boom", RequestType: wire.RPCRequest})
	if err := s.Apply(context.Background(), boomReq, cl); err != nil {
		t.Fatalf("apply boom: %v", err)
	}

	recv := w.decoded()
	if len(recv) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(recv))
	}
	if !recv[0].RPC.Success || string(recv[0].RPC.Payload) != "ping" {
		t.Fatalf("expected echo success, got %+v", recv[0].RPC)
	}
	if recv[1].RPC.Success || recv[1].RPC.StatusCode != 422 {
		t.Fatalf("expected boom to fail with status 422, got %+v", recv[1].RPC)
	}
}

func TestClientJoinLeaveEventsFire(t *testing.T) {
	s := newTestSession(t, "room/doc1", "node-a", pubsub.New())

	var joined, left string
	s.On(EventClientJoin, func(payload any) { joined = payload.(ClientJoinPayload).ClientID })
	s.On(EventClientLeave, func(payload any) { left = payload.(ClientLeavePayload).ClientID })

	cl := client.New("c1", &recordingWriter{})
	s.AddClient(cl)
	s.RemoveClient(cl.ID)

	if joined != "c1" {
		t.Fatalf("expected client-join for c1, got %q", joined)
	}
	if left != "c1" {
		t.Fatalf("expected client-leave for c1, got %q", left)
	}
}
