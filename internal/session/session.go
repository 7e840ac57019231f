// Package session implements the per-document collaboration session: the
// in-memory hub that fans client messages out to every other connected
// client, forwards them to an external CRDT store, and replicates them to
// other hub nodes over pub/sub with loop and duplicate suppression.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/collabhub/server/internal/client"
	"github.com/collabhub/server/internal/dedup"
	"github.com/collabhub/server/internal/identity"
	"github.com/collabhub/server/internal/observability"
	"github.com/collabhub/server/internal/store"
	"github.com/collabhub/server/internal/wire"
)

// DefaultCleanupDelay is how long a session waits with zero clients before
// its disposal timer fires.
const DefaultCleanupDelay = 60 * time.Second

// PubSub is the replication fabric a session publishes to and subscribes
// on. pubsub.Bus satisfies this directly.
type PubSub interface {
	Subscribe(topic string, handler func(payload []byte, sourceNodeID string)) (func(), error)
	Publish(ctx context.Context, topic string, payload []byte, sourceNodeID string) error
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithEncrypted marks every message this session emits as carrying
// encrypted payloads.
func WithEncrypted(encrypted bool) Option {
	return func(s *Session) { s.encrypted = encrypted }
}

// WithCleanupDelay overrides DefaultCleanupDelay.
func WithCleanupDelay(d time.Duration) Option {
	return func(s *Session) { s.cleanupDelay = d }
}

// WithDedup overrides the default dedup set.
func WithDedup(set *dedup.Set) Option {
	return func(s *Session) { s.dedup = set }
}

// WithRPCRegistry attaches a shared RPC method table.
func WithRPCRegistry(r *RPCRegistry) Option {
	return func(s *Session) { s.rpc = r }
}

// WithRPCCodecs attaches a shared RPC payload codec registry. Outgoing rpc
// messages carry it so a method's registered encoder (if any) runs before
// the frame is serialized.
func WithRPCCodecs(c *wire.RPCCodecRegistry) Option {
	return func(s *Session) { s.codecs = c }
}

// WithIdentity attaches this node's long-lived identity. Every replication
// envelope this session publishes is signed with id's private key, so peers
// holding id's public key can authenticate the node a change came from.
func WithIdentity(id *identity.Identity) Option {
	return func(s *Session) { s.identity = id }
}

// WithPeerKeys attaches the set of trusted peer node public keys used to
// verify incoming replication envelopes' signatures. A replicated message
// from a node with no registered key, or with a signature that doesn't
// verify, is dropped rather than applied.
func WithPeerKeys(keys *identity.PeerKeyStore) Option {
	return func(s *Session) { s.peerKeys = keys }
}

// WithLogger attaches a document-scoped logger.
func WithLogger(l *observability.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics attaches the shared metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithDisposeCallback registers the function invoked when this session's
// quiet-period timer fires with no clients having rejoined. A registry
// uses this hook to remove and dispose the session.
func WithDisposeCallback(fn func(documentID string)) Option {
	return func(s *Session) { s.onDisposeFire = fn }
}

// Session is the live state for one namespaced document: connected
// clients, the CRDT store delegate, and the replication subscription.
type Session struct {
	DocumentID string

	nodeID       string
	store        store.DocumentStore
	bus          PubSub
	encrypted    bool
	cleanupDelay time.Duration

	dedup    *dedup.Set
	rpc      *RPCRegistry
	codecs   *wire.RPCCodecRegistry
	identity *identity.Identity
	peerKeys *identity.PeerKeyStore
	events   *EventBus
	logger   *observability.Logger
	metrics  *observability.Metrics

	onDisposeFire func(documentID string)

	mu            sync.Mutex
	loaded        bool
	clients       map[string]*client.Client
	unsubscribe   func()
	disposeTimer  *time.Timer
	sizeWarned    bool
	limitExceeded bool
}

// New constructs a Session for documentID. Load must be called before the
// session accepts clients.
func New(documentID string, st store.DocumentStore, bus PubSub, nodeID string, opts ...Option) *Session {
	s := &Session{
		DocumentID:   documentID,
		nodeID:       nodeID,
		store:        st,
		bus:          bus,
		cleanupDelay: DefaultCleanupDelay,
		dedup:        dedup.New(0, 0),
		rpc:          NewRPCRegistry(),
		events:       NewEventBus(),
		clients:      make(map[string]*client.Client),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// On registers an event handler; see the Event* constants for names.
func (s *Session) On(event string, fn func(payload any)) {
	s.events.On(event, fn)
}

func (s *Session) topic() string { return "doc:" + s.DocumentID }

// Load subscribes the session to its replication topic. Calling Load more
// than once is a no-op.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.loaded {
		s.mu.Unlock()
		return nil
	}
	s.loaded = true
	s.mu.Unlock()

	unsubscribe, err := s.bus.Subscribe(s.topic(), s.onReplicatedMessage)
	if err != nil {
		s.mu.Lock()
		s.loaded = false
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordSessionCreated()
	}
	if s.logger != nil {
		s.logger.SessionLoaded(s.DocumentID)
	}
	return nil
}

// AddClient adds cl to the fan-out set, cancelling any pending disposal.
func (s *Session) AddClient(cl *client.Client) {
	s.mu.Lock()
	cancelled := s.disposeTimer != nil
	if cancelled {
		s.disposeTimer.Stop()
		s.disposeTimer = nil
	}
	_, existed := s.clients[cl.ID]
	if !existed {
		s.clients[cl.ID] = cl
	}
	s.mu.Unlock()

	if cancelled && s.logger != nil {
		s.logger.DisposeCancelled(s.DocumentID)
	}
	if existed {
		return
	}

	cl.JoinSession(s.DocumentID)
	if s.metrics != nil {
		s.metrics.RecordClientJoined()
	}
	if s.logger != nil {
		s.logger.ClientJoined(s.DocumentID, cl.ID)
	}
	s.events.Emit(EventClientJoin, ClientJoinPayload{ClientID: cl.ID})
}

// RemoveClient removes clientID from the fan-out set. If this empties the
// session, a disposal timer is armed for cleanupDelay.
func (s *Session) RemoveClient(clientID string) {
	s.mu.Lock()
	cl, ok := s.clients[clientID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, clientID)
	empty := len(s.clients) == 0
	if empty {
		s.disposeTimer = time.AfterFunc(s.cleanupDelay, s.onDisposeTimerFired)
	}
	s.mu.Unlock()

	cl.LeaveSession(s.DocumentID)
	if s.metrics != nil {
		s.metrics.RecordClientLeft()
	}
	if s.logger != nil {
		s.logger.ClientLeft(s.DocumentID, clientID)
		if empty {
			s.logger.DisposeScheduled(s.DocumentID, s.cleanupDelay)
		}
	}
	s.events.Emit(EventClientLeave, ClientLeavePayload{ClientID: clientID})
	go cl.Destroy()
}

func (s *Session) onDisposeTimerFired() {
	s.mu.Lock()
	stillEmpty := len(s.clients) == 0
	s.disposeTimer = nil
	s.mu.Unlock()

	if !stillEmpty {
		return
	}
	if s.onDisposeFire != nil {
		s.onDisposeFire(s.DocumentID)
	}
}

// ClientCount returns the number of currently joined clients.
func (s *Session) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// DisposeScheduled reports whether a quiet-period disposal timer is armed.
func (s *Session) DisposeScheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposeTimer != nil
}

// Broadcast sends msg to every joined client except excludeClientID (pass
// "" to exclude none).
func (s *Session) Broadcast(msg *wire.Message, excludeClientID string) {
	s.mu.Lock()
	targets := make([]*client.Client, 0, len(s.clients))
	for id, cl := range s.clients {
		if id == excludeClientID {
			continue
		}
		targets = append(targets, cl)
	}
	s.mu.Unlock()

	for _, cl := range targets {
		if err := cl.Send(msg); err != nil && s.logger != nil {
			s.logger.BroadcastSendFailed(s.DocumentID, cl.ID, err)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordBroadcast(len(targets))
	}
}

// Write hands update to the document store and emits document-write, plus
// document-size-warning or document-size-limit-exceeded the first time the
// new size crosses each threshold.
func (s *Session) Write(ctx context.Context, update []byte) error {
	if err := s.store.HandleUpdate(ctx, s.DocumentID, update); err != nil {
		return err
	}
	meta, err := s.store.GetDocumentMetadata(ctx, s.DocumentID)
	if err != nil {
		return err
	}
	s.events.Emit(EventDocumentWrite, DocumentWritePayload{SizeBytes: meta.SizeBytes})

	exceeded := meta.SizeLimit > 0 && meta.SizeBytes >= meta.SizeLimit
	warned := !exceeded && meta.SizeWarningThreshold > 0 && meta.SizeBytes >= meta.SizeWarningThreshold

	s.mu.Lock()
	fireExceeded := exceeded && !s.limitExceeded
	fireWarned := warned && !s.sizeWarned
	s.limitExceeded = exceeded
	s.sizeWarned = warned || exceeded
	s.mu.Unlock()

	switch {
	case fireExceeded:
		s.events.Emit(EventDocumentSizeLimitExceed, DocumentSizeLimitExceededPayload{SizeBytes: meta.SizeBytes, Limit: meta.SizeLimit})
	case fireWarned:
		s.events.Emit(EventDocumentSizeWarning, DocumentSizeWarningPayload{SizeBytes: meta.SizeBytes, Threshold: meta.SizeWarningThreshold})
	}
	return nil
}

// ErrEncryptionMismatch is returned by Apply for a message whose Encrypted
// flag differs from the session's.
var ErrEncryptionMismatch = errors.New("session: message encryption flag does not match session")

// Apply dispatches a message that arrived directly from cl: doc sync
// traffic goes to the store, awareness and doc updates fan out to the
// other local clients and replicate to other nodes, and rpc requests are
// routed to the registered handler. A message whose Encrypted flag differs
// from the session's is rejected with ErrEncryptionMismatch.
func (s *Session) Apply(ctx context.Context, msg *wire.Message, cl *client.Client) error {
	if msg.Encrypted != s.encrypted {
		return ErrEncryptionMismatch
	}
	if s.metrics != nil {
		s.metrics.RecordMessageApplied(msg.Type.String())
	}
	switch msg.Type {
	case wire.MessageTypeDoc:
		return s.applyDoc(ctx, msg, cl)
	case wire.MessageTypeAwareness:
		return s.applyAwareness(ctx, msg, cl)
	case wire.MessageTypeRPC:
		if cl == nil {
			return nil
		}
		return s.applyRPC(ctx, msg, cl)
	case wire.MessageTypeAck, wire.MessageTypeFile:
		return nil
	default:
		return fmt.Errorf("session: unhandled message type %s", msg.Type)
	}
}

func (s *Session) applyDoc(ctx context.Context, msg *wire.Message, cl *client.Client) error {
	body := msg.Doc
	switch body.PayloadType {
	case wire.DocSyncStep1:
		if cl == nil {
			return nil
		}
		result, err := s.store.HandleSyncStep1(ctx, s.DocumentID, body.SV)
		if err != nil {
			return err
		}
		step2 := wire.NewDocMessage(msg.Document, s.encrypted, wire.DocBody{PayloadType: wire.DocSyncStep2, Update: result.Update})
		if err := cl.Send(step2); err != nil && s.logger != nil {
			s.logger.BroadcastSendFailed(s.DocumentID, cl.ID, err)
		}
		step1 := wire.NewDocMessage(msg.Document, s.encrypted, wire.DocBody{PayloadType: wire.DocSyncStep1, SV: result.StateVector})
		if err := cl.Send(step1); err != nil && s.logger != nil {
			s.logger.BroadcastSendFailed(s.DocumentID, cl.ID, err)
		}
		return nil

	case wire.DocSyncStep2:
		if wire.IsEmptyUpdate(body.Update) {
			if cl != nil {
				return s.sendSyncDone(cl, msg.Document)
			}
			return nil
		}
		if err := s.applyAndReplicate(ctx, msg, body.Update, cl); err != nil {
			return err
		}
		if cl != nil {
			return s.sendSyncDone(cl, msg.Document)
		}
		return nil

	case wire.DocUpdate:
		return s.applyAndReplicate(ctx, msg, body.Update, cl)

	case wire.DocAuthMessage, wire.DocSyncDone:
		return nil

	default:
		return fmt.Errorf("session: unhandled doc payload type %d", body.PayloadType)
	}
}

// applyAndReplicate writes update to the store, broadcasts msg to every
// other local client, and publishes it for other nodes to pick up.
func (s *Session) applyAndReplicate(ctx context.Context, msg *wire.Message, update []byte, cl *client.Client) error {
	excludeID := ""
	if cl != nil {
		excludeID = cl.ID
	}

	var wg sync.WaitGroup
	var writeErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Broadcast(msg, excludeID)
	}()
	go func() {
		defer wg.Done()
		writeErr = s.Write(ctx, update)
	}()
	wg.Wait()
	if writeErr != nil {
		return writeErr
	}

	s.publish(ctx, msg)

	source := SourceReplication
	if cl != nil {
		source = SourceClient
	}
	s.events.Emit(EventDocumentMessage, DocumentMessagePayload{Source: source})
	return nil
}

func (s *Session) sendSyncDone(cl *client.Client, document string) error {
	done := wire.NewDocMessage(document, s.encrypted, wire.DocBody{PayloadType: wire.DocSyncDone})
	return cl.Send(done)
}

func (s *Session) applyAwareness(ctx context.Context, msg *wire.Message, cl *client.Client) error {
	excludeID := ""
	if cl != nil {
		excludeID = cl.ID
	}
	s.Broadcast(msg, excludeID)
	s.publish(ctx, msg)

	source := SourceReplication
	if cl != nil {
		source = SourceClient
	}
	s.events.Emit(EventDocumentMessage, DocumentMessagePayload{Source: source})
	return nil
}

func (s *Session) publish(ctx context.Context, msg *wire.Message) {
	frame, err := msg.Encode()
	if err != nil {
		return
	}
	if s.identity != nil {
		frame = signEnvelope(s.identity, frame)
	}
	if err := s.bus.Publish(ctx, s.topic(), frame, s.nodeID); err != nil {
		if s.logger != nil {
			s.logger.Error(err, "replication publish failed")
		}
		return
	}
	if s.metrics != nil {
		s.metrics.RecordReplicationPublished()
	}
}

// onReplicatedMessage is the pub/sub handler installed by Load. It drops
// messages this node itself published (loop suppression) and messages
// already seen within the dedup window, then applies the rest locally
// without re-publishing them.
func (s *Session) onReplicatedMessage(payload []byte, sourceNodeID string) {
	if sourceNodeID == s.nodeID {
		s.recordDrop(sourceNodeID, "same_node")
		return
	}

	if s.peerKeys != nil {
		verified, ok := verifyEnvelope(s.peerKeys, sourceNodeID, payload)
		if !ok {
			s.recordDrop(sourceNodeID, "bad_signature")
			return
		}
		payload = verified
	}

	msg, err := wire.Decode(payload)
	if err != nil {
		s.recordDrop(sourceNodeID, "decode_error")
		return
	}

	msgID, err := msg.ID()
	if err != nil {
		s.recordDrop(sourceNodeID, "decode_error")
		return
	}
	if s.dedup != nil && !s.dedup.ShouldAccept(s.DocumentID, msgID) {
		s.recordDrop(sourceNodeID, "duplicate")
		return
	}

	ctx := context.Background()
	if err := s.applyReplicated(ctx, msg); err != nil && s.logger != nil {
		s.logger.Error(err, "failed applying replicated message")
		return
	}
	s.events.Emit(EventDocumentMessage, DocumentMessagePayload{
		Source:       SourceReplication,
		SourceNodeID: sourceNodeID,
	})
}

// signatureSize is the length of an Ed25519 signature.
const signatureSize = 64

// signEnvelope prepends frame's Ed25519 signature under id's private key, so
// a peer holding id's public key can authenticate the node that published it.
func signEnvelope(id *identity.Identity, frame []byte) []byte {
	sig := id.Sign(frame)
	envelope := make([]byte, 0, len(sig)+len(frame))
	envelope = append(envelope, sig...)
	envelope = append(envelope, frame...)
	return envelope
}

// verifyEnvelope splits envelope's leading signature from its frame and
// verifies it against sourceNodeID's registered public key. It reports the
// bare frame and true only when a key is registered for sourceNodeID and the
// signature verifies against it.
func verifyEnvelope(peerKeys *identity.PeerKeyStore, sourceNodeID string, envelope []byte) ([]byte, bool) {
	if len(envelope) < signatureSize {
		return nil, false
	}
	pub, ok := peerKeys.Lookup(sourceNodeID)
	if !ok {
		return nil, false
	}
	sig := envelope[:signatureSize]
	frame := envelope[signatureSize:]
	if !identity.Verify(pub, frame, sig) {
		return nil, false
	}
	return frame, true
}

func (s *Session) recordDrop(sourceNodeID, reason string) {
	if s.logger != nil {
		s.logger.ReplicationDrop(s.DocumentID, sourceNodeID, reason)
	}
	if s.metrics != nil {
		s.metrics.RecordReplicationDropped(reason)
	}
}

func (s *Session) applyReplicated(ctx context.Context, msg *wire.Message) error {
	switch msg.Type {
	case wire.MessageTypeDoc:
		if msg.Doc.PayloadType == wire.DocUpdate || msg.Doc.PayloadType == wire.DocSyncStep2 {
			if wire.IsEmptyUpdate(msg.Doc.Update) {
				return nil
			}
			if err := s.Write(ctx, msg.Doc.Update); err != nil {
				return err
			}
		}
		s.Broadcast(msg, "")
		return nil
	case wire.MessageTypeAwareness:
		s.Broadcast(msg, "")
		return nil
	default:
		return nil
	}
}

// Dispose unsubscribes from replication, destroys any remaining clients,
// and fires the dispose event. It is idempotent.
func (s *Session) Dispose(ctx context.Context) {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return
	}
	s.loaded = false
	if s.disposeTimer != nil {
		s.disposeTimer.Stop()
		s.disposeTimer = nil
	}
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	remaining := make([]*client.Client, 0, len(s.clients))
	for _, cl := range s.clients {
		remaining = append(remaining, cl)
	}
	s.clients = make(map[string]*client.Client)
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	for _, cl := range remaining {
		go cl.Destroy()
	}

	if s.metrics != nil {
		s.metrics.RecordSessionDisposed()
	}
	if s.logger != nil {
		s.logger.SessionDisposed(s.DocumentID)
	}
	s.events.Emit(EventDispose, DisposePayload{DocumentID: s.DocumentID})
}
