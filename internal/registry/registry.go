// Package registry holds the map of loaded document sessions, keyed by
// namespaced document id, and coordinates their creation and disposal.
package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/collabhub/server/internal/observability"
	"github.com/collabhub/server/internal/pubsub"
	"github.com/collabhub/server/internal/session"
	"github.com/collabhub/server/internal/store"
)

// ErrClosed is returned by GetOrCreate once the registry has been shut down.
var ErrClosed = errors.New("registry: closed")

// Stats summarizes the registry's current load.
type Stats struct {
	SessionCount int
	ClientCount  int
}

// StorageProvider resolves the DocumentStore collaborator for a document.
// Most deployments return the same store for every document; this hook
// exists for deployments that shard storage by document or tenant.
type StorageProvider func(documentID string) store.DocumentStore

// Registry owns every currently loaded Session and disposes them when
// their quiet-period timer fires with no clients having rejoined.
type Registry struct {
	nodeID      string
	bus         session.PubSub
	getStorage  StorageProvider
	rpc         *session.RPCRegistry
	logger      *observability.Logger
	metrics     *observability.Metrics
	sessionOpts []session.Option

	mu       sync.Mutex
	sessions map[string]*session.Session
	closed   bool
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithRPCRegistry attaches the RPC method table every session shares.
func WithRPCRegistry(r *session.RPCRegistry) Option {
	return func(reg *Registry) { reg.rpc = r }
}

// WithLogger attaches a logger passed through to every session.
func WithLogger(l *observability.Logger) Option {
	return func(reg *Registry) { reg.logger = l }
}

// WithMetrics attaches the metrics recorder passed through to every session.
func WithMetrics(m *observability.Metrics) Option {
	return func(reg *Registry) { reg.metrics = m }
}

// WithSessionOptions appends extra session.Option values applied to every
// session this registry creates, after the registry's own options.
func WithSessionOptions(opts ...session.Option) Option {
	return func(reg *Registry) { reg.sessionOpts = append(reg.sessionOpts, opts...) }
}

// New returns a Registry that creates sessions against bus for replication
// and getStorage for CRDT persistence, identifying this node as nodeID in
// replication traffic.
func New(nodeID string, bus *pubsub.Bus, getStorage StorageProvider, opts ...Option) *Registry {
	reg := &Registry{
		nodeID:     nodeID,
		bus:        bus,
		getStorage: getStorage,
		sessions:   make(map[string]*session.Session),
	}
	for _, opt := range opts {
		opt(reg)
	}
	return reg
}

// GetOrCreate returns the loaded session for documentID, creating and
// loading one if none exists yet.
func (r *Registry) GetOrCreate(ctx context.Context, documentID string) (*session.Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if s, ok := r.sessions[documentID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	opts := append([]session.Option{}, r.sessionOpts...)
	if r.rpc != nil {
		opts = append(opts, session.WithRPCRegistry(r.rpc))
	}
	if r.logger != nil {
		opts = append(opts, session.WithLogger(r.logger.WithDocument(documentID)))
	}
	if r.metrics != nil {
		opts = append(opts, session.WithMetrics(r.metrics))
	}
	opts = append(opts, session.WithDisposeCallback(r.onSessionDispose))

	s := session.New(documentID, r.getStorage(documentID), r.bus, r.nodeID, opts...)
	if err := s.Load(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		s.Dispose(ctx)
		return nil, ErrClosed
	}
	if existing, ok := r.sessions[documentID]; ok {
		// Lost a create race: keep the winner, discard ours.
		r.mu.Unlock()
		s.Dispose(ctx)
		return existing, nil
	}
	r.sessions[documentID] = s
	r.mu.Unlock()

	return s, nil
}

// Get returns the loaded session for documentID, if any.
func (r *Registry) Get(documentID string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[documentID]
	return s, ok
}

// Remove drops documentID from the registry without disposing it; used
// when a session has already disposed itself and is just being forgotten.
func (r *Registry) Remove(documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, documentID)
}

// onSessionDispose is invoked on a session's own goroutine when its
// quiet-period timer fires. It removes the session from the map and
// disposes it; by this point the session is already confirmed empty.
func (r *Registry) onSessionDispose(documentID string) {
	r.mu.Lock()
	s, ok := r.sessions[documentID]
	if ok {
		delete(r.sessions, documentID)
	}
	r.mu.Unlock()

	if ok {
		s.Dispose(context.Background())
	}
}

// Destroy disposes every loaded session concurrently and marks the
// registry closed. Individual disposal failures cannot occur today (Dispose
// has no error return) but the fan-out is structured so a future fallible
// disposal path only needs to populate the returned slice.
func (r *Registry) Destroy(ctx context.Context) []error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*session.Session)
	r.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(sessions))
	wg.Add(len(sessions))
	for i, s := range sessions {
		go func(i int, s *session.Session) {
			defer wg.Done()
			s.Dispose(ctx)
		}(i, s)
	}
	wg.Wait()

	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// Stats reports the registry's current session and aggregate client count.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	stats := Stats{SessionCount: len(sessions)}
	for _, s := range sessions {
		stats.ClientCount += s.ClientCount()
	}
	return stats
}

// SessionCount returns the number of currently loaded sessions, for use as
// a health-check collaborator.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
