// Package client implements the per-connection outbound writer: a strict
// FIFO send queue draining through a single background worker, plus the
// client's weak back-reference to sessions it has joined. A single worker
// draining one channel keeps outbound order identical to call order even
// under concurrent senders.
package client

import (
	"context"
	"errors"
	"sync"

	"github.com/collabhub/server/internal/wire"
)

// ErrDestroyed is returned by Send once the client has been destroyed.
var ErrDestroyed = errors.New("client: destroyed")

// Writer is the underlying duplex stream's write half.
type Writer interface {
	WriteMessage(ctx context.Context, frame []byte) error
}

type sendRequest struct {
	frame  []byte
	result chan error
}

// Client owns the write half of one connection. Ownership of the Client
// rests with the session registry / connection acceptor; a Client only
// holds the ids of sessions it has joined, not pointers to them.
type Client struct {
	ID     string
	writer Writer
	ctx    context.Context
	cancel context.CancelFunc

	queue chan sendRequest

	mu        sync.Mutex
	destroyed bool
	sessions  map[string]struct{}
	onDestroy []func(clientID string)

	wg sync.WaitGroup
}

// New starts a Client backed by writer, with its FIFO drain worker running.
func New(id string, writer Writer) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ID:       id,
		writer:   writer,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan sendRequest, 256),
		sessions: make(map[string]struct{}),
	}
	c.wg.Add(1)
	go c.drain()
	return c
}

func (c *Client) drain() {
	defer c.wg.Done()
	for req := range c.queue {
		req.result <- c.writer.WriteMessage(c.ctx, req.frame)
	}
}

// Send enqueues msg on the FIFO send queue and blocks until the single
// drain worker has attempted the write, returning its result. Because the
// queue is FIFO and drained by exactly one worker, the caller's observed
// outbound order always equals the order Send was called in.
func (c *Client) Send(msg *wire.Message) error {
	frame, err := msg.Encode()
	if err != nil {
		return err
	}
	return c.SendRaw(frame)
}

// SendRaw enqueues a pre-encoded frame (e.g. a ping/pong) on the same FIFO
// queue as Send. The destroyed check and the enqueue happen under the same
// mutex Destroy uses to close the queue, so a send can never race a close:
// either it observes destroyed and bails out, or it enqueues before Destroy
// gets a chance to close the channel.
func (c *Client) SendRaw(frame []byte) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	req := sendRequest{frame: frame, result: make(chan error, 1)}
	c.queue <- req
	c.mu.Unlock()

	select {
	case err := <-req.result:
		return err
	case <-c.ctx.Done():
		return ErrDestroyed
	}
}

// OnDestroy registers a callback invoked exactly once when Destroy runs.
func (c *Client) OnDestroy(fn func(clientID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDestroy = append(c.onDestroy, fn)
}

// Destroy idempotently stops the drain worker and fires registered destroy
// callbacks. Calling Destroy more than once is a no-op after the first.
func (c *Client) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	callbacks := append([]func(clientID string){}, c.onDestroy...)
	c.mu.Unlock()

	c.cancel()
	close(c.queue)
	c.wg.Wait()

	for _, fn := range callbacks {
		fn(c.ID)
	}
}

// JoinSession records that the client has joined documentID, for teardown
// bookkeeping only; the Client never holds a reference to the Session.
func (c *Client) JoinSession(documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[documentID] = struct{}{}
}

// LeaveSession removes documentID from the client's joined-session set.
func (c *Client) LeaveSession(documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, documentID)
}

// JoinedSessions returns the document ids this client has joined.
func (c *Client) JoinedSessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sessions))
	for d := range c.sessions {
		out = append(out, d)
	}
	return out
}
