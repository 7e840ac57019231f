package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/collabhub/server/internal/client"
	"github.com/collabhub/server/internal/config"
	"github.com/collabhub/server/internal/observability"
	"github.com/collabhub/server/internal/ratelimit"
	"github.com/collabhub/server/internal/registry"
	"github.com/collabhub/server/internal/session"
	"github.com/collabhub/server/internal/transfer"
	"github.com/collabhub/server/internal/wire"
)

// maxFrameSize bounds a single length-prefixed frame read from a
// connection, guarding against a malformed or hostile peer claiming an
// enormous length.
const maxFrameSize = 32 << 20

// hub holds the daemon-wide collaborators every connection shares.
type hub struct {
	cfg         *config.Config
	logger      *observability.Logger
	metrics     *observability.Metrics
	registry    *registry.Registry
	bitmapStore *transfer.BitmapStore
	admission   *ratelimit.Limiter
	chunkSize   int64
	rpcCodecs   *wire.RPCCodecRegistry

	transfersMu sync.Mutex
	transfers   map[string]*transfer.Manager // client id -> its transfer manager
}

// registerTransfers makes st's transfer manager visible to the periodic
// timeout sweep, and deregisterTransfers removes it again on disconnect.
func (h *hub) registerTransfers(clientID string, m *transfer.Manager) {
	h.transfersMu.Lock()
	defer h.transfersMu.Unlock()
	if h.transfers == nil {
		h.transfers = make(map[string]*transfer.Manager)
	}
	h.transfers[clientID] = m
}

func (h *hub) deregisterTransfers(clientID string) {
	h.transfersMu.Lock()
	defer h.transfersMu.Unlock()
	delete(h.transfers, clientID)
}

// sweepTransferTimeouts checks every connection's in-flight downloads for
// stalls, invoked periodically by the janitor.
func (h *hub) sweepTransferTimeouts(now time.Time) int {
	h.transfersMu.Lock()
	managers := make([]*transfer.Manager, 0, len(h.transfers))
	for _, m := range h.transfers {
		managers = append(managers, m)
	}
	h.transfersMu.Unlock()

	total := 0
	for _, m := range managers {
		expired := m.SweepTimeouts(now)
		total += len(expired)
		for _, fileID := range expired {
			h.logger.Warn("transfer timed out: " + fileID)
			h.metrics.RecordChunkRejected("timeout")
		}
	}
	return total
}

// streamWriter adapts a QUIC stream to client.Writer by length-prefixing
// each frame, since a QUIC stream (unlike a WebSocket) carries a plain byte
// stream with no message boundaries of its own.
type streamWriter struct {
	stream quic.Stream
}

func (w *streamWriter) WriteMessage(ctx context.Context, frame []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if _, err := w.stream.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.stream.Write(frame)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("hubd: frame of %d bytes exceeds max %d", n, maxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// connState tracks the per-connection bookkeeping a client's single stream
// needs: which sessions it has joined (so they can be left on disconnect)
// and any file transfers it has in flight.
type connState struct {
	cl       *client.Client
	transfer *transfer.Manager

	mu      sync.Mutex
	sessions map[string]*session.Session
}

func (h *hub) handleConnection(ctx context.Context, conn *quic.Conn) {
	defer conn.CloseWithError(0, "")
	defer h.admission.Forget(conn.RemoteAddr().String())

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		h.logger.ConnectionFailed(conn.RemoteAddr().String(), err)
		return
	}
	defer stream.Close()

	cl := client.New(uuid.NewString(), &streamWriter{stream: stream})
	st := &connState{
		cl:       cl,
		transfer: transfer.NewManagerWithTimeout(h.bitmapStore, h.cfg.TransferTimeout),
		sessions: make(map[string]*session.Session),
	}
	h.registerTransfers(cl.ID, st.transfer)
	defer h.disconnect(st)

	for {
		frame, err := readFrame(stream)
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Debug("connection " + cl.ID + " closed: " + err.Error())
			}
			return
		}
		if err := h.handleFrame(ctx, st, frame); err != nil {
			h.logger.Error(err, "error handling frame from "+cl.ID)
		}
	}
}

func (h *hub) disconnect(st *connState) {
	h.deregisterTransfers(st.cl.ID)

	st.mu.Lock()
	sessions := make([]*session.Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		sessions = append(sessions, s)
	}
	st.mu.Unlock()

	for _, s := range sessions {
		s.RemoveClient(st.cl.ID)
	}
	st.cl.Destroy()
}

func (h *hub) handleFrame(ctx context.Context, st *connState, frame []byte) error {
	msg, err := wire.DecodeWithCodecs(frame, h.rpcCodecs)
	if err != nil {
		h.logger.Warn("dropping malformed frame from " + st.cl.ID + ": " + err.Error())
		return nil
	}
	if msg.IsPing() {
		return st.cl.SendRaw(wire.EncodePong())
	}
	if msg.IsPong() {
		return nil
	}

	if msg.Type == wire.MessageTypeFile {
		return h.handleFile(ctx, st, msg)
	}

	if msg.Document == "" {
		return nil
	}
	sess, err := h.registry.GetOrCreate(ctx, msg.Document)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if _, joined := st.sessions[msg.Document]; !joined {
		st.sessions[msg.Document] = sess
		st.mu.Unlock()
		sess.AddClient(st.cl)
	} else {
		st.mu.Unlock()
	}

	return sess.Apply(ctx, msg, st.cl)
}

// handleFile drives the receiving half of C3: a peer pushing a file upload
// to this node. Downloads (a peer pulling content from this node) are not
// served here since persistent file storage is an external collaborator
// per spec, named but not implemented by this daemon.
func (h *hub) handleFile(ctx context.Context, st *connState, msg *wire.Message) error {
	body := msg.File
	switch body.PayloadType {
	case wire.FileRequestType:
		if body.Direction != wire.FileDirectionUpload {
			return nil
		}
		if _, err := st.transfer.BeginDownload(body, h.chunkSize, nil); err != nil {
			return err
		}
		h.metrics.RecordTransferStart()
		return nil

	case wire.FileProgressType:
		if err := st.transfer.AcceptChunk(ctx, body); err != nil {
			h.metrics.RecordChunkRejected(err.Error())
			h.logger.ChunkRejected(body.FileID, body.ChunkIndex, err.Error())
			return err
		}
		h.metrics.RecordChunkReceived()

		dl, ok := st.transfer.Get(body.FileID)
		if !ok {
			return nil
		}
		if dl.Complete() {
			if _, err := dl.Assemble(); err != nil {
				return err
			}
			h.logger.TransferCompleted(body.FileID, int64(dl.Size), body.TotalChunks, 0)
			h.metrics.RecordTransferComplete(0)
			return st.transfer.Finish(body.FileID)
		}
		return nil

	default:
		return nil
	}
}
