package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/collabhub/server/internal/client"
	"github.com/collabhub/server/internal/wire"
)

// RPCContext carries request-scoped information into an RPC handler.
type RPCContext struct {
	DocumentID string
	ClientID   string
}

// RPCHandler answers a single request/response RPC call.
type RPCHandler func(ctx context.Context, rc RPCContext, payload []byte) ([]byte, error)

// RPCStreamHandler answers a streaming RPC call, invoking send once per
// item it wants delivered to the caller before returning.
type RPCStreamHandler func(ctx context.Context, rc RPCContext, payload []byte, send func(item []byte) error) error

// RPCError lets a handler control the response status code; any other
// error from a handler is reported with StatusCodeHandlerError.
type RPCError struct {
	StatusCode uint64
	Message    string
}

func (e *RPCError) Error() string { return e.Message }

// RPCRegistration binds a method name to its handler(s). A method may
// support plain request/response, streaming, or both.
type RPCRegistration struct {
	Handler       RPCHandler
	StreamHandler RPCStreamHandler
}

// RPCRegistry is a method-name keyed table of RPC handlers shared by every
// session (documents differ, but the set of methods a hub exposes doesn't).
type RPCRegistry struct {
	mu      sync.RWMutex
	methods map[string]RPCRegistration
}

// NewRPCRegistry returns an empty RPCRegistry.
func NewRPCRegistry() *RPCRegistry {
	return &RPCRegistry{methods: make(map[string]RPCRegistration)}
}

// Register binds method to reg, replacing any prior registration.
func (r *RPCRegistry) Register(method string, reg RPCRegistration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[method] = reg
}

// Lookup returns the registration for method, if any.
func (r *RPCRegistry) Lookup(method string) (RPCRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.methods[method]
	return reg, ok
}

func statusCodeFromErr(err error) uint64 {
	if rpcErr, ok := err.(*RPCError); ok && rpcErr.StatusCode != 0 {
		return rpcErr.StatusCode
	}
	return wire.StatusCodeHandlerError
}

func detailsFromErr(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func unknownMethodError(method string) error {
	return fmt.Errorf("rpc: unknown method %q", method)
}

// applyRPC dispatches an rpc message that arrived from cl: request and
// stream calls are routed to the registered handler (or answered with
// StatusCodeUnknownMethod if none exists); response messages are
// terminal and require no action here.
func (s *Session) applyRPC(ctx context.Context, msg *wire.Message, cl *client.Client) error {
	body := msg.RPC
	rc := RPCContext{DocumentID: s.DocumentID, ClientID: cl.ID}

	switch body.RequestType {
	case wire.RPCResponse:
		return nil

	case wire.RPCRequest:
		reg, ok := s.rpc.Lookup(body.Method)
		if !ok {
			if s.logger != nil {
				s.logger.RPCUnknownMethod(body.Method)
			}
			originalID, _ := msg.ID()
			return s.sendRPCError(cl, msg, body.Method, originalID, wire.StatusCodeUnknownMethod, unknownMethodError(body.Method).Error())
		}
		return s.dispatchRPCRequest(ctx, rc, cl, msg, reg)

	case wire.RPCStream:
		originalID := body.OriginalRequestID
		if originalID == "" {
			if id, err := msg.ID(); err == nil {
				originalID = id
			}
		}
		reg, ok := s.rpc.Lookup(body.Method)
		if !ok || reg.StreamHandler == nil {
			if s.logger != nil {
				s.logger.RPCUnknownMethod(body.Method)
			}
			return s.sendRPCError(cl, msg, body.Method, originalID, wire.StatusCodeUnknownMethod, unknownMethodError(body.Method).Error())
		}
		err := reg.StreamHandler(ctx, rc, body.Payload, func(item []byte) error {
			return cl.Send(s.withCodecs(wire.NewRPCMessage(msg.Document, s.encrypted, wire.RPCBody{
				Method: body.Method, RequestType: wire.RPCStream, OriginalRequestID: originalID,
				Success: true, Payload: item,
			})))
		})
		if err != nil {
			if s.logger != nil {
				s.logger.RPCHandlerError(body.Method, err)
			}
			return s.sendRPCError(cl, msg, body.Method, originalID, statusCodeFromErr(err), detailsFromErr(err))
		}
		return nil

	default:
		return fmt.Errorf("session: unhandled rpc request type %d", body.RequestType)
	}
}

func (s *Session) dispatchRPCRequest(ctx context.Context, rc RPCContext, cl *client.Client, msg *wire.Message, reg RPCRegistration) error {
	originalID, err := msg.ID()
	if err != nil {
		return err
	}
	body := msg.RPC

	if reg.StreamHandler != nil {
		streamErr := reg.StreamHandler(ctx, rc, body.Payload, func(item []byte) error {
			return cl.Send(s.withCodecs(wire.NewRPCMessage(msg.Document, s.encrypted, wire.RPCBody{
				Method: body.Method, RequestType: wire.RPCStream, OriginalRequestID: originalID,
				Success: true, Payload: item,
			})))
		})
		if streamErr != nil {
			if s.logger != nil {
				s.logger.RPCHandlerError(body.Method, streamErr)
			}
			return s.sendRPCError(cl, msg, body.Method, originalID, statusCodeFromErr(streamErr), detailsFromErr(streamErr))
		}
		return s.sendRPCSuccess(cl, msg, body.Method, originalID, nil)
	}

	if reg.Handler != nil {
		payload, handlerErr := reg.Handler(ctx, rc, body.Payload)
		if handlerErr != nil {
			if s.logger != nil {
				s.logger.RPCHandlerError(body.Method, handlerErr)
			}
			return s.sendRPCError(cl, msg, body.Method, originalID, statusCodeFromErr(handlerErr), detailsFromErr(handlerErr))
		}
		return s.sendRPCSuccess(cl, msg, body.Method, originalID, payload)
	}

	return s.sendRPCError(cl, msg, body.Method, originalID, wire.StatusCodeUnknownMethod, unknownMethodError(body.Method).Error())
}

func (s *Session) sendRPCSuccess(cl *client.Client, msg *wire.Message, method, originalID string, payload []byte) error {
	return cl.Send(s.withCodecs(wire.NewRPCMessage(msg.Document, s.encrypted, wire.RPCBody{
		Method: method, RequestType: wire.RPCResponse, OriginalRequestID: originalID,
		Success: true, Payload: payload,
	})))
}

func (s *Session) sendRPCError(cl *client.Client, msg *wire.Message, method, originalID string, statusCode uint64, details string) error {
	return cl.Send(s.withCodecs(wire.NewRPCMessage(msg.Document, s.encrypted, wire.RPCBody{
		Method: method, RequestType: wire.RPCResponse, OriginalRequestID: originalID,
		Success: false, StatusCode: statusCode, Details: details,
	})))
}

// withCodecs attaches the session's RPC codec registry to an outgoing rpc
// message so any method-specific encoder registered on it runs during
// Encode, before the id is derived from the resulting bytes.
func (s *Session) withCodecs(msg *wire.Message) *wire.Message {
	msg.Codecs = s.codecs
	return msg
}
