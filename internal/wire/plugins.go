package wire

import "fmt"

// EncodeHookResult is returned by a custom RPC payload encoder.
type EncodeHookResult struct {
	Handled bool
	Bytes   []byte
}

// DecodeHookResult is returned by a custom RPC payload decoder.
type DecodeHookResult struct {
	Handled bool
	Value   any
}

// RPCCodecHooks lets higher layers plug typed schemas onto an RPC method's
// payload bytes without changing the frame. A hook that is not interested in
// a given message returns Handled == false and the codec falls back to the
// opaque byte payload, preserving forward compatibility.
type RPCCodecHooks struct {
	EncodeRequest  func(method string, value any) (EncodeHookResult, error)
	EncodeStream   func(method string, value any) (EncodeHookResult, error)
	EncodeResponse func(method string, value any) (EncodeHookResult, error)
	DecodeRequest  func(method string, payload []byte) (DecodeHookResult, error)
	DecodeStream   func(method string, payload []byte) (DecodeHookResult, error)
	DecodeResponse func(method string, payload []byte) (DecodeHookResult, error)
}

// RPCCodecRegistry maps an RPC method name to its optional custom hooks.
// Methods with no registered hooks always use the opaque payload encoding.
type RPCCodecRegistry struct {
	hooks map[string]RPCCodecHooks
}

// NewRPCCodecRegistry returns an empty registry.
func NewRPCCodecRegistry() *RPCCodecRegistry {
	return &RPCCodecRegistry{hooks: make(map[string]RPCCodecHooks)}
}

// Register installs hooks for method, replacing any previously registered
// hooks for the same method.
func (r *RPCCodecRegistry) Register(method string, hooks RPCCodecHooks) {
	r.hooks[method] = hooks
}

// Lookup returns the hooks registered for method, if any.
func (r *RPCCodecRegistry) Lookup(method string) (RPCCodecHooks, bool) {
	h, ok := r.hooks[method]
	return h, ok
}

// applyRPCEncodeHook rewrites b.Payload through the registered encoder for
// b.Method/b.RequestType, if one exists and claims the value. A method with
// no registered hooks, or a hook that returns Handled == false, leaves
// b.Payload untouched and the opaque byte encoding applies as usual.
func applyRPCEncodeHook(reg *RPCCodecRegistry, b *RPCBody) error {
	hooks, ok := reg.Lookup(b.Method)
	if !ok {
		return nil
	}
	var hookFn func(method string, value any) (EncodeHookResult, error)
	switch b.RequestType {
	case RPCRequest:
		hookFn = hooks.EncodeRequest
	case RPCStream:
		hookFn = hooks.EncodeStream
	case RPCResponse:
		hookFn = hooks.EncodeResponse
	}
	if hookFn == nil {
		return nil
	}
	result, err := hookFn(b.Method, b.Payload)
	if err != nil {
		return fmt.Errorf("wire: encode hook for %q: %w", b.Method, err)
	}
	if result.Handled {
		b.Payload = result.Bytes
	}
	return nil
}

// applyRPCDecodeHook runs the registered decoder for b.Method/b.RequestType
// over the just-decoded b.Payload. A hook that claims the value can replace
// b.Payload with a canonicalized form (e.g. after transparently unwrapping
// a versioned envelope the opaque codec doesn't know about).
func applyRPCDecodeHook(reg *RPCCodecRegistry, b *RPCBody) error {
	hooks, ok := reg.Lookup(b.Method)
	if !ok {
		return nil
	}
	var hookFn func(method string, payload []byte) (DecodeHookResult, error)
	switch b.RequestType {
	case RPCRequest:
		hookFn = hooks.DecodeRequest
	case RPCStream:
		hookFn = hooks.DecodeStream
	case RPCResponse:
		hookFn = hooks.DecodeResponse
	}
	if hookFn == nil {
		return nil
	}
	result, err := hookFn(b.Method, b.Payload)
	if err != nil {
		return fmt.Errorf("wire: decode hook for %q: %w", b.Method, err)
	}
	if result.Handled {
		if decoded, ok := result.Value.([]byte); ok {
			b.Payload = decoded
		}
	}
	return nil
}
