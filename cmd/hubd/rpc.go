package main

import (
	"context"
	"fmt"

	"github.com/collabhub/server/internal/session"
	"github.com/collabhub/server/internal/wire"
)

// newDemoRPCRegistry registers the handful of built-in RPC methods every
// hub exposes regardless of the application wired on top of it: a liveness
// probe and a per-document echo, useful for exercising the rpc request and
// stream code paths end to end against a real connection.
func newDemoRPCRegistry() *session.RPCRegistry {
	reg := session.NewRPCRegistry()

	reg.Register("ping", session.RPCRegistration{
		Handler: func(ctx context.Context, rc session.RPCContext, payload []byte) ([]byte, error) {
			return []byte("pong"), nil
		},
	})

	reg.Register("echo.stream", session.RPCRegistration{
		StreamHandler: func(ctx context.Context, rc session.RPCContext, payload []byte, send func(item []byte) error) error {
			if len(payload) == 0 {
				return fmt.Errorf("echo.stream: empty payload")
			}
			for _, b := range payload {
				if err := send([]byte{b}); err != nil {
					return err
				}
			}
			return nil
		},
	})

	return reg
}

// pingEnvelopeVersion prefixes ping's response payload so a future change
// to what "ping" carries can be distinguished from the plain-string replies
// this version sends.
const pingEnvelopeVersion = 0x01

// newDemoRPCCodecs registers the custom wire framing the demo registry's
// "ping" method uses: responses are prefixed with a one-byte envelope
// version ahead of the payload bytes, and that prefix is stripped again on
// decode so a handler never has to know the envelope exists.
func newDemoRPCCodecs() *wire.RPCCodecRegistry {
	codecs := wire.NewRPCCodecRegistry()
	codecs.Register("ping", wire.RPCCodecHooks{
		EncodeResponse: func(method string, value any) (wire.EncodeHookResult, error) {
			payload, _ := value.([]byte)
			envelope := make([]byte, 0, len(payload)+1)
			envelope = append(envelope, pingEnvelopeVersion)
			envelope = append(envelope, payload...)
			return wire.EncodeHookResult{Handled: true, Bytes: envelope}, nil
		},
		DecodeResponse: func(method string, payload []byte) (wire.DecodeHookResult, error) {
			if len(payload) == 0 || payload[0] != pingEnvelopeVersion {
				return wire.DecodeHookResult{}, nil
			}
			return wire.DecodeHookResult{Handled: true, Value: append([]byte{}, payload[1:]...)}, nil
		},
	})
	return codecs
}
