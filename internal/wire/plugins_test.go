package wire

import (
	"bytes"
	"testing"
)

func TestRPCCodecEncodeHookRewritesPayload(t *testing.T) {
	codecs := NewRPCCodecRegistry()
	codecs.Register("ping", RPCCodecHooks{
		EncodeResponse: func(method string, value any) (EncodeHookResult, error) {
			payload, _ := value.([]byte)
			return EncodeHookResult{Handled: true, Bytes: append([]byte{0xAA}, payload...)}, nil
		},
	})

	msg := NewRPCMessage("doc1", false, RPCBody{
		Method: "ping", RequestType: RPCResponse, OriginalRequestID: "req-1",
		Success: true, Payload: []byte("pong"),
	})
	msg.Codecs = codecs

	encoded, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	plain := NewRPCMessage("doc1", false, RPCBody{
		Method: "ping", RequestType: RPCResponse, OriginalRequestID: "req-1",
		Success: true, Payload: []byte("pong"),
	})
	plainEncoded, err := plain.Encode()
	if err != nil {
		t.Fatalf("encode plain: %v", err)
	}
	if bytes.Equal(encoded, plainEncoded) {
		t.Fatal("expected encode hook to change the serialized bytes")
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.RPC.Payload[0] != 0xAA {
		t.Fatalf("expected envelope byte to survive the wire, got %v", decoded.RPC.Payload)
	}
}

func TestRPCCodecDecodeHookStripsEnvelope(t *testing.T) {
	codecs := NewRPCCodecRegistry()
	codecs.Register("ping", RPCCodecHooks{
		EncodeResponse: func(method string, value any) (EncodeHookResult, error) {
			payload, _ := value.([]byte)
			return EncodeHookResult{Handled: true, Bytes: append([]byte{0xAA}, payload...)}, nil
		},
		DecodeResponse: func(method string, payload []byte) (DecodeHookResult, error) {
			if len(payload) == 0 || payload[0] != 0xAA {
				return DecodeHookResult{}, nil
			}
			return DecodeHookResult{Handled: true, Value: append([]byte{}, payload[1:]...)}, nil
		},
	})

	msg := NewRPCMessage("doc1", false, RPCBody{
		Method: "ping", RequestType: RPCResponse, OriginalRequestID: "req-1",
		Success: true, Payload: []byte("pong"),
	})
	msg.Codecs = codecs
	encoded, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeWithCodecs(encoded, codecs)
	if err != nil {
		t.Fatalf("decode with codecs: %v", err)
	}
	if string(decoded.RPC.Payload) != "pong" {
		t.Fatalf("expected decode hook to strip the envelope, got %q", decoded.RPC.Payload)
	}
}

func TestRPCCodecUnregisteredMethodPassesThrough(t *testing.T) {
	codecs := NewRPCCodecRegistry()
	msg := NewRPCMessage("doc1", false, RPCBody{
		Method: "getUser", RequestType: RPCResponse, OriginalRequestID: "req-1",
		Success: true, Payload: []byte("hello"),
	})
	msg.Codecs = codecs

	encoded, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeWithCodecs(encoded, codecs)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded.RPC.Payload) != "hello" {
		t.Fatalf("unexpected payload for unregistered method: %q", decoded.RPC.Payload)
	}
}
