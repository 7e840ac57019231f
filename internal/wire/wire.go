// Package wire implements the self-describing binary frame format exchanged
// between clients and the collaboration hub: doc sync, awareness, file
// transfer, RPC, and ack messages, plus the bare ping/pong keepalives.
package wire

// Magic identifies every frame produced by this codec. Ping and pong frames
// are the magic followed by the literal ASCII suffix "ping"/"pong" and carry
// no other fields.
var Magic = [3]byte{0x59, 0x4A, 0x53}

// Version is the only frame version this codec understands.
const Version byte = 0x01

var pingSuffix = [4]byte{0x70, 0x69, 0x6E, 0x67}
var pongSuffix = [4]byte{0x70, 0x6F, 0x6E, 0x67}

// MessageType is the wire discriminant carried by every non-ping/pong frame.
type MessageType byte

const (
	MessageTypeDoc       MessageType = 0
	MessageTypeAwareness MessageType = 1
	MessageTypeFile      MessageType = 3
	MessageTypeRPC       MessageType = 4
	MessageTypeAck       MessageType = 5
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeDoc:
		return "doc"
	case MessageTypeAwareness:
		return "awareness"
	case MessageTypeFile:
		return "file"
	case MessageTypeRPC:
		return "rpc"
	case MessageTypeAck:
		return "ack"
	default:
		return "unknown"
	}
}

// DocPayloadType is the discriminant carried by the body of a doc message.
type DocPayloadType byte

const (
	DocSyncStep1   DocPayloadType = 0
	DocSyncStep2   DocPayloadType = 1
	DocUpdate      DocPayloadType = 2
	DocAuthMessage DocPayloadType = 3
	DocSyncDone    DocPayloadType = 4
)

// AwarenessPayloadType is the discriminant carried by the body of an
// awareness message. Only one variant exists on the wire today.
type AwarenessPayloadType byte

const AwarenessUpdate AwarenessPayloadType = 1

// FilePayloadType is the discriminant carried by the body of a file
// message: a file-transfer request/metadata frame, or a progress update.
type FilePayloadType byte

const (
	FileRequestType  FilePayloadType = 0
	FileProgressType FilePayloadType = 1
)

// FileDirection distinguishes upload from download in a file-request body.
type FileDirection byte

const (
	FileDirectionUpload   FileDirection = 0
	FileDirectionDownload FileDirection = 1
)

// RPCRequestType is the discriminant carried by the body of an rpc message.
type RPCRequestType byte

const (
	RPCRequest  RPCRequestType = 0
	RPCStream   RPCRequestType = 1
	RPCResponse RPCRequestType = 2
)

// RPC result-kind byte, used only inline in codec.go (success=1, error=0).
const (
	rpcResultError   byte = 0
	rpcResultSuccess byte = 1
)

// Permission is the grant/deny byte carried by an auth-message doc body.
type Permission byte

const (
	PermissionGranted Permission = 0
	PermissionDenied  Permission = 1
)

// RPC response status codes for the two built-in failure cases.
const (
	StatusCodeUnknownMethod uint64 = 501
	StatusCodeHandlerError  uint64 = 500
)
