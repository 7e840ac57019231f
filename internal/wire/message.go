package wire

// DocBody carries the payload of a doc message. Only the fields relevant to
// PayloadType are meaningful; the rest are left at their zero value.
type DocBody struct {
	PayloadType DocPayloadType
	SV          []byte // sync-step-1
	Update      []byte // sync-step-2, update
	Permission  Permission
	Reason      string // auth-message, only when Permission == PermissionDenied
}

// AwarenessBody carries the payload of an awareness message.
type AwarenessBody struct {
	PayloadType AwarenessPayloadType
	Update      []byte
}

// FileBody carries the payload of a file message. FileRequest fields are
// populated for PayloadType == FileRequestType; FileProgress fields for
// FileProgressType.
type FileBody struct {
	PayloadType FilePayloadType

	// file-request
	Direction FileDirection
	FileID    string
	Filename  string
	Size      uint64
	MimeType  string
	ContentID []byte // optional

	// file-progress
	ChunkIndex    uint64
	ChunkData     []byte
	TotalChunks   uint64
	BytesUploaded uint64
	Encrypted     bool
	Proof         [][32]byte
}

// RPCBody carries the payload of an rpc message.
type RPCBody struct {
	Method            string
	RequestType       RPCRequestType
	OriginalRequestID string

	// result kind, meaningful only when RequestType == RPCResponse
	Success bool

	Payload    []byte // present on success; optional on error
	StatusCode uint64
	Details    string
}

// AckBody carries the payload of an ack message.
type AckBody struct {
	MessageID string
}

// Message is a decoded frame. Exactly one of Doc, Awareness, File, RPC, Ack
// is non-nil, matching Type. Document is the empty string for ack messages.
type Message struct {
	Type      MessageType
	Document  string
	Encrypted bool

	Doc       *DocBody
	Awareness *AwarenessBody
	File      *FileBody
	RPC       *RPCBody
	Ack       *AckBody

	// Codecs, when set on an rpc message, lets a registered method rewrite
	// RPC.Payload through a custom encoder before the frame is serialized.
	// Since the message id is derived from the encoded bytes, whichever
	// encoder actually ran is what the id covers.
	Codecs *RPCCodecRegistry

	encoded []byte
	id      string
}

// NewDocMessage constructs a doc message ready for Encode.
func NewDocMessage(document string, encrypted bool, body DocBody) *Message {
	return &Message{Type: MessageTypeDoc, Document: document, Encrypted: encrypted, Doc: &body}
}

// NewAwarenessMessage constructs an awareness message ready for Encode.
func NewAwarenessMessage(document string, encrypted bool, body AwarenessBody) *Message {
	return &Message{Type: MessageTypeAwareness, Document: document, Encrypted: encrypted, Awareness: &body}
}

// NewFileMessage constructs a file message ready for Encode.
func NewFileMessage(document string, encrypted bool, body FileBody) *Message {
	return &Message{Type: MessageTypeFile, Document: document, Encrypted: encrypted, File: &body}
}

// NewRPCMessage constructs an rpc message ready for Encode.
func NewRPCMessage(document string, encrypted bool, body RPCBody) *Message {
	return &Message{Type: MessageTypeRPC, Document: document, Encrypted: encrypted, RPC: &body}
}

// NewAckMessage constructs an ack message ready for Encode. Ack messages
// carry no document field on the wire.
func NewAckMessage(encrypted bool, messageID string) *Message {
	return &Message{Type: MessageTypeAck, Document: "", Encrypted: encrypted, Ack: &AckBody{MessageID: messageID}}
}

// IsEmptySV reports whether a sync-step-1 state vector is the canonical
// empty encoding (zero-length).
func IsEmptySV(sv []byte) bool { return len(sv) == 0 }

// IsEmptyUpdate reports whether an update byte string is the canonical
// empty encoding (zero-length).
func IsEmptyUpdate(update []byte) bool { return len(update) == 0 }
