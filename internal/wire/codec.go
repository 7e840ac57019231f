package wire

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// EncodePing returns the exact 7-byte ping frame.
func EncodePing() []byte {
	return append(append([]byte{}, Magic[:]...), pingSuffix[:]...)
}

// EncodePong returns the exact 7-byte pong frame.
func EncodePong() []byte {
	return append(append([]byte{}, Magic[:]...), pongSuffix[:]...)
}

// Encode serializes m to its canonical frame bytes and memoizes the result
// (and the derived message id) on m. Calling Encode more than once returns
// the same bytes without re-encoding.
func (m *Message) Encode() ([]byte, error) {
	if m.encoded != nil {
		return m.encoded, nil
	}

	var buf bytes.Buffer
	buf.Write(Magic[:])
	buf.WriteByte(Version)
	writeVarString(&buf, m.Document)
	buf.WriteByte(boolByte(m.Encrypted))
	buf.WriteByte(byte(m.Type))

	var err error
	switch m.Type {
	case MessageTypeDoc:
		err = encodeDocBody(&buf, m.Doc)
	case MessageTypeAwareness:
		err = encodeAwarenessBody(&buf, m.Awareness)
	case MessageTypeFile:
		err = encodeFileBody(&buf, m.File)
	case MessageTypeRPC:
		if m.Codecs != nil {
			if hookErr := applyRPCEncodeHook(m.Codecs, m.RPC); hookErr != nil {
				return nil, hookErr
			}
		}
		err = encodeRPCBody(&buf, m.RPC)
	case MessageTypeAck:
		err = encodeAckBody(&buf, m.Ack)
	default:
		err = fmt.Errorf("%w: message_type %d", ErrUnknownDiscriminant, m.Type)
	}
	if err != nil {
		return nil, err
	}

	m.encoded = buf.Bytes()
	sum := sha256.Sum256(m.encoded)
	m.id = base64.StdEncoding.EncodeToString(sum[:])
	return m.encoded, nil
}

// ID returns the message's derived id, encoding it first if necessary.
func (m *Message) ID() (string, error) {
	if m.id != "" {
		return m.id, nil
	}
	if _, err := m.Encode(); err != nil {
		return "", err
	}
	return m.id, nil
}

// DecodeWithCodecs is Decode, additionally running codecs' registered
// decode hooks over an rpc message's payload after the opaque byte decode
// completes. A nil codecs behaves exactly like Decode.
func DecodeWithCodecs(frame []byte, codecs *RPCCodecRegistry) (*Message, error) {
	m, err := Decode(frame)
	if err != nil {
		return nil, err
	}
	if codecs != nil && m.Type == MessageTypeRPC && m.RPC != nil {
		if err := applyRPCDecodeHook(codecs, m.RPC); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Decode parses a frame produced by Encode/EncodePing/EncodePong. On success
// for a non-ping/pong frame, the returned Message has its encoded bytes and
// id memoized identically to what Encode would have produced.
func Decode(frame []byte) (*Message, error) {
	if len(frame) < 3 || !bytes.Equal(frame[:3], Magic[:]) {
		return nil, ErrBadMagic
	}
	if len(frame) == 7 {
		if bytes.Equal(frame[3:], pingSuffix[:]) {
			return &Message{Type: 0xFF, encoded: append([]byte{}, frame...)}, nil
		}
		if bytes.Equal(frame[3:], pongSuffix[:]) {
			return &Message{Type: 0xFE, encoded: append([]byte{}, frame...)}, nil
		}
	}

	d := &decoder{buf: frame, pos: 3}
	version, err := d.readByte()
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, ErrVersionMismatch
	}
	document, err := d.readVarString()
	if err != nil {
		return nil, err
	}
	encryptedByte, err := d.readByte()
	if err != nil {
		return nil, err
	}
	typeByte, err := d.readByte()
	if err != nil {
		return nil, err
	}

	m := &Message{Document: document, Encrypted: encryptedByte != 0, Type: MessageType(typeByte)}

	switch m.Type {
	case MessageTypeDoc:
		m.Doc, err = decodeDocBody(d)
	case MessageTypeAwareness:
		m.Awareness, err = decodeAwarenessBody(d)
	case MessageTypeFile:
		m.File, err = decodeFileBody(d)
	case MessageTypeRPC:
		m.RPC, err = decodeRPCBody(d)
	case MessageTypeAck:
		m.Ack, err = decodeAckBody(d)
	default:
		err = fmt.Errorf("%w: message_type %d", ErrUnknownDiscriminant, typeByte)
	}
	if err != nil {
		return nil, err
	}

	m.encoded = append([]byte{}, frame...)
	sum := sha256.Sum256(m.encoded)
	m.id = base64.StdEncoding.EncodeToString(sum[:])
	return m, nil
}

// IsPing reports whether a decoded frame was the ping keepalive.
func (m *Message) IsPing() bool { return m.Type == 0xFF }

// IsPong reports whether a decoded frame was the pong keepalive.
func (m *Message) IsPong() bool { return m.Type == 0xFE }

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// --- doc body ---

func encodeDocBody(buf *bytes.Buffer, b *DocBody) error {
	buf.WriteByte(byte(b.PayloadType))
	switch b.PayloadType {
	case DocSyncStep1:
		writeVarBytes(buf, b.SV)
	case DocSyncStep2, DocUpdate:
		writeVarBytes(buf, b.Update)
	case DocAuthMessage:
		buf.WriteByte(byte(b.Permission))
		if b.Permission == PermissionDenied {
			writeVarString(buf, b.Reason)
		}
	case DocSyncDone:
		// no body
	default:
		return fmt.Errorf("%w: doc_payload_type %d", ErrUnknownDiscriminant, b.PayloadType)
	}
	return nil
}

func decodeDocBody(d *decoder) (*DocBody, error) {
	pt, err := d.readByte()
	if err != nil {
		return nil, err
	}
	b := &DocBody{PayloadType: DocPayloadType(pt)}
	switch b.PayloadType {
	case DocSyncStep1:
		if b.SV, err = d.readVarBytes(); err != nil {
			return nil, err
		}
	case DocSyncStep2, DocUpdate:
		if b.Update, err = d.readVarBytes(); err != nil {
			return nil, err
		}
	case DocAuthMessage:
		perm, err := d.readByte()
		if err != nil {
			return nil, err
		}
		b.Permission = Permission(perm)
		if b.Permission == PermissionDenied {
			if b.Reason, err = d.readVarString(); err != nil {
				return nil, err
			}
		}
	case DocSyncDone:
		// no body
	default:
		return nil, fmt.Errorf("%w: doc_payload_type %d", ErrUnknownDiscriminant, pt)
	}
	return b, nil
}

// --- awareness body ---

func encodeAwarenessBody(buf *bytes.Buffer, b *AwarenessBody) error {
	if b.PayloadType != AwarenessUpdate {
		return fmt.Errorf("%w: awareness_payload_type %d", ErrUnknownDiscriminant, b.PayloadType)
	}
	buf.WriteByte(byte(b.PayloadType))
	writeVarBytes(buf, b.Update)
	return nil
}

func decodeAwarenessBody(d *decoder) (*AwarenessBody, error) {
	pt, err := d.readByte()
	if err != nil {
		return nil, err
	}
	if AwarenessPayloadType(pt) != AwarenessUpdate {
		return nil, fmt.Errorf("%w: awareness_payload_type %d", ErrUnknownDiscriminant, pt)
	}
	update, err := d.readVarBytes()
	if err != nil {
		return nil, err
	}
	return &AwarenessBody{PayloadType: AwarenessUpdate, Update: update}, nil
}

// --- file body ---

func encodeFileBody(buf *bytes.Buffer, b *FileBody) error {
	buf.WriteByte(byte(b.PayloadType))
	switch b.PayloadType {
	case FileRequestType:
		buf.WriteByte(byte(b.Direction))
		writeVarString(buf, b.FileID)
		writeVarString(buf, b.Filename)
		writeUvarint(buf, b.Size)
		writeVarString(buf, b.MimeType)
		if b.ContentID != nil {
			buf.WriteByte(1)
			writeVarBytes(buf, b.ContentID)
		} else {
			buf.WriteByte(0)
		}
	case FileProgressType:
		writeVarString(buf, b.FileID)
		writeUvarint(buf, b.ChunkIndex)
		writeVarBytes(buf, b.ChunkData)
		writeUvarint(buf, b.TotalChunks)
		writeUvarint(buf, b.BytesUploaded)
		buf.WriteByte(boolByte(b.Encrypted))
		writeUvarint(buf, uint64(len(b.Proof)))
		for _, h := range b.Proof {
			buf.Write(h[:])
		}
	default:
		return fmt.Errorf("%w: file_payload_type %d", ErrUnknownDiscriminant, b.PayloadType)
	}
	return nil
}

func decodeFileBody(d *decoder) (*FileBody, error) {
	pt, err := d.readByte()
	if err != nil {
		return nil, err
	}
	b := &FileBody{PayloadType: FilePayloadType(pt)}
	switch b.PayloadType {
	case FileRequestType:
		dir, err := d.readByte()
		if err != nil {
			return nil, err
		}
		b.Direction = FileDirection(dir)
		if b.FileID, err = d.readVarString(); err != nil {
			return nil, err
		}
		if b.Filename, err = d.readVarString(); err != nil {
			return nil, err
		}
		if b.Size, err = d.readUvarint(); err != nil {
			return nil, err
		}
		if b.MimeType, err = d.readVarString(); err != nil {
			return nil, err
		}
		hasContentID, err := d.readByte()
		if err != nil {
			return nil, err
		}
		if hasContentID != 0 {
			if b.ContentID, err = d.readVarBytes(); err != nil {
				return nil, err
			}
		}
	case FileProgressType:
		if b.FileID, err = d.readVarString(); err != nil {
			return nil, err
		}
		if b.ChunkIndex, err = d.readUvarint(); err != nil {
			return nil, err
		}
		if b.ChunkData, err = d.readVarBytes(); err != nil {
			return nil, err
		}
		if b.TotalChunks, err = d.readUvarint(); err != nil {
			return nil, err
		}
		if b.BytesUploaded, err = d.readUvarint(); err != nil {
			return nil, err
		}
		encByte, err := d.readByte()
		if err != nil {
			return nil, err
		}
		b.Encrypted = encByte != 0
		proofCount, err := d.readUvarint()
		if err != nil {
			return nil, err
		}
		b.Proof = make([][32]byte, proofCount)
		for i := range b.Proof {
			raw, err := d.readN(32)
			if err != nil {
				return nil, err
			}
			copy(b.Proof[i][:], raw)
		}
	default:
		return nil, fmt.Errorf("%w: file_payload_type %d", ErrUnknownDiscriminant, pt)
	}
	return b, nil
}

// --- rpc body ---

func encodeRPCBody(buf *bytes.Buffer, b *RPCBody) error {
	writeVarString(buf, b.Method)
	buf.WriteByte(byte(b.RequestType))
	writeVarString(buf, b.OriginalRequestID)
	if b.Success {
		buf.WriteByte(rpcResultSuccess)
		writeVarBytes(buf, b.Payload)
	} else {
		buf.WriteByte(rpcResultError)
		writeUvarint(buf, b.StatusCode)
		writeVarString(buf, b.Details)
		if b.Payload != nil {
			buf.WriteByte(1)
			writeVarBytes(buf, b.Payload)
		} else {
			buf.WriteByte(0)
		}
	}
	return nil
}

func decodeRPCBody(d *decoder) (*RPCBody, error) {
	b := &RPCBody{}
	var err error
	if b.Method, err = d.readVarString(); err != nil {
		return nil, err
	}
	rt, err := d.readByte()
	if err != nil {
		return nil, err
	}
	if rt != byte(RPCRequest) && rt != byte(RPCStream) && rt != byte(RPCResponse) {
		return nil, fmt.Errorf("%w: rpc_request_type %d", ErrUnknownDiscriminant, rt)
	}
	b.RequestType = RPCRequestType(rt)
	if b.OriginalRequestID, err = d.readVarString(); err != nil {
		return nil, err
	}
	kind, err := d.readByte()
	if err != nil {
		return nil, err
	}
	switch kind {
	case rpcResultSuccess:
		b.Success = true
		if b.Payload, err = d.readVarBytes(); err != nil {
			return nil, err
		}
	case rpcResultError:
		b.Success = false
		if b.StatusCode, err = d.readUvarint(); err != nil {
			return nil, err
		}
		if b.Details, err = d.readVarString(); err != nil {
			return nil, err
		}
		hasPayload, err := d.readByte()
		if err != nil {
			return nil, err
		}
		if hasPayload != 0 {
			if b.Payload, err = d.readVarBytes(); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("%w: rpc_result_kind %d", ErrUnknownDiscriminant, kind)
	}
	return b, nil
}

// --- ack body ---

func encodeAckBody(buf *bytes.Buffer, b *AckBody) error {
	writeVarString(buf, b.MessageID)
	return nil
}

func decodeAckBody(d *decoder) (*AckBody, error) {
	id, err := d.readVarString()
	if err != nil {
		return nil, err
	}
	return &AckBody{MessageID: id}, nil
}

// --- primitive helpers ---

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeVarBytes(buf *bytes.Buffer, data []byte) {
	writeUvarint(buf, uint64(len(data)))
	buf.Write(data)
}

func writeVarString(buf *bytes.Buffer, s string) {
	writeVarBytes(buf, []byte(s))
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, ErrTruncatedFrame
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readN(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, ErrTruncatedFrame
	}
	out := d.buf[d.pos : d.pos+n]
	d.pos += n
	return out, nil
}

func (d *decoder) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		return 0, ErrTruncatedFrame
	}
	d.pos += n
	return v, nil
}

func (d *decoder) readVarBytes() ([]byte, error) {
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	raw, err := d.readN(int(n))
	if err != nil {
		return nil, err
	}
	return append([]byte{}, raw...), nil
}

func (d *decoder) readVarString() (string, error) {
	raw, err := d.readVarBytes()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
