package transfer

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/collabhub/server/internal/wire"
)

type capturingSender struct {
	messages []*wire.Message
}

func (s *capturingSender) Send(msg *wire.Message) error {
	s.messages = append(s.messages, msg)
	return nil
}

func TestUploadDownloadRoundTripUnencrypted(t *testing.T) {
	content := make([]byte, 130)
	if _, err := rand.Read(content); err != nil {
		t.Fatalf("rand: %v", err)
	}

	upload := NewUpload("file-1", "doc-1", content, 64, false, nil)
	sender := &capturingSender{}
	if err := upload.SendRequest(sender, "report.bin", uint64(len(content)), "application/octet-stream"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := upload.SendAll(context.Background(), sender); err != nil {
		t.Fatalf("SendAll: %v", err)
	}
	if len(sender.messages) != 1+int(upload.TotalChunks()) {
		t.Fatalf("expected %d messages, got %d", 1+upload.TotalChunks(), len(sender.messages))
	}

	request := sender.messages[0].File
	root, err := ParseRoot(request.ContentID)
	if err != nil {
		t.Fatalf("ParseRoot: %v", err)
	}
	if root != upload.Root() {
		t.Fatal("parsed root does not match upload's root")
	}

	download := NewDownload(request.FileID, request.Filename, request.Size, request.MimeType, root, 64, nil)
	for _, msg := range sender.messages[1:] {
		if err := download.AcceptChunk(context.Background(), msg.File); err != nil {
			t.Fatalf("AcceptChunk: %v", err)
		}
	}
	if !download.Complete() {
		t.Fatal("expected download to be complete")
	}
	assembled, err := download.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if string(assembled) != string(content) {
		t.Fatal("assembled content does not match original")
	}
}

func TestUploadDownloadRoundTripEncrypted(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog, repeated for bulk, ")
	enc := fakeEncryptor{}

	upload := NewUpload("file-2", "doc-1", content, 16, true, enc)
	sender := &capturingSender{}
	if err := upload.SendRequest(sender, "msg.txt", uint64(len(content)), "text/plain"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := upload.SendAll(context.Background(), sender); err != nil {
		t.Fatalf("SendAll: %v", err)
	}

	request := sender.messages[0].File
	root, _ := ParseRoot(request.ContentID)
	download := NewDownload(request.FileID, request.Filename, request.Size, request.MimeType, root, 16, enc)
	for _, msg := range sender.messages[1:] {
		if err := download.AcceptChunk(context.Background(), msg.File); err != nil {
			t.Fatalf("AcceptChunk: %v", err)
		}
	}
	assembled, err := download.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if string(assembled) != string(content) {
		t.Fatal("assembled content does not match original")
	}
}

func TestAcceptChunkRejectsTamperedData(t *testing.T) {
	content := make([]byte, 64)
	upload := NewUpload("file-3", "doc-1", content, 32, false, nil)
	sender := &capturingSender{}
	upload.SendRequest(sender, "f", uint64(len(content)), "application/octet-stream")
	upload.SendAll(context.Background(), sender)

	request := sender.messages[0].File
	root, _ := ParseRoot(request.ContentID)
	download := NewDownload(request.FileID, request.Filename, request.Size, request.MimeType, root, 32, nil)

	tampered := *sender.messages[1].File
	tampered.ChunkData = append([]byte{}, tampered.ChunkData...)
	tampered.ChunkData[0] ^= 0xFF
	if err := download.AcceptChunk(context.Background(), &tampered); err == nil {
		t.Fatal("expected proof verification to fail on tampered chunk data")
	}
}

func TestAcceptChunkDuplicateIsNoOp(t *testing.T) {
	content := make([]byte, 32)
	upload := NewUpload("file-4", "doc-1", content, 32, false, nil)
	sender := &capturingSender{}
	upload.SendRequest(sender, "f", uint64(len(content)), "application/octet-stream")
	upload.SendAll(context.Background(), sender)

	request := sender.messages[0].File
	root, _ := ParseRoot(request.ContentID)
	download := NewDownload(request.FileID, request.Filename, request.Size, request.MimeType, root, 32, nil)

	body := sender.messages[1].File
	if err := download.AcceptChunk(context.Background(), body); err != nil {
		t.Fatalf("first AcceptChunk: %v", err)
	}
	if err := download.AcceptChunk(context.Background(), body); err != nil {
		t.Fatalf("duplicate AcceptChunk should be a no-op, got: %v", err)
	}
	received, total := download.Progress()
	if received != 1 || total != 1 {
		t.Fatalf("expected progress 1/1, got %d/%d", received, total)
	}
}

func TestAssembleBeforeCompleteFails(t *testing.T) {
	download := NewDownload("file-5", "f", 64, "application/octet-stream", [32]byte{}, 32, nil)
	if _, err := download.Assemble(); err != ErrIncomplete {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}
