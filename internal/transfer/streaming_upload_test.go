package transfer

import (
	"context"
	"testing"
)

// sliceChunkSource serves pre-split chunks, standing in for a real source
// that would read them off disk one at a time.
type sliceChunkSource struct {
	chunks [][]byte
}

func (s *sliceChunkSource) NumChunks() int { return len(s.chunks) }

func (s *sliceChunkSource) ReadChunk(i int) ([]byte, error) {
	return s.chunks[i], nil
}

func TestStreamingUploadMatchesBufferedUploadRoot(t *testing.T) {
	content := make([]byte, 130)
	for i := range content {
		content[i] = byte(i)
	}
	chunkSize := int64(64)

	buffered := NewUpload("file-stream-1", "doc-1", content, chunkSize, false, nil)

	src := &sliceChunkSource{chunks: SplitChunks(content, chunkSize)}
	streaming := NewStreamingUpload("file-stream-1", "doc-1", false, nil, src)
	if err := streaming.ComputeRoot(context.Background()); err != nil {
		t.Fatalf("ComputeRoot: %v", err)
	}

	if streaming.Root() != buffered.Root() {
		t.Fatal("streaming upload root does not match buffered upload root")
	}
}

func TestStreamingUploadDownloadRoundTrip(t *testing.T) {
	content := make([]byte, 200)
	for i := range content {
		content[i] = byte(i * 3)
	}
	chunkSize := int64(32)
	src := &sliceChunkSource{chunks: SplitChunks(content, chunkSize)}

	upload := NewStreamingUpload("file-stream-2", "doc-1", false, nil, src)
	if err := upload.ComputeRoot(context.Background()); err != nil {
		t.Fatalf("ComputeRoot: %v", err)
	}

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

	download := NewDownload(request.FileID, request.Filename, request.Size, request.MimeType, root, chunkSize, nil)
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

func TestStreamingUploadRequiresComputeRootFirst(t *testing.T) {
	src := &sliceChunkSource{chunks: [][]byte{{1, 2, 3}}}
	upload := NewStreamingUpload("file-stream-3", "doc-1", false, nil, src)
	sender := &capturingSender{}
	if err := upload.SendRequest(sender, "f", 3, "application/octet-stream"); err == nil {
		t.Fatal("expected SendRequest to fail before ComputeRoot")
	}
	if err := upload.SendAll(context.Background(), sender); err == nil {
		t.Fatal("expected SendAll to fail before ComputeRoot")
	}
}
