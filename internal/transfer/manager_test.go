package transfer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/collabhub/server/internal/wire"
)

func uploadAndCapture(t *testing.T, fileID string, content []byte, chunkSize int64) *capturingSender {
	t.Helper()
	upload := NewUpload(fileID, "doc", content, chunkSize, false, nil)
	sender := &capturingSender{}
	if err := upload.SendRequest(sender, "f", uint64(len(content)), "application/octet-stream"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := upload.SendAll(context.Background(), sender); err != nil {
		t.Fatalf("SendAll: %v", err)
	}
	return sender
}

func TestManagerAcceptChunksPersistsBitmap(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBitmapStore(filepath.Join(dir, "bitmaps.db"))
	if err != nil {
		t.Fatalf("OpenBitmapStore: %v", err)
	}
	defer store.Close()

	mgr := NewManager(store)
	content := make([]byte, 96)
	sender := uploadAndCapture(t, "file-mgr", content, 32)

	request := sender.messages[0].File
	dl, err := mgr.BeginDownload(request, 32, nil)
	if err != nil {
		t.Fatalf("BeginDownload: %v", err)
	}
	if dl.FileID != "file-mgr" {
		t.Fatalf("unexpected file id %q", dl.FileID)
	}

	for _, msg := range sender.messages[1:] {
		if err := mgr.AcceptChunk(context.Background(), msg.File); err != nil {
			t.Fatalf("AcceptChunk: %v", err)
		}
	}
	if !dl.Complete() {
		t.Fatal("expected download to be complete")
	}

	// Simulate a restart: a fresh manager over the same store should resume
	// from the persisted bitmap instead of starting empty.
	mgr2 := NewManager(store)
	resumed, err := mgr2.BeginDownload(request, 32, nil)
	if err != nil {
		t.Fatalf("BeginDownload (resume): %v", err)
	}
	if !resumed.Complete() {
		t.Fatal("expected resumed download to already be complete from the persisted bitmap")
	}

	if err := mgr2.Finish("file-mgr"); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if _, err := store.Load("file-mgr"); err != ErrBitmapNotFound {
		t.Fatalf("expected bitmap to be deleted after Finish, got %v", err)
	}
}

func TestManagerAcceptChunkUnknownDownloadErrors(t *testing.T) {
	mgr := NewManager(nil)
	err := mgr.AcceptChunk(context.Background(), &wire.FileBody{FileID: "never-started"})
	if err == nil {
		t.Fatal("expected error for unknown download")
	}
}

func TestManagerSweepTimeoutsEvictsStalledDownloads(t *testing.T) {
	mgr := NewManagerWithTimeout(nil, time.Minute)
	content := make([]byte, 64)
	sender := uploadAndCapture(t, "file-stall", content, 32)
	request := sender.messages[0].File

	if _, err := mgr.BeginDownload(request, 32, nil); err != nil {
		t.Fatalf("BeginDownload: %v", err)
	}

	future := time.Now().Add(2 * time.Minute)
	expired := mgr.SweepTimeouts(future)
	if len(expired) != 1 || expired[0] != "file-stall" {
		t.Fatalf("expected [file-stall] to time out, got %v", expired)
	}
	if _, ok := mgr.Get("file-stall"); ok {
		t.Fatal("expected timed-out download to be removed from the manager")
	}
}

func TestManagerSweepTimeoutsLeavesActiveDownloads(t *testing.T) {
	mgr := NewManagerWithTimeout(nil, time.Minute)
	content := make([]byte, 64)
	sender := uploadAndCapture(t, "file-active", content, 32)
	request := sender.messages[0].File

	if _, err := mgr.BeginDownload(request, 32, nil); err != nil {
		t.Fatalf("BeginDownload: %v", err)
	}

	expired := mgr.SweepTimeouts(time.Now())
	if len(expired) != 0 {
		t.Fatalf("expected no timeouts yet, got %v", expired)
	}
	if _, ok := mgr.Get("file-active"); !ok {
		t.Fatal("expected active download to remain tracked")
	}
}
