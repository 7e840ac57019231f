package transfer

import (
	"context"
	"errors"
	"testing"
)

func TestTotalChunksRoundsUpAndFloorsAtOne(t *testing.T) {
	cases := []struct {
		size, chunkSize int64
		want            uint64
	}{
		{0, 1024, 1},
		{1024, 1024, 1},
		{1025, 1024, 2},
		{2048, 1024, 2},
		{100, 0, 1}, // zero chunkSize falls back to DefaultChunkSize
	}
	for _, c := range cases {
		if got := TotalChunks(c.size, c.chunkSize); got != c.want {
			t.Errorf("TotalChunks(%d, %d) = %d, want %d", c.size, c.chunkSize, got, c.want)
		}
	}
}

func TestSplitChunksEmptyContentYieldsOneEmptyChunk(t *testing.T) {
	chunks := SplitChunks(nil, 10)
	if len(chunks) != 1 || len(chunks[0]) != 0 {
		t.Fatalf("expected one empty chunk, got %v", chunks)
	}
}

func TestSplitChunksExactAndRemainder(t *testing.T) {
	content := make([]byte, 25)
	chunks := SplitChunks(content, 10)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 10 || len(chunks[1]) != 10 || len(chunks[2]) != 5 {
		t.Fatalf("unexpected chunk sizes: %d %d %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

type fakeEncryptor struct{}

func (fakeEncryptor) Encrypt(_ context.Context, index uint64, plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	for i, b := range plaintext {
		out[i] = b ^ byte(index+1)
	}
	return out, nil
}

func (fakeEncryptor) Decrypt(_ context.Context, index uint64, ciphertext []byte) ([]byte, error) {
	return fakeEncryptor{}.Encrypt(context.Background(), index, ciphertext)
}

func TestEncryptChunkNilEncryptorIsNoOp(t *testing.T) {
	out, encrypted, err := encryptChunk(context.Background(), nil, 0, []byte("hello"))
	if err != nil {
		t.Fatalf("encryptChunk: %v", err)
	}
	if encrypted {
		t.Fatal("expected encrypted=false for nil Encryptor")
	}
	if string(out) != "hello" {
		t.Fatalf("expected passthrough, got %q", out)
	}
}

func TestEncryptDecryptChunkRoundTrip(t *testing.T) {
	enc := fakeEncryptor{}
	plain := []byte("secret chunk data")
	ciphertext, encrypted, err := encryptChunk(context.Background(), enc, 3, plain)
	if err != nil {
		t.Fatalf("encryptChunk: %v", err)
	}
	if !encrypted {
		t.Fatal("expected encrypted=true")
	}
	decrypted, err := decryptChunk(context.Background(), enc, 3, encrypted, ciphertext)
	if err != nil {
		t.Fatalf("decryptChunk: %v", err)
	}
	if string(decrypted) != string(plain) {
		t.Fatalf("roundtrip mismatch: got %q want %q", decrypted, plain)
	}
}

func TestDecryptChunkMissingEncryptorErrors(t *testing.T) {
	_, err := decryptChunk(context.Background(), nil, 0, true, []byte("x"))
	if err == nil {
		t.Fatal("expected error decrypting an encrypted chunk with no decryptor")
	}
	if errors.Is(err, context.Canceled) {
		t.Fatal("unexpected error type")
	}
}
