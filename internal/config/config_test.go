package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NodeID != "node-local" {
		t.Fatalf("expected default node id, got %q", cfg.NodeID)
	}
	if cfg.CleanupDelay != 60*time.Second {
		t.Fatalf("expected default cleanup delay, got %v", cfg.CleanupDelay)
	}
}

func TestLoadConfigOverlaysYAMLOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hub.yaml")
	yamlContent := "node_id: node-east-1\nquic_address: \":5000\"\nsize_limit: 1048576\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NodeID != "node-east-1" {
		t.Fatalf("expected overridden node id, got %q", cfg.NodeID)
	}
	if cfg.QUICAddress != ":5000" {
		t.Fatalf("expected overridden quic address, got %q", cfg.QUICAddress)
	}
	if cfg.SizeLimit != 1048576 {
		t.Fatalf("expected overridden size limit, got %d", cfg.SizeLimit)
	}
	// Fields absent from the file keep their default value.
	if cfg.ChunkSize != DefaultConfig().ChunkSize {
		t.Fatalf("expected chunk size to retain its default, got %d", cfg.ChunkSize)
	}
}

func TestLoadConfigMissingFileReturnsError(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/path/hub.yaml"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
