package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  port: 9000
storage:
  database_path: ./data/library.db
embedding:
  dimensions: 384
  model: all-minilm
retrieval:
  top_k: 3
  page_gap: 2
library:
  directories:
    - ./books
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("dimensions = %d", cfg.Embedding.Dimensions)
	}
	if cfg.Retrieval.TopK != 3 || cfg.Retrieval.PageGap != 2 {
		t.Errorf("retrieval = %+v", cfg.Retrieval)
	}
	want := filepath.Join(dir, "data/library.db")
	if cfg.Storage.DatabasePath != want {
		t.Errorf("database path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
	if len(cfg.Library.Directories) != 1 || cfg.Library.Directories[0] != filepath.Join(dir, "books") {
		t.Errorf("directories = %v", cfg.Library.Directories)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)
	if cfg.Retrieval.ChunkSize != 1000 {
		t.Errorf("chunk size = %d", cfg.Retrieval.ChunkSize)
	}
	if cfg.Retrieval.ChunkOverlap != 250 {
		t.Errorf("chunk overlap = %d", cfg.Retrieval.ChunkOverlap)
	}
	if cfg.Retrieval.Overfetch != 4 {
		t.Errorf("overfetch = %d", cfg.Retrieval.Overfetch)
	}
	if cfg.Embedding.MaxRetries != 3 {
		t.Errorf("max retries = %d", cfg.Embedding.MaxRetries)
	}
	if cfg.Retrieval.LexicalBoost != 0 {
		t.Errorf("lexical boost should default to 0, got %f", cfg.Retrieval.LexicalBoost)
	}
}
