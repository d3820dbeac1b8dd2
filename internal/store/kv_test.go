package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// exerciseKV runs the contract every backend must satisfy.
func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	if _, found, err := kv.Get(ctx, "missing"); err != nil || found {
		t.Fatalf("Get(missing) = found %v, err %v; want not found", found, err)
	}

	if err := kv.Set(ctx, "k", "one"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := kv.Set(ctx, "k", "two"); err != nil {
		t.Fatalf("Set overwrite failed: %v", err)
	}
	got, found, err := kv.Get(ctx, "k")
	if err != nil || !found || got != "two" {
		t.Fatalf("Get(k) = %q, %v, %v; want two", got, found, err)
	}

	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found, _ := kv.Get(ctx, "k"); found {
		t.Error("Expected key to be gone after Delete")
	}
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete of missing key should succeed, got %v", err)
	}
}

func TestMemoryKV(t *testing.T) {
	kv := NewMemoryKV()
	defer kv.Close()
	exerciseKV(t, kv)
}

func TestFileKV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "store")
	kv, err := NewFileKV(dir)
	if err != nil {
		t.Fatalf("NewFileKV failed: %v", err)
	}
	defer kv.Close()
	exerciseKV(t, kv)
}

func TestFileKVLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewFileKV(dir)
	if err != nil {
		t.Fatalf("NewFileKV failed: %v", err)
	}
	for _, v := range []string{"[]", `[{"id":"a"}]`} {
		if err := kv.Set(context.Background(), "ai-chat-history", v); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "ai-chat-history.json"))
	if err != nil || string(data) != `[{"id":"a"}]` {
		t.Errorf("Expected overwritten value, got %q (%v)", data, err)
	}
	if info, err := os.Stat(filepath.Join(dir, "ai-chat-history.json")); err != nil || info.Mode().Perm() != 0o644 {
		t.Errorf("Expected mode 0644, got %v (%v)", info, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "ai-chat-history.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("Expected only ai-chat-history.json, got %v", names)
	}
}

func TestSQLiteKV(t *testing.T) {
	kv, err := NewSQLiteKV(filepath.Join(t.TempDir(), "data", "chat.db"), discardLogger())
	if err != nil {
		t.Fatalf("NewSQLiteKV failed: %v", err)
	}
	defer kv.Close()

	if err := kv.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	exerciseKV(t, kv)
}

func TestSQLiteKVPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.db")
	ctx := context.Background()

	kv, err := NewSQLiteKV(path, discardLogger())
	if err != nil {
		t.Fatalf("NewSQLiteKV failed: %v", err)
	}
	if err := kv.Set(ctx, "ai-chat-history", `[{"id":"a"}]`); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	kv, err = NewSQLiteKV(path, discardLogger())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer kv.Close()

	got, found, err := kv.Get(ctx, "ai-chat-history")
	if err != nil || !found || got != `[{"id":"a"}]` {
		t.Errorf("Get after reopen = %q, %v, %v", got, found, err)
	}
}

func TestSQLiteKVConcurrentWrites(t *testing.T) {
	kv, err := NewSQLiteKV(filepath.Join(t.TempDir(), "chat.db"), discardLogger())
	if err != nil {
		t.Fatalf("NewSQLiteKV failed: %v", err)
	}
	defer kv.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := kv.Set(ctx, "k", string(rune('a'+i))); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Set failed: %v", err)
	}
	if _, found, _ := kv.Get(ctx, "k"); !found {
		t.Error("Expected key to exist after concurrent writes")
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     OpenConfig
		wantErr error
	}{
		{"memory", OpenConfig{Backend: BackendMemory}, nil},
		{"file", OpenConfig{Backend: BackendFile, Dir: filepath.Join(dir, "files")}, nil},
		{"sqlite", OpenConfig{Backend: BackendSQLite, DBPath: filepath.Join(dir, "chat.db")}, nil},
		{"default is sqlite", OpenConfig{DBPath: filepath.Join(dir, "default.db")}, nil},
		{"unknown", OpenConfig{Backend: "redis"}, ErrUnknownBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv, err := Open(tt.cfg, discardLogger())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Open() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			defer kv.Close()
			exerciseKV(t, kv)
		})
	}
}
