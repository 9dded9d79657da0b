package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func TestKVStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "device.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Set(ctx, "offline:session:local-1", []byte(`{"id":"local-1"}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "offline:session:local-1", []byte(`{"id":"local-1","state":"finished"}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	value, ok, err := reopened.Get(ctx, "offline:session:local-1")
	if err != nil || !ok {
		t.Fatalf("expected value after reopen, ok=%v err=%v", ok, err)
	}
	if string(value) != `{"id":"local-1","state":"finished"}` {
		t.Fatalf("unexpected value %s", value)
	}

	keys, err := reopened.Keys(ctx, "offline:session:")
	if err != nil || len(keys) != 1 {
		t.Fatalf("expected one key, got %v %v", keys, err)
	}

	if err := reopened.Delete(ctx, "offline:session:local-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := reopened.Get(ctx, "offline:session:local-1"); ok {
		t.Fatalf("expected key deleted")
	}
}
