package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	storage, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestSQLiteAppendAndVerify(t *testing.T) {
	storage := newSQLiteStorage(t)
	rec := NewRecorder(storage, Config{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := rec.Append(ctx, &Record{Tenant: "t1", Kind: EventRequest, Cost: float64(i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	rec.Close()

	records, err := storage.List(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("records = %d", len(records))
	}
	if err := Verify(records); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestSQLiteTailRestoresChain(t *testing.T) {
	storage := newSQLiteStorage(t)
	ctx := context.Background()

	rec1 := NewRecorder(storage, Config{})
	rec1.Append(ctx, &Record{Tenant: "t1", Kind: EventRequest})
	rec1.Close()

	rec2 := NewRecorder(storage, Config{})
	rec2.Append(ctx, &Record{Tenant: "t1", Kind: EventRequest})
	rec2.Close()

	records, _ := storage.List(ctx, "t1", 0)
	if len(records) != 2 {
		t.Fatalf("records = %d", len(records))
	}
	if err := Verify(records); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestSQLiteDuplicateSequenceRejected(t *testing.T) {
	storage := newSQLiteStorage(t)
	ctx := context.Background()

	rec := &Record{Tenant: "t1", Sequence: 1, Timestamp: time.Now(), Kind: EventRequest, Hash: "h"}
	if err := storage.Append(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := storage.Append(ctx, rec); err == nil {
		t.Fatal("duplicate (tenant, sequence) must be a constraint violation")
	}
}
