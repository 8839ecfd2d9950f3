package ledger

import (
	"context"
	"testing"
)

func newTestRecorder() (*Recorder, *MemoryStorage) {
	storage := NewMemoryStorage()
	rec := NewRecorder(storage, Config{AsyncBuffer: 16})
	return rec, storage
}

func TestChainSequenceAndHashes(t *testing.T) {
	rec, _ := newTestRecorder()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := rec.Append(ctx, &Record{
			Tenant:        "t1",
			Kind:          EventRequest,
			CorrelationID: "req",
			Cost:          float64(i),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	rec.Close()

	records, err := rec.List(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}

	// Dense sequence, linked hashes, recomputable.
	if err := Verify(records); err != nil {
		t.Fatalf("chain verification failed: %v", err)
	}
	for i, r := range records {
		if r.Sequence != int64(i+1) {
			t.Errorf("record %d: sequence %d", i, r.Sequence)
		}
	}
	if records[0].PrevHash != "" {
		t.Errorf("first record must have empty prev_hash, got %q", records[0].PrevHash)
	}
}

func TestChainsArePerTenant(t *testing.T) {
	rec, _ := newTestRecorder()
	ctx := context.Background()

	for _, tenant := range []string{"t1", "t2", "t1", "t2", "t1"} {
		if err := rec.Append(ctx, &Record{Tenant: tenant, Kind: EventRequest}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	rec.Close()

	t1, _ := rec.List(ctx, "t1", 0)
	t2, _ := rec.List(ctx, "t2", 0)
	if len(t1) != 3 || len(t2) != 2 {
		t.Fatalf("expected 3/2 records, got %d/%d", len(t1), len(t2))
	}
	if err := Verify(t1); err != nil {
		t.Errorf("t1 chain: %v", err)
	}
	if err := Verify(t2); err != nil {
		t.Errorf("t2 chain: %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	rec, _ := newTestRecorder()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec.Append(ctx, &Record{Tenant: "t1", Kind: EventRequest, Cost: 1})
	}
	rec.Close()

	records, _ := rec.List(ctx, "t1", 0)

	// Mutating a settled amount breaks the recomputed hash.
	records[1].Cost = 999
	if err := Verify(records); err == nil {
		t.Fatal("expected verification to fail on tampered record")
	}

	// Dropping a record breaks the sequence.
	records2, _ := rec.List(ctx, "t1", 0)
	gapped := append([]*Record{records2[0]}, records2[2])
	if err := Verify(gapped); err == nil {
		t.Fatal("expected verification to fail on sequence gap")
	}
}

func TestChainRestoredFromStorage(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()

	rec1 := NewRecorder(storage, Config{})
	rec1.Append(ctx, &Record{Tenant: "t1", Kind: EventRequest})
	rec1.Append(ctx, &Record{Tenant: "t1", Kind: EventRequest})
	rec1.Close()

	// A new recorder over the same storage continues the chain.
	rec2 := NewRecorder(storage, Config{})
	rec2.Append(ctx, &Record{Tenant: "t1", Kind: EventRequest})
	rec2.Close()

	records, _ := rec2.List(ctx, "t1", 0)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if err := Verify(records); err != nil {
		t.Fatalf("restored chain broken: %v", err)
	}
}

func TestWalletResetRecord(t *testing.T) {
	rec, _ := newTestRecorder()
	rec.RecordWalletReset(context.Background(), "t1", "wallet-1", 123.45)
	rec.Close()

	records, _ := rec.List(context.Background(), "t1", 0)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Kind != EventWalletReset {
		t.Errorf("kind = %s", records[0].Kind)
	}
}
