package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashRecord computes the hex-encoded SHA-256 hash of a record. The hash
// covers the predecessor hash and every content field; the record's own
// Hash field is excluded.
func HashRecord(rec *Record) string {
	shadow := *rec
	shadow.Hash = ""

	// JSON field order is deterministic for a fixed struct definition,
	// which makes the serialization a stable hashing input.
	payload, err := json.Marshal(&shadow)
	if err != nil {
		// Marshal of a plain struct cannot fail; keep the chain moving
		// with a sentinel rather than panicking on the request path.
		payload = []byte(fmt.Sprintf("marshal-error:%v", err))
	}

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Verify walks a tenant chain and reports the first inconsistency: a
// recomputed hash mismatch, a broken predecessor link, or a sequence gap.
// Records must be presented in sequence order.
func Verify(records []*Record) error {
	prevHash := ""
	for i, rec := range records {
		if want := int64(i + 1); rec.Sequence != want {
			return fmt.Errorf("sequence gap at index %d: have %d, want %d", i, rec.Sequence, want)
		}
		if rec.PrevHash != prevHash {
			return fmt.Errorf("broken chain at sequence %d: prev_hash mismatch", rec.Sequence)
		}
		if recomputed := HashRecord(rec); recomputed != rec.Hash {
			return fmt.Errorf("tampered record at sequence %d: hash mismatch", rec.Sequence)
		}
		prevHash = rec.Hash
	}
	return nil
}
