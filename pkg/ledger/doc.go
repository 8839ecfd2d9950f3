// Package ledger implements the tamper-evident audit ledger.
//
// Records are append-only and per-tenant sequenced: each record carries a
// dense monotonic sequence number and the hash of its predecessor, so a
// linear pass can verify that no record was altered, dropped or reordered.
// Writes are asynchronous; the recorder assigns sequence and hash
// synchronously and a background worker drains the write queue.
package ledger
