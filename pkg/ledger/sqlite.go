package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStorage persists ledger chains in SQLite. The (tenant, sequence)
// primary key makes duplicate sequence numbers a constraint violation
// rather than silent corruption.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the ledger database at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStorage{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStorage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger_records (
		tenant TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		correlation_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL,
		PRIMARY KEY (tenant, sequence)
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_correlation ON ledger_records(correlation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append persists one record.
func (s *SQLiteStorage) Append(ctx context.Context, rec *Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode ledger record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_records (tenant, sequence, timestamp, correlation_id, kind, payload, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Tenant, rec.Sequence, rec.Timestamp.UnixMilli(), rec.CorrelationID,
		string(rec.Kind), string(payload), rec.PrevHash, rec.Hash)
	if err != nil {
		return fmt.Errorf("insert ledger record: %w", err)
	}
	return nil
}

// Tail returns the last record for a tenant.
func (s *SQLiteStorage) Tail(ctx context.Context, tenant string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sequence, prev_hash, hash, payload FROM ledger_records
		WHERE tenant = ? ORDER BY sequence DESC LIMIT 1`, tenant)

	rec, err := scanRecord(row, tenant)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query ledger tail: %w", err)
	}
	return rec, nil
}

// List returns records for a tenant in sequence order.
func (s *SQLiteStorage) List(ctx context.Context, tenant string, limit int) ([]*Record, error) {
	query := `SELECT sequence, prev_hash, hash, payload FROM ledger_records WHERE tenant = ? ORDER BY sequence ASC`
	var args []any = []any{tenant}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows, tenant)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// scanRecord decodes one row. The chain columns override the payload so
// pruned records (blanked payload) keep their sequence and hash links.
func scanRecord(row interface{ Scan(dest ...any) error }, tenant string) (*Record, error) {
	var (
		sequence       int64
		prevHash, hash string
		payload        string
	)
	if err := row.Scan(&sequence, &prevHash, &hash, &payload); err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decode ledger record: %w", err)
	}
	rec.Tenant = tenant
	rec.Sequence = sequence
	rec.PrevHash = prevHash
	rec.Hash = hash
	return &rec, nil
}

// PruneContent blanks the stored payload of records older than the
// retention horizon. Rows, sequence numbers and the hash columns remain,
// so chain-link verification over pruned segments still works; only the
// content hashes of pruned records can no longer be recomputed.
func (s *SQLiteStorage) PruneContent(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger_records SET payload = '{}'
		WHERE timestamp < ? AND kind = ? AND payload != '{}'`,
		before.UnixMilli(), string(EventRequest))
	if err != nil {
		return 0, fmt.Errorf("prune ledger records: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
