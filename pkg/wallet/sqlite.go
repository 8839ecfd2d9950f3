package wallet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore persists the budget tree in SQLite. Chain mutations run in a
// single IMMEDIATE transaction guarded by per-row version checks, retried
// with bounded backoff on conflict.
type SQLiteStore struct {
	db *sql.DB
}

// sqliteMaxRetries bounds optimistic-concurrency retries per mutation.
const sqliteMaxRetries = 5

// NewSQLiteStore opens (or creates) the wallet database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		tenant TEXT NOT NULL,
		parent_id TEXT,
		path TEXT NOT NULL,
		kind TEXT NOT NULL,
		hard_limit REAL NOT NULL,
		overdraft REAL NOT NULL DEFAULT 0,
		spent REAL NOT NULL DEFAULT 0,
		reserved REAL NOT NULL DEFAULT 0,
		soft_thresholds TEXT,
		notified_thresholds TEXT,
		reset_period TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_wallets_tenant ON wallets(tenant);

	CREATE TABLE IF NOT EXISTS wallet_transfers (
		id TEXT PRIMARY KEY,
		tenant TEXT NOT NULL,
		from_wallet TEXT NOT NULL,
		to_wallet TEXT NOT NULL,
		amount REAL NOT NULL,
		approver TEXT NOT NULL,
		at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns a copy of the wallet.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Wallet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant, parent_id, path, kind, hard_limit, overdraft,
		       spent, reserved, soft_thresholds, notified_thresholds,
		       reset_period, version, created_at, updated_at
		FROM wallets WHERE id = ?`, id)
	return scanWallet(row)
}

// Create inserts a new wallet, materializing its ancestor path.
func (s *SQLiteStore) Create(ctx context.Context, w *Wallet) error {
	c := w.Clone()
	if c.NotifiedThresholds == nil {
		c.NotifiedThresholds = make(map[float64]bool)
	}

	if c.ParentID == "" {
		c.Path = []string{c.ID}
	} else {
		parent, err := s.Get(ctx, c.ParentID)
		if err != nil {
			return fmt.Errorf("parent lookup: %w", err)
		}
		for _, ancestor := range parent.Path {
			if ancestor == c.ID {
				return ErrCycle
			}
		}
		c.Path = append(append([]string(nil), parent.Path...), c.ID)
	}

	now := nowFunc()
	pathJSON, _ := json.Marshal(c.Path)
	softJSON, _ := json.Marshal(c.SoftThresholds)
	notifiedJSON, _ := json.Marshal(notifiedList(c.NotifiedThresholds))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (id, tenant, parent_id, path, kind, hard_limit,
			overdraft, spent, reserved, soft_thresholds, notified_thresholds,
			reset_period, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		c.ID, c.Tenant, c.ParentID, string(pathJSON), string(c.Kind),
		c.HardLimit, c.Overdraft, c.Spent, c.Reserved, string(softJSON),
		string(notifiedJSON), string(c.ResetPeriod), now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// UpdateChain atomically applies fn to the identified wallets, retrying on
// version conflicts.
func (s *SQLiteStore) UpdateChain(ctx context.Context, ids []string, fn func(map[string]*Wallet) error) error {
	var lastErr error
	for attempt := 0; attempt < sqliteMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
			}
		}

		err := s.tryUpdateChain(ctx, ids, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (s *SQLiteStore) tryUpdateChain(ctx context.Context, ids []string, fn func(map[string]*Wallet) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	working := make(map[string]*Wallet, len(ids))
	versions := make(map[string]int64, len(ids))
	for _, id := range ids {
		row := tx.QueryRowContext(ctx, `
			SELECT id, tenant, parent_id, path, kind, hard_limit, overdraft,
			       spent, reserved, soft_thresholds, notified_thresholds,
			       reset_period, version, created_at, updated_at
			FROM wallets WHERE id = ?`, id)
		w, err := scanWallet(row)
		if err != nil {
			return err
		}
		working[id] = w
		versions[id] = w.Version
	}

	if err := fn(working); err != nil {
		return err
	}

	now := nowFunc()
	for _, id := range ids {
		w := working[id]
		notifiedJSON, _ := json.Marshal(notifiedList(w.NotifiedThresholds))
		res, err := tx.ExecContext(ctx, `
			UPDATE wallets
			SET spent = ?, reserved = ?, hard_limit = ?, overdraft = ?,
			    notified_thresholds = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`,
			w.Spent, w.Reserved, w.HardLimit, w.Overdraft,
			string(notifiedJSON), now.Unix(), id, versions[id])
		if err != nil {
			return fmt.Errorf("update wallet %s: %w", id, err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return ErrConflict
		}
	}

	return tx.Commit()
}

// List returns all wallets for a tenant.
func (s *SQLiteStore) List(ctx context.Context, tenant string) ([]*Wallet, error) {
	query := `
		SELECT id, tenant, parent_id, path, kind, hard_limit, overdraft,
		       spent, reserved, soft_thresholds, notified_thresholds,
		       reset_period, version, created_at, updated_at
		FROM wallets`
	var args []any
	if tenant != "" {
		query += " WHERE tenant = ?"
		args = append(args, tenant)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var out []*Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// AppendTransfer records an immutable transfer entry.
func (s *SQLiteStore) AppendTransfer(ctx context.Context, rec TransferRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_transfers (id, tenant, from_wallet, to_wallet, amount, approver, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Tenant, rec.FromWallet, rec.ToWallet, rec.Amount, rec.Approver, rec.At.Unix())
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// notifiedList flattens the fired-threshold set into a sorted slice;
// float map keys do not round-trip through JSON.
func notifiedList(m map[float64]bool) []float64 {
	out := make([]float64, 0, len(m))
	for threshold, fired := range m {
		if fired {
			out = append(out, threshold)
		}
	}
	sort.Float64s(out)
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*Wallet, error) {
	var (
		w                                  Wallet
		parentID                           sql.NullString
		pathJSON, softJSON, notifiedJSON   string
		kind, resetPeriod                  string
		createdAt, updatedAt               int64
	)
	err := row.Scan(&w.ID, &w.Tenant, &parentID, &pathJSON, &kind,
		&w.HardLimit, &w.Overdraft, &w.Spent, &w.Reserved,
		&softJSON, &notifiedJSON, &resetPeriod, &w.Version,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}

	w.ParentID = parentID.String
	w.Kind = Kind(kind)
	w.ResetPeriod = ResetPeriod(resetPeriod)
	w.CreatedAt = time.Unix(createdAt, 0)
	w.UpdatedAt = time.Unix(updatedAt, 0)

	if err := json.Unmarshal([]byte(pathJSON), &w.Path); err != nil {
		return nil, fmt.Errorf("decode wallet path: %w", err)
	}
	if softJSON != "" && softJSON != "null" {
		if err := json.Unmarshal([]byte(softJSON), &w.SoftThresholds); err != nil {
			return nil, fmt.Errorf("decode soft thresholds: %w", err)
		}
	}
	w.NotifiedThresholds = make(map[float64]bool)
	if notifiedJSON != "" && notifiedJSON != "null" {
		var fired []float64
		if err := json.Unmarshal([]byte(notifiedJSON), &fired); err != nil {
			return nil, fmt.Errorf("decode notified thresholds: %w", err)
		}
		for _, threshold := range fired {
			w.NotifiedThresholds[threshold] = true
		}
	}

	// The materialized path ends with the wallet's own id.
	if len(w.Path) == 0 || !strings.EqualFold(w.Path[len(w.Path)-1], w.ID) {
		w.Path = append(w.Path, w.ID)
	}

	return &w, nil
}
