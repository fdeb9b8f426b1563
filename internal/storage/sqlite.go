package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var sqliteSchema = []string{`
CREATE TABLE IF NOT EXISTS checkpoints (
	id           TEXT PRIMARY KEY,
	sequence     INTEGER NOT NULL,
	version      TEXT NOT NULL,
	lineage      TEXT NOT NULL,
	committed_at TEXT NOT NULL,
	items        INTEGER NOT NULL,
	bytes        INTEGER NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS checkpoint_items (
	checkpoint_id TEXT NOT NULL,
	category      TEXT NOT NULL,
	key           TEXT NOT NULL,
	data          BLOB NOT NULL,
	PRIMARY KEY (checkpoint_id, category, key)
)`,
}

// SQLiteStore persists checkpoints to SQLite. Readers load the committed
// state in a single transaction, so they never block later commits.
type SQLiteStore struct {
	db     *sql.DB
	leases Leases

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens or creates a SQLite checkpoint database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL mode: %w", err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: create schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// StartNew implements Store.
func (s *SQLiteStore) StartNew(ctx context.Context, id string) (StateWriter, error) {
	return s.open(ctx, id, LineageFull)
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, id string) (StateWriter, error) {
	if err := ValidateName(id); err != nil {
		return nil, err
	}
	lineage := LineageDifferential
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, err := loadInfo(ctx, s.db, id); errors.Is(err, ErrNotFound) {
		lineage = LineageFull
	} else if err != nil {
		return nil, err
	}
	return s.openLocked(ctx, id, lineage)
}

func (s *SQLiteStore) open(ctx context.Context, id string, lineage Lineage) (StateWriter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openLocked(ctx, id, lineage)
}

func (s *SQLiteStore) openLocked(ctx context.Context, id string, lineage Lineage) (StateWriter, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(id); err != nil {
		return nil, err
	}
	if err := s.leases.Acquire(id); err != nil {
		return nil, err
	}
	commit := func(ctx context.Context, ch *Changes, progress ProgressFunc) error {
		return s.commit(ctx, id, ch, progress)
	}
	return NewWriter(id, lineage, commit, func() { s.leases.Release(id) }), nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadInfo(ctx context.Context, q queryer, id string) (Info, error) {
	var (
		info        Info
		lineage     string
		committedAt string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, sequence, version, lineage, committed_at, items, bytes
		FROM checkpoints WHERE id = ?
	`, id).Scan(&info.ID, &info.Sequence, &info.Version, &lineage, &committedAt, &info.Items, &info.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return Info{}, ErrNotFound
	}
	if err != nil {
		return Info{}, fmt.Errorf("sqlite: load info: %w", err)
	}
	info.Lineage = Lineage(lineage)
	info.CommittedAt, _ = time.Parse(time.RFC3339Nano, committedAt)
	return info, nil
}

func (s *SQLiteStore) commit(ctx context.Context, id string, ch *Changes, progress ProgressFunc) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	var prev *Info
	if info, err := loadInfo(ctx, tx, id); err == nil {
		prev = &info
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	info := NextInfo(prev, id, ch.Lineage)

	if ch.Lineage == LineageFull {
		if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoint_items WHERE checkpoint_id = ?`, id); err != nil {
			return fmt.Errorf("sqlite: clear items: %w", err)
		}
	}

	total := ch.Total()
	done := 0
	for _, ref := range ch.SortedDeletes() {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM checkpoint_items
			WHERE checkpoint_id = ? AND category = ? AND key = ?
		`, id, ref.Category, ref.Key); err != nil {
			return fmt.Errorf("sqlite: delete %s: %w", ref, err)
		}
		done++
		progress(done, total)
	}
	for _, ref := range ch.SortedPuts() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoint_items (checkpoint_id, category, key, data)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(checkpoint_id, category, key) DO UPDATE SET data = excluded.data
		`, id, ref.Category, ref.Key, ch.Puts[ref]); err != nil {
			return fmt.Errorf("sqlite: put %s: %w", ref, err)
		}
		done++
		progress(done, total)
	}

	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(data)), 0)
		FROM checkpoint_items WHERE checkpoint_id = ?
	`, id).Scan(&info.Items, &info.Bytes); err != nil {
		return fmt.Errorf("sqlite: count items: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints (id, sequence, version, lineage, committed_at, items, bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sequence = excluded.sequence,
			version = excluded.version,
			lineage = excluded.lineage,
			committed_at = excluded.committed_at,
			items = excluded.items,
			bytes = excluded.bytes
	`, id, info.Sequence, info.Version, string(info.Lineage),
		info.CommittedAt.Format(time.RFC3339Nano), info.Items, info.Bytes); err != nil {
		return fmt.Errorf("sqlite: save info: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// TryReadCurrent implements Store.
func (s *SQLiteStore) TryReadCurrent(ctx context.Context, id string) (StateReader, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	if err := ValidateName(id); err != nil {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	info, err := loadInfo(ctx, tx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT category, key, data FROM checkpoint_items
		WHERE checkpoint_id = ?
	`, id)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: load items: %w", err)
	}
	defer rows.Close()

	state := NewState(info)
	for rows.Next() {
		var (
			category, key string
			data          []byte
		)
		if err := rows.Scan(&category, &key, &data); err != nil {
			return nil, false, fmt.Errorf("sqlite: scan item: %w", err)
		}
		state.Put(category, key, data)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("sqlite: iterate items: %w", err)
	}
	return NewStateReader(state, nil), true, nil
}

// List returns the Info of every committed checkpoint ordered by id.
func (s *SQLiteStore) List(ctx context.Context) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM checkpoints ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list checkpoints: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scan checkpoint: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate checkpoints: %w", err)
	}

	infos := make([]Info, 0, len(ids))
	for _, id := range ids {
		info, err := loadInfo(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
