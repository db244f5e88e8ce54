// Package store persists captured drafts in a single sqlite file.
//
// Every mutation is one self-contained statement; storage errors are never
// retried here, callers surface them as "operation did not happen".
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"draftbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Row is a stored draft row. Payload is the JSON-encoded draft.Payload.
type Row struct {
	ID        int    `db:"id"`
	Snippet   string `db:"snippet"`
	Payload   []byte `db:"payload"`
	Sent      bool   `db:"sent"`
	Deleted   bool   `db:"deleted"`
	CreatedAt int64  `db:"created_at"`
}

// Item is the compact (id, snippet) projection used for listings.
type Item struct {
	ID      int    `db:"id"`
	Snippet string `db:"snippet"`
}

type Store struct {
	db  *sqlx.DB
	log logx.Logger

	// seqMu guards lastSeq. created_at is assigned from here as a strictly
	// increasing value so insertion order is the ordering key even when two
	// inserts land on the same clock reading.
	seqMu   sync.Mutex
	lastSeq int64
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	db, err := sqlx.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.db.Get(&s.lastSeq, `SELECT COALESCE(MAX(created_at), 0) FROM drafts`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) nextSeq() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	seq := time.Now().UnixNano()
	if seq <= s.lastSeq {
		seq = s.lastSeq + 1
	}
	s.lastSeq = seq
	return seq
}

// Insert stores a draft keyed by its source message id. It is create-or-ignore:
// re-inserting an existing id never overwrites the stored snippet, payload or
// the sent/deleted state.
func (s *Store) Insert(ctx context.Context, id int, snippet string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO drafts(id, snippet, payload, created_at) VALUES(?,?,?,?)`,
		id, snippet, payload, s.nextSeq(),
	)
	return err
}

// ListPending returns (id, snippet) for all unsent, undeleted drafts in
// ascending creation order. Position 1 of the result is the oldest item.
func (s *Store) ListPending(ctx context.Context) ([]Item, error) {
	var items []Item
	err := s.db.SelectContext(ctx, &items,
		`SELECT id, snippet FROM drafts WHERE sent=0 AND deleted=0 ORDER BY created_at ASC`)
	return items, err
}

// GetUnsent returns the full pending rows, ascending creation order.
func (s *Store) GetUnsent(ctx context.Context) ([]Row, error) {
	var rows []Row
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, snippet, payload, sent, deleted, created_at
		   FROM drafts WHERE sent=0 AND deleted=0 ORDER BY created_at ASC`)
	return rows, err
}

// GetByIDs re-queries exactly the given ids, re-filtered to still-pending,
// ascending creation order. Unknown or no-longer-pending ids are dropped.
func (s *Store) GetByIDs(ctx context.Context, ids []int) ([]Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`SELECT id, snippet, payload, sent, deleted, created_at
		   FROM drafts WHERE sent=0 AND deleted=0 AND id IN (?) ORDER BY created_at ASC`, ids)
	if err != nil {
		return nil, err
	}
	var rows []Row
	err = s.db.SelectContext(ctx, &rows, query, args...)
	return rows, err
}

// Get returns a draft by id regardless of its state.
func (s *Store) Get(ctx context.Context, id int) (Row, bool, error) {
	var r Row
	err := s.db.GetContext(ctx, &r,
		`SELECT id, snippet, payload, sent, deleted, created_at FROM drafts WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, err
	}
	return r, true, nil
}

// MarkSent bulk-sets sent=1. No-op on empty input.
func (s *Store) MarkSent(ctx context.Context, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE drafts SET sent=1 WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// SoftDelete excludes a draft from listing and publishing; the row is kept so
// it can be restored. Reports whether a pending row was actually cancelled.
func (s *Store) SoftDelete(ctx context.Context, id int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET deleted=1, deleted_at=? WHERE id=? AND deleted=0`, s.nextSeq(), id)
	if err != nil {
		return false, err
	}
	return changed(res), nil
}

// Restore un-deletes a draft; it reappears in listings at its original position.
func (s *Store) Restore(ctx context.Context, id int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET deleted=0, deleted_at=NULL WHERE id=? AND deleted=1`, id)
	if err != nil {
		return false, err
	}
	return changed(res), nil
}

// HardDelete removes the row entirely.
func (s *Store) HardDelete(ctx context.Context, id int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE id=?`, id)
	if err != nil {
		return false, err
	}
	return changed(res), nil
}

// LastSoftDeleted returns the most recently soft-deleted, still-unsent id.
// Used by "undo" without an explicit id.
func (s *Store) LastSoftDeleted(ctx context.Context) (int, bool, error) {
	var id int
	err := s.db.GetContext(ctx, &id,
		`SELECT id FROM drafts WHERE deleted=1 AND sent=0 AND deleted_at IS NOT NULL
		  ORDER BY deleted_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// PruneSent removes drafts that were published and whose creation is older
// than the retention window. Returns the number of rows removed.
func (s *Store) PruneSent(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE sent=1 AND created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func changed(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}
