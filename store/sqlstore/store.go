// Package sqlstore implements the record store on SQLite.
//
// Records live in a single table keyed by (kind, id) with their fields as a
// JSON document. Parent links are mirrored into a relationships table and
// unique values into a unique_constraints table, both maintained inside the
// same transaction as the record write. Deletes are soft: the row stays with
// deleted_at set, so an identifier can never be handed out twice.
//
// Write transactions start with BEGIN IMMEDIATE, so two writers never
// interleave; a writer that finds the lock held waits up to the configured
// busy timeout.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jacentio/bibliodigit/internal/shard"
	"github.com/jacentio/bibliodigit/store"
)

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Config holds configuration for the SQLite store.
type Config struct {
	// Path is the database file.
	// Default: "bibliodigit.db"
	Path string

	// BusyTimeout bounds how long a writer waits for the database lock.
	// Default: 5s
	BusyTimeout time.Duration

	// MaxOpenConns caps the connection pool.
	// Default: 8
	MaxOpenConns int
}

// DefaultConfig returns the configuration used for local deployments.
func DefaultConfig() Config {
	return Config{
		Path:         "bibliodigit.db",
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 8,
	}
}

// validate fills unset values with defaults.
func (c *Config) validate() {
	if c.Path == "" {
		c.Path = "bibliodigit.db"
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 5 * time.Second
	}
	if c.MaxOpenConns < 1 {
		c.MaxOpenConns = 8
	}
}

func (c Config) dsn() string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	return c.Path + "?" + q.Encode()
}

// Store is a store.Backend on SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ store.Backend = (*Store)(nil)

// Open opens (creating if needed) the database at cfg.Path and migrates it
// to the latest schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	cfg.validate()
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: open %s: %w", cfg.Path, err)
	}

	version, err := Migrate(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("sqlite store ready", "path", cfg.Path, "schemaVersion", version)

	return New(db, logger), nil
}

// New wraps an already migrated database.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create stores a new record with parent validation and unique constraints.
func (s *Store) Create(ctx context.Context, rec *store.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("sqlstore: create %s: missing id", rec.Kind)
	}
	fields, parents, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	now := s.now()
	ts := now.Format(timeFormat)

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := checkParents(ctx, tx, rec.Parents); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO records (kind, id, version, created_at, updated_at, parents, fields)
			VALUES (?, ?, 1, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			rec.Kind, rec.ID, ts, ts, parents, fields)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrAlreadyExists
		}

		if err := insertUniques(ctx, tx, rec); err != nil {
			return err
		}
		return insertRelationships(ctx, tx, rec.Ref(), rec.Parents)
	})
	if err != nil {
		return err
	}

	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

// Get retrieves a live record.
func (s *Store) Get(ctx context.Context, ref store.Ref) (*store.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, version, created_at, updated_at, parents, fields
		FROM records
		WHERE kind = ? AND id = ? AND deleted_at IS NULL`,
		ref.Kind, ref.ID)

	rec, err := scanRecord(row, ref.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get %s: %w", ref, err)
	}
	return rec, nil
}

// Update replaces a record with optimistic locking.
// Changed parents and unique values are moved in the same transaction.
func (s *Store) Update(ctx context.Context, rec *store.Record, expectedVersion int64) error {
	fields, parents, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	now := s.now()
	ts := now.Format(timeFormat)
	ref := rec.Ref()

	var created time.Time
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			version    int64
			createdAt  string
			oldParents string
			deletedAt  sql.NullString
		)
		err := tx.QueryRowContext(ctx, `
			SELECT version, created_at, parents, deleted_at
			FROM records WHERE kind = ? AND id = ?`,
			ref.Kind, ref.ID).Scan(&version, &createdAt, &oldParents, &deletedAt)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && deletedAt.Valid) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read record: %w", err)
		}
		if version != expectedVersion {
			return store.ErrConcurrentModification
		}
		if created, err = parseTime("created_at", createdAt); err != nil {
			return fmt.Errorf("read record %s: %w", ref, err)
		}

		if err := syncParents(ctx, tx, ref, decodeParents(oldParents), rec.Parents); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM unique_constraints WHERE entity_ref = ?`, ref.String()); err != nil {
			return fmt.Errorf("release unique values: %w", err)
		}
		if err := insertUniques(ctx, tx, rec); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE records
			SET fields = ?, parents = ?, version = version + 1, updated_at = ?
			WHERE kind = ? AND id = ? AND version = ?`,
			fields, parents, ts, ref.Kind, ref.ID, expectedVersion)
		if err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return err
	}

	rec.Version = expectedVersion + 1
	rec.UpdatedAt = now
	rec.CreatedAt = created
	return nil
}

// Delete soft-deletes a record, releasing its unique values and parent links.
func (s *Store) Delete(ctx context.Context, ref store.Ref, opts store.DeleteOptions) error {
	ts := s.now().Format(timeFormat)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM records WHERE kind = ? AND id = ? AND deleted_at IS NULL`,
			ref.Kind, ref.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read record: %w", err)
		}

		if len(opts.Restrict) > 0 {
			has, err := hasActiveChildren(ctx, tx, ref, opts.Restrict)
			if err != nil {
				return err
			}
			if has {
				return store.ErrHasChildren
			}
		}

		return s.remove(ctx, tx, ref, opts.Cascade, ts, map[store.Ref]bool{})
	})
}

// remove marks ref deleted and, with cascade, every descendant.
func (s *Store) remove(ctx context.Context, tx *sql.Tx, ref store.Ref, cascade bool, ts string, seen map[store.Ref]bool) error {
	if seen[ref] {
		return nil
	}
	seen[ref] = true

	res, err := tx.ExecContext(ctx, `
		UPDATE records SET deleted_at = ?, updated_at = ?, version = version + 1
		WHERE kind = ? AND id = ? AND deleted_at IS NULL`,
		ts, ts, ref.Kind, ref.ID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM unique_constraints WHERE entity_ref = ?`, ref.String()); err != nil {
		return fmt.Errorf("release unique values of %s: %w", ref, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM relationships WHERE child_ref = ?`, ref.String()); err != nil {
		return fmt.Errorf("unlink %s: %w", ref, err)
	}

	children, err := childrenOf(ctx, tx, ref)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM relationships WHERE parent_ref = ?`, ref.String()); err != nil {
		return fmt.Errorf("unlink children of %s: %w", ref, err)
	}

	if !cascade {
		return nil
	}
	for _, child := range children {
		if err := s.remove(ctx, tx, child, true, ts, seen); err != nil {
			return err
		}
	}
	if len(children) > 0 {
		s.logger.Debug("cascade delete", "entityRef", ref.String(), "childCount", len(children))
	}
	return nil
}

// Query streams live records matching q.
func (s *Store) Query(ctx context.Context, q store.Query) (*store.Cursor, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	query, args := buildQuery(q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query %s: %w", q.Kind, err)
	}

	return store.NewCursor(func(context.Context) (*store.Record, error) {
		if !rows.Next() {
			return nil, rows.Err()
		}
		return scanRecord(rows, q.Kind)
	}, rows.Close), nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, kind string) (*store.Record, error) {
	rec := &store.Record{Kind: kind}
	var created, updated, parents, fieldsBlob string
	if err := row.Scan(&rec.ID, &rec.Version, &created, &updated, &parents, &fieldsBlob); err != nil {
		return nil, err
	}
	var err error
	if rec.CreatedAt, err = parseTime("created_at", created); err != nil {
		return nil, fmt.Errorf("decode %s#%s: %w", kind, rec.ID, err)
	}
	if rec.UpdatedAt, err = parseTime("updated_at", updated); err != nil {
		return nil, fmt.Errorf("decode %s#%s: %w", kind, rec.ID, err)
	}
	rec.Parents = decodeParents(parents)
	rec.Fields = map[string]any{}
	if err := json.Unmarshal([]byte(fieldsBlob), &rec.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of %s#%s: %w", kind, rec.ID, err)
	}
	return rec, nil
}

func parseTime(column, value string) (time.Time, error) {
	t, err := time.Parse(timeFormat, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", column, err)
	}
	return t, nil
}

func encodeRecord(rec *store.Record) (fields, parents string, err error) {
	f := rec.Fields
	if f == nil {
		f = map[string]any{}
	}
	fb, err := json.Marshal(f)
	if err != nil {
		return "", "", fmt.Errorf("sqlstore: encode fields: %w", err)
	}
	refs := make([]string, 0, len(rec.Parents))
	for _, p := range rec.Parents {
		refs = append(refs, p.String())
	}
	pb, err := json.Marshal(refs)
	if err != nil {
		return "", "", fmt.Errorf("sqlstore: encode parents: %w", err)
	}
	return string(fb), string(pb), nil
}

func decodeParents(s string) []store.Ref {
	var raw []string
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil
	}
	var refs []store.Ref
	for _, r := range raw {
		if ref, err := store.ParseRef(r); err == nil {
			refs = append(refs, ref)
		}
	}
	return refs
}

func checkParents(ctx context.Context, tx *sql.Tx, parents []store.Ref) error {
	for _, p := range parents {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM records WHERE kind = ? AND id = ? AND deleted_at IS NULL`,
			p.Kind, p.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", store.ErrParentNotFound, p)
		}
		if err != nil {
			return fmt.Errorf("check parent %s: %w", p, err)
		}
	}
	return nil
}

func insertRelationships(ctx context.Context, tx *sql.Tx, child store.Ref, parents []store.Ref) error {
	for _, p := range parents {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO relationships (parent_ref, child_ref, child_kind, child_id)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			p.String(), child.String(), child.Kind, child.ID); err != nil {
			return fmt.Errorf("link %s to %s: %w", child, p, err)
		}
	}
	return nil
}

// syncParents moves relationship rows from the old parent set to the new one.
func syncParents(ctx context.Context, tx *sql.Tx, child store.Ref, oldParents, newParents []store.Ref) error {
	old := make(map[store.Ref]bool, len(oldParents))
	for _, p := range oldParents {
		old[p] = true
	}
	next := make(map[store.Ref]bool, len(newParents))
	var added []store.Ref
	for _, p := range newParents {
		next[p] = true
		if !old[p] {
			added = append(added, p)
		}
	}

	if err := checkParents(ctx, tx, added); err != nil {
		return err
	}
	for p := range old {
		if next[p] {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM relationships WHERE parent_ref = ? AND child_ref = ?`,
			p.String(), child.String()); err != nil {
			return fmt.Errorf("unlink %s from %s: %w", child, p, err)
		}
	}
	return insertRelationships(ctx, tx, child, added)
}

func insertUniques(ctx context.Context, tx *sql.Tx, rec *store.Record) error {
	ref := rec.Ref().String()
	for field, value := range rec.Unique {
		if value == "" {
			continue
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO unique_constraints (pk, kind, field, value, entity_ref)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			shard.UniqueConstraintPK(rec.Kind, field, value), rec.Kind, field, value, ref)
		if err != nil {
			return fmt.Errorf("claim unique %s.%s: %w", rec.Kind, field, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s.%s", store.ErrDuplicateValue, rec.Kind, field)
		}
	}
	return nil
}

func hasActiveChildren(ctx context.Context, tx *sql.Tx, parent store.Ref, kinds []string) (bool, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(kinds)), ", ")
	args := []any{parent.String()}
	for _, k := range kinds {
		args = append(args, k)
	}

	var one int
	err := tx.QueryRowContext(ctx, `
		SELECT 1 FROM relationships r
		JOIN records c ON c.kind = r.child_kind AND c.id = r.child_id
		WHERE r.parent_ref = ? AND c.deleted_at IS NULL
		AND r.child_kind IN (`+placeholders+`)
		LIMIT 1`, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check children of %s: %w", parent, err)
	}
	return true, nil
}

func childrenOf(ctx context.Context, tx *sql.Tx, parent store.Ref) ([]store.Ref, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT child_kind, child_id FROM relationships WHERE parent_ref = ?`, parent.String())
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", parent, err)
	}
	defer rows.Close()

	var children []store.Ref
	for rows.Next() {
		var ref store.Ref
		if err := rows.Scan(&ref.Kind, &ref.ID); err != nil {
			return nil, err
		}
		children = append(children, ref)
	}
	return children, rows.Err()
}
