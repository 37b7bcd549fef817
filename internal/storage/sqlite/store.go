// Package sqlite provides an embedded entity store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
	"github.com/JakeFAU/socialgraph-crawler/internal/storage/idcache"
	"github.com/JakeFAU/socialgraph-crawler/internal/storage/sqlutil"
)

// Config controls the SQLite database file and pool.
type Config struct {
	Path string
	// MaxOpenConns must be at least 2 so a live cursor and writers can
	// coexist. WAL mode lets readers proceed while one connection writes.
	MaxOpenConns int
	BusyTimeout  time.Duration
	CacheSize    int
}

// Store implements crawler.Store on a single SQLite file.
type Store struct {
	db     *sql.DB
	known  *idcache.Cache
	logger *zap.Logger
}

// Open opens (creating if needed) the database at cfg.Path.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 10 * time.Second
	}
	dsn := fmt.Sprintf(
		"%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		cfg.Path, busy.Milliseconds(),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conns := cfg.MaxOpenConns
	if conns < 2 {
		conns = 4
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	known, err := idcache.New(cfg.CacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, known: known, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// CreateTables creates the schema if it does not exist.
func (s *Store) CreateTables(ctx context.Context) error {
	for _, stmt := range sqlutil.CreateStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// DropTables removes the schema.
func (s *Store) DropTables(ctx context.Context) error {
	for _, stmt := range sqlutil.DropStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("drop tables: %w", err)
		}
	}
	s.known.Purge()
	return nil
}

// UpsertPerson inserts a bare unprocessed person.
func (s *Store) UpsertPerson(ctx context.Context, id string) (crawler.UpsertResult, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO person (id, state) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		id, int(crawler.StateUnprocessed),
	)
	if err != nil {
		return 0, fmt.Errorf("insert person %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert person %s: %w", id, err)
	}
	if n == 0 {
		return crawler.AlreadyExists, nil
	}
	return crawler.Inserted, nil
}

// UpdatePerson rewrites state and every non-nil attribute.
func (s *Store) UpdatePerson(ctx context.Context, p crawler.Person) error {
	query, args := sqlutil.UpdatePerson(sqlbuilder.SQLite, p)
	return s.execUpdate(ctx, "update person", p.ID, query, args)
}

// UpdateProfile rewrites every non-nil attribute and keeps state.
func (s *Store) UpdateProfile(ctx context.Context, p crawler.Person) error {
	query, args := sqlutil.UpdateProfile(sqlbuilder.SQLite, p)
	return s.execUpdate(ctx, "update profile", p.ID, query, args)
}

func (s *Store) execUpdate(ctx context.Context, op, id, query string, args []any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, crawler.ErrNotFound)
	}
	return nil
}

// GetPerson fetches a person by id.
func (s *Store) GetPerson(ctx context.Context, id string) (crawler.Person, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlutil.PersonColumns+` FROM person WHERE id = ?`, id)
	p, err := sqlutil.ScanPerson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Person{}, fmt.Errorf("get person %s: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Person{}, fmt.Errorf("get person %s: %w", id, err)
	}
	return p, nil
}

// CountByState counts persons in state.
func (s *Store) CountByState(ctx context.Context, state crawler.PersonState) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM person WHERE state = ?`, int(state)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s persons: %w", state, err)
	}
	return n, nil
}

// IteratePending opens a cursor over persons in state ordered by id.
func (s *Store) IteratePending(ctx context.Context, state crawler.PersonState) (crawler.PersonCursor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlutil.PersonColumns+` FROM person WHERE state = ? ORDER BY id`, int(state))
	if err != nil {
		return nil, fmt.Errorf("query %s persons: %w", state, err)
	}
	return &personCursor{rows: rows}, nil
}

// IteratePersons opens a cursor over every person ordered by id.
func (s *Store) IteratePersons(ctx context.Context) (crawler.PersonCursor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqlutil.PersonColumns+` FROM person ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query persons: %w", err)
	}
	return &personCursor{rows: rows}, nil
}

// IterateRelationships opens a cursor over every edge.
func (s *Store) IterateRelationships(ctx context.Context) (crawler.RelationshipCursor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlutil.RelationshipColumns+` FROM relationship ORDER BY source_id, target_id`)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	return &relationshipCursor{rows: rows}, nil
}

// InsertRelationship creates missing endpoints, then the edge. A duplicate
// edge is logged and ignored.
func (s *Store) InsertRelationship(ctx context.Context, r crawler.Relationship) error {
	if err := s.known.Ensure(ctx, s.UpsertPerson, r.SourceID, r.TargetID); err != nil {
		return err //nolint:wrapcheck // already carries the person id
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO relationship (`+sqlutil.RelationshipColumns+`) VALUES (?, ?, ?, ?)
		ON CONFLICT (source_id, target_id) DO NOTHING`,
		r.SourceID, r.TargetID, sqlutil.NullableTime(r.DateRetrieved), r.Strength,
	)
	if err != nil {
		return fmt.Errorf("insert relationship %s->%s: %w", r.SourceID, r.TargetID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.Debug("relationship already stored",
			zap.String("source_id", r.SourceID),
			zap.String("target_id", r.TargetID),
		)
	}
	return nil
}

// ResetState moves every person in from to to.
func (s *Store) ResetState(ctx context.Context, from, to crawler.PersonState) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE person SET state = ? WHERE state = ?`, int(to), int(from))
	if err != nil {
		return 0, fmt.Errorf("reset %s persons: %w", from, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset %s persons: %w", from, err)
	}
	return n, nil
}

type personCursor struct {
	rows *sql.Rows
}

func (c *personCursor) Next() bool { return c.rows.Next() }

func (c *personCursor) Person() (crawler.Person, error) {
	p, err := sqlutil.ScanPerson(c.rows)
	if err != nil {
		return crawler.Person{}, fmt.Errorf("scan person: %w", err)
	}
	return p, nil
}

func (c *personCursor) Err() error {
	if err := c.rows.Err(); err != nil {
		return fmt.Errorf("iterate persons: %w", err)
	}
	return nil
}

func (c *personCursor) Close() error {
	if err := c.rows.Close(); err != nil {
		return fmt.Errorf("close person cursor: %w", err)
	}
	return nil
}

type relationshipCursor struct {
	rows *sql.Rows
}

func (c *relationshipCursor) Next() bool { return c.rows.Next() }

func (c *relationshipCursor) Relationship() (crawler.Relationship, error) {
	r, err := sqlutil.ScanRelationship(c.rows)
	if err != nil {
		return crawler.Relationship{}, fmt.Errorf("scan relationship: %w", err)
	}
	return r, nil
}

func (c *relationshipCursor) Err() error {
	if err := c.rows.Err(); err != nil {
		return fmt.Errorf("iterate relationships: %w", err)
	}
	return nil
}

func (c *relationshipCursor) Close() error {
	if err := c.rows.Close(); err != nil {
		return fmt.Errorf("close relationship cursor: %w", err)
	}
	return nil
}
