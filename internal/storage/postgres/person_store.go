// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
	"github.com/JakeFAU/socialgraph-crawler/internal/storage/idcache"
	"github.com/JakeFAU/socialgraph-crawler/internal/storage/sqlutil"
)

const uniqueViolation = "23505"

// minPoolConns leaves room for workers while the frontier cursor holds a
// connection.
const minPoolConns int32 = 2

func poolSize(requested int32) int32 {
	return max(requested, minPoolConns)
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	CacheSize       int
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements crawler.Store on Postgres.
type Store struct {
	pool   pool
	known  *idcache.Cache
	logger *zap.Logger
}

// NewStore connects a pgx pool using cfg.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = poolSize(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	known, err := idcache.New(cfg.CacheSize)
	if err != nil {
		p.Close()
		return nil, err
	}
	return &Store{pool: p, known: known, logger: orNop(logger)}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool, known *idcache.Cache, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p, known: known, logger: orNop(logger)}, nil
}

func orNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// CreateTables creates the schema if it does not exist.
func (s *Store) CreateTables(ctx context.Context) error {
	for _, stmt := range sqlutil.CreateStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// DropTables removes the schema.
func (s *Store) DropTables(ctx context.Context) error {
	for _, stmt := range sqlutil.DropStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("drop tables: %w", err)
		}
	}
	s.known.Purge()
	return nil
}

// UpsertPerson inserts a bare unprocessed person; a unique violation means
// the row already exists.
func (s *Store) UpsertPerson(ctx context.Context, id string) (crawler.UpsertResult, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO person (id, state) VALUES ($1, $2)`,
		id, int(crawler.StateUnprocessed),
	)
	if isUniqueViolation(err) {
		return crawler.AlreadyExists, nil
	}
	if err != nil {
		return 0, fmt.Errorf("insert person %s: %w", id, err)
	}
	return crawler.Inserted, nil
}

// UpdatePerson rewrites state and every non-nil attribute.
func (s *Store) UpdatePerson(ctx context.Context, p crawler.Person) error {
	query, args := sqlutil.UpdatePerson(sqlbuilder.PostgreSQL, p)
	return s.execUpdate(ctx, "update person", p.ID, query, args)
}

// UpdateProfile rewrites every non-nil attribute and keeps state.
func (s *Store) UpdateProfile(ctx context.Context, p crawler.Person) error {
	query, args := sqlutil.UpdateProfile(sqlbuilder.PostgreSQL, p)
	return s.execUpdate(ctx, "update profile", p.ID, query, args)
}

func (s *Store) execUpdate(ctx context.Context, op, id, query string, args []any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", op, id, crawler.ErrNotFound)
	}
	return nil
}

// GetPerson fetches a person by id.
func (s *Store) GetPerson(ctx context.Context, id string) (crawler.Person, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sqlutil.PersonColumns+` FROM person WHERE id = $1`, id)
	p, err := sqlutil.ScanPerson(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM person WHERE state = $1`, int(state)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s persons: %w", state, err)
	}
	return n, nil
}

// IteratePending opens a cursor over persons in state ordered by id. The
// cursor holds one pool connection until closed.
func (s *Store) IteratePending(ctx context.Context, state crawler.PersonState) (crawler.PersonCursor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sqlutil.PersonColumns+` FROM person WHERE state = $1 ORDER BY id`, int(state))
	if err != nil {
		return nil, fmt.Errorf("query %s persons: %w", state, err)
	}
	return &personCursor{rows: rows}, nil
}

// IteratePersons opens a cursor over every person ordered by id.
func (s *Store) IteratePersons(ctx context.Context) (crawler.PersonCursor, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sqlutil.PersonColumns+` FROM person ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query persons: %w", err)
	}
	return &personCursor{rows: rows}, nil
}

// IterateRelationships opens a cursor over every edge.
func (s *Store) IterateRelationships(ctx context.Context) (crawler.RelationshipCursor, error) {
	rows, err := s.pool.Query(ctx,
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO relationship (`+sqlutil.RelationshipColumns+`) VALUES ($1, $2, $3, $4)`,
		r.SourceID, r.TargetID, sqlutil.NullableTime(r.DateRetrieved), r.Strength,
	)
	if isUniqueViolation(err) {
		s.logger.Debug("relationship already stored",
			zap.String("source_id", r.SourceID),
			zap.String("target_id", r.TargetID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert relationship %s->%s: %w", r.SourceID, r.TargetID, err)
	}
	return nil
}

// ResetState moves every person in from to to.
func (s *Store) ResetState(ctx context.Context, from, to crawler.PersonState) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE person SET state = $1 WHERE state = $2`, int(to), int(from))
	if err != nil {
		return 0, fmt.Errorf("reset %s persons: %w", from, err)
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type personCursor struct {
	rows pgx.Rows
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
	c.rows.Close()
	return c.Err()
}

type relationshipCursor struct {
	rows pgx.Rows
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
	c.rows.Close()
	return c.Err()
}
