package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/next-number/internal/nextnumber"
	"github.com/serroba/next-number/internal/ratelimit"
)

const pgUniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ratelimits (
    key      TEXT        NOT NULL,
    duration INTEGER     NOT NULL,
    value    BIGINT      NOT NULL DEFAULT 0,
    expiry   TIMESTAMPTZ NOT NULL,
    UNIQUE (key, duration)
);
CREATE INDEX IF NOT EXISTS idx_ratelimits_expiry ON ratelimits(expiry);

CREATE TABLE IF NOT EXISTS queries (
    id       BIGSERIAL   PRIMARY KEY,
    datetime TIMESTAMPTZ NOT NULL,
    owner    TEXT        NOT NULL,
    name     TEXT        NOT NULL,
    result   INTEGER     NOT NULL
);

CREATE TABLE IF NOT EXISTS requests (
    id          BIGSERIAL        PRIMARY KEY,
    datetime    TIMESTAMPTZ      NOT NULL,
    request_id  TEXT             NOT NULL,
    method      TEXT             NOT NULL,
    path        TEXT             NOT NULL,
    status      INTEGER          NOT NULL,
    duration_ms DOUBLE PRECISION NOT NULL,
    client_ip   TEXT             NOT NULL
);
`

// PostgresBackend is a PostgreSQL implementation of Backend.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend creates a new PostgreSQL-backed store.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (p *PostgresBackend) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}

	return nil
}

// Open acquires a dedicated pool connection for one request.
func (p *PostgresBackend) Open(ctx context.Context) (nextnumber.Session, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire postgres connection: %w", err)
	}

	return &PostgresSession{conn: conn}, nil
}

func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Shutdown closes the pool.
func (p *PostgresBackend) Shutdown() error {
	p.pool.Close()

	return nil
}

// PostgresSession is a nextnumber.Session on one pooled connection.
type PostgresSession struct {
	conn   *pgxpool.Conn
	tx     pgx.Tx
	closed bool
}

func (s *PostgresSession) begin(ctx context.Context) (pgx.Tx, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	if s.tx == nil {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("begin postgres transaction: %w", err)
		}

		s.tx = tx
	}

	return s.tx, nil
}

func (s *PostgresSession) GetWindow(
	ctx context.Context, key string, duration ratelimit.Minutes,
) (ratelimit.StoredWindow, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return ratelimit.StoredWindow{}, err
	}

	query := `
		SELECT value, expiry
		FROM ratelimits
		WHERE key = $1 AND duration = $2
	`

	w := ratelimit.StoredWindow{Key: key, Duration: duration}

	err = tx.QueryRow(ctx, query, key, int64(duration)).Scan(&w.Value, &w.Expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ratelimit.StoredWindow{}, ratelimit.ErrWindowNotFound
		}

		return ratelimit.StoredWindow{}, err
	}

	w.Expiry = w.Expiry.UTC()

	return w, nil
}

func (s *PostgresSession) CreateWindow(
	ctx context.Context, key string, duration ratelimit.Minutes, expiry time.Time,
) (ratelimit.StoredWindow, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return ratelimit.StoredWindow{}, err
	}

	query := `
		INSERT INTO ratelimits (key, duration, value, expiry)
		VALUES ($1, $2, 0, $3)
	`

	// Postgres keeps microseconds; round now so the returned window matches what a read sees.
	expiry = expiry.UTC().Truncate(time.Microsecond)

	if _, err = tx.Exec(ctx, query, key, int64(duration), expiry); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ratelimit.StoredWindow{}, fmt.Errorf("%w: %w", ratelimit.ErrWindowExists, err)
		}

		return ratelimit.StoredWindow{}, err
	}

	return ratelimit.StoredWindow{Key: key, Duration: duration, Value: 0, Expiry: expiry}, nil
}

func (s *PostgresSession) IncrementWindows(ctx context.Context, key string, by int64) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `UPDATE ratelimits SET value = value + $1 WHERE key = $2`, by, key)

	return err
}

func (s *PostgresSession) DeleteWindow(ctx context.Context, key string, duration ratelimit.Minutes) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `DELETE FROM ratelimits WHERE key = $1 AND duration = $2`, key, int64(duration))

	return err
}

func (s *PostgresSession) Prune(ctx context.Context, maxWindows int64) (int64, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM ratelimits`).Scan(&count); err != nil {
		return 0, err
	}

	excess := count - maxWindows
	if excess <= 0 {
		return 0, nil
	}

	query := `
		DELETE FROM ratelimits
		WHERE ctid IN (SELECT ctid FROM ratelimits ORDER BY expiry LIMIT $1)
	`

	tag, err := tx.Exec(ctx, query, excess)
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

func (s *PostgresSession) SaveQuery(ctx context.Context, q *nextnumber.Query) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO queries (datetime, owner, name, result)
		VALUES ($1, $2, $3, $4)
	`

	_, err = tx.Exec(ctx, query, q.At.UTC(), q.Owner, q.Name, q.Result)

	return err
}

func (s *PostgresSession) SaveRequest(ctx context.Context, req *nextnumber.Request) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO requests (datetime, request_id, method, path, status, duration_ms, client_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = tx.Exec(ctx, query,
		req.At.UTC(),
		req.RequestID,
		req.Method,
		req.Path,
		req.Status,
		float64(req.Duration)/float64(time.Millisecond),
		req.ClientIP,
	)

	return err
}

func (s *PostgresSession) Commit(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}

	if s.tx == nil {
		return nil
	}

	tx := s.tx
	s.tx = nil

	return tx.Commit(ctx)
}

// Close rolls back any open transaction and releases the connection.
func (s *PostgresSession) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	if s.tx != nil {
		_ = s.tx.Rollback(context.Background())
		s.tx = nil
	}

	s.conn.Release()

	return nil
}

// Compile-time checks.
var (
	_ Backend            = (*PostgresBackend)(nil)
	_ Migrator           = (*PostgresBackend)(nil)
	_ nextnumber.Session = (*PostgresSession)(nil)
)
