package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/serroba/next-number/internal/nextnumber"
	"github.com/serroba/next-number/internal/ratelimit"
)

// sqliteTimeLayout is fixed width so that text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ratelimits (
    key      TEXT    NOT NULL,
    duration INTEGER NOT NULL,
    value    INTEGER NOT NULL DEFAULT 0,
    expiry   TIMESTAMP NOT NULL,
    UNIQUE (key, duration)
);
CREATE INDEX IF NOT EXISTS idx_ratelimits_expiry ON ratelimits(expiry);

CREATE TABLE IF NOT EXISTS queries (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    datetime TIMESTAMP NOT NULL,
    owner    TEXT    NOT NULL,
    name     TEXT    NOT NULL,
    result   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS requests (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    datetime    TIMESTAMP NOT NULL,
    request_id  TEXT    NOT NULL,
    method      TEXT    NOT NULL,
    path        TEXT    NOT NULL,
    status      INTEGER NOT NULL,
    duration_ms REAL    NOT NULL,
    client_ip   TEXT    NOT NULL
);
`

// SQLiteBackend stores windows and history in a SQLite database file.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
// Transactions take the write lock up front so concurrent requests queue
// behind each other instead of failing halfway through.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	return NewSQLiteBackend(db), nil
}

// NewSQLiteBackend wraps an existing database handle.
func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

// Migrate creates the tables if they do not exist.
func (b *SQLiteBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}

	return nil
}

// Open pins a dedicated connection for one request.
func (b *SQLiteBackend) Open(ctx context.Context) (nextnumber.Session, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire sqlite connection: %w", err)
	}

	return &SQLiteSession{conn: conn}, nil
}

func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLiteBackend) Shutdown() error {
	return b.db.Close()
}

// SQLiteSession is a nextnumber.Session on one SQLite connection.
// A transaction is opened by the first statement after construction or Commit.
type SQLiteSession struct {
	conn   *sql.Conn
	tx     *sql.Tx
	closed bool
}

func (s *SQLiteSession) begin(ctx context.Context) (*sql.Tx, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	if s.tx == nil {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin sqlite transaction: %w", err)
		}

		s.tx = tx
	}

	return s.tx, nil
}

func (s *SQLiteSession) GetWindow(
	ctx context.Context, key string, duration ratelimit.Minutes,
) (ratelimit.StoredWindow, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return ratelimit.StoredWindow{}, err
	}

	var (
		value  int64
		expiry any
	)

	err = tx.QueryRowContext(ctx,
		`SELECT value, expiry FROM ratelimits WHERE key = ? AND duration = ?`,
		key, int64(duration),
	).Scan(&value, &expiry)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ratelimit.StoredWindow{}, ratelimit.ErrWindowNotFound
		}

		return ratelimit.StoredWindow{}, err
	}

	exp, err := parseSQLiteTime(expiry)
	if err != nil {
		return ratelimit.StoredWindow{}, err
	}

	return ratelimit.StoredWindow{Key: key, Duration: duration, Value: value, Expiry: exp}, nil
}

func (s *SQLiteSession) CreateWindow(
	ctx context.Context, key string, duration ratelimit.Minutes, expiry time.Time,
) (ratelimit.StoredWindow, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return ratelimit.StoredWindow{}, err
	}

	expiry = expiry.UTC()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ratelimits (key, duration, value, expiry) VALUES (?, ?, 0, ?)`,
		key, int64(duration), expiry.Format(sqliteTimeLayout),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ratelimit.StoredWindow{}, fmt.Errorf("%w: %w", ratelimit.ErrWindowExists, err)
		}

		return ratelimit.StoredWindow{}, err
	}

	return ratelimit.StoredWindow{Key: key, Duration: duration, Value: 0, Expiry: expiry}, nil
}

func (s *SQLiteSession) IncrementWindows(ctx context.Context, key string, by int64) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `UPDATE ratelimits SET value = value + ? WHERE key = ?`, by, key)

	return err
}

func (s *SQLiteSession) DeleteWindow(ctx context.Context, key string, duration ratelimit.Minutes) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM ratelimits WHERE key = ? AND duration = ?`, key, int64(duration))

	return err
}

func (s *SQLiteSession) Prune(ctx context.Context, maxWindows int64) (int64, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ratelimits`).Scan(&count); err != nil {
		return 0, err
	}

	excess := count - maxWindows
	if excess <= 0 {
		return 0, nil
	}

	// mattn/go-sqlite3 is not built with DELETE ... LIMIT support.
	res, err := tx.ExecContext(ctx,
		`DELETE FROM ratelimits WHERE rowid IN (SELECT rowid FROM ratelimits ORDER BY expiry LIMIT ?)`,
		excess,
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (s *SQLiteSession) SaveQuery(ctx context.Context, query *nextnumber.Query) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO queries (datetime, owner, name, result) VALUES (?, ?, ?, ?)`,
		query.At.UTC().Format(sqliteTimeLayout), query.Owner, query.Name, query.Result,
	)

	return err
}

func (s *SQLiteSession) SaveRequest(ctx context.Context, req *nextnumber.Request) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO requests (datetime, request_id, method, path, status, duration_ms, client_ip)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.At.UTC().Format(sqliteTimeLayout), req.RequestID, req.Method, req.Path, req.Status,
		float64(req.Duration)/float64(time.Millisecond), req.ClientIP,
	)

	return err
}

func (s *SQLiteSession) Commit(_ context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}

	if s.tx == nil {
		return nil
	}

	tx := s.tx
	s.tx = nil

	return tx.Commit()
}

// Close rolls back any open transaction and returns the connection to the pool.
func (s *SQLiteSession) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}

	return s.conn.Close()
}

// parseSQLiteTime accepts what the driver hands back for a TIMESTAMP column.
func parseSQLiteTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseSQLiteText(t)
	case []byte:
		return parseSQLiteText(string(t))
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}

func parseSQLiteText(s string) (time.Time, error) {
	t, err := time.ParseInLocation(sqliteTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}

	return t, nil
}

// Compile-time checks.
var (
	_ Backend            = (*SQLiteBackend)(nil)
	_ Migrator           = (*SQLiteBackend)(nil)
	_ nextnumber.Session = (*SQLiteSession)(nil)
)
