package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db       *sql.DB
	path     string
	cfg      Config
	observer func(op string, err error)
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Observer, when set, is called after every key-value operation.
	Observer func(op string, err error)
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path:     cfg.Path,
		cfg:      cfg,
		observer: cfg.Observer,
	}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Init opens the database connection with WAL journaling and full
// synchronous commits.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path
	if dsn != ":memory:" {
		dsn = "file:" + dsn
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return hosterr.NewStorageError("failed to open database", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return hosterr.NewStorageError("failed to ping database", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return hosterr.NewStorageError("failed to run migrations", err)
	}

	return nil
}

// HealthCheck verifies the database connection is alive.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return hosterr.NewStorageError("health check failed", err)
	}
	return nil
}

func (s *SQLiteStore) observe(op string, err error) {
	if s.observer != nil {
		s.observer(op, err)
	}
}

func checkKey(op, key string) error {
	if key == "" {
		return hosterr.NewInvalidArgumentError("key must not be empty").WithOp(op)
	}
	return nil
}

// Get retrieves the value stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (v value.Value, found bool, err error) {
	defer func() { s.observe("get", err) }()

	if err := checkKey("store.get", key); err != nil {
		return value.Null(), false, err
	}

	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return value.Null(), false, nil
	}
	if err != nil {
		return value.Null(), false, hosterr.NewStorageError("failed to read entry", err).WithOp("store.get")
	}

	v, err = value.ParseJSON([]byte(raw))
	if err != nil {
		return value.Null(), false, hosterr.NewStorageError(fmt.Sprintf("corrupt entry %q", key), err).WithOp("store.get")
	}
	return v, true, nil
}

// Set stores v under key. The value is encoded before the transaction opens,
// so an unencodable value never touches the database.
func (s *SQLiteStore) Set(ctx context.Context, key string, v value.Value) (err error) {
	defer func() { s.observe("set", err) }()

	if err := checkKey("store.set", key); err != nil {
		return err
	}

	payload, err := v.MarshalJSON()
	if err != nil {
		var he *hosterr.HostError
		if errors.As(err, &he) {
			return he.WithOp("store.set")
		}
		return hosterr.NewSerializationError("failed to encode value", err).WithOp("store.set")
	}

	return s.inTx(ctx, "store.set", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, string(payload), time.Now().UTC())
		return err
	})
}

// Delete removes key and reports whether it existed.
func (s *SQLiteStore) Delete(ctx context.Context, key string) (removed bool, err error) {
	defer func() { s.observe("delete", err) }()

	if err := checkKey("store.delete", key); err != nil {
		return false, err
	}

	err = s.inTx(ctx, "store.delete", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		removed = rows > 0
		return nil
	})
	return removed, err
}

// Clear removes every entry in a single transaction, so concurrent readers
// observe either all entries or none.
func (s *SQLiteStore) Clear(ctx context.Context) (err error) {
	defer func() { s.observe("clear", err) }()

	return s.inTx(ctx, "store.clear", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM kv`)
		return err
	})
}

// Keys returns all keys ordered lexically.
func (s *SQLiteStore) Keys(ctx context.Context) (keys []string, err error) {
	defer func() { s.observe("keys", err) }()

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, hosterr.NewStorageError("failed to list keys", err).WithOp("store.keys")
	}
	defer rows.Close()

	keys = []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, hosterr.NewStorageError("failed to scan key", err).WithOp("store.keys")
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, hosterr.NewStorageError("error iterating keys", err).WithOp("store.keys")
	}
	return keys, nil
}

// Values returns all values ordered by key. Entries holding null are
// excluded.
func (s *SQLiteStore) Values(ctx context.Context) (values []value.Value, err error) {
	defer func() { s.observe("values", err) }()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE value <> 'null' ORDER BY key`)
	if err != nil {
		return nil, hosterr.NewStorageError("failed to list values", err).WithOp("store.values")
	}
	defer rows.Close()

	values = []value.Value{}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, hosterr.NewStorageError("failed to scan value", err).WithOp("store.values")
		}
		v, err := value.ParseJSON([]byte(raw))
		if err != nil {
			return nil, hosterr.NewStorageError(fmt.Sprintf("corrupt entry %q", key), err).WithOp("store.values")
		}
		if v.IsNull() {
			continue
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, hosterr.NewStorageError("error iterating values", err).WithOp("store.values")
	}
	return values, nil
}

// inTx runs fn in a transaction, rolling back on any failure.
func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return hosterr.NewStorageError("failed to begin transaction", err).WithOp(op)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return hosterr.NewStorageError("write failed", err).WithOp(op)
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return hosterr.NewStorageError("failed to commit transaction", err).WithOp(op)
	}
	return nil
}
