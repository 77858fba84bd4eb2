package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DefaultBusyTimeout is how long a writer waits for the database lock held by another writer.
const DefaultBusyTimeout = 5 * time.Second

// Connection wraps the SQLite handle of the clearing store.
type Connection struct {
	db          *sql.DB
	dbPath      string
	busyTimeout time.Duration
}

// Option configures Open.
type Option func(*Connection)

// WithBusyTimeout sets how long a write transaction waits for a concurrent writer.
// A non-positive value keeps DefaultBusyTimeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *Connection) {
		if d > 0 {
			c.busyTimeout = d
		}
	}
}

// Open opens the store, creating the file and its schema when needed.
// Transactions take the write lock when they begin (_txlock=immediate): two lettrages over
// the same lines serialize, and the second one sees the first one's clearing codes.
func Open(dbPath string, opts ...Option) (*Connection, error) {
	conn := &Connection{
		dbPath:      dbPath,
		busyTimeout: DefaultBusyTimeout,
	}
	for _, opt := range opts {
		opt(conn)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=%d",
		dbPath, conn.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.db = db

	if err := conn.Ping(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	if err := InitializeSchema(conn); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return conn, nil
}

// Close closes the database connection.
func (c *Connection) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping checks that the database file is reachable.
func (c *Connection) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database %s: %w", c.dbPath, err)
	}
	return nil
}

// GetDB returns the underlying *sql.DB instance.
func (c *Connection) GetDB() *sql.DB {
	return c.db
}

// Transaction runs fn in one write transaction. The transaction is committed when fn
// returns nil and rolled back otherwise; fn's error is returned unwrapped so that callers
// can match engine errors. A panic in fn rolls back and re-panics.
func (c *Connection) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
