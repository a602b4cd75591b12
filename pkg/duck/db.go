package duck

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/duckdb/duckdb-go/v2"
)

const MemoryPath = ":memory:"

// DB is a handle on the store shared across stage invocations. Stages never
// hold it open themselves; they take a Connection for the duration of one
// build and close it before returning.
type DB interface {
	Path() string
	Conn(ctx context.Context) (Connection, error)
	Close() error
}

type Connection interface {
	DB() DB
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

type duckDB struct {
	log  *slog.Logger
	path string
	db   *sql.DB
}

type duckConnection struct {
	conn *sql.Conn
	db   *duckDB
}

func (c *duckConnection) DB() DB {
	return c.db
}

func (c *duckConnection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

func (c *duckConnection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *duckConnection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

func (c *duckConnection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.conn.BeginTx(ctx, opts)
}

func (c *duckConnection) Close() error {
	return c.conn.Close()
}

// NewDB opens the DuckDB database at dbPath, creating its parent directory if
// needed. An empty path or MemoryPath opens an in-memory database, which is
// what the tests use.
func NewDB(ctx context.Context, dbPath string, log *slog.Logger) (*duckDB, error) {
	if dbPath == MemoryPath {
		dbPath = ""
	}
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Stages run one at a time and never write concurrently. A caller that
	// holds a connection must close it before the next stage asks for one.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dbPath == "" {
		log.Debug("duck: opened in-memory database")
	} else {
		log.Debug("duck: opened database", "path", dbPath)
	}

	return &duckDB{
		log:  log,
		path: dbPath,
		db:   db,
	}, nil
}

func (d *duckDB) Path() string {
	return d.path
}

func (d *duckDB) Conn(ctx context.Context) (Connection, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return &duckConnection{
		conn: conn,
		db:   d,
	}, nil
}

func (d *duckDB) Close() error {
	return d.db.Close()
}
