// Package postgres implements the relationaldb interfaces for PostgreSQL
// using database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/qirat-network/qiratd/internal/storage/relationaldb"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresDatabase implements the Database interface for PostgreSQL
type PostgresDatabase struct {
	db     *sql.DB
	config *relationaldb.Config
}

// NewDatabase creates a new PostgreSQL database instance
func NewDatabase(config *relationaldb.Config) (*PostgresDatabase, error) {
	if err := config.Validate(); err != nil {
		return nil, relationaldb.NewConfigurationError("new_database", "invalid configuration", err)
	}

	return &PostgresDatabase{config: config}, nil
}

// Open opens the database connection and initializes schema
func (db *PostgresDatabase) Open(ctx context.Context) error {
	connStr, err := db.config.BuildConnectionString()
	if err != nil {
		return relationaldb.NewConfigurationError("open", "failed to build connection string", err)
	}

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return relationaldb.NewConnectionError("open", "failed to open database connection", err)
	}

	sqlDB.SetMaxOpenConns(db.config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(db.config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(db.config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(db.config.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, db.config.DefaultTimeout)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return relationaldb.NewConnectionError("open", "failed to ping database", err)
	}

	db.db = sqlDB

	if err := db.initSchema(ctx); err != nil {
		db.db.Close()
		db.db = nil
		return relationaldb.NewSchemaError("open", "failed to initialize schema", err)
	}

	return nil
}

// Close closes the database connection
func (db *PostgresDatabase) Close(ctx context.Context) error {
	if db.db == nil {
		return nil
	}

	err := db.db.Close()
	db.db = nil

	if err != nil {
		return relationaldb.NewConnectionError("close", "failed to close database connection", err)
	}

	return nil
}

// Ping tests the database connection
func (db *PostgresDatabase) Ping(ctx context.Context) error {
	if db.db == nil {
		return relationaldb.ErrDatabaseClosed
	}

	pingCtx, cancel := context.WithTimeout(ctx, db.config.DefaultTimeout)
	defer cancel()

	if err := db.db.PingContext(pingCtx); err != nil {
		return relationaldb.NewConnectionError("ping", "database ping failed", err)
	}

	return nil
}

// DB exposes the underlying pool
func (db *PostgresDatabase) DB() *sql.DB {
	return db.db
}

// RunInTransaction runs fn inside a single transaction
func (db *PostgresDatabase) RunInTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if db.db == nil {
		return relationaldb.ErrDatabaseClosed
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return relationaldb.NewTransactionError("begin", "failed to begin transaction", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return relationaldb.NewTransactionError("rollback", fmt.Sprintf("rollback failed after: %v", err), rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return relationaldb.NewTransactionError("commit", "failed to commit transaction", err)
	}

	return nil
}

var _ relationaldb.Database = (*PostgresDatabase)(nil)
