// Package engine provides a database connection wrapper for the storage layer,
// supporting sqlite and postgres backends over sqlx. Each connection carries a
// profile id, allowing several independent filters to share one database.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver loaded here
	_ "modernc.org/sqlite" // sqlite driver loaded here
)

// Type is a type of database engine
type Type string

// enum of supported database engines
const (
	Unknown  Type = ""
	Sqlite   Type = "sqlite"
	Postgres Type = "postgres"
)

// SQL is a wrapper for sqlx.DB with engine type and profile id.
// Type allows distinguishing between dialects, profile separates
// independent filters stored in the same database.
type SQL struct {
	sqlx.DB
	profile string
	dbType  Type
}

// New connects to the database described by the connection string. Strings
// prefixed with postgres:// or postgresql:// are treated as postgres,
// everything else as a sqlite file path.
func New(ctx context.Context, conn, profile string) (*SQL, error) {
	if strings.HasPrefix(conn, "postgres://") || strings.HasPrefix(conn, "postgresql://") {
		return NewPostgres(ctx, conn, profile)
	}
	return NewSqlite(conn, profile)
}

// NewSqlite creates a new sqlite database connection
func NewSqlite(file, profile string) (*SQL, error) {
	db, err := sqlx.Connect("sqlite", file)
	if err != nil {
		return &SQL{}, fmt.Errorf("failed to connect to sqlite %q: %w", file, err)
	}
	if err := setSqlitePragma(db); err != nil {
		return &SQL{}, err
	}
	// single connection keeps in-memory databases coherent and sidesteps
	// sqlite writer contention in the pool
	db.SetMaxOpenConns(1)
	return &SQL{DB: *db, profile: profile, dbType: Sqlite}, nil
}

// NewPostgres creates a new postgres database connection
func NewPostgres(ctx context.Context, conn, profile string) (*SQL, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", conn)
	if err != nil {
		return &SQL{}, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &SQL{DB: *db, profile: profile, dbType: Postgres}, nil
}

// Profile returns the profile id
func (e *SQL) Profile() string {
	return e.profile
}

// Type returns the database engine type
func (e *SQL) Type() Type {
	return e.dbType
}

// MakeLock returns the lock appropriate for this connection's engine.
// Sqlite writes need serializing on the client side and get a real RWMutex;
// postgres handles concurrency itself and gets the no-op kind.
func (e *SQL) MakeLock() RWLocker {
	if e.dbType == Sqlite {
		return new(sync.RWMutex)
	}
	return noopLocker{}
}

// InitTable creates the table schema in a transaction. The schema statement is
// expected to be idempotent (CREATE TABLE IF NOT EXISTS).
func InitTable(ctx context.Context, db *SQL, schema string) error {
	if db == nil {
		return fmt.Errorf("db connection is nil")
	}

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err = tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func setSqlitePragma(db *sqlx.DB) error {
	pragmas := map[string]string{
		"busy_timeout": "5000",
	}
	for name, value := range pragmas {
		if _, err := db.Exec("PRAGMA " + name + " = " + value); err != nil {
			return fmt.Errorf("failed to set pragma %s: %w", name, err)
		}
	}
	return nil
}

// RWLocker is the lock contract the table stores take from MakeLock.
type RWLocker interface {
	sync.Locker
	RLock()
	RUnlock()
}

// noopLocker satisfies RWLocker without ever blocking
type noopLocker struct{}

func (noopLocker) Lock()    {}
func (noopLocker) Unlock()  {}
func (noopLocker) RLock()   {}
func (noopLocker) RUnlock() {}
