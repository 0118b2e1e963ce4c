// Package storage provides sql-backed implementations of the filter's word
// and message stores. Each table is represented by a struct wrapping the
// shared engine connection, with dialect-specific queries picked per backend.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ihaywood3/spamprobe/app/storage/engine"
	"github.com/ihaywood3/spamprobe/lib/spamprobe"
)

// Words is a per-token statistics store backed by sql.
// It implements spamprobe.WordStore.
type Words struct {
	*engine.SQL
	engine.RWLocker
}

// words-related command constants
const (
	CmdCreateWordsTable engine.DBCmd = iota + 100
	CmdGetWord
	CmdSetWord
	CmdDeleteWord
	CmdIterateWords
	CmdCleanupWords
)

// wordsStmts is the per-dialect SQL catalog for the words table
var wordsStmts = engine.Statements{
	CmdCreateWordsTable: engine.Same(`CREATE TABLE IF NOT EXISTS words (
		profile TEXT NOT NULL DEFAULT '',
		token TEXT NOT NULL,
		ham INTEGER NOT NULL DEFAULT 0,
		spam INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (profile, token)
	)`),
	CmdGetWord: {
		Sqlite:   `SELECT ham, spam FROM words WHERE profile = ? AND token = ?`,
		Postgres: `SELECT ham, spam FROM words WHERE profile = $1 AND token = $2`,
	},
	CmdSetWord: {
		Sqlite: `INSERT INTO words (profile, token, ham, spam) VALUES (?, ?, ?, ?)
			ON CONFLICT (profile, token) DO UPDATE SET ham = excluded.ham, spam = excluded.spam`,
		Postgres: `INSERT INTO words (profile, token, ham, spam) VALUES ($1, $2, $3, $4)
			ON CONFLICT (profile, token) DO UPDATE SET ham = EXCLUDED.ham, spam = EXCLUDED.spam`,
	},
	CmdDeleteWord: {
		Sqlite:   `DELETE FROM words WHERE profile = ? AND token = ?`,
		Postgres: `DELETE FROM words WHERE profile = $1 AND token = $2`,
	},
	CmdIterateWords: {
		Sqlite:   `SELECT token, ham, spam FROM words WHERE profile = ? ORDER BY token`,
		Postgres: `SELECT token, ham, spam FROM words WHERE profile = $1 ORDER BY token`,
	},
	CmdCleanupWords: {
		Sqlite:   `DELETE FROM words WHERE profile = ? AND ham + spam < ?`,
		Postgres: `DELETE FROM words WHERE profile = $1 AND ham + spam < $2`,
	},
}

// NewWords creates a Words store and initializes its table
func NewWords(ctx context.Context, db *engine.SQL) (*Words, error) {
	schema, err := db.Pick(wordsStmts, CmdCreateWordsTable)
	if err != nil {
		return nil, fmt.Errorf("failed to pick words schema: %w", err)
	}
	if err := engine.InitTable(ctx, db, schema); err != nil {
		return nil, fmt.Errorf("failed to init words table: %w", err)
	}
	return &Words{SQL: db, RWLocker: db.MakeLock()}, nil
}

// Get returns stats for a token and if the token is present
func (w *Words) Get(ctx context.Context, token string) (spamprobe.WordStats, bool, error) {
	w.RLock()
	defer w.RUnlock()

	query, err := w.Pick(wordsStmts, CmdGetWord)
	if err != nil {
		return spamprobe.WordStats{}, false, fmt.Errorf("failed to pick query: %w", err)
	}

	var row struct {
		Ham  int `db:"ham"`
		Spam int `db:"spam"`
	}
	if err := w.GetContext(ctx, &row, query, w.Profile(), token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return spamprobe.WordStats{}, false, nil
		}
		return spamprobe.WordStats{}, false, fmt.Errorf("failed to get word %q: %w", token, err)
	}
	return spamprobe.WordStats{Ham: row.Ham, Spam: row.Spam}, true, nil
}

// Set upserts stats for a token
func (w *Words) Set(ctx context.Context, token string, ws spamprobe.WordStats) error {
	w.Lock()
	defer w.Unlock()

	query, err := w.Pick(wordsStmts, CmdSetWord)
	if err != nil {
		return fmt.Errorf("failed to pick query: %w", err)
	}
	if _, err := w.ExecContext(ctx, query, w.Profile(), token, ws.Ham, ws.Spam); err != nil {
		return fmt.Errorf("failed to set word %q: %w", token, err)
	}
	return nil
}

// Delete removes a token entry, no-op if not present
func (w *Words) Delete(ctx context.Context, token string) error {
	w.Lock()
	defer w.Unlock()

	query, err := w.Pick(wordsStmts, CmdDeleteWord)
	if err != nil {
		return fmt.Errorf("failed to pick query: %w", err)
	}
	if _, err := w.ExecContext(ctx, query, w.Profile(), token); err != nil {
		return fmt.Errorf("failed to delete word %q: %w", token, err)
	}
	return nil
}

// Iterate calls fn for each token entry in token order. Stops on the first
// error from fn and returns it.
func (w *Words) Iterate(ctx context.Context, fn func(token string, ws spamprobe.WordStats) error) error {
	w.RLock()
	defer w.RUnlock()

	query, err := w.Pick(wordsStmts, CmdIterateWords)
	if err != nil {
		return fmt.Errorf("failed to pick query: %w", err)
	}

	rows, err := w.QueryxContext(ctx, query, w.Profile())
	if err != nil {
		return fmt.Errorf("failed to query words: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row struct {
			Token string `db:"token"`
			Ham   int    `db:"ham"`
			Spam  int    `db:"spam"`
		}
		if err := rows.StructScan(&row); err != nil {
			return fmt.Errorf("failed to scan word row: %w", err)
		}
		if err := fn(row.Token, spamprobe.WordStats{Ham: row.Ham, Spam: row.Spam}); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate words: %w", err)
	}
	return nil
}

// Cleanup removes entries whose combined count is below minTotal and returns
// the number of pruned words. The filter never prunes on its own, decayed
// entries accumulate until the caller asks for a cleanup.
func (w *Words) Cleanup(ctx context.Context, minTotal int) (int, error) {
	w.Lock()
	defer w.Unlock()

	query, err := w.Pick(wordsStmts, CmdCleanupWords)
	if err != nil {
		return 0, fmt.Errorf("failed to pick query: %w", err)
	}
	res, err := w.ExecContext(ctx, query, w.Profile(), minTotal)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup words: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(affected), nil
}
