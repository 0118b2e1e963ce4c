package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ihaywood3/spamprobe/app/storage/engine"
	"github.com/ihaywood3/spamprobe/lib/spamprobe"
)

// Messages is a per-message training history store backed by sql.
// It implements spamprobe.MessageStore. The token set is kept as a JSON array
// in a text column, the filter only ever needs it whole.
type Messages struct {
	*engine.SQL
	engine.RWLocker
}

// messages-related command constants
const (
	CmdCreateMessagesTable engine.DBCmd = iota + 200
	CmdGetMessage
	CmdSetMessage
	CmdDeleteMessage
	CmdIterateMessages
)

// messagesStmts is the per-dialect SQL catalog for the messages table
var messagesStmts = engine.Statements{
	CmdCreateMessagesTable: {
		Sqlite: `CREATE TABLE IF NOT EXISTS messages (
			profile TEXT NOT NULL DEFAULT '',
			id TEXT NOT NULL,
			class TEXT CHECK (class IN ('ham', 'spam')),
			tokens TEXT NOT NULL DEFAULT '[]',
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (profile, id)
		)`,
		Postgres: `CREATE TABLE IF NOT EXISTS messages (
			profile TEXT NOT NULL DEFAULT '',
			id TEXT NOT NULL,
			class TEXT CHECK (class IN ('ham', 'spam')),
			tokens TEXT NOT NULL DEFAULT '[]',
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (profile, id)
		)`,
	},
	CmdGetMessage: {
		Sqlite:   `SELECT class, tokens FROM messages WHERE profile = ? AND id = ?`,
		Postgres: `SELECT class, tokens FROM messages WHERE profile = $1 AND id = $2`,
	},
	CmdSetMessage: {
		Sqlite: `INSERT INTO messages (profile, id, class, tokens) VALUES (?, ?, ?, ?)
			ON CONFLICT (profile, id) DO UPDATE SET class = excluded.class, tokens = excluded.tokens,
			timestamp = CURRENT_TIMESTAMP`,
		Postgres: `INSERT INTO messages (profile, id, class, tokens) VALUES ($1, $2, $3, $4)
			ON CONFLICT (profile, id) DO UPDATE SET class = EXCLUDED.class, tokens = EXCLUDED.tokens,
			timestamp = CURRENT_TIMESTAMP`,
	},
	CmdDeleteMessage: {
		Sqlite:   `DELETE FROM messages WHERE profile = ? AND id = ?`,
		Postgres: `DELETE FROM messages WHERE profile = $1 AND id = $2`,
	},
	CmdIterateMessages: {
		Sqlite:   `SELECT id, class, tokens FROM messages WHERE profile = ? ORDER BY id`,
		Postgres: `SELECT id, class, tokens FROM messages WHERE profile = $1 ORDER BY id`,
	},
}

// NewMessages creates a Messages store and initializes its table
func NewMessages(ctx context.Context, db *engine.SQL) (*Messages, error) {
	schema, err := db.Pick(messagesStmts, CmdCreateMessagesTable)
	if err != nil {
		return nil, fmt.Errorf("failed to pick messages schema: %w", err)
	}
	if err := engine.InitTable(ctx, db, schema); err != nil {
		return nil, fmt.Errorf("failed to init messages table: %w", err)
	}
	return &Messages{SQL: db, RWLocker: db.MakeLock()}, nil
}

// Get returns the training record for a message id and if it is present
func (m *Messages) Get(ctx context.Context, id string) (spamprobe.TrainingRecord, bool, error) {
	m.RLock()
	defer m.RUnlock()

	query, err := m.Pick(messagesStmts, CmdGetMessage)
	if err != nil {
		return spamprobe.TrainingRecord{}, false, fmt.Errorf("failed to pick query: %w", err)
	}

	var row struct {
		Class  string `db:"class"`
		Tokens string `db:"tokens"`
	}
	if err := m.GetContext(ctx, &row, query, m.Profile(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return spamprobe.TrainingRecord{}, false, nil
		}
		return spamprobe.TrainingRecord{}, false, fmt.Errorf("failed to get message %q: %w", id, err)
	}

	rec := spamprobe.TrainingRecord{Class: spamprobe.Class(row.Class)}
	if err := json.Unmarshal([]byte(row.Tokens), &rec.Tokens); err != nil {
		return spamprobe.TrainingRecord{}, false, fmt.Errorf("failed to decode tokens for %q: %w", id, err)
	}
	return rec, true, nil
}

// Set upserts the training record for a message id
func (m *Messages) Set(ctx context.Context, id string, rec spamprobe.TrainingRecord) error {
	m.Lock()
	defer m.Unlock()

	query, err := m.Pick(messagesStmts, CmdSetMessage)
	if err != nil {
		return fmt.Errorf("failed to pick query: %w", err)
	}

	tokens := rec.Tokens
	if tokens == nil {
		tokens = []string{}
	}
	encoded, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to encode tokens for %q: %w", id, err)
	}
	if _, err := m.ExecContext(ctx, query, m.Profile(), id, string(rec.Class), string(encoded)); err != nil {
		return fmt.Errorf("failed to set message %q: %w", id, err)
	}
	return nil
}

// Delete removes a training record, no-op if not present
func (m *Messages) Delete(ctx context.Context, id string) error {
	m.Lock()
	defer m.Unlock()

	query, err := m.Pick(messagesStmts, CmdDeleteMessage)
	if err != nil {
		return fmt.Errorf("failed to pick query: %w", err)
	}
	if _, err := m.ExecContext(ctx, query, m.Profile(), id); err != nil {
		return fmt.Errorf("failed to delete message %q: %w", id, err)
	}
	return nil
}

// Iterate calls fn for each training record in id order. Stops on the first
// error from fn and returns it.
func (m *Messages) Iterate(ctx context.Context, fn func(id string, rec spamprobe.TrainingRecord) error) error {
	m.RLock()
	defer m.RUnlock()

	query, err := m.Pick(messagesStmts, CmdIterateMessages)
	if err != nil {
		return fmt.Errorf("failed to pick query: %w", err)
	}

	rows, err := m.QueryxContext(ctx, query, m.Profile())
	if err != nil {
		return fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row struct {
			ID     string `db:"id"`
			Class  string `db:"class"`
			Tokens string `db:"tokens"`
		}
		if err := rows.StructScan(&row); err != nil {
			return fmt.Errorf("failed to scan message row: %w", err)
		}
		rec := spamprobe.TrainingRecord{Class: spamprobe.Class(row.Class)}
		if err := json.Unmarshal([]byte(row.Tokens), &rec.Tokens); err != nil {
			return fmt.Errorf("failed to decode tokens for %q: %w", row.ID, err)
		}
		if err := fn(row.ID, rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate messages: %w", err)
	}
	return nil
}
