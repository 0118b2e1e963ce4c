package spamprobe

import (
	"context"
	"sort"
)

// Class is a classification of a trained message.
type Class string

// enum of message classes
const (
	ClassHam  Class = "ham"
	ClassSpam Class = "spam"
)

// Valid reports if the class is one of the known values.
func (c Class) Valid() bool { return c == ClassHam || c == ClassSpam }

// WordStats holds per-token counts of trained messages the token appeared in,
// split by class. Counts are adjusted only through Learn/Unlearn and never go
// negative.
type WordStats struct {
	Ham  int `json:"ham"`
	Spam int `json:"spam"`
}

// Total returns the number of trained messages the token appeared in.
func (w WordStats) Total() int { return w.Ham + w.Spam }

// TrainingRecord is a per-message record of the last applied training:
// the class and the exact token set counted at that time.
type TrainingRecord struct {
	Class  Class    `json:"class"`
	Tokens []string `json:"tokens"` // sorted set of tokens counted at training time
}

// WordStore is a caller-supplied store of WordStats keyed by token.
// The filter needs nothing beyond atomic single-key reads and writes;
// persistence and file format are entirely up to the implementation.
type WordStore interface {
	Get(ctx context.Context, token string) (ws WordStats, found bool, err error)
	Set(ctx context.Context, token string, ws WordStats) error
	Delete(ctx context.Context, token string) error
	Iterate(ctx context.Context, fn func(token string, ws WordStats) error) error
}

// MessageStore is a caller-supplied store of TrainingRecord keyed by message id.
type MessageStore interface {
	Get(ctx context.Context, id string) (rec TrainingRecord, found bool, err error)
	Set(ctx context.Context, id string, rec TrainingRecord) error
	Delete(ctx context.Context, id string) error
	Iterate(ctx context.Context, fn func(id string, rec TrainingRecord) error) error
}

// MemoryWordStore is a map-based WordStore. Not safe for concurrent use,
// suitable for tests and single-caller embedding.
type MemoryWordStore struct {
	data map[string]WordStats
}

// NewMemoryWordStore makes a new empty in-memory word store.
func NewMemoryWordStore() *MemoryWordStore {
	return &MemoryWordStore{data: make(map[string]WordStats)}
}

// Get returns stats for a token and if the token is present.
func (m *MemoryWordStore) Get(_ context.Context, token string) (WordStats, bool, error) {
	ws, ok := m.data[token]
	return ws, ok, nil
}

// Set stores stats for a token.
func (m *MemoryWordStore) Set(_ context.Context, token string, ws WordStats) error {
	m.data[token] = ws
	return nil
}

// Delete removes a token entry, no-op if not present.
func (m *MemoryWordStore) Delete(_ context.Context, token string) error {
	delete(m.data, token)
	return nil
}

// Iterate calls fn for each entry in token order. Stops on the first error
// from fn and returns it.
func (m *MemoryWordStore) Iterate(_ context.Context, fn func(token string, ws WordStats) error) error {
	tokens := make([]string, 0, len(m.data))
	for t := range m.data {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	for _, t := range tokens {
		if err := fn(t, m.data[t]); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored tokens.
func (m *MemoryWordStore) Len() int { return len(m.data) }

// MemoryMessageStore is a map-based MessageStore. Not safe for concurrent use,
// suitable for tests and single-caller embedding.
type MemoryMessageStore struct {
	data map[string]TrainingRecord
}

// NewMemoryMessageStore makes a new empty in-memory message store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{data: make(map[string]TrainingRecord)}
}

// Get returns the training record for a message id and if it is present.
func (m *MemoryMessageStore) Get(_ context.Context, id string) (TrainingRecord, bool, error) {
	rec, ok := m.data[id]
	return rec, ok, nil
}

// Set stores the training record for a message id.
func (m *MemoryMessageStore) Set(_ context.Context, id string, rec TrainingRecord) error {
	m.data[id] = rec
	return nil
}

// Delete removes a training record, no-op if not present.
func (m *MemoryMessageStore) Delete(_ context.Context, id string) error {
	delete(m.data, id)
	return nil
}

// Iterate calls fn for each record in message id order. Stops on the first
// error from fn and returns it.
func (m *MemoryMessageStore) Iterate(_ context.Context, fn func(id string, rec TrainingRecord) error) error {
	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := fn(id, m.data[id]); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored records.
func (m *MemoryMessageStore) Len() int { return len(m.data) }
