// Package spamprobe implements a Bayesian spam filter with chi-square (Fisher)
// combination of per-word probabilities. The primary type in this package is
// the Filter, initialized with parameters defined in the Config struct.
//
// The filter keeps no state of its own: every operation receives the two
// caller-supplied stores as arguments and works through the minimal accessor
// contract they expose.
//
//   - WordStore holds per-token statistics (WordStats), keyed by token. Entries
//     are created on first occurrence of a token during training and decay
//     toward zero counts on un-training, but the filter never deletes them.
//
//   - MessageStore holds per-message training records (TrainingRecord), keyed
//     by a caller-supplied message id. The record makes training idempotent and
//     reversible: repeating Learn with the same id, class and token set is a
//     no-op, while re-training under a different class first reverses the
//     previously counted token set.
//
// Three operations are exposed:
//
//   - Filter.Learn trains the filter on a message under a given Class.
//   - Filter.Unlearn reverses prior training and drops the record.
//   - Filter.Probe scores a message, returning the overall spam probability in
//     [0, 1] along with the most discriminative tokens for diagnostics.
//
// The filter itself never blocks; any blocking happens inside the store
// accessors, which receive the context passed to the operation. No internal
// locking is provided either. Concurrent Learn calls against the same
// underlying store can lose updates due to the read-modify-write on counts, so
// callers needing concurrent training must serialize access or use a store
// with atomic increments.
package spamprobe
