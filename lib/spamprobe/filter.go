package spamprobe

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
)

// neutralProb is the prior assigned to tokens carrying no evidence either way.
const neutralProb = 0.5

// defaults for Config fields left at zero value
const (
	DefaultMinTokenLen        = 3
	DefaultMaxTokenLen        = 64
	DefaultTopWords           = 15
	DefaultSmoothingStrength  = 1.0
	DefaultAssumedProbability = 0.5
	DefaultEpsilon            = 1e-5
)

// input validation errors, returned before any storage mutation
var (
	ErrEmptyID  = errors.New("empty message id")
	ErrBadClass = errors.New("invalid message class")
)

// Config is a set of tunable parameters for Filter. Zero fields are replaced
// with defaults by NewFilter.
type Config struct {
	MinTokenLen        int     // tokens shorter than this are dropped
	MaxTokenLen        int     // tokens longer than this are truncated, negative disables the cap
	TopWords           int     // number of most discriminative tokens used for scoring
	SmoothingStrength  float64 // weight of the assumed probability in smoothing
	AssumedProbability float64 // assumed spam probability for unseen words
	Epsilon            float64 // clamp bound keeping probabilities away from exact 0/1
}

// Filter scores messages and trains per-word statistics. It is stateless
// beyond its configuration; both stores are passed to every operation.
type Filter struct {
	Config
}

// NewFilter makes a new Filter with the given config, filling unset fields
// with defaults.
func NewFilter(cfg Config) *Filter {
	if cfg.MinTokenLen == 0 {
		cfg.MinTokenLen = DefaultMinTokenLen
	}
	if cfg.MaxTokenLen == 0 {
		cfg.MaxTokenLen = DefaultMaxTokenLen
	}
	if cfg.TopWords == 0 {
		cfg.TopWords = DefaultTopWords
	}
	if cfg.SmoothingStrength == 0 {
		cfg.SmoothingStrength = DefaultSmoothingStrength
	}
	if cfg.AssumedProbability == 0 {
		cfg.AssumedProbability = DefaultAssumedProbability
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = DefaultEpsilon
	}
	return &Filter{Config: cfg}
}

// Learn trains the filter on a message under the given class. Training is
// idempotent per message id: repeating the call with the same class and text
// changes nothing, while a different class or text first reverses the
// previously counted token set. Storage errors are propagated, never retried.
func (f *Filter) Learn(ctx context.Context, words WordStore, msgs MessageStore, id, text string, class Class) error {
	if id == "" {
		return ErrEmptyID
	}
	if !class.Valid() {
		return fmt.Errorf("%w: %q", ErrBadClass, class)
	}

	tokens := f.Tokenize(text)

	prev, found, err := msgs.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read training record %q: %w", id, err)
	}
	if found && prev.Class == class && equalTokens(prev.Tokens, tokens) {
		log.Printf("[DEBUG] message %q already trained as %s, not reclassified", id, class)
		return nil
	}
	if found {
		log.Printf("[DEBUG] message %q reclassified from %s to %s", id, prev.Class, class)
		if err := f.discount(ctx, words, prev); err != nil {
			return err
		}
	}

	for _, t := range tokens {
		ws, _, err := words.Get(ctx, t)
		if err != nil {
			return fmt.Errorf("failed to read stats for token %q: %w", t, err)
		}
		if class == ClassSpam {
			ws.Spam++
		} else {
			ws.Ham++
		}
		if err := words.Set(ctx, t, ws); err != nil {
			return fmt.Errorf("failed to update stats for token %q: %w", t, err)
		}
	}

	if err := msgs.Set(ctx, id, TrainingRecord{Class: class, Tokens: tokens}); err != nil {
		return fmt.Errorf("failed to write training record %q: %w", id, err)
	}
	return nil
}

// Unlearn reverses prior training for a message id and removes its record.
// Unlearning a message that was never trained is a no-op.
func (f *Filter) Unlearn(ctx context.Context, words WordStore, msgs MessageStore, id string) error {
	if id == "" {
		return ErrEmptyID
	}

	rec, found, err := msgs.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read training record %q: %w", id, err)
	}
	if !found {
		log.Printf("[DEBUG] message %q never trained, nothing to unlearn", id)
		return nil
	}

	if err := f.discount(ctx, words, rec); err != nil {
		return err
	}
	if err := msgs.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete training record %q: %w", id, err)
	}
	return nil
}

// discount subtracts a previously applied training record from the word
// stats, flooring counts at zero. Entries decayed to zero counts are kept,
// pruning is up to the caller.
func (f *Filter) discount(ctx context.Context, words WordStore, rec TrainingRecord) error {
	for _, t := range rec.Tokens {
		ws, found, err := words.Get(ctx, t)
		if err != nil {
			return fmt.Errorf("failed to read stats for token %q: %w", t, err)
		}
		if !found {
			continue
		}
		if rec.Class == ClassSpam && ws.Spam > 0 {
			ws.Spam--
		}
		if rec.Class == ClassHam && ws.Ham > 0 {
			ws.Ham--
		}
		if err := words.Set(ctx, t, ws); err != nil {
			return fmt.Errorf("failed to update stats for token %q: %w", t, err)
		}
	}
	return nil
}

// TokenProb is a token with its estimated spam probability.
type TokenProb struct {
	Token string  `json:"token"`
	Prob  float64 `json:"prob"`
}

// ProbeResult is the outcome of scoring one message.
type ProbeResult struct {
	Score       float64     `json:"score"`            // overall spam probability in [0, 1]
	Tokens      []TokenProb `json:"tokens,omitempty"` // selected tokens, most discriminative first
	HamTrained  int         `json:"ham_trained"`      // number of trained ham messages
	SpamTrained int         `json:"spam_trained"`     // number of trained spam messages
}

// Probe scores a message. Tokens are ranked by distance from neutral and the
// TopWords most discriminative ones are combined into the final score. A
// message producing no tokens, or one whose tokens carry no evidence, scores
// the neutral 0.5.
func (f *Filter) Probe(ctx context.Context, words WordStore, msgs MessageStore, text string) (ProbeResult, error) {
	res := ProbeResult{Score: neutralProb}

	// trained totals are diagnostics only, the score doesn't depend on them
	err := msgs.Iterate(ctx, func(_ string, rec TrainingRecord) error {
		if rec.Class == ClassSpam {
			res.SpamTrained++
		} else {
			res.HamTrained++
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("failed to count trained messages: %w", err)
	}

	tokens := f.Tokenize(text)
	if len(tokens) == 0 {
		return res, nil
	}

	scored := make([]TokenProb, 0, len(tokens))
	for _, t := range tokens {
		ws, _, err := words.Get(ctx, t)
		if err != nil {
			return res, fmt.Errorf("failed to read stats for token %q: %w", t, err)
		}
		scored = append(scored, TokenProb{Token: t, Prob: f.wordProbability(ws)})
	}

	// most discriminative first, ties by token for determinism
	sort.Slice(scored, func(i, j int) bool {
		di, dj := math.Abs(scored[i].Prob-neutralProb), math.Abs(scored[j].Prob-neutralProb)
		if di != dj {
			return di > dj
		}
		return scored[i].Token < scored[j].Token
	})
	if len(scored) > f.TopWords {
		scored = scored[:f.TopWords]
	}

	probs := make([]float64, len(scored))
	for i, tp := range scored {
		probs[i] = tp.Prob
	}
	res.Score = f.combine(probs)
	res.Tokens = scored
	return res, nil
}

// equalTokens compares two sorted token sets.
func equalTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
