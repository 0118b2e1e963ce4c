package spamprobe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordsSnapshot collects non-zero word stats for comparisons
func wordsSnapshot(t *testing.T, ctx context.Context, words WordStore) map[string]WordStats {
	t.Helper()
	res := map[string]WordStats{}
	err := words.Iterate(ctx, func(token string, ws WordStats) error {
		if ws.Total() > 0 {
			res[token] = ws
		}
		return nil
	})
	require.NoError(t, err)
	return res
}

func TestFilter_Learn(t *testing.T) {
	ctx := context.Background()
	f := NewFilter(Config{})

	t.Run("basic training", func(t *testing.T) {
		words, msgs := NewMemoryWordStore(), NewMemoryMessageStore()
		err := f.Learn(ctx, words, msgs, "m1", "buy viagra now", ClassSpam)
		require.NoError(t, err)

		assert.Equal(t, map[string]WordStats{
			"buy":    {Spam: 1},
			"viagra": {Spam: 1},
			"now":    {Spam: 1},
		}, wordsSnapshot(t, ctx, words))

		rec, found, err := msgs.Get(ctx, "m1")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, ClassSpam, rec.Class)
		assert.Equal(t, []string{"buy", "now", "viagra"}, rec.Tokens)
	})

	t.Run("idempotent", func(t *testing.T) {
		words, msgs := NewMemoryWordStore(), NewMemoryMessageStore()
		require.NoError(t, f.Learn(ctx, words, msgs, "m1", "buy viagra now", ClassSpam))
		before := wordsSnapshot(t, ctx, words)

		require.NoError(t, f.Learn(ctx, words, msgs, "m1", "buy viagra now", ClassSpam))
		assert.Equal(t, before, wordsSnapshot(t, ctx, words), "repeated training changes nothing")
	})

	t.Run("distinct ids count twice", func(t *testing.T) {
		words, msgs := NewMemoryWordStore(), NewMemoryMessageStore()
		require.NoError(t, f.Learn(ctx, words, msgs, "m1", "cheap pills online", ClassSpam))
		require.NoError(t, f.Learn(ctx, words, msgs, "m2", "cheap pills online", ClassSpam))

		assert.Equal(t, map[string]WordStats{
			"cheap":  {Spam: 2},
			"pills":  {Spam: 2},
			"online": {Spam: 2},
		}, wordsSnapshot(t, ctx, words))
	})

	t.Run("reclassify reverses prior training", func(t *testing.T) {
		words, msgs := NewMemoryWordStore(), NewMemoryMessageStore()
		require.NoError(t, f.Learn(ctx, words, msgs, "m1", "weekly status report", ClassHam))
		require.NoError(t, f.Learn(ctx, words, msgs, "m1", "limited offer inside", ClassSpam))

		// must match training only the second message on a clean store
		cleanWords, cleanMsgs := NewMemoryWordStore(), NewMemoryMessageStore()
		require.NoError(t, f.Learn(ctx, cleanWords, cleanMsgs, "m1", "limited offer inside", ClassSpam))
		assert.Equal(t, wordsSnapshot(t, ctx, cleanWords), wordsSnapshot(t, ctx, words))
	})

	t.Run("same class different text retrains", func(t *testing.T) {
		words, msgs := NewMemoryWordStore(), NewMemoryMessageStore()
		require.NoError(t, f.Learn(ctx, words, msgs, "m1", "old spam text", ClassSpam))
		require.NoError(t, f.Learn(ctx, words, msgs, "m1", "new spam text", ClassSpam))

		assert.Equal(t, map[string]WordStats{
			"new":  {Spam: 1},
			"spam": {Spam: 1},
			"text": {Spam: 1},
		}, wordsSnapshot(t, ctx, words))
	})

	t.Run("invalid input rejected before mutation", func(t *testing.T) {
		words, msgs := NewMemoryWordStore(), NewMemoryMessageStore()

		err := f.Learn(ctx, words, msgs, "", "some text", ClassSpam)
		assert.ErrorIs(t, err, ErrEmptyID)

		err = f.Learn(ctx, words, msgs, "m1", "some text", Class("junk"))
		assert.ErrorIs(t, err, ErrBadClass)

		assert.Zero(t, words.Len(), "no partial writes")
		assert.Zero(t, msgs.Len())
	})
}

func TestFilter_Unlearn(t *testing.T) {
	ctx := context.Background()
	f := NewFilter(Config{})

	t.Run("round trip restores stats", func(t *testing.T) {
		words, msgs := NewMemoryWordStore(), NewMemoryMessageStore()
		require.NoError(t, f.Learn(ctx, words, msgs, "keep", "meeting notes attached", ClassHam))
		before := wordsSnapshot(t, ctx, words)

		require.NoError(t, f.Learn(ctx, words, msgs, "m1", "buy viagra now", ClassSpam))
		require.NoError(t, f.Unlearn(ctx, words, msgs, "m1"))

		assert.Equal(t, before, wordsSnapshot(t, ctx, words))
		_, found, err := msgs.Get(ctx, "m1")
		require.NoError(t, err)
		assert.False(t, found, "training record removed")
	})

	t.Run("never trained is a no-op", func(t *testing.T) {
		words, msgs := NewMemoryWordStore(), NewMemoryMessageStore()
		assert.NoError(t, f.Unlearn(ctx, words, msgs, "ghost"))
	})

	t.Run("empty id rejected", func(t *testing.T) {
		words, msgs := NewMemoryWordStore(), NewMemoryMessageStore()
		assert.ErrorIs(t, f.Unlearn(ctx, words, msgs, ""), ErrEmptyID)
	})
}

func TestFilter_Probe(t *testing.T) {
	ctx := context.Background()
	f := NewFilter(Config{})

	t.Run("untrained store is neutral", func(t *testing.T) {
		words, msgs := NewMemoryWordStore(), NewMemoryMessageStore()
		res, err := f.Probe(ctx, words, msgs, "anything at all here")
		require.NoError(t, err)
		assert.Equal(t, 0.5, res.Score)
	})

	t.Run("empty message is neutral", func(t *testing.T) {
		words, msgs := NewMemoryWordStore(), NewMemoryMessageStore()
		require.NoError(t, f.Learn(ctx, words, msgs, "m1", "buy viagra now", ClassSpam))

		res, err := f.Probe(ctx, words, msgs, "!!! ... ---")
		require.NoError(t, err)
		assert.Equal(t, 0.5, res.Score)
		assert.Empty(t, res.Tokens)
	})

	t.Run("trained spam and ham separate", func(t *testing.T) {
		words, msgs := NewMemoryWordStore(), NewMemoryMessageStore()
		require.NoError(t, f.Learn(ctx, words, msgs, "s1", "buy viagra now", ClassSpam))
		require.NoError(t, f.Learn(ctx, words, msgs, "h1", "meeting notes attached", ClassHam))

		spam, err := f.Probe(ctx, words, msgs, "buy viagra now")
		require.NoError(t, err)
		assert.Greater(t, spam.Score, 0.5)

		ham, err := f.Probe(ctx, words, msgs, "meeting notes attached")
		require.NoError(t, err)
		assert.Less(t, ham.Score, 0.5)

		assert.Equal(t, 1, spam.SpamTrained)
		assert.Equal(t, 1, spam.HamTrained)
	})

	t.Run("token order invariant", func(t *testing.T) {
		words, msgs := NewMemoryWordStore(), NewMemoryMessageStore()
		require.NoError(t, f.Learn(ctx, words, msgs, "s1", "click free prize", ClassSpam))
		require.NoError(t, f.Learn(ctx, words, msgs, "h1", "quarterly budget draft", ClassHam))

		a, err := f.Probe(ctx, words, msgs, "free prize click")
		require.NoError(t, err)
		b, err := f.Probe(ctx, words, msgs, "click click prize free")
		require.NoError(t, err)
		assert.Equal(t, a.Score, b.Score)
	})

	t.Run("score stays in range", func(t *testing.T) {
		words, msgs := NewMemoryWordStore(), NewMemoryMessageStore()
		for i := 0; i < 20; i++ {
			id := string(rune('a' + i))
			require.NoError(t, f.Learn(ctx, words, msgs, "s-"+id, "casino bonus jackpot winner", ClassSpam))
		}
		res, err := f.Probe(ctx, words, msgs, "casino bonus jackpot winner")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Score, 0.0)
		assert.LessOrEqual(t, res.Score, 1.0)
		assert.Greater(t, res.Score, 0.9, "heavily trained spam scores high")
	})

	t.Run("top words selection capped", func(t *testing.T) {
		fSmall := NewFilter(Config{TopWords: 2})
		words, msgs := NewMemoryWordStore(), NewMemoryMessageStore()
		require.NoError(t, fSmall.Learn(ctx, words, msgs, "s1", "one two three four five six", ClassSpam))

		res, err := fSmall.Probe(ctx, words, msgs, "one two three four five six")
		require.NoError(t, err)
		assert.Len(t, res.Tokens, 2)
	})

	t.Run("contributing tokens reported", func(t *testing.T) {
		words, msgs := NewMemoryWordStore(), NewMemoryMessageStore()
		require.NoError(t, f.Learn(ctx, words, msgs, "s1", "viagra", ClassSpam))

		res, err := f.Probe(ctx, words, msgs, "viagra meeting")
		require.NoError(t, err)
		require.Len(t, res.Tokens, 2)
		assert.Equal(t, "viagra", res.Tokens[0].Token, "most discriminative first")
		assert.Greater(t, res.Tokens[0].Prob, 0.5)
		assert.Equal(t, 0.5, res.Tokens[1].Prob, "unseen token is neutral")
	})
}

// failingWordStore wraps MemoryWordStore and fails every call with a fixed error
type failingWordStore struct {
	*MemoryWordStore
	err error
}

func (s *failingWordStore) Get(context.Context, string) (WordStats, bool, error) {
	return WordStats{}, false, s.err
}
func (s *failingWordStore) Set(context.Context, string, WordStats) error { return s.err }

func TestFilter_StorageErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	f := NewFilter(Config{})
	storeErr := errors.New("disk on fire")
	words := &failingWordStore{MemoryWordStore: NewMemoryWordStore(), err: storeErr}
	msgs := NewMemoryMessageStore()

	err := f.Learn(ctx, words, msgs, "m1", "some spam text", ClassSpam)
	assert.ErrorIs(t, err, storeErr)
	assert.Zero(t, msgs.Len(), "no record written on failure")

	_, err = f.Probe(ctx, words, msgs, "some spam text")
	assert.ErrorIs(t, err, storeErr)
}

func TestMemoryStores_Iterate(t *testing.T) {
	ctx := context.Background()

	t.Run("words in token order", func(t *testing.T) {
		words := NewMemoryWordStore()
		require.NoError(t, words.Set(ctx, "zeta", WordStats{Spam: 1}))
		require.NoError(t, words.Set(ctx, "alpha", WordStats{Ham: 1}))
		require.NoError(t, words.Set(ctx, "mid", WordStats{Ham: 1, Spam: 1}))

		var got []string
		err := words.Iterate(ctx, func(token string, _ WordStats) error {
			got = append(got, token)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "mid", "zeta"}, got)
	})

	t.Run("stops on callback error", func(t *testing.T) {
		msgs := NewMemoryMessageStore()
		require.NoError(t, msgs.Set(ctx, "a", TrainingRecord{Class: ClassHam}))
		require.NoError(t, msgs.Set(ctx, "b", TrainingRecord{Class: ClassSpam}))

		stop := errors.New("stop")
		calls := 0
		err := msgs.Iterate(ctx, func(string, TrainingRecord) error {
			calls++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, calls)
	})

	t.Run("delete removes entry", func(t *testing.T) {
		words := NewMemoryWordStore()
		require.NoError(t, words.Set(ctx, "gone", WordStats{Spam: 1}))
		require.NoError(t, words.Delete(ctx, "gone"))
		_, found, err := words.Get(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, found)
	})
}
