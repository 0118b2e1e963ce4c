package spamprobe

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChi2Q(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		df       int
		expected float64
	}{
		{name: "zero statistic", x: 0, df: 2, expected: 1},
		{name: "df 2", x: 2, df: 2, expected: math.Exp(-1)},
		{name: "df 4", x: 4, df: 4, expected: math.Exp(-2) * 3},
		{name: "df 6", x: 6, df: 6, expected: math.Exp(-3) * (1 + 3 + 4.5)},
		{name: "huge statistic", x: 1000, df: 30, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, chi2Q(tt.x, tt.df), 1e-9)
		})
	}
}

func TestChi2QBounded(t *testing.T) {
	for df := 2; df <= 40; df += 2 {
		for _, x := range []float64{0, 0.1, 1, 5, 25, 100, 500} {
			q := chi2Q(x, df)
			assert.GreaterOrEqual(t, q, 0.0, "df=%d x=%v", df, x)
			assert.LessOrEqual(t, q, 1.0, "df=%d x=%v", df, x)
		}
	}
}

func TestFilter_WordProbability(t *testing.T) {
	f := NewFilter(Config{})

	tests := []struct {
		name     string
		ws       WordStats
		expected float64
	}{
		{name: "never seen", ws: WordStats{}, expected: 0.5},
		{name: "one spam", ws: WordStats{Spam: 1}, expected: 0.75},
		{name: "one ham", ws: WordStats{Ham: 1}, expected: 0.25},
		{name: "mostly spam", ws: WordStats{Ham: 1, Spam: 3}, expected: 0.7},
		{name: "balanced", ws: WordStats{Ham: 5, Spam: 5}, expected: 0.5},
		{name: "overwhelming spam clamped", ws: WordStats{Spam: 1000000}, expected: 1 - DefaultEpsilon},
		{name: "overwhelming ham clamped", ws: WordStats{Ham: 1000000}, expected: DefaultEpsilon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, f.wordProbability(tt.ws), 1e-9)
		})
	}
}

func TestFilter_WordProbabilitySmoothing(t *testing.T) {
	f := NewFilter(Config{})

	// the more often a spam-only word is seen, the closer it gets to 1
	prev := 0.5
	for n := 1; n <= 10; n++ {
		p := f.wordProbability(WordStats{Spam: n})
		assert.Greater(t, p, prev, "n=%d", n)
		prev = p
	}

	// stronger smoothing keeps the estimate closer to neutral
	weak := NewFilter(Config{SmoothingStrength: 1})
	strong := NewFilter(Config{SmoothingStrength: 10})
	assert.Greater(t, weak.wordProbability(WordStats{Spam: 2}),
		strong.wordProbability(WordStats{Spam: 2}))
}

func TestFilter_Combine(t *testing.T) {
	f := NewFilter(Config{})

	t.Run("no evidence is neutral", func(t *testing.T) {
		assert.InDelta(t, 0.5, f.combine(nil), 1e-9)
		assert.InDelta(t, 0.5, f.combine([]float64{0.5, 0.5, 0.5}), 1e-9)
	})

	t.Run("single probability passes through", func(t *testing.T) {
		// with df=2 the survival function collapses to exp(ln p) = p
		for _, p := range []float64{0.1, 0.25, 0.5, 0.75, 0.9} {
			assert.InDelta(t, p, f.combine([]float64{p}), 1e-9, "p=%v", p)
		}
	})

	t.Run("spammy evidence pushes up, hammy down", func(t *testing.T) {
		spammy := f.combine([]float64{0.9, 0.85, 0.95})
		hammy := f.combine([]float64{0.1, 0.15, 0.05})
		assert.Greater(t, spammy, 0.5)
		assert.Less(t, hammy, 0.5)
	})

	t.Run("symmetric", func(t *testing.T) {
		a := f.combine([]float64{0.9, 0.8, 0.7})
		b := f.combine([]float64{0.1, 0.2, 0.3})
		assert.InDelta(t, 1.0, a+b, 1e-9)
	})

	t.Run("always in range", func(t *testing.T) {
		eps := DefaultEpsilon
		sets := [][]float64{
			{eps, eps, eps},
			{1 - eps, 1 - eps, 1 - eps},
			{eps, 1 - eps},
			{0.5, eps, 1 - eps, 0.9, 0.1},
		}
		for _, probs := range sets {
			score := f.combine(probs)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		}
	})
}
