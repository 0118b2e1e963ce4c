package spamprobe

import "math"

// wordProbability converts raw counts for one token into a smoothed spam
// probability estimate. The raw ratio spam/(spam+ham) is pulled toward the
// neutral 0.5 prior with assumed strength s, so rarely seen words stay close
// to neutral while well-attested ones approach their observed ratio. A token
// never seen in training gets exactly the neutral prior.
func (f *Filter) wordProbability(ws WordStats) float64 {
	n := float64(ws.Total())
	raw := neutralProb
	if n > 0 {
		raw = float64(ws.Spam) / n
	}
	p := (f.SmoothingStrength*f.AssumedProbability + n*raw) / (f.SmoothingStrength + n)
	return f.clampProb(p)
}

// clampProb keeps a probability inside the open (0, 1) interval so the
// logarithms in the combiner stay finite.
func (f *Filter) clampProb(p float64) float64 {
	if p < f.Epsilon {
		return f.Epsilon
	}
	if p > 1-f.Epsilon {
		return 1 - f.Epsilon
	}
	return p
}

// combine merges the selected word probabilities into one message-level score
// with Fisher's inverse chi-square method, run independently for the spam and
// ham directions:
//
//	S = chi2Q(-2*sum(ln(p_i)), 2k)   // spam evidence
//	H = chi2Q(-2*sum(ln(1-p_i)), 2k) // ham evidence
//
// The final score (1+S-H)/2 is 0.5 on balanced evidence, approaches 1 when
// spam evidence dominates and 0 when ham evidence dominates.
func (f *Filter) combine(probs []float64) float64 {
	if len(probs) == 0 {
		return neutralProb
	}

	var lnSpam, lnHam float64
	for _, p := range probs {
		lnSpam += math.Log(p)
		lnHam += math.Log(1 - p)
	}

	df := 2 * len(probs)
	s := chi2Q(-2*lnSpam, df)
	h := chi2Q(-2*lnHam, df)

	score := (1 + s - h) / 2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// chi2Q returns the upper-tail survival probability of the chi-square
// distribution with an even number of degrees of freedom, i.e. the chance of
// seeing a statistic at least as large as x by chance. For even df the
// survival function reduces to exp(-x/2) * sum((x/2)^i / i!) over i < df/2.
func chi2Q(x float64, df int) float64 {
	m := x / 2
	sum := math.Exp(-m)
	term := sum
	for i := 1; i < df/2; i++ {
		term *= m / float64(i)
		sum += term
	}
	return math.Min(sum, 1)
}
