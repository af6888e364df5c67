package sampler

import (
	"math"
	"math/rand"
	"sort"

	"github.com/danielpatrickdp/hpsearch/internal/space"
)

// #region parzen
// parzen is a mixture of Gaussians truncated to [low, high], one component
// per observation plus a prior component centred on the range.
type parzen struct {
	low, high float64
	mus       []float64
	sigmas    []float64
	weights   []float64
}

func newParzen(obs []float64, low, high, priorWeight float64) *parzen {
	sorted := append([]float64(nil), obs...)
	sort.Float64s(sorted)

	span := high - low
	n := len(sorted)
	minSigma := span / math.Min(100, 1+float64(n))

	pz := &parzen{low: low, high: high}
	for i, mu := range sorted {
		left := mu - low
		if i > 0 {
			left = mu - sorted[i-1]
		}
		right := high - mu
		if i < n-1 {
			right = sorted[i+1] - mu
		}
		pz.mus = append(pz.mus, mu)
		pz.sigmas = append(pz.sigmas, space.Clamp(math.Max(left, right), minSigma, span))
		pz.weights = append(pz.weights, 1)
	}
	pz.mus = append(pz.mus, low+span/2)
	pz.sigmas = append(pz.sigmas, span)
	pz.weights = append(pz.weights, priorWeight)

	var total float64
	for _, w := range pz.weights {
		total += w
	}
	for i := range pz.weights {
		pz.weights[i] /= total
	}
	return pz
}

// sample draws one value from the mixture.
func (pz *parzen) sample(rng *rand.Rand) float64 {
	k := pickWeighted(pz.weights, rng)
	mu, sigma := pz.mus[k], pz.sigmas[k]

	a := normCDF((pz.low - mu) / sigma)
	b := normCDF((pz.high - mu) / sigma)
	if b-a < 1e-12 {
		return space.Clamp(mu, pz.low, pz.high)
	}
	u := a + rng.Float64()*(b-a)
	x := mu + sigma*normPPF(u)
	return space.Clamp(x, pz.low, pz.high)
}

// logPDF evaluates the log density of the mixture at x.
func (pz *parzen) logPDF(x float64) float64 {
	terms := make([]float64, len(pz.mus))
	for i := range pz.mus {
		mu, sigma := pz.mus[i], pz.sigmas[i]
		z := normCDF((pz.high-mu)/sigma) - normCDF((pz.low-mu)/sigma)
		if z < 1e-12 {
			z = 1e-12
		}
		d := (x - mu) / sigma
		terms[i] = math.Log(pz.weights[i]) - 0.5*d*d - math.Log(sigma*math.Sqrt(2*math.Pi)) - math.Log(z)
	}
	return logSumExp(terms)
}

// #endregion parzen

// #region categorical
// categoricalEstimator holds smoothed choice probabilities.
type categoricalEstimator struct {
	probs []float64
}

func newCategorical(obs []int, nChoices int, priorWeight float64) *categoricalEstimator {
	counts := make([]float64, nChoices)
	for i := range counts {
		counts[i] = priorWeight
	}
	for _, c := range obs {
		if c >= 0 && c < nChoices {
			counts[c]++
		}
	}
	var total float64
	for _, c := range counts {
		total += c
	}
	for i := range counts {
		counts[i] /= total
	}
	return &categoricalEstimator{probs: counts}
}

func (c *categoricalEstimator) sample(rng *rand.Rand) int {
	return pickWeighted(c.probs, rng)
}

func (c *categoricalEstimator) logPDF(k int) float64 {
	return math.Log(c.probs[k])
}

// #endregion categorical

// #region math
func pickWeighted(weights []float64, rng *rand.Rand) int {
	u := rng.Float64()
	var acc float64
	for i, w := range weights {
		acc += w
		if u < acc {
			return i
		}
	}
	return len(weights) - 1
}

func normCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

func normPPF(u float64) float64 {
	return math.Sqrt2 * math.Erfinv(2*u-1)
}

func logSumExp(xs []float64) float64 {
	m := math.Inf(-1)
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	if math.IsInf(m, -1) {
		return m
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - m)
	}
	return m + math.Log(sum)
}

// #endregion math
