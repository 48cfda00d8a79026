package coordclean

import (
	"math"
	"sort"
)

// ---------------------------------------------------------------------------
// Descriptive statistics
// ---------------------------------------------------------------------------

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the population standard deviation.
func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	avg := mean(values)
	sumSq := 0.0
	for _, v := range values {
		diff := v - avg
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

func sorted(values []float64) []float64 {
	cloned := append([]float64(nil), values...)
	sort.Float64s(cloned)
	return cloned
}

// quantile returns the q-quantile of values by linear interpolation
// between order statistics (Hyndman and Fan type 7).
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	s := sorted(values)
	if q <= 0 {
		return s[0]
	}
	if q >= 1 {
		return s[len(s)-1]
	}
	h := q * float64(len(s)-1)
	lo := int(math.Floor(h))
	if lo+1 >= len(s) {
		return s[lo]
	}
	return s[lo] + (h-float64(lo))*(s[lo+1]-s[lo])
}

func median(values []float64) float64 {
	return quantile(values, 0.5)
}

// madScale makes the median absolute deviation a consistent estimator of
// the standard deviation for normal data.
const madScale = 1.4826

// mad is the scaled median absolute deviation.
func mad(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := median(values)
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - m)
	}
	return madScale * median(dev)
}

// ---------------------------------------------------------------------------
// Series
// ---------------------------------------------------------------------------

// acf returns the sample autocorrelation of x at lags 0..maxLag. A constant
// series has no defined autocorrelation and yields zeros beyond lag 0.
func acf(x []float64, maxLag int) []float64 {
	n := len(x)
	if maxLag >= n {
		maxLag = n - 1
	}
	if maxLag < 0 {
		return nil
	}
	out := make([]float64, maxLag+1)
	out[0] = 1
	avg := mean(x)
	var c0 float64
	for _, v := range x {
		c0 += (v - avg) * (v - avg)
	}
	if c0 == 0 {
		return out
	}
	for k := 1; k <= maxLag; k++ {
		var ck float64
		for t := 0; t+k < n; t++ {
			ck += (x[t] - avg) * (x[t+k] - avg)
		}
		out[k] = ck / c0
	}
	return out
}

// ksUniform returns the Kolmogorov-Smirnov statistic of values in [0,1)
// against the standard uniform distribution.
func ksUniform(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := sorted(values)
	n := float64(len(s))
	d := 0.0
	for i, v := range s {
		d = math.Max(d, math.Max(float64(i+1)/n-v, v-float64(i)/n))
	}
	return d
}

// histogram counts values in [0,1) into equal-width bins.
func histogram(values []float64, bins int) []float64 {
	out := make([]float64, bins)
	for _, v := range values {
		i := int(v * float64(bins))
		if i >= bins {
			i = bins - 1
		}
		if i < 0 {
			i = 0
		}
		out[i]++
	}
	return out
}

// binomialUpperP approximates P(X >= k) for X ~ Binomial(n, p) with a
// continuity-corrected normal approximation.
func binomialUpperP(k, n int, p float64) float64 {
	if n == 0 || p <= 0 {
		return 1
	}
	if p >= 1 {
		if k <= n {
			return 1
		}
		return 0
	}
	mu := float64(n) * p
	sigma := math.Sqrt(float64(n) * p * (1 - p))
	z := (float64(k) - 0.5 - mu) / sigma
	return 0.5 * math.Erfc(z/math.Sqrt2)
}
