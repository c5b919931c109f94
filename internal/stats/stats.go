// Package stats provides the hypothesis tests and interval estimates the
// validation and A/B testing engines rely on. All tests use the normal
// approximation; sample-size guards live with the callers.
package stats

import "math"

// NormCDF is the standard normal cumulative distribution function.
func NormCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// ZCritical returns the two-sided critical z value for a confidence level.
// Unknown levels fall back to 95%.
func ZCritical(confidence float64) float64 {
	switch {
	case confidence >= 0.99:
		return 2.5758
	case confidence >= 0.95:
		return 1.9600
	case confidence >= 0.90:
		return 1.6449
	default:
		return 1.9600
	}
}

// TwoProportionResult is the outcome of a two-proportion z-test.
type TwoProportionResult struct {
	ZScore      float64 `json:"z_score"`
	PValue      float64 `json:"p_value"`
	Significant bool    `json:"significant"`
	// BetterFirst is true when the first proportion is the larger one.
	BetterFirst bool `json:"better_first"`
}

// TwoProportionZTest compares two win rates with a pooled-proportion
// standard error and a two-sided p-value. Significance is judged at alpha.
func TwoProportionZTest(wins1, n1, wins2, n2 int, alpha float64) TwoProportionResult {
	if n1 == 0 || n2 == 0 {
		return TwoProportionResult{PValue: 1}
	}
	p1 := float64(wins1) / float64(n1)
	p2 := float64(wins2) / float64(n2)
	pooled := float64(wins1+wins2) / float64(n1+n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(n1) + 1/float64(n2)))
	if se == 0 {
		return TwoProportionResult{PValue: 1, BetterFirst: p1 >= p2}
	}
	z := (p1 - p2) / se
	p := 2 * (1 - NormCDF(math.Abs(z)))
	return TwoProportionResult{
		ZScore:      z,
		PValue:      p,
		Significant: p < alpha,
		BetterFirst: p1 >= p2,
	}
}

// OneProportionZTest tests an observed win rate against a null proportion
// (typically 0.5). Returns the z score and two-sided p-value.
func OneProportionZTest(wins, n int, null float64) (zScore, pValue float64) {
	if n == 0 {
		return 0, 1
	}
	p := float64(wins) / float64(n)
	se := math.Sqrt(null * (1 - null) / float64(n))
	if se == 0 {
		return 0, 1
	}
	z := (p - null) / se
	return z, 2 * (1 - NormCDF(math.Abs(z)))
}

// roiSigma is the assumed per-sample ROI standard deviation, in percentage
// points. The simplified ROI z-test does not see individual bet returns, so
// it works from this fixed dispersion.
const roiSigma = 15.0

// ROIZTest compares two ROI percentages with a fixed assumed per-sample
// dispersion. This is a deliberate simplification: without bet-level
// returns the true variance is unknown.
func ROIZTest(roi1 float64, n1 int, roi2 float64, n2 int, alpha float64) TwoProportionResult {
	if n1 == 0 || n2 == 0 {
		return TwoProportionResult{PValue: 1}
	}
	se := roiSigma * math.Sqrt(1/float64(n1)+1/float64(n2))
	z := (roi1 - roi2) / se
	p := 2 * (1 - NormCDF(math.Abs(z)))
	return TwoProportionResult{
		ZScore:      z,
		PValue:      p,
		Significant: p < alpha,
		BetterFirst: roi1 >= roi2,
	}
}

// ProportionCI returns a normal-approximation binomial confidence interval
// for a win rate, clamped to [0, 1].
func ProportionCI(wins, n int, confidence float64) (lower, upper float64) {
	if n == 0 {
		return 0, 0
	}
	p := float64(wins) / float64(n)
	z := ZCritical(confidence)
	half := z * math.Sqrt(p*(1-p)/float64(n))
	return math.Max(0, p-half), math.Min(1, p+half)
}

// ROICI returns an approximate confidence interval around an observed ROI
// percentage using the same fixed dispersion as ROIZTest.
func ROICI(roi float64, n int, confidence float64) (lower, upper float64) {
	if n == 0 {
		return 0, 0
	}
	half := ZCritical(confidence) * roiSigma / math.Sqrt(float64(n))
	return roi - half, roi + half
}

// MeanStd returns the mean and population standard deviation of xs.
func MeanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}
