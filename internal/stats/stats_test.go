package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormCDF(t *testing.T) {
	assert.InDelta(t, 0.5, NormCDF(0), 1e-9)
	assert.InDelta(t, 0.8413, NormCDF(1), 1e-3)
	assert.InDelta(t, 0.0228, NormCDF(-2), 1e-3)
	assert.InDelta(t, 0.975, NormCDF(1.96), 1e-3)
}

func TestZCritical(t *testing.T) {
	assert.Equal(t, 2.5758, ZCritical(0.99))
	assert.Equal(t, 1.9600, ZCritical(0.95))
	assert.Equal(t, 1.6449, ZCritical(0.90))
	// Unknown levels fall back to 95%.
	assert.Equal(t, 1.9600, ZCritical(0.5))
}

func TestTwoProportionZTestLopsided(t *testing.T) {
	// 25/30 vs 5/30 is an overwhelming difference.
	res := TwoProportionZTest(25, 30, 5, 30, 0.05)

	assert.True(t, res.Significant)
	assert.True(t, res.BetterFirst)
	assert.Less(t, res.PValue, 0.001)
	assert.Greater(t, res.ZScore, 3.0)
}

func TestTwoProportionZTestNoDifference(t *testing.T) {
	res := TwoProportionZTest(15, 30, 15, 30, 0.05)

	assert.False(t, res.Significant)
	assert.InDelta(t, 1.0, res.PValue, 1e-9)
	assert.InDelta(t, 0.0, res.ZScore, 1e-9)
}

func TestTwoProportionZTestSmallSamples(t *testing.T) {
	// A 3/5 vs 2/5 split is nowhere near significant.
	res := TwoProportionZTest(3, 5, 2, 5, 0.05)
	assert.False(t, res.Significant)
	assert.Greater(t, res.PValue, 0.05)
}

func TestTwoProportionZTestEmptyArm(t *testing.T) {
	res := TwoProportionZTest(0, 0, 10, 20, 0.05)
	assert.False(t, res.Significant)
	assert.Equal(t, 1.0, res.PValue)
}

func TestTwoProportionZTestDegenerate(t *testing.T) {
	// Both arms all wins: pooled SE is zero, test degrades to p=1.
	res := TwoProportionZTest(20, 20, 20, 20, 0.05)
	assert.False(t, res.Significant)
	assert.Equal(t, 1.0, res.PValue)
	assert.True(t, res.BetterFirst)
}

func TestOneProportionZTest(t *testing.T) {
	z, p := OneProportionZTest(60, 100, 0.5)
	assert.InDelta(t, 2.0, z, 1e-9)
	assert.Less(t, p, 0.05)

	z, p = OneProportionZTest(50, 100, 0.5)
	assert.InDelta(t, 0.0, z, 1e-9)
	assert.InDelta(t, 1.0, p, 1e-9)

	_, p = OneProportionZTest(0, 0, 0.5)
	assert.Equal(t, 1.0, p)
}

func TestROIZTest(t *testing.T) {
	// Identical ROI is never significant.
	res := ROIZTest(5.0, 200, 5.0, 200, 0.05)
	assert.False(t, res.Significant)

	// A huge ROI gap over large samples is.
	res = ROIZTest(12.0, 500, 1.0, 500, 0.05)
	assert.True(t, res.Significant)
	assert.True(t, res.BetterFirst)

	res = ROIZTest(1.0, 500, 12.0, 500, 0.05)
	assert.True(t, res.Significant)
	assert.False(t, res.BetterFirst)
}

func TestProportionCI(t *testing.T) {
	lo, hi := ProportionCI(55, 100, 0.95)
	assert.Less(t, lo, 0.55)
	assert.Greater(t, hi, 0.55)
	assert.InDelta(t, 0.55, (lo+hi)/2, 1e-9)

	// Extremes clamp to [0, 1].
	lo, _ = ProportionCI(0, 10, 0.95)
	assert.Equal(t, 0.0, lo)
	_, hi = ProportionCI(10, 10, 0.95)
	assert.Equal(t, 1.0, hi)

	lo, hi = ProportionCI(0, 0, 0.95)
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 0.0, hi)
}

func TestROICI(t *testing.T) {
	lo, hi := ROICI(5.0, 100, 0.95)
	assert.InDelta(t, 5.0, (lo+hi)/2, 1e-9)
	assert.Less(t, lo, 5.0)

	// Wider at lower sample counts.
	lo2, hi2 := ROICI(5.0, 25, 0.95)
	assert.Greater(t, hi2-lo2, hi-lo)
}

func TestMeanStd(t *testing.T) {
	mean, std := MeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-9)
	assert.InDelta(t, 2.0, std, 1e-9)

	mean, std = MeanStd(nil)
	assert.Equal(t, 0.0, mean)
	assert.Equal(t, 0.0, std)

	mean, std = MeanStd([]float64{3})
	assert.Equal(t, 3.0, mean)
	assert.Equal(t, 0.0, std)
}
