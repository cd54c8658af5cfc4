package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultAnalyticsConfig(t *testing.T) {
	cfg := DefaultAnalyticsConfig()

	assert.Equal(t, 7, cfg.WeeklyWindowDays)
	assert.Equal(t, 30, cfg.MonthlyWindowDays)
	assert.Equal(t, 1.2, cfg.TrendRisingBand)
	assert.Equal(t, 0.8, cfg.TrendFallingBand)
	assert.Equal(t, 10, cfg.MinSampleSize)
	assert.Equal(t, 5, cfg.EffectivenessDamping)
	assert.InDelta(t, 1.0, cfg.RatingWeight+cfg.FavoriteWeight+cfg.UsageWeight, 1e-9)
	assert.NoError(t, validateAnalyticsConfig(cfg))
}

func TestValidateAnalyticsConfig(t *testing.T) {
	cfg := DefaultAnalyticsConfig()
	cfg.TrendFallingBand = 1.5
	assert.Error(t, validateAnalyticsConfig(cfg))

	cfg = DefaultAnalyticsConfig()
	cfg.MonthlyWindowDays = 0
	assert.Error(t, validateAnalyticsConfig(cfg))

	cfg = DefaultAnalyticsConfig()
	cfg.RatingWeight = 0
	cfg.FavoriteWeight = 0
	cfg.UsageWeight = 0
	assert.Error(t, validateAnalyticsConfig(cfg))
}

func TestStaticHolder(t *testing.T) {
	cfg := DefaultAnalyticsConfig()
	cfg.MinSampleSize = 3
	holder := NewStaticAnalyticsConfigHolder(cfg)
	assert.Equal(t, 3, holder.Get().MinSampleSize)
}
