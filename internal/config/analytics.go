package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// AnalyticsConfig carries the tuning constants for trend, fatigue and
// effectiveness recomputation. The values are empirical, carried over from
// observed product behavior, and deliberately configurable rather than
// hard-coded.
type AnalyticsConfig struct {
	WeeklyWindowDays  int `mapstructure:"weeklyWindowDays"`
	MonthlyWindowDays int `mapstructure:"monthlyWindowDays"`

	// Trend hysteresis band: weekly usage above expected*rising is "rising",
	// below expected*falling is "falling", anything between is "stable".
	TrendRisingBand  float64 `mapstructure:"trendRisingBand"`
	TrendFallingBand float64 `mapstructure:"trendFallingBand"`

	FatigueGapThreshold float64 `mapstructure:"fatigueGapThreshold"`
	FatigueOnsetScore   int     `mapstructure:"fatigueOnsetScore"`

	MinSampleSize        int     `mapstructure:"minSampleSize"`
	EffectivenessDamping int     `mapstructure:"effectivenessDamping"`
	RatingWeight         float64 `mapstructure:"ratingWeight"`
	FavoriteWeight       float64 `mapstructure:"favoriteWeight"`
	UsageWeight          float64 `mapstructure:"usageWeight"`

	ProfileSuccessScore      int `mapstructure:"profileSuccessScore"`
	ProfileUnderperformScore int `mapstructure:"profileUnderperformScore"`
	ProfileMinSamples        int `mapstructure:"profileMinSamples"`
}

func DefaultAnalyticsConfig() AnalyticsConfig {
	return AnalyticsConfig{
		WeeklyWindowDays:  7,
		MonthlyWindowDays: 30,

		TrendRisingBand:  1.2,
		TrendFallingBand: 0.8,

		FatigueGapThreshold: 1.0,
		FatigueOnsetScore:   50,

		MinSampleSize:        10,
		EffectivenessDamping: 5,
		RatingWeight:         0.4,
		FavoriteWeight:       0.3,
		UsageWeight:          0.3,

		ProfileSuccessScore:      70,
		ProfileUnderperformScore: 40,
		ProfileMinSamples:        3,
	}
}

// AnalyticsConfigHolder keeps the current analytics tuning in an atomic
// value so hot reloads never race the scheduler's jobs.
type AnalyticsConfigHolder struct {
	current atomic.Value // holds AnalyticsConfig
}

func NewAnalyticsConfigHolder() (*AnalyticsConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("analytics")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/hookforge/config")
	v.AddConfigPath("/etc/hookforge")
	v.AddConfigPath(".")

	v.SetEnvPrefix("HOOKFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultAnalyticsConfig()
	v.SetDefault("analytics.weeklyWindowDays", defaults.WeeklyWindowDays)
	v.SetDefault("analytics.monthlyWindowDays", defaults.MonthlyWindowDays)
	v.SetDefault("analytics.trendRisingBand", defaults.TrendRisingBand)
	v.SetDefault("analytics.trendFallingBand", defaults.TrendFallingBand)
	v.SetDefault("analytics.fatigueGapThreshold", defaults.FatigueGapThreshold)
	v.SetDefault("analytics.fatigueOnsetScore", defaults.FatigueOnsetScore)
	v.SetDefault("analytics.minSampleSize", defaults.MinSampleSize)
	v.SetDefault("analytics.effectivenessDamping", defaults.EffectivenessDamping)
	v.SetDefault("analytics.ratingWeight", defaults.RatingWeight)
	v.SetDefault("analytics.favoriteWeight", defaults.FavoriteWeight)
	v.SetDefault("analytics.usageWeight", defaults.UsageWeight)
	v.SetDefault("analytics.profileSuccessScore", defaults.ProfileSuccessScore)
	v.SetDefault("analytics.profileUnderperformScore", defaults.ProfileUnderperformScore)
	v.SetDefault("analytics.profileMinSamples", defaults.ProfileMinSamples)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg AnalyticsConfig
	if err := v.UnmarshalKey("analytics", &cfg); err != nil {
		return nil, err
	}
	if err := validateAnalyticsConfig(cfg); err != nil {
		return nil, err
	}

	holder := &AnalyticsConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated AnalyticsConfig
		if err := v.UnmarshalKey("analytics", &updated); err != nil {
			log.Printf("[analytics-config] reload failed: %v", err)
			return
		}
		if err := validateAnalyticsConfig(updated); err != nil {
			log.Printf("[analytics-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[analytics-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *AnalyticsConfigHolder) Get() AnalyticsConfig {
	return h.current.Load().(AnalyticsConfig)
}

// NewStaticAnalyticsConfigHolder wraps a fixed config, for tests.
func NewStaticAnalyticsConfigHolder(cfg AnalyticsConfig) *AnalyticsConfigHolder {
	holder := &AnalyticsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateAnalyticsConfig(cfg AnalyticsConfig) error {
	if cfg.WeeklyWindowDays <= 0 || cfg.MonthlyWindowDays <= 0 {
		return errors.New("analytics windows must be positive")
	}
	if cfg.TrendFallingBand > cfg.TrendRisingBand {
		return errors.New("analytics.trendFallingBand cannot exceed trendRisingBand")
	}
	if cfg.MinSampleSize < 0 || cfg.EffectivenessDamping < 0 {
		return errors.New("analytics sample gate and damping cannot be negative")
	}
	weights := cfg.RatingWeight + cfg.FavoriteWeight + cfg.UsageWeight
	if weights <= 0 {
		return errors.New("analytics score weights must sum to a positive value")
	}
	return nil
}
