package scheduler

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls scheduler intervals, batch sizes and the advisory run lock.
type Config struct {
	RunInterval       time.Duration
	SweepBatchSize    int
	JobTimeout        time.Duration
	AnalyticsTimeout  time.Duration
	RunLockKey        string
	RunLockTTL        time.Duration
	EnabledJobs       []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      time.Minute,
		SweepBatchSize:   100,
		JobTimeout:       30 * time.Second,
		AnalyticsTimeout: 5 * time.Minute,
		RunLockKey:       "hookforge:scheduler:run",
		RunLockTTL:       2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = defaults.SweepBatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.AnalyticsTimeout <= 0 {
		c.AnalyticsTimeout = defaults.AnalyticsTimeout
	}
	if strings.TrimSpace(c.RunLockKey) == "" {
		c.RunLockKey = defaults.RunLockKey
	}
	if c.RunLockTTL <= 0 {
		c.RunLockTTL = defaults.RunLockTTL
	}
	return c
}

// ProvideConfig builds the scheduler config from environment variables.
func ProvideConfig() Config {
	cfg := DefaultConfig()
	if v := getenvDuration("SCHEDULER_RUN_INTERVAL"); v > 0 {
		cfg.RunInterval = v
	}
	if v := getenvInt("SCHEDULER_SWEEP_BATCH_SIZE"); v > 0 {
		cfg.SweepBatchSize = v
	}
	if v := getenvDuration("SCHEDULER_JOB_TIMEOUT"); v > 0 {
		cfg.JobTimeout = v
	}
	if v := getenvDuration("SCHEDULER_ANALYTICS_TIMEOUT"); v > 0 {
		cfg.AnalyticsTimeout = v
	}
	if v := strings.TrimSpace(os.Getenv("SCHEDULER_RUN_LOCK_KEY")); v != "" {
		cfg.RunLockKey = v
	}
	if v := getenvDuration("SCHEDULER_RUN_LOCK_TTL"); v > 0 {
		cfg.RunLockTTL = v
	}
	if v := strings.TrimSpace(os.Getenv("SCHEDULER_JOBS")); v != "" {
		for _, job := range strings.Split(v, ",") {
			if job = strings.TrimSpace(job); job != "" {
				cfg.EnabledJobs = append(cfg.EnabledJobs, job)
			}
		}
	}
	return cfg
}

func getenvDuration(key string) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return parsed
}

func getenvInt(key string) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
