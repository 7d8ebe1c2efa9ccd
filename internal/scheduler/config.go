// Package scheduler runs queued pipeline jobs on a bounded worker pool.
package scheduler

import "time"

// Config defines the scheduler configuration.
type Config struct {
	// Workers is the maximum number of jobs processed at once.
	Workers int `yaml:"workers"`
	// PollInterval is how often the queue is checked for claimable jobs.
	PollInterval time.Duration `yaml:"poll_interval"`
	// JobTimeout bounds a single Process call. Zero means unbounded.
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers:      2,
		PollInterval: time.Second,
		JobTimeout:   time.Minute,
	}
}

func (c *Config) normalize() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
}
