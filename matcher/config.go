package matcher

import (
	"fmt"
	"time"

	"reportdedup/governor"
)

// FastPathConfig controls the sequential sample scored before the full batch run
type FastPathConfig struct {
	// Enabled turns the sample pass on or off
	Enabled bool

	// Threshold: the sample pass only runs when the check threshold is strictly above this
	Threshold float64

	// MinCandidates: the sample pass only runs when there are strictly more candidates than this
	MinCandidates int

	// SampleSize is how many leading candidates are scored one at a time
	SampleSize int
}

// Config holds the orchestration knobs
type Config struct {
	// DefaultThreshold is used by CheckImageSimilarity.
	// A candidate matches only when its score is strictly greater.
	DefaultThreshold float64

	// BatchSize is the number of candidates scored per batch
	BatchSize int

	// BatchDelay is the pause between consecutive batches, easing load on the image host
	BatchDelay time.Duration

	// MaxConcurrent caps in-flight extractions across every batch and every caller
	MaxConcurrent int

	FastPath FastPathConfig
}

// DefaultConfig returns the default orchestration settings
func DefaultConfig() Config {
	return Config{
		DefaultThreshold: 0.7,
		BatchSize:        10,
		BatchDelay:       50 * time.Millisecond,
		MaxConcurrent:    governor.DefaultCapacity,
		FastPath: FastPathConfig{
			Enabled:       true,
			Threshold:     0.8,
			MinCandidates: 20,
			SampleSize:    5,
		},
	}
}

// Validate checks the configuration for out-of-range values
func (c Config) Validate() error {
	if c.DefaultThreshold < 0.0 || c.DefaultThreshold > 1.0 {
		return fmt.Errorf("threshold must be between 0.0 and 1.0 (got %.2f)", c.DefaultThreshold)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive (got %d)", c.BatchSize)
	}
	if c.BatchDelay < 0 {
		return fmt.Errorf("batch_delay cannot be negative (got %v)", c.BatchDelay)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive (got %d)", c.MaxConcurrent)
	}
	if c.FastPath.Enabled {
		if c.FastPath.Threshold < 0.0 || c.FastPath.Threshold > 1.0 {
			return fmt.Errorf("fast_path.threshold must be between 0.0 and 1.0 (got %.2f)", c.FastPath.Threshold)
		}
		if c.FastPath.SampleSize <= 0 {
			return fmt.Errorf("fast_path.sample_size must be positive (got %d)", c.FastPath.SampleSize)
		}
		if c.FastPath.SampleSize > c.FastPath.MinCandidates {
			return fmt.Errorf("fast_path.sample_size (%d) cannot exceed fast_path.min_candidates (%d)",
				c.FastPath.SampleSize, c.FastPath.MinCandidates)
		}
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{Threshold: %.2f, BatchSize: %d, BatchDelay: %v, MaxConcurrent: %d, "+
			"FastPath: %t (>%.2f, >%d candidates, sample %d)}",
		c.DefaultThreshold, c.BatchSize, c.BatchDelay, c.MaxConcurrent,
		c.FastPath.Enabled, c.FastPath.Threshold, c.FastPath.MinCandidates, c.FastPath.SampleSize,
	)
}
