package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultThreshold is the similarity a candidate must exceed to count as the same issue
const DefaultThreshold = 0.7

// GetDefaultDatabasePath returns the default path for the report database
func GetDefaultDatabasePath() string {
	exePath, err := os.Executable()
	if err != nil {
		return "reports.db"
	}
	return filepath.Join(filepath.Dir(exePath), "reports.db")
}

// ValidateThreshold checks that a threshold lies in [0, 1]
func ValidateThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 || threshold != threshold {
		return fmt.Errorf("threshold %v out of range [0, 1]", threshold)
	}
	return nil
}

// ParseThreshold parses and validates the threshold value from string.
// On error the default threshold is returned alongside the error.
func ParseThreshold(thresholdStr string) (float64, error) {
	parsedThreshold, err := strconv.ParseFloat(strings.TrimSpace(thresholdStr), 64)
	if err != nil || ValidateThreshold(parsedThreshold) != nil {
		return DefaultThreshold, fmt.Errorf("invalid threshold value '%s', using default (%.1f)", thresholdStr, DefaultThreshold)
	}
	return parsedThreshold, nil
}

