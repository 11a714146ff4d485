package signalhandler

import (
	"context"
	"os/signal"
	"runtime"
	"syscall"
)

// NotifyContext returns a context canceled on SIGINT or SIGTERM so in-flight
// fetches and inference batches stop instead of the process exiting under cgo
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// GetOptimalProcs returns the optimal number of worker goroutines for the system
func GetOptimalProcs() int {
	numCPU := runtime.NumCPU()

	// For image processing with CGo, using too many goroutines can cause issues
	maxProcs := (numCPU * 3) / 4
	if maxProcs < 1 {
		maxProcs = 1
	}

	return maxProcs
}
