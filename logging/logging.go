package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

var (
	logger  *slog.Logger
	logFile *os.File
	level   = new(slog.LevelVar)
	mu      sync.Mutex
	isSetup bool
)

func init() {
	level.Set(slog.LevelInfo)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// SetupLogger points the logger at the given file. An empty path keeps stderr.
// With debug enabled DebugLog messages are written as well.
func SetupLogger(logFilePath string, debug bool) error {
	mu.Lock()
	defer mu.Unlock()

	if debug {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	if isSetup || logFilePath == "" {
		return nil
	}

	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("failed to open log file: %v", err)
	}

	var out io.Writer = logFile
	if debug {
		out = io.MultiWriter(os.Stderr, logFile)
	}
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	logger.Info(fmt.Sprintf("--- reportdedup log started at %s ---", time.Now().Format(time.RFC3339)))

	isSetup = true
	return nil
}

// SetOutput replaces the sink, mostly for tests
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// CloseLogger closes the log file
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logger.Info(fmt.Sprintf("--- reportdedup log closed at %s ---", time.Now().Format(time.RFC3339)))
		logFile.Close()
		logFile = nil
		isSetup = false
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
}

// Logger returns the current structured logger
func Logger() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// LogInfo logs an information message
func LogInfo(format string, args ...interface{}) {
	Logger().Info(fmt.Sprintf(format, args...))
}

// DebugLog logs a message if debug mode is enabled
func DebugLog(format string, args ...interface{}) {
	l := Logger()
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	l.Debug(fmt.Sprintf(format, args...))
}

// LogError logs an error message
func LogError(format string, args ...interface{}) {
	Logger().Error(fmt.Sprintf(format, args...))
}

// LogWarning logs a warning message
func LogWarning(format string, args ...interface{}) {
	Logger().Warn(fmt.Sprintf(format, args...))
}

// LogCandidateFailure records a candidate image that could not be scored
func LogCandidateFailure(reportID, url string, err error) {
	Logger().Warn("candidate scoring failed",
		slog.String("report_id", reportID),
		slog.String("url", url),
		slog.String("error", err.Error()),
	)
}
