package scanner

import (
	"context"
	"io"
	"sync"
	"time"

	"reportdedup/types"
)

// Checker scores an image against candidate reports. *matcher.Matcher satisfies it.
type Checker interface {
	FindBestMatch(ctx context.Context, newImage []byte, reports []types.ReportWithImages, threshold float64) (types.Verdict, error)
}

// ScanOptions defines the options for an audit scan
type ScanOptions struct {
	FolderPath   string
	Threshold    float64
	MaxWorkers   int       // defaults to signalhandler.GetOptimalProcs
	ShowProgress bool      // periodic progress line on Output
	Output       io.Writer // defaults to os.Stdout
}

// ProcessImageResult holds the result of checking one file
type ProcessImageResult struct {
	Path    string        `json:"path"`
	Verdict types.Verdict `json:"verdict"`
	Error   error         `json:"-"`
}

// Summary is the outcome of a scan
type Summary struct {
	Total     int                  `json:"total"`
	Processed int                  `json:"processed"`
	Similar   int                  `json:"similar"`
	Errors    int                  `json:"errors"`
	Matches   []ProcessImageResult `json:"matches"`
	Elapsed   time.Duration        `json:"elapsed"`
}

// FileStats tracks information about files to be processed
type FileStats struct {
	totalFiles int
	tifFiles   int
	paths      []string
}

// ProgressTracker tracks progress of the scan operation
type ProgressTracker struct {
	processed  int
	similar    int
	errors     int
	matches    []ProcessImageResult
	totalFiles int
	out        io.Writer
	ticker     *time.Ticker
	done       chan struct{}
	finished   chan struct{}
	mu         sync.Mutex
}
