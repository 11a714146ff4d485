// Package scanner audits a folder of photos against pending reports.
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"reportdedup/logging"
	"reportdedup/signalhandler"
	"reportdedup/types"
)

// ScanFolder checks every image under options.FolderPath against candidates.
// Per-file failures are counted, not returned; a canceled ctx stops the scan.
func ScanFolder(ctx context.Context, checker Checker, candidates []types.ReportWithImages, options ScanOptions) (*Summary, error) {
	if options.MaxWorkers <= 0 {
		options.MaxWorkers = signalhandler.GetOptimalProcs()
	}
	if options.Output == nil {
		options.Output = os.Stdout
	}

	stats, err := countFilesToProcess(options.FolderPath)
	if err != nil {
		return nil, err
	}

	PrintStartupInfo(options.Output, stats, len(types.FlattenCandidates(candidates)), options)

	resultsChan := make(chan ProcessImageResult, 100)
	tracker := NewProgressTracker(stats, options.Output, options.ShowProgress, resultsChan)

	startTime := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(options.MaxWorkers)

	for _, path := range stats.paths {
		if gctx.Err() != nil {
			break
		}
		path := path
		g.Go(func() error {
			result := checkFile(gctx, checker, candidates, options.Threshold, path)
			if ctxErr := gctx.Err(); ctxErr != nil {
				return ctxErr
			}
			resultsChan <- result
			return nil
		})
	}

	err = g.Wait()
	close(resultsChan)
	tracker.Stop()

	summary := tracker.summary(time.Since(startTime))
	PrintCompletionStats(options.Output, summary)

	if err != nil {
		return summary, err
	}
	return summary, ctx.Err()
}

func checkFile(ctx context.Context, checker Checker, candidates []types.ReportWithImages, threshold float64, path string) ProcessImageResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return ProcessImageResult{Path: path, Error: errors.Wrap(err, "reading file")}
	}

	verdict, err := checker.FindBestMatch(ctx, data, candidates, threshold)
	if err != nil {
		return ProcessImageResult{Path: path, Error: err}
	}
	return ProcessImageResult{Path: path, Verdict: verdict}
}

// countFilesToProcess lists the image files under root in lexical order
func countFilesToProcess(root string) (FileStats, error) {
	stats := FileStats{}

	info, err := os.Stat(root)
	if err != nil {
		return stats, errors.Wrapf(err, "cannot access folder %s", root)
	}
	if !info.IsDir() {
		return stats, errors.Errorf("%s is not a directory", root)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.LogWarning("Skipping %s: %v", path, err)
			return nil
		}
		if d.IsDir() || !IsImageFile(path) {
			return nil
		}
		stats.totalFiles++
		if IsTiffFormat(path) {
			stats.tifFiles++
		}
		stats.paths = append(stats.paths, path)
		return nil
	})
	return stats, err
}

func (p *ProgressTracker) summary(elapsed time.Duration) *Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	matches := append([]ProcessImageResult(nil), p.matches...)
	sort.Slice(matches, func(i, j int) bool { return matches[i].Path < matches[j].Path })

	return &Summary{
		Total:     p.totalFiles,
		Processed: p.processed,
		Similar:   p.similar,
		Errors:    p.errors,
		Matches:   matches,
		Elapsed:   elapsed,
	}
}
