package scanner

import (
	"fmt"
	"io"
	"time"

	"reportdedup/logging"
)

// NewProgressTracker starts consuming results. With showProgress set, a
// progress line is redrawn on out every half second.
func NewProgressTracker(stats FileStats, out io.Writer, showProgress bool, resultsChan <-chan ProcessImageResult) *ProgressTracker {
	tracker := &ProgressTracker{
		totalFiles: stats.totalFiles,
		out:        out,
		done:       make(chan struct{}),
		finished:   make(chan struct{}),
	}

	if showProgress {
		tracker.ticker = time.NewTicker(500 * time.Millisecond)
		go tracker.displayProgress()
	}

	go tracker.processResults(resultsChan)

	return tracker
}

// displayProgress shows the progress periodically
func (p *ProgressTracker) displayProgress() {
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			p.mu.Lock()
			fmt.Fprintf(p.out, "\rProgress: %d/%d (Similar: %d, Errors: %d)",
				p.processed, p.totalFiles, p.similar, p.errors)
			p.mu.Unlock()
		}
	}
}

// processResults updates the tracker state until resultsChan is closed
func (p *ProgressTracker) processResults(resultsChan <-chan ProcessImageResult) {
	defer close(p.finished)
	for result := range resultsChan {
		p.mu.Lock()
		p.processed++

		switch {
		case result.Error != nil:
			p.errors++
			logging.LogWarning("Audit failed for %s: %v", result.Path, result.Error)
		case result.Verdict.Similar:
			p.similar++
			p.matches = append(p.matches, result)
			logging.DebugLog("Audit: %s matches report %s (%.4f)", result.Path, result.Verdict.ReportID, result.Verdict.Similarity)
		default:
			logging.DebugLog("Audit: %s has no match (best %.4f)", result.Path, result.Verdict.Similarity)
		}

		p.mu.Unlock()
	}
}

// Stop waits for every queued result and ends the progress display.
// The results channel must already be closed.
func (p *ProgressTracker) Stop() {
	<-p.finished
	if p.ticker != nil {
		p.ticker.Stop()
		close(p.done)
	}
}

// PrintStartupInfo displays information about the scan before starting
func PrintStartupInfo(out io.Writer, stats FileStats, candidates int, options ScanOptions) {
	fmt.Fprintf(out, "Starting audit...\nImage files to check: %d (including %d TIF files)\n",
		stats.totalFiles, stats.tifFiles)
	fmt.Fprintf(out, "Candidate images: %d, threshold: %.2f, workers: %d\n",
		candidates, options.Threshold, options.MaxWorkers)
}

// PrintCompletionStats displays statistics after scan completion
func PrintCompletionStats(out io.Writer, summary *Summary) {
	fmt.Fprintln(out, "\nAudit complete.")
	fmt.Fprintf(out, "Checked %d images in %v.\n", summary.Processed, summary.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "Duplicates of pending reports: %d\n", summary.Similar)

	for _, m := range summary.Matches {
		fmt.Fprintf(out, "  %s -> report %s (similarity %.4f, image %s)\n",
			m.Path, m.Verdict.ReportID, m.Verdict.Similarity, m.Verdict.Image)
	}

	if summary.Errors > 0 {
		fmt.Fprintf(out, "Encountered %d errors during the audit.\n", summary.Errors)
		fmt.Fprintln(out, "Check the log file for details.")
	}
}
