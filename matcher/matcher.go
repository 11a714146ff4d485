// Package matcher finds the stored report whose image best matches a new submission.
package matcher

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"reportdedup/featurecache"
	"reportdedup/governor"
	"reportdedup/logging"
	"reportdedup/metrics"
	"reportdedup/similarity"
	"reportdedup/types"
)

// Extractor produces embeddings. *imageprocessor.Extractor satisfies it.
type Extractor interface {
	ExtractBytes(ctx context.Context, data []byte) (similarity.Embedding, error)
	ExtractURL(ctx context.Context, url string) (similarity.Embedding, error)
}

// Matcher scores candidates against a new image. One Matcher is meant to be
// shared by every request in the process so its governor and cache are too.
type Matcher struct {
	cfg       Config
	extractor Extractor
	cache     *featurecache.Cache
	gov       *governor.Governor
	metrics   *metrics.Metrics
}

// New creates a Matcher. A nil cache gets an unbounded one.
func New(cfg Config, extractor Extractor, cache *featurecache.Cache, m *metrics.Metrics) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid matcher config")
	}
	if extractor == nil {
		return nil, errors.New("matcher needs an extractor")
	}
	if cache == nil {
		var err error
		if cache, err = featurecache.New(0, m); err != nil {
			return nil, err
		}
	}
	return &Matcher{
		cfg:       cfg,
		extractor: extractor,
		cache:     cache,
		gov:       governor.New(cfg.MaxConcurrent, m),
		metrics:   m,
	}, nil
}

// Config returns the matcher settings
func (m *Matcher) Config() Config {
	return m.cfg
}

// CheckImageSimilarity runs FindBestMatch at the configured default threshold
func (m *Matcher) CheckImageSimilarity(ctx context.Context, newImage []byte, reports []types.ReportWithImages) (types.Verdict, error) {
	return m.FindBestMatch(ctx, newImage, reports, m.cfg.DefaultThreshold)
}

// FindBestMatch compares newImage with every image of every report and
// returns the best scoring candidate. Verdict.Similar is set only when that
// score is strictly greater than threshold.
//
// A failure on newImage aborts the call. A failure on a candidate image scores
// that candidate 0, except a dimension mismatch, which aborts.
func (m *Matcher) FindBestMatch(ctx context.Context, newImage []byte, reports []types.ReportWithImages, threshold float64) (verdict types.Verdict, err error) {
	start := time.Now()
	defer func() {
		result := metrics.ResultNotSimilar
		switch {
		case err != nil:
			result = metrics.ResultError
		case verdict.Similar:
			result = metrics.ResultSimilar
		}
		m.metrics.ObserveCheck(result, time.Since(start))
	}()

	var target similarity.Embedding
	err = m.gov.Do(ctx, func() error {
		var extractErr error
		target, extractErr = m.extractor.ExtractBytes(ctx, newImage)
		return extractErr
	})
	if err != nil {
		return types.Verdict{}, errors.Wrap(err, "extracting features of new image")
	}

	candidates := types.FlattenCandidates(reports)
	if len(candidates) == 0 {
		logging.DebugLog("No candidates to compare against")
		return types.Verdict{}, nil
	}

	scored := make([]types.ScoredCandidate, 0, len(candidates))
	remaining := candidates

	if m.useFastPath(threshold, len(candidates)) {
		n := m.cfg.FastPath.SampleSize
		for _, c := range candidates[:n] {
			score, scoreErr := m.scoreCandidate(ctx, target, c)
			if scoreErr != nil {
				return types.Verdict{}, scoreErr
			}
			sc := types.ScoredCandidate{Candidate: c, Similarity: score}
			if score > threshold {
				m.metrics.FastPathHit()
				logging.DebugLog("Fast path matched report %s (%.4f)", c.ReportID, score)
				return verdictFor(sc, threshold, len(scored)+1), nil
			}
			scored = append(scored, sc)
		}
		remaining = candidates[n:]
	}

	rest, err := m.scoreBatches(ctx, target, remaining)
	if err != nil {
		return types.Verdict{}, err
	}
	scored = append(scored, rest...)

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	verdict = verdictFor(scored[0], threshold, len(scored))
	logging.DebugLog("Best match report %s at %.4f over %d candidates (similar=%t)",
		verdict.ReportID, verdict.Similarity, verdict.Compared, verdict.Similar)
	return verdict, nil
}

func (m *Matcher) useFastPath(threshold float64, n int) bool {
	fp := m.cfg.FastPath
	return fp.Enabled && threshold > fp.Threshold && n > fp.MinCandidates
}

// scoreBatches scores candidates in fixed-size batches. Each candidate is
// written to its own slot, so the result holds every candidate exactly once.
func (m *Matcher) scoreBatches(ctx context.Context, target similarity.Embedding, candidates []types.Candidate) ([]types.ScoredCandidate, error) {
	scored := make([]types.ScoredCandidate, len(candidates))
	size := m.cfg.BatchSize

	for start := 0; start < len(candidates); start += size {
		if start > 0 {
			if err := sleepContext(ctx, m.cfg.BatchDelay); err != nil {
				return nil, err
			}
		}

		end := start + size
		if end > len(candidates) {
			end = len(candidates)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				score, err := m.scoreCandidate(gctx, target, candidates[i])
				if err != nil {
					return err
				}
				scored[i] = types.ScoredCandidate{Candidate: candidates[i], Similarity: score}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return scored, nil
}

// scoreCandidate returns the candidate's similarity to target. Recoverable
// failures are logged and score 0; only fatal errors are returned.
func (m *Matcher) scoreCandidate(ctx context.Context, target similarity.Embedding, c types.Candidate) (float64, error) {
	emb, err := m.candidateEmbedding(ctx, c.ImageURL)
	if err == nil {
		var score float64
		score, err = similarity.CosineSimilarity(target, emb)
		if err == nil {
			m.metrics.CandidateScored(false)
			return score, nil
		}
	}

	if fatal := fatalCandidateError(ctx, err); fatal != nil {
		var dimErr *types.DimensionMismatchError
		if errors.As(fatal, &dimErr) {
			logging.LogError("Embedding dimension mismatch for report %s image %s: %v (backbone and cached features disagree)",
				c.ReportID, c.ImageURL, fatal)
		}
		return 0, fatal
	}

	m.metrics.CandidateScored(true)
	logging.LogCandidateFailure(c.ReportID, c.ImageURL, err)
	return 0, nil
}

func (m *Matcher) candidateEmbedding(ctx context.Context, url string) (similarity.Embedding, error) {
	if emb, ok := m.cache.Get(url); ok {
		return emb, nil
	}

	var emb similarity.Embedding
	err := m.gov.Do(ctx, func() error {
		var extractErr error
		emb, extractErr = m.extractor.ExtractURL(ctx, url)
		return extractErr
	})
	if err != nil {
		return similarity.Embedding{}, err
	}
	m.cache.Put(url, emb)
	return emb, nil
}

// fatalCandidateError picks out the errors that must abort the whole check
func fatalCandidateError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var dimErr *types.DimensionMismatchError
	if errors.As(err, &dimErr) {
		return err
	}
	var loadErr *types.BackboneLoadError
	if errors.As(err, &loadErr) {
		return err
	}
	return nil
}

func verdictFor(best types.ScoredCandidate, threshold float64, compared int) types.Verdict {
	return types.Verdict{
		Similar:    best.Similarity > threshold,
		Similarity: best.Similarity,
		ReportID:   best.ReportID,
		Image:      best.ImageURL,
		PersonID:   best.PersonID,
		Compared:   compared,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ClearFeaturesCache drops every cached candidate embedding
func (m *Matcher) ClearFeaturesCache() {
	m.cache.Clear()
	logging.LogInfo("Feature cache cleared")
}

// CacheStats reports the feature cache size
func (m *Matcher) CacheStats() featurecache.Stats {
	return m.cache.Stats()
}

// Governor exposes the concurrency governor for instrumentation
func (m *Matcher) Governor() *governor.Governor {
	return m.gov
}
