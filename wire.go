package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"reportdedup/config"
	"reportdedup/database"
	"reportdedup/featurecache"
	"reportdedup/fetch"
	"reportdedup/imageprocessor"
	"reportdedup/matcher"
	"reportdedup/metrics"
	"reportdedup/types"
)

func backboneConfig(cfg *config.Config) imageprocessor.BackboneConfig {
	return imageprocessor.BackboneConfig{
		ModelPath:   cfg.Backbone.Model,
		ConfigPath:  cfg.Backbone.Config,
		Backend:     cfg.Backbone.Backend,
		Target:      cfg.Backbone.Target,
		InputSize:   cfg.Backbone.InputSize,
		OutputLayer: cfg.Backbone.OutputLayer,
		Dimension:   cfg.Backbone.Dimension,
		Scale:       cfg.Backbone.Scale,
		Mean:        cfg.Backbone.Mean,
		SwapRB:      cfg.Backbone.SwapRB,
	}
}

// buildMatcher wires fetch client, extractor, feature cache and matcher
func buildMatcher(cfg *config.Config, m *metrics.Metrics) (*matcher.Matcher, *imageprocessor.Extractor, error) {
	fetcher := fetch.NewClient(cfg.FetchOptions())
	extractor := imageprocessor.NewExtractor(backboneConfig(cfg), fetcher)

	cache, err := featurecache.New(cfg.Cache.MaxEntries, m)
	if err != nil {
		return nil, nil, err
	}

	mt, err := matcher.New(cfg.MatcherConfig(), extractor, cache, m)
	if err != nil {
		return nil, nil, err
	}
	return mt, extractor, nil
}

// candidateFile is the YAML layout accepted by --candidates
type candidateFile struct {
	Reports []types.ReportWithImages `yaml:"reports"`
}

func loadCandidatesFile(path string) ([]types.ReportWithImages, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading candidates file: %w", err)
	}

	var f candidateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing candidates file %s: %w", path, err)
	}
	for i, r := range f.Reports {
		if r.ID == "" {
			return nil, fmt.Errorf("candidates file %s: report %d has no id", path, i)
		}
	}
	return f.Reports, nil
}

// candidateSource selects pending reports from a file, a campus/area/category
// scope, or every pending report in the database
type candidateSource struct {
	file       string
	campusID   string
	areaID     string
	categoryID string
}

func (s candidateSource) load(ctx context.Context, dbPath string) ([]types.ReportWithImages, error) {
	if s.file != "" {
		return loadCandidatesFile(s.file)
	}

	db, err := database.OpenDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	reports, err := s.query(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make([]types.ReportWithImages, 0, len(reports))
	for _, r := range reports {
		out = append(out, r.WithImages())
	}
	return out, nil
}

func (s candidateSource) query(ctx context.Context, db *sql.DB) ([]*types.Report, error) {
	scoped := s.campusID != "" || s.areaID != "" || s.categoryID != ""
	if !scoped {
		return database.ListPending(ctx, db)
	}
	if s.campusID == "" || s.areaID == "" || s.categoryID == "" {
		return nil, fmt.Errorf("--campus, --area and --category must be given together")
	}
	return database.ListPendingSimilar(ctx, db, s.campusID, s.areaID, s.categoryID)
}
