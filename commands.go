package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"reportdedup/database"
	"reportdedup/logging"
	"reportdedup/metrics"
	"reportdedup/scanner"
	"reportdedup/server"
	"reportdedup/types"
	"reportdedup/utils"
	"reportdedup/workflow"
)

func (c *cli) newInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Create the report database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := database.InitDatabase(c.cfg.Database)
			if err != nil {
				return fmt.Errorf("initializing database: %w", err)
			}
			defer db.Close()

			stats, err := database.GetStats(cmd.Context(), db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database ready at %s (%d reports, %d pending, %d images)\n",
				c.cfg.Database, stats.TotalReports, stats.PendingReports, stats.Images)
			return nil
		},
	}
}

func addCandidateFlags(cmd *cobra.Command, src *candidateSource) {
	cmd.Flags().StringVar(&src.file, "candidates", "", "YAML file of candidate reports instead of the database")
	cmd.Flags().StringVar(&src.campusID, "campus", "", "campus id of the pending reports to compare against")
	cmd.Flags().StringVar(&src.areaID, "area", "", "area id of the pending reports to compare against")
	cmd.Flags().StringVar(&src.categoryID, "category", "", "category id of the pending reports to compare against")
}

// threshold returns the --threshold flag if given, otherwise the configured one
func (c *cli) threshold(cmd *cobra.Command) (float64, error) {
	if !cmd.Flags().Changed("threshold") {
		return c.cfg.Detector.Threshold, nil
	}
	raw, _ := cmd.Flags().GetString("threshold")
	return utils.ParseThreshold(raw)
}

func (c *cli) newCheckCmd() *cobra.Command {
	var src candidateSource
	var imagePath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check one photo against pending reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			threshold, err := c.threshold(cmd)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("reading image: %w", err)
			}

			candidates, err := src.load(cmd.Context(), c.cfg.Database)
			if err != nil {
				return err
			}

			mt, _, err := buildMatcher(c.cfg, nil)
			if err != nil {
				return err
			}

			verdict, err := mt.FindBestMatch(cmd.Context(), data, candidates, threshold)
			if err != nil {
				return fmt.Errorf("checking %s: %w", imagePath, err)
			}
			return printVerdict(cmd, verdict, threshold, asJSON)
		},
	}

	cmd.Flags().StringVar(&imagePath, "image", "", "photo to check")
	cmd.Flags().String("threshold", "", "similarity a match must exceed (0-1)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the verdict as JSON")
	addCandidateFlags(cmd, &src)
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func printVerdict(cmd *cobra.Command, v types.Verdict, threshold float64, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	switch {
	case v.Compared == 0:
		fmt.Fprintln(out, "No candidate images; this would be filed as a new report.")
	case v.Similar:
		fmt.Fprintf(out, "Similar to report %s (similarity %.4f > %.2f)\n", v.ReportID, v.Similarity, threshold)
		fmt.Fprintf(out, "Matched image: %s (submitted by %s)\n", v.Image, v.PersonID)
	default:
		fmt.Fprintf(out, "No similar report (best %.4f from report %s, threshold %.2f, %d images compared)\n",
			v.Similarity, v.ReportID, threshold, v.Compared)
	}
	return nil
}

func (c *cli) newAuditCmd() *cobra.Command {
	var src candidateSource
	var folder string
	var workers int
	var progress bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check every photo in a folder against pending reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			threshold, err := c.threshold(cmd)
			if err != nil {
				return err
			}

			candidates, err := src.load(cmd.Context(), c.cfg.Database)
			if err != nil {
				return err
			}

			mt, _, err := buildMatcher(c.cfg, nil)
			if err != nil {
				return err
			}

			_, err = scanner.ScanFolder(cmd.Context(), mt, candidates, scanner.ScanOptions{
				FolderPath:   folder,
				Threshold:    threshold,
				MaxWorkers:   workers,
				ShowProgress: progress,
				Output:       cmd.OutOrStdout(),
			})
			return err
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "folder of photos to audit")
	cmd.Flags().String("threshold", "", "similarity a match must exceed (0-1)")
	cmd.Flags().IntVar(&workers, "workers", 0, "files checked at once (default: 3/4 of the CPUs)")
	cmd.Flags().BoolVar(&progress, "progress", false, "show a progress line")
	addCandidateFlags(cmd, &src)
	_ = cmd.MarkFlagRequired("folder")
	return cmd
}

func (c *cli) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve report submission and cache maintenance over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.cfg

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.NewMetrics(reg)

			db, err := database.InitDatabase(cfg.Database)
			if err != nil {
				return fmt.Errorf("initializing database: %w", err)
			}
			defer db.Close()

			mt, extractor, err := buildMatcher(cfg, m)
			if err != nil {
				return err
			}
			// no comparison can run without the backbone, so fail before listening
			if err := extractor.Warmup(); err != nil {
				return err
			}

			images, err := workflow.NewDirImageStore(cfg.Server.ImageDir, cfg.Server.PublicBaseURL)
			if err != nil {
				return err
			}
			svc := workflow.NewService(database.Store{DB: db}, images, mt, workflow.LogNotifier{})
			defer svc.Wait()

			srv, err := server.New(server.Config{
				ListenAddr:     cfg.Server.Listen,
				AdminToken:     cfg.Server.AdminToken,
				ImageDir:       cfg.Server.ImageDir,
				CORSOrigins:    cfg.Server.CORSOrigins,
				MaxUploadBytes: cfg.Fetch.MaxBytes,
			}, mt, svc, reg)
			if err != nil {
				return err
			}

			if cfg.Server.AdminToken == "" {
				logging.LogWarning("server.admin_token is empty; /admin endpoints are open")
			}
			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	return cmd
}
