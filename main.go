package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reportdedup/config"
	"reportdedup/logging"
	"reportdedup/signalhandler"
)

func main() {
	// CGo-heavy inference does better with fewer OS threads
	runtime.GOMAXPROCS(signalhandler.GetOptimalProcs())

	ctx, stop := signalhandler.NotifyContext(context.Background())
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// cli carries the resolved configuration to every subcommand
type cli struct {
	v   *viper.Viper
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "reportdedup",
		Short:         "Duplicate detection for photo-backed facility reports",
		Long:          "reportdedup compares a report photo with the photos of pending reports in the same campus, area and category.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.initConfig(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			logging.CloseLogger()
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("database", "", "path to the report database")
	root.PersistentFlags().String("log-file", "", "write logs to this file")
	root.PersistentFlags().Bool("debug", false, "enable debug logging")
	root.PersistentFlags().String("model", "", "path to the backbone model")

	root.AddCommand(
		c.newInitDBCmd(),
		c.newCheckCmd(),
		c.newAuditCmd(),
		c.newServeCmd(),
	)
	return root
}

var persistentBindings = map[string]string{
	"database":       "database",
	"log_file":       "log-file",
	"debug":          "debug",
	"backbone.model": "model",
}

// initConfig applies the precedence flag > env > file > defaults
func (c *cli) initConfig(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading .env: %w", err)
	}

	config.SetDefaults(c.v)
	config.SetupEnv(c.v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		c.v.SetConfigFile(cfgFile)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
	} else {
		c.v.SetConfigName("reportdedup")
		c.v.AddConfigPath(".")
		c.v.AddConfigPath("$HOME/.config/reportdedup")
		if err := c.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("reading config: %w", err)
			}
		}
	}

	for key, flag := range persistentBindings {
		if err := c.v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(flag)); err != nil {
			return fmt.Errorf("binding %s flag: %w", flag, err)
		}
	}
	if f := cmd.Flags().Lookup("listen"); f != nil {
		if err := c.v.BindPFlag("server.listen", f); err != nil {
			return fmt.Errorf("binding listen flag: %w", err)
		}
	}

	cfg, err := config.Load(c.v)
	if err != nil {
		return err
	}
	c.cfg = cfg

	if err := logging.SetupLogger(cfg.LogFile, cfg.Debug); err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	logging.DebugLog("Configuration: database=%s model=%q %s", cfg.Database, cfg.Backbone.Model, cfg.MatcherConfig())
	return nil
}
