// Package main provides the geocache maintenance CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/geomcache/geomcache/internal/cache"
	"github.com/geomcache/geomcache/internal/config"
	"github.com/geomcache/geomcache/internal/metrics"
	"github.com/geomcache/geomcache/pkg/utils"
)

// Version as provided by the release build.
var Version = ""

// app holds what the subcommands share once the root command has opened
// the cache.
type app struct {
	configFile string
	logLevel   string

	cfg       *config.Configuration
	logger    *log.Logger
	logCloser io.Closer
	collector *metrics.Collector
	manager   *cache.Manager

	closeOnce sync.Once
	closeErr  error
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "geocache",
		Short:         "Inspect and maintain a geometry cache directory",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(
		newStatsCmd(a),
		newListCmd(a),
		newClearCmd(a),
		newEvictCmd(a),
		newGetCmd(a),
		newPutFileCmd(a),
		newServeCmd(a),
	)
	return rootCmd
}

func loadConfig(configFile string) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.ResolveDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// open loads the configuration, opens every tier and closes them again
// when ctx is cancelled by a signal.
func (a *app) open(ctx context.Context) error {
	cfg, err := loadConfig(a.configFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Global.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	a.logger, a.logCloser, err = utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFile)
	if err != nil {
		return err
	}

	m := cfg.Monitoring.Metrics
	a.collector, err = metrics.NewCollector(&metrics.Config{
		Enabled:   m.Enabled,
		Address:   m.Address,
		Path:      m.Path,
		Namespace: m.Namespace,
	})
	if err != nil {
		return err
	}

	a.manager, err = cache.NewManager(&cfg.Cache,
		cache.WithLogger(a.logger),
		cache.WithMetrics(a.collector))
	if err != nil {
		return err
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			if err := a.close(); err != nil {
				a.logger.Error("close failed", "err", err)
			}
		}()
	}
	return nil
}

func (a *app) close() error {
	a.closeOnce.Do(func() {
		if a.manager != nil {
			a.closeErr = a.manager.Close()
		}
		if a.logCloser != nil {
			_ = a.logCloser.Close()
		}
	})
	return a.closeErr
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
