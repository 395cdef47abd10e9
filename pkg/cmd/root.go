// Package cmd implements the srcscan command-line interface.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/srcscan/srcscan/pkg/config"
	"github.com/srcscan/srcscan/pkg/metrics"
	"github.com/srcscan/srcscan/pkg/store"
)

var (
	flagVerbose         bool
	flagConfig          string
	flagMetricsTextfile string
	flagStorageRoot     string

	// Env holds the resolved configuration and shared services, available
	// to all subcommands after PersistentPreRunE completes.
	Env *Environment
)

// Environment is what every command runs against.
type Environment struct {
	Config   *config.Config
	Store    store.Store
	Logger   *log.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
}

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "srcscan",
		Short: "Acquire and scan package sources",
		Long: `srcscan downloads the sources of the projects and packages found by an
analyzer, from version control or from published source archives, and runs
scanners such as license detection over them.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd.ErrOrStderr(), flagVerbose)
			log.SetDefault(logger)

			overrides := map[string]any{}
			if cmd.Flags().Changed("storage-root") {
				overrides["storage.root"] = flagStorageRoot
			}
			collectOverrides(cmd, overrides)

			cfg, err := config.Load(overrides, flagConfig)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			Env = &Environment{
				Config:   cfg,
				Store:    store.New(cfg.Storage.Root),
				Logger:   logger,
				Registry: reg,
				Metrics:  metrics.New(reg),
			}
			logger.Debug("storage", "root", Env.Store.Root())
			cmd.SetContext(withLogger(cmd.Context(), logger))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if flagMetricsTextfile == "" || Env == nil {
				return nil
			}
			return metrics.WriteTextfile(flagMetricsTextfile, Env.Registry)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "project config file (default ./"+config.FileName+")")
	root.PersistentFlags().StringVar(&flagMetricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file on exit")
	root.PersistentFlags().StringVar(&flagStorageRoot, "storage-root", "", "directory for downloads, caches and results (default ~/.srcscan)")

	root.AddCommand(newInitCmd())
	root.AddCommand(newDownloadCmd())
	root.AddCommand(newScanCmd())
	root.AddCommand(newConsolidateCmd())
	root.AddCommand(newToolCmd())
	root.AddCommand(newCacheCmd())

	return root
}

// overrideFlags maps command flags to the config keys they override.
var overrideFlags = map[string]string{
	"allow-moving-revisions": "download.allow_moving_revisions",
	"parallelism":            "download.parallelism",
	"scanners":               "scanner.enabled",
	"skip-existing":          "scanner.skip_existing",
	"http-timeout":           "http.timeout",
	"proxy":                  "http.proxy",
}

// collectOverrides adds the explicitly set flags of cmd to overrides.
func collectOverrides(cmd *cobra.Command, overrides map[string]any) {
	for flag, key := range overrideFlags {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		switch f.Value.Type() {
		case "bool":
			v, _ := cmd.Flags().GetBool(flag)
			overrides[key] = v
		case "int":
			v, _ := cmd.Flags().GetInt(flag)
			overrides[key] = v
		case "stringSlice":
			v, _ := cmd.Flags().GetStringSlice(flag)
			overrides[key] = v
		case "duration":
			v, _ := cmd.Flags().GetDuration(flag)
			overrides[key] = v
		default:
			overrides[key] = f.Value.String()
		}
	}
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
