package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/schollz/progressbar/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yoon0701/ZeroGravity/internal/config"
	"github.com/yoon0701/ZeroGravity/internal/llm"
	"github.com/yoon0701/ZeroGravity/internal/metrics"
	"github.com/yoon0701/ZeroGravity/internal/repository"
	"github.com/yoon0701/ZeroGravity/internal/service"
)

const defaultConfigPath = "configs/config.yml"

// app is the state shared by every subcommand.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "datagen",
		Short: "Build the Korean ham/spam SMS dataset",
		Long: `datagen builds a labelled Korean SMS dataset.

  ham      extract one utterance per annotation file into the ham table
  augment  add LLM-written ham messages that carry <URL>/<PHONE>
  spam     synthesize spam messages from instruct seeds
  export   convert a table or the run ledger to csv, json or xlsx
  serve    run the review API`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath, "Configuration file path")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newHamCmd(a))
	cmd.AddCommand(newAugmentCmd(a))
	cmd.AddCommand(newSpamCmd(a))
	cmd.AddCommand(newExportCmd(a))
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(a.configPath, !cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := newLogger(cfg.Log.Level, a.verbose)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}

	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.DisableStacktrace = !verbose
	return zcfg.Build()
}

// signalContext is cancelled on SIGINT or SIGTERM so runs can checkpoint.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// openLedger returns nil when the ledger is disabled.
func (a *app) openLedger() (*repository.RunRepository, error) {
	if a.cfg.Database.Type == "none" {
		return nil, nil
	}
	repo, err := repository.NewRunRepository(a.cfg.Database.Type, a.cfg.Database.Path, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open run ledger: %w", err)
	}
	return repo, nil
}

// ledgerOrNil keeps a disabled ledger a nil interface.
func ledgerOrNil(repo *repository.RunRepository) service.Ledger {
	if repo == nil {
		return nil
	}
	return repo
}

// newProvider builds the failover client over every usable provider.
func (a *app) newProvider(model string) (*llm.MultiProviderClient, error) {
	providers, err := a.cfg.ResolveProviders(model)
	if err != nil {
		return nil, err
	}
	client, err := llm.NewMultiProviderClient(llm.MultiProviderConfig{
		Providers:   providers,
		MaxFailures: a.cfg.MaxFailuresBeforeSwitch,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Providers ready", zap.Any("providers", client.GetProvidersInfo()))
	return client, nil
}

func newMetrics() (*metrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(reg), reg
}

// logCounters writes the counters a CLI run left in reg, one entry per series.
func (a *app) logCounters(reg prometheus.Gatherer) {
	counters, err := metrics.Counters(reg)
	if err != nil {
		a.logger.Warn("Failed to gather run metrics", zap.Error(err))
		return
	}
	fields := make([]zap.Field, 0, len(counters))
	for _, c := range counters {
		fields = append(fields, zap.Float64(c.Series, c.Value))
	}
	a.logger.Info("Run metrics", fields...)
}

// progress draws a bar on stderr, created on the first update so the total
// is known.
type progress struct {
	desc string
	bar  *progressbar.ProgressBar
}

func (p *progress) update(done, total int) {
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(p.desc),
		)
	}
	_ = p.bar.Set(done)
}

func (p *progress) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
}
