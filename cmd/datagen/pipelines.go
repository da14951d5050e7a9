package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yoon0701/ZeroGravity/internal/service"
	"github.com/yoon0701/ZeroGravity/internal/synth"
)

func newHamCmd(a *app) *cobra.Command {
	var opts service.HamOptions

	cmd := &cobra.Command{
		Use:   "ham",
		Short: "Extract the ham table from annotation files",
		Long: `Walk the input directory, take the first usable utterance of every JSON
annotation file, normalize it, tag URL/phone features, drop duplicates and
sample down to the target size.`,
		Args: cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, _ []string) {
			fillString(cmd, "in", &opts.InputDir, a.cfg.Ham.InputDir)
			fillString(cmd, "out", &opts.Output, a.cfg.Ham.Output)
			fillInt(cmd, "target", &opts.Target, a.cfg.Ham.Target)
			fillInt(cmd, "limit", &opts.Limit, a.cfg.Ham.Limit)
			fillInt64(cmd, "seed", &opts.Seed, a.cfg.Ham.Seed)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ledger, err := a.openLedger()
			if err != nil {
				return err
			}
			if ledger != nil {
				defer ledger.Close()
			}

			m, reg := newMetrics()
			b := service.NewHamBuilder(ledgerOrNil(ledger), m, a.logger)
			bar := &progress{desc: "files"}
			b.Progress = bar.update

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			res, err := b.Run(ctx, opts)
			bar.finish()
			a.logCounters(reg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s rows=%d skipped=%d\n", opts.Output, res.Produced, res.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.InputDir, "in", "", "Directory of annotation JSON files")
	cmd.Flags().StringVar(&opts.Output, "out", "", "Output CSV path")
	cmd.Flags().IntVar(&opts.Target, "target", 0, "Number of rows to keep")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of files to scan (0 = all)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "Sampling seed")
	return cmd
}

func newAugmentCmd(a *app) *cobra.Command {
	var (
		opts  service.AugmentOptions
		model string
	)

	cmd := &cobra.Command{
		Use:   "augment",
		Short: "Generate ham messages with <URL>/<PHONE> placeholders",
		Long: `Generate casual ham messages that mention a link or a phone number, reusing
identifiers from the ham table. An existing output file is resumed: only the
missing rows are generated and source rows already used are skipped.`,
		Args: cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, _ []string) {
			fillString(cmd, "in", &opts.HamCSV, a.cfg.Augment.HamCSV)
			fillString(cmd, "out", &opts.Output, a.cfg.Augment.Output)
			fillInt(cmd, "target", &opts.Target, a.cfg.Augment.Target)
			fillInt64(cmd, "seed", &opts.Seed, a.cfg.Augment.Seed)
			opts.CheckpointEvery = a.cfg.Augment.CheckpointEvery
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.newProvider(model)
			if err != nil {
				return err
			}
			defer client.Close()

			ledger, err := a.openLedger()
			if err != nil {
				return err
			}
			if ledger != nil {
				defer ledger.Close()
			}

			m, reg := newMetrics()
			aug := service.NewHamAugmenter(newHamGenerator(a, client), ledgerOrNil(ledger), m, a.logger)
			bar := &progress{desc: "augment"}
			aug.Progress = bar.update

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			res, err := aug.Run(ctx, opts)
			bar.finish()
			a.logCounters(reg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s existing=%d new=%d failed=%d\n",
				opts.Output, res.Existing, res.Produced, res.Failed)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.HamCSV, "in", "", "Ham CSV to borrow identifiers from")
	cmd.Flags().StringVar(&opts.Output, "out", "", "Output CSV path")
	cmd.Flags().IntVar(&opts.Target, "target", 0, "Total number of rows wanted in the output")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "Seed for condition selection")
	cmd.Flags().StringVar(&model, "model", "", "Override the model of every provider")
	return cmd
}

func newSpamCmd(a *app) *cobra.Command {
	var (
		opts     service.SpamOptions
		model    string
		retries  int
		fallback bool
	)

	cmd := &cobra.Command{
		Use:   "spam",
		Short: "Synthesize spam messages from instruct seeds",
		Long: `Ask the model for spam messages for every instruct seed, sanitize and
validate them, and write the deduplicated table. Seeds already present in the
output are skipped; progress is saved periodically.`,
		Args: cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, _ []string) {
			fillString(cmd, "in", &opts.InPath, a.cfg.Spam.In)
			fillString(cmd, "out", &opts.Output, a.cfg.Spam.Output)
			fillInt(cmd, "limit", &opts.Limit, a.cfg.Spam.Limit)
			fillInt(cmd, "nper", &opts.NPer, a.cfg.Spam.NPer)
			fillInt(cmd, "target", &opts.Target, a.cfg.Spam.Target)
			fillInt64(cmd, "seed", &opts.Seed, a.cfg.Spam.Seed)
			fillString(cmd, "model", &model, a.cfg.Spam.Model)
			fillInt(cmd, "retries", &retries, a.cfg.Spam.Retries)
			if !cmd.Flags().Changed("fallback") {
				fallback = a.cfg.Spam.Fallback
			}
			opts.CheckpointEvery = a.cfg.Spam.CheckpointEvery
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.newProvider(model)
			if err != nil {
				return err
			}
			defer client.Close()

			ledger, err := a.openLedger()
			if err != nil {
				return err
			}
			if ledger != nil {
				defer ledger.Close()
			}

			m, reg := newMetrics()
			s := service.NewSpamSynthesizer(client, spamConfig(a, retries, fallback), ledgerOrNil(ledger), m, a.logger)
			bar := &progress{desc: "spam"}
			s.Progress = bar.update

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			res, err := s.Run(ctx, opts)
			bar.finish()
			a.logCounters(reg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s rows=%d skipped=%d\n",
				opts.Output, len(res.Records), res.Skipped+res.Failed)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.InPath, "in", "", "Instruct file or directory")
	cmd.Flags().StringVar(&opts.Output, "out", "", "Output CSV path")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of instruct files to read")
	cmd.Flags().IntVar(&opts.NPer, "nper", 0, "Messages to generate per instruct seed")
	cmd.Flags().StringVar(&model, "model", "", "Override the model of every provider")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "Seed for sampling and templates")
	cmd.Flags().IntVar(&opts.Target, "target", 0, "Number of rows to produce")
	cmd.Flags().IntVar(&retries, "retries", 0, "LLM attempts per seed")
	cmd.Flags().BoolVar(&fallback, "fallback", false, "Use template messages when the LLM keeps failing")
	return cmd
}

func newHamGenerator(a *app, client synth.Completer) *synth.HamGenerator {
	return synth.NewHamGenerator(client, synth.HamConfig{
		Temperature:         a.cfg.Augment.Temperature,
		RateLimitDelay:      a.cfg.Augment.RateLimitDelay,
		MaxRateLimitRetries: a.cfg.Augment.MaxRateLimitRetries,
	}, a.logger)
}

func spamConfig(a *app, retries int, fallback bool) synth.SpamConfig {
	return synth.SpamConfig{
		Temperature:    a.cfg.Spam.Temperature,
		TopP:           a.cfg.Spam.TopP,
		Retries:        retries,
		Fallback:       fallback,
		InitialBackoff: a.cfg.Spam.InitialBackoff,
	}
}

func fillString(cmd *cobra.Command, flag string, dst *string, fallback string) {
	if !cmd.Flags().Changed(flag) {
		*dst = fallback
	}
}

func fillInt(cmd *cobra.Command, flag string, dst *int, fallback int) {
	if !cmd.Flags().Changed(flag) {
		*dst = fallback
	}
}

func fillInt64(cmd *cobra.Command, flag string, dst *int64, fallback int64) {
	if !cmd.Flags().Changed(flag) {
		*dst = fallback
	}
}
