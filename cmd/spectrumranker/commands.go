package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"SpectrumRanker/internal/app"
	"SpectrumRanker/internal/comparator"
	"SpectrumRanker/internal/config"
	"SpectrumRanker/internal/domain"
	"SpectrumRanker/internal/logging"
	"SpectrumRanker/internal/spectrum"
	"SpectrumRanker/internal/usecase"
)

var (
	containerID     int64
	criterionID     int64
	model           string
	strategy        string
	actionable      string
	includeDone     bool
	includeArchived bool
	evaluative      bool
	forceRecompute  bool
	modelA          string
	modelB          string

	rootCmd = &cobra.Command{
		Use:   "spectrumranker",
		Short: "Ranks items along a criterion with pairwise model comparisons",
		Long: `spectrumranker keeps persistent ranked lists of items, one per
criterion and scope, and grows them by asking embedding, zero-shot,
chat or human comparators which of two items ranks ahead.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and scheduled rankings",
		RunE:  runServe,
	}

	rankCmd = &cobra.Command{
		Use:   "rank",
		Short: "Rank every unranked item of a scope and print the report",
		RunE:  runRank,
	}

	classifyCmd = &cobra.Command{
		Use:   "classify",
		Short: "Set the actionable flag of items in a container",
		RunE:  runClassify,
	}

	alignmentCmd = &cobra.Command{
		Use:   "alignment",
		Short: "Report how often two models agree on shared comparisons",
		RunE:  runAlignment,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and indexes",
		RunE:  runMigrate,
	}

	modelsCmd = &cobra.Command{
		Use:   "models",
		Short: "List registered comparator models",
		RunE:  runModels,
	}
)

func init() {
	rankCmd.Flags().Int64Var(&containerID, "container", 0, "container id; 0 ranks across all containers")
	rankCmd.Flags().Int64Var(&criterionID, "criterion", 0, "criterion id")
	rankCmd.Flags().StringVar(&model, "model", "", "comparator model")
	rankCmd.Flags().StringVar(&strategy, "strategy", "", "insert, merge or auto; empty uses the configured strategy")
	rankCmd.Flags().StringVar(&actionable, "actionable", "", "true or false restricts the scope; empty includes both")
	rankCmd.Flags().BoolVar(&includeDone, "include-done", false, "include done items")
	rankCmd.Flags().BoolVar(&includeArchived, "include-archived", false, "include archived items")
	rankCmd.Flags().BoolVar(&evaluative, "evaluative", false, "build a separate list for evaluation")
	rankCmd.Flags().BoolVar(&forceRecompute, "force", false, "ignore memoized verdicts")
	_ = rankCmd.MarkFlagRequired("criterion")
	_ = rankCmd.MarkFlagRequired("model")

	classifyCmd.Flags().Int64Var(&containerID, "container", 0, "container id; 0 classifies every container")
	classifyCmd.Flags().StringVar(&model, "model", "", "comparator model; empty uses the configured one")
	classifyCmd.Flags().BoolVar(&includeDone, "include-done", false, "include done items")
	classifyCmd.Flags().BoolVar(&includeArchived, "include-archived", false, "include archived items")
	classifyCmd.Flags().BoolVar(&forceRecompute, "force", false, "ignore memoized verdicts")

	alignmentCmd.Flags().StringVar(&modelA, "model-a", "", "first model")
	alignmentCmd.Flags().StringVar(&modelB, "model-b", domain.HumanModel, "second model")
	_ = alignmentCmd.MarkFlagRequired("model-a")

	rootCmd.AddCommand(serveCmd, rankCmd, classifyCmd, alignmentCmd, migrateCmd, modelsCmd)
}

// open loads configuration and builds the application. The returned context
// is cancelled on SIGINT or SIGTERM.
func open(cmd *cobra.Command, opts ...app.Option) (context.Context, *app.Application, func(), error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger, opts...)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	closer := func() {
		if err := application.Close(); err != nil {
			logger.Warn("close application", "error", err)
		}
		stop()
	}
	return ctx, application, closer, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, application, closer, err := open(cmd)
	if err != nil {
		return err
	}
	defer closer()
	return application.Serve(ctx)
}

func runRank(cmd *cobra.Command, _ []string) error {
	req, err := rankRequest()
	if err != nil {
		return err
	}

	var opts []app.Option
	if req.Model == domain.HumanModel {
		opts = append(opts, app.WithPrompter(comparator.NewTerminalPrompter(os.Stdin, cmd.OutOrStdout())))
	}
	ctx, application, closer, err := open(cmd, opts...)
	if err != nil {
		return err
	}
	defer closer()

	report, err := application.Rank(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), report.String())
	if report.Status == usecase.RunFailed {
		return fmt.Errorf("run %s failed", report.ID)
	}
	return nil
}

func rankRequest() (usecase.RankRequest, error) {
	req := usecase.RankRequest{
		ContainerID:     domain.ContainerID(containerID),
		CriterionID:     domain.CriterionID(criterionID),
		Model:           model,
		IncludeDone:     includeDone,
		IncludeArchived: includeArchived,
		Evaluative:      evaluative,
		ForceRecompute:  forceRecompute,
	}
	if strategy != "" {
		s, err := spectrum.ParseStrategy(strategy)
		if err != nil {
			return usecase.RankRequest{}, err
		}
		req.Strategy = s
	}
	if actionable != "" {
		v, err := strconv.ParseBool(actionable)
		if err != nil {
			return usecase.RankRequest{}, fmt.Errorf("--actionable: %w", err)
		}
		req.Actionable = &v
	}
	return req, nil
}

func runClassify(cmd *cobra.Command, _ []string) error {
	ctx, application, closer, err := open(cmd)
	if err != nil {
		return err
	}
	defer closer()

	report, err := application.Classify(ctx, usecase.ClassifyRequest{
		ContainerID:     domain.ContainerID(containerID),
		Model:           model,
		IncludeDone:     includeDone,
		IncludeArchived: includeArchived,
		ForceRecompute:  forceRecompute,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "classified %d items: %d changed, %d skipped, %d failed, %d positions invalidated\n",
		report.Examined, report.Changed, report.Skipped, report.Failed, report.Invalidated)
	return nil
}

func runAlignment(cmd *cobra.Command, _ []string) error {
	ctx, application, closer, err := open(cmd)
	if err != nil {
		return err
	}
	defer closer()

	report, err := application.Alignment(ctx, modelA, modelB)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s vs %s: %d shared, %d agreed (%.2f%%)\n",
		report.ModelA, report.ModelB, report.Shared, report.Agreed, report.Agreement)
	for _, key := range report.Disagreements {
		fmt.Fprintf(cmd.OutOrStdout(), "  disagree: subject %d, left %d, right %d\n", key.Subject, key.Left, key.Right)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	_, _, closer, err := open(cmd)
	if err != nil {
		return err
	}
	closer()
	fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
	return nil
}

func runModels(cmd *cobra.Command, _ []string) error {
	_, application, closer, err := open(cmd)
	if err != nil {
		return err
	}
	defer closer()
	for _, name := range application.Models() {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}
