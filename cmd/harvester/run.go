package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/regdata/harvester/internal/adapter/static"
	"github.com/regdata/harvester/internal/api"
	"github.com/regdata/harvester/internal/browser"
	"github.com/regdata/harvester/internal/checkpoint"
	"github.com/regdata/harvester/internal/clock/system"
	"github.com/regdata/harvester/internal/config"
	"github.com/regdata/harvester/internal/harvest"
	"github.com/regdata/harvester/internal/id/uuid"
	"github.com/regdata/harvester/internal/logging"
	"github.com/regdata/harvester/internal/pipeline"
	"github.com/regdata/harvester/internal/policy/admission"
	"github.com/regdata/harvester/internal/policy/pacing"
	"github.com/regdata/harvester/internal/policy/retry"
	"github.com/regdata/harvester/internal/publish/pubsub"
	"github.com/regdata/harvester/internal/sink/jsonl"
	"github.com/regdata/harvester/internal/store/postgres"
)

type runFlags struct {
	termsFile  string
	searchType string
	startPage  int
	endPage    int
	batchSize  int
	outputDir  string
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run [terms...]",
		Short: "Harvest the given search terms",
		Long: `Runs a full harvest over the given terms. Final statistics are printed
to stdout as JSON; the exit code is zero even when some terms or items
failed, since the statistics object is the signal.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarvest(cmd, args, flags)
		},
	}

	cmd.Flags().StringVar(&flags.termsFile, "terms-file", "", "file with one search term per line (# comments allowed)")
	cmd.Flags().StringVar(&flags.searchType, "search-type", "", "artifact family, e.g. domestic or overseas")
	cmd.Flags().IntVar(&flags.startPage, "start-page", 0, "first listing page to discover")
	cmd.Flags().IntVar(&flags.endPage, "end-page", 0, "last listing page (0 = through the final page)")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "records per checkpoint batch")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", "", "directory for final artifacts")
	return cmd
}

func runHarvest(cmd *cobra.Command, args []string, flags runFlags) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyRunFlags(&cfg, cmd, flags)

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	terms, err := collectTerms(args, flags.termsFile)
	if err != nil {
		return err
	}
	if len(terms) == 0 {
		return errors.New("no search terms given; pass them as arguments or via --terms-file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, cleanup, err := buildRunner(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	stopServer := startStatusServer(cfg, runner, logger)
	defer stopServer()

	opts := harvest.RunOptions{
		SearchType: cfg.Harvest.SearchType,
		StartPage:  cfg.Harvest.StartPage,
		EndPage:    cfg.Harvest.EndPage,
		BatchSize:  cfg.Harvest.BatchSize,
		OutputDir:  cfg.Harvest.OutputDir,
	}

	stats, runErr := runner.Run(ctx, terms, opts)

	// The shared render resource outlives context cancellation on
	// purpose: a SIGINT must still leave no orphaned browser process.
	browser.ResetShared()

	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run stats: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if runErr != nil && errors.Is(runErr, context.Canceled) {
		logger.Warn("run interrupted; partial statistics printed")
		return nil
	}
	return runErr
}

func applyRunFlags(cfg *config.Config, cmd *cobra.Command, flags runFlags) {
	if cmd.Flags().Changed("search-type") {
		cfg.Harvest.SearchType = flags.searchType
	}
	if cmd.Flags().Changed("start-page") {
		cfg.Harvest.StartPage = flags.startPage
	}
	if cmd.Flags().Changed("end-page") {
		cfg.Harvest.EndPage = flags.endPage
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.Harvest.BatchSize = flags.batchSize
	}
	if cmd.Flags().Changed("output-dir") {
		cfg.Harvest.OutputDir = flags.outputDir
	}
}

func collectTerms(args []string, termsFile string) ([]string, error) {
	terms := make([]string, 0, len(args))
	seen := make(map[string]struct{})
	add := func(term string) {
		term = strings.TrimSpace(term)
		if term == "" || strings.HasPrefix(term, "#") {
			return
		}
		if _, dup := seen[term]; dup {
			return
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}

	for _, a := range args {
		add(a)
	}
	if termsFile != "" {
		f, err := os.Open(termsFile)
		if err != nil {
			return nil, fmt.Errorf("open terms file: %w", err)
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			add(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read terms file: %w", err)
		}
	}
	return terms, nil
}

func buildRunner(ctx context.Context, cfg config.Config, logger *zap.Logger) (*pipeline.Runner, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	pacerOpts := []pacing.Option{}
	if cfg.Pacing.RPS > 0 {
		pacerOpts = append(pacerOpts, pacing.WithLimit(cfg.Pacing.RPS, cfg.Pacing.Burst))
	}
	pacer := pacing.New(
		time.Duration(cfg.Pacing.MinMs)*time.Millisecond,
		time.Duration(cfg.Pacing.MaxMs)*time.Millisecond,
		pacerOpts...,
	)

	adapter, err := static.New(static.Config{
		BaseURL:    cfg.Source.BaseURL,
		SearchPath: cfg.Source.SearchPath,
		UserAgent:  cfg.Source.UserAgent,
		Timeout:    time.Duration(cfg.Source.TimeoutSeconds) * time.Second,
	}, pacer, logger.Named("adapter"))
	if err != nil {
		return nil, nil, fmt.Errorf("init site adapter: %w", err)
	}

	clk := system.New()
	cp, err := checkpoint.New(cfg.Harvest.OutputDir, jsonl.New(logger.Named("sink")), clk, logger.Named("checkpoint"))
	if err != nil {
		return nil, nil, err
	}

	deps := pipeline.Deps{
		Adapter:      adapter,
		Gate:         admission.New(cfg.Harvest.Concurrency),
		Retry:        retry.New(cfg.Retry.MaxAttempts, cfg.Retry.BackoffFactor),
		Pacer:        pacer,
		Checkpointer: cp,
		Clock:        clk,
		IDs:          uuid.NewUUIDGenerator(),
		Logger:       logger.Named("pipeline"),
	}

	if cfg.DB.DSN != "" {
		store, err := postgres.NewRunStore(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("init run store: %w", err)
		}
		cleanups = append(cleanups, store.Close)
		deps.Repository = store
	}

	if cfg.PubSub.ProjectID != "" {
		publisher, err := pubsub.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("init publisher: %w", err)
		}
		cleanups = append(cleanups, func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("publisher close failed", zap.Error(err))
			}
		})
		deps.Publisher = publisher
	}

	runner, err := pipeline.NewRunner(deps)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return runner, cleanup, nil
}

// startStatusServer serves /healthz, /status and /metrics while the run is
// active, when enabled. The returned func shuts the server down.
func startStatusServer(cfg config.Config, runner *pipeline.Runner, logger *zap.Logger) func() {
	if !cfg.Server.Enabled {
		return func() {}
	}

	apiServer := api.NewServer(func() any { return runner.Progress() }, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown error", zap.Error(err))
		}
	}
}
