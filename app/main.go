package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lysyi3m/rss-planner/app/activity"
	"github.com/lysyi3m/rss-planner/app/api"
	"github.com/lysyi3m/rss-planner/app/cfg"
	"github.com/lysyi3m/rss-planner/app/database"
	"github.com/lysyi3m/rss-planner/app/feed"
	"github.com/lysyi3m/rss-planner/app/metrics"
	"github.com/lysyi3m/rss-planner/app/rules"
	"github.com/lysyi3m/rss-planner/app/seed"
	"github.com/lysyi3m/rss-planner/app/tasks"
	"github.com/lysyi3m/rss-planner/app/webhook"
)

func main() {
	appCfg, err := cfg.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if appCfg == nil {
		return
	}

	setupLogging(appCfg.Debug)

	if err := run(appCfg); err != nil {
		slog.Error("Fatal error", "command", string(appCfg.Command), "error", err)
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func run(appCfg *cfg.Cfg) error {
	slog.Info("Starting RSS Planner", "version", appCfg.Version, "command", string(appCfg.Command))

	db, err := database.Open(appCfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	schema, err := database.MigrateUp(db)
	if err != nil {
		return err
	}
	if schema.Applied() {
		slog.Info("Database schema migrated", "from", schema.From, "to", schema.To)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", schema.To)

	if appCfg.Command == cfg.CommandMigrate {
		return nil
	}

	a := newApplication(appCfg, db)

	switch appCfg.Command {
	case cfg.CommandFetch:
		return a.fetchOnce()
	case cfg.CommandValidate:
		return a.validate(appCfg.ValidateURL)
	default:
		return a.serve()
	}
}

// application holds the wired components shared by all commands.
type application struct {
	cfg        *cfg.Cfg
	registry   *prometheus.Registry
	recorder   *activity.Log
	feeds      database.FeedRepository
	webhooks   database.WebhookRepository
	rules      database.RuleRepository
	executions database.ExecutionRepository
	logs       database.LogRepository
	validator  *feed.Validator
	dispatcher *webhook.Dispatcher
	callbacks  *webhook.CallbackHandler
	processor  *tasks.FeedProcessor
	metrics    *metrics.Metrics
}

func newApplication(appCfg *cfg.Cfg, db *database.DB) *application {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	feedRepo := database.NewFeedRepository(db)
	webhookRepo := database.NewWebhookRepository(db)
	ruleRepo := database.NewRuleRepository(db)
	executionRepo := database.NewExecutionRepository(db)
	logRepo := database.NewLogRepository(db)
	content := database.NewContentStore(db)

	recorder := activity.New(logRepo, database.LogLevel(appCfg.ActivityLogLevel))

	client := feed.DefaultHTTPClient()
	fetcher := feed.NewFetcher(client, appCfg.UserAgent, appCfg.FetchTimeout)
	parser := feed.NewParser()
	poller := feed.NewPoller(feedRepo, fetcher, parser, recorder, m)
	dedup := feed.NewDeduplicator(content, appCfg.HashDedup)
	extractor := feed.NewContentExtractor(client, appCfg.UserAgent, appCfg.FetchTimeout)

	dispatcher := webhook.NewDispatcher(webhookRepo, executionRepo, content, webhook.DispatcherOptions{
		CallbackURL: appCfg.CallbackURL(),
		UserAgent:   appCfg.UserAgent,
		Client:      &http.Client{},
		Limiter:     webhook.NewRateLimiter(appCfg.DispatchRate, appCfg.DispatchWindow),
		Retries:     appCfg.DispatchRetries,
	}, recorder, m)

	callbacks := webhook.NewCallbackHandler(webhookRepo, executionRepo, content, recorder, m,
		webhook.ContentListenerFunc(func(ctx context.Context, postID, itemID int64, execution *database.Execution) {
			slog.InfoContext(ctx, "Draft post created", "post_id", postID, "item_id", itemID,
				"execution_id", execution.ExecutionID, "webhook_id", execution.WebhookID)
		}),
	)

	engine := rules.NewEngine(ruleRepo, content, dispatcher, recorder, m)
	processor := tasks.NewFeedProcessor(poller, dedup, content, engine, extractor, appCfg.MaxItemsPerFetch, recorder, m)

	return &application{
		cfg:        appCfg,
		registry:   registry,
		recorder:   recorder,
		feeds:      feedRepo,
		webhooks:   webhookRepo,
		rules:      ruleRepo,
		executions: executionRepo,
		logs:       logRepo,
		validator:  feed.NewValidator(fetcher, parser),
		dispatcher: dispatcher,
		callbacks:  callbacks,
		processor:  processor,
		metrics:    m,
	}
}

func (a *application) seedTask() *tasks.SyncSeedTask {
	return tasks.NewSyncSeedTask(seed.NewLoader(a.cfg.SeedDir), seed.NewSyncer(a.feeds, a.webhooks, a.rules))
}

func (a *application) serve() error {
	scheduler := tasks.NewScheduler(a.feeds, a.processor, tasks.SchedulerOptions{
		Schedule:    a.cfg.Schedule,
		BatchSize:   a.cfg.BatchSize,
		WorkerCount: a.cfg.WorkerCount,
	}, a.metrics)

	slog.Info("Starting background scheduler", "workers", a.cfg.WorkerCount, "schedule", a.cfg.Schedule)
	if err := scheduler.Start(a.seedTask()); err != nil {
		return err
	}
	defer scheduler.Stop()

	handler := api.NewHandler(api.Deps{
		Feeds:      a.feeds,
		Webhooks:   a.webhooks,
		Rules:      a.rules,
		Executions: a.executions,
		Logs:       a.logs,
		Validator:  a.validator,
		Dispatcher: a.dispatcher,
		Callbacks:  a.callbacks,
		Scheduler:  scheduler,
		Recorder:   a.recorder,
		Version:    a.cfg.Version,
	})

	httpServer := &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      api.NewServer(handler, a.cfg.APIAccessKey, a.registry),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", a.cfg.Port, "callback_url", a.cfg.CallbackURL())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case serveErr = <-serverErrChan:
		slog.Error("Server error", "error", serveErr)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	return serveErr
}

// fetchOnce syncs the seed directory and processes every due feed inline.
func (a *application) fetchOnce() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.seedTask().Execute(ctx); err != nil {
		return err
	}

	reports, err := a.processor.ProcessDue(ctx, a.feeds, a.cfg.BatchSize)
	renderFetchReports(os.Stdout, reports)
	return err
}

func (a *application) validate(rawURL string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := a.validator.Validate(ctx, rawURL)
	renderValidation(os.Stdout, rawURL, result, err)
	return err
}
