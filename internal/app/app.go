// Package app is the composition root: it wires storage, the anti-detection
// substrate, rate limiters, browser drivers, the scraping engine, the AI
// processor, the duplicate detector, and the monitoring core into one App,
// wiring order: config load, storage, clients, services, App struct.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aptiscout/aptiscout/internal/aiprocessor"
	"github.com/aptiscout/aptiscout/internal/antidetect"
	"github.com/aptiscout/aptiscout/internal/browser"
	"github.com/aptiscout/aptiscout/internal/clients/gemini"
	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/dedup"
	"github.com/aptiscout/aptiscout/internal/engine"
	"github.com/aptiscout/aptiscout/internal/extractors"
	"github.com/aptiscout/aptiscout/internal/interfaces"
	"github.com/aptiscout/aptiscout/internal/models"
	"github.com/aptiscout/aptiscout/internal/monitoring"
	"github.com/aptiscout/aptiscout/internal/ratelimit"
	"github.com/aptiscout/aptiscout/internal/storage/surrealdb"
)

// App holds every initialized component and is the shared core used by
// cmd/aptiscout-server.
type App struct {
	Config    *common.Config
	Logger    *common.Logger
	Storage   interfaces.StorageManager
	AIClient  interfaces.AICapabilityClient
	Substrate *antidetect.Substrate
	Engine    *engine.Engine
	Processor *aiprocessor.Processor
	Detector  *dedup.Detector
	Bus       *monitoring.EventBus
	Registry  *monitoring.Registry
	Hub       *monitoring.StreamHub
	Alerts    *monitoring.AlertManager
	Health    *monitoring.HealthBuilder

	StartupTime time.Time

	bucketLoopCancel context.CancelFunc
	alertLoopCancel  context.CancelFunc
}

// getBinaryDir returns the directory containing the executable, so a config
// file placed alongside a self-contained binary is found without an
// explicit -config flag or environment variable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp loads configuration, connects storage, wires every C1-C9 component,
// and seeds the default source catalog. configPath may be empty, in which
// case APTISCOUT_CONFIG, the binary directory, and ./config are tried in order.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	common.LoadVersionFromFile()
	binDir := getBinaryDir()

	if configPath == "" {
		configPath = os.Getenv("APTISCOUT_CONFIG")
	}
	if configPath == "" {
		candidate := filepath.Join(binDir, "aptiscout.toml")
		if _, err := os.Stat(candidate); err == nil {
			configPath = candidate
		} else {
			configPath = "config/aptiscout.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLogger(config.Logging.Level)

	storageManager, err := surrealdb.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	ctx := context.Background()

	geminiKey, keyErr := common.ResolveAPIKey("gemini_api_key", config.AI.APIKey)
	var aiClient interfaces.AICapabilityClient
	if keyErr != nil {
		logger.Warn().Msg("Gemini API key not configured - AI enrichment will downgrade every record to human_review")
	} else {
		client, err := gemini.NewClient(ctx, geminiKey,
			gemini.WithLogger(logger),
			gemini.WithModel(config.AI.Model),
		)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize Gemini client - AI enrichment will downgrade every record to human_review")
		} else {
			aiClient = client
		}
	}

	substrate := antidetect.NewSubstrate(logger)

	bus := monitoring.NewEventBus(config.Monitoring.EventRingSize, storageManager.EventStore(), logger)
	registry := monitoring.NewRegistry(
		time.Duration(config.Monitoring.MetricBucketSeconds)*time.Second,
		time.Duration(config.Monitoring.MetricRetentionMinutes)*time.Minute,
		storageManager.MetricStore(),
		logger,
	)
	hub := monitoring.NewStreamHub(bus, registry, logger)

	reliabilityFn := func(sourceID string) float64 {
		cfg, err := storageManager.SourceStore().FindByID(ctx, sourceID)
		if err != nil || cfg == nil {
			return 0
		}
		return cfg.ReliabilityScore
	}
	detector := dedup.NewDetector(storageManager.DuplicateStore(), logger, dedup.DefaultConfig(), reliabilityFn)

	thresholdResolver := func(sourceID string) models.QualityThresholds {
		cfg, err := storageManager.SourceStore().FindByID(ctx, sourceID)
		if err != nil || cfg == nil {
			return models.DefaultQualityThresholds()
		}
		return cfg.QualityThresholds
	}

	procCfg := aiprocessor.DefaultConfig()
	procCfg.BatchSize = config.AI.BatchSize
	processor := aiprocessor.NewProcessor(aiClient, detector, storageManager.QuestionStore(), thresholdResolver, bus, logger, procCfg)

	driverTimeouts := browser.DefaultTimeouts()
	driverFactory := engine.DriverFactory(func(method models.ExtractionMethod) (interfaces.Driver, error) {
		switch method {
		case models.ExtractionStaticDOM:
			return browser.NewStaticDriver(driverTimeouts), nil
		case models.ExtractionDynamicJS:
			return browser.NewDynamicDriver(driverTimeouts, ""), nil
		default:
			return nil, common.NewError(common.KindInvariant, fmt.Sprintf("unknown extraction method %q", method))
		}
	})

	limiterFactory := engine.RateLimiterFactory(func(params models.RateLimitParams) interfaces.RateLimiter {
		return ratelimit.FromParams(params)
	})

	engineCfg := engine.Config{
		GlobalConcurrency:        config.Scraping.GlobalConcurrency,
		StaticSourceConcurrency:  config.Scraping.StaticSourceConcurrency,
		DynamicSourceConcurrency: config.Scraping.DynamicSourceConcurrency,
		CancelGraceSeconds:       config.Scraping.GraceWindowSeconds,
		IdleQuorumTicks:          config.Scraping.IdleQuorumTicks,
	}
	eng := engine.NewEngine(storageManager, substrate, extractors.NewDOMExtractor(), driverFactory, limiterFactory, processor, bus, registry, logger, engineCfg)

	channels := map[string]monitoring.NotificationChannel{
		"log": monitoring.NewLogChannel(logger),
	}
	alertMgr := monitoring.NewAlertManager(registry, bus, hub, storageManager.AlertStore(), channels,
		time.Duration(config.Monitoring.AlertEvalSeconds)*time.Second, logger)
	for _, rule := range defaultAlertRules() {
		if err := alertMgr.AddRule(rule); err != nil {
			logger.Warn().Err(err).Str("rule", rule.Name).Msg("failed to register alert rule")
		}
	}

	health := monitoring.NewHealthBuilder(storageManager.JobStore(), storageManager.QuestionStore(), storageManager.DuplicateStore(), registry, alertMgr)

	a := &App{
		Config:      config,
		Logger:      logger,
		Storage:     storageManager,
		AIClient:    aiClient,
		Substrate:   substrate,
		Engine:      eng,
		Processor:   processor,
		Detector:    detector,
		Bus:         bus,
		Registry:    registry,
		Hub:         hub,
		Alerts:      alertMgr,
		Health:      health,
		StartupTime: startupStart,
	}

	if err := a.seedDefaultSources(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to seed default source catalog")
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// defaultAlertRules seeds an error-rate rule with hysteresis, plus a
// backpressure rule for the monitoring dashboards.
func defaultAlertRules() []models.AlertRule {
	return []models.AlertRule{
		{
			Name:                 "high_error_rate",
			Expression:           "rate(driver_errors_total[5m]) > 0.1",
			For:                  60 * time.Second,
			Severity:             models.SeverityWarning,
			NotificationChannels: []string{"log"},
		},
		{
			Name:                 "backpressure_engaged",
			Expression:           "rate(backpressure_engaged_total[1m]) > 0",
			For:                  30 * time.Second,
			Severity:             models.SeverityInfo,
			NotificationChannels: []string{"log"},
		},
	}
}

// Start launches the engine's worker pool, the AI processor's batch dispatch
// loop, the monitoring metric bucket loop, the alert evaluation loop, and the
// live stream hub.
func (a *App) Start(ctx context.Context) {
	a.Engine.Start(ctx)
	a.Processor.Start(ctx)

	bucketCtx, bucketCancel := context.WithCancel(ctx)
	a.bucketLoopCancel = bucketCancel
	go a.Registry.RunBucketLoop(bucketCtx)

	alertCtx, alertCancel := context.WithCancel(ctx)
	a.alertLoopCancel = alertCancel
	go a.Alerts.Run(alertCtx)

	go a.Hub.Run()

	a.Logger.Info().Msg("scraping pipeline started")
}

// Close releases every resource held by the App, in
// stop-producers-before-storage shutdown order.
func (a *App) Close() {
	if a.bucketLoopCancel != nil {
		a.bucketLoopCancel()
	}
	if a.alertLoopCancel != nil {
		a.alertLoopCancel()
	}
	if a.Processor != nil {
		a.Processor.Stop()
	}
	if a.Engine != nil {
		a.Engine.Stop()
	}
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if client, ok := a.AIClient.(interface{ Close() error }); ok && client != nil {
		_ = client.Close()
	}
	if a.Storage != nil {
		_ = a.Storage.Close()
		a.Storage = nil
	}
}

// seedDefaultSources writes the two built-in SourceConfigs (static-DOM quiz
// list, dynamic-JS infinite-scroll articles) if the catalog is empty, so a
// freshly-provisioned deployment has something to point a JobSpec at.
func (a *App) seedDefaultSources(ctx context.Context) error {
	existing, err := a.Storage.SourceStore().List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, cfg := range defaultSourceConfigs(a.Config) {
		if err := a.Storage.SourceStore().Upsert(ctx, &cfg); err != nil {
			return err
		}
	}
	return nil
}

// defaultSourceConfigs returns the seed catalog: two
// reference sources: a paginated static-DOM quiz list and an infinite-scroll
// dynamic-JS article source.
func defaultSourceConfigs(config *common.Config) []models.SourceConfig {
	now := time.Now()
	thresholds := models.DefaultQualityThresholds()
	rateParams := models.RateLimitParams{
		Permits:         config.RateLimit.DefaultPermits,
		WindowSeconds:   config.RateLimit.DefaultWindowSeconds,
		BackoffBase:     2.0,
		MinIntervalMS:   config.RateLimit.MinIntervalMS,
		MaxIntervalMS:   config.RateLimit.MaxIntervalMS,
		ErrorRateTarget: config.RateLimit.ErrorRateTarget,
	}
	antiDetect := models.AntiDetectParams{
		RiskThreshold:    config.AntiDetect.RiskThreshold,
		CooldownSeconds:  config.AntiDetect.CooldownSeconds,
		RiskHalfLifeSecs: config.AntiDetect.RiskHalfLifeSecs,
	}

	return []models.SourceConfig{
		{
			SourceID:    "staticsrc",
			Version:     1,
			DisplayName: "StaticSrc",
			Method:      models.ExtractionStaticDOM,
			BaseURL:     "https://example-quiz-source.test",
			Targets: []models.Target{
				{
					ID:             "staticsrc-logical",
					Category:       "logical",
					DifficultyHint: "medium",
					EntryURL:       "https://example-quiz-source.test/quiz/logical-reasoning/1",
					Pagination:     models.PaginationNextLink,
					Selectors: models.SelectorSet{
						Question:      ".question-block .q-text",
						Options:       []string{".question-block .option"},
						CorrectAnswer: ".question-block .correct-answer",
						Explanation:   ".question-block .explanation",
					},
					Constraints: models.ExtractionConstraints{MinCount: 1, MaxCount: 50},
				},
			},
			RateLimit:         rateParams,
			AntiDetect:        antiDetect,
			QualityThresholds: thresholds,
			Enabled:           true,
			ReliabilityScore:  0.8,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
		{
			SourceID:    "dynamicsrc",
			Version:     1,
			DisplayName: "DynamicSrc",
			Method:      models.ExtractionDynamicJS,
			BaseURL:     "https://example-article-source.test",
			Targets: []models.Target{
				{
					ID:             "dynamicsrc-verbal",
					Category:       "verbal",
					DifficultyHint: "hard",
					EntryURL:       "https://example-article-source.test/articles/interview-questions",
					Pagination:     models.PaginationInfiniteScroll,
					MaxSteps:       5,
					Selectors: models.SelectorSet{
						Question:      "article .qa-question",
						Options:       []string{"article .qa-option"},
						CorrectAnswer: "article .qa-answer",
						Explanation:   "article .qa-explanation",
					},
					Constraints: models.ExtractionConstraints{MinCount: 1, MaxCount: 50},
				},
			},
			RateLimit:         rateParams,
			AntiDetect:        antiDetect,
			QualityThresholds: thresholds,
			Enabled:           true,
			ReliabilityScore:  0.6,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
	}
}
