package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"DigestCurator/internal/config"
	"DigestCurator/internal/domain"
	"DigestCurator/internal/infrastructure/httpapi"
	"DigestCurator/internal/infrastructure/llm"
	"DigestCurator/internal/infrastructure/mailer"
	"DigestCurator/internal/infrastructure/markdown"
	"DigestCurator/internal/infrastructure/parser"
	"DigestCurator/internal/infrastructure/scheduler"
	"DigestCurator/internal/infrastructure/storage"
	"DigestCurator/internal/infrastructure/telegram"
	"DigestCurator/internal/infrastructure/youtube"
	"DigestCurator/internal/logging"
	"DigestCurator/internal/ports"
	"DigestCurator/internal/scanner"
	"DigestCurator/internal/supervisor"
	"DigestCurator/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger
	repo   *storage.Repository
	ledger *storage.Ledger
	runner *usecase.Runner
}

// New opens the datastore. Pipeline collaborators are built on first use.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	repo, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}

	return &Application{
		cfg:    cfg,
		logger: baseLogger,
		repo:   repo,
		ledger: storage.NewLedger(repo, baseLogger.With("component", "ledger")),
	}, nil
}

// Close releases the datastore.
func (a *Application) Close() error {
	return a.repo.Close()
}

// Runner returns the single-flight pipeline runner, building it on first call.
func (a *Application) Runner() (*usecase.Runner, error) {
	if a.runner != nil {
		return a.runner, nil
	}
	pipeline, err := a.buildPipeline()
	if err != nil {
		return nil, err
	}
	a.runner = usecase.NewRunner(pipeline, a.logger.With("component", "runner"))
	return a.runner, nil
}

func (a *Application) buildPipeline() (*usecase.Pipeline, error) {
	cfg := a.cfg
	log := a.logger

	if cfg.SMTP.Host == "" || cfg.SMTP.From == "" {
		return nil, errors.New("smtp host and from address are required to deliver digests")
	}

	provider := llm.NewOpenAIProvider(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout(), nil)
	completer, err := llm.NewClient(provider, cfg.LLM.APIKeys, llm.Options{
		MaxAttempts: cfg.LLM.MaxAttempts,
		MinBackoff:  cfg.LLM.MinBackoff(),
		MaxBackoff:  cfg.LLM.MaxBackoff(),
		Logger:      log.With("component", "llm"),
	})
	if err != nil {
		return nil, fmt.Errorf("completion client: %w", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	registry := scanner.NewRegistry(
		parser.NewArxivScanner(httpClient, log.With("component", "scanner.arxiv")),
		parser.NewRSSScanner(httpClient, log.With("component", "scanner.rss")),
		parser.NewYouTubeScanner(httpClient, log.With("component", "scanner.youtube")),
	)
	source := parser.NewStrategySource(registry, cfg.Sites, log.With("component", "source"))

	sender := mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		UseTLS:   cfg.SMTP.UseTLS,
	})
	mail := mailer.New(sender, mailer.Options{
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
		Logger:   log.With("component", "mailer"),
	})

	var notifier ports.Notifier
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" {
		n, err := telegram.NewNotifier(tg.BotToken, tg.ChatID, telegram.Options{Logger: log.With("component", "telegram")})
		if err != nil {
			log.Warn("telegram notifier disabled", "error", err)
		} else {
			notifier = n
		}
	}

	return usecase.NewPipeline(usecase.PipelineDeps{
		Store:    a.repo,
		Runs:     a.repo,
		Markers:  a.repo,
		Digests:  a.repo,
		Users:    a.repo,
		Ledger:   a.ledger,
		Ranker:   usecase.NewRankingEngine(completer, cfg.LLM.Temperature, log.With("component", "ranking")),
		Mailer:   mail,
		Notifier: notifier,
		Ingest:   usecase.NewIngestStage(source, a.repo, cfg.Pipeline.Lookback(), log.With("component", "ingest")),
		Enrich:   usecase.NewEnrichStage(a.repo, markdown.NewFetcher(httpClient), cfg.Pipeline.EnrichBatchSize, log.With("component", "enrich")),
		Transcripts: usecase.NewTranscriptStage(a.repo, youtube.NewTranscriptClient(httpClient, youtube.Options{}),
			cfg.Pipeline.EnrichBatchSize, log.With("component", "transcripts")),
		Summarize: usecase.NewSummarizeStage(a.repo, a.repo, completer, cfg.Pipeline.SummarizeBatchSize, log.With("component", "summarize")),
		Settings: usecase.PipelineSettings{
			Lookback:       cfg.Pipeline.Lookback(),
			IngestCooldown: cfg.Pipeline.IngestCooldown(),
			SendLimit:      cfg.Pipeline.SendLimit,
			UserDelay:      cfg.Pipeline.UserDelay(),
		},
		Logger: log.With("component", "pipeline"),
	}), nil
}

// RunOnce executes a single cycle in the foreground.
func (a *Application) RunOnce(ctx context.Context, forceIngest bool) (domain.PipelineRun, error) {
	runner, err := a.Runner()
	if err != nil {
		return domain.PipelineRun{}, err
	}
	return runner.RunNow(ctx, usecase.RunOptions{ForceIngest: forceIngest})
}

// Serve runs the HTTP surface and the daily scheduler until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	runner, err := a.Runner()
	if err != nil {
		return err
	}
	cfg := a.cfg
	shutdown := time.Duration(cfg.Server.ShutdownSeconds) * time.Second

	tree := supervisor.NewTree(a.logger.With("component", "supervisor"), supervisor.TreeConfig{ShutdownTimeout: shutdown + time.Second})

	router := httpapi.NewRouter(httpapi.Deps{
		Trigger:          runner,
		Runs:             a.repo,
		Health:           a.repo,
		Secret:           cfg.Server.TriggerSecret,
		TriggerPerMinute: cfg.Server.TriggerPerMin,
		Logger:           a.logger.With("component", "http"),
	})
	server := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.Add(supervisor.NewHTTPServerService(server, shutdown))

	if cfg.Scheduler.Enabled {
		driver, err := scheduler.NewDailyScheduler(cfg.Scheduler.DailyTime, cfg.Scheduler.Location(), a.logger.With("component", "scheduler"))
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		tree.Add(supervisor.NewSchedulerService(usecase.NewScheduler(driver, runner, a.logger.With("component", "scheduler"))))
	}
	tree.Add(supervisor.NewDrainService(runner.Wait, shutdown))

	if cfg.Server.TriggerSecret == "" {
		a.logger.Warn("trigger endpoint is not protected, set CRON_SECRET")
	}
	a.logger.Info("serving", "addr", cfg.Server.ListenAddress, "scheduler", cfg.Scheduler.Enabled, "daily_time", cfg.Scheduler.DailyTime)
	return tree.Serve(ctx)
}

// Status reports the latest run.
func (a *Application) Status(ctx context.Context) (usecase.StatusSnapshot, error) {
	return usecase.LatestStatus(ctx, a.repo)
}

// CheckIntegrity audits the ledger for orphans and optionally removes them.
func (a *Application) CheckIntegrity(ctx context.Context, fix bool) (usecase.IntegrityReport, error) {
	return usecase.NewIntegrityChecker(a.ledger, a.logger.With("component", "integrity")).Check(ctx, fix)
}

// AddUser creates or updates a subscriber.
func (a *Application) AddUser(ctx context.Context, u domain.User) (domain.User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if err := validator.New().Var(u.Email, "required,email"); err != nil {
		return domain.User{}, fmt.Errorf("invalid email %q", u.Email)
	}
	return a.repo.SaveUser(ctx, u)
}
