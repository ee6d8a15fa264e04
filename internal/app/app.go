package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"NewsDesk/internal/config"
	"NewsDesk/internal/infrastructure/llm"
	"NewsDesk/internal/infrastructure/notify"
	"NewsDesk/internal/infrastructure/queue"
	"NewsDesk/internal/infrastructure/scheduler"
	"NewsDesk/internal/infrastructure/source"
	"NewsDesk/internal/infrastructure/storage"
	"NewsDesk/internal/infrastructure/telegram"
	"NewsDesk/internal/ingest"
	"NewsDesk/internal/logging"
	"NewsDesk/internal/ports"
	"NewsDesk/internal/push"
	"NewsDesk/internal/reader"
	"NewsDesk/internal/server"
	"NewsDesk/internal/usecase"
)

// Service is the long-running half of the pipeline: the push endpoint, the
// review webhook and the reconciliation loop, all sharing one store.
type Service struct {
	cfg    config.Config
	logger *slog.Logger
	db     *sql.DB
	http   *http.Server
	sched  ports.Scheduler
	orch   *usecase.Orchestrator
}

// NewService wires the service from configuration.
func NewService(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Service, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	store := storage.NewPostgresStore(db)

	redrafter, err := llm.NewOpenAIRedrafter(cfg.OpenAI)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("redrafter: %w", err)
	}

	bot := telegram.NewBot(cfg.Telegram.BotToken, cfg.Telegram.AdminChatID, cfg.TargetChannel())

	orch := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Store:      store,
		Redrafter:  redrafter,
		Bot:        bot,
		Channel:    bot,
		Imager:     redrafter,
		Profile:    profileResolver(cfg),
		StuckAfter: cfg.Reconcile.StuckAfter.Std(),
		Logger:     baseLogger.With("component", "review"),
	})

	// With a notify URL configured the hint goes to a separate review
	// deployment; otherwise the orchestrator lives in this process and the
	// hint is delivered directly.
	var notifier ports.Notifier
	if cfg.Ingest.NotifyURL != "" {
		notifier = notify.NewClient(cfg.Ingest.NotifyURL)
	} else {
		notifier = &localNotifier{orch: orch, logger: baseLogger.With("component", "notify")}
	}
	ingestor := usecase.NewIngestor(store, notifier, baseLogger.With("component", "ingestor"))

	srv := server.New(server.Deps{
		Verifier:      push.NewVerifier(cfg.PubSub.Audience),
		Ingestor:      ingestor,
		Reviewer:      orch,
		Answerer:      bot,
		Replier:       bot,
		WebhookSecret: cfg.Telegram.WebhookSecret,
		AdminChatID:   cfg.Telegram.AdminChatID,
		Logger:        baseLogger.With("component", "http"),
	})

	return &Service{
		cfg:    cfg,
		logger: baseLogger.With("component", "app"),
		db:     db,
		http: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		sched: scheduler.NewTickerScheduler(cfg.Reconcile.Interval.Std()),
		orch:  orch,
	}, nil
}

// Run serves HTTP until the context is canceled, with the reconciliation
// ticker running alongside.
func (s *Service) Run(ctx context.Context) error {
	if err := s.sched.Start(ctx, func(time.Time) { s.orch.Reconcile(ctx) }); err != nil {
		return fmt.Errorf("start reconcile loop: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := s.http.Shutdown(shutdownCtx)
		s.close(shutdownCtx)
		return err
	case err := <-errCh:
		s.close(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Service) close(ctx context.Context) {
	_ = s.sched.Stop(ctx)
	if err := s.db.Close(); err != nil {
		s.logger.Warn("close store", "error", err)
	}
}

// IngestJob is the one-shot half of the pipeline: read every enabled source
// once and hand new messages to the queue.
type IngestJob struct {
	logger   *slog.Logger
	db       *sql.DB
	producer *queue.Producer
	driver   *ingest.Driver
}

// NewIngestJob wires the ingestion run from configuration.
func NewIngestJob(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*IngestJob, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	producer, err := queue.NewProducer(ctx, cfg.PubSub.Project, cfg.PubSub.Topic)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue producer: %w", err)
	}

	registry := reader.NewRegistry()
	registry.Register(source.NewPreviewReader(nil))

	driver := ingest.NewDriver(ingest.DriverDeps{
		Sources:   cfg.Sources,
		MaxPerRun: cfg.Ingest.MaxPerRun,
		Lookback:  cfg.Ingest.Lookback.Std(),
		Registry:  registry,
		Offsets:   storage.NewPostgresStore(db),
		Queue:     producer,
		Logger:    baseLogger.With("component", "ingest"),
	})

	return &IngestJob{
		logger:   baseLogger.With("component", "app"),
		db:       db,
		producer: producer,
		driver:   driver,
	}, nil
}

// Run performs a single ingestion pass and releases all resources.
func (j *IngestJob) Run(ctx context.Context) error {
	defer func() {
		if err := j.producer.Close(); err != nil {
			j.logger.Warn("close queue producer", "error", err)
		}
		if err := j.db.Close(); err != nil {
			j.logger.Warn("close store", "error", err)
		}
	}()

	return j.driver.Run(ctx)
}

// profileResolver maps a source id to its redraft instruction.
func profileResolver(cfg config.Config) func(string) string {
	byID := make(map[string]string, len(cfg.Sources))
	for _, src := range cfg.Sources {
		byID[src.ID] = src.Profile
	}
	return func(sourceID string) string {
		return cfg.ProfileFor(byID[sourceID])
	}
}

// localNotifier delivers new-draft hints in-process. The redraft runs off the
// push request's context so the queue gets its 200 without waiting on the AI
// call; reconciliation covers hints lost to a crash.
type localNotifier struct {
	orch   *usecase.Orchestrator
	logger *slog.Logger
}

var _ ports.Notifier = (*localNotifier)(nil)

func (n *localNotifier) NotifyNewDraft(ctx context.Context, draftID string) error {
	go func() {
		hintCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()
		if _, err := n.orch.HandleNewDraft(hintCtx, draftID); err != nil {
			n.logger.Warn("new draft hint failed", "draft_id", draftID, "error", err)
		}
	}()
	return nil
}
