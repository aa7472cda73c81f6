package bootstrap

import (
	"context"
	"database/sql"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rotisserie/eris"

	"trial-estimator/internal/derive"
	"trial-estimator/internal/documents"
	"trial-estimator/internal/export"
	"trial-estimator/internal/llm"
	"trial-estimator/internal/llm/anthropic"
	"trial-estimator/internal/llm/openai"
	"trial-estimator/internal/queue"
	"trial-estimator/internal/services/health"
	"trial-estimator/internal/shared/config"
	"trial-estimator/internal/shared/server"
	"trial-estimator/internal/shared/storage/db"
	"trial-estimator/internal/shared/storage/object"
	localstore "trial-estimator/internal/shared/storage/object/local"
	s3store "trial-estimator/internal/shared/storage/object/s3"
	"trial-estimator/internal/shared/telemetry"
	"trial-estimator/internal/studies"
	"trial-estimator/internal/workerproc"
)

// dispatcherBuffer bounds the in-process queue when no SQS queue is configured.
const dispatcherBuffer = 64

// App holds shared dependencies.
type App struct {
	Config         config.Config
	Router         *gin.Engine
	DB             *sql.DB
	Store          object.ObjectStore
	Queue          queue.Client
	Dispatcher     *queue.Dispatcher
	LLM            llm.Client
	StudiesRepo    studies.Repo
	Documents      *documents.Service
	StudiesService *studies.Service
	ExportService  *export.Service
	StudyHandler   *studies.Handler
	Health         *health.Service
}

// Build wires every dependency from cfg. Without SQS_QUEUE_URL jobs run on
// an in-process dispatcher that lives until Close.
func Build(cfg config.Config, dbOpts db.Options) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg, dbOpts)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	llmClient, err := NewLLM(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		LLM:    llmClient,
	}
	if sqlDB != nil {
		app.Health = health.NewService(sqlDB)
	} else {
		app.Health = health.NewService(nil)
	}

	buildServices(app)

	if err := buildQueue(ctx, app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:       app.Config,
		Health:       app.Health,
		StudyHandler: app.StudyHandler,
	})

	return app, nil
}

// Close drains the in-process dispatcher and closes the database.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Dispatcher != nil {
		a.Dispatcher.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

func buildDB(ctx context.Context, cfg config.Config, opts db.Options) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.database_memory", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, eris.New("DATABASE_URL is required")
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(opts))
	if err != nil {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.database_memory", map[string]any{"reason": "connect failed", "error": err})
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

// NewLLM returns the configured provider. Dev environments fall back to the
// placeholder when the provider cannot be configured.
func NewLLM(cfg config.Config) (llm.Client, error) {
	var (
		client llm.Client
		err    error
	)
	switch cfg.LLMProvider {
	case "openai":
		client, err = openai.NewClient(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.ExtractionTimeout)
	case "anthropic":
		client, err = anthropic.NewClient(cfg.AnthropicAPIKey, cfg.LLMModel)
	default:
		return llm.PlaceholderClient{}, nil
	}
	if err != nil {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.llm_placeholder", map[string]any{"provider": cfg.LLMProvider, "error": err})
			return llm.PlaceholderClient{}, nil
		}
		return nil, eris.Wrapf(err, "configure %s provider", cfg.LLMProvider)
	}
	return client, nil
}

// buildQueue points the study service at SQS when configured and otherwise
// at an in-process dispatcher that calls the service directly. With the
// dispatcher, jobs left queued by a previous process are sent again.
func buildQueue(ctx context.Context, app *App) error {
	if app.Config.SQSQueueURL != "" {
		client, err := queue.NewSQSClient(ctx, app.Config.AWSRegion, app.Config.SQSQueueURL)
		if err != nil {
			return err
		}
		app.Queue = client
	} else {
		d := queue.NewDispatcher(app.Config.WorkerConcurrency, dispatcherBuffer)
		d.Start(ctx, workerproc.Handler(app.StudiesService))
		app.Dispatcher = d
		app.Queue = d
	}
	app.StudiesService.JobQueue = app.Queue
	if app.Dispatcher != nil {
		if _, err := app.StudiesService.RequeuePending(ctx); err != nil {
			return err
		}
	}
	return nil
}

func buildServices(app *App) {
	if app.DB != nil {
		app.StudiesRepo = &studies.PGRepo{DB: app.DB}
	} else {
		app.StudiesRepo = studies.NewMemoryRepo()
	}

	app.Documents = documents.NewService(app.Store)
	app.StudiesService = &studies.Service{
		Repo: app.StudiesRepo,
		Docs: app.Documents,
		LLM:  app.LLM,
		Assumptions: derive.Assumptions{
			ScreenFailureRate: app.Config.ScreenFailureRate,
			DropoutRate:       app.Config.DropoutRate,
			AssumedEnrollment: app.Config.AssumedEnrollment,
		},
		ExtractionTimeout: app.Config.ExtractionTimeout,
	}
	app.ExportService = &export.Service{
		TemplatePath:          app.Config.TemplatePath,
		WorkOrderTemplatePath: app.Config.WorkOrderTemplatePath,
		Store:                 app.Store,
	}
	app.StudyHandler = studies.NewHandler(app.StudiesService, app.ExportService)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
