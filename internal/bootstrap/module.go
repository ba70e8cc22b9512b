package bootstrap

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"deltadrift/internal/bootstrap/config"
	"deltadrift/internal/bootstrap/database"
	"deltadrift/internal/bootstrap/logging"
	"deltadrift/internal/infrastructure/githubapi"
	"deltadrift/internal/infrastructure/mirror"
	sqliterepo "deltadrift/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "deltadrift/internal/infrastructure/persistence/sqlite/uow"
	"deltadrift/internal/infrastructure/queue"
	"deltadrift/internal/ports"
	"deltadrift/internal/usecase/analysis"
	"deltadrift/internal/usecase/webhook"
)

// Services bundles the use-case layer for commands that resolve the full
// graph through fx.
type Services struct {
	fx.In

	Webhook  *webhook.Service
	Analysis *analysis.Service
	Runner   *analysis.Runner
	GitHub   ports.SourceControl
	Queue    *queue.NATSQueue
}

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewDirectoryRepository,
			fx.As(new(ports.DirectoryRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewDriftRepository,
			fx.As(new(ports.DriftEventRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(provideMirror),
	fx.Provide(provideGitHub),
	fx.Provide(provideQueue),
	fx.Provide(webhook.NewService),
	fx.Provide(analysis.NewService),
	fx.Provide(provideRunner),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

func provideMirror(cfg config.Config) ports.Mirror {
	return mirror.NewManager(cfg.Mirror)
}

// provideGitHub builds the lazy GitHub client; the app key is not touched
// until a command performs its first API call.
func provideGitHub(cfg config.Config) ports.SourceControl {
	return githubapi.NewClient(cfg.GitHub)
}

// provideQueue wires the lazy NATS queue; no connection is made until a
// command actually publishes or subscribes.
func provideQueue(lc fx.Lifecycle, cfg config.Config) (*queue.NATSQueue, ports.JobQueue) {
	q := queue.NewNATSQueue(cfg.Queue)
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			q.Close()
			return nil
		},
	})
	return q, q
}

func provideRunner(q *queue.NATSQueue, svc *analysis.Service, cfg config.Config) *analysis.Runner {
	return analysis.NewRunner(q, svc, cfg.Worker.Count)
}
