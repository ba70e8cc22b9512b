package config

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"deltadrift/internal/bootstrap/logging"
	"deltadrift/internal/errs"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type GitHubConfig struct {
	AppID          int64  `mapstructure:"app_id"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	WebhookSecret  string `mapstructure:"webhook_secret"`
	// APIBaseURL overrides api.github.com, for GitHub Enterprise or tests.
	APIBaseURL string `mapstructure:"api_base_url"`
}

type MirrorConfig struct {
	BasePath            string `mapstructure:"base_path"`
	CloneTimeoutSeconds int    `mapstructure:"clone_timeout_seconds"`
	SyncTimeoutSeconds  int    `mapstructure:"sync_timeout_seconds"`
	DiffTimeoutSeconds  int    `mapstructure:"diff_timeout_seconds"`
}

type QueueConfig struct {
	URL     string `mapstructure:"url"`
	Stream  string `mapstructure:"stream"`
	Subject string `mapstructure:"subject"`
	Durable string `mapstructure:"durable"`
}

type WorkerConfig struct {
	Count int `mapstructure:"count"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			// Keep default and env-backed config when no file is provided.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if cfg.Database.DSN == "" {
		return Config{}, errors.New("database.dsn is required")
	}
	if strings.TrimSpace(cfg.GitHub.WebhookSecret) == "" {
		return Config{}, errors.New("github.webhook_secret is required")
	}
	if cfg.Mirror.BasePath == "" {
		return Config{}, errors.New("mirror.base_path is required")
	}
	if cfg.Worker.Count < 1 {
		cfg.Worker.Count = 1
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("mirror_base_path", cfg.Mirror.BasePath),
		slog.Int("worker_count", cfg.Worker.Count),
	)

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "deltadrift")
	v.SetDefault("app.env", "local")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".state/deltadrift.sqlite")
	v.SetDefault("github.api_base_url", "")
	v.SetDefault("mirror.base_path", ".state/repos")
	v.SetDefault("mirror.clone_timeout_seconds", 1000)
	v.SetDefault("mirror.sync_timeout_seconds", 120)
	v.SetDefault("mirror.diff_timeout_seconds", 60)
	v.SetDefault("queue.url", "nats://127.0.0.1:4222")
	v.SetDefault("queue.stream", "DRIFT_JOBS")
	v.SetDefault("queue.subject", "drift.jobs.analysis")
	v.SetDefault("queue.durable", "drift-workers")
	v.SetDefault("worker.count", 2)
}
