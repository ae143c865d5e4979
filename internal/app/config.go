package app

import (
	"time"

	"github.com/yungbote/storyforge-backend/internal/data/db"
	"github.com/yungbote/storyforge-backend/internal/jobs/worker"
	"github.com/yungbote/storyforge-backend/internal/modules/generation"
	"github.com/yungbote/storyforge-backend/internal/platform/envutil"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
	"github.com/yungbote/storyforge-backend/internal/platform/openai"
	"github.com/yungbote/storyforge-backend/internal/realtime"
	"github.com/yungbote/storyforge-backend/internal/temporalx"
)

type Config struct {
	Port        string
	ServiceName string
	Environment string
	Version     string
	CORSOrigins []string

	DB       db.Config
	OpenAI   openai.Config
	Temporal temporalx.Config
	Worker   worker.Config

	Hub            realtime.HubConfig
	EventKeepAlive time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string
	RunLockTTL    time.Duration

	// ImageBucket enables mirroring of inline image results to GCS.
	ImageBucket    string
	ImageModels    generation.ImageModels
	HeartbeatEvery time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	hub := realtime.DefaultHubConfig()
	hub.HistoryLimit = envutil.Int("EVENT_HISTORY_LIMIT", hub.HistoryLimit)
	hub.TTL = envutil.Seconds("EVENT_TTL_SECONDS", hub.TTL)

	oc := openai.ConfigFromEnv()
	cfg := Config{
		Port:        envutil.String("PORT", "8080"),
		ServiceName: envutil.String("OTEL_SERVICE_NAME", "storyforge"),
		Environment: envutil.String("ENVIRONMENT", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
		CORSOrigins: envutil.CSV("CORS_ALLOWED_ORIGINS"),

		DB:       db.ConfigFromEnv(),
		OpenAI:   oc,
		Temporal: temporalx.LoadConfig(),
		Worker:   worker.ConfigFromEnv(),

		Hub:            hub,
		EventKeepAlive: envutil.Seconds("EVENT_KEEPALIVE_SECONDS", 15*time.Second),

		RedisAddr:     envutil.String("REDIS_ADDR", ""),
		RedisPassword: envutil.String("REDIS_PASSWORD", ""),
		RedisDB:       envutil.Int("REDIS_DB", 0),
		RedisChannel:  envutil.String("REDIS_CHANNEL", "storyforge:events"),
		RunLockTTL:    envutil.Seconds("RUN_LOCK_TTL_SECONDS", 30*time.Second),

		ImageBucket:    envutil.String("IMAGE_BUCKET_NAME", ""),
		ImageModels:    generation.ImageModelsFromEnv(oc.ImageModel),
		HeartbeatEvery: envutil.Seconds("TASK_HEARTBEAT_SECONDS", 10*time.Second),
	}
	// Temporal executes runs; the local pool only sweeps.
	cfg.Worker.SweepOnly = cfg.Temporal.Enabled()

	log.Info("Configuration loaded",
		"port", cfg.Port,
		"db_driver", cfg.DB.Driver,
		"redis", cfg.RedisAddr != "",
		"temporal", cfg.Temporal.Enabled(),
		"image_bucket", cfg.ImageBucket,
		"image_models", cfg.ImageModels.IDs(),
		"worker_concurrency", cfg.Worker.Concurrency,
	)
	return cfg
}
