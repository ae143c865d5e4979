package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/storyforge-backend/internal/platform/gcp"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
	"github.com/yungbote/storyforge-backend/internal/platform/openai"
	"github.com/yungbote/storyforge-backend/internal/temporalx"
)

type Clients struct {
	Redis    *goredis.Client
	Bucket   *gcp.ImageBucket
	Model    openai.Client
	Temporal temporalsdkclient.Client
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	if cfg.RedisAddr != "" {
		c.Redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("ping redis: %w", err)
		}
	}

	var opts []openai.Option
	if cfg.ImageBucket != "" {
		storageCfg, err := gcp.StorageConfigFromEnv()
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("object storage config: %w", err)
		}
		bucket, err := gcp.NewImageBucket(ctx, log, storageCfg)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init image bucket: %w", err)
		}
		c.Bucket = bucket
		opts = append(opts, openai.WithImageMirror(bucket))
	}

	model, err := openai.NewClient(log, cfg.OpenAI, opts...)
	if err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}
	c.Model = model

	tc, err := temporalx.NewClient(log, cfg.Temporal)
	if err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init temporal client: %w", err)
	}
	c.Temporal = tc
	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Bucket != nil {
		_ = c.Bucket.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
