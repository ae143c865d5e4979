package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/storyforge-backend/internal/data/db"
	"github.com/yungbote/storyforge-backend/internal/http"
	httpH "github.com/yungbote/storyforge-backend/internal/http/handlers"
	"github.com/yungbote/storyforge-backend/internal/observability"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

// Role selects which loops a process runs.
type Role string

const (
	RoleServe  Role = "serve"
	RoleWorker Role = "worker"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	DB       *gorm.DB
	Clients  Clients
	Services Services
	Metrics  *observability.Metrics

	dbService    *db.Service
	otelShutdown func(context.Context) error
}

func New(ctx context.Context, log *logger.Logger) (*App, error) {
	cfg := LoadConfig(log)

	dbs, err := openDB(log, cfg)
	if err != nil {
		return nil, err
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	metrics := observability.Init(log)

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		_ = dbs.Close()
		return nil, err
	}
	services, err := wireServices(dbs.DB(), log, cfg, clients)
	if err != nil {
		clients.Close()
		_ = dbs.Close()
		return nil, err
	}

	return &App{
		Log:          log,
		Cfg:          cfg,
		DB:           dbs.DB(),
		Clients:      clients,
		Services:     services,
		Metrics:      metrics,
		dbService:    dbs,
		otelShutdown: otelShutdown,
	}, nil
}

func openDB(log *logger.Logger, cfg Config) (*db.Service, error) {
	dbs, err := db.Open(log, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := db.AutoMigrateAll(dbs.DB()); err != nil {
		_ = dbs.Close()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return dbs, nil
}

// Migrate applies the schema and exits.
func Migrate(log *logger.Logger) error {
	dbs, err := openDB(log, LoadConfig(log))
	if err != nil {
		return err
	}
	log.Info("Schema migrated")
	return dbs.Close()
}

func (a *App) Router() *http.Server {
	s := a.Services
	return http.NewServer(http.RouterConfig{
		Log:               a.Log,
		Metrics:           a.Metrics,
		CORSOrigins:       a.Cfg.CORSOrigins,
		ServiceName:       a.Cfg.ServiceName,
		ProjectHandler:    httpH.NewProjectHandler(s.Library),
		GenerationHandler: httpH.NewGenerationHandler(a.Log, s.Generation, s.Hub, a.Cfg.EventKeepAlive),
		TextHandler:       httpH.NewTextHandler(s.Candidates),
		ImageHandler:      httpH.NewImageHandler(s.Images),
		HealthHandler:     httpH.NewHealthHandler(a.ping),
	})
}

func (a *App) ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Run blocks until ctx ends or a component fails.
func (a *App) Run(ctx context.Context, role Role) error {
	g, gctx := errgroup.WithContext(ctx)
	s := a.Services

	if s.Relay != nil {
		if err := s.Relay.Start(gctx); err != nil {
			a.Log.Warn("Event relay unavailable; publishing locally", "error", err)
		}
	}
	s.Hub.StartJanitor(gctx, time.Minute)
	a.Metrics.StartDBCollector(gctx, a.Log, a.DB)
	a.Metrics.StartRedisCollector(gctx, a.Log, a.Clients.Redis)

	g.Go(func() error { return s.Pool.Run(gctx) })
	if s.TemporalWorker != nil {
		g.Go(func() error { return s.TemporalWorker.Run(gctx) })
	}
	if role == RoleServe {
		addr := ":" + a.Cfg.Port
		a.Log.Info("HTTP server listening", "addr", addr)
		server := a.Router()
		g.Go(func() error { return server.Run(gctx, addr) })
	}
	return g.Wait()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.otelShutdown != nil {
		if err := a.otelShutdown(shutdownCtx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	a.Clients.Close()
	if a.dbService != nil {
		_ = a.dbService.Close()
	}
	a.Log.Sync()
}
