package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/storyforge-backend/internal/data/repos"
	"github.com/yungbote/storyforge-backend/internal/jobs/runlock"
	"github.com/yungbote/storyforge-backend/internal/jobs/worker"
	"github.com/yungbote/storyforge-backend/internal/modules/candidates"
	"github.com/yungbote/storyforge-backend/internal/modules/generation"
	"github.com/yungbote/storyforge-backend/internal/modules/images"
	"github.com/yungbote/storyforge-backend/internal/modules/library"
	"github.com/yungbote/storyforge-backend/internal/modules/prompts"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
	"github.com/yungbote/storyforge-backend/internal/realtime"
	"github.com/yungbote/storyforge-backend/internal/realtime/bus"
	"github.com/yungbote/storyforge-backend/internal/temporalx"
	"github.com/yungbote/storyforge-backend/internal/temporalx/temporalworker"
)

type Services struct {
	Hub    *realtime.Hub
	Relay  *bus.Relay
	Events realtime.Publisher

	Library    library.Usecases
	Generation *generation.Service
	Controller *generation.Controller
	Candidates *candidates.Service
	Images     *images.Service

	Pool           *worker.Pool
	TemporalWorker *temporalworker.Runner
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, clients Clients) (Services, error) {
	log.Info("Wiring services...")
	r := repos.New(db, log)
	p := prompts.Load(log)

	s := Services{Hub: realtime.NewHub(log, cfg.Hub)}
	s.Events = s.Hub
	var locker runlock.Locker = runlock.NewLocal()
	if clients.Redis != nil {
		b, err := bus.NewRedisBus(log, clients.Redis, cfg.RedisChannel)
		if err != nil {
			return Services{}, err
		}
		s.Relay = bus.NewRelay(log, b, s.Hub)
		s.Events = s.Relay
		locker = runlock.NewRedis(log, clients.Redis, cfg.RunLockTTL)
	}

	runs := generation.NewRunRegistry()
	s.Controller = generation.NewController(log, r, clients.Model, s.Events, p, cfg.ImageModels, runs, generation.ControllerConfig{
		DefaultImageSize: cfg.OpenAI.ImageSize,
		HeartbeatEvery:   cfg.HeartbeatEvery,
	})

	var dispatcher generation.Dispatcher
	if clients.Temporal != nil {
		dispatcher = temporalx.NewDispatcher(log, clients.Temporal, cfg.Temporal)
		tw, err := temporalworker.NewRunner(log, clients.Temporal, cfg.Temporal, r.Tasks, s.Controller)
		if err != nil {
			return Services{}, err
		}
		s.TemporalWorker = tw
	}
	s.Generation = generation.NewService(log, r, s.Events, locker, nil, runs, cfg.ImageModels)
	s.Pool = worker.NewPool(log, r.Tasks, s.Controller, s.Generation, cfg.Worker)
	if dispatcher == nil {
		dispatcher = s.Pool
	}
	s.Generation.SetDispatcher(dispatcher)

	s.Library = library.New(library.UsecasesDeps{Log: log, Projects: r.Projects, Packages: r.Packages, Images: r.Images})
	s.Candidates = candidates.NewService(log, r.Packages, clients.Model, p)
	s.Images = images.NewService(log, r.Packages, r.Images, clients.Model, p)
	return s, nil
}
