package commands

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/qaflow/ai/provider"
	"github.com/teranos/qaflow/ai/reasoning"
	"github.com/teranos/qaflow/am"
	"github.com/teranos/qaflow/db"
	"github.com/teranos/qaflow/dispatch"
	"github.com/teranos/qaflow/errors"
	"github.com/teranos/qaflow/internal/bus"
	"github.com/teranos/qaflow/jobs"
	"github.com/teranos/qaflow/logger"
	"github.com/teranos/qaflow/pipeline"
	"github.com/teranos/qaflow/pulse/async"
)

// app holds the components shared by the long-running commands
type app struct {
	cfg    *am.Config
	db     *db.DB
	store  *jobs.Store
	reader *jobs.StatusReader
	queue  *async.Queue
	bus    *bus.Client // nil for the pulse backend
	logger *zap.SugaredLogger
}

// openApp loads configuration and opens the migrated database
func openApp(ctx context.Context) (*app, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, err
	}

	database, err := db.Connect(ctx, cfg.Database, logger.ComponentLogger("db"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	store := jobs.NewStore(database.DB, database.Dialect, jobs.WithLogger(logger.ComponentLogger("jobs")))
	return &app{
		cfg:    cfg,
		db:     database,
		store:  store,
		reader: jobs.NewStatusReader(store),
		queue:  async.NewQueue(database.DB, database.Dialect),
		logger: logger.Logger,
	}, nil
}

func (a *app) Close() {
	if a.bus != nil {
		a.bus.Close()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warnw("Failed to close database", "error", err)
	}
}

// connectBus dials NATS once and reuses the connection
func (a *app) connectBus() (*bus.Client, error) {
	if a.bus != nil {
		return a.bus, nil
	}
	client, err := bus.Connect(a.cfg.Dispatch.NATS.URL, logger.ComponentLogger("bus"))
	if err != nil {
		return nil, err
	}
	a.bus = client
	return client, nil
}

// dispatcher builds the admission path for the configured backend
func (a *app) dispatcher() (*dispatch.Dispatcher, error) {
	var trigger dispatch.Trigger
	switch a.cfg.Dispatch.Backend {
	case am.BackendNATS:
		client, err := a.connectBus()
		if err != nil {
			return nil, err
		}
		trigger = dispatch.NewNatsTrigger(client, a.cfg.Dispatch.NATS.Subject)
	default:
		trigger = dispatch.NewPulseTrigger(a.queue)
	}
	return dispatch.NewDispatcher(a.store, trigger, dispatch.WithTTL(a.cfg.Jobs.TTL())), nil
}

// engine builds the pipeline over the configured reasoning provider
func (a *app) engine() (*pipeline.Engine, error) {
	ai, prov, err := provider.NewAIClient(a.cfg, logger.ComponentLogger("ai"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create AI client")
	}
	a.logger.Infow("Reasoning provider ready", logger.FieldProvider, prov)

	routes, err := pipeline.LoadRoutes(a.cfg.Pipeline.RoutesFile)
	if err != nil {
		return nil, err
	}

	reasoner := reasoning.NewLLMClient(ai, a.cfg.Reasoning)
	return pipeline.NewEngine(a.store, reasoner, routes, pipeline.ConfigFromAM(a.cfg.Pipeline)), nil
}

// workerPool creates a pulse pool running qa.pipeline tasks
func (a *app) workerPool(ctx context.Context, engine *pipeline.Engine) *async.WorkerPool {
	pool := async.NewWorkerPool(ctx, a.queue, async.PoolConfigFromAM(a.cfg.Pulse), logger.ComponentLogger("pulse"))
	pool.Registry().Register(dispatch.NewPipelineHandler(engine))
	return pool
}

// subscribeNats consumes invocations published by NatsTrigger
func (a *app) subscribeNats(ctx context.Context, engine *pipeline.Engine) error {
	client, err := a.connectBus()
	if err != nil {
		return err
	}
	nc := a.cfg.Dispatch.NATS
	_, err = client.QueueSubscribeJSON(ctx, nc.Subject, nc.Queue, 0,
		dispatch.MessageHandler(engine, logger.ComponentLogger("worker")))
	if err != nil {
		return err
	}
	a.logger.Infow("Listening for pipeline invocations", "subject", nc.Subject, "queue", nc.Queue)
	return nil
}

// watchRoutes reloads the route table when routes_file changes.
// It returns nil when watching is disabled.
func (a *app) watchRoutes(engine *pipeline.Engine) (*pipeline.RoutesWatcher, error) {
	if !a.cfg.Pipeline.WatchRoutes || a.cfg.Pipeline.RoutesFile == "" {
		return nil, nil
	}
	w, err := pipeline.NewRoutesWatcher(a.cfg.Pipeline.RoutesFile, engine.Routes(), logger.ComponentLogger("routes"))
	if err != nil {
		return nil, err
	}
	w.Start()
	return w, nil
}

// sweep starts the expired-job sweeper when an interval is configured
func (a *app) sweep(ctx context.Context) {
	interval := time.Duration(a.cfg.Jobs.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		return
	}
	go jobs.NewSweeper(a.store, interval, logger.ComponentLogger("sweeper")).Run(ctx)
}
