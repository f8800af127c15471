package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"meridian/internal/es"
	esmetrics "meridian/internal/es/metrics"
	"meridian/internal/es/projection"
	"meridian/internal/eventlog"
	eventlogmemory "meridian/internal/eventlog/memory"
	eventlogpostgres "meridian/internal/eventlog/postgres"
	"meridian/internal/eventlog/relay"
	httpapi "meridian/internal/http"
	"meridian/internal/message/adapter"
	messagemetrics "meridian/internal/message/metrics"
	messagemodels "meridian/internal/message/models"
	messageservice "meridian/internal/message/service"
	"meridian/internal/platform/config"
	"meridian/internal/platform/httpserver"
	"meridian/internal/platform/logger"
	"meridian/internal/platform/metrics"
	"meridian/internal/platform/postgres"
	platformredis "meridian/internal/platform/redis"
	templatemodels "meridian/internal/template/models"
	templateservice "meridian/internal/template/service"
)

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal services.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	// Event log: postgres when a DSN is set, in-process memory otherwise.
	var eventLog eventlog.Client
	pool, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		store, err := eventlogpostgres.New(pool, eventlogpostgres.WithPollInterval(cfg.Postgres.PollInterval))
		if err != nil {
			return err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		eventLog = store
		log.Info("event log backend", "kind", "postgres")
	} else {
		eventLog = eventlogmemory.NewLog()
		log.Info("event log backend", "kind", "memory")
	}

	snapshots := eventlog.NewLastEventSnapshotter(eventLog)
	esMetrics := esmetrics.New()

	// Projection caches: redis when configured, otherwise per-process maps.
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	newCache := func(prefix string) (projection.Cache, error) {
		if redisClient == nil {
			return projection.NewMemoryCache(), nil
		}
		return projection.NewRedisCache(redisClient.Client, prefix)
	}

	// Message module.
	messageRepo, err := es.NewRepository[messagemodels.Message](
		messagemodels.Category, eventLog, snapshots,
		es.WithLogger[messagemodels.Message](log),
		es.WithMetrics[messagemodels.Message](esMetrics),
		es.WithService[messagemodels.Message]("meridian"),
	)
	if err != nil {
		return err
	}
	messageCache, err := newCache("meridian:projection:message")
	if err != nil {
		return err
	}
	messageProjection, err := projection.NewStore[messagemodels.Message](
		messagemodels.Category, messageCache,
		projection.WithStoreLogger[messagemodels.Message](log),
	)
	if err != nil {
		return err
	}
	messageManager, err := projection.NewManager(messageProjection, eventLog,
		projection.WithManagerLogger(log),
		projection.WithManagerMetrics(esMetrics),
		projection.WithRestartBackoff(cfg.Projection.RestartBackoff),
	)
	if err != nil {
		return err
	}
	adapters, err := adapter.NewRegistry(
		adapter.NewNoop("noop", log, "email", "sms", "push"),
	)
	if err != nil {
		return err
	}
	messageSvc, err := messageservice.New(messageRepo, messageProjection,
		messageservice.WithLogger(log),
		messageservice.WithMetrics(messagemetrics.New()),
		messageservice.WithAdapters(adapters),
		messageservice.WithMaxRetries(cfg.Message.MaxRetries),
	)
	if err != nil {
		return err
	}
	dispatcher, err := messageservice.NewDispatcher(messageSvc, cfg.Tenants,
		messageservice.WithDispatcherLogger(log),
		messageservice.WithDispatchInterval(cfg.Message.DispatchInterval),
		messageservice.WithDispatchBatch(cfg.Message.DispatchBatch),
	)
	if err != nil {
		return err
	}

	// Template module.
	templateRepo, err := es.NewRepository[templatemodels.Template](
		templatemodels.Category, eventLog, snapshots,
		es.WithLogger[templatemodels.Template](log),
		es.WithMetrics[templatemodels.Template](esMetrics),
		es.WithService[templatemodels.Template]("meridian"),
	)
	if err != nil {
		return err
	}
	templateCache, err := newCache("meridian:projection:template")
	if err != nil {
		return err
	}
	templateProjection, err := projection.NewStore[templatemodels.Template](
		templatemodels.Category, templateCache,
		projection.WithStoreLogger[templatemodels.Template](log),
	)
	if err != nil {
		return err
	}
	templateManager, err := projection.NewManager(templateProjection, eventLog,
		projection.WithManagerLogger(log),
		projection.WithManagerMetrics(esMetrics),
		projection.WithRestartBackoff(cfg.Projection.RestartBackoff),
	)
	if err != nil {
		return err
	}
	templateSvc, err := templateservice.New(templateRepo, templateProjection,
		templateservice.WithLogger(log),
	)
	if err != nil {
		return err
	}
	if cfg.SeedTemplates {
		if err := templateSvc.SeedDefaults(ctx, cfg.Tenants); err != nil {
			return err
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return messageManager.Run(groupCtx) })
	group.Go(func() error { return templateManager.Run(groupCtx) })
	group.Go(func() error { return dispatcher.Run(groupCtx) })

	// Kafka relay, only when brokers are configured.
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.Kafka.Brokers...),
			kgo.AllowAutoTopicCreation(),
		)
		if err != nil {
			return err
		}
		defer producer.Close()

		relayOpts := []relay.Option{relay.WithLogger(log)}
		if cfg.Kafka.Topic != "" {
			relayOpts = append(relayOpts, relay.WithTopic(cfg.Kafka.Topic))
		}
		messageRelay, err := relay.New(eventLog, producer, messagemodels.Category, relayOpts...)
		if err != nil {
			return err
		}
		group.Go(func() error { return messageRelay.Run(groupCtx) })
		log.Info("event relay enabled", "brokers", cfg.Kafka.Brokers, "topic", messageRelay.Topic())
	}

	router := httpapi.NewRouter(metrics.New(), map[string]httpapi.HealthChecker{
		"messages":  messageManager,
		"templates": templateManager,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	group.Go(func() error {
		log.Info("starting meridian", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return httpserver.Shutdown(srv, 10*time.Second)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
