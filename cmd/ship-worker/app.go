package main

import (
	"context"
	"fmt"
	"time"

	"github.com/HarborPulse/ShipWatch/config"
	"github.com/HarborPulse/ShipWatch/internal/broker/kafka"
	"github.com/HarborPulse/ShipWatch/internal/cache/rediscache"
	"github.com/HarborPulse/ShipWatch/internal/events"
	"github.com/HarborPulse/ShipWatch/internal/integrations/provider"
	"github.com/HarborPulse/ShipWatch/internal/integrations/provider/dhl"
	"github.com/HarborPulse/ShipWatch/internal/integrations/provider/fake"
	"github.com/HarborPulse/ShipWatch/internal/integrations/provider/fedex"
	"github.com/HarborPulse/ShipWatch/internal/integrations/provider/shipsgo"
	"github.com/HarborPulse/ShipWatch/internal/integrations/provider/ups"
	"github.com/HarborPulse/ShipWatch/internal/models"
	"github.com/HarborPulse/ShipWatch/internal/services/poller"
	"github.com/HarborPulse/ShipWatch/internal/services/reconcile"
	"github.com/HarborPulse/ShipWatch/internal/storage/pgshipments"
)

type workerRepository interface {
	poller.Repository
	reconcile.Repository
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (repo workerRepository, closeFn func(), err error)
	newProducer    func(cfg *config.Config) reconcile.Producer
	newRateLimiter func(cfg *config.Config) poller.RateLimiter
	newRegistry    func(cfg *config.Config) *provider.Registry
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerRepository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgshipments.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) reconcile.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) poller.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newRegistry: newProviderRegistry,
	}
}

// newProviderRegistry подбирает клиента по типу отслеживания и по коду
// перевозчика. Без ключей — локальный fake.
func newProviderRegistry(cfg *config.Config) *provider.Registry {
	reg := provider.NewRegistry()

	var maritime provider.Client = fake.New()
	var air provider.Client = fake.New()
	if cfg.Providers.MaritimeProvider == "shipsgo" && cfg.Providers.ShipsgoAPIKey != "" {
		maritime = shipsgo.New(cfg.Providers.ShipsgoBaseURL, cfg.Providers.ShipsgoAPIKey, shipsgo.ModeMaritime)
	}
	if cfg.Providers.AirProvider == "shipsgo" && cfg.Providers.ShipsgoAPIKey != "" {
		air = shipsgo.New(cfg.Providers.ShipsgoBaseURL, cfg.Providers.ShipsgoAPIKey, shipsgo.ModeAir)
	}

	reg.RegisterType(models.TypeContainer, maritime)
	reg.RegisterType(models.TypeBL, maritime)
	reg.RegisterType(models.TypeAWB, air)
	reg.RegisterType(models.TypeParcel, fake.New())

	if cfg.Providers.DHLAPIKey != "" {
		reg.RegisterCarrier("DHL", dhl.New(cfg.Providers.DHLBaseURL, cfg.Providers.DHLAPIKey))
	}
	if cfg.Providers.FedexClientID != "" {
		reg.RegisterCarrier("FEDEX", fedex.New(cfg.Providers.FedexBaseURL, cfg.Providers.FedexClientID, cfg.Providers.FedexClientSecret))
	}
	if cfg.Providers.UPSClientID != "" {
		reg.RegisterCarrier("UPS", ups.New(cfg.Providers.UPSBaseURL, cfg.Providers.UPSClientID, cfg.Providers.UPSClientSecret))
	}

	return reg
}

func plannerConfigFromConfig(cfg *config.Config) poller.PlannerConfig {
	return poller.PlannerConfig{
		InTransitMinDelay: time.Duration(cfg.ShipWatch.WorkerNextCheckInTransitMinSeconds) * time.Second,
		InTransitMaxDelay: time.Duration(cfg.ShipWatch.WorkerNextCheckInTransitMaxSeconds) * time.Second,
		RegisteredDelay:   time.Duration(cfg.ShipWatch.WorkerNextCheckRegisteredSeconds) * time.Second,
		DefaultDelay:      time.Duration(cfg.ShipWatch.WorkerNextCheckDefaultSeconds) * time.Second,
		Backoff1:          time.Duration(cfg.ShipWatch.WorkerBackoff1Seconds) * time.Second,
		Backoff2:          time.Duration(cfg.ShipWatch.WorkerBackoff2Seconds) * time.Second,
		Backoff3:          time.Duration(cfg.ShipWatch.WorkerBackoff3Seconds) * time.Second,
		Backoff4:          time.Duration(cfg.ShipWatch.WorkerBackoff4Seconds) * time.Second,
	}
}

func buildPoller(cfg *config.Config, f workerFactories) (*poller.Poller, func(), error) {
	topic := cfg.Kafka.ShipmentUpdatedTopicName
	if topic == "" {
		topic = "shipment.updated"
	}

	pollInterval := time.Duration(cfg.ShipWatch.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	batchSize := cfg.ShipWatch.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.ShipWatch.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	lease := time.Duration(cfg.ShipWatch.WorkerLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 120 * time.Second
	}
	rlPerMin := int64(cfg.ShipWatch.WorkerRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 120
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return nil, nil, err
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)
	registry := f.newRegistry(cfg)

	offset := time.Duration(cfg.ShipWatch.EstimatedDeliveryOffsetDays) * 24 * time.Hour
	synth := events.NewSynthesizer(offset)

	engine := reconcile.NewEngine(repo, registry, synth).
		WithProducer(producer, topic)
	if s := time.Duration(cfg.ShipWatch.StalenessSeconds) * time.Second; s > 0 {
		engine.WithStaleness(s)
	}

	p := poller.New(repo, engine, rl).
		WithSettings(pollInterval, batchSize, concurrency, lease, rlPerMin).
		WithPlanner(plannerConfigFromConfig(cfg)).
		WithCarrierRateLimits(cfg.ShipWatch.WorkerCarrierRateLimits)

	return p, closeFn, nil
}

func RunShipWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	p, closeFn, err := buildPoller(cfg, f)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return p.Run(ctx)
}
