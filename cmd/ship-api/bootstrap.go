package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
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
	"github.com/HarborPulse/ShipWatch/internal/services/importer"
	"github.com/HarborPulse/ShipWatch/internal/services/reconcile"
	"github.com/HarborPulse/ShipWatch/internal/services/shipments"
	"github.com/HarborPulse/ShipWatch/internal/status"
	"github.com/HarborPulse/ShipWatch/internal/storage/pgshipments"
	"github.com/HarborPulse/ShipWatch/internal/webhook"
)

type shipAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     shipAPIOpts
	svc      *shipments.Service
	imp      *importer.Importer
	webhooks map[string]*webhook.Handler
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapShipAPI() *shipAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.ShipWatch.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.ShipWatch.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "ship-api"
	}
	topic := cfg.Kafka.ShipmentUpdatedTopicName
	if topic == "" {
		topic = "shipment.updated"
	}

	cacheTTL := time.Duration(cfg.ShipWatch.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	st := mustOpenPostgresWithRetry(postgresConnString(cfg), 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	synth := newSynthesizer(cfg)
	registry := newProviderRegistry(cfg)

	engine := reconcile.NewEngine(st, registry, synth)
	if s := time.Duration(cfg.ShipWatch.StalenessSeconds) * time.Second; s > 0 {
		engine.WithStaleness(s)
	}

	svc := shipments.New(st, engine, rc, cacheTTL, status.ResolveCarrier)

	imp := importer.New(st, synth)
	if p := time.Duration(cfg.ShipWatch.ImportChunkPauseMs) * time.Millisecond; p > 0 {
		imp.WithChunkPause(p)
	}

	webhooks := map[string]*webhook.Handler{
		"shipsgo": webhook.New(st, "shipsgo", cfg.ShipWatch.WebhookSecret),
		"dhl":     webhook.New(st, "dhl", cfg.ShipWatch.WebhookSecret),
		"fedex":   webhook.New(st, "fedex", cfg.ShipWatch.WebhookSecret),
		"ups":     webhook.New(st, "ups", cfg.ShipWatch.WebhookSecret),
	}

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &shipAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: shipAPIOpts{
			httpAddr:      httpAddr,
			topic:         topic,
			consumerGroup: consumerGroup,
			importOpts:    importOptionsFromConfig(cfg),
		},
		svc:      svc,
		imp:      imp,
		webhooks: webhooks,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

func postgresConnString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgshipments.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgshipments.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func newSynthesizer(cfg *config.Config) *events.Synthesizer {
	offset := time.Duration(cfg.ShipWatch.EstimatedDeliveryOffsetDays) * 24 * time.Hour
	return events.NewSynthesizer(offset)
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

func importOptionsFromConfig(cfg *config.Config) importer.Options {
	opts := importer.DefaultOptions()
	if cfg.ShipWatch.ImportChunkSize > 0 {
		opts.BatchSize = cfg.ShipWatch.ImportChunkSize
	}
	return opts
}

func (a *shipAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *shipAPIApp) Run() error {
	return runShipAPI(a.ctx, a.opts, a.svc, a.imp, a.webhooks, a.consumer)
}
