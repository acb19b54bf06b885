package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	ShipWatch ShipWatchConfig `yaml:"shipwatch"`
	Providers ProvidersConfig `yaml:"providers"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                      string `yaml:"host"`
	Port                      int    `yaml:"port"`
	ShipmentUpdatedTopicName  string `yaml:"shipment_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ShipWatchConfig struct {
	HTTPAddr                string `yaml:"http_addr"`
	KafkaConsumerGroup      string `yaml:"kafka_consumer_group"`
	CurrentStatusTTLSeconds int    `yaml:"current_status_ttl_seconds"`

	WebhookSecret string `yaml:"webhook_secret"`

	StalenessSeconds            int `yaml:"staleness_seconds"`
	EstimatedDeliveryOffsetDays int `yaml:"estimated_delivery_offset_days"`

	ImportChunkSize     int `yaml:"import_chunk_size"`
	ImportChunkPauseMs  int `yaml:"import_chunk_pause_ms"`

	WorkerPollIntervalSeconds int `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int `yaml:"worker_batch_size"`
	WorkerConcurrency         int `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute  int `yaml:"worker_rate_limit_per_minute"`

	// Персональные лимиты на перевозчика, code -> запросов в минуту.
	WorkerCarrierRateLimits map[string]int64 `yaml:"worker_carrier_rate_limits"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	// Worker scheduling (optional). If not set, defaults are prod-like:
	// in_transit: 30..120 minutes, default: 90 minutes, backoff: 5/15/30/60 minutes.
	WorkerNextCheckInTransitMinSeconds int `yaml:"worker_next_check_in_transit_min_seconds"`
	WorkerNextCheckInTransitMaxSeconds int `yaml:"worker_next_check_in_transit_max_seconds"`
	WorkerNextCheckRegisteredSeconds   int `yaml:"worker_next_check_registered_seconds"`
	WorkerNextCheckDefaultSeconds      int `yaml:"worker_next_check_default_seconds"`
	WorkerBackoff1Seconds              int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds              int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds              int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds              int `yaml:"worker_backoff_4_seconds"`
}

type ProvidersConfig struct {
	// "shipsgo" | "fake" — чем трекаем контейнеры/коносаменты и авиа.
	MaritimeProvider string `yaml:"maritime_provider"`
	AirProvider      string `yaml:"air_provider"`

	ShipsgoBaseURL string `yaml:"shipsgo_base_url"`
	ShipsgoAPIKey  string `yaml:"shipsgo_api_key"`

	DHLBaseURL string `yaml:"dhl_base_url"`
	DHLAPIKey  string `yaml:"dhl_api_key"`

	FedexBaseURL      string `yaml:"fedex_base_url"`
	FedexClientID     string `yaml:"fedex_client_id"`
	FedexClientSecret string `yaml:"fedex_client_secret"`

	UPSBaseURL      string `yaml:"ups_base_url"`
	UPSClientID     string `yaml:"ups_client_id"`
	UPSClientSecret string `yaml:"ups_client_secret"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
