package provider

import (
	"context"
	"encoding/json"
	"time"
)

// Источники данных событий.
const (
	SourceSystem = "system"
	SourceManual = "manual"
)

// Event — нормализованное событие из ответа провайдера.
type Event struct {
	Type         string
	Code         string
	Date         time.Time
	LocationName string
	LocationCode string
	Description  string
	VesselName   string
	VesselIMO    string
	VoyageNumber string
}

// Result — общий вид ответа любого трекинг-провайдера. Не персистится,
// потребляется один раз за цикл сверки.
type Result struct {
	StatusRaw string
	Events    []Event

	ETA *time.Time
	ATA *time.Time

	LoadingDate   *time.Time
	DischargeDate *time.Time

	VesselName   string
	VoyageNumber string

	ProviderShipmentID string

	// DataSource вида "<provider>_api" / "<provider>_public".
	DataSource string
	// Confidence: 1.0 для авторитетного API, ниже для публичного fallback.
	Confidence float64

	Raw json.RawMessage
}

type Client interface {
	Track(ctx context.Context, trackingNumber string) (Result, error)
}
