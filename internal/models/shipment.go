package models

import (
	"encoding/json"
	"time"
)

// Канонические статусы отправления (общие для всех перевозчиков).
const (
	StatusRegistered     = "registered"
	StatusInTransit      = "in_transit"
	StatusOutForDelivery = "out_for_delivery"
	StatusDelivered      = "delivered"
	StatusDelayed        = "delayed"
	StatusException      = "exception"
	StatusCancelled      = "cancelled"
)

// Типы отслеживания: определяют провайдера и fallback-статус.
const (
	TypeContainer = "container"
	TypeBL        = "bl"
	TypeAWB       = "awb"
	TypeParcel    = "parcel"
)

// Канонические типы событий.
const (
	EventRegistered          = "REGISTERED"
	EventGateIn              = "GATE_IN"
	EventGateOut             = "GATE_OUT"
	EventLoadedOnVessel      = "LOADED_ON_VESSEL"
	EventDischargedFromVessel = "DISCHARGED_FROM_VESSEL"
	EventDeparted            = "DEPARTED"
	EventArrived             = "ARRIVED"
	EventOutForDelivery      = "OUT_FOR_DELIVERY"
	EventDelivered           = "DELIVERED"
	EventEmptyReturned       = "EMPTY_RETURNED"
	EventDeleted             = "DELETED"
	EventException           = "EXCEPTION"
	EventDelayed             = "DELAYED"
	EventCancelled           = "CANCELLED"
	EventOther               = "OTHER"
)

// IsTerminal: после delivered/cancelled автоматические обновления замораживаются.
func IsTerminal(status string) bool {
	return status == StatusDelivered || status == StatusCancelled
}

// APIError — последняя ошибка обращения к провайдеру, для диагностики.
type APIError struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
	Type    string    `json:"type,omitempty"`
}

// ShipmentMeta — структурированная замена свободного metadata-блоба.
// ProviderPayload остаётся нетипизированным: это сырой ответ провайдера,
// он хранится только для отладки и никогда не парсится дальше.
type ShipmentMeta struct {
	LastAPIUpdate      *time.Time      `json:"lastApiUpdate,omitempty"`
	LastAPIError       *APIError       `json:"lastApiError,omitempty"`
	ProviderShipmentID string          `json:"providerShipmentId,omitempty"`
	TransitTimeDays    *int            `json:"transitTimeDays,omitempty"`
	AddedBy            string          `json:"addedBy,omitempty"`
	DeletedBy          string          `json:"deletedBy,omitempty"`
	DeletedAt          *time.Time      `json:"deletedAt,omitempty"`
	ReactivatedAt      *time.Time      `json:"reactivatedAt,omitempty"`
	ProviderPayload    json.RawMessage `json:"providerPayload,omitempty"`
}

type Shipment struct {
	ID             string
	OrganizationID string
	TrackingNumber string
	TrackingType   string
	CarrierCode    string
	CarrierName    string

	Status string
	Active bool

	LastEventDate        *time.Time
	LastEventLocation    string
	LastEventDescription string

	ETA *time.Time
	ATA *time.Time

	VesselName   string
	VoyageNumber string

	Meta ShipmentMeta

	NextCheckAt    time.Time
	CheckFailCount int32

	CreatedAt time.Time
	UpdatedAt time.Time
}

type TrackingEvent struct {
	ID         uint64
	ShipmentID string

	EventType string
	EventCode string
	EventDate time.Time

	LocationName string
	LocationCode string
	Description  string

	VesselName   string
	VesselIMO    string
	VoyageNumber string

	DataSource      string
	ConfidenceScore float64

	RawData *string

	CreatedAt time.Time
}

type ShipmentCreateInput struct {
	TrackingNumber string
	TrackingType   string
	CarrierName    string
}
